package service

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/xiaot623/dataquery/internal/agent"
	"github.com/xiaot623/dataquery/internal/domain"
	"github.com/xiaot623/dataquery/internal/session"
)

// StartAnalysis stores and loads the uploads, creates a session-bound agent
// and returns the session id with a preview of every table. Stored files
// are kept for the life of the session.
func (s *Service) StartAnalysis(ctx context.Context, files []domain.UploadedFile, names []string, credential string) (*domain.StartAnalysisResponse, error) {
	mapping, err := s.files.Save(files, names)
	if err != nil {
		return nil, domain.Wrap(domain.ErrInitialization, err)
	}

	tables := s.loader.Load(ctx, mapping)
	if len(tables) == 0 {
		return nil, domain.Wrap(domain.ErrInitialization, domain.ErrNoValidData)
	}
	tableNames := make([]string, len(tables))
	for i, t := range tables {
		t.Normalize()
		tableNames[i] = t.Name
	}

	client, err := s.newClient(credential)
	if err != nil {
		return nil, domain.Wrap(domain.ErrInitialization, err)
	}
	a, err := agent.New(client, tables, s.agentOptions(s.config.Agent.MemorySize))
	if err != nil {
		return nil, domain.Wrap(domain.ErrInitialization, err)
	}

	sess := &session.Session{
		Mapping:    mapping,
		TableNames: tableNames,
		Agent:      a,
		Credential: credential,
	}
	id := s.sessions.Create(sess)

	record := &domain.SessionRecord{SessionID: id, TableNames: tableNames, CreatedAt: sess.CreatedAt}
	if err := s.store.CreateSession(ctx, record); err != nil {
		log.Warn().Str("session_id", id).Err(err).Msg("failed to log session")
	}

	resp := &domain.StartAnalysisResponse{
		SessionID:  id,
		DataFrames: make(map[string]domain.Preview, len(tables)),
	}
	for _, t := range tables {
		resp.DataFrames[t.Name] = t.Preview(s.config.Agent.PreviewRows)
	}

	log.Info().Str("session_id", id).Strs("tables", tableNames).Int("files", len(files)).Int("active_sessions", s.sessions.Len()).Msg("analysis session started")
	return resp, nil
}

// Query asks the session's agent a question and returns text or a chart.
func (s *Service) Query(ctx context.Context, sessionID, question string) (*domain.ChartResult, error) {
	sess, ok := s.sessions.Get(sessionID)
	if !ok {
		return nil, domain.ErrSessionNotFound
	}
	s.logMessage(ctx, sessionID, domain.MessageRoleUser, domain.ResultKindText, question)

	var result *domain.ChartResult
	answer, err := sess.Agent.ChatThen(ctx, question, func(answer agent.Answer) error {
		if answer.Kind != agent.AnswerFigure {
			result = domain.TextResult(answer.Text)
			return nil
		}
		encoded, err := s.render(ctx, answer.Figure)
		if err != nil {
			return err
		}
		result = domain.ChartDataResult(encoded)
		return nil
	})
	if err != nil {
		log.Error().Str("session_id", sessionID).Err(err).Msg("query failed")
		return nil, domain.Wrap(domain.ErrAgentInvocation, err)
	}

	if answer.Kind == agent.AnswerFigure {
		s.logMessage(ctx, sessionID, domain.MessageRoleAssistant, domain.ResultKindChart, answer.Describe())
	} else {
		s.logMessage(ctx, sessionID, domain.MessageRoleAssistant, domain.ResultKindText, answer.Text)
	}
	return result, nil
}

// RunSessionEvictor drops idle sessions until ctx is done.
func (s *Service) RunSessionEvictor(ctx context.Context) {
	s.sessions.RunEvictor(ctx, s.config.Session.SweepInterval, func(sess *session.Session) {
		s.onEvict(ctx, sess)
	})
}

func (s *Service) onEvict(ctx context.Context, sess *session.Session) {
	if s.config.Uploads.CleanupOnEvict {
		s.files.Cleanup(sess.Mapping.Paths())
	}
	if err := s.store.DeleteSession(ctx, sess.ID); err != nil {
		log.Warn().Str("session_id", sess.ID).Err(err).Msg("failed to delete session log")
	}
	log.Debug().Str("session_id", sess.ID).Int("active_sessions", s.sessions.Len()).Msg("session resources released")
}
