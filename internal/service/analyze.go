package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/xiaot623/dataquery/internal/adapter/llm"
	"github.com/xiaot623/dataquery/internal/agent"
	"github.com/xiaot623/dataquery/internal/domain"
	"github.com/xiaot623/dataquery/internal/policy"
	"github.com/xiaot623/dataquery/internal/table"
)

// combinedName is the name the one-shot flow binds the merged table to.
const combinedName = "df"

// Analyze answers one question about the uploads with a chart and returns
// it base64-encoded. Uploaded files are removed before returning.
//
// With usePandasAgent the question goes to a memoryless agent and a text
// answer is an error. Otherwise the model writes matplotlib code which is
// executed when the execution policy allows it.
func (s *Service) Analyze(ctx context.Context, files []domain.UploadedFile, question, credential string, usePandasAgent bool) (string, error) {
	mapping, err := s.files.Save(files, nil)
	defer s.files.Cleanup(mapping.Paths())
	if err != nil {
		return "", err
	}

	tables := s.loader.Load(ctx, mapping)
	if len(tables) == 0 {
		return "", domain.ErrNoValidData
	}
	// Tables are joined by row position only; rows are not aligned on any key.
	df := table.ConcatColumns(combinedName, tables...)
	df.Normalize()

	client, err := s.newClient(credential)
	if err != nil {
		return "", err
	}

	mode := domain.AnalyzeModeCodegen
	if usePandasAgent {
		mode = domain.AnalyzeModeAgent
	}
	log.Info().Str("mode", string(mode)).Int("tables", len(tables)).Int("rows", df.NumRows()).Msg("one-shot analysis")

	if usePandasAgent {
		return s.analyzeWithAgent(ctx, client, df, question)
	}
	return s.analyzeWithCode(ctx, client, df, question)
}

func (s *Service) analyzeWithAgent(ctx context.Context, client llm.LLMClient, df *table.Table, question string) (string, error) {
	a, err := agent.New(client, []*table.Table{df}, s.agentOptions(0))
	if err != nil {
		return "", domain.Wrap(domain.ErrAgentInvocation, err)
	}
	answer, err := a.Chat(ctx, question)
	if err != nil {
		return "", domain.Wrap(domain.ErrAgentInvocation, err)
	}
	if answer.Kind != agent.AnswerFigure {
		return "", domain.Wrap(domain.ErrAgentInvocation, errors.New("agent did not return a chart"))
	}
	encoded, err := s.render(ctx, answer.Figure)
	if err != nil {
		return "", domain.Wrap(domain.ErrAgentInvocation, err)
	}
	return encoded, nil
}

func (s *Service) analyzeWithCode(ctx context.Context, client llm.LLMClient, df *table.Table, question string) (string, error) {
	temperature := s.config.LLM.Temperature
	code, err := agent.NewCodeGenerator(client, s.config.LLM.Model, &temperature).Generate(ctx, df, question)
	if err != nil {
		return "", err
	}

	if err := s.checkExecPolicy(ctx, code); err != nil {
		return "", err
	}
	if s.executor == nil {
		return "", domain.Wrap(domain.ErrExecution, errors.New("no executor configured"))
	}

	if err := s.heavy.Acquire(ctx, 1); err != nil {
		return "", domain.Wrap(domain.ErrExecution, fmt.Errorf("failed to acquire worker: %w", err))
	}
	res, err := s.executor.Run(ctx, code, df)
	s.heavy.Release(1)
	if err != nil {
		return "", err
	}
	if res.Output != "" {
		log.Debug().Str("output", res.Output).Msg("generated code output")
	}

	encoded, err := s.render(ctx, res)
	if err != nil {
		return "", domain.Wrap(domain.ErrExecution, err)
	}
	return encoded, nil
}

func (s *Service) checkExecPolicy(ctx context.Context, code string) error {
	if s.policyEngine == nil {
		return domain.Wrap(domain.ErrExecution, errors.New("code execution is disabled"))
	}
	allowed, reason, err := s.policyEngine.Allowed(ctx, policy.Input{
		ExecEnabled: s.config.Exec.Enabled,
		Language:    "python",
		Mode:        string(domain.AnalyzeModeCodegen),
		CodeBytes:   len(code),
	})
	if err != nil {
		return domain.Wrap(domain.ErrExecution, err)
	}
	if !allowed {
		log.Warn().Str("reason", reason).Int("code_bytes", len(code)).Msg("code execution blocked by policy")
		if reason == "" {
			reason = "set exec.enabled to allow it"
		}
		return domain.Wrap(domain.ErrExecution, fmt.Errorf("code execution blocked by policy: %s", reason))
	}
	return nil
}
