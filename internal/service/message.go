package service

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/xiaot623/dataquery/internal/domain"
)

func (s *Service) GetMessages(ctx context.Context, sessionID string, limit int, before string) ([]domain.Message, error) {
	record, err := s.store.GetSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get session: %w", err)
	}
	if record == nil {
		return nil, domain.ErrSessionNotFound
	}
	messages, err := s.store.GetMessages(ctx, sessionID, limit, before)
	if err != nil {
		return nil, fmt.Errorf("failed to get messages: %w", err)
	}
	return messages, nil
}

// logMessage appends to the conversation log. Failures are only logged.
func (s *Service) logMessage(ctx context.Context, sessionID string, role domain.MessageRole, kind domain.ResultKind, content string) {
	msg := &domain.Message{
		MessageID: "msg_" + uuid.New().String()[:8],
		SessionID: sessionID,
		Role:      role,
		Kind:      kind,
		Content:   content,
		CreatedAt: time.Now(),
	}
	if err := s.store.CreateMessage(ctx, msg); err != nil {
		log.Warn().Str("session_id", sessionID).Str("role", string(role)).Err(err).Msg("failed to log message")
	}
}
