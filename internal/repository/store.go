// Package repository persists the conversation log of analysis sessions.
package repository

import (
	"context"

	"github.com/xiaot623/dataquery/internal/domain"
)

// Store defines the interface for data persistence.
type Store interface {
	// Session operations
	CreateSession(ctx context.Context, session *domain.SessionRecord) error
	GetSession(ctx context.Context, sessionID string) (*domain.SessionRecord, error)
	DeleteSession(ctx context.Context, sessionID string) error

	// Message operations
	CreateMessage(ctx context.Context, message *domain.Message) error
	GetMessages(ctx context.Context, sessionID string, limit int, before string) ([]domain.Message, error)

	Close() error
}

var _ Store = (*SQLiteStore)(nil)
