package repository

import (
	"context"
	"testing"
	"time"

	"github.com/xiaot623/dataquery/internal/domain"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	return store
}

func TestSQLiteStoreSessionAndMessages(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	session := &domain.SessionRecord{
		SessionID:  "s1",
		TableNames: []string{"sales", "costs"},
		CreatedAt:  time.Now(),
	}
	if err := store.CreateSession(ctx, session); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}

	gotSession, err := store.GetSession(ctx, "s1")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if gotSession == nil || len(gotSession.TableNames) != 2 || gotSession.TableNames[1] != "costs" {
		t.Fatalf("unexpected session: %+v", gotSession)
	}

	base := time.Now()
	for i, m := range []struct {
		id   string
		role domain.MessageRole
		kind domain.ResultKind
	}{
		{"m1", domain.MessageRoleUser, domain.ResultKindText},
		{"m2", domain.MessageRoleAssistant, domain.ResultKindChart},
		{"m3", domain.MessageRoleUser, domain.ResultKindText},
	} {
		msg := &domain.Message{
			MessageID: m.id,
			SessionID: "s1",
			Role:      m.role,
			Kind:      m.kind,
			Content:   "content " + m.id,
			CreatedAt: base.Add(time.Duration(i) * time.Millisecond),
		}
		if err := store.CreateMessage(ctx, msg); err != nil {
			t.Fatalf("CreateMessage failed: %v", err)
		}
	}

	messages, err := store.GetMessages(ctx, "s1", 10, "")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 3 {
		t.Fatalf("expected 3 messages, got %d", len(messages))
	}
	if messages[1].Kind != domain.ResultKindChart || messages[1].Role != domain.MessageRoleAssistant {
		t.Fatalf("unexpected message: %+v", messages[1])
	}

	limited, err := store.GetMessages(ctx, "s1", 1, "")
	if err != nil {
		t.Fatalf("GetMessages with limit failed: %v", err)
	}
	if len(limited) != 1 || limited[0].MessageID != "m1" {
		t.Fatalf("unexpected limited messages: %+v", limited)
	}

	before, err := store.GetMessages(ctx, "s1", 0, "m3")
	if err != nil {
		t.Fatalf("GetMessages with before failed: %v", err)
	}
	if len(before) != 2 || before[1].MessageID != "m2" {
		t.Fatalf("unexpected messages before m3: %+v", before)
	}
}

func TestSQLiteStoreMissingSession(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	got, err := store.GetSession(context.Background(), "nope")
	if err != nil {
		t.Fatalf("GetSession failed: %v", err)
	}
	if got != nil {
		t.Fatalf("expected nil session, got %+v", got)
	}
}

func TestSQLiteStoreDeleteSessionCascades(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	defer store.Close()

	if err := store.CreateSession(ctx, &domain.SessionRecord{SessionID: "s1", CreatedAt: time.Now()}); err != nil {
		t.Fatalf("CreateSession failed: %v", err)
	}
	msg := &domain.Message{MessageID: "m1", SessionID: "s1", Role: domain.MessageRoleUser, Kind: domain.ResultKindText, Content: "hi", CreatedAt: time.Now()}
	if err := store.CreateMessage(ctx, msg); err != nil {
		t.Fatalf("CreateMessage failed: %v", err)
	}

	if err := store.DeleteSession(ctx, "s1"); err != nil {
		t.Fatalf("DeleteSession failed: %v", err)
	}
	messages, err := store.GetMessages(ctx, "s1", 0, "")
	if err != nil {
		t.Fatalf("GetMessages failed: %v", err)
	}
	if len(messages) != 0 {
		t.Fatalf("expected messages to be deleted, got %d", len(messages))
	}
}

func TestSQLiteStoreMessageRequiresSession(t *testing.T) {
	store := newTestStore(t)
	defer store.Close()

	msg := &domain.Message{MessageID: "m1", SessionID: "ghost", Role: domain.MessageRoleUser, Kind: domain.ResultKindText, Content: "hi", CreatedAt: time.Now()}
	if err := store.CreateMessage(context.Background(), msg); err == nil {
		t.Fatal("expected foreign key violation")
	}
}
