// Package session keeps live analysis sessions in memory.
package session

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/xiaot623/dataquery/internal/agent"
	"github.com/xiaot623/dataquery/internal/domain"
)

// Session binds uploaded tables to the agent that answers questions about them.
type Session struct {
	ID         string
	Mapping    domain.TableMapping
	TableNames []string
	Agent      *agent.DataFrameAgent
	Credential string
	CreatedAt  time.Time
	LastUsed   time.Time
}

// Registry is a concurrency-safe session map with idle expiry.
type Registry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time
}

// NewRegistry creates a Registry. A ttl <= 0 disables eviction.
func NewRegistry(ttl time.Duration) *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Create assigns s a fresh UUID, stores it and returns the id.
func (r *Registry) Create(s *Session) string {
	now := r.now()
	s.ID = uuid.New().String()
	s.CreatedAt = now
	s.LastUsed = now

	r.mu.Lock()
	r.sessions[s.ID] = s
	r.mu.Unlock()
	return s.ID
}

// Get returns the session and marks it used.
func (r *Registry) Get(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	if ok {
		s.LastUsed = r.now()
	}
	return s, ok
}

// Exists reports whether id is registered without touching it.
func (r *Registry) Exists(id string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.sessions[id]
	return ok
}

// Delete removes a session and returns it.
func (r *Registry) Delete(id string) (*Session, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	return s, ok
}

// Len returns the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// EvictIdle removes and returns sessions idle for longer than the TTL.
func (r *Registry) EvictIdle(now time.Time) []*Session {
	if r.ttl <= 0 {
		return nil
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	var evicted []*Session
	for id, s := range r.sessions {
		if now.Sub(s.LastUsed) > r.ttl {
			delete(r.sessions, id)
			evicted = append(evicted, s)
		}
	}
	return evicted
}

// RunEvictor sweeps idle sessions every interval until ctx is done. onEvict,
// if set, is called for each evicted session outside the lock.
func (r *Registry) RunEvictor(ctx context.Context, interval time.Duration, onEvict func(*Session)) {
	if r.ttl <= 0 || interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, s := range r.EvictIdle(r.now()) {
				log.Info().Str("session_id", s.ID).Time("last_used", s.LastUsed).Msg("session evicted")
				if onEvict != nil {
					onEvict(s)
				}
			}
		}
	}
}
