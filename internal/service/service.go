// Package service implements the analysis use cases behind the HTTP and CLI surfaces.
package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"

	"github.com/xiaot623/dataquery/internal/adapter/llm"
	"github.com/xiaot623/dataquery/internal/adapter/pyexec"
	"github.com/xiaot623/dataquery/internal/agent"
	"github.com/xiaot623/dataquery/internal/config"
	"github.com/xiaot623/dataquery/internal/filestore"
	"github.com/xiaot623/dataquery/internal/loader"
	"github.com/xiaot623/dataquery/internal/policy"
	"github.com/xiaot623/dataquery/internal/render"
	"github.com/xiaot623/dataquery/internal/repository"
	"github.com/xiaot623/dataquery/internal/session"
)

// ClientFactory builds an LLM client for a caller-supplied credential.
type ClientFactory func(credential string) (llm.LLMClient, error)

type Service struct {
	store        repository.Store
	files        *filestore.Store
	loader       *loader.Loader
	sessions     *session.Registry
	executor     *pyexec.Executor
	policyEngine *policy.Engine
	config       *config.Config
	newClient    ClientFactory
	heavy        *semaphore.Weighted
}

func New(store repository.Store, files *filestore.Store, sessions *session.Registry, executor *pyexec.Executor, policyEngine *policy.Engine, cfg *config.Config) *Service {
	workers := cfg.Workers
	if workers < 1 {
		workers = 1
	}
	s := &Service{
		store:        store,
		files:        files,
		loader:       loader.New(workers),
		sessions:     sessions,
		executor:     executor,
		policyEngine: policyEngine,
		config:       cfg,
		heavy:        semaphore.NewWeighted(int64(workers)),
	}
	s.newClient = s.defaultClient
	return s
}

// SetClientFactory replaces how LLM clients are built.
func (s *Service) SetClientFactory(f ClientFactory) {
	s.newClient = f
}

// Sessions exposes the live session registry.
func (s *Service) Sessions() *session.Registry {
	return s.sessions
}

func (s *Service) defaultClient(credential string) (llm.LLMClient, error) {
	key := credential
	if key == "" {
		key = s.config.LLM.APIKey
	}
	return llm.NewClient(llm.Options{
		Provider:   s.config.LLM.Provider,
		Mode:       s.config.Mode,
		BaseURL:    s.config.LLM.BaseURL,
		APIKey:     key,
		OllamaHost: s.config.LLM.OllamaHost,
		Timeout:    s.config.LLM.Timeout,
	})
}

func (s *Service) agentOptions(memory int) agent.Options {
	temperature := s.config.LLM.Temperature
	return agent.Options{
		Model:       s.config.LLM.Model,
		Temperature: &temperature,
		MemorySize:  memory,
		PromptRows:  s.config.Agent.PromptRows,
	}
}

// render draws v while holding a worker slot.
func (s *Service) render(ctx context.Context, v any) (string, error) {
	if err := s.heavy.Acquire(ctx, 1); err != nil {
		if c, ok := v.(interface{ Close() error }); ok {
			_ = c.Close()
		}
		return "", fmt.Errorf("failed to acquire worker: %w", err)
	}
	defer s.heavy.Release(1)

	encoded, err := render.ToImage(v)
	if err != nil {
		return "", err
	}
	log.Debug().Int("bytes", len(encoded)).Msg("chart rendered")
	return encoded, nil
}
