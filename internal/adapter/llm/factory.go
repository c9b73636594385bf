package llm

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	// EnvMode is the environment variable name for mode selection.
	EnvMode = "DATAQUERY_MODE"
	// ModeMock indicates mock mode should be used.
	ModeMock = "MOCK"
)

// Providers understood by NewClient.
const (
	ProviderOpenAI = "openai"
	ProviderOllama = "ollama"
	ProviderMock   = "mock"
)

// Options selects and configures a backend.
type Options struct {
	Provider   string
	Mode       string
	BaseURL    string
	APIKey     string
	OllamaHost string
	Timeout    time.Duration
}

// NewClient creates an LLM client. DATAQUERY_MODE=MOCK, a MOCK mode option or
// the mock provider yield a MockClient; otherwise the provider decides.
func NewClient(opts Options) (LLMClient, error) {
	if os.Getenv(EnvMode) == ModeMock || strings.EqualFold(opts.Mode, ModeMock) {
		log.Debug().Msg("mock mode detected, using mock LLM client")
		return NewMockClient(), nil
	}

	switch strings.ToLower(opts.Provider) {
	case "", ProviderOpenAI:
		if opts.APIKey == "" {
			return nil, fmt.Errorf("an API key is required for provider %q", ProviderOpenAI)
		}
		return NewOpenAIClient(opts.BaseURL, opts.APIKey, opts.Timeout), nil
	case ProviderOllama:
		return NewOllamaClient(opts.OllamaHost, opts.Timeout)
	case ProviderMock:
		return NewMockClient(), nil
	default:
		return nil, fmt.Errorf("unknown llm provider %q", opts.Provider)
	}
}
