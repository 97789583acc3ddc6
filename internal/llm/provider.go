package llm

import (
	"context"
	"fmt"
	"time"
)

const (
	ProviderGemini = "gemini"
	ProviderOpenAI = "openai"
)

// Options selects and configures a backend. The API key is passed separately
// because users can change it while the server runs.
type Options struct {
	Provider    string
	APIURL      string
	Model       string
	Timeout     time.Duration
	MaxTokens   int
	Temperature float64
}

// Factory builds a Provider for the given API key.
type Factory func(ctx context.Context, apiKey string) (Provider, error)

func NewFactory(opts Options) Factory {
	return func(ctx context.Context, apiKey string) (Provider, error) {
		return New(ctx, opts, apiKey)
	}
}

func New(ctx context.Context, opts Options, apiKey string) (Provider, error) {
	if apiKey == "" {
		return nil, ErrMissingAPIKey
	}
	switch opts.Provider {
	case ProviderGemini, "":
		return NewGeminiProvider(ctx, apiKey, opts.Model, opts.MaxTokens)
	case ProviderOpenAI:
		return NewChatGPTClient(apiKey, opts.APIURL, opts.Model, opts.Timeout, opts.MaxTokens, opts.Temperature), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownProvider, opts.Provider)
	}
}
