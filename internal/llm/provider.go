// Package llm abstracts the language model providers backing inference tasks.
package llm

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

// ErrProviderUnavailable is returned when the upstream provider cannot be
// reached or rejects the request.
var ErrProviderUnavailable = errors.New("llm provider unavailable")

// ErrNotConfigured is returned from FromConfig when no provider API key is set.
var ErrNotConfigured = errors.New("no llm provider configured")

// Default models per provider. Small, fast models suit the structured
// extraction tasks here.
const (
	modelGeminiFlash = "gemini-2.0-flash"
	modelGPT4oMini   = "gpt-4o-mini"
	modelClaudeHaiku = "claude-3-5-haiku-latest"
)

// Request is a single completion call.
type Request struct {
	System      string
	User        string
	MaxTokens   int
	Temperature float64
}

// Completion is a provider response.
type Completion struct {
	Content      string
	Model        string
	InputTokens  int
	OutputTokens int
	FinishReason string
}

// Provider generates completions. Implementations are safe for concurrent use.
type Provider interface {
	Complete(ctx context.Context, req Request) (*Completion, error)
	Name() string
	Model() string
}

// Config carries the provider API keys. At most one provider is selected.
type Config struct {
	GeminiAPIKey    string
	OpenAIAPIKey    string
	AnthropicAPIKey string
}

// FromConfig selects a provider at startup. Preference order is Gemini,
// OpenAI, Anthropic; the first configured key wins. Returns ErrNotConfigured
// when no key is set so the caller can disable inference explicitly.
func FromConfig(cfg Config) (Provider, error) {
	switch {
	case cfg.GeminiAPIKey != "":
		p, err := NewGoogleProvider(cfg.GeminiAPIKey, modelGeminiFlash)
		if err != nil {
			return nil, err
		}
		log.Info().Str("provider", p.Name()).Str("model", p.Model()).Msg("llm provider selected")
		return p, nil
	case cfg.OpenAIAPIKey != "":
		p, err := NewOpenAIProvider(cfg.OpenAIAPIKey, modelGPT4oMini)
		if err != nil {
			return nil, err
		}
		log.Info().Str("provider", p.Name()).Str("model", p.Model()).Msg("llm provider selected")
		return p, nil
	case cfg.AnthropicAPIKey != "":
		p, err := NewAnthropicProvider(cfg.AnthropicAPIKey, modelClaudeHaiku)
		if err != nil {
			return nil, err
		}
		log.Info().Str("provider", p.Name()).Str("model", p.Model()).Msg("llm provider selected")
		return p, nil
	default:
		return nil, ErrNotConfigured
	}
}
