package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultAnthropicBaseURL = "https://api.anthropic.com/v1"

// AnthropicProvider calls the Anthropic messages API.
type AnthropicProvider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewAnthropicProvider constructs an Anthropic-backed provider.
func NewAnthropicProvider(apiKey, model string) (*AnthropicProvider, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic api key required")
	}
	return &AnthropicProvider{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultAnthropicBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (p *AnthropicProvider) Name() string  { return "anthropic" }
func (p *AnthropicProvider) Model() string { return p.model }

// Complete generates a completion via /messages. The system prompt goes in
// the top-level system field, not the message list.
func (p *AnthropicProvider) Complete(ctx context.Context, req Request) (*Completion, error) {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = 1024
	}
	body := anthropicMessagesRequest{
		Model:       p.model,
		System:      req.System,
		MaxTokens:   maxTokens,
		Temperature: req.Temperature,
		Messages: []anthropicMessage{
			{Role: "user", Content: req.User},
		},
	}

	headers := map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": "2023-06-01",
	}
	var resp anthropicMessagesResponse
	if err := doJSON(ctx, p.httpClient, p.baseURL+"/messages", headers, body, &resp); err != nil {
		log.Warn().Err(err).Str("provider", p.Name()).Msg("completion request failed")
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if len(resp.Content) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrProviderUnavailable)
	}

	finish := resp.StopReason
	if finish == "" || finish == "end_turn" {
		finish = "stop"
	}
	model := resp.Model
	if model == "" {
		model = p.model
	}
	return &Completion{
		Content:      resp.Content[0].Text,
		Model:        model,
		InputTokens:  resp.Usage.InputTokens,
		OutputTokens: resp.Usage.OutputTokens,
		FinishReason: finish,
	}, nil
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicMessagesRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature float64            `json:"temperature,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
}

type anthropicMessagesResponse struct {
	Model   string `json:"model"`
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
	Usage      struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}
