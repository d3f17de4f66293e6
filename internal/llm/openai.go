package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog/log"
)

const defaultOpenAIBaseURL = "https://api.openai.com/v1"

// OpenAIProvider calls the OpenAI chat completions API.
type OpenAIProvider struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
}

// NewOpenAIProvider constructs an OpenAI-backed provider.
func NewOpenAIProvider(apiKey, model string) (*OpenAIProvider, error) {
	apiKey = strings.TrimSpace(apiKey)
	if apiKey == "" {
		return nil, fmt.Errorf("openai api key required")
	}
	return &OpenAIProvider{
		apiKey:     apiKey,
		model:      model,
		baseURL:    defaultOpenAIBaseURL,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}, nil
}

func (p *OpenAIProvider) Name() string  { return "openai" }
func (p *OpenAIProvider) Model() string { return p.model }

// Complete generates a completion via /chat/completions.
func (p *OpenAIProvider) Complete(ctx context.Context, req Request) (*Completion, error) {
	body := openaiChatRequest{
		Model: p.model,
		Messages: []openaiMessage{
			{Role: "system", Content: req.System},
			{Role: "user", Content: req.User},
		},
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	headers := map[string]string{"Authorization": "Bearer " + p.apiKey}
	var resp openaiChatResponse
	if err := doJSON(ctx, p.httpClient, p.baseURL+"/chat/completions", headers, body, &resp); err != nil {
		log.Warn().Err(err).Str("provider", p.Name()).Msg("completion request failed")
		return nil, fmt.Errorf("%w: %v", ErrProviderUnavailable, err)
	}
	if len(resp.Choices) == 0 {
		return nil, fmt.Errorf("%w: empty response", ErrProviderUnavailable)
	}

	choice := resp.Choices[0]
	finish := choice.FinishReason
	if finish == "" {
		finish = "stop"
	}
	model := resp.Model
	if model == "" {
		model = p.model
	}
	return &Completion{
		Content:      choice.Message.Content,
		Model:        model,
		InputTokens:  resp.Usage.PromptTokens,
		OutputTokens: resp.Usage.CompletionTokens,
		FinishReason: finish,
	}, nil
}

type openaiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openaiChatRequest struct {
	Model       string          `json:"model"`
	Messages    []openaiMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float64         `json:"temperature,omitempty"`
}

type openaiChatResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message      openaiMessage `json:"message"`
		FinishReason string        `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
	} `json:"usage"`
}
