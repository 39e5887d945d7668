package activities

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/inglespareto/credits/pkg/credits"
)

const (
	defaultOpenAIBaseURL = "https://api.openai.com/v1"
	defaultOpenAITimeout = 20 * time.Second
	maxErrorBodyBytes    = 4096
)

// OpenAIConfig configures OpenAIChatProvider. Any OpenAI-compatible endpoint works.
type OpenAIConfig struct {
	APIKey      string
	BaseURL     string
	Model       string
	Temperature float64
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// OpenAIChatProvider calls /chat/completions.
type OpenAIChatProvider struct {
	apiKey      string
	baseURL     string
	model       string
	temperature float64
	httpClient  *http.Client
}

type completionRequest struct {
	Model       string        `json:"model"`
	Messages    []ChatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	Stream      bool          `json:"stream"`
}

type completionResponse struct {
	Model   string `json:"model"`
	Choices []struct {
		Message ChatMessage `json:"message"`
	} `json:"choices"`
}

type completionError struct {
	Error struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error"`
}

// NewOpenAIChatProvider validates cfg and builds a provider.
func NewOpenAIChatProvider(cfg OpenAIConfig) (*OpenAIChatProvider, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("%w: openai api key required", ErrMissingDependency)
	}
	if strings.TrimSpace(cfg.Model) == "" {
		return nil, fmt.Errorf("%w: openai model required", ErrMissingDependency)
	}
	baseURL := strings.TrimSuffix(strings.TrimSpace(cfg.BaseURL), "/")
	if baseURL == "" {
		baseURL = defaultOpenAIBaseURL
	}
	httpClient := cfg.HTTPClient
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultOpenAITimeout
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	return &OpenAIChatProvider{
		apiKey:      cfg.APIKey,
		baseURL:     baseURL,
		model:       cfg.Model,
		temperature: cfg.Temperature,
		httpClient:  httpClient,
	}, nil
}

// Complete sends the conversation. Client errors (4xx other than 429) are permanent so
// the credit service does not retry them.
func (provider *OpenAIChatProvider) Complete(ctx context.Context, messages []ChatMessage) (ChatReply, error) {
	if len(messages) == 0 {
		return ChatReply{}, credits.Permanent(fmt.Errorf("%w: no messages", ErrInvalidRequest))
	}
	body, err := json.Marshal(completionRequest{
		Model:       provider.model,
		Messages:    messages,
		Temperature: provider.temperature,
	})
	if err != nil {
		return ChatReply{}, credits.Permanent(fmt.Errorf("openai: marshal request: %w", err))
	}
	request, err := http.NewRequestWithContext(ctx, http.MethodPost, provider.baseURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return ChatReply{}, credits.Permanent(fmt.Errorf("openai: create request: %w", err))
	}
	request.Header.Set("Content-Type", "application/json")
	request.Header.Set("Authorization", "Bearer "+provider.apiKey)

	response, err := provider.httpClient.Do(request)
	if err != nil {
		return ChatReply{}, fmt.Errorf("%w: openai: send request: %w", ErrProviderFailure, err)
	}
	defer response.Body.Close()

	if response.StatusCode != http.StatusOK {
		raw, _ := io.ReadAll(io.LimitReader(response.Body, maxErrorBodyBytes))
		failure := fmt.Errorf("%w: openai: http %d: %s", ErrProviderFailure, response.StatusCode, errorMessage(raw))
		if response.StatusCode >= 400 && response.StatusCode < 500 && response.StatusCode != http.StatusTooManyRequests {
			return ChatReply{}, credits.Permanent(failure)
		}
		return ChatReply{}, failure
	}

	var completion completionResponse
	if err := json.NewDecoder(response.Body).Decode(&completion); err != nil {
		return ChatReply{}, fmt.Errorf("%w: openai: decode response: %w", ErrProviderFailure, err)
	}
	if len(completion.Choices) == 0 {
		return ChatReply{}, fmt.Errorf("%w: openai: no choices", ErrProviderFailure)
	}
	model := completion.Model
	if model == "" {
		model = provider.model
	}
	return ChatReply{Content: strings.TrimSpace(completion.Choices[0].Message.Content), Model: model}, nil
}

func errorMessage(raw []byte) string {
	var payload completionError
	if err := json.Unmarshal(raw, &payload); err == nil && payload.Error.Message != "" {
		return payload.Error.Message
	}
	if len(raw) == 0 {
		return "empty body"
	}
	return string(raw)
}
