// Package llm is a minimal client for the reasoning service: one prompt in,
// one text completion out. It speaks the Anthropic Messages API.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const (
	DefaultBaseURL   = "https://api.anthropic.com"
	DefaultModel     = "claude-3-7-sonnet-20250219"
	DefaultMaxTokens = 4000
	apiVersion       = "2023-06-01"
)

// Request is a single-shot completion request.
type Request struct {
	System      string
	Prompt      string
	Model       string
	MaxTokens   int
	Temperature *float64
}

// Completer is the reasoning-service contract the pipeline consumes.
type Completer interface {
	Complete(ctx context.Context, request Request) (string, error)
}

// ProviderError is returned when the API responds with a non-200 status.
type ProviderError struct {
	StatusCode int
	Type       string
	Message    string
}

func (err *ProviderError) Error() string {
	if err.Type != "" {
		return fmt.Sprintf("llm: HTTP %d: %s: %s", err.StatusCode, err.Type, err.Message)
	}
	return fmt.Sprintf("llm: HTTP %d: %s", err.StatusCode, err.Message)
}

// IsRateLimited returns true for HTTP 429.
func (err *ProviderError) IsRateLimited() bool { return err.StatusCode == http.StatusTooManyRequests }

// Options configures an Anthropic client.
type Options struct {
	APIKey      string
	BaseURL     string
	Model       string
	MaxTokens   int
	Temperature float64
	Timeout     time.Duration
	HTTPClient  *http.Client
}

// Anthropic implements Completer.
type Anthropic struct {
	opts       Options
	httpClient *http.Client
}

func NewAnthropic(opts Options) (*Anthropic, error) {
	if strings.TrimSpace(opts.APIKey) == "" {
		return nil, fmt.Errorf("anthropic api key is empty")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultBaseURL
	}
	if opts.Model == "" {
		opts.Model = DefaultModel
	}
	if opts.MaxTokens <= 0 {
		opts.MaxTokens = DefaultMaxTokens
	}
	client := opts.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: opts.Timeout}
	}
	return &Anthropic{opts: opts, httpClient: client}, nil
}

type wireMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type wireRequest struct {
	Model       string        `json:"model"`
	MaxTokens   int           `json:"max_tokens"`
	System      string        `json:"system,omitempty"`
	Temperature *float64      `json:"temperature,omitempty"`
	Messages    []wireMessage `json:"messages"`
}

type wireResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

// Complete sends the request and returns the concatenated text blocks of
// the response. Zero-valued request fields take the client defaults.
func (a *Anthropic) Complete(ctx context.Context, request Request) (string, error) {
	wire := wireRequest{
		Model:       request.Model,
		MaxTokens:   request.MaxTokens,
		System:      request.System,
		Temperature: request.Temperature,
		Messages:    []wireMessage{{Role: "user", Content: request.Prompt}},
	}
	if wire.Model == "" {
		wire.Model = a.opts.Model
	}
	if wire.MaxTokens <= 0 {
		wire.MaxTokens = a.opts.MaxTokens
	}
	if wire.Temperature == nil {
		temperature := a.opts.Temperature
		wire.Temperature = &temperature
	}

	body, err := json.Marshal(wire)
	if err != nil {
		return "", fmt.Errorf("llm/anthropic: marshaling request: %w", err)
	}

	endpoint := strings.TrimRight(a.opts.BaseURL, "/") + "/v1/messages"
	httpRequest, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("llm/anthropic: creating request: %w", err)
	}
	httpRequest.Header.Set("Content-Type", "application/json")
	httpRequest.Header.Set("x-api-key", a.opts.APIKey)
	httpRequest.Header.Set("anthropic-version", apiVersion)

	httpResponse, err := a.httpClient.Do(httpRequest)
	if err != nil {
		return "", fmt.Errorf("llm/anthropic: sending request: %w", err)
	}
	defer httpResponse.Body.Close()

	if httpResponse.StatusCode != http.StatusOK {
		return "", readProviderError(httpResponse)
	}

	var resp wireResponse
	if err := json.NewDecoder(httpResponse.Body).Decode(&resp); err != nil {
		return "", fmt.Errorf("llm/anthropic: decoding response: %w", err)
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String(), nil
}

// readProviderError parses {"error":{"type":"...","message":"..."}}.
func readProviderError(httpResponse *http.Response) error {
	body, _ := io.ReadAll(io.LimitReader(httpResponse.Body, 4096))

	var wireError struct {
		Error struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if json.Unmarshal(body, &wireError) == nil && wireError.Error.Message != "" {
		return &ProviderError{
			StatusCode: httpResponse.StatusCode,
			Type:       wireError.Error.Type,
			Message:    wireError.Error.Message,
		}
	}
	return &ProviderError{StatusCode: httpResponse.StatusCode, Message: string(body)}
}
