// Package analysis asks an external chat-completions model for an agent's
// take on a prompt. It is advisory only; deliberation votes never consult it.
package analysis

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/ILLUVRSE/agentdao/internal/models"
)

const (
	DefaultModel = "mistral-small-latest"

	temperature = 0.7
	maxTokens   = 300
	maxPrompt   = 8000
)

var (
	ErrEmptyPrompt = errors.New("prompt required")
	// ErrUpstream marks a non-retryable refusal from the model endpoint.
	ErrUpstream = errors.New("analysis endpoint rejected request")
)

// Request is one analysis call.
type Request struct {
	Prompt string `json:"prompt"`
	Model  string `json:"model,omitempty"`
}

// Analyzer returns the model's answer for agent.
type Analyzer interface {
	Analyze(ctx context.Context, agent models.Agent, req Request) (string, error)
}

type ClientConfig struct {
	URL        string
	APIKey     string
	Model      string
	Timeout    time.Duration
	Retries    int
	HTTPClient *http.Client
}

// Client posts chat-completions requests.
type Client struct {
	url     string
	apiKey  string
	model   string
	client  *http.Client
	timeout time.Duration
	retries int
}

func NewClient(cfg ClientConfig) (*Client, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("analysis url required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	model := cfg.Model
	if model == "" {
		model = DefaultModel
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return &Client{
		url:     strings.TrimSuffix(cfg.URL, "/"),
		apiKey:  cfg.APIKey,
		model:   model,
		client:  client,
		timeout: timeout,
		retries: retries,
	}, nil
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type completionRequest struct {
	Model       string    `json:"model"`
	Messages    []message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type completionResponse struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
}

// SystemPrompt frames the model as agent.
func SystemPrompt(agent models.Agent) string {
	var b strings.Builder
	b.WriteString("You are an intelligent AI agent in a decentralized autonomous organization (DAO). ")
	b.WriteString("Analyze proposals objectively, provide insights, and give clear, concise recommendations.")
	if agent.Name != "" {
		fmt.Fprintf(&b, " You are %s: %s", agent.Name, agent.Description)
		if len(agent.Values) > 0 {
			fmt.Fprintf(&b, " You value %s.", strings.Join(agent.Values, ", "))
		}
	}
	return b.String()
}

func (c *Client) Analyze(ctx context.Context, agent models.Agent, req Request) (string, error) {
	prompt := strings.TrimSpace(req.Prompt)
	if prompt == "" {
		return "", ErrEmptyPrompt
	}
	if len(prompt) > maxPrompt {
		prompt = prompt[:maxPrompt]
	}
	model := req.Model
	if model == "" {
		model = c.model
	}
	body, err := json.Marshal(completionRequest{
		Model: model,
		Messages: []message{
			{Role: "system", Content: SystemPrompt(agent)},
			{Role: "user", Content: prompt},
		},
		Temperature: temperature,
		MaxTokens:   maxTokens,
	})
	if err != nil {
		return "", fmt.Errorf("analysis marshal request: %w", err)
	}

	attempts := c.retries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		httpReq, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			cancel()
			return "", fmt.Errorf("analysis build request: %w", err)
		}
		httpReq.Header.Set("Content-Type", "application/json")
		if c.apiKey != "" {
			httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
		}
		resp, err := c.client.Do(httpReq)
		if err != nil {
			cancel()
			lastErr = err
		} else {
			answer, parseErr := decodeCompletion(resp)
			resp.Body.Close()
			cancel()
			if parseErr == nil {
				return answer, nil
			}
			if errors.Is(parseErr, ErrUpstream) {
				return "", parseErr
			}
			lastErr = parseErr
		}
		if i < attempts-1 {
			time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
		}
	}
	return "", fmt.Errorf("analysis failed: %w", lastErr)
}

func decodeCompletion(resp *http.Response) (string, error) {
	if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
		return "", fmt.Errorf("analysis unavailable: %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s", ErrUpstream, resp.Status)
	}
	var out completionResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("analysis decode response: %w", err)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%w: no choices", ErrUpstream)
	}
	return out.Choices[0].Message.Content, nil
}
