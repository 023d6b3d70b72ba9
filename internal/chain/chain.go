// Package chain forwards governance actions to an external chain endpoint.
// Submission is optional and its outcome never gates the simulation.
package chain

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Submission is one contract call.
type Submission struct {
	Method string         `json:"method"`
	Params map[string]any `json:"params"`
}

// Submitter sends a submission and returns the resulting transaction hash.
type Submitter interface {
	Submit(ctx context.Context, sub Submission) (string, error)
}

var ErrRejected = errors.New("chain rejected submission")

type HTTPSubmitterConfig struct {
	URL        string
	Timeout    time.Duration
	Retries    int
	HTTPClient *http.Client
}

// HTTPSubmitter posts submissions as JSON-RPC requests.
type HTTPSubmitter struct {
	url     string
	client  *http.Client
	timeout time.Duration
	retries int
}

func NewHTTPSubmitter(cfg HTTPSubmitterConfig) (*HTTPSubmitter, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("chain rpc url required")
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 10 * time.Second}
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	retries := cfg.Retries
	if retries < 0 {
		retries = 0
	}
	return &HTTPSubmitter{
		url:     strings.TrimSuffix(cfg.URL, "/"),
		client:  client,
		timeout: timeout,
		retries: retries,
	}, nil
}

type rpcRequest struct {
	JSONRPC string         `json:"jsonrpc"`
	ID      string         `json:"id"`
	Method  string         `json:"method"`
	Params  map[string]any `json:"params"`
}

type rpcResponse struct {
	Result string `json:"result"`
	Error  *struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
	} `json:"error"`
}

func (c *HTTPSubmitter) Submit(ctx context.Context, sub Submission) (string, error) {
	if sub.Method == "" {
		return "", fmt.Errorf("chain submission method required")
	}
	body, err := json.Marshal(rpcRequest{
		JSONRPC: "2.0",
		ID:      uuid.New().String(),
		Method:  sub.Method,
		Params:  sub.Params,
	})
	if err != nil {
		return "", fmt.Errorf("chain marshal request: %w", err)
	}

	attempts := c.retries + 1
	var lastErr error
	for i := 0; i < attempts; i++ {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		reqCtx, cancel := context.WithTimeout(ctx, c.timeout)
		req, err := http.NewRequestWithContext(reqCtx, http.MethodPost, c.url, bytes.NewReader(body))
		if err != nil {
			cancel()
			return "", fmt.Errorf("chain build request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		resp, err := c.client.Do(req)
		if err != nil {
			cancel()
			lastErr = err
		} else {
			hash, parseErr := decodeResponse(resp)
			resp.Body.Close()
			cancel()
			if parseErr == nil {
				return hash, nil
			}
			if errors.Is(parseErr, ErrRejected) {
				return "", parseErr
			}
			lastErr = parseErr
		}
		if i < attempts-1 {
			time.Sleep(time.Duration(i+1) * 100 * time.Millisecond)
		}
	}
	return "", fmt.Errorf("chain submit failed: %w", lastErr)
}

func decodeResponse(resp *http.Response) (string, error) {
	if resp.StatusCode >= 500 {
		return "", fmt.Errorf("chain unavailable: %s", resp.Status)
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("%w: %s", ErrRejected, resp.Status)
	}
	var out rpcResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("chain decode response: %w", err)
	}
	if out.Error != nil {
		return "", fmt.Errorf("%w: %d %s", ErrRejected, out.Error.Code, out.Error.Message)
	}
	if out.Result == "" {
		return "", fmt.Errorf("chain response missing tx hash")
	}
	return out.Result, nil
}
