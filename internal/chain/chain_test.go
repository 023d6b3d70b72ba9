package chain_test

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ILLUVRSE/agentdao/internal/chain"
)

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) {
	return f(r)
}

func TestHTTPSubmitterSendsRPCRequest(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			JSONRPC string         `json:"jsonrpc"`
			ID      string         `json:"id"`
			Method  string         `json:"method"`
			Params  map[string]any `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Fatalf("decode request: %v", err)
		}
		if req.Method != "dao_submitProposal" || req.Params["proposalId"] != "prop-1" {
			t.Fatalf("unexpected request %+v", req)
		}
		if req.ID == "" || req.JSONRPC != "2.0" {
			t.Fatalf("missing rpc envelope: %+v", req)
		}
		_ = json.NewEncoder(w).Encode(map[string]string{"result": "0xfeedbeef"})
	}))
	defer srv.Close()

	sub, err := chain.NewHTTPSubmitter(chain.HTTPSubmitterConfig{URL: srv.URL})
	require.NoError(t, err)

	hash, err := sub.Submit(context.Background(), chain.Submission{
		Method: "dao_submitProposal",
		Params: map[string]any{"proposalId": "prop-1"},
	})
	require.NoError(t, err)
	assert.Equal(t, "0xfeedbeef", hash)
}

func TestHTTPSubmitterRetriesServerErrors(t *testing.T) {
	var calls int32
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			return &http.Response{StatusCode: http.StatusBadGateway, Status: "502 Bad Gateway", Body: io.NopCloser(bytes.NewReader(nil)), Header: make(http.Header)}, nil
		}
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewReader([]byte(`{"result":"0x01020304"}`))),
			Header:     make(http.Header),
		}, nil
	})

	sub, err := chain.NewHTTPSubmitter(chain.HTTPSubmitterConfig{
		URL:        "http://chain",
		Timeout:    time.Second,
		Retries:    1,
		HTTPClient: &http.Client{Transport: transport},
	})
	require.NoError(t, err)

	hash, err := sub.Submit(context.Background(), chain.Submission{Method: "dao_vote"})
	require.NoError(t, err)
	assert.Equal(t, "0x01020304", hash)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestHTTPSubmitterDoesNotRetryRejections(t *testing.T) {
	var calls int32
	transport := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		atomic.AddInt32(&calls, 1)
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(bytes.NewReader([]byte(`{"error":{"code":-32000,"message":"execution reverted"}}`))),
			Header:     make(http.Header),
		}, nil
	})

	sub, err := chain.NewHTTPSubmitter(chain.HTTPSubmitterConfig{
		URL:        "http://chain",
		Retries:    3,
		HTTPClient: &http.Client{Transport: transport},
	})
	require.NoError(t, err)

	_, err = sub.Submit(context.Background(), chain.Submission{Method: "dao_vote"})
	require.Error(t, err)
	assert.True(t, errors.Is(err, chain.ErrRejected))
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestNewHTTPSubmitterRequiresURL(t *testing.T) {
	_, err := chain.NewHTTPSubmitter(chain.HTTPSubmitterConfig{})
	assert.Error(t, err)
}
