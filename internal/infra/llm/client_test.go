package llm

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/tastedeck/internal/domain/apperrors"
)

var testMessages = []Message{
	{Role: "system", Content: "contract"},
	{Role: "user", Content: "suggest"},
}

func TestComplete_OpenAI(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))

		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req openAIRequest
		require.NoError(t, json.Unmarshal(body, &req))
		assert.Equal(t, "gpt-test", req.Model)
		assert.InDelta(t, 0.7, req.Temperature, 1e-9)
		assert.Equal(t, 600, req.MaxTokens)
		assert.Len(t, req.Messages, 2)

		_, _ = w.Write([]byte(`{"choices": [{"message": {"role": "assistant", "content": "Songs:\n1. Blue - Joe"}}]}`))
	}))
	defer server.Close()

	client, err := New(Config{Flavor: FlavorOpenAI, BaseURL: server.URL + "/", APIKey: "sk-test", Model: "gpt-test", Temperature: 0.7})
	require.NoError(t, err)

	reply, err := client.Complete(context.Background(), testMessages)
	require.NoError(t, err)
	assert.Equal(t, "Songs:\n1. Blue - Joe", reply)
}

func TestComplete_Ollama(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		assert.Empty(t, r.Header.Get("Authorization"))

		var req ollamaRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.False(t, req.Stream)
		assert.Equal(t, 300, req.Options.NumPredict)

		_, _ = w.Write([]byte(`{"message": {"role": "assistant", "content": "Artists:\n1. Joe Band"}}`))
	}))
	defer server.Close()

	client, err := New(Config{Flavor: FlavorOllama, BaseURL: server.URL, Model: "llama3", MaxTokens: 300})
	require.NoError(t, err)

	reply, err := client.Complete(context.Background(), testMessages)
	require.NoError(t, err)
	assert.Equal(t, "Artists:\n1. Joe Band", reply)
}

func TestComplete_Errors(t *testing.T) {
	tests := []struct {
		name         string
		status       int
		body         string
		wantUpstream bool
		wantMalform  bool
	}{
		{name: "server error", status: http.StatusServiceUnavailable, body: `{}`, wantUpstream: true},
		{name: "rate limited", status: http.StatusTooManyRequests, body: `{}`, wantUpstream: true},
		{name: "bad request", status: http.StatusBadRequest, body: `{"error": {"message": "bad"}}`},
		{name: "api error body", status: http.StatusOK, body: `{"error": {"message": "quota"}}`},
		{name: "empty reply", status: http.StatusOK, body: `{"choices": [{"message": {"content": "  "}}]}`, wantMalform: true},
		{name: "no choices", status: http.StatusOK, body: `{"choices": []}`, wantMalform: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client, err := New(Config{Flavor: FlavorOpenAI, BaseURL: server.URL, APIKey: "k", Model: "m"})
			require.NoError(t, err)

			_, err = client.Complete(context.Background(), testMessages)
			require.Error(t, err)
			assert.Equal(t, tt.wantUpstream, apperrors.IsUpstream(err))
			assert.Equal(t, tt.wantMalform, errorsIsMalformed(err))
		})
	}
}

func errorsIsMalformed(err error) bool {
	return errors.Is(err, apperrors.ErrMalformedModelOutput)
}

func TestComplete_BreakerOpens(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := New(Config{
		Flavor:          FlavorOllama,
		BaseURL:         server.URL,
		Model:           "m",
		BreakerFailures: 2,
		BreakerTimeout:  time.Hour,
	})
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := client.Complete(context.Background(), testMessages)
		require.Error(t, err)
	}
	assert.Equal(t, "open", client.State())

	_, err = client.Complete(context.Background(), testMessages)
	require.Error(t, err)
	assert.True(t, apperrors.IsUpstream(err))
	assert.Equal(t, int32(2), calls.Load(), "open breaker short-circuits the call")
}

func TestComplete_ClientErrorsDoNotTrip(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client, err := New(Config{Flavor: FlavorOllama, BaseURL: server.URL, Model: "m", BreakerFailures: 1})
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		_, _ = client.Complete(context.Background(), testMessages)
	}
	assert.Equal(t, "closed", client.State())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(Config{Flavor: "bogus", Model: "m"})
	assert.Error(t, err)
	_, err = New(Config{Flavor: FlavorOpenAI, Model: "m"})
	assert.Error(t, err, "openai requires an api key")
	_, err = New(Config{Flavor: FlavorOllama})
	assert.Error(t, err, "model is required")
}
