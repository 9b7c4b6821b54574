// Package llm provides a chat-completion client for OpenAI-compatible and
// Ollama endpoints.
package llm

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"
	zlog "github.com/rs/zerolog/log"
	"github.com/sony/gobreaker/v2"

	"github.com/osa030/tastedeck/internal/domain/apperrors"
	"github.com/osa030/tastedeck/internal/infra/metrics"
)

// Flavor selects the wire format.
type Flavor string

const (
	FlavorOpenAI Flavor = "openai"
	FlavorOllama Flavor = "ollama"
)

const (
	defaultOpenAIURL = "https://api.openai.com"
	defaultOllamaURL = "http://localhost:11434"
	maxResponseBytes = 1 << 20
)

// Message is one chat message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config represents chat client configuration.
type Config struct {
	Flavor      Flavor
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration

	// Consecutive failures that open the breaker, and how long it stays open.
	BreakerFailures uint32
	BreakerTimeout  time.Duration
}

// Client sends chat completions through a circuit breaker.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *gobreaker.CircuitBreaker[string]
}

// New creates a chat client.
func New(cfg Config) (*Client, error) {
	switch cfg.Flavor {
	case FlavorOpenAI:
		if cfg.BaseURL == "" {
			cfg.BaseURL = defaultOpenAIURL
		}
		if cfg.APIKey == "" {
			return nil, errors.New("api key is required for openai flavor")
		}
	case FlavorOllama:
		if cfg.BaseURL == "" {
			cfg.BaseURL = defaultOllamaURL
		}
	default:
		return nil, errors.Newf("unknown llm flavor %q", cfg.Flavor)
	}
	if cfg.Model == "" {
		return nil, errors.New("model is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxTokens <= 0 {
		cfg.MaxTokens = 600
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 60 * time.Second
	}
	if cfg.BreakerFailures == 0 {
		cfg.BreakerFailures = 5
	}
	if cfg.BreakerTimeout <= 0 {
		cfg.BreakerTimeout = 30 * time.Second
	}

	name := "llm-" + string(cfg.Flavor)
	breaker := gobreaker.NewCircuitBreaker[string](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			// Only upstream outages count against the breaker.
			return err == nil || !apperrors.IsUpstream(err)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			zlog.Warn().Msgf("circuit breaker %s: %s -> %s", name, from, to)
			metrics.BreakerState.WithLabelValues(name).Set(float64(to))
		},
	})

	return &Client{
		cfg:        cfg,
		httpClient: &http.Client{Timeout: cfg.Timeout},
		breaker:    breaker,
	}, nil
}

// Complete sends messages and returns the assistant reply text.
func (c *Client) Complete(ctx context.Context, messages []Message) (string, error) {
	reply, err := c.breaker.Execute(func() (string, error) {
		return c.do(ctx, messages)
	})
	if err != nil {
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			metrics.RecordUpstream("llm", "chat", "error")
			return "", apperrors.Upstream(errors.Wrap(err, "language model unavailable"))
		}
		return "", err
	}
	return reply, nil
}

// State returns the breaker state name.
func (c *Client) State() string {
	return c.breaker.State().String()
}

type openAIRequest struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Temperature float64   `json:"temperature"`
	MaxTokens   int       `json:"max_tokens"`
}

type openAIResponse struct {
	Choices []struct {
		Message Message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

type ollamaRequest struct {
	Model    string        `json:"model"`
	Messages []Message     `json:"messages"`
	Stream   bool          `json:"stream"`
	Options  ollamaOptions `json:"options"`
}

type ollamaOptions struct {
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
}

type ollamaResponse struct {
	Message Message `json:"message"`
	Error   string  `json:"error,omitempty"`
}

func (c *Client) do(ctx context.Context, messages []Message) (string, error) {
	var (
		path    string
		payload any
	)
	switch c.cfg.Flavor {
	case FlavorOllama:
		path = "/api/chat"
		payload = ollamaRequest{
			Model:    c.cfg.Model,
			Messages: messages,
			Options:  ollamaOptions{Temperature: c.cfg.Temperature, NumPredict: c.cfg.MaxTokens},
		}
	default:
		path = "/v1/chat/completions"
		payload = openAIRequest{
			Model:       c.cfg.Model,
			Messages:    messages,
			Temperature: c.cfg.Temperature,
			MaxTokens:   c.cfg.MaxTokens,
		}
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", errors.Wrap(err, "failed to marshal request")
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "failed to create request")
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordUpstream("llm", "chat", "error")
		return "", apperrors.Upstream(errors.Wrap(err, "failed to send request"))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		metrics.RecordUpstream("llm", "chat", "error")
		return "", apperrors.Upstream(errors.Wrap(err, "failed to read response body"))
	}

	if resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= http.StatusInternalServerError {
		metrics.RecordUpstream("llm", "chat", "error")
		return "", apperrors.Upstream(errors.Newf("language model HTTP %d: %s", resp.StatusCode, snippet(data)))
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		metrics.RecordUpstream("llm", "chat", "rejected")
		return "", errors.Newf("language model HTTP %d: %s", resp.StatusCode, snippet(data))
	}

	content, err := c.decode(data)
	if err != nil {
		metrics.RecordUpstream("llm", "chat", "rejected")
		return "", err
	}
	metrics.RecordUpstream("llm", "chat", "ok")
	return content, nil
}

func (c *Client) decode(data []byte) (string, error) {
	var content string
	switch c.cfg.Flavor {
	case FlavorOllama:
		var parsed ollamaResponse
		if err := json.Unmarshal(data, &parsed); err != nil {
			return "", errors.Wrap(err, "failed to parse response")
		}
		if parsed.Error != "" {
			return "", errors.Newf("language model error: %s", parsed.Error)
		}
		content = parsed.Message.Content
	default:
		var parsed openAIResponse
		if err := json.Unmarshal(data, &parsed); err != nil {
			return "", errors.Wrap(err, "failed to parse response")
		}
		if parsed.Error != nil {
			return "", errors.Newf("language model error: %s", parsed.Error.Message)
		}
		if len(parsed.Choices) > 0 {
			content = parsed.Choices[0].Message.Content
		}
	}
	if strings.TrimSpace(content) == "" {
		return "", errors.Mark(errors.New("empty reply"), apperrors.ErrMalformedModelOutput)
	}
	return content, nil
}

func snippet(b []byte) string {
	s := strings.TrimSpace(string(b))
	if len(s) > 200 {
		return s[:200]
	}
	return s
}
