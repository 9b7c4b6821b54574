package suggest

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tastedeck/internal/domain/suggestion"
	"github.com/osa030/tastedeck/internal/infra/llm"
)

// ModelProviderConfig is decoded from the provider's settings map.
type ModelProviderConfig struct {
	Flavor            string `mapstructure:"flavor" default:"openai" validate:"oneof=openai ollama"`
	BaseURL           string `mapstructure:"base_url" validate:"omitempty,url"`
	APIKey            string `mapstructure:"api_key"`
	Model             string `mapstructure:"model" validate:"required"`
	MaxTokens         int    `mapstructure:"max_tokens" default:"600" validate:"gte=50,lte=4096"`
	TimeoutSec        int    `mapstructure:"timeout_sec" default:"60" validate:"gte=1"`
	BreakerFailures   uint32 `mapstructure:"breaker_failures" default:"5" validate:"gte=1"`
	BreakerTimeoutSec int    `mapstructure:"breaker_timeout_sec" default:"30" validate:"gte=1"`
}

// ModelProvider asks a language model for candidates and parses the reply.
type ModelProvider struct {
	chat ChatClient
}

// NewModelProvider creates a ModelProvider over an existing chat client.
func NewModelProvider(chat ChatClient) *ModelProvider {
	return &ModelProvider{chat: chat}
}

// NewModelProviderFromSettings builds the chat client from provider settings.
func NewModelProviderFromSettings(settings map[string]any, temperature float64) (*ModelProvider, error) {
	if len(settings) == 0 {
		return nil, errors.New("settings are required")
	}

	var cfg ModelProviderConfig
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}

	client, err := llm.New(llm.Config{
		Flavor:          llm.Flavor(cfg.Flavor),
		BaseURL:         cfg.BaseURL,
		APIKey:          cfg.APIKey,
		Model:           cfg.Model,
		Temperature:     temperature,
		MaxTokens:       cfg.MaxTokens,
		Timeout:         time.Duration(cfg.TimeoutSec) * time.Second,
		BreakerFailures: cfg.BreakerFailures,
		BreakerTimeout:  time.Duration(cfg.BreakerTimeoutSec) * time.Second,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create llm client")
	}
	return NewModelProvider(client), nil
}

// Candidates sends one prompt and parses the reply. No model call is made
// when the history has no tracks or no artists.
func (p *ModelProvider) Candidates(ctx context.Context, req Request) (suggestion.Candidates, error) {
	labels := req.History.TrackLabels()
	artists := req.History.ArtistNames()
	if len(labels) == 0 || len(artists) == 0 || req.Count <= 0 {
		return suggestion.Candidates{}, nil
	}

	prompt := BuildPrompt(labels, artists, req.Count, req.Exclude)
	reply, err := p.chat.Complete(ctx, prompt.Messages())
	if err != nil {
		return suggestion.Candidates{}, errors.Wrap(err, "chat completion failed")
	}

	candidates, stats := Parse(reply, artists)
	zlog.Debug().Msgf("parsed model reply: sections=%d songs=%d artists=%d dropped=%d self=%d",
		stats.Sections, stats.Songs, stats.Artists, stats.Dropped, stats.SelfRefs)
	if err := stats.Err(); err != nil {
		return candidates, err
	}
	return candidates, nil
}

// Name returns the provider name.
func (p *ModelProvider) Name() string {
	return "model"
}
