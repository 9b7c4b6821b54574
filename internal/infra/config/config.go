// Package config provides configuration loading from YAML files.
package config

import (
	"os"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/osa030/tastedeck/internal/domain/listening"
)

// Config represents the application configuration.
type Config struct {
	Server      ServerConfig      `yaml:"server"`
	Admin       AdminConfig       `yaml:"admin"`
	Spotify     SpotifyConfig     `yaml:"spotify"`
	History     HistoryConfig     `yaml:"history"`
	Suggestions SuggestionsConfig `yaml:"suggestions"`
	Cache       CacheConfig       `yaml:"cache"`
	Providers   []ProviderConfig  `yaml:"providers" validate:"required,min=1,dive"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// ServerConfig represents server configuration.
type ServerConfig struct {
	Addr          string          `yaml:"addr" default:":8080"`
	SigningKey    string          `yaml:"signing_key" validate:"required,min=16"`
	SecureCookies bool            `yaml:"secure_cookies"`
	SessionTTL    time.Duration   `yaml:"session_ttl" default:"24h"`
	RateLimit     RateLimitConfig `yaml:"rate_limit"`
	Hooks         HooksConfig     `yaml:"hooks"`
}

// RateLimitConfig represents the per-client limit on the JSON API.
type RateLimitConfig struct {
	Requests int           `yaml:"requests" default:"30" validate:"gte=1"`
	Window   time.Duration `yaml:"window" default:"1m"`
}

// HooksConfig represents lifecycle hooks configuration.
type HooksConfig struct {
	OnStarted []string `yaml:"on_started"`
	OnStopped []string `yaml:"on_stopped"`
}

// AdminConfig represents admin-related configuration.
type AdminConfig struct {
	Token string `yaml:"token" validate:"required"`
}

// SpotifyConfig represents Spotify API configuration.
type SpotifyConfig struct {
	ClientID     string        `yaml:"client_id" validate:"required"`
	ClientSecret string        `yaml:"client_secret" validate:"required"`
	RedirectURL  string        `yaml:"redirect_url" default:"http://127.0.0.1:8080/callback" validate:"url"`
	Market       string        `yaml:"market" validate:"omitempty,len=2"`
	MaxRetries   int           `yaml:"max_retries" default:"3" validate:"gte=0,lte=10"`
	RetryDelay   time.Duration `yaml:"retry_delay" default:"1s"`
	RequestsPerS float64       `yaml:"requests_per_second" default:"10" validate:"gt=0"`
	Burst        int           `yaml:"burst" default:"5" validate:"gte=1"`
}

// HistoryConfig represents listening history fetch configuration.
type HistoryConfig struct {
	Workers       int   `yaml:"workers" default:"8" validate:"gte=2,lte=10"`
	EnrichDetails *bool `yaml:"enrich_details" default:"true"`
}

// SuggestionsConfig represents the suggestion pipeline policy.
type SuggestionsConfig struct {
	DefaultCount        int     `yaml:"default_count" default:"10" validate:"gte=1"`
	MaxCount            int     `yaml:"max_count" default:"50" validate:"gte=1,gtefield=DefaultCount"`
	DefaultWindow       string  `yaml:"default_window" default:"medium" validate:"oneof=recent medium long"`
	CandidateMultiplier int     `yaml:"candidate_multiplier" default:"2" validate:"gte=1,lte=5"`
	ShortfallRetry      *bool   `yaml:"shortfall_retry" default:"true"`
	PopularityThreshold int     `yaml:"popularity_threshold" default:"30" validate:"gte=0,lte=100"`
	PopularityFallback  *bool   `yaml:"popularity_fallback" default:"true"`
	SearchLimit         int     `yaml:"search_limit" default:"5" validate:"gte=1,lte=50"`
	IgnoreVersions      bool    `yaml:"ignore_versions"`
	Temperature         float64 `yaml:"temperature" default:"0.7" validate:"gte=0,lte=2"`
}

// CacheConfig represents per-namespace cache TTLs.
type CacheConfig struct {
	SuggestionsTTL  time.Duration `yaml:"suggestions_ttl" default:"300s"`
	TopItemsTTL     time.Duration `yaml:"top_items_ttl" default:"300s"`
	TrackTTL        time.Duration `yaml:"track_ttl" default:"3600s"`
	ArtistTTL       time.Duration `yaml:"artist_ttl" default:"3600s"`
	CleanupInterval time.Duration `yaml:"cleanup_interval" default:"60s"`
}

// LoggingConfig represents log output configuration. Command line flags
// take precedence.
type LoggingConfig struct {
	Level  string `yaml:"level" default:"info" validate:"oneof=debug info warn warning error"`
	Format string `yaml:"format" validate:"omitempty,oneof=console json"`
	File   string `yaml:"file"`
}

// ProviderConfig represents a single suggestion provider configuration.
type ProviderConfig struct {
	Type        string         `yaml:"type" validate:"required"`
	DisplayName string         `yaml:"display_name" validate:"required"`
	Settings    map[string]any `yaml:"settings" validate:"required"`
}

// Load loads configuration from a YAML file.
// Environment variables take precedence over file values for sensitive fields.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read config file")
	}
	return Parse(data)
}

// Parse builds a configuration from YAML bytes, applying environment
// overrides, defaults and validation.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to parse config file")
	}

	cfg.overrideFromEnv()

	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}

	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "config validation failed")
	}

	return &cfg, nil
}

// overrideFromEnv overrides config values with environment variables.
func (c *Config) overrideFromEnv() {
	if v := os.Getenv("SPOTIFY_CLIENT_ID"); v != "" {
		c.Spotify.ClientID = v
	}
	if v := os.Getenv("SPOTIFY_CLIENT_SECRET"); v != "" {
		c.Spotify.ClientSecret = v
	}
	if v := os.Getenv("SPOTIFY_REDIRECT_URL"); v != "" {
		c.Spotify.RedirectURL = v
	}
	if v := os.Getenv("SIGNING_KEY"); v != "" {
		c.Server.SigningKey = v
	}
	if v := os.Getenv("ADMIN_TOKEN"); v != "" {
		c.Admin.Token = v
	}
	if v := os.Getenv("SECURE_COOKIES"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.Server.SecureCookies = b
		}
	}
	if v := os.Getenv("OPENAI_API_KEY"); v != "" {
		c.setProviderSetting("model", "api_key", v)
	}
	if v := os.Getenv("LASTFM_API_KEY"); v != "" {
		c.setProviderSetting("lastfm", "api_key", v)
	}
}

func (c *Config) setProviderSetting(providerType, key, value string) {
	for i := range c.Providers {
		if c.Providers[i].Type != providerType {
			continue
		}
		if c.Providers[i].Settings == nil {
			c.Providers[i].Settings = map[string]any{}
		}
		c.Providers[i].Settings[key] = value
		return
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	validate := validator.New()
	if err := validate.Struct(c); err != nil {
		return errors.Wrap(err, "struct validation failed")
	}
	if c.Cache.SuggestionsTTL <= 0 || c.Cache.TopItemsTTL <= 0 || c.Cache.TrackTTL <= 0 || c.Cache.ArtistTTL <= 0 {
		return errors.New("cache TTLs must be positive")
	}
	return nil
}

// DefaultWindow returns the configured default listening window.
func (c *Config) DefaultWindow() listening.Window {
	w, err := listening.ParseWindow(c.Suggestions.DefaultWindow, listening.WindowMedium)
	if err != nil {
		return listening.WindowMedium
	}
	return w
}

// Enabled dereferences an optional boolean setting. Defaults have already
// been applied by Load, so nil only occurs for hand-built configs.
func Enabled(b *bool) bool {
	return b == nil || *b
}
