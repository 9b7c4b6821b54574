// Package suggest produces unvalidated recommendation candidates from a
// listening history.
package suggest

import (
	"context"

	"github.com/osa030/tastedeck/internal/domain/listening"
	"github.com/osa030/tastedeck/internal/domain/suggestion"
	"github.com/osa030/tastedeck/internal/infra/lastfm"
	"github.com/osa030/tastedeck/internal/infra/llm"
)

// Request describes one candidate round.
type Request struct {
	History listening.History
	// Count is how many songs and how many artists to ask for.
	Count int
	// Exclude lists candidates already tried in this request.
	Exclude []string
}

// Provider is the interface for candidate providers.
type Provider interface {
	// Candidates returns song and artist candidates for the request. An empty
	// result with a nil error means the provider had nothing to offer.
	Candidates(ctx context.Context, req Request) (suggestion.Candidates, error)

	// Name returns the provider type (used in config).
	Name() string
}

// ChatClient defines the language-model operations needed by ModelProvider.
type ChatClient interface {
	Complete(ctx context.Context, messages []llm.Message) (string, error)
}

// LastFmClient defines the Last.fm operations needed by LastFmProvider.
type LastFmClient interface {
	GetSimilarTracks(ctx context.Context, trackName, artistName string, limit int) ([]lastfm.SimilarTrack, error)
	GetSimilarArtists(ctx context.Context, artistName string, limit int) ([]lastfm.SimilarTrack, error)
}
