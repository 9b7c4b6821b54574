package suggest

import (
	"context"
	"fmt"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/creasty/defaults"
	"github.com/go-playground/validator/v10"
	"github.com/mitchellh/mapstructure"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tastedeck/internal/domain/suggestion"
	"github.com/osa030/tastedeck/internal/domain/track"
	"github.com/osa030/tastedeck/internal/infra/lastfm"
)

// LastFmProviderConfig is decoded from the provider's settings map.
type LastFmProviderConfig struct {
	APIKey          string `mapstructure:"api_key" validate:"required"`
	SeedTrackCount  int    `mapstructure:"seed_track_count" default:"3" validate:"gte=1"`
	SeedArtistCount int    `mapstructure:"seed_artist_count" default:"3" validate:"gte=1"`
}

// LastFmProvider derives candidates from Last.fm similarity data for the
// user's top seeds. Results go through the same reply grammar as the model
// provider.
type LastFmProvider struct {
	lastfm LastFmClient
	config *LastFmProviderConfig
}

// NewLastFmProvider creates a LastFmProvider over an existing client.
func NewLastFmProvider(client LastFmClient, cfg LastFmProviderConfig) *LastFmProvider {
	if cfg.SeedTrackCount <= 0 {
		cfg.SeedTrackCount = 3
	}
	if cfg.SeedArtistCount <= 0 {
		cfg.SeedArtistCount = 3
	}
	return &LastFmProvider{lastfm: client, config: &cfg}
}

// NewLastFmProviderFromSettings builds the Last.fm client from provider settings.
func NewLastFmProviderFromSettings(settings map[string]any) (*LastFmProvider, error) {
	if len(settings) == 0 {
		return nil, errors.New("settings are required")
	}

	var cfg LastFmProviderConfig
	if err := mapstructure.Decode(settings, &cfg); err != nil {
		return nil, errors.Wrap(err, "failed to decode settings")
	}
	if err := defaults.Set(&cfg); err != nil {
		return nil, errors.Wrap(err, "failed to set defaults")
	}
	if err := validator.New().Struct(cfg); err != nil {
		return nil, errors.Wrap(err, "validation failed")
	}

	client, err := lastfm.New(lastfm.Config{APIKey: cfg.APIKey})
	if err != nil {
		return nil, errors.Wrap(err, "failed to create last.fm client")
	}
	return NewLastFmProvider(client, cfg), nil
}

// Candidates collects similar tracks and artists for the leading seeds,
// interleaving seeds so no single seed dominates.
func (p *LastFmProvider) Candidates(ctx context.Context, req Request) (suggestion.Candidates, error) {
	if req.History.Empty() || req.Count <= 0 {
		return suggestion.Candidates{}, nil
	}

	skip := make(map[string]bool, len(req.Exclude)+len(req.History.Tracks))
	for _, e := range req.Exclude {
		skip[suggestion.Normalize(e)] = true
	}
	for i := range req.History.Tracks {
		t := &req.History.Tracks[i]
		skip[suggestion.SongKey(t.Name, t.PrimaryArtist())] = true
	}
	for _, a := range req.History.Artists {
		skip[suggestion.Normalize(a.Name)] = true
	}

	var lastErr error
	calls, failures := 0, 0

	var songLists [][]lastfm.SimilarTrack
	for _, seed := range leadingTracks(req.History.Tracks, p.config.SeedTrackCount) {
		calls++
		similar, err := p.lastfm.GetSimilarTracks(ctx, seed.Name, seed.PrimaryArtist(), req.Count)
		if err != nil {
			failures++
			lastErr = err
			zlog.Warn().Msgf("last.fm similar tracks failed: seed=%s error=%v", seed.Label(), err)
			continue
		}
		songLists = append(songLists, similar)
	}

	var artistLists [][]lastfm.SimilarTrack
	for _, seed := range leadingArtists(req.History.Artists, p.config.SeedArtistCount) {
		calls++
		similar, err := p.lastfm.GetSimilarArtists(ctx, seed.Name, req.Count)
		if err != nil {
			failures++
			lastErr = err
			zlog.Warn().Msgf("last.fm similar artists failed: seed=%s error=%v", seed.Name, err)
			continue
		}
		artistLists = append(artistLists, similar)
	}

	if calls > 0 && failures == calls {
		return suggestion.Candidates{}, errors.Wrap(lastErr, "all last.fm lookups failed")
	}

	var b strings.Builder
	b.WriteString("Songs:\n")
	n := 0
	for _, s := range interleave(songLists) {
		if n >= req.Count {
			break
		}
		line := s.Name + suggestion.Separator + s.Artist
		key := suggestion.SongKey(s.Name, s.Artist)
		if skip[key] || skip[suggestion.Normalize(line)] {
			continue
		}
		skip[key] = true
		n++
		fmt.Fprintf(&b, "%d. %s\n", n, line)
	}

	b.WriteString("Artists:\n")
	n = 0
	for _, a := range interleave(artistLists) {
		if n >= req.Count {
			break
		}
		key := suggestion.Normalize(a.Artist)
		if skip[key] {
			continue
		}
		skip[key] = true
		n++
		fmt.Fprintf(&b, "%d. %s\n", n, a.Artist)
	}

	candidates, _ := Parse(b.String(), req.History.ArtistNames())
	return candidates, nil
}

// Name returns the provider name.
func (p *LastFmProvider) Name() string {
	return "lastfm"
}

func leadingTracks(tracks []track.Track, n int) []track.Track {
	if len(tracks) > n {
		return tracks[:n]
	}
	return tracks
}

func leadingArtists(artists []track.Artist, n int) []track.Artist {
	if len(artists) > n {
		return artists[:n]
	}
	return artists
}

// interleave merges lists round-robin: first of each, then second of each.
func interleave(lists [][]lastfm.SimilarTrack) []lastfm.SimilarTrack {
	var out []lastfm.SimilarTrack
	for i := 0; ; i++ {
		added := false
		for _, l := range lists {
			if i < len(l) {
				out = append(out, l[i])
				added = true
			}
		}
		if !added {
			return out
		}
	}
}
