// Package history fetches a user's top tracks and artists for a listening
// window.
package history

import (
	"context"
	"strconv"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/osa030/tastedeck/internal/domain/apperrors"
	"github.com/osa030/tastedeck/internal/domain/listening"
	"github.com/osa030/tastedeck/internal/domain/track"
	"github.com/osa030/tastedeck/internal/infra/cache"
)

// Catalog defines the provider operations needed to build a history.
type Catalog interface {
	TopTracks(ctx context.Context, window listening.Window, limit int) ([]track.Track, error)
	TopArtists(ctx context.Context, window listening.Window, limit int) ([]track.Artist, error)
	Track(ctx context.Context, trackID string) (*track.Track, error)
	Artist(ctx context.Context, artistID string) (*track.Artist, error)
}

// Config holds accessor settings.
type Config struct {
	// Workers bounds concurrent detail lookups.
	Workers int
	// Enrich replaces bulk items with per-id detail lookups.
	Enrich      bool
	TopItemsTTL time.Duration
	TrackTTL    time.Duration
	ArtistTTL   time.Duration
}

// Accessor fetches listening histories through a cache.
type Accessor struct {
	cfg   Config
	store cache.Store
}

// topItems is the cached value of one top-items fetch.
type topItems struct {
	Tracks  []track.Track
	Artists []track.Artist
}

// NewAccessor creates an accessor.
func NewAccessor(cfg Config, store cache.Store) *Accessor {
	if cfg.Workers < 2 {
		cfg.Workers = 2
	}
	if cfg.Workers > 10 {
		cfg.Workers = 10
	}
	return &Accessor{cfg: cfg, store: store}
}

// Fetch returns the top tracks and artists for window, at most count of each,
// in provider order. scope identifies the user in cache keys.
func (a *Accessor) Fetch(ctx context.Context, catalog Catalog, scope string, window listening.Window, count int) (listening.History, error) {
	if catalog == nil {
		return listening.History{}, apperrors.Unauthenticated(errors.New("no catalog session"))
	}

	items, err := a.topItems(ctx, catalog, scope, window, count)
	if err != nil {
		return listening.History{}, err
	}

	h := listening.History{Window: window, Tracks: items.Tracks, Artists: items.Artists}
	if !a.cfg.Enrich {
		return h, nil
	}

	if err := a.enrich(ctx, catalog, &h); err != nil {
		return listening.History{}, err
	}
	return h, nil
}

func (a *Accessor) topItems(ctx context.Context, catalog Catalog, scope string, window listening.Window, count int) (topItems, error) {
	key := cache.Key(cache.NamespaceTopItems, scope, string(window), strconv.Itoa(count))
	if items, ok := cache.Get[topItems](a.store, key); ok {
		zlog.Debug().Msgf("using cached top items: key=%s", key)
		return items, nil
	}

	var items topItems
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tracks, err := catalog.TopTracks(gctx, window, count)
		if err != nil {
			return errors.Wrap(err, "failed to fetch top tracks")
		}
		items.Tracks = tracks
		return nil
	})
	g.Go(func() error {
		artists, err := catalog.TopArtists(gctx, window, count)
		if err != nil {
			return errors.Wrap(err, "failed to fetch top artists")
		}
		items.Artists = artists
		return nil
	})
	if err := g.Wait(); err != nil {
		return topItems{}, err
	}

	if items.Tracks == nil {
		items.Tracks = []track.Track{}
	}
	if items.Artists == nil {
		items.Artists = []track.Artist{}
	}
	a.store.Set(key, items, a.cfg.TopItemsTTL)
	return items, nil
}

// enrich replaces each item with its detail lookup. Results are written by
// index, so provider order is kept. A failed lookup keeps the bulk item unless
// the session is no longer valid.
func (a *Accessor) enrich(ctx context.Context, catalog Catalog, h *listening.History) error {
	tracks := append([]track.Track(nil), h.Tracks...)
	artists := append([]track.Artist(nil), h.Artists...)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.cfg.Workers)

	for i := range tracks {
		id := tracks[i].ID
		if id == "" {
			continue
		}
		g.Go(func() error {
			detail, err := a.trackDetail(gctx, catalog, id)
			if err != nil {
				if apperrors.IsUnauthenticated(err) {
					return err
				}
				zlog.Warn().Msgf("track detail lookup failed, keeping summary: id=%s error=%v", id, err)
				return nil
			}
			tracks[i] = *detail
			return nil
		})
	}
	for i := range artists {
		id := artists[i].ID
		if id == "" {
			continue
		}
		g.Go(func() error {
			detail, err := a.artistDetail(gctx, catalog, id)
			if err != nil {
				if apperrors.IsUnauthenticated(err) {
					return err
				}
				zlog.Warn().Msgf("artist detail lookup failed, keeping summary: id=%s error=%v", id, err)
				return nil
			}
			artists[i] = *detail
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return errors.Wrap(err, "failed to enrich history")
	}
	h.Tracks = tracks
	h.Artists = artists
	return nil
}

func (a *Accessor) trackDetail(ctx context.Context, catalog Catalog, id string) (*track.Track, error) {
	key := cache.Key(cache.NamespaceTrack, id)
	if t, ok := cache.Get[track.Track](a.store, key); ok {
		return &t, nil
	}
	t, err := catalog.Track(ctx, id)
	if err != nil {
		return nil, err
	}
	a.store.Set(key, *t, a.cfg.TrackTTL)
	return t, nil
}

func (a *Accessor) artistDetail(ctx context.Context, catalog Catalog, id string) (*track.Artist, error) {
	key := cache.Key(cache.NamespaceArtist, id)
	if ar, ok := cache.Get[track.Artist](a.store, key); ok {
		return &ar, nil
	}
	ar, err := catalog.Artist(ctx, id)
	if err != nil {
		return nil, err
	}
	a.store.Set(key, *ar, a.cfg.ArtistTTL)
	return ar, nil
}
