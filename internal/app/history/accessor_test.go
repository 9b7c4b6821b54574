package history

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/tastedeck/internal/domain/apperrors"
	"github.com/osa030/tastedeck/internal/domain/listening"
	"github.com/osa030/tastedeck/internal/domain/track"
	"github.com/osa030/tastedeck/internal/infra/cache"
)

type fakeCatalog struct {
	tracks  []track.Track
	artists []track.Artist

	topTracksErr  error
	topArtistsErr error
	detailErr     map[string]error

	topTrackCalls  atomic.Int32
	topArtistCalls atomic.Int32
	detailCalls    atomic.Int32

	mu       sync.Mutex
	inFlight int
	peak     int
}

func (f *fakeCatalog) TopTracks(_ context.Context, window listening.Window, limit int) ([]track.Track, error) {
	f.topTrackCalls.Add(1)
	if f.topTracksErr != nil {
		return nil, f.topTracksErr
	}
	return f.tracks[:min(limit, len(f.tracks))], nil
}

func (f *fakeCatalog) TopArtists(_ context.Context, window listening.Window, limit int) ([]track.Artist, error) {
	f.topArtistCalls.Add(1)
	if f.topArtistsErr != nil {
		return nil, f.topArtistsErr
	}
	return f.artists[:min(limit, len(f.artists))], nil
}

func (f *fakeCatalog) enter() {
	f.detailCalls.Add(1)
	f.mu.Lock()
	f.inFlight++
	f.peak = max(f.peak, f.inFlight)
	f.mu.Unlock()
	time.Sleep(5 * time.Millisecond)
}

func (f *fakeCatalog) leave() {
	f.mu.Lock()
	f.inFlight--
	f.mu.Unlock()
}

func (f *fakeCatalog) Track(_ context.Context, id string) (*track.Track, error) {
	f.enter()
	defer f.leave()
	if err := f.detailErr[id]; err != nil {
		return nil, err
	}
	for _, t := range f.tracks {
		if t.ID == id {
			t.Album = "Detailed " + t.Album
			t.PreviewURL = track.OptionalString("https://p.scdn.co/" + id)
			return &t, nil
		}
	}
	return nil, errors.Newf("track %s not found", id)
}

func (f *fakeCatalog) Artist(_ context.Context, id string) (*track.Artist, error) {
	f.enter()
	defer f.leave()
	if err := f.detailErr[id]; err != nil {
		return nil, err
	}
	for _, a := range f.artists {
		if a.ID == id {
			a.Genres = []string{"indie"}
			return &a, nil
		}
	}
	return nil, errors.Newf("artist %s not found", id)
}

func newFakeCatalog(n int) *fakeCatalog {
	f := &fakeCatalog{detailErr: make(map[string]error)}
	for i := range n {
		id := string(rune('a' + i))
		f.tracks = append(f.tracks, track.Track{ID: "t" + id, Name: "Track " + id, Album: "Album " + id, Artists: []string{"Artist " + id}})
		f.artists = append(f.artists, track.Artist{ID: "a" + id, Name: "Artist " + id})
	}
	return f
}

func newAccessor(t *testing.T, enrich bool) (*Accessor, *cache.Memory) {
	t.Helper()
	store := cache.NewMemory(0)
	t.Cleanup(store.Close)
	return NewAccessor(Config{
		Workers:     3,
		Enrich:      enrich,
		TopItemsTTL: time.Minute,
		TrackTTL:    time.Hour,
		ArtistTTL:   time.Hour,
	}, store), store
}

func TestFetch(t *testing.T) {
	catalog := newFakeCatalog(6)
	accessor, _ := newAccessor(t, true)

	h, err := accessor.Fetch(context.Background(), catalog, "user-1", listening.WindowRecent, 5)
	require.NoError(t, err)

	assert.Equal(t, listening.WindowRecent, h.Window)
	require.Len(t, h.Tracks, 5)
	require.Len(t, h.Artists, 5)
	for i, tr := range h.Tracks {
		assert.Equal(t, catalog.tracks[i].ID, tr.ID, "provider order kept")
		assert.Equal(t, "Detailed "+catalog.tracks[i].Album, tr.Album)
		_, ok := tr.Preview()
		assert.True(t, ok)
	}
	assert.Equal(t, []string{"indie"}, h.Artists[0].Genres)

	catalog.mu.Lock()
	peak := catalog.peak
	catalog.mu.Unlock()
	assert.LessOrEqual(t, peak, 3)
}

func TestFetchWithoutEnrichment(t *testing.T) {
	catalog := newFakeCatalog(3)
	accessor, _ := newAccessor(t, false)

	h, err := accessor.Fetch(context.Background(), catalog, "user-1", listening.WindowMedium, 10)
	require.NoError(t, err)
	assert.Len(t, h.Tracks, 3)
	assert.Equal(t, "Album a", h.Tracks[0].Album)
	assert.Equal(t, int32(0), catalog.detailCalls.Load())
}

func TestFetchUsesCache(t *testing.T) {
	catalog := newFakeCatalog(3)
	accessor, store := newAccessor(t, true)
	ctx := context.Background()

	first, err := accessor.Fetch(ctx, catalog, "user-1", listening.WindowLong, 3)
	require.NoError(t, err)
	second, err := accessor.Fetch(ctx, catalog, "user-1", listening.WindowLong, 3)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int32(1), catalog.topTrackCalls.Load())
	assert.Equal(t, int32(1), catalog.topArtistCalls.Load())
	assert.Equal(t, int32(6), catalog.detailCalls.Load())

	_, ok := store.Get("top:user-1:long:3")
	assert.True(t, ok)
	_, ok = store.Get("track:ta")
	assert.True(t, ok)
	_, ok = store.Get("artist:aa")
	assert.True(t, ok)

	// A different scope shares detail entries but not top items.
	_, err = accessor.Fetch(ctx, catalog, "user-2", listening.WindowLong, 3)
	require.NoError(t, err)
	assert.Equal(t, int32(2), catalog.topTrackCalls.Load())
	assert.Equal(t, int32(6), catalog.detailCalls.Load())
}

func TestFetchDetailFailureKeepsSummary(t *testing.T) {
	catalog := newFakeCatalog(3)
	catalog.detailErr["tb"] = apperrors.Upstream(errors.New("timeout"))
	accessor, _ := newAccessor(t, true)

	h, err := accessor.Fetch(context.Background(), catalog, "user-1", listening.WindowMedium, 3)
	require.NoError(t, err)
	require.Len(t, h.Tracks, 3)
	assert.Equal(t, "Album b", h.Tracks[1].Album)
	assert.Equal(t, "Detailed Album a", h.Tracks[0].Album)
}

func TestFetchErrors(t *testing.T) {
	t.Run("nil catalog is unauthenticated", func(t *testing.T) {
		accessor, _ := newAccessor(t, true)
		_, err := accessor.Fetch(context.Background(), nil, "user-1", listening.WindowMedium, 3)
		require.Error(t, err)
		assert.True(t, apperrors.IsUnauthenticated(err))
	})

	t.Run("top items failure aborts", func(t *testing.T) {
		catalog := newFakeCatalog(3)
		catalog.topArtistsErr = apperrors.Upstream(errors.New("502"))
		accessor, store := newAccessor(t, true)

		_, err := accessor.Fetch(context.Background(), catalog, "user-1", listening.WindowMedium, 3)
		require.Error(t, err)
		assert.True(t, apperrors.IsUpstream(err))
		assert.Equal(t, 0, store.Stats().Entries)
	})

	t.Run("detail unauthenticated aborts", func(t *testing.T) {
		catalog := newFakeCatalog(3)
		catalog.detailErr["aa"] = apperrors.Unauthenticated(errors.New("expired"))
		accessor, _ := newAccessor(t, true)

		_, err := accessor.Fetch(context.Background(), catalog, "user-1", listening.WindowMedium, 3)
		require.Error(t, err)
		assert.True(t, apperrors.IsUnauthenticated(err))
	})
}

func TestNewAccessorClampsWorkers(t *testing.T) {
	assert.Equal(t, 2, NewAccessor(Config{Workers: 0}, cache.NewMemory(0)).cfg.Workers)
	assert.Equal(t, 10, NewAccessor(Config{Workers: 50}, cache.NewMemory(0)).cfg.Workers)
}
