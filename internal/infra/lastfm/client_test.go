package lastfm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/osa030/tastedeck/internal/domain/apperrors"
)

func TestGetSimilarTracks(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "track.getSimilar", r.URL.Query().Get("method"))
		assert.Equal(t, "test_artist", r.URL.Query().Get("artist"))
		assert.Equal(t, "test_track", r.URL.Query().Get("track"))
		assert.Equal(t, "test_key", r.URL.Query().Get("api_key"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))

		response := `{
			"similartracks": {
				"track": [
					{"name": "Track 1", "match": 1, "artist": {"name": "Artist 1"}},
					{"name": "Track 2", "match": "0.42", "artist": {"name": "Artist 2"}}
				]
			}
		}`
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, response)
	}))
	defer server.Close()

	client, err := New(Config{APIKey: "test_key", BaseURL: server.URL + "/"})
	require.NoError(t, err)

	ctx := context.Background()
	tracks, err := client.GetSimilarTracks(ctx, "test_track", "test_artist", 5)
	require.NoError(t, err)
	require.Len(t, tracks, 2)
	assert.Equal(t, "Track 1", tracks[0].Name)
	assert.Equal(t, "Artist 1", tracks[0].Artist)
	assert.InDelta(t, 0.42, tracks[1].Match, 1e-9)

	tracksCached, err := client.GetSimilarTracks(ctx, "test_track", "test_artist", 5)
	require.NoError(t, err)
	assert.Equal(t, tracks, tracksCached)
	assert.Equal(t, int32(1), calls.Load())
}

func TestGetSimilarArtists(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "artist.getSimilar", r.URL.Query().Get("method"))
		assert.Equal(t, "Artist X", r.URL.Query().Get("artist"))
		fmt.Fprint(w, `{"similarartists": {"artist": [{"name": "Artist Y", "match": "0.9"}, {"name": "Artist Z", "match": "0.5"}]}}`)
	}))
	defer server.Close()

	client, err := New(Config{APIKey: "test_key", BaseURL: server.URL + "/"})
	require.NoError(t, err)

	artists, err := client.GetSimilarArtists(context.Background(), "Artist X", 10)
	require.NoError(t, err)
	require.Len(t, artists, 2)
	assert.Equal(t, "Artist Y", artists[0].Artist)
	assert.Empty(t, artists[0].Name)
}

func TestAPIError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": 6, "message": "Track not found"}`)
	}))
	defer server.Close()

	client, err := New(Config{APIKey: "test_key", BaseURL: server.URL + "/"})
	require.NoError(t, err)

	_, err = client.GetSimilarTracks(context.Background(), "x", "y", 5)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "Track not found")
	assert.False(t, apperrors.IsUpstream(err))
}

func TestServerError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client, err := New(Config{APIKey: "test_key", BaseURL: server.URL + "/"})
	require.NoError(t, err)

	_, err = client.GetSimilarArtists(context.Background(), "Artist X", 5)
	require.Error(t, err)
	assert.True(t, apperrors.IsUpstream(err))
}

func TestValidation(t *testing.T) {
	_, err := New(Config{})
	assert.Error(t, err)

	client, err := New(Config{APIKey: "k"})
	require.NoError(t, err)
	_, err = client.GetSimilarTracks(context.Background(), "", "artist", 5)
	assert.Error(t, err)
	_, err = client.GetSimilarArtists(context.Background(), "", 5)
	assert.Error(t, err)
}

func TestClampLimit(t *testing.T) {
	assert.Equal(t, 20, clampLimit(0))
	assert.Equal(t, 7, clampLimit(7))
	assert.Equal(t, 100, clampLimit(500))
}
