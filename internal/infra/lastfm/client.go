// Package lastfm provides a client for the Last.fm API.
package lastfm

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tastedeck/internal/domain/apperrors"
	"github.com/osa030/tastedeck/internal/infra/metrics"
)

const defaultBaseURL = "https://ws.audioscrobbler.com/2.0/"

// Client is a Last.fm API client.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client

	// Similar-track and similar-artist results keyed by method and seed.
	similarCache map[string][]SimilarTrack
	cacheMu      sync.RWMutex
}

// Config represents Last.fm client configuration.
type Config struct {
	APIKey  string
	BaseURL string
	Timeout time.Duration
}

// SimilarTrack represents a similar track or, with Name empty, a similar
// artist from Last.fm.
type SimilarTrack struct {
	Name   string
	Artist string
	Match  float64
}

// GetSimilarResponse represents the response from track.getSimilar API.
type GetSimilarResponse struct {
	SimilarTracks struct {
		Track []struct {
			Name   string    `json:"name"`
			Match  flexFloat `json:"match"`
			Artist struct {
				Name string `json:"name"`
			} `json:"artist"`
		} `json:"track"`
	} `json:"similartracks"`
}

// GetSimilarArtistsResponse represents the response from artist.getSimilar API.
type GetSimilarArtistsResponse struct {
	SimilarArtists struct {
		Artist []struct {
			Name  string    `json:"name"`
			Match flexFloat `json:"match"`
		} `json:"artist"`
	} `json:"similarartists"`
}

// LastFMError represents an error response from Last.fm API.
type LastFMError struct {
	Error   int    `json:"error"`
	Message string `json:"message"`
}

// flexFloat decodes Last.fm's match score, which arrives as a string or a number.
type flexFloat float64

func (f *flexFloat) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*f = 0
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return errors.Wrapf(err, "invalid match %q", s)
	}
	*f = flexFloat(v)
	return nil
}

// New creates a new Last.fm client.
func New(cfg Config) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, errors.New("last.fm API key is required")
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultBaseURL
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}

	return &Client{
		apiKey:       cfg.APIKey,
		baseURL:      baseURL,
		httpClient:   &http.Client{Timeout: timeout},
		similarCache: make(map[string][]SimilarTrack),
	}, nil
}

// GetSimilarTracks retrieves similar tracks from Last.fm based on track name and artist.
// Reference: https://www.last.fm/api/show/track.getSimilar
func (c *Client) GetSimilarTracks(ctx context.Context, trackName, artistName string, limit int) ([]SimilarTrack, error) {
	if trackName == "" || artistName == "" {
		return nil, errors.New("track name and artist name are required")
	}
	limit = clampLimit(limit)

	cacheKey := fmt.Sprintf("track:%s:%s:%d", strings.ToLower(artistName), strings.ToLower(trackName), limit)
	if cached, ok := c.cached(cacheKey); ok {
		zlog.Debug().Msgf("using cached similar tracks for: %s - %s", trackName, artistName)
		return cached, nil
	}

	params := url.Values{}
	params.Set("method", "track.getSimilar")
	params.Set("artist", artistName)
	params.Set("track", trackName)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("autocorrect", "1")

	var response GetSimilarResponse
	if err := c.get(ctx, params, &response); err != nil {
		return nil, errors.Wrap(err, "failed to get similar tracks")
	}

	similar := make([]SimilarTrack, 0, len(response.SimilarTracks.Track))
	for _, t := range response.SimilarTracks.Track {
		similar = append(similar, SimilarTrack{
			Name:   t.Name,
			Artist: t.Artist.Name,
			Match:  float64(t.Match),
		})
	}

	c.store(cacheKey, similar)
	zlog.Debug().Msgf("cached similar tracks for: %s - %s (count: %d)", trackName, artistName, len(similar))
	return similar, nil
}

// GetSimilarArtists retrieves artists similar to artistName.
// Reference: https://www.last.fm/api/show/artist.getSimilar
func (c *Client) GetSimilarArtists(ctx context.Context, artistName string, limit int) ([]SimilarTrack, error) {
	if artistName == "" {
		return nil, errors.New("artist name is required")
	}
	limit = clampLimit(limit)

	cacheKey := fmt.Sprintf("artist:%s:%d", strings.ToLower(artistName), limit)
	if cached, ok := c.cached(cacheKey); ok {
		zlog.Debug().Msgf("using cached similar artists for: %s", artistName)
		return cached, nil
	}

	params := url.Values{}
	params.Set("method", "artist.getSimilar")
	params.Set("artist", artistName)
	params.Set("limit", strconv.Itoa(limit))
	params.Set("autocorrect", "1")

	var response GetSimilarArtistsResponse
	if err := c.get(ctx, params, &response); err != nil {
		return nil, errors.Wrap(err, "failed to get similar artists")
	}

	similar := make([]SimilarTrack, 0, len(response.SimilarArtists.Artist))
	for _, a := range response.SimilarArtists.Artist {
		similar = append(similar, SimilarTrack{Artist: a.Name, Match: float64(a.Match)})
	}

	c.store(cacheKey, similar)
	return similar, nil
}

// get issues one API call and decodes the body into out. Transport failures
// and 5xx responses are marked as upstream-unavailable.
func (c *Client) get(ctx context.Context, params url.Values, out any) error {
	method := params.Get("method")
	params.Set("api_key", c.apiKey)
	params.Set("format", "json")

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"?"+params.Encode(), nil)
	if err != nil {
		return errors.Wrap(err, "failed to create request")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		metrics.RecordUpstream("lastfm", method, "error")
		return apperrors.Upstream(errors.Wrap(err, "failed to send request"))
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		metrics.RecordUpstream("lastfm", method, "error")
		return apperrors.Upstream(errors.Wrap(err, "failed to read response body"))
	}

	if resp.StatusCode >= http.StatusInternalServerError {
		metrics.RecordUpstream("lastfm", method, "error")
		return apperrors.Upstream(errors.Newf("last.fm HTTP %d", resp.StatusCode))
	}

	var apiError LastFMError
	if err := json.Unmarshal(body, &apiError); err == nil && apiError.Error != 0 {
		metrics.RecordUpstream("lastfm", method, "rejected")
		return errors.Newf("last.fm API error %d: %s", apiError.Error, apiError.Message)
	}

	if err := json.Unmarshal(body, out); err != nil {
		metrics.RecordUpstream("lastfm", method, "rejected")
		return errors.Wrap(err, "failed to parse response")
	}
	metrics.RecordUpstream("lastfm", method, "ok")
	return nil
}

func (c *Client) cached(key string) ([]SimilarTrack, bool) {
	c.cacheMu.RLock()
	defer c.cacheMu.RUnlock()
	v, ok := c.similarCache[key]
	return v, ok
}

func (c *Client) store(key string, v []SimilarTrack) {
	c.cacheMu.Lock()
	c.similarCache[key] = v
	c.cacheMu.Unlock()
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > 100 {
		return 100
	}
	return limit
}
