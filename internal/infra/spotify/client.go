// Package spotify provides a client for the Spotify Web API.
package spotify

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/zmb3/spotify/v2"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/osa030/tastedeck/internal/domain/apperrors"
	"github.com/osa030/tastedeck/internal/domain/listening"
	"github.com/osa030/tastedeck/internal/domain/track"
	"github.com/osa030/tastedeck/internal/infra/metrics"
)

const maxPageSize = 50

// Options tunes a Client.
type Options struct {
	Market     string
	MaxRetries int
	RetryDelay time.Duration
	// BaseURL overrides the API endpoint. It must end with a slash.
	BaseURL string
}

// User is the logged-in account.
type User struct {
	ID          string
	DisplayName string
}

// Client is a Spotify API client bound to one user's token.
type Client struct {
	client     *spotify.Client
	market     string
	maxRetries int
	retryDelay time.Duration
	limiter    *rate.Limiter
}

// NewClient creates a client over an authorized HTTP client. limiter may be
// nil; when set it is shared by every client of the process.
func NewClient(httpClient *http.Client, opts Options, limiter *rate.Limiter) *Client {
	var clientOpts []spotify.ClientOption
	if opts.BaseURL != "" {
		clientOpts = append(clientOpts, spotify.WithBaseURL(opts.BaseURL))
	}
	maxRetries := opts.MaxRetries
	if maxRetries < 1 {
		maxRetries = 1
	}
	return &Client{
		client:     spotify.New(httpClient, clientOpts...),
		market:     opts.Market,
		maxRetries: maxRetries,
		retryDelay: opts.RetryDelay,
		limiter:    limiter,
	}
}

// TopTracks returns the user's top tracks for the window in provider order.
func (c *Client) TopTracks(ctx context.Context, window listening.Window, limit int) ([]track.Track, error) {
	var page *spotify.FullTrackPage
	err := c.retry(ctx, "top_tracks", func() error {
		p, err := c.client.CurrentUsersTopTracks(ctx,
			spotify.Limit(clampLimit(limit)),
			spotify.Timerange(spotify.Range(window.Range())),
		)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get top tracks")
	}

	tracks := make([]track.Track, 0, len(page.Tracks))
	for i := range page.Tracks {
		tracks = append(tracks, *convertTrack(&page.Tracks[i]))
	}
	return tracks, nil
}

// TopArtists returns the user's top artists for the window in provider order.
func (c *Client) TopArtists(ctx context.Context, window listening.Window, limit int) ([]track.Artist, error) {
	var page *spotify.FullArtistPage
	err := c.retry(ctx, "top_artists", func() error {
		p, err := c.client.CurrentUsersTopArtists(ctx,
			spotify.Limit(clampLimit(limit)),
			spotify.Timerange(spotify.Range(window.Range())),
		)
		if err != nil {
			return err
		}
		page = p
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get top artists")
	}

	artists := make([]track.Artist, 0, len(page.Artists))
	for i := range page.Artists {
		artists = append(artists, *convertArtist(&page.Artists[i]))
	}
	return artists, nil
}

// Track retrieves track information by ID, URL, or URI.
func (c *Client) Track(ctx context.Context, trackID string) (*track.Track, error) {
	id := extractID(trackID, "track")

	var opts []spotify.RequestOption
	if c.market != "" {
		opts = append(opts, spotify.Market(c.market))
	}

	var result *spotify.FullTrack
	err := c.retry(ctx, "track", func() error {
		t, err := c.client.GetTrack(ctx, spotify.ID(id), opts...)
		if err != nil {
			return err
		}
		result = t
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get track %s", id)
	}
	return convertTrack(result), nil
}

// Artist retrieves artist information by ID, URL, or URI.
func (c *Client) Artist(ctx context.Context, artistID string) (*track.Artist, error) {
	id := extractID(artistID, "artist")

	var result *spotify.FullArtist
	err := c.retry(ctx, "artist", func() error {
		a, err := c.client.GetArtist(ctx, spotify.ID(id))
		if err != nil {
			return err
		}
		result = a
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to get artist %s", id)
	}
	return convertArtist(result), nil
}

// SearchTracks searches the catalog for tracks. Hits keep search order.
func (c *Client) SearchTracks(ctx context.Context, query string, limit int) ([]track.Track, error) {
	result, err := c.search(ctx, "search_tracks", query, spotify.SearchTypeTrack, limit)
	if err != nil {
		return nil, err
	}
	if result.Tracks == nil {
		return []track.Track{}, nil
	}
	tracks := make([]track.Track, 0, len(result.Tracks.Tracks))
	for i := range result.Tracks.Tracks {
		tracks = append(tracks, *convertTrack(&result.Tracks.Tracks[i]))
	}
	return tracks, nil
}

// SearchArtists searches the catalog for artists. Hits keep search order.
func (c *Client) SearchArtists(ctx context.Context, query string, limit int) ([]track.Artist, error) {
	result, err := c.search(ctx, "search_artists", query, spotify.SearchTypeArtist, limit)
	if err != nil {
		return nil, err
	}
	if result.Artists == nil {
		return []track.Artist{}, nil
	}
	artists := make([]track.Artist, 0, len(result.Artists.Artists))
	for i := range result.Artists.Artists {
		artists = append(artists, *convertArtist(&result.Artists.Artists[i]))
	}
	return artists, nil
}

func (c *Client) search(ctx context.Context, op, query string, st spotify.SearchType, limit int) (*spotify.SearchResult, error) {
	if strings.TrimSpace(query) == "" {
		return nil, errors.New("search query is required")
	}

	opts := []spotify.RequestOption{spotify.Limit(clampLimit(limit))}
	if c.market != "" {
		opts = append(opts, spotify.Market(c.market))
	}

	var result *spotify.SearchResult
	err := c.retry(ctx, op, func() error {
		r, err := c.client.Search(ctx, query, st, opts...)
		if err != nil {
			return err
		}
		result = r
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "failed to search %q", query)
	}
	return result, nil
}

// CurrentUser returns the account the token belongs to.
func (c *Client) CurrentUser(ctx context.Context) (*User, error) {
	var u *spotify.PrivateUser
	err := c.retry(ctx, "current_user", func() error {
		p, err := c.client.CurrentUser(ctx)
		if err != nil {
			return err
		}
		u = p
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to get current user")
	}
	name := u.DisplayName
	if name == "" {
		name = u.ID
	}
	return &User{ID: u.ID, DisplayName: name}, nil
}

// Token returns the client's current token, refreshed if it had expired.
func (c *Client) Token() (*oauth2.Token, error) {
	tok, err := c.client.Token()
	if err != nil {
		return nil, apperrors.Unauthenticated(errors.Wrap(err, "failed to get token"))
	}
	return tok, nil
}

// convertTrack converts a Spotify FullTrack to a domain Track.
func convertTrack(t *spotify.FullTrack) *track.Track {
	artists := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = a.Name
	}

	var image *string
	if len(t.Album.Images) > 0 {
		image = track.OptionalString(t.Album.Images[0].URL)
	}

	return &track.Track{
		ID:         string(t.ID),
		Name:       t.Name,
		Album:      t.Album.Name,
		Artists:    artists,
		ImageURL:   image,
		URL:        externalURL(t.ExternalURLs, "track", string(t.ID)),
		PreviewURL: track.OptionalString(t.PreviewURL),
		Popularity: int(t.Popularity),
	}
}

// convertArtist converts a Spotify FullArtist to a domain Artist.
func convertArtist(a *spotify.FullArtist) *track.Artist {
	var image *string
	if len(a.Images) > 0 {
		image = track.OptionalString(a.Images[0].URL)
	}
	return &track.Artist{
		ID:         string(a.ID),
		Name:       a.Name,
		ImageURL:   image,
		URL:        externalURL(a.ExternalURLs, "artist", string(a.ID)),
		Genres:     append([]string(nil), a.Genres...),
		Popularity: int(a.Popularity),
	}
}

func externalURL(urls map[string]string, kind, id string) string {
	if u, ok := urls["spotify"]; ok && u != "" {
		return u
	}
	return fmt.Sprintf("https://open.spotify.com/%s/%s", kind, id)
}

func clampLimit(limit int) int {
	if limit <= 0 {
		return 20
	}
	if limit > maxPageSize {
		return maxPageSize
	}
	return limit
}

// retry retries an operation with linear backoff. Every attempt waits on the
// shared rate limiter. The final error is classified for the caller.
func (c *Client) retry(ctx context.Context, op string, fn func() error) error {
	var lastErr error
	for i := 0; i < c.maxRetries; i++ {
		if c.limiter != nil {
			if err := c.limiter.Wait(ctx); err != nil {
				return errors.Wrap(err, "rate limiter")
			}
		}

		err := fn()
		if err == nil {
			metrics.RecordUpstream("spotify", op, "ok")
			return nil
		}
		lastErr = err

		if !isRetryable(err) {
			break
		}

		if i < c.maxRetries-1 {
			select {
			case <-ctx.Done():
				return errors.Wrap(ctx.Err(), "retry aborted")
			case <-time.After(c.retryDelay * time.Duration(i+1)):
			}
		}
	}

	classified := classify(lastErr)
	switch {
	case apperrors.IsUnauthenticated(classified):
		metrics.RecordUpstream("spotify", op, "unauthenticated")
	case apperrors.IsUpstream(classified):
		metrics.RecordUpstream("spotify", op, "error")
	default:
		metrics.RecordUpstream("spotify", op, "rejected")
	}
	return classified
}

// statusOf extracts the HTTP status of a Spotify API error, or 0.
func statusOf(err error) int {
	var se spotify.Error
	if errors.As(err, &se) {
		return se.Status
	}
	var sp *spotify.Error
	if errors.As(err, &sp) && sp != nil {
		return sp.Status
	}
	return 0
}

// classify marks err as unauthenticated or upstream-unavailable. Other
// client errors (400, 404) are returned unmarked.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var re *oauth2.RetrieveError
	if errors.As(err, &re) {
		return apperrors.Unauthenticated(err)
	}

	status := statusOf(err)
	switch {
	case status == http.StatusUnauthorized:
		return apperrors.Unauthenticated(err)
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return apperrors.Upstream(err)
	case status >= http.StatusBadRequest:
		return err
	}
	return apperrors.Upstream(err)
}

// isRetryable checks if an error is retryable.
func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	if status := statusOf(err); status != 0 {
		return status == http.StatusTooManyRequests || status >= http.StatusInternalServerError
	}
	errStr := err.Error()
	return strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504")
}

// extractID extracts a catalog ID from a Spotify URL or URI of the given
// kind ("track", "artist"). Anything else is returned trimmed.
func extractID(input, kind string) string {
	input = strings.TrimSpace(input)
	if prefix := "spotify:" + kind + ":"; strings.HasPrefix(input, prefix) {
		return strings.TrimPrefix(input, prefix)
	}

	// https://open.spotify.com/track/ID or https://open.spotify.com/intl-XX/track/ID
	if sep := "/" + kind + "/"; strings.Contains(input, "open.spotify.com") && strings.Contains(input, sep) {
		parts := strings.Split(input, sep)
		id := strings.Split(parts[len(parts)-1], "?")[0]
		return strings.TrimRight(id, "/")
	}

	return input
}
