package web

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/oauth2"

	"github.com/osa030/tastedeck/internal/app/dashboard"
	"github.com/osa030/tastedeck/internal/app/session"
	"github.com/osa030/tastedeck/internal/domain/apperrors"
	"github.com/osa030/tastedeck/internal/domain/listening"
	"github.com/osa030/tastedeck/internal/domain/suggestion"
	"github.com/osa030/tastedeck/internal/domain/track"
	"github.com/osa030/tastedeck/internal/infra/cache"
	"github.com/osa030/tastedeck/internal/infra/spotify"
)

const testKey = "0123456789abcdef0123456789abcdef"

type fakeAuth struct {
	exchangeErr error
	gotState    string
}

func (a *fakeAuth) AuthURL(state string) string {
	return "https://accounts.example.com/authorize?state=" + url.QueryEscape(state)
}

func (a *fakeAuth) Exchange(_ context.Context, state string, r *http.Request) (*oauth2.Token, error) {
	a.gotState = state
	if a.exchangeErr != nil {
		return nil, a.exchangeErr
	}
	if r.URL.Query().Get("state") != state {
		return nil, apperrors.Unauthenticated(errors.New("state mismatch"))
	}
	return &oauth2.Token{AccessToken: "access-1", RefreshToken: "refresh-1"}, nil
}

type fakeClient struct {
	tok *oauth2.Token
}

func (c *fakeClient) TopTracks(context.Context, listening.Window, int) ([]track.Track, error) {
	return nil, nil
}

func (c *fakeClient) TopArtists(context.Context, listening.Window, int) ([]track.Artist, error) {
	return nil, nil
}

func (c *fakeClient) Track(context.Context, string) (*track.Track, error)   { return nil, nil }
func (c *fakeClient) Artist(context.Context, string) (*track.Artist, error) { return nil, nil }

func (c *fakeClient) SearchTracks(context.Context, string, int) ([]track.Track, error) {
	return nil, nil
}

func (c *fakeClient) SearchArtists(context.Context, string, int) ([]track.Artist, error) {
	return nil, nil
}

func (c *fakeClient) CurrentUser(context.Context) (*spotify.User, error) {
	return &spotify.User{ID: "user-1", DisplayName: "User One"}, nil
}

func (c *fakeClient) Token() (*oauth2.Token, error) {
	return c.tok, nil
}

type fakeDashboard struct {
	mu       sync.Mutex
	requests []dashboard.Request
	set      suggestion.Set
	view     dashboard.View
	history  listening.History
	err      error
	purged   int
}

func (d *fakeDashboard) record(req dashboard.Request) {
	d.mu.Lock()
	d.requests = append(d.requests, req)
	d.mu.Unlock()
}

func (d *fakeDashboard) Suggestions(_ context.Context, req dashboard.Request) (suggestion.Set, error) {
	d.record(req)
	return d.set, d.err
}

func (d *fakeDashboard) Dashboard(_ context.Context, req dashboard.Request) (dashboard.View, error) {
	d.record(req)
	return d.view, d.err
}

func (d *fakeDashboard) History(_ context.Context, req dashboard.Request) (listening.History, error) {
	d.record(req)
	return d.history, d.err
}

func (d *fakeDashboard) Purge() int {
	d.purged++
	return 7
}

func (d *fakeDashboard) Stats() cache.Stats {
	return cache.Stats{Hits: 3, Misses: 1, Entries: 2}
}

type testEnv struct {
	srv      *Server
	handler  http.Handler
	auth     *fakeAuth
	svc      *fakeDashboard
	sessions *session.Registry
	// refreshed is returned by every client's Token.
	refreshed *oauth2.Token
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	env := &testEnv{
		auth:     &fakeAuth{},
		svc:      &fakeDashboard{},
		sessions: session.NewRegistry(time.Hour),
	}
	connect := func(_ context.Context, tok *oauth2.Token) UserClient {
		if env.refreshed != nil {
			return &fakeClient{tok: env.refreshed}
		}
		return &fakeClient{tok: tok}
	}
	srv, err := NewServer(Config{
		SigningKey:    testKey,
		AdminToken:    "admin-secret",
		RateLimit:     100,
		RateWindow:    time.Minute,
		DefaultWindow: listening.WindowMedium,
	}, env.auth, connect, env.svc, env.sessions)
	require.NoError(t, err)
	env.srv = srv
	env.handler = srv.Router()
	return env
}

func (e *testEnv) login(t *testing.T) (string, *http.Cookie) {
	t.Helper()
	id, err := e.sessions.Create("user-1", "User One", &oauth2.Token{AccessToken: "access-1", RefreshToken: "refresh-1"})
	require.NoError(t, err)
	return id, &http.Cookie{Name: sessionCookie, Value: e.srv.signer.sign(id)}
}

func (e *testEnv) do(req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.handler.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func findCookie(rec *httptest.ResponseRecorder, name string) *http.Cookie {
	for _, c := range rec.Result().Cookies() {
		if c.Name == name {
			return c
		}
	}
	return nil
}

func TestNewServerRequiresSigningKey(t *testing.T) {
	_, err := NewServer(Config{SigningKey: "short"}, &fakeAuth{}, nil, &fakeDashboard{}, session.NewRegistry(time.Hour))
	assert.Error(t, err)
}

func TestSigner(t *testing.T) {
	s := signer{key: []byte(testKey)}
	signed := s.sign("value|with|pipes")

	v, ok := s.verify(signed)
	assert.True(t, ok)
	assert.Equal(t, "value|with|pipes", v)

	_, ok = s.verify("other" + signed)
	assert.False(t, ok)
	_, ok = signer{key: []byte("another-key-0123456")}.verify(signed)
	assert.False(t, ok)
	_, ok = s.verify("no-signature")
	assert.False(t, ok)
}

func TestLoginFlow(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/login", nil))
	require.Equal(t, http.StatusFound, rec.Code)
	stateCk := findCookie(rec, stateCookie)
	require.NotNil(t, stateCk)
	assert.True(t, stateCk.HttpOnly)

	state, ok := env.srv.signer.verify(stateCk.Value)
	require.True(t, ok)
	loc, err := url.Parse(rec.Header().Get("Location"))
	require.NoError(t, err)
	assert.Equal(t, state, loc.Query().Get("state"))

	req := httptest.NewRequest(http.MethodGet, "/callback?code=abc&state="+url.QueryEscape(state), nil)
	req.AddCookie(stateCk)
	rec = env.do(req)
	require.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/", rec.Header().Get("Location"))
	assert.Equal(t, state, env.auth.gotState)

	sessCk := findCookie(rec, sessionCookie)
	require.NotNil(t, sessCk)
	id, ok := env.srv.signer.verify(sessCk.Value)
	require.True(t, ok)
	sess, err := env.sessions.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "user-1", sess.UserID)
	assert.Equal(t, "access-1", sess.Token.AccessToken)
}

func TestCallbackFailures(t *testing.T) {
	t.Run("missing state cookie", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(httptest.NewRequest(http.MethodGet, "/callback?code=abc&state=x", nil))
		assert.Equal(t, http.StatusBadRequest, rec.Code)
		assert.Equal(t, 0, env.sessions.Count())
	})

	t.Run("tampered state cookie", func(t *testing.T) {
		env := newTestEnv(t)
		req := httptest.NewRequest(http.MethodGet, "/callback?code=abc&state=x", nil)
		req.AddCookie(&http.Cookie{Name: stateCookie, Value: "x|forged"})
		rec := env.do(req)
		assert.Equal(t, http.StatusBadRequest, rec.Code)
	})

	t.Run("state mismatch", func(t *testing.T) {
		env := newTestEnv(t)
		req := httptest.NewRequest(http.MethodGet, "/callback?code=abc&state=other", nil)
		req.AddCookie(&http.Cookie{Name: stateCookie, Value: env.srv.signer.sign("expected")})
		rec := env.do(req)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
		assert.Equal(t, 0, env.sessions.Count())
	})

	t.Run("access denied", func(t *testing.T) {
		env := newTestEnv(t)
		rec := env.do(httptest.NewRequest(http.MethodGet, "/callback?error=access_denied", nil))
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})
}

func TestLogout(t *testing.T) {
	env := newTestEnv(t)
	id, ck := env.login(t)

	req := httptest.NewRequest(http.MethodPost, "/logout", nil)
	req.AddCookie(ck)
	rec := env.do(req)
	assert.Equal(t, http.StatusOK, rec.Code)
	_, err := env.sessions.Get(id)
	assert.Error(t, err)
	cleared := findCookie(rec, sessionCookie)
	require.NotNil(t, cleared)
	assert.Negative(t, cleared.MaxAge)
}

func TestUnauthenticatedRequests(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/", nil))
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))

	rec = env.do(httptest.NewRequest(http.MethodPost, "/api/suggestions", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, "/login", body["login"])

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	req.AddCookie(&http.Cookie{Name: sessionCookie, Value: env.srv.signer.sign("unknown-session")})
	rec = env.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	assert.Empty(t, env.svc.requests)
}

func TestSuggestionsAPI(t *testing.T) {
	env := newTestEnv(t)
	_, ck := env.login(t)
	env.svc.set = suggestion.Set{
		Songs:   []suggestion.Suggestion{{Kind: suggestion.KindSong, ID: "t1", Title: "Song A", Artist: "Artist X", URL: "https://open.spotify.com/track/t1", Popularity: 60}},
		Artists: nil,
	}

	req := httptest.NewRequest(http.MethodPost, "/api/suggestions?window=long", strings.NewReader(`{"window":"recent","count":5}`))
	req.AddCookie(ck)
	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	body := decodeBody(t, rec)
	songs := body["songs"].([]any)
	require.Len(t, songs, 1)
	assert.Equal(t, "Song A", songs[0].(map[string]any)["title"])
	assert.Equal(t, []any{}, body["artists"])

	require.Len(t, env.svc.requests, 1)
	got := env.svc.requests[0]
	assert.Equal(t, listening.WindowRecent, got.Window)
	assert.Equal(t, 5, got.Count)
	assert.Equal(t, "user-1", got.UserID)
	assert.NotNil(t, got.Catalog)
}

func TestSuggestionsAPIErrors(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		body       string
		svcErr     error
		wantStatus int
	}{
		{name: "invalid window", target: "/api/suggestions?window=decade", wantStatus: http.StatusBadRequest},
		{name: "invalid count", target: "/api/suggestions?count=ten", wantStatus: http.StatusBadRequest},
		{name: "negative count", target: "/api/suggestions", body: `{"count":-1}`, wantStatus: http.StatusBadRequest},
		{name: "unknown field", target: "/api/suggestions", body: `{"limit":3}`, wantStatus: http.StatusBadRequest},
		{name: "upstream", target: "/api/suggestions", svcErr: apperrors.Upstream(errors.New("model down")), wantStatus: http.StatusBadGateway},
		{name: "unauthenticated", target: "/api/suggestions", svcErr: apperrors.Unauthenticated(errors.New("revoked")), wantStatus: http.StatusUnauthorized},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newTestEnv(t)
			_, ck := env.login(t)
			env.svc.err = tt.svcErr

			req := httptest.NewRequest(http.MethodPost, tt.target, strings.NewReader(tt.body))
			req.AddCookie(ck)
			rec := env.do(req)
			assert.Equal(t, tt.wantStatus, rec.Code)
			assert.NotEmpty(t, decodeBody(t, rec)["error"])
		})
	}
}

func TestUnauthenticatedEndsSession(t *testing.T) {
	env := newTestEnv(t)
	id, ck := env.login(t)
	env.svc.err = apperrors.Unauthenticated(errors.New("revoked"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(ck)
	rec := env.do(req)
	assert.Equal(t, http.StatusFound, rec.Code)
	assert.Equal(t, "/login", rec.Header().Get("Location"))
	_, err := env.sessions.Get(id)
	assert.Error(t, err)
}

func TestTokenWriteBack(t *testing.T) {
	env := newTestEnv(t)
	id, ck := env.login(t)
	env.refreshed = &oauth2.Token{AccessToken: "access-2"}

	req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
	req.AddCookie(ck)
	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	sess, err := env.sessions.Get(id)
	require.NoError(t, err)
	assert.Equal(t, "access-2", sess.Token.AccessToken)
	assert.Equal(t, "refresh-1", sess.Token.RefreshToken)
}

func TestHistoryAPI(t *testing.T) {
	env := newTestEnv(t)
	_, ck := env.login(t)
	env.svc.history = listening.History{
		Window: listening.WindowRecent,
		Tracks: []track.Track{
			{ID: "t1", Name: "Song A", Album: "Album", Artists: []string{"Artist X"}, ImageURL: track.OptionalString("https://i.scdn.co/image/1"), URL: "https://open.spotify.com/track/t1", Popularity: 70},
			{ID: "t2", Name: "Song B", Artists: []string{"Artist Y"}, URL: "https://open.spotify.com/track/t2"},
		},
		Artists: []track.Artist{{ID: "a1", Name: "Artist X", URL: "https://open.spotify.com/artist/a1"}},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/history?window=recent&count=2", nil)
	req.AddCookie(ck)
	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)

	body := decodeBody(t, rec)
	assert.Equal(t, "recent", body["window"])
	tracks := body["tracks"].([]any)
	require.Len(t, tracks, 2)
	first := tracks[0].(map[string]any)
	second := tracks[1].(map[string]any)
	assert.Equal(t, "https://i.scdn.co/image/1", first["image_url"])
	assert.Contains(t, second, "image_url")
	assert.Nil(t, second["image_url"])
	assert.Nil(t, second["preview_url"])
	artists := body["artists"].([]any)
	assert.Equal(t, []any{}, artists[0].(map[string]any)["genres"])
}

func TestHistoryCSV(t *testing.T) {
	env := newTestEnv(t)
	_, ck := env.login(t)
	env.svc.history = listening.History{
		Window:  listening.WindowLong,
		Tracks:  []track.Track{{Name: "Song, With Comma", Album: "Album", Artists: []string{"A", "B"}, Popularity: 50, URL: "u1"}},
		Artists: []track.Artist{{Name: "Artist X", Popularity: 40, URL: "u2"}},
	}

	req := httptest.NewRequest(http.MethodGet, "/api/history.csv", nil)
	req.AddCookie(ck)
	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "text/csv; charset=utf-8", rec.Header().Get("Content-Type"))
	assert.Contains(t, rec.Header().Get("Content-Disposition"), "history-long.csv")

	lines := strings.Split(strings.TrimSpace(rec.Body.String()), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "kind,rank,name,artists,album,popularity,url", lines[0])
	assert.Equal(t, `track,1,"Song, With Comma",A; B,Album,50,u1`, lines[1])
	assert.Equal(t, "artist,1,Artist X,,,40,u2", lines[2])
}

func TestDashboardPage(t *testing.T) {
	env := newTestEnv(t)
	_, ck := env.login(t)
	env.svc.view = dashboard.View{
		Window: listening.WindowMedium,
		Count:  10,
		History: listening.History{
			Window: listening.WindowMedium,
			Tracks: []track.Track{{ID: "t1", Name: "Known <Song>", Artists: []string{"Artist X"}, URL: "https://open.spotify.com/track/t1"}},
		},
		Suggestions: suggestion.Set{
			Songs: []suggestion.Suggestion{{Title: "Fresh Song", Artist: "Artist Z", URL: "https://open.spotify.com/track/t9"}},
		},
	}

	req := httptest.NewRequest(http.MethodGet, "/?window=medium", nil)
	req.AddCookie(ck)
	rec := env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	page := rec.Body.String()
	assert.Contains(t, page, "Hi, User One")
	assert.Contains(t, page, "Known &lt;Song&gt;")
	assert.Contains(t, page, "Fresh Song")
	assert.NotContains(t, page, `class="notice"`)
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))

	env.svc.view.Notice = dashboard.NoticeUnavailable
	env.svc.view.Suggestions = suggestion.Set{}
	req = httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(ck)
	rec = env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `class="notice"`)
	assert.Contains(t, rec.Body.String(), "Known &lt;Song&gt;")
	assert.NotContains(t, rec.Body.String(), "Fresh Song")
}

func TestDashboardPageUpstreamFailure(t *testing.T) {
	env := newTestEnv(t)
	_, ck := env.login(t)
	env.svc.err = apperrors.Upstream(errors.New("catalog down"))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(ck)
	rec := env.do(req)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
}

func TestAdminEndpoints(t *testing.T) {
	env := newTestEnv(t)
	env.login(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/admin/cache", nil))
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req := httptest.NewRequest(http.MethodGet, "/admin/cache", nil)
	req.Header.Set(AdminTokenHeader, "wrong")
	rec = env.do(req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	req = httptest.NewRequest(http.MethodGet, "/admin/cache", nil)
	req.Header.Set(AdminTokenHeader, "admin-secret")
	rec = env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	body := decodeBody(t, rec)
	assert.Equal(t, float64(1), body["sessions"])
	assert.Equal(t, float64(3), body["cache"].(map[string]any)["hits"])

	req = httptest.NewRequest(http.MethodDelete, "/admin/cache", nil)
	req.Header.Set(AdminTokenHeader, "admin-secret")
	rec = env.do(req)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, float64(7), decodeBody(t, rec)["purged"])
	assert.Equal(t, 1, env.svc.purged)
}

func TestHealthAndMetrics(t *testing.T) {
	env := newTestEnv(t)

	rec := env.do(httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody(t, rec)["status"])

	rec = env.do(httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tastedeck_active_sessions")
}

func TestAPIRateLimit(t *testing.T) {
	env := newTestEnv(t)
	env.srv.cfg.RateLimit = 2
	handler := env.srv.Router()
	_, ck := env.login(t)

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodGet, "/api/history", nil)
		req.AddCookie(ck)
		rec := httptest.NewRecorder()
		handler.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}
