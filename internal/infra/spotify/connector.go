package spotify

import (
	"context"
	"net/http"

	"github.com/cockroachdb/errors"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"
	"golang.org/x/time/rate"

	"github.com/osa030/tastedeck/internal/domain/apperrors"
)

// Scopes requested at login.
var Scopes = []string{
	spotifyauth.ScopeUserTopRead,
	spotifyauth.ScopeUserReadPrivate,
}

// Config represents Spotify connector configuration.
type Config struct {
	ClientID          string
	ClientSecret      string
	RedirectURL       string
	RequestsPerSecond float64
	Burst             int
	Options
}

// Connector runs the authorization-code flow and hands out per-user clients.
// All clients share one upstream rate limiter.
type Connector struct {
	auth    *spotifyauth.Authenticator
	opts    Options
	limiter *rate.Limiter
}

// NewConnector creates a connector.
func NewConnector(cfg Config) (*Connector, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("spotify credentials are required")
	}

	auth := spotifyauth.New(
		spotifyauth.WithRedirectURL(cfg.RedirectURL),
		spotifyauth.WithClientID(cfg.ClientID),
		spotifyauth.WithClientSecret(cfg.ClientSecret),
		spotifyauth.WithScopes(Scopes...),
	)

	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst < 1 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}

	return &Connector{auth: auth, opts: cfg.Options, limiter: limiter}, nil
}

// AuthURL returns the provider login URL carrying state.
func (c *Connector) AuthURL(state string) string {
	return c.auth.AuthURL(state)
}

// Exchange completes the flow for the callback request r. The state query
// parameter must equal state.
func (c *Connector) Exchange(ctx context.Context, state string, r *http.Request) (*oauth2.Token, error) {
	tok, err := c.auth.Token(ctx, state, r)
	if err != nil {
		return nil, apperrors.Unauthenticated(errors.Wrap(err, "failed to exchange authorization code"))
	}
	return tok, nil
}

// Connect returns a client acting for the owner of tok. The token is
// refreshed transparently; read it back with Client.Token.
func (c *Connector) Connect(ctx context.Context, tok *oauth2.Token) *Client {
	return NewClient(c.auth.Client(ctx, tok), c.opts, c.limiter)
}
