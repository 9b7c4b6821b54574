package web

import (
	"context"
	"crypto/subtle"
	"net/http"

	"github.com/go-chi/httprate"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tastedeck/internal/domain/account"
)

// AdminTokenHeader is the header carrying the admin token.
const AdminTokenHeader = "X-Admin-Token"

type userKey struct{}

// requestUser is the authenticated caller of one request.
type requestUser struct {
	SessionID string
	Session   account.Session
	Client    UserClient
}

func userFrom(ctx context.Context) *requestUser {
	u, _ := ctx.Value(userKey{}).(*requestUser)
	return u
}

// securityHeaders sets the response headers every page carries.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("Content-Security-Policy", "default-src 'self'; img-src 'self' https://*.scdn.co https://*.spotifycdn.com; style-src 'self' 'unsafe-inline'")
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "same-origin")
		if r.TLS != nil {
			h.Set("Strict-Transport-Security", "max-age=63072000; includeSubDomains")
		}
		next.ServeHTTP(w, r)
	})
}

// requireSession resolves the session cookie into a provider client. Without
// a valid session, pages redirect to /login and the API answers 401. After
// the handler ran, a token refreshed by the client is written back to the
// session.
func (s *Server) requireSession(api bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id, ok := s.readCookie(r, sessionCookie)
			if !ok {
				s.unauthenticated(w, r, api)
				return
			}
			sess, err := s.sessions.Get(id)
			if err != nil || sess.Token == nil {
				zlog.Debug().Msgf("rejecting session: error=%v", err)
				s.clearCookie(w, sessionCookie)
				s.unauthenticated(w, r, api)
				return
			}

			client := s.connect(r.Context(), sess.Token)
			u := &requestUser{SessionID: id, Session: sess, Client: client}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey{}, u)))

			if tok, err := client.Token(); err == nil && tok.AccessToken != sess.Token.AccessToken {
				if err := s.sessions.UpdateToken(id, tok); err == nil {
					zlog.Debug().Msgf("stored refreshed token: user=%s", sess.UserID)
				}
			}
		})
	}
}

func (s *Server) unauthenticated(w http.ResponseWriter, r *http.Request, api bool) {
	if api {
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "login required", Login: "/login"})
		return
	}
	http.Redirect(w, r, "/login", http.StatusFound)
}

// requireAdmin validates the admin token header.
func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token := r.Header.Get(AdminTokenHeader)
		if token == "" || subtle.ConstantTimeCompare([]byte(token), []byte(s.cfg.AdminToken)) != 1 {
			writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "invalid admin token"})
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) rateLimit() func(http.Handler) http.Handler {
	if s.cfg.RateLimit <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	return httprate.Limit(
		s.cfg.RateLimit,
		s.cfg.RateWindow,
		httprate.WithKeyFuncs(httprate.KeyByIP),
		httprate.WithLimitHandler(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "rate limit exceeded"})
		}),
	)
}
