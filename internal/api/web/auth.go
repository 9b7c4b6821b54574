package web

import (
	"net/http"

	zlog "github.com/rs/zerolog/log"
)

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := randomState()
	if err != nil {
		zlog.Error().Msgf("login failed: %v", err)
		s.renderMessage(w, http.StatusInternalServerError, "Login failed", "Could not start the login flow.")
		return
	}
	s.setCookie(w, stateCookie, state, stateTTL)
	http.Redirect(w, r, s.auth.AuthURL(state), http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if reason := r.URL.Query().Get("error"); reason != "" {
		zlog.Info().Msgf("login declined by provider: reason=%s", reason)
		s.clearCookie(w, stateCookie)
		s.renderMessage(w, http.StatusUnauthorized, "Login cancelled", "Spotify did not grant access.")
		return
	}

	state, ok := s.readCookie(r, stateCookie)
	if !ok {
		s.renderMessage(w, http.StatusBadRequest, "Login failed", "The login request expired or was tampered with.")
		return
	}
	s.clearCookie(w, stateCookie)

	ctx := r.Context()
	tok, err := s.auth.Exchange(ctx, state, r)
	if err != nil {
		zlog.Warn().Msgf("token exchange failed: %v", err)
		s.renderMessage(w, http.StatusUnauthorized, "Login failed", "Spotify rejected the login.")
		return
	}

	user, err := s.connect(ctx, tok).CurrentUser(ctx)
	if err != nil {
		zlog.Warn().Msgf("failed to fetch current user: %v", err)
		s.renderMessage(w, http.StatusBadGateway, "Login failed", "Could not load your Spotify profile.")
		return
	}

	id, err := s.sessions.Create(user.ID, user.DisplayName, tok)
	if err != nil {
		zlog.Error().Msgf("failed to create session: %v", err)
		s.renderMessage(w, http.StatusInternalServerError, "Login failed", "Could not create a session.")
		return
	}
	s.setCookie(w, sessionCookie, id, s.cfg.SessionTTL)
	zlog.Info().Msgf("user logged in: user=%s", user.ID)
	http.Redirect(w, r, "/", http.StatusFound)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	if id, ok := s.readCookie(r, sessionCookie); ok {
		s.sessions.Delete(id)
	}
	s.clearCookie(w, sessionCookie)
	s.clearCookie(w, stateCookie)
	s.renderMessage(w, http.StatusOK, "Signed out", "You have been signed out.")
}

// endSession drops a session whose token the provider no longer accepts.
func (s *Server) endSession(w http.ResponseWriter, u *requestUser) {
	zlog.Info().Msgf("provider rejected token, ending session: user=%s", u.Session.UserID)
	s.sessions.Delete(u.SessionID)
	s.clearCookie(w, sessionCookie)
}
