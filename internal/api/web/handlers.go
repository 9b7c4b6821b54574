package web

import (
	"encoding/csv"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tastedeck/internal/app/dashboard"
	"github.com/osa030/tastedeck/internal/domain/apperrors"
	"github.com/osa030/tastedeck/internal/domain/listening"
)

const maxBodyBytes = 1 << 20

var errBadRequest = errors.New("bad request")

// parseRequest reads window and count from the query string, overridden by a
// JSON body when one is sent.
func (s *Server) parseRequest(r *http.Request, u *requestUser) (dashboard.Request, error) {
	in := suggestionsRequest{Window: r.URL.Query().Get("window")}
	if c := r.URL.Query().Get("count"); c != "" {
		n, err := strconv.Atoi(c)
		if err != nil {
			return dashboard.Request{}, errors.Mark(errors.Newf("invalid count %q", c), errBadRequest)
		}
		in.Count = n
	}

	if r.Body != nil && r.Method == http.MethodPost {
		dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxBodyBytes))
		dec.DisallowUnknownFields()
		var body suggestionsRequest
		switch err := dec.Decode(&body); {
		case errors.Is(err, io.EOF):
		case err != nil:
			return dashboard.Request{}, errors.Mark(errors.Wrap(err, "invalid request body"), errBadRequest)
		default:
			if body.Window != "" {
				in.Window = body.Window
			}
			if body.Count != 0 {
				in.Count = body.Count
			}
		}
	}

	if in.Count < 0 {
		return dashboard.Request{}, errors.Mark(errors.Newf("invalid count %d", in.Count), errBadRequest)
	}
	window, err := listening.ParseWindow(in.Window, s.cfg.DefaultWindow)
	if err != nil {
		return dashboard.Request{}, errors.Mark(err, errBadRequest)
	}

	return dashboard.Request{
		Catalog: u.Client,
		UserID:  u.Session.UserID,
		Window:  window,
		Count:   in.Count,
	}, nil
}

// apiError writes the JSON error for err. An expired provider session ends
// the dashboard session.
func (s *Server) apiError(w http.ResponseWriter, u *requestUser, err error) {
	switch {
	case errors.Is(err, errBadRequest):
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
	case apperrors.IsUnauthenticated(err):
		s.endSession(w, u)
		writeJSON(w, http.StatusUnauthorized, errorResponse{Error: "login required", Login: "/login"})
	default:
		zlog.Warn().Msgf("request failed: user=%s error=%v", u.Session.UserID, err)
		writeJSON(w, http.StatusBadGateway, errorResponse{Error: "upstream service unavailable"})
	}
}

func (s *Server) handleSuggestions(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	req, err := s.parseRequest(r, u)
	if err != nil {
		s.apiError(w, u, err)
		return
	}

	set, err := s.svc.Suggestions(r.Context(), req)
	if err != nil {
		s.apiError(w, u, err)
		return
	}
	writeJSON(w, http.StatusOK, newSuggestionsResponse(set))
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	req, err := s.parseRequest(r, u)
	if err != nil {
		s.apiError(w, u, err)
		return
	}

	h, err := s.svc.History(r.Context(), req)
	if err != nil {
		s.apiError(w, u, err)
		return
	}
	writeJSON(w, http.StatusOK, newHistoryResponse(h))
}

func (s *Server) handleHistoryCSV(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	req, err := s.parseRequest(r, u)
	if err != nil {
		s.apiError(w, u, err)
		return
	}

	h, err := s.svc.History(r.Context(), req)
	if err != nil {
		s.apiError(w, u, err)
		return
	}

	w.Header().Set("Content-Type", "text/csv; charset=utf-8")
	w.Header().Set("Content-Disposition", `attachment; filename="history-`+string(h.Window)+`.csv"`)
	if err := writeHistoryCSV(w, h); err != nil {
		zlog.Warn().Msgf("failed to write CSV: %v", err)
	}
}

// writeHistoryCSV writes one row per track and artist in rank order.
func writeHistoryCSV(out io.Writer, h listening.History) error {
	cw := csv.NewWriter(out)
	rows := [][]string{{"kind", "rank", "name", "artists", "album", "popularity", "url"}}
	for i, t := range h.Tracks {
		rows = append(rows, []string{"track", strconv.Itoa(i + 1), t.Name, strings.Join(t.Artists, "; "), t.Album, strconv.Itoa(t.Popularity), t.URL})
	}
	for i, a := range h.Artists {
		rows = append(rows, []string{"artist", strconv.Itoa(i + 1), a.Name, "", "", strconv.Itoa(a.Popularity), a.URL})
	}
	if err := cw.WriteAll(rows); err != nil {
		return errors.Wrap(err, "failed to write CSV")
	}
	return nil
}

func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	u := userFrom(r.Context())
	req, err := s.parseRequest(r, u)
	if err != nil {
		s.renderMessage(w, http.StatusBadRequest, "Bad request", err.Error())
		return
	}

	view, err := s.svc.Dashboard(r.Context(), req)
	if err != nil {
		if apperrors.IsUnauthenticated(err) {
			s.endSession(w, u)
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		zlog.Warn().Msgf("dashboard failed: user=%s error=%v", u.Session.UserID, err)
		s.renderMessage(w, http.StatusBadGateway, "Spotify is unavailable", "Your listening history could not be loaded. Try again shortly.")
		return
	}

	s.render(w, http.StatusOK, "dashboard.html", dashboardPage{
		User:    u.Session.Name(),
		View:    view,
		Windows: windowOptions(view.Window, view.Count),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleCacheStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, cacheStatsResponse{Cache: s.svc.Stats(), Sessions: s.sessions.Count()})
}

func (s *Server) handlePurgeCache(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, purgeResponse{Purged: s.svc.Purge()})
}
