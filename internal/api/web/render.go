package web

import (
	"bytes"
	"html/template"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tastedeck/internal/app/dashboard"
	"github.com/osa030/tastedeck/internal/domain/listening"
)

var templateFuncs = template.FuncMap{
	"deref": func(s *string) string {
		if s == nil {
			return ""
		}
		return *s
	},
	"inc":  func(i int) int { return i + 1 },
	"join": func(s []string) string { return strings.Join(s, ", ") },
}

type dashboardPage struct {
	User    string
	View    dashboard.View
	Windows []windowOption
}

type windowOption struct {
	Label    string
	Href     string
	Selected bool
}

type messagePage struct {
	Title   string
	Message string
}

var windowLabels = []struct {
	window listening.Window
	label  string
}{
	{listening.WindowRecent, "Last 4 weeks"},
	{listening.WindowMedium, "Last 6 months"},
	{listening.WindowLong, "All time"},
}

func windowOptions(selected listening.Window, count int) []windowOption {
	opts := make([]windowOption, 0, len(windowLabels))
	for _, wl := range windowLabels {
		q := url.Values{}
		q.Set("window", string(wl.window))
		q.Set("count", strconv.Itoa(count))
		opts = append(opts, windowOption{
			Label:    wl.label,
			Href:     "/?" + q.Encode(),
			Selected: wl.window == selected,
		})
	}
	return opts
}

// render executes a template into a buffer so a failure never leaves a
// half-written page.
func (s *Server) render(w http.ResponseWriter, status int, name string, data any) {
	var buf bytes.Buffer
	if err := s.pages.ExecuteTemplate(&buf, name, data); err != nil {
		zlog.Error().Msgf("failed to render template: name=%s error=%v", name, err)
		http.Error(w, "internal server error", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	_, _ = buf.WriteTo(w)
}

func (s *Server) renderMessage(w http.ResponseWriter, status int, title, message string) {
	s.render(w, status, "message.html", messagePage{Title: title, Message: message})
}
