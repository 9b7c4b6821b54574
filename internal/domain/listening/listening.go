// Package listening provides the listening window and history entities.
package listening

import (
	"strings"

	"github.com/cockroachdb/errors"

	"github.com/osa030/tastedeck/internal/domain/track"
)

// Window is the statistical period the provider computes top items over.
type Window string

const (
	WindowRecent Window = "recent" // ~4 weeks
	WindowMedium Window = "medium" // ~6 months
	WindowLong   Window = "long"   // ~1 year
)

// ErrInvalidWindow is returned by ParseWindow for unknown names.
var ErrInvalidWindow = errors.New("invalid listening window")

// ParseWindow parses a window name. Both the dashboard names (recent, medium,
// long) and the provider range names (short_term, medium_term, long_term) are
// accepted. An empty string yields fallback.
func ParseWindow(s string, fallback Window) (Window, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return fallback, nil
	case "recent", "short", "short_term":
		return WindowRecent, nil
	case "medium", "medium_term":
		return WindowMedium, nil
	case "long", "long_term":
		return WindowLong, nil
	default:
		return "", errors.Wrapf(ErrInvalidWindow, "%q", s)
	}
}

// Range returns the provider's time range parameter for the window.
func (w Window) Range() string {
	switch w {
	case WindowRecent:
		return "short_term"
	case WindowLong:
		return "long_term"
	default:
		return "medium_term"
	}
}

// Valid reports whether w is one of the known windows.
func (w Window) Valid() bool {
	return w == WindowRecent || w == WindowMedium || w == WindowLong
}

// ClampCount bounds a requested result count to [1, limit]. Non-positive
// requests fall back to def.
func ClampCount(requested, def, limit int) int {
	if requested <= 0 {
		requested = def
	}
	if requested < 1 {
		requested = 1
	}
	if limit > 0 && requested > limit {
		requested = limit
	}
	return requested
}

// History is the user's top tracks and artists for one window.
type History struct {
	Window  Window
	Tracks  []track.Track
	Artists []track.Artist
}

// TrackLabels returns "Title - Artist" labels for the top tracks.
func (h History) TrackLabels() []string {
	labels := make([]string, 0, len(h.Tracks))
	for i := range h.Tracks {
		labels = append(labels, h.Tracks[i].Label())
	}
	return labels
}

// ArtistNames returns the names of the top artists.
func (h History) ArtistNames() []string {
	names := make([]string, 0, len(h.Artists))
	for _, a := range h.Artists {
		names = append(names, a.Name)
	}
	return names
}

// Empty reports whether the history has neither tracks nor artists.
func (h History) Empty() bool {
	return len(h.Tracks) == 0 && len(h.Artists) == 0
}
