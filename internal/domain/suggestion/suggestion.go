// Package suggestion provides the recommendation candidate and validated
// suggestion entities.
package suggestion

import (
	"fmt"
	"strings"

	"github.com/osa030/tastedeck/internal/domain/listening"
)

// Separator splits a song line into title and artist. It is the only separator
// accepted by the parser and the one the prompt asks the model to use.
const Separator = " - "

// Kind distinguishes song suggestions from artist suggestions.
type Kind string

const (
	KindSong   Kind = "song"
	KindArtist Kind = "artist"
)

// Candidate is an unvalidated suggestion extracted from free text.
// Title is empty for bare artist candidates.
type Candidate struct {
	Title  string
	Artist string
}

// String renders the candidate as "Title - Artist", or the artist name alone.
func (c Candidate) String() string {
	if c.Title == "" {
		return c.Artist
	}
	return c.Title + Separator + c.Artist
}

// Candidates holds the song and artist candidates of one provider round.
type Candidates struct {
	Songs   []Candidate
	Artists []Candidate
}

// Len returns the total number of candidates.
func (c Candidates) Len() int {
	return len(c.Songs) + len(c.Artists)
}

// Suggestion is a candidate confirmed against the catalog.
type Suggestion struct {
	Kind       Kind     `json:"kind"`
	ID         string   `json:"id"`
	Title      string   `json:"title,omitempty"`
	Artist     string   `json:"artist"`
	Artists    []string `json:"artists,omitempty"`
	Album      string   `json:"album,omitempty"`
	ImageURL   *string  `json:"image_url,omitempty"`
	URL        string   `json:"url"`
	Popularity int      `json:"popularity"`
	Candidate  string   `json:"candidate"`
}

// Image returns the image URL and whether one is present.
func (s *Suggestion) Image() (string, bool) {
	if s.ImageURL == nil || *s.ImageURL == "" {
		return "", false
	}
	return *s.ImageURL, true
}

// Set is the unit stored in the result cache and returned to callers.
type Set struct {
	Songs   []Suggestion `json:"songs"`
	Artists []Suggestion `json:"artists"`
}

// Clone returns a deep copy of the set.
func (s Set) Clone() Set {
	return Set{
		Songs:   cloneSuggestions(s.Songs),
		Artists: cloneSuggestions(s.Artists),
	}
}

func cloneSuggestions(in []Suggestion) []Suggestion {
	out := make([]Suggestion, len(in))
	for i, sg := range in {
		if sg.Artists != nil {
			sg.Artists = append([]string(nil), sg.Artists...)
		}
		if sg.ImageURL != nil {
			v := *sg.ImageURL
			sg.ImageURL = &v
		}
		out[i] = sg
	}
	return out
}

// Key identifies a cached suggestion set. Scope isolates users; an empty
// scope is shared.
type Key struct {
	Scope  string
	Window listening.Window
	Count  int
}

// String renders the key as "scope:window:count".
func (k Key) String() string {
	scope := k.Scope
	if scope == "" {
		scope = "-"
	}
	return fmt.Sprintf("%s:%s:%d", scope, k.Window, k.Count)
}

// SplitSong splits "Title - Artist" on the separator. It succeeds only when
// the separator occurs exactly once and both sides are non-empty.
func SplitSong(line string) (title, artist string, ok bool) {
	parts := strings.Split(line, Separator)
	if len(parts) != 2 {
		return "", "", false
	}
	title = collapse(parts[0])
	artist = collapse(parts[1])
	if title == "" || artist == "" {
		return "", "", false
	}
	return title, artist, true
}

// Normalize lowercases s, trims it and collapses internal whitespace. It is
// the comparison form used for duplicate detection.
func Normalize(s string) string {
	return strings.ToLower(collapse(s))
}

// SongKey returns the duplicate-detection key for a title and artist.
func SongKey(title, artist string) string {
	return Normalize(title) + Separator + Normalize(artist)
}

func collapse(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
