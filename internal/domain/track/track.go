// Package track provides the Track and Artist domain entities.
package track

import "strings"

// Track represents a Spotify track summary shown on the dashboard.
// Contains only information retrieved from Spotify API.
type Track struct {
	ID         string   // Spotify Track ID
	Name       string   // Track title
	Album      string   // Album title
	Artists    []string // Artist names, in provider order
	ImageURL   *string  // Cover image URL (nil if the album has no images)
	URL        string   // Canonical Spotify URL
	PreviewURL *string  // 30s preview URL (nil if the provider omits it)
	Popularity int      // Popularity score (0-100)
}

// Artist represents a Spotify artist summary.
type Artist struct {
	ID         string   // Spotify Artist ID
	Name       string   // Artist name
	ImageURL   *string  // Profile image URL (nil if absent)
	URL        string   // Canonical Spotify URL
	Genres     []string // Genres reported by the provider
	Popularity int      // Popularity score (0-100)
}

// Image returns the cover image URL and whether one is present.
func (t *Track) Image() (string, bool) {
	if t.ImageURL == nil || *t.ImageURL == "" {
		return "", false
	}
	return *t.ImageURL, true
}

// Preview returns the preview URL and whether one is present.
func (t *Track) Preview() (string, bool) {
	if t.PreviewURL == nil || *t.PreviewURL == "" {
		return "", false
	}
	return *t.PreviewURL, true
}

// ArtistLine joins the artist names for display.
func (t *Track) ArtistLine() string {
	return strings.Join(t.Artists, ", ")
}

// Label renders the track as "Title - Artist, Artist".
func (t *Track) Label() string {
	if len(t.Artists) == 0 {
		return t.Name
	}
	return t.Name + " - " + t.ArtistLine()
}

// PrimaryArtist returns the first artist name, or "" when there is none.
func (t *Track) PrimaryArtist() string {
	if len(t.Artists) == 0 {
		return ""
	}
	return t.Artists[0]
}

// Image returns the artist image URL and whether one is present.
func (a *Artist) Image() (string, bool) {
	if a.ImageURL == nil || *a.ImageURL == "" {
		return "", false
	}
	return *a.ImageURL, true
}

// OptionalString returns a pointer to s, or nil when s is empty.
func OptionalString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
