package catalog

import (
	"regexp"
	"strings"

	"github.com/osa030/tastedeck/internal/domain/listening"
	"github.com/osa030/tastedeck/internal/domain/suggestion"
	"github.com/osa030/tastedeck/internal/domain/track"
)

var (
	remasterPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*-?\s*\d{4}\s+remaster(ed)?`),      // "- 2011 Remaster"
		regexp.MustCompile(`\s*\(remaster(ed)?\s*\d{0,4}\)`),     // "(Remastered 2023)"
		regexp.MustCompile(`\s*\[remaster(ed)?\s*\d{0,4}\]`),     // "[Remastered]"
		regexp.MustCompile(`\s*-?\s*remaster(ed)?(\s+version)?`), // "- Remastered"
		regexp.MustCompile(`\s*\(.*?remaster.*?\)`),              // "(Any Remaster text)"
		regexp.MustCompile(`\s*\[.*?remaster.*?\]`),              // "[Any Remaster text]"
	}
	versionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`\s*\((single|album|radio|mono|stereo|extended)\s+version\)`), // "(Single Version)"
		regexp.MustCompile(`\s*\((radio|single|album|clean)\s+edit\)`),                   // "(Radio Edit)"
		regexp.MustCompile(`\s+-\s+live(\s+(at|from|in)\s.*)?$`),                         // "- Live at ..."
		regexp.MustCompile(`\s*\(live\)`),                                                // "(Live)"
		regexp.MustCompile(`\s*-?\s*radio\s+edit`),                                       // "- Radio Edit"
		regexp.MustCompile(`\s*-?\s*single\s+version`),                                   // "- Single Version"
	}
	whitespace = regexp.MustCompile(`\s+`)
)

// normalizeTrackName lowercases a catalog title and removes remaster and
// version decorations, so "Blue - 2011 Remaster" and "Blue" compare equal.
func normalizeTrackName(name string) string {
	normalized := strings.ToLower(name)
	for _, pattern := range remasterPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}
	for _, pattern := range versionPatterns {
		normalized = pattern.ReplaceAllString(normalized, "")
	}
	normalized = whitespace.ReplaceAllString(strings.TrimSpace(normalized), " ")
	return strings.TrimRight(normalized, " -")
}

// index is a set of normalised song and artist keys plus catalog IDs. Song
// keys compare case and whitespace insensitively; with versions set, remaster
// and version decorations of catalog titles are ignored as well.
type index struct {
	songs    map[string]bool
	artists  map[string]bool
	ids      map[string]bool
	versions bool
}

func newIndex(versions bool) *index {
	return &index{
		songs:    make(map[string]bool),
		artists:  make(map[string]bool),
		ids:      make(map[string]bool),
		versions: versions,
	}
}

func historyIndex(h listening.History, versions bool) *index {
	idx := newIndex(versions)
	for i := range h.Tracks {
		idx.addTrack(&h.Tracks[i])
	}
	for i := range h.Artists {
		idx.addArtist(h.Artists[i].ID, h.Artists[i].Name)
	}
	return idx
}

// addTrack records a track under every credited artist.
func (idx *index) addTrack(t *track.Track) {
	if t.ID != "" {
		idx.ids["track:"+t.ID] = true
	}
	for _, a := range t.Artists {
		idx.songs[suggestion.SongKey(t.Name, a)] = true
		if idx.versions {
			idx.songs[suggestion.SongKey(normalizeTrackName(t.Name), a)] = true
		}
	}
}

func (idx *index) addSong(title, artist string) {
	idx.songs[suggestion.SongKey(title, artist)] = true
}

func (idx *index) addArtist(id, name string) {
	if id != "" {
		idx.ids["artist:"+id] = true
	}
	idx.artists[suggestion.Normalize(name)] = true
}

func (idx *index) hasSong(title, artist string) bool {
	return idx.songs[suggestion.SongKey(title, artist)]
}

// hasTrack reports whether a catalog hit is already indexed by ID or under
// any credited artist.
func (idx *index) hasTrack(t *track.Track) bool {
	if t.ID != "" && idx.ids["track:"+t.ID] {
		return true
	}
	for _, a := range t.Artists {
		if idx.hasSong(t.Name, a) {
			return true
		}
		if idx.versions && idx.hasSong(normalizeTrackName(t.Name), a) {
			return true
		}
	}
	return false
}

func (idx *index) hasArtist(id, name string) bool {
	if id != "" && idx.ids["artist:"+id] {
		return true
	}
	return idx.artists[suggestion.Normalize(name)]
}
