package suggest

import (
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tastedeck/internal/domain/apperrors"
	"github.com/osa030/tastedeck/internal/domain/suggestion"
)

type section int

const (
	sectionNone section = iota
	sectionSongs
	sectionArtists
)

type tokenKind int

const (
	tokenBlank tokenKind = iota
	tokenHeader
	tokenItem
)

type token struct {
	kind    tokenKind
	section section // set for headers
	text    string  // cleaned item text
	raw     string
}

var (
	listMarker = regexp.MustCompile(`^(?:\(?\d+[.):]\s*|[-*•+]\s+)`)
	// A header is the marker alone, optionally after up to three words
	// ("Recommended Songs:").
	header = regexp.MustCompile(`^(?:[\pL\pN'&-]+\s+){0,3}(songs|artists)\s*:$`)
	emphasis   = strings.NewReplacer("**", "", "__", "", "`", "")
)

const quoteChars = "\"'“”‘’「」"

// tokenize splits raw model output into classified lines.
func tokenize(raw string) []token {
	lines := strings.Split(strings.ReplaceAll(raw, "\r\n", "\n"), "\n")
	tokens := make([]token, 0, len(lines))
	for _, line := range lines {
		tokens = append(tokens, classify(line))
	}
	return tokens
}

func classify(line string) token {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return token{kind: tokenBlank, raw: line}
	}

	plain := strings.TrimSpace(emphasis.Replace(trimmed))
	if !listMarker.MatchString(plain) {
		lower := strings.ToLower(strings.Trim(plain, "#*_ "))
		if m := header.FindStringSubmatch(lower); m != nil {
			if m[1] == "songs" {
				return token{kind: tokenHeader, section: sectionSongs, raw: line}
			}
			return token{kind: tokenHeader, section: sectionArtists, raw: line}
		}
	}

	return token{kind: tokenItem, text: cleanItem(plain), raw: line}
}

// cleanItem strips list numbering, bullets and surrounding quotes and
// collapses whitespace.
func cleanItem(s string) string {
	s = listMarker.ReplaceAllString(s, "")
	s = strings.Join(strings.Fields(s), " ")
	return trimQuotes(s)
}

func trimQuotes(s string) string {
	return strings.TrimSpace(strings.Trim(s, quoteChars))
}

// Stats summarises one parse.
type Stats struct {
	Sections int
	Songs    int
	Artists  int
	Dropped  int
	SelfRefs int
}

// Err reports a reply with no recognised section as malformed.
func (s Stats) Err() error {
	if s.Sections == 0 {
		return errors.Mark(errors.New("no Songs: or Artists: section in reply"), apperrors.ErrMalformedModelOutput)
	}
	return nil
}

// Parse extracts candidates from a model reply. Lines before the first
// section header and song lines that do not split on the separator into two
// non-empty parts are dropped. Artist lines equal (case-insensitively) to a
// known artist are dropped.
func Parse(raw string, knownArtists []string) (suggestion.Candidates, Stats) {
	known := make(map[string]bool, len(knownArtists))
	for _, a := range knownArtists {
		known[suggestion.Normalize(a)] = true
	}

	var (
		out   suggestion.Candidates
		stats Stats
		state = sectionNone
	)

	for _, tok := range tokenize(raw) {
		switch tok.kind {
		case tokenBlank:
			continue
		case tokenHeader:
			state = tok.section
			stats.Sections++
			continue
		}

		if tok.text == "" {
			continue
		}

		switch state {
		case sectionSongs:
			title, artist, ok := suggestion.SplitSong(tok.text)
			if !ok {
				stats.Dropped++
				zlog.Debug().Msgf("dropped malformed song line: %q", tok.raw)
				continue
			}
			title, artist = trimQuotes(title), trimQuotes(artist)
			if title == "" || artist == "" {
				stats.Dropped++
				continue
			}
			out.Songs = append(out.Songs, suggestion.Candidate{Title: title, Artist: artist})
			stats.Songs++

		case sectionArtists:
			if known[suggestion.Normalize(tok.text)] {
				stats.SelfRefs++
				continue
			}
			out.Artists = append(out.Artists, suggestion.Candidate{Artist: tok.text})
			stats.Artists++

		default:
			stats.Dropped++
			zlog.Debug().Msgf("dropped line outside sections: %q", tok.raw)
		}
	}

	return out, stats
}
