// Package catalog confirms suggestion candidates against the streaming
// catalog.
package catalog

import (
	"context"
	"fmt"
	"strings"
	"unicode"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tastedeck/internal/domain/apperrors"
	"github.com/osa030/tastedeck/internal/domain/listening"
	"github.com/osa030/tastedeck/internal/domain/suggestion"
	"github.com/osa030/tastedeck/internal/domain/track"
	"github.com/osa030/tastedeck/internal/infra/metrics"
)

// Searcher defines the catalog search operations needed by the validator.
type Searcher interface {
	SearchTracks(ctx context.Context, query string, limit int) ([]track.Track, error)
	SearchArtists(ctx context.Context, query string, limit int) ([]track.Artist, error)
}

// Code identifies why a candidate was rejected.
type Code string

const (
	CodeMalformed           Code = "malformed"
	CodeDuplicateHistory    Code = "duplicate_history"
	CodeDuplicateSuggestion Code = "duplicate_suggestion"
	CodeNotFound            Code = "not_found"
	CodeBelowPopularity     Code = "below_popularity"
	CodeMismatch            Code = "mismatch"
	CodeSearchFailed        Code = "search_failed"
)

// Rejection records one dropped candidate.
type Rejection struct {
	Kind      suggestion.Kind `json:"kind"`
	Candidate string          `json:"candidate"`
	Code      Code            `json:"code"`
}

// Report accumulates the outcome of one or more validation rounds.
type Report struct {
	Set        suggestion.Set
	Rejections []Rejection

	history  *index
	accepted *index
	tried    map[string]bool
	order    []string

	searches int
	outages  int
}

// NewReport creates an empty report deduplicating against history by
// normalised title and artist and by catalog ID.
func NewReport(history listening.History) *Report {
	return newReport(history, false)
}

func newReport(history listening.History, versions bool) *Report {
	return &Report{
		Set:      suggestion.Set{Songs: []suggestion.Suggestion{}, Artists: []suggestion.Suggestion{}},
		history:  historyIndex(history, versions),
		accepted: newIndex(versions),
		tried:    make(map[string]bool),
	}
}

// CatalogDown reports whether nothing was accepted and every catalog search
// made so far failed upstream.
func (r *Report) CatalogDown() bool {
	return r.searches > 0 && r.outages == r.searches && len(r.Set.Songs)+len(r.Set.Artists) == 0
}

// searchFailed records a failed search. Upstream failures count towards
// CatalogDown.
func (r *Report) searchFailed(kind suggestion.Kind, candidate string, err error) {
	if apperrors.IsUpstream(err) {
		r.outages++
	}
	zlog.Warn().Msgf("%s search failed: candidate=%q error=%v", kind, candidate, err)
	r.reject(kind, candidate, CodeSearchFailed)
}

// Tried returns every candidate text processed so far, in order.
func (r *Report) Tried() []string {
	return append([]string(nil), r.order...)
}

// SongShortfall returns how many songs are missing to reach limit.
func (r *Report) SongShortfall(limit int) int {
	return max(0, limit-len(r.Set.Songs))
}

// ArtistShortfall returns how many artists are missing to reach limit.
func (r *Report) ArtistShortfall(limit int) int {
	return max(0, limit-len(r.Set.Artists))
}

// Rejected counts rejections with the given code.
func (r *Report) Rejected(code Code) int {
	n := 0
	for _, rej := range r.Rejections {
		if rej.Code == code {
			n++
		}
	}
	return n
}

func (r *Report) reject(kind suggestion.Kind, candidate string, code Code) {
	r.Rejections = append(r.Rejections, Rejection{Kind: kind, Candidate: candidate, Code: code})
	metrics.ValidationOutcomes.WithLabelValues(string(kind), string(code)).Inc()
	zlog.Debug().Msgf("rejected %s candidate: candidate=%q code=%s", kind, candidate, code)
}

// markTried returns false when the candidate was already processed.
func (r *Report) markTried(kind suggestion.Kind, text string) bool {
	key := string(kind) + ":" + suggestion.Normalize(text)
	if r.tried[key] {
		return false
	}
	r.tried[key] = true
	r.order = append(r.order, text)
	return true
}

// Policy holds the popularity and search settings.
type Policy struct {
	// Hits must be strictly more popular than this to be eligible.
	PopularityThreshold int
	// When no hit is eligible, accept the most popular raw hit instead of
	// rejecting the candidate.
	PopularityFallback bool
	// Hits requested per search.
	SearchLimit int
	// Treat remasters and single, radio or live versions of a history track
	// as the same song.
	IgnoreVersions bool
}

// DefaultPolicy returns the default policy.
func DefaultPolicy() Policy {
	return Policy{PopularityThreshold: 30, PopularityFallback: true, SearchLimit: 5}
}

// Validator confirms candidates against the catalog.
type Validator struct {
	policy Policy
}

// New creates a validator.
func New(policy Policy) *Validator {
	if policy.SearchLimit <= 0 {
		policy.SearchLimit = 5
	}
	return &Validator{policy: policy}
}

// Validate checks candidates in order and keeps at most limit songs and
// limit artists. Per-candidate failures are recorded in the report. An
// authentication failure aborts, and a round in which every search failed
// upstream returns an upstream error.
func (v *Validator) Validate(ctx context.Context, s Searcher, c suggestion.Candidates, limit int, history listening.History) (*Report, error) {
	report := newReport(history, v.policy.IgnoreVersions)
	if err := v.Resume(ctx, s, report, c, limit); err != nil {
		return report, err
	}
	return report, nil
}

// Resume continues accumulating into report, skipping candidates it has
// already processed.
func (v *Validator) Resume(ctx context.Context, s Searcher, report *Report, c suggestion.Candidates, limit int) error {
	for _, cand := range c.Songs {
		if len(report.Set.Songs) >= limit {
			break
		}
		if err := v.validateSong(ctx, s, report, cand); err != nil {
			return err
		}
	}
	for _, cand := range c.Artists {
		if len(report.Set.Artists) >= limit {
			break
		}
		if err := v.validateArtist(ctx, s, report, cand); err != nil {
			return err
		}
	}
	if report.CatalogDown() {
		return apperrors.Upstream(errors.Newf("catalog search unavailable: %d searches failed", report.outages))
	}
	return nil
}

func (v *Validator) validateSong(ctx context.Context, s Searcher, report *Report, cand suggestion.Candidate) error {
	text := cand.String()
	if !report.markTried(suggestion.KindSong, text) {
		report.reject(suggestion.KindSong, text, CodeDuplicateSuggestion)
		return nil
	}

	title, artist, ok := suggestion.SplitSong(text)
	if !ok {
		report.reject(suggestion.KindSong, text, CodeMalformed)
		return nil
	}

	switch {
	case report.history.hasSong(title, artist):
		report.reject(suggestion.KindSong, text, CodeDuplicateHistory)
		return nil
	case report.accepted.hasSong(title, artist):
		report.reject(suggestion.KindSong, text, CodeDuplicateSuggestion)
		return nil
	}

	report.searches++
	hits, err := s.SearchTracks(ctx, fmt.Sprintf("track:%s artist:%s", title, artist), v.policy.SearchLimit)
	if err == nil && len(hits) == 0 {
		hits, err = s.SearchTracks(ctx, title+" "+artist, v.policy.SearchLimit)
	}
	if err != nil {
		if apperrors.IsUnauthenticated(err) {
			return errors.Wrapf(err, "search for %q", text)
		}
		report.searchFailed(suggestion.KindSong, text, err)
		return nil
	}
	if len(hits) == 0 {
		report.reject(suggestion.KindSong, text, CodeNotFound)
		return nil
	}

	eligible, ok := v.eligibleTracks(hits)
	if !ok {
		report.reject(suggestion.KindSong, text, CodeBelowPopularity)
		return nil
	}

	var hit *track.Track
	for i := range eligible {
		if titleMatches(title, eligible[i].Name) && artistMatches(artist, eligible[i].Artists) {
			hit = &eligible[i]
			break
		}
	}
	if hit == nil {
		report.reject(suggestion.KindSong, text, CodeMismatch)
		return nil
	}

	switch {
	case report.history.hasTrack(hit):
		report.reject(suggestion.KindSong, text, CodeDuplicateHistory)
		return nil
	case report.accepted.hasTrack(hit):
		report.reject(suggestion.KindSong, text, CodeDuplicateSuggestion)
		return nil
	}

	report.accepted.addSong(title, artist)
	report.accepted.addTrack(hit)
	report.Set.Songs = append(report.Set.Songs, suggestion.Suggestion{
		Kind:       suggestion.KindSong,
		ID:         hit.ID,
		Title:      hit.Name,
		Artist:     hit.PrimaryArtist(),
		Artists:    append([]string(nil), hit.Artists...),
		Album:      hit.Album,
		ImageURL:   hit.ImageURL,
		URL:        hit.URL,
		Popularity: hit.Popularity,
		Candidate:  text,
	})
	metrics.ValidationOutcomes.WithLabelValues(string(suggestion.KindSong), "accepted").Inc()
	return nil
}

func (v *Validator) validateArtist(ctx context.Context, s Searcher, report *Report, cand suggestion.Candidate) error {
	name := strings.Join(strings.Fields(cand.Artist), " ")
	if !report.markTried(suggestion.KindArtist, name) {
		report.reject(suggestion.KindArtist, name, CodeDuplicateSuggestion)
		return nil
	}
	if name == "" || cand.Title != "" {
		report.reject(suggestion.KindArtist, cand.String(), CodeMalformed)
		return nil
	}

	switch {
	case report.history.hasArtist("", name):
		report.reject(suggestion.KindArtist, name, CodeDuplicateHistory)
		return nil
	case report.accepted.hasArtist("", name):
		report.reject(suggestion.KindArtist, name, CodeDuplicateSuggestion)
		return nil
	}

	report.searches++
	hits, err := s.SearchArtists(ctx, name, v.policy.SearchLimit)
	if err != nil {
		if apperrors.IsUnauthenticated(err) {
			return errors.Wrapf(err, "search for artist %q", name)
		}
		report.searchFailed(suggestion.KindArtist, name, err)
		return nil
	}
	if len(hits) == 0 {
		report.reject(suggestion.KindArtist, name, CodeNotFound)
		return nil
	}

	eligible, ok := v.eligibleArtists(hits)
	if !ok {
		report.reject(suggestion.KindArtist, name, CodeBelowPopularity)
		return nil
	}
	hit := &eligible[0]

	switch {
	case report.history.hasArtist(hit.ID, hit.Name):
		report.reject(suggestion.KindArtist, name, CodeDuplicateHistory)
		return nil
	case report.accepted.hasArtist(hit.ID, hit.Name):
		report.reject(suggestion.KindArtist, name, CodeDuplicateSuggestion)
		return nil
	}

	report.accepted.addArtist("", name)
	report.accepted.addArtist(hit.ID, hit.Name)
	report.Set.Artists = append(report.Set.Artists, suggestion.Suggestion{
		Kind:       suggestion.KindArtist,
		ID:         hit.ID,
		Artist:     hit.Name,
		ImageURL:   hit.ImageURL,
		URL:        hit.URL,
		Popularity: hit.Popularity,
		Candidate:  name,
	})
	metrics.ValidationOutcomes.WithLabelValues(string(suggestion.KindArtist), "accepted").Inc()
	return nil
}

// eligibleTracks applies the popularity policy. It reports false when no hit
// qualifies and fallback is off.
func (v *Validator) eligibleTracks(hits []track.Track) ([]track.Track, bool) {
	eligible := make([]track.Track, 0, len(hits))
	best := 0
	for i := range hits {
		if hits[i].Popularity > v.policy.PopularityThreshold {
			eligible = append(eligible, hits[i])
		}
		if hits[i].Popularity > hits[best].Popularity {
			best = i
		}
	}
	if len(eligible) > 0 {
		return eligible, true
	}
	if !v.policy.PopularityFallback {
		return nil, false
	}
	return []track.Track{hits[best]}, true
}

func (v *Validator) eligibleArtists(hits []track.Artist) ([]track.Artist, bool) {
	eligible := make([]track.Artist, 0, len(hits))
	best := 0
	for i := range hits {
		if hits[i].Popularity > v.policy.PopularityThreshold {
			eligible = append(eligible, hits[i])
		}
		if hits[i].Popularity > hits[best].Popularity {
			best = i
		}
	}
	if len(eligible) > 0 {
		return eligible, true
	}
	if !v.policy.PopularityFallback {
		return nil, false
	}
	return []track.Artist{hits[best]}, true
}

// matchKey lowercases s and keeps only letters and digits.
func matchKey(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(s) {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// containsEither reports whether one key is a substring of the other.
func containsEither(a, b string) bool {
	if a == "" || b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}

func titleMatches(candidate, hit string) bool {
	return containsEither(matchKey(candidate), matchKey(hit))
}

func artistMatches(candidate string, hitArtists []string) bool {
	c := matchKey(candidate)
	for _, a := range hitArtists {
		if containsEither(c, matchKey(a)) {
			return true
		}
	}
	return false
}
