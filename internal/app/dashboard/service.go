// Package dashboard runs the suggestion pipeline for one request: history,
// candidates, catalog validation and the result cache.
package dashboard

import (
	"context"
	"time"

	"github.com/cockroachdb/errors"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tastedeck/internal/app/catalog"
	"github.com/osa030/tastedeck/internal/app/history"
	"github.com/osa030/tastedeck/internal/app/suggest"
	"github.com/osa030/tastedeck/internal/domain/apperrors"
	"github.com/osa030/tastedeck/internal/domain/listening"
	"github.com/osa030/tastedeck/internal/domain/suggestion"
	"github.com/osa030/tastedeck/internal/infra/cache"
	"github.com/osa030/tastedeck/internal/infra/metrics"
)

// Catalog is a user-bound view of the streaming catalog.
type Catalog interface {
	history.Catalog
	catalog.Searcher
}

// HistorySource fetches listening histories.
type HistorySource interface {
	Fetch(ctx context.Context, c history.Catalog, scope string, window listening.Window, count int) (listening.History, error)
}

// Request describes one dashboard request. A nil Catalog means the caller
// has no valid session.
type Request struct {
	Catalog Catalog
	UserID  string
	Window  listening.Window
	Count   int
}

// Config holds pipeline policy.
type Config struct {
	DefaultCount        int
	MaxCount            int
	DefaultWindow       listening.Window
	CandidateMultiplier int
	ShortfallRetry      bool
	SuggestionsTTL      time.Duration
}

// View is everything the dashboard page renders.
type View struct {
	Window      listening.Window
	Count       int
	History     listening.History
	Suggestions suggestion.Set
	// Notice is set when suggestions could not be produced.
	Notice string
}

// Degraded reports whether the view is missing its suggestions.
func (v View) Degraded() bool {
	return v.Notice != ""
}

// NoticeUnavailable is shown when the suggestion stage failed.
const NoticeUnavailable = "Suggestions are unavailable right now. Your listening history is shown below."

// Service orchestrates the pipeline.
type Service struct {
	cfg       Config
	store     cache.Store
	history   HistorySource
	provider  suggest.Provider
	validator *catalog.Validator
}

// NewService creates a service.
func NewService(cfg Config, store cache.Store, hs HistorySource, provider suggest.Provider, validator *catalog.Validator) *Service {
	if cfg.DefaultCount <= 0 {
		cfg.DefaultCount = 10
	}
	if cfg.MaxCount <= 0 {
		cfg.MaxCount = 50
	}
	if !cfg.DefaultWindow.Valid() {
		cfg.DefaultWindow = listening.WindowMedium
	}
	if cfg.CandidateMultiplier <= 0 {
		cfg.CandidateMultiplier = 2
	}
	return &Service{
		cfg:       cfg,
		store:     store,
		history:   hs,
		provider:  provider,
		validator: validator,
	}
}

// normalize applies the default window and bounds the count.
func (s *Service) normalize(req Request) Request {
	if !req.Window.Valid() {
		req.Window = s.cfg.DefaultWindow
	}
	req.Count = listening.ClampCount(req.Count, s.cfg.DefaultCount, s.cfg.MaxCount)
	return req
}

func (s *Service) cacheKey(req Request) string {
	k := suggestion.Key{Scope: req.UserID, Window: req.Window, Count: req.Count}
	return cache.Key(cache.NamespaceSuggestions, k.String())
}

// History returns the listening history for the request.
func (s *Service) History(ctx context.Context, req Request) (listening.History, error) {
	if req.Catalog == nil {
		return listening.History{}, apperrors.Unauthenticated(errors.New("no session"))
	}
	req = s.normalize(req)
	return s.history.Fetch(ctx, req.Catalog, req.UserID, req.Window, req.Count)
}

// Suggestions returns validated suggestions for the request. Cached sets are
// served without any upstream call.
func (s *Service) Suggestions(ctx context.Context, req Request) (suggestion.Set, error) {
	if req.Catalog == nil {
		return suggestion.Set{}, apperrors.Unauthenticated(errors.New("no session"))
	}
	req = s.normalize(req)
	start := time.Now()

	if set, ok := s.cached(req); ok {
		metrics.ObservePipeline("hit", start)
		return set, nil
	}

	h, err := s.history.Fetch(ctx, req.Catalog, req.UserID, req.Window, req.Count)
	if err != nil {
		metrics.ObservePipeline("error", start)
		return suggestion.Set{}, errors.Wrap(err, "failed to fetch listening history")
	}

	set, err := s.compute(ctx, req, h)
	if err != nil {
		metrics.ObservePipeline("error", start)
		return suggestion.Set{}, err
	}
	metrics.ObservePipeline("ok", start)
	return set, nil
}

// Dashboard returns the history and, when possible, the suggestions. A
// history failure aborts; a suggestion failure other than an expired session
// degrades the view.
func (s *Service) Dashboard(ctx context.Context, req Request) (View, error) {
	if req.Catalog == nil {
		return View{}, apperrors.Unauthenticated(errors.New("no session"))
	}
	req = s.normalize(req)
	start := time.Now()

	h, err := s.history.Fetch(ctx, req.Catalog, req.UserID, req.Window, req.Count)
	if err != nil {
		return View{}, errors.Wrap(err, "failed to fetch listening history")
	}
	view := View{Window: req.Window, Count: req.Count, History: h}

	if set, ok := s.cached(req); ok {
		metrics.ObservePipeline("hit", start)
		view.Suggestions = set
		return view, nil
	}

	set, err := s.compute(ctx, req, h)
	if err != nil {
		if apperrors.IsUnauthenticated(err) {
			return View{}, err
		}
		metrics.ObservePipeline("error", start)
		zlog.Warn().Msgf("suggestions unavailable, rendering history only: user=%s error=%v", req.UserID, err)
		view.Suggestions = suggestion.Set{Songs: []suggestion.Suggestion{}, Artists: []suggestion.Suggestion{}}
		view.Notice = NoticeUnavailable
		return view, nil
	}
	metrics.ObservePipeline("ok", start)
	view.Suggestions = set
	return view, nil
}

func (s *Service) cached(req Request) (suggestion.Set, bool) {
	set, ok := cache.Get[suggestion.Set](s.store, s.cacheKey(req))
	if !ok {
		return suggestion.Set{}, false
	}
	zlog.Debug().Msgf("serving cached suggestions: user=%s window=%s count=%d", req.UserID, req.Window, req.Count)
	return set.Clone(), true
}

// compute runs one provider round, validation and at most one shortfall
// round, then writes the set to the cache.
func (s *Service) compute(ctx context.Context, req Request, h listening.History) (suggestion.Set, error) {
	cands, err := s.candidates(ctx, suggest.Request{History: h, Count: s.cfg.CandidateMultiplier * req.Count})
	if err != nil {
		return suggestion.Set{}, err
	}

	report, err := s.validator.Validate(ctx, req.Catalog, cands, req.Count, h)
	if err != nil {
		return suggestion.Set{}, errors.Wrap(err, "failed to validate candidates")
	}

	songShort, artistShort := report.SongShortfall(req.Count), report.ArtistShortfall(req.Count)
	if s.cfg.ShortfallRetry && (songShort > 0 || artistShort > 0) {
		n := s.cfg.CandidateMultiplier * max(songShort, artistShort)
		zlog.Info().Msgf("suggestion shortfall, requesting more: songs=%d artists=%d request=%d", songShort, artistShort, n)

		more, err := s.candidates(ctx, suggest.Request{History: h, Count: n, Exclude: report.Tried()})
		switch {
		case err != nil && apperrors.IsUnauthenticated(err):
			return suggestion.Set{}, err
		case err != nil:
			zlog.Warn().Msgf("shortfall round failed, keeping first round: error=%v", err)
		default:
			if err := s.validator.Resume(ctx, req.Catalog, report, more, req.Count); err != nil {
				return suggestion.Set{}, errors.Wrap(err, "failed to validate candidates")
			}
		}
	}

	zlog.Info().Msgf("suggestions validated: user=%s window=%s songs=%d artists=%d rejected=%d",
		req.UserID, req.Window, len(report.Set.Songs), len(report.Set.Artists), len(report.Rejections))

	set := report.Set.Clone()
	s.store.Set(s.cacheKey(req), set, s.cfg.SuggestionsTTL)
	return set.Clone(), nil
}

// candidates asks the provider for one round. A malformed reply yields no
// candidates rather than an error.
func (s *Service) candidates(ctx context.Context, req suggest.Request) (suggestion.Candidates, error) {
	cands, err := s.provider.Candidates(ctx, req)
	if err != nil {
		if errors.Is(err, apperrors.ErrMalformedModelOutput) {
			zlog.Warn().Msgf("model reply did not follow the output format: error=%v", err)
			return cands, nil
		}
		return suggestion.Candidates{}, errors.Wrap(err, "failed to get candidates")
	}
	return cands, nil
}

// Purge drops every cached entry.
func (s *Service) Purge() int {
	n := s.store.Purge()
	zlog.Info().Msgf("cache purged: entries=%d", n)
	return n
}

// Stats returns cache statistics.
func (s *Service) Stats() cache.Stats {
	return s.store.Stats()
}
