package web

import (
	"net/http"

	"github.com/goccy/go-json"
	zlog "github.com/rs/zerolog/log"

	"github.com/osa030/tastedeck/internal/domain/listening"
	"github.com/osa030/tastedeck/internal/domain/suggestion"
	"github.com/osa030/tastedeck/internal/domain/track"
	"github.com/osa030/tastedeck/internal/infra/cache"
)

type errorResponse struct {
	Error string `json:"error"`
	Login string `json:"login,omitempty"`
}

type suggestionsRequest struct {
	Window string `json:"window"`
	Count  int    `json:"count"`
}

type suggestionsResponse struct {
	Songs   []suggestion.Suggestion `json:"songs"`
	Artists []suggestion.Suggestion `json:"artists"`
}

type trackJSON struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	Album      string   `json:"album"`
	Artists    []string `json:"artists"`
	ImageURL   *string  `json:"image_url"`
	URL        string   `json:"url"`
	PreviewURL *string  `json:"preview_url"`
	Popularity int      `json:"popularity"`
}

type artistJSON struct {
	ID         string   `json:"id"`
	Name       string   `json:"name"`
	ImageURL   *string  `json:"image_url"`
	URL        string   `json:"url"`
	Genres     []string `json:"genres"`
	Popularity int      `json:"popularity"`
}

type historyResponse struct {
	Window  listening.Window `json:"window"`
	Tracks  []trackJSON      `json:"tracks"`
	Artists []artistJSON     `json:"artists"`
}

type cacheStatsResponse struct {
	Cache    cache.Stats `json:"cache"`
	Sessions int         `json:"sessions"`
}

type purgeResponse struct {
	Purged int `json:"purged"`
}

func newHistoryResponse(h listening.History) historyResponse {
	resp := historyResponse{
		Window:  h.Window,
		Tracks:  make([]trackJSON, 0, len(h.Tracks)),
		Artists: make([]artistJSON, 0, len(h.Artists)),
	}
	for _, t := range h.Tracks {
		resp.Tracks = append(resp.Tracks, newTrackJSON(t))
	}
	for _, a := range h.Artists {
		genres := a.Genres
		if genres == nil {
			genres = []string{}
		}
		resp.Artists = append(resp.Artists, artistJSON{
			ID:         a.ID,
			Name:       a.Name,
			ImageURL:   a.ImageURL,
			URL:        a.URL,
			Genres:     genres,
			Popularity: a.Popularity,
		})
	}
	return resp
}

func newTrackJSON(t track.Track) trackJSON {
	artists := t.Artists
	if artists == nil {
		artists = []string{}
	}
	return trackJSON{
		ID:         t.ID,
		Name:       t.Name,
		Album:      t.Album,
		Artists:    artists,
		ImageURL:   t.ImageURL,
		URL:        t.URL,
		PreviewURL: t.PreviewURL,
		Popularity: t.Popularity,
	}
}

func newSuggestionsResponse(set suggestion.Set) suggestionsResponse {
	resp := suggestionsResponse{Songs: set.Songs, Artists: set.Artists}
	if resp.Songs == nil {
		resp.Songs = []suggestion.Suggestion{}
	}
	if resp.Artists == nil {
		resp.Artists = []suggestion.Suggestion{}
	}
	return resp
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		zlog.Warn().Msgf("failed to write JSON response: %v", err)
	}
}
