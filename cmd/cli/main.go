// Package main provides a command line client for the dashboard JSON API.
package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"
	"github.com/joho/godotenv"

	"github.com/osa030/tastedeck/internal/api/web"
	"github.com/osa030/tastedeck/internal/domain/suggestion"
)

var (
	app     = kingpin.New("tastedeck-cli", "tastedeck dashboard client")
	server  = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	session = app.Flag("session", "Session cookie value (or set TASTEDECK_SESSION env)").Envar("TASTEDECK_SESSION").String()
	timeout = app.Flag("timeout", "Request timeout").Default("60s").Duration()

	// suggest command
	suggestCmd    = app.Command("suggest", "Get validated suggestions")
	suggestWindow = suggestCmd.Flag("window", "Listening window (recent, medium, long)").Short('w').String()
	suggestCount  = suggestCmd.Flag("count", "Number of suggestions per kind").Short('n').Int()

	// history command
	historyCmd    = app.Command("history", "Show top tracks and artists")
	historyWindow = historyCmd.Flag("window", "Listening window (recent, medium, long)").Short('w').String()
	historyCount  = historyCmd.Flag("count", "Number of items per kind").Short('n').Int()
	historyCSV    = historyCmd.Flag("csv", "Print the CSV export instead").Bool()
)

type suggestionsResponse struct {
	Songs   []suggestion.Suggestion `json:"songs"`
	Artists []suggestion.Suggestion `json:"artists"`
}

type historyResponse struct {
	Window string `json:"window"`
	Tracks []struct {
		Name       string   `json:"name"`
		Artists    []string `json:"artists"`
		Album      string   `json:"album"`
		Popularity int      `json:"popularity"`
	} `json:"tracks"`
	Artists []struct {
		Name       string   `json:"name"`
		Genres     []string `json:"genres"`
		Popularity int      `json:"popularity"`
	} `json:"artists"`
}

type errorResponse struct {
	Error string `json:"error"`
	Login string `json:"login"`
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if *session == "" {
		fmt.Println("Error: session is required (use --session or TASTEDECK_SESSION env)")
		fmt.Printf("Log in at %s/login and copy the %s cookie.\n", strings.TrimSuffix(*server, "/"), web.SessionCookie)
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	var err error
	switch command {
	case suggestCmd.FullCommand():
		err = suggest(ctx, *suggestWindow, *suggestCount)
	case historyCmd.FullCommand():
		if *historyCSV {
			err = historyCSVExport(ctx, *historyWindow, *historyCount)
		} else {
			err = history(ctx, *historyWindow, *historyCount)
		}
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func suggest(ctx context.Context, window string, count int) error {
	body, err := json.Marshal(map[string]any{"window": window, "count": count})
	if err != nil {
		return errors.Wrap(err, "failed to encode request")
	}
	raw, err := call(ctx, http.MethodPost, "/api/suggestions", nil, body)
	if err != nil {
		return err
	}

	var resp suggestionsResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return errors.Wrap(err, "failed to decode response")
	}

	fmt.Printf("Songs (%d):\n", len(resp.Songs))
	for i, s := range resp.Songs {
		fmt.Printf("  %2d. %s - %s (popularity %d)\n", i+1, s.Title, s.Artist, s.Popularity)
		fmt.Printf("      %s\n", s.URL)
	}
	fmt.Printf("\nArtists (%d):\n", len(resp.Artists))
	for i, a := range resp.Artists {
		fmt.Printf("  %2d. %s (popularity %d)\n", i+1, a.Artist, a.Popularity)
		fmt.Printf("      %s\n", a.URL)
	}
	return nil
}

func history(ctx context.Context, window string, count int) error {
	raw, err := call(ctx, http.MethodGet, "/api/history", query(window, count), nil)
	if err != nil {
		return err
	}

	var resp historyResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return errors.Wrap(err, "failed to decode response")
	}

	fmt.Printf("Window: %s\n\nTop tracks (%d):\n", resp.Window, len(resp.Tracks))
	for i, t := range resp.Tracks {
		fmt.Printf("  %2d. %s - %s [%s]\n", i+1, t.Name, strings.Join(t.Artists, ", "), t.Album)
	}
	fmt.Printf("\nTop artists (%d):\n", len(resp.Artists))
	for i, a := range resp.Artists {
		line := fmt.Sprintf("  %2d. %s", i+1, a.Name)
		if len(a.Genres) > 0 {
			line += " (" + strings.Join(a.Genres, ", ") + ")"
		}
		fmt.Println(line)
	}
	return nil
}

func historyCSVExport(ctx context.Context, window string, count int) error {
	raw, err := call(ctx, http.MethodGet, "/api/history.csv", query(window, count), nil)
	if err != nil {
		return err
	}
	_, err = os.Stdout.Write(raw)
	return err
}

func query(window string, count int) url.Values {
	q := url.Values{}
	if window != "" {
		q.Set("window", window)
	}
	if count > 0 {
		q.Set("count", strconv.Itoa(count))
	}
	return q
}

// call performs an authenticated API request and returns the body of a 200
// response.
func call(ctx context.Context, method, path string, q url.Values, body []byte) ([]byte, error) {
	target := strings.TrimSuffix(*server, "/") + path
	if len(q) > 0 {
		target += "?" + q.Encode()
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, target, reader)
	if err != nil {
		return nil, errors.Wrap(err, "failed to build request")
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.AddCookie(&http.Cookie{Name: web.SessionCookie, Value: *session})

	client := &http.Client{Timeout: *timeout + 5*time.Second}
	resp, err := client.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "failed to read response")
	}
	if resp.StatusCode == http.StatusOK {
		return raw, nil
	}

	var e errorResponse
	if json.Unmarshal(raw, &e) == nil && e.Error != "" {
		if e.Login != "" {
			return nil, errors.Newf("%s (log in again at %s%s)", e.Error, strings.TrimSuffix(*server, "/"), e.Login)
		}
		return nil, errors.Newf("%s (HTTP %d)", e.Error, resp.StatusCode)
	}
	return nil, errors.Newf("unexpected status: HTTP %d", resp.StatusCode)
}
