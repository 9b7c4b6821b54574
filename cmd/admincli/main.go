// Package main provides the admin CLI entry point.
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/goccy/go-json"
	"github.com/joho/godotenv"

	"github.com/osa030/tastedeck/internal/api/web"
	"github.com/osa030/tastedeck/internal/infra/cache"
)

var (
	app    = kingpin.New("tastedeck-admincli", "tastedeck admin client")
	server = app.Flag("server", "Server address").Default("http://localhost:8080").String()
	token  = app.Flag("token", "Admin token (or set ADMIN_TOKEN env)").Envar("ADMIN_TOKEN").String()

	// cache-stats command
	statsCmd = app.Command("cache-stats", "Show cache statistics").Alias("stats")

	// purge-cache command
	purgeCmd = app.Command("purge-cache", "Drop every cached entry").Alias("purge")

	// health command
	healthCmd = app.Command("health", "Check server health")
)

type statsResponse struct {
	Cache    cache.Stats `json:"cache"`
	Sessions int         `json:"sessions"`
}

type purgeResponse struct {
	Purged int `json:"purged"`
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if command != healthCmd.FullCommand() && *token == "" {
		fmt.Println("Error: admin token is required (use --token or ADMIN_TOKEN env)")
		os.Exit(1)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	var err error
	switch command {
	case statsCmd.FullCommand():
		err = stats(ctx)
	case purgeCmd.FullCommand():
		err = purge(ctx)
	case healthCmd.FullCommand():
		err = health(ctx)
	}
	if err != nil {
		fmt.Printf("Error: %v\n", err)
		os.Exit(1)
	}
}

func stats(ctx context.Context) error {
	var s statsResponse
	if err := call(ctx, http.MethodGet, "/admin/cache", &s); err != nil {
		return err
	}

	fmt.Println("\n=== CACHE STATUS ===")
	fmt.Printf("Entries: %d\n", s.Cache.Entries)
	fmt.Printf("Hits: %d\n", s.Cache.Hits)
	fmt.Printf("Misses: %d\n", s.Cache.Misses)
	fmt.Printf("Evictions: %d\n", s.Cache.Evictions)
	if total := s.Cache.Hits + s.Cache.Misses; total > 0 {
		fmt.Printf("Hit ratio: %.1f%%\n", float64(s.Cache.Hits)*100/float64(total))
	}
	if !s.Cache.LastCleanup.IsZero() {
		fmt.Printf("Last cleanup: %s\n", s.Cache.LastCleanup.Local().Format(time.RFC3339))
	}
	fmt.Printf("\nActive sessions: %d\n\n", s.Sessions)
	return nil
}

func purge(ctx context.Context) error {
	var p purgeResponse
	if err := call(ctx, http.MethodDelete, "/admin/cache", &p); err != nil {
		return err
	}
	fmt.Printf("Cache purged (%d entries)\n", p.Purged)
	return nil
}

func health(ctx context.Context) error {
	var h map[string]string
	if err := call(ctx, http.MethodGet, "/healthz", &h); err != nil {
		return err
	}
	fmt.Printf("Server status: %s\n", h["status"])
	return nil
}

func call(ctx context.Context, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, strings.TrimSuffix(*server, "/")+path, nil)
	if err != nil {
		return errors.Wrap(err, "failed to build request")
	}
	if *token != "" {
		req.Header.Set(web.AdminTokenHeader, *token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return errors.Wrap(err, "request failed")
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return errors.Wrap(err, "failed to read response")
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(raw, &e) == nil && e.Error != "" {
			return errors.Newf("%s (HTTP %d)", e.Error, resp.StatusCode)
		}
		return errors.Newf("unexpected status: HTTP %d", resp.StatusCode)
	}
	return errors.Wrap(json.Unmarshal(raw, out), "failed to decode response")
}
