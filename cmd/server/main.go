// Package main provides the server entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"syscall"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/net/http2"
	"golang.org/x/net/http2/h2c"
	"golang.org/x/oauth2"

	"github.com/osa030/tastedeck/internal/api/web"
	"github.com/osa030/tastedeck/internal/app/catalog"
	"github.com/osa030/tastedeck/internal/app/dashboard"
	"github.com/osa030/tastedeck/internal/app/history"
	"github.com/osa030/tastedeck/internal/app/session"
	"github.com/osa030/tastedeck/internal/app/suggest"
	"github.com/osa030/tastedeck/internal/infra/cache"
	"github.com/osa030/tastedeck/internal/infra/config"
	"github.com/osa030/tastedeck/internal/infra/logger"
	"github.com/osa030/tastedeck/internal/infra/spotify"
)

var (
	app        = kingpin.New("tastedeck-server", "tastedeck music dashboard server")
	configPath = app.Flag("config", "Path to config file").Default("config/server.yaml").String()
	verbose    = app.Flag("verbose", "Enable verbose (DEBUG) logging").Short('v').Bool()
	logfile    = app.Flag("logfile", "Path to log file (default: stdout)").String()

	// check-config command
	checkConfigCmd = app.Command("check-config", "Validate the config file and list suggestion providers")
)

func init() {
	// start command (default) - no need to store the command
	app.Command("start", "Start the server (default)").Default()
}

func main() {
	// Load .env file if it exists (errors are ignored)
	_ = godotenv.Load()

	command := kingpin.MustParse(app.Parse(os.Args[1:]))

	if err := logger.Init(logFlags(logger.Config{Service: "tastedeck-server", Level: "info"})); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	zlog.Info().Msgf("Loading config from %s", *configPath)
	cfg, err := config.Load(*configPath)
	if err != nil {
		zlog.Fatal().Msgf("Failed to load config: %v", err)
	}

	if err := logger.Init(logFlags(logger.Config{
		Service: "tastedeck-server",
		Level:   cfg.Logging.Level,
		Format:  logger.Format(cfg.Logging.Format),
		File:    cfg.Logging.File,
	})); err != nil {
		zlog.Fatal().Msgf("Failed to initialize logger: %v", err)
	}

	if command == checkConfigCmd.FullCommand() {
		printProviders(cfg)
		return
	}

	if err := run(cfg); err != nil {
		zlog.Error().Msgf("Server error: %v", err)
		os.Exit(1)
	}
}

// logFlags applies the command line overrides to a logger config.
func logFlags(c logger.Config) logger.Config {
	if *verbose {
		c.Level = "debug"
	}
	if *logfile != "" {
		c.File = *logfile
	}
	return c
}

// run executes the main server logic. Using a separate function ensures
// defer statements are executed even when returning with an error.
func run(cfg *config.Config) error {
	store := cache.NewMemory(cfg.Cache.CleanupInterval)
	defer store.Close()

	connector, err := spotify.NewConnector(spotify.Config{
		ClientID:          cfg.Spotify.ClientID,
		ClientSecret:      cfg.Spotify.ClientSecret,
		RedirectURL:       cfg.Spotify.RedirectURL,
		RequestsPerSecond: cfg.Spotify.RequestsPerS,
		Burst:             cfg.Spotify.Burst,
		Options: spotify.Options{
			Market:     cfg.Spotify.Market,
			MaxRetries: cfg.Spotify.MaxRetries,
			RetryDelay: cfg.Spotify.RetryDelay,
		},
	})
	if err != nil {
		return errors.Wrap(err, "failed to create Spotify connector")
	}

	chain, err := suggest.NewChainFromConfig(cfg)
	if err != nil {
		return errors.Wrap(err, "failed to create suggestion providers")
	}

	accessor := history.NewAccessor(history.Config{
		Workers:     cfg.History.Workers,
		Enrich:      config.Enabled(cfg.History.EnrichDetails),
		TopItemsTTL: cfg.Cache.TopItemsTTL,
		TrackTTL:    cfg.Cache.TrackTTL,
		ArtistTTL:   cfg.Cache.ArtistTTL,
	}, store)

	validator := catalog.New(catalog.Policy{
		PopularityThreshold: cfg.Suggestions.PopularityThreshold,
		PopularityFallback:  config.Enabled(cfg.Suggestions.PopularityFallback),
		SearchLimit:         cfg.Suggestions.SearchLimit,
		IgnoreVersions:      cfg.Suggestions.IgnoreVersions,
	})

	svc := dashboard.NewService(dashboard.Config{
		DefaultCount:        cfg.Suggestions.DefaultCount,
		MaxCount:            cfg.Suggestions.MaxCount,
		DefaultWindow:       cfg.DefaultWindow(),
		CandidateMultiplier: cfg.Suggestions.CandidateMultiplier,
		ShortfallRetry:      config.Enabled(cfg.Suggestions.ShortfallRetry),
		SuggestionsTTL:      cfg.Cache.SuggestionsTTL,
	}, store, accessor, chain, validator)

	sessions := session.NewRegistry(cfg.Server.SessionTTL)

	srv, err := web.NewServer(web.Config{
		SigningKey:    cfg.Server.SigningKey,
		SecureCookies: cfg.Server.SecureCookies,
		SessionTTL:    cfg.Server.SessionTTL,
		AdminToken:    cfg.Admin.Token,
		RateLimit:     cfg.Server.RateLimit.Requests,
		RateWindow:    cfg.Server.RateLimit.Window,
		DefaultWindow: cfg.DefaultWindow(),
	}, connector, func(ctx context.Context, tok *oauth2.Token) web.UserClient {
		return connector.Connect(ctx, tok)
	}, svc, sessions)
	if err != nil {
		return errors.Wrap(err, "failed to create web server")
	}

	serverAddr := cfg.Server.Addr
	// Create server with h2c (HTTP/2 cleartext) support
	server := &http.Server{
		Addr:              serverAddr,
		Handler:           h2c.NewHandler(srv.Router(), &http2.Server{}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go sweepSessions(ctx, sessions, cfg.Cache.CleanupInterval)

	serverErrCh := make(chan error, 1)
	serverStartedCh := make(chan struct{})

	go func() {
		zlog.Info().Msgf("Starting server: addr=%s redirect_url=%s", serverAddr, cfg.Spotify.RedirectURL)
		close(serverStartedCh)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErrCh <- err
		}
	}()

	<-serverStartedCh
	// Give the server a moment to fully initialize
	time.Sleep(100 * time.Millisecond)

	executeHooks(cfg.Server.Hooks.OnStarted, "on_started")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-sigCh:
		zlog.Info().Msg("Received shutdown signal...")
	case err := <-serverErrCh:
		return errors.Wrap(err, "server error")
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zlog.Error().Msgf("Failed to shutdown server: %v", err)
	}

	zlog.Info().Msg("Server stopped")

	executeHooks(cfg.Server.Hooks.OnStopped, "on_stopped")

	return nil
}

// sweepSessions drops expired sessions until ctx is done.
func sweepSessions(ctx context.Context, sessions *session.Registry, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := sessions.Sweep(); n > 0 {
				zlog.Debug().Msgf("swept expired sessions: count=%d", n)
			}
		}
	}
}

// printProviders prints the configured suggestion providers.
func printProviders(cfg *config.Config) {
	fmt.Println("Config OK. Suggestion providers (in order):")
	for i, p := range cfg.Providers {
		fmt.Printf("  %d. %-10s %s\n", i+1, p.Type, p.DisplayName)
	}
	fmt.Printf("Default window: %s, default count: %d (max %d)\n",
		cfg.DefaultWindow(), cfg.Suggestions.DefaultCount, cfg.Suggestions.MaxCount)
}

// executeHooks runs a list of shell commands.
func executeHooks(hooks []string, stage string) {
	if len(hooks) == 0 {
		return
	}

	zlog.Info().Msgf("Executing %s hooks (%d commands)", stage, len(hooks))

	for _, hook := range hooks {
		zlog.Info().Msgf("Executing hook: %s", hook)
		// Use sh -c to allow shell features like redirection or pipes
		cmd := exec.Command("sh", "-c", hook)
		cmd.Stdout = os.Stdout
		cmd.Stderr = os.Stderr

		if err := cmd.Run(); err != nil {
			zlog.Error().Err(err).Msgf("Failed to execute hook: %s", hook)
		}
	}
}
