// Package main provides a local tool that runs the Spotify login flow and
// checks that the app credentials can read a listening history.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/alecthomas/kingpin/v2"
	"github.com/cockroachdb/errors"
	"github.com/google/uuid"
	"github.com/joho/godotenv"
	zlog "github.com/rs/zerolog/log"
	"golang.org/x/oauth2"

	"github.com/osa030/tastedeck/internal/domain/listening"
	"github.com/osa030/tastedeck/internal/infra/logger"
	"github.com/osa030/tastedeck/internal/infra/spotify"
)

var (
	app          = kingpin.New("tastedeck-auth", "Spotify login check for tastedeck")
	clientID     = app.Flag("client-id", "Spotify Client ID").Envar("SPOTIFY_CLIENT_ID").Required().String()
	clientSecret = app.Flag("client-secret", "Spotify Client Secret").Envar("SPOTIFY_CLIENT_SECRET").Required().String()
	port         = app.Flag("port", "Callback server port").Default("8888").Int()
	window       = app.Flag("window", "Listening window to sample (recent, medium, long)").Default("medium").String()
	showTokens   = app.Flag("show-tokens", "Print the access and refresh tokens").Default("true").Bool()
	timeout      = app.Flag("timeout", "How long to wait for the browser login").Default("5m").Duration()
)

type result struct {
	tok *oauth2.Token
	err error
}

func main() {
	_ = godotenv.Load()
	kingpin.MustParse(app.Parse(os.Args[1:]))

	if err := logger.Init(logger.Config{Service: "tastedeck-auth", Level: "info"}); err != nil {
		panic(fmt.Sprintf("Failed to initialize logger: %v", err))
	}

	w, err := listening.ParseWindow(*window, listening.WindowMedium)
	if err != nil {
		zlog.Fatal().Msgf("Invalid window: %v", err)
	}

	if err := run(w); err != nil {
		zlog.Error().Msgf("Login check failed: %v", err)
		os.Exit(1)
	}
}

func run(w listening.Window) error {
	connector, err := spotify.NewConnector(spotify.Config{
		ClientID:     *clientID,
		ClientSecret: *clientSecret,
		RedirectURL:  fmt.Sprintf("http://127.0.0.1:%d/callback", *port),
		Options:      spotify.Options{MaxRetries: 3, RetryDelay: time.Second},
	})
	if err != nil {
		return errors.Wrap(err, "failed to create connector")
	}

	state := uuid.NewString()
	ch := make(chan result, 1)
	// Only the first outcome is kept.
	send := func(r result) {
		select {
		case ch <- r:
		default:
		}
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/callback", func(rw http.ResponseWriter, r *http.Request) {
		if msg := r.URL.Query().Get("error"); msg != "" {
			http.Error(rw, "Authorization denied", http.StatusForbidden)
			send(result{err: errors.Newf("authorization denied: %s", msg)})
			return
		}
		tok, err := connector.Exchange(r.Context(), state, r)
		if err != nil {
			http.Error(rw, "Failed to get token", http.StatusForbidden)
			send(result{err: err})
			return
		}
		fmt.Fprint(rw, completePage)
		send(result{tok: tok})
	})

	server := &http.Server{
		Addr:              fmt.Sprintf("127.0.0.1:%d", *port),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			send(result{err: errors.Wrap(err, "callback server failed")})
		}
	}()
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := server.Shutdown(ctx); err != nil {
			zlog.Warn().Msgf("Failed to shutdown callback server: %v", err)
		}
	}()

	fmt.Println("Please visit the following URL to log in:")
	fmt.Println("")
	fmt.Println(connector.AuthURL(state))
	fmt.Println("")
	fmt.Println("Waiting for authorization...")

	var res result
	select {
	case res = <-ch:
	case <-time.After(*timeout):
		return errors.New("timed out waiting for the browser login")
	}
	if res.err != nil {
		return res.err
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	client := connector.Connect(ctx, res.tok)

	user, err := client.CurrentUser(ctx)
	if err != nil {
		return errors.Wrap(err, "failed to read profile")
	}
	tracks, err := client.TopTracks(ctx, w, 5)
	if err != nil {
		return errors.Wrap(err, "failed to read top tracks")
	}

	fmt.Println("")
	fmt.Println("=== Login OK ===")
	fmt.Printf("User: %s (%s)\n", user.DisplayName, user.ID)
	fmt.Printf("Top tracks (%s):\n", w)
	if len(tracks) == 0 {
		fmt.Println("  (no listening history for this window)")
	}
	for i, t := range tracks {
		fmt.Printf("  %d. %s - %s\n", i+1, t.Name, strings.Join(t.Artists, ", "))
	}

	if *showTokens {
		fmt.Println("")
		fmt.Println("Access Token:")
		fmt.Println(res.tok.AccessToken)
		fmt.Println("Refresh Token:")
		fmt.Println(res.tok.RefreshToken)
		fmt.Printf("Expires: %s\n", res.tok.Expiry.Format(time.RFC3339))
	}
	return nil
}

const completePage = `<!DOCTYPE html>
<html>
<head>
    <title>tastedeck - Login Complete</title>
    <style>
        body {
            font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, sans-serif;
            display: flex;
            justify-content: center;
            align-items: center;
            height: 100vh;
            margin: 0;
            background: #191414;
            color: white;
        }
        .container { text-align: center; padding: 40px; }
    </style>
</head>
<body>
    <div class="container">
        <h1>Login Complete</h1>
        <p>You can close this window and return to the terminal.</p>
    </div>
</body>
</html>
`
