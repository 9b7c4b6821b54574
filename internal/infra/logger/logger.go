// Package logger configures the process-wide zerolog logger and the HTTP
// access log.
package logger

import (
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/hlog"
	zlog "github.com/rs/zerolog/log"
)

// Format selects how log lines are encoded.
type Format string

const (
	FormatConsole Format = "console"
	FormatJSON    Format = "json"
)

// Config represents logger configuration.
type Config struct {
	Service string // added to every line as "svc"
	Level   string // debug, info, warn or error
	Format  Format // console on stdout/stderr and json for files unless set
	File    string // "stdout", "stderr" or a path to append to
}

var (
	mu   sync.Mutex
	open *os.File
)

// Init replaces the global logger. Calling it again closes the file opened by
// the previous call. Caller locations are only recorded at debug level.
func Init(cfg Config) error {
	level := parseLevel(cfg.Level)

	mu.Lock()
	defer mu.Unlock()

	out, format, err := cfg.sink()
	if err != nil {
		return err
	}

	zerolog.SetGlobalLevel(level)
	zerolog.TimeFieldFormat = time.RFC3339
	zerolog.CallerMarshalFunc = shortCaller

	var w io.Writer = out
	if format == FormatConsole {
		w = zerolog.ConsoleWriter{
			Out:          out,
			TimeFormat:   time.TimeOnly,
			PartsOrder:   []string{"time", "level", "message", "caller"},
			FormatCaller: formatCaller,
		}
	}

	lctx := zerolog.New(w).With().Timestamp()
	if cfg.Service != "" {
		lctx = lctx.Str("svc", cfg.Service)
	}
	if level <= zerolog.DebugLevel {
		lctx = lctx.Caller()
	}
	l := lctx.Logger()
	zerolog.DefaultContextLogger = &l
	zlog.Logger = l

	if open != nil && open != out {
		_ = open.Close()
	}
	open = nil
	if f, ok := out.(*os.File); ok && f != os.Stdout && f != os.Stderr {
		open = f
	}
	return nil
}

func (c Config) sink() (io.Writer, Format, error) {
	format := Format(strings.ToLower(string(c.Format)))
	switch strings.ToLower(c.File) {
	case "", "stdout":
		return os.Stdout, orDefault(format, FormatConsole), nil
	case "stderr":
		return os.Stderr, orDefault(format, FormatConsole), nil
	}
	f, err := os.OpenFile(c.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, "", errors.Wrapf(err, "failed to open log file %s", c.File)
	}
	return f, orDefault(format, FormatJSON), nil
}

func orDefault(f, def Format) Format {
	if f == "" {
		return def
	}
	return f
}

// formatCaller wraps the caller in parentheses. The console writer also
// calls it for lines without a caller.
func formatCaller(i any) string {
	c, ok := i.(string)
	if !ok || c == "" {
		return ""
	}
	return "(" + c + ")"
}

// shortCaller keeps the package directory and file name.
func shortCaller(_ uintptr, file string, line int) string {
	parts := strings.Split(file, string(filepath.Separator))
	if len(parts) > 1 {
		file = filepath.Join(parts[len(parts)-2:]...)
	}
	return file + ":" + strconv.Itoa(line)
}

// AccessLog returns middleware that attaches the global logger to each
// request and writes one line per completed request.
func AccessLog() []func(http.Handler) http.Handler {
	return []func(http.Handler) http.Handler{
		hlog.NewHandler(zlog.Logger),
		hlog.RequestIDHandler("req_id", "X-Request-Id"),
		hlog.AccessHandler(func(r *http.Request, status, size int, duration time.Duration) {
			event := hlog.FromRequest(r).Info()
			if status >= http.StatusInternalServerError {
				event = hlog.FromRequest(r).Warn()
			}
			event.
				Str("method", r.Method).
				Str("path", r.URL.Path).
				Int("status", status).
				Int("size", size).
				Dur("duration", duration).
				Msg("request")
		}),
	}
}

func parseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}
