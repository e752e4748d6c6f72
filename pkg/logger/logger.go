// Package logger builds the engine's structured slog logger and the
// correlation-ID plumbing used to tie a rule fetch (or a debug-server
// request) to the log lines it produced.
package logger

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"
)

// ContextKey namespaces values stored on a context.Context.
type ContextKey string

// CorrelationIDKey tags a context with the ID that threads a rule fetch
// attempt (or a debug-server request) through every log line it emits.
const CorrelationIDKey ContextKey = "correlation_id"

// Config mirrors internal/config.LogConfig plus file-rotation settings,
// kept as a separate struct so this package has no dependency on the
// engine's configuration types.
type Config struct {
	Level      string
	Format     string
	Output     string
	Filename   string
	MaxSize    int
	MaxBackups int
	MaxAge     int
	Compress   bool
}

// New builds a structured logger from Config: JSON or text handler,
// writing to stdout, stderr, or a rotated file.
func New(cfg Config) *slog.Logger {
	level := ParseLevel(cfg.Level)
	writer := setupWriter(cfg)

	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	}

	var handler slog.Handler
	if strings.ToLower(cfg.Format) == "json" {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}
	return slog.New(handler)
}

// ParseLevel parses a level name, defaulting unknown values to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "info", "":
		return slog.LevelInfo
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func setupWriter(cfg Config) io.Writer {
	switch strings.ToLower(cfg.Output) {
	case "file":
		if cfg.Filename == "" {
			return os.Stdout
		}
		return &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		}
	case "stderr":
		return os.Stderr
	default:
		return os.Stdout
	}
}

// GenerateCorrelationID returns a short random ID, falling back to a
// timestamp-derived one if the system RNG is unavailable.
func GenerateCorrelationID() string {
	bytes := make([]byte, 8)
	if _, err := rand.Read(bytes); err != nil {
		return fmt.Sprintf("cid_%d", time.Now().UnixNano())
	}
	return "cid_" + hex.EncodeToString(bytes)
}

// WithCorrelationID attaches a correlation ID to ctx.
func WithCorrelationID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, CorrelationIDKey, id)
}

// CorrelationID extracts the correlation ID from ctx, if any.
func CorrelationID(ctx context.Context) string {
	if id, ok := ctx.Value(CorrelationIDKey).(string); ok {
		return id
	}
	return ""
}

// FromContext returns logger annotated with ctx's correlation ID, if set.
func FromContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if id := CorrelationID(ctx); id != "" {
		return logger.With("correlation_id", id)
	}
	return logger
}

// RequestLogger returns HTTP middleware that assigns a correlation ID
// to each incoming request (reusing one supplied via X-Correlation-ID)
// and logs the outcome. Used by internal/debugserver.
func RequestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			id := r.Header.Get("X-Correlation-ID")
			if id == "" {
				id = GenerateCorrelationID()
			}
			r = r.WithContext(WithCorrelationID(r.Context(), id))
			w.Header().Set("X-Correlation-ID", id)

			wrapped := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}
			next.ServeHTTP(wrapped, r)

			logger.Info("debugserver: request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", wrapped.statusCode,
				"duration", time.Since(start),
				"correlation_id", id,
				"remote_addr", r.RemoteAddr,
			)
		})
	}
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rw *statusRecorder) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}
