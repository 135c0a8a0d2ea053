package logger

import (
	"context"
	"io"
	"log/slog"
	"os"

	"secretsanta/internal/config"
	"secretsanta/internal/monitoring"
)

// Logger wraps slog.Logger with additional functionality
type Logger struct {
	*slog.Logger
	config config.Config
}

// New creates a new logger instance
func New(cfg config.Config) *Logger {
	var handler slog.Handler

	if cfg.Server.Environment == "production" {
		otelHandler := monitoring.NewOTelHandler(&slog.HandlerOptions{
			Level:     slog.LevelInfo,
			AddSource: true,
		})

		consoleHandler := slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
			Level:     slog.LevelInfo,
			AddSource: true,
		})

		handler = NewMultiHandler(otelHandler, consoleHandler)
	} else {
		// In development, use text format for better readability
		otelHandler := monitoring.NewOTelHandler(&slog.HandlerOptions{
			Level:     slog.LevelDebug,
			AddSource: true,
		})

		consoleHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:     slog.LevelDebug,
			AddSource: true,
		})

		handler = NewMultiHandler(otelHandler, consoleHandler)
	}

	logger := slog.New(handler).With(
		"service", cfg.Telemetry.ServiceName,
		"version", cfg.Telemetry.ServiceVersion,
		"environment", cfg.Telemetry.Environment,
	)

	slog.SetDefault(logger)

	return &Logger{
		Logger: logger,
		config: cfg,
	}
}

// WithGame creates a logger with game context
func (l *Logger) WithGame(code string) *slog.Logger {
	return l.With("game_code", code)
}

// WithError creates a logger with error context
func (l *Logger) WithError(err error) *slog.Logger {
	return l.With("error", err.Error())
}

// MultiHandler sends logs to multiple handlers
type MultiHandler struct {
	handlers []slog.Handler
}

func NewMultiHandler(handlers ...slog.Handler) *MultiHandler {
	return &MultiHandler{handlers: handlers}
}

// Enabled reports whether any handler handles records at the given level
func (h *MultiHandler) Enabled(ctx context.Context, level slog.Level) bool {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, level) {
			return true
		}
	}
	return false
}

// Handle handles the Record by sending it to all handlers
func (h *MultiHandler) Handle(ctx context.Context, record slog.Record) error {
	for _, handler := range h.handlers {
		if handler.Enabled(ctx, record.Level) {
			if err := handler.Handle(ctx, record); err != nil {
				slog.Error("Failed to handle log record", "error", err)
			}
		}
	}
	return nil
}

// WithAttrs returns a new MultiHandler with the given attributes
func (h *MultiHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	var newHandlers []slog.Handler
	for _, handler := range h.handlers {
		newHandlers = append(newHandlers, handler.WithAttrs(attrs))
	}
	return &MultiHandler{handlers: newHandlers}
}

// WithGroup returns a new MultiHandler with the given group
func (h *MultiHandler) WithGroup(name string) slog.Handler {
	var newHandlers []slog.Handler
	for _, handler := range h.handlers {
		newHandlers = append(newHandlers, handler.WithGroup(name))
	}
	return &MultiHandler{handlers: newHandlers}
}

// SilenceLogger redirects logs to the given writer at error level only
// (useful for testing)
func SilenceLogger(w io.Writer) {
	handler := slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: slog.LevelError,
	})
	slog.SetDefault(slog.New(handler))
}
