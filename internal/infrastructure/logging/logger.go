package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/embedded-vault/internal/infrastructure/config"
)

// serviceName is attached to every record.
const serviceName = "embedded-vault"

// Logger wraps slog.Logger. It is safe for concurrent use.
type Logger struct {
	*slog.Logger
}

// New creates a logger writing to the configured output.
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer
	switch strings.ToLower(cfg.Output) {
	case "stdout":
		output = os.Stdout
	default:
		output = os.Stderr
	}
	return NewWithWriter(cfg, version, output)
}

// NewWithWriter creates a logger writing to w, ignoring cfg.Output.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	switch strings.ToLower(cfg.Format) {
	case "json":
		handler = slog.NewJSONHandler(w, opts)
	default:
		handler = slog.NewTextHandler(w, opts)
	}

	handler = handler.WithAttrs([]slog.Attr{
		slog.String("service", serviceName),
		slog.String("version", version),
	})
	return &Logger{Logger: slog.New(handler)}
}

// parseLevel maps debug, info, warn and error onto slog levels. Anything
// else is info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a logger with additional default attributes.
//
//	artifactLogger := logger.With("component", "artifact")
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Default is a text logger on stderr at info level, for use before the
// config is loaded.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "text", Output: "stderr"}, "dev")
}

// LineLogger logs each line of a child process stream at debug level.
// It implements the stream line observer interface.
type LineLogger struct {
	logger *Logger
	stream string
}

// Lines returns a LineLogger for the named stream, e.g. "stdout".
func (l *Logger) Lines(stream string) *LineLogger {
	return &LineLogger{logger: l, stream: stream}
}

// OnLine logs line.
func (ll *LineLogger) OnLine(line string) {
	ll.logger.Debug(line, "stream", ll.stream)
}

// OnClosed logs the end of the stream.
func (ll *LineLogger) OnClosed() {
	ll.logger.Debug("stream closed", "stream", ll.stream)
}
