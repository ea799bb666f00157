package infrastructure

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"cloudloader/internal/config"
	"cloudloader/pkg/contracts"
)

// Redacted replaces the value of credential attributes in every log record.
const Redacted = "[REDACTED]"

// credentialAttrs are attribute keys whose values never reach the log output
var credentialAttrs = map[string]bool{
	"password":      true,
	"token":         true,
	"authorization": true,
	"api_token":     true,
	"jwt_secret":    true,
	"dsn":           true,
}

var (
	globalLogger     *slog.Logger
	globalLoggerOnce sync.Once
	sink             logSink
)

// logSink owns the log file opened for "file" and "both" output
type logSink struct {
	mu   sync.Mutex
	file *os.File
}

func (s *logSink) open(path string) (*os.File, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", path, err)
	}

	s.mu.Lock()
	s.file = f
	s.mu.Unlock()
	return f, nil
}

func (s *logSink) close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}

// InitializeLogger builds the process logger once and installs it as the slog
// default. Every record carries the service name and version.
func InitializeLogger(cfg config.LoggingConfig) (*slog.Logger, error) {
	var err error
	globalLoggerOnce.Do(func() {
		var w io.Writer
		w, err = outputFor(cfg)
		if err != nil {
			return
		}
		globalLogger = NewLogger(w, cfg.Level).With(
			slog.String("service", "cloudloader"),
			slog.String("version", contracts.Version),
		)
		slog.SetDefault(globalLogger)
	})
	return globalLogger, err
}

// GetLogger returns the process logger, or the slog default before InitializeLogger.
func GetLogger() *slog.Logger {
	if globalLogger == nil {
		return slog.Default()
	}
	return globalLogger
}

func outputFor(cfg config.LoggingConfig) (io.Writer, error) {
	switch strings.ToLower(cfg.Output) {
	case "file":
		return sink.open(cfg.FilePath)
	case "both":
		f, err := sink.open(cfg.FilePath)
		if err != nil {
			return nil, err
		}
		return io.MultiWriter(os.Stdout, f), nil
	default:
		return os.Stdout, nil
	}
}

// NewLogger returns a JSON logger writing to w. It injects trace_id from the
// context, shortens source paths and redacts credential attributes.
func NewLogger(w io.Writer, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		AddSource:   true,
		Level:       parseLogLevel(level),
		ReplaceAttr: replaceAttr,
	})
	return slog.New(&traceHandler{Handler: handler})
}

func replaceAttr(_ []string, a slog.Attr) slog.Attr {
	if a.Key == slog.SourceKey {
		if src, ok := a.Value.Any().(*slog.Source); ok {
			return slog.String(slog.SourceKey, fmt.Sprintf("%s/%s:%d", filepath.Base(filepath.Dir(src.File)), filepath.Base(src.File), src.Line))
		}
	}
	if credentialAttrs[strings.ToLower(a.Key)] {
		return slog.String(a.Key, Redacted)
	}
	return a
}

// traceHandler injects trace_id from context into each record
type traceHandler struct {
	slog.Handler
}

func (h *traceHandler) Handle(ctx context.Context, r slog.Record) error {
	if traceID := GetTraceID(ctx); traceID != "" {
		r.AddAttrs(slog.String("trace_id", traceID))
	}
	return h.Handler.Handle(ctx, r)
}

func (h *traceHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithAttrs(attrs)}
}

func (h *traceHandler) WithGroup(name string) slog.Handler {
	return &traceHandler{Handler: h.Handler.WithGroup(name)}
}

func parseLogLevel(level string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToLower(level))); err != nil {
		if strings.EqualFold(level, "warning") {
			return slog.LevelWarn
		}
		return slog.LevelInfo
	}
	return l
}

// CloseLogFile closes the log file opened by InitializeLogger, if any.
func CloseLogFile() error {
	return sink.close()
}

// ResetLoggerForTesting drops the process logger so InitializeLogger runs again.
func ResetLoggerForTesting() {
	sink.close()
	globalLogger = nil
	globalLoggerOnce = sync.Once{}
}
