// Package logging builds the slog logger used for diagnostics.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/felixgeelhaar/covkit/internal/application"
)

// Logging owns the process logger. It starts on stderr at warn and is
// reconfigured once the config file is known.
type Logging struct {
	level  *slog.LevelVar
	out    *switchWriter
	logger *slog.Logger

	mu   sync.Mutex
	file *lumberjack.Logger
}

// New returns a logger writing to stderr at warn level.
func New(stderr io.Writer) *Logging {
	l := &Logging{level: new(slog.LevelVar), out: &switchWriter{w: stderr}}
	l.level.Set(slog.LevelWarn)
	l.logger = slog.New(slog.NewTextHandler(l.out, &slog.HandlerOptions{Level: l.level}))
	return l
}

func (l *Logging) Logger() *slog.Logger {
	return l.logger
}

// Configure applies cfg. A filename redirects output into a rotating file.
func (l *Logging) Configure(cfg application.LogConfig) error {
	level, err := ParseLevel(cfg.Level, slog.LevelWarn)
	if err != nil {
		return &application.ConfigError{Field: "log.level", Err: err}
	}
	l.level.Set(level)
	if strings.TrimSpace(cfg.Filename) == "" {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file != nil && l.file.Filename == cfg.Filename {
		return nil
	}
	if l.file != nil {
		_ = l.file.Close()
	}
	l.file = &lumberjack.Logger{
		Filename:   cfg.Filename,
		MaxSize:    cfg.MaxSizeMB,
		MaxBackups: cfg.MaxBackups,
		MaxAge:     cfg.MaxAgeDays,
		Compress:   cfg.Compress,
	}
	l.out.set(l.file)
	return nil
}

// Close releases the log file, if any.
func (l *Logging) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.file == nil {
		return nil
	}
	err := l.file.Close()
	l.file = nil
	return err
}

// ParseLevel accepts slog level names and numeric levels. An empty value
// yields def.
func ParseLevel(value string, def slog.Level) (slog.Level, error) {
	level := strings.ToLower(strings.TrimSpace(value))
	switch level {
	case "":
		return def, nil
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	// Allow numeric slog levels as well (e.g. -4 for debug).
	if n, err := strconv.Atoi(level); err == nil {
		return slog.Level(n), nil
	}
	return def, fmt.Errorf("unknown log level %q", value)
}

type switchWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (s *switchWriter) Write(p []byte) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.w.Write(p)
}

func (s *switchWriter) set(w io.Writer) {
	s.mu.Lock()
	s.w = w
	s.mu.Unlock()
}
