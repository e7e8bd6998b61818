package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"
)

// LogFileName is the append-only log written under the configured log dir.
const LogFileName = "flightdeck.log"

const logTimeLayout = "2006-01-02T15:04:05Z"

// lineWriter serializes whole lines; queue workers, refresh goroutines and
// HTTP handlers all share one.
type lineWriter struct {
	mu sync.Mutex
	w  io.Writer
}

func (lw *lineWriter) writeLine(line []byte) error {
	lw.mu.Lock()
	defer lw.mu.Unlock()
	_, err := lw.w.Write(line)
	return err
}

// lineHandler is a slog.Handler that writes one tab-separated line per record:
//
//	<timestamp>\t<level>\t<opID>\t<message>\t<key=value ...>
//
// Values containing whitespace are quoted so multi-line run errors stay on
// one line. Groups flatten into dotted keys ("run.id").
type lineHandler struct {
	out    *lineWriter
	opID   string
	level  slog.Level
	group  string
	preset []byte
}

func newLineHandler(w io.Writer, opID string, level slog.Level) *lineHandler {
	return &lineHandler{out: &lineWriter{w: w}, opID: opID, level: level}
}

func (h *lineHandler) Enabled(_ context.Context, level slog.Level) bool { return level >= h.level }

func (h *lineHandler) Handle(_ context.Context, r slog.Record) error {
	line := make([]byte, 0, 256)
	line = append(line, r.Time.UTC().Format(logTimeLayout)...)
	line = append(line, '\t')
	line = append(line, r.Level.String()...)
	line = append(line, '\t')
	line = append(line, h.opID...)
	line = append(line, '\t')
	line = append(line, logValue(r.Message)...)
	line = append(line, h.preset...)
	r.Attrs(func(a slog.Attr) bool {
		line = appendAttr(line, h.group, a)
		return true
	})
	line = append(line, '\n')
	return h.out.writeLine(line)
}

func (h *lineHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	next := *h
	next.preset = append([]byte{}, h.preset...)
	for _, a := range attrs {
		next.preset = appendAttr(next.preset, h.group, a)
	}
	return &next
}

func (h *lineHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}
	next := *h
	next.group = h.group + name + "."
	return &next
}

func appendAttr(line []byte, prefix string, a slog.Attr) []byte {
	a.Value = a.Value.Resolve()
	if a.Equal(slog.Attr{}) {
		return line
	}
	if a.Value.Kind() == slog.KindGroup {
		sub := prefix
		if a.Key != "" {
			sub = prefix + a.Key + "."
		}
		for _, ga := range a.Value.Group() {
			line = appendAttr(line, sub, ga)
		}
		return line
	}

	var text string
	switch a.Value.Kind() {
	case slog.KindTime:
		text = a.Value.Time().UTC().Format(time.RFC3339)
	case slog.KindDuration:
		text = a.Value.Duration().Round(time.Millisecond).String()
	default:
		text = a.Value.String()
	}
	line = append(line, '\t')
	line = append(line, prefix...)
	line = append(line, a.Key...)
	line = append(line, '=')
	return append(line, logValue(text)...)
}

func logValue(s string) string {
	if strings.ContainsAny(s, "\t\n\r\"") || strings.HasPrefix(s, " ") || strings.HasSuffix(s, " ") {
		return strconv.Quote(s)
	}
	return s
}

// newLogger creates a structured logger that writes to logDir/flightdeck.log
// and to stderr. It returns the slog.Logger and the open log file.
func newLogger(logDir, opID string, level slog.Level) (*slog.Logger, *os.File, error) {
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return nil, nil, fmt.Errorf("creating log directory: %w", err)
	}

	f, err := os.OpenFile(filepath.Join(logDir, LogFileName), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}

	return slog.New(newLineHandler(io.MultiWriter(f, os.Stderr), opID, level)), f, nil
}

// slogAdapter wraps *slog.Logger to satisfy the deck.Logger interface.
type slogAdapter struct {
	l *slog.Logger
}

func (a *slogAdapter) Debug(msg string, args ...any) { a.l.Debug(msg, args...) }
func (a *slogAdapter) Info(msg string, args ...any)  { a.l.Info(msg, args...) }
func (a *slogAdapter) Warn(msg string, args ...any)  { a.l.Warn(msg, args...) }
func (a *slogAdapter) Error(msg string, args ...any) { a.l.Error(msg, args...) }
