package fetch

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"flightdeck/internal/deck"
)

// DefaultDebounce is how long a dropped file must stay quiet before it is read.
const DefaultDebounce = 500 * time.Millisecond

// PayloadHandler receives each settled payload file.
type PayloadHandler func(ctx context.Context, path string, payload *deck.Payload) error

// Watcher feeds *.json files written into a drop directory to a handler.
type Watcher struct {
	dir      string
	handle   PayloadHandler
	logger   deck.Logger
	Debounce time.Duration
}

// NewWatcher creates a Watcher for dir. Run starts watching.
func NewWatcher(dir string, handle PayloadHandler, logger deck.Logger) *Watcher {
	if logger == nil {
		logger = deck.NewNopLogger()
	}
	return &Watcher{dir: dir, handle: handle, logger: logger, Debounce: DefaultDebounce}
}

// Run watches until ctx is done. Files are parsed with fetch mode "watch";
// parse and handler failures are logged and do not stop the watcher.
func (w *Watcher) Run(ctx context.Context) error {
	info, err := os.Stat(w.dir)
	if err != nil {
		return fmt.Errorf("watch directory not accessible: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("watch path is not a directory: %s", w.dir)
	}

	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer fsw.Close()

	if err := fsw.Add(w.dir); err != nil {
		return fmt.Errorf("watching %s: %w", w.dir, err)
	}
	w.logger.Info("watching for payloads", "dir", w.dir)

	timer := newDebounceTimer()
	defer timer.Stop()
	pending := make(map[string]struct{})

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			if !isPayloadEvent(event) {
				continue
			}
			pending[event.Name] = struct{}{}
			resetDebounceTimer(timer, w.Debounce)

		case <-timer.C:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			sort.Strings(paths)
			for _, p := range paths {
				w.process(ctx, p)
			}

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watcher error", "error", err)
		}
	}
}

func (w *Watcher) process(ctx context.Context, path string) {
	payload, err := deck.ReadPayloadFile(path, deck.FetchModeWatch)
	if err != nil {
		w.logger.Warn("skipping payload file", "path", path, "error", err)
		return
	}
	if err := w.handle(ctx, path, payload); err != nil {
		w.logger.Warn("payload handler failed", "path", path, "error", err)
	}
}

func isPayloadEvent(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return false
	}
	base := filepath.Base(event.Name)
	if strings.HasPrefix(base, ".") {
		return false
	}
	return strings.EqualFold(filepath.Ext(base), ".json")
}

func newDebounceTimer() *time.Timer {
	timer := time.NewTimer(0)
	if !timer.Stop() {
		<-timer.C
	}
	return timer
}

func resetDebounceTimer(timer *time.Timer, d time.Duration) {
	if !timer.Stop() {
		select {
		case <-timer.C:
		default:
		}
	}
	timer.Reset(d)
}
