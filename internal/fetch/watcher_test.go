package fetch

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"flightdeck/internal/deck"
)

func TestWatcher_Run(t *testing.T) {
	dir := t.TempDir()

	var (
		mu    sync.Mutex
		got   []string
		modes []string
	)
	seen := make(chan struct{}, 4)
	w := NewWatcher(dir, func(_ context.Context, path string, p *deck.Payload) error {
		mu.Lock()
		got = append(got, filepath.Base(path))
		modes = append(modes, p.FetchMode)
		mu.Unlock()
		seen <- struct{}{}
		return nil
	}, nil)
	w.Debounce = 50 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	// Give the watcher time to register the directory.
	time.Sleep(100 * time.Millisecond)

	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("ignored"), 0644)
	os.WriteFile(filepath.Join(dir, "broken.json"), []byte("{"), 0644)
	os.WriteFile(filepath.Join(dir, "drop.json"), []byte(`{"email_messages":[{"id":"m1","subject":"hi"}]}`), 0644)

	select {
	case <-seen:
	case <-time.After(5 * time.Second):
		t.Fatal("handler not called within 5s")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Run() error = %v", err)
	}

	mu.Lock()
	defer mu.Unlock()
	if len(got) != 1 || got[0] != "drop.json" {
		t.Errorf("handled files = %v, want [drop.json]", got)
	}
	if modes[0] != deck.FetchModeWatch {
		t.Errorf("FetchMode = %q, want %q", modes[0], deck.FetchModeWatch)
	}
}

func TestWatcher_MissingDir(t *testing.T) {
	w := NewWatcher(filepath.Join(t.TempDir(), "absent"), nil, nil)
	if err := w.Run(context.Background()); err == nil {
		t.Error("Run() error = nil, want error")
	}
}
