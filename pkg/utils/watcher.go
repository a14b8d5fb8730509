package utils

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long a file must stay quiet before it is reported.
const DefaultDebounce = 500 * time.Millisecond

// InputWatcher reports input files once they stop changing.
type InputWatcher struct {
	dir      string
	match    func(name string) bool
	debounce time.Duration
	watcher  *fsnotify.Watcher
	logger   *slog.Logger

	// pending maps a path to the time of its last event.
	mu      sync.Mutex
	pending map[string]time.Time

	files chan string
}

// NewInputWatcher watches dir for files accepted by match.
func NewInputWatcher(dir string, match func(name string) bool, debounce time.Duration, logger *slog.Logger) (*InputWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	if logger == nil {
		logger = slog.Default()
	}

	return &InputWatcher{
		dir:      dir,
		match:    match,
		debounce: debounce,
		watcher:  fsw,
		logger:   logger,
		pending:  make(map[string]time.Time),
		files:    make(chan string, 64),
	}, nil
}

// Files returns the channel of settled files. It is closed when the watcher
// stops.
func (w *InputWatcher) Files() <-chan string {
	return w.files
}

// Start begins watching. The watcher stops when ctx is done or Close is
// called.
func (w *InputWatcher) Start(ctx context.Context) error {
	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		return err
	}
	if err := w.watcher.Add(w.dir); err != nil {
		return err
	}

	go w.loop(ctx)

	w.logger.Info("watching input directory", "dir", w.dir, "debounce", w.debounce)
	return nil
}

// Close stops the watcher.
func (w *InputWatcher) Close() error {
	return w.watcher.Close()
}

func (w *InputWatcher) loop(ctx context.Context) {
	defer close(w.files)

	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handle(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)

		case now := <-ticker.C:
			w.flush(ctx, now)
		}
	}
}

func (w *InputWatcher) handle(event fsnotify.Event) {
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
		return
	}

	name := filepath.Base(event.Name)
	if strings.HasPrefix(name, ".") || !w.match(name) {
		return
	}

	w.mu.Lock()
	w.pending[event.Name] = time.Now()
	w.mu.Unlock()
}

// flush reports pending files that have been quiet for the debounce delay
// and still exist.
func (w *InputWatcher) flush(ctx context.Context, now time.Time) {
	var ready []string

	w.mu.Lock()
	for path, last := range w.pending {
		if now.Sub(last) >= w.debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	for _, path := range ready {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		select {
		case w.files <- path:
		case <-ctx.Done():
			return
		}
	}
}
