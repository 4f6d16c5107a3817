package document

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/becomeliminal/nim-recall/logging"
)

// Ingester is the part of Store the watcher drives.
type Ingester interface {
	Add(ctx context.Context, title, content, source string, metadata map[string]any) (int64, error)
	Update(ctx context.Context, id int64, u Update) (bool, error)
	Delete(ctx context.Context, id int64) (bool, error)
}

// Watcher ingests files dropped into a directory. A file written again is
// re-chunked through Update; a removed file deletes its document.
type Watcher struct {
	dir      string
	ingester Ingester
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	docs    map[string]int64 // path -> document id
	pending map[string]*time.Timer
}

// NewWatcher creates a watcher over dir. debounce <= 0 selects 500ms.
func NewWatcher(dir string, ingester Ingester, debounce time.Duration) *Watcher {
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		dir:      dir,
		ingester: ingester,
		debounce: debounce,
		logger:   logging.Module("document.watcher"),
		docs:     make(map[string]int64),
		pending:  make(map[string]*time.Timer),
	}
}

// Run watches until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	defer fw.Close()

	if err := fw.Add(w.dir); err != nil {
		return fmt.Errorf("watch %s: %w", w.dir, err)
	}
	w.logger.Info("Watching inbox", "dir", w.dir)

	for {
		select {
		case <-ctx.Done():
			w.stopPending()
			return nil

		case event, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !IsSupported(event.Name) {
				continue
			}
			switch {
			case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
				w.schedule(ctx, event.Name)
			case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
				w.remove(ctx, event.Name)
			}

		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("Watcher error", "error", err)
		}
	}
}

// schedule coalesces bursts of write events for one path.
func (w *Watcher) schedule(ctx context.Context, path string) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if t, ok := w.pending[path]; ok {
		t.Stop()
	}
	w.pending[path] = time.AfterFunc(w.debounce, func() {
		w.mu.Lock()
		delete(w.pending, path)
		w.mu.Unlock()
		w.ingest(ctx, path)
	})
}

func (w *Watcher) ingest(ctx context.Context, path string) {
	f, err := LoadFile(path)
	if err != nil {
		w.logger.Warn("Skipping file", "path", path, "error", err)
		return
	}

	w.mu.Lock()
	id, known := w.docs[path]
	w.mu.Unlock()

	if known {
		ok, err := w.ingester.Update(ctx, id, Update{Title: &f.Title, Content: &f.Content, Metadata: f.Metadata})
		if err != nil {
			w.logger.Error("Failed to update document from file", "path", path, "error", err)
			return
		}
		if ok {
			return
		}
		// document was deleted elsewhere; ingest it again
	}

	id, err = w.ingester.Add(ctx, f.Title, f.Content, f.Source, f.Metadata)
	if err != nil {
		w.logger.Error("Failed to ingest file", "path", path, "error", err)
		return
	}

	w.mu.Lock()
	w.docs[path] = id
	w.mu.Unlock()
}

func (w *Watcher) remove(ctx context.Context, path string) {
	w.mu.Lock()
	if t, ok := w.pending[path]; ok {
		t.Stop()
		delete(w.pending, path)
	}
	id, known := w.docs[path]
	delete(w.docs, path)
	w.mu.Unlock()

	if !known {
		return
	}
	if _, err := w.ingester.Delete(ctx, id); err != nil {
		w.logger.Error("Failed to delete document for removed file", "path", path, "error", err)
	}
}

func (w *Watcher) stopPending() {
	w.mu.Lock()
	defer w.mu.Unlock()
	for path, t := range w.pending {
		t.Stop()
		delete(w.pending, path)
	}
}
