package knowledge

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"hivemind/internal/logging"
	"hivemind/internal/types"
)

// ReloadFunc receives the full set of entries after a settled change.
type ReloadFunc func(entries []types.GlobalKnowledgeEntry)

// Watcher watches <root>/patterns for bucket changes made by other curator
// processes and reloads the repository once a burst of writes settles.
type Watcher struct {
	mu          sync.RWMutex
	watcher     *fsnotify.Watcher
	repo        *Repository
	root        string
	patternsDir string
	onReload    ReloadFunc
	debounceMap map[string]time.Time
	debounceDur time.Duration
	stopCh      chan struct{}
	doneCh      chan struct{}
	running     bool

	stats WatcherStats
}

// WatcherStats tracks watcher activity.
type WatcherStats struct {
	Events        int
	Reloads       int
	Errors        int
	LastEventTime time.Time
	LastEventPath string
}

// NewWatcher creates a watcher over root. onReload may be nil.
func NewWatcher(repo *Repository, root string, onReload ReloadFunc) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, types.StorageError("NewWatcher", root, err)
	}
	return &Watcher{
		watcher:     fw,
		repo:        repo,
		root:        root,
		patternsDir: filepath.Join(root, PatternsDir),
		onReload:    onReload,
		debounceMap: make(map[string]time.Time),
		debounceDur: 500 * time.Millisecond, // Writers rename temp files in bursts
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}, nil
}

// SetDebounce overrides the settle window. Must be called before Start.
func (w *Watcher) SetDebounce(d time.Duration) {
	w.mu.Lock()
	w.debounceDur = d
	w.mu.Unlock()
}

// Start begins watching. Non-blocking.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.patternsDir, 0755); err != nil {
		logging.KnowledgeWarn("Watcher: failed to create %s: %v (continuing anyway)", w.patternsDir, err)
	}
	if err := w.watcher.Add(w.patternsDir); err != nil {
		logging.KnowledgeWarn("Watcher: initial watch failed: %v", err)
	} else {
		logging.Knowledge("Watcher: watching %s", w.patternsDir)
	}

	go w.run(ctx)
	return nil
}

// Stop stops the watcher and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryKnowledge).Error("Watcher: error closing watcher: %v", err)
	}
	logging.Knowledge("Watcher: stopped")
}

// Stats returns a snapshot of watcher counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.stats
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	debounceTicker := time.NewTicker(100 * time.Millisecond)
	defer debounceTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			logging.KnowledgeDebug("Watcher: context cancelled")
			return

		case <-w.stopCh:
			return

		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			w.handleEvent(event)

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			logging.Get(logging.CategoryKnowledge).Error("Watcher error: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.mu.Unlock()

		case <-debounceTicker.C:
			w.processDebounced(ctx)
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	// Temp files from atomic writes start with a dot.
	if strings.HasPrefix(filepath.Base(event.Name), ".") || !isPatternFile(event.Name) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}

	logging.KnowledgeDebug("Watcher: %s %s", event.Op, event.Name)

	w.mu.Lock()
	w.stats.Events++
	w.stats.LastEventTime = time.Now()
	w.stats.LastEventPath = event.Name
	w.debounceMap[event.Name] = time.Now()
	w.mu.Unlock()
}

// processDebounced reloads once if any recorded path has settled.
func (w *Watcher) processDebounced(ctx context.Context) {
	w.mu.Lock()
	now := time.Now()
	settled := 0
	for path, at := range w.debounceMap {
		if now.Sub(at) >= w.debounceDur {
			delete(w.debounceMap, path)
			settled++
		}
	}
	w.mu.Unlock()

	if settled == 0 {
		return
	}

	entries, err := w.repo.LoadEntries(ctx, w.root)
	if err != nil {
		logging.Get(logging.CategoryKnowledge).Error("Watcher: failed to reload %s: %v", w.root, err)
		w.mu.Lock()
		w.stats.Errors++
		w.mu.Unlock()
		return
	}

	w.mu.Lock()
	w.stats.Reloads++
	cb := w.onReload
	w.mu.Unlock()

	if cb != nil {
		cb(entries)
	}
}
