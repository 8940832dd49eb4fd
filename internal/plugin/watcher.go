package plugin

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"reddel/internal/logging"
	"reddel/internal/provider"

	"github.com/fsnotify/fsnotify"
)

// Registrar is the part of the provider registry the watcher needs.
type Registrar interface {
	HasHandle(handle string) bool
	RegisterHandle(handle string) (*provider.Provider, error)
}

// WatcherStats counts watcher activity.
type WatcherStats struct {
	Events     int
	Registered int
	Skipped    int
	Errors     int
	LastPath   string
	LastError  string
}

// Watcher registers scripts that appear in a plugin directory. Scripts that
// are already registered are never reloaded; a script that failed to load is
// retried on its next write.
type Watcher struct {
	mu       sync.Mutex
	watcher  *fsnotify.Watcher
	dir      string
	reg      Registrar
	pending  map[string]time.Time
	debounce time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	running  bool
	stats    WatcherStats
}

// NewWatcher creates a watcher for dir. debounce is how long a file must be
// quiet before it is loaded; zero means 500ms.
func NewWatcher(dir string, reg Registrar, debounce time.Duration) (*Watcher, error) {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = 500 * time.Millisecond
	}
	return &Watcher{
		watcher:  fw,
		dir:      filepath.Clean(dir),
		reg:      reg,
		pending:  make(map[string]time.Time),
		debounce: debounce,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}, nil
}

// Dir returns the watched directory.
func (w *Watcher) Dir() string { return w.dir }

// Stats returns a snapshot of the counters.
func (w *Watcher) Stats() WatcherStats {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.stats
}

// LoadExisting registers the scripts already in the directory in name order
// and returns how many were registered.
func (w *Watcher) LoadExisting() int {
	paths, err := scripts(w.dir)
	if err != nil {
		logging.PluginWarn("Watcher: cannot list %s: %v", w.dir, err)
		return 0
	}
	n := 0
	for _, path := range paths {
		if w.register(path) {
			n++
		}
	}
	return n
}

// LoadDir registers every script in dir that reg does not know yet, without
// watching. Scripts that fail to load are reported together and do not stop
// the others.
func LoadDir(dir string, reg Registrar) (int, error) {
	paths, err := scripts(filepath.Clean(dir))
	if err != nil {
		return 0, err
	}
	n := 0
	var errs []error
	for _, path := range paths {
		if reg.HasHandle(path) {
			continue
		}
		if _, err := reg.RegisterHandle(path); err != nil {
			errs = append(errs, err)
			continue
		}
		n++
	}
	return n, errors.Join(errs...)
}

// scripts lists the scripts in dir in name order. A missing dir has none.
func scripts(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	var paths []string
	for _, e := range entries {
		path := filepath.Join(dir, e.Name())
		if !e.IsDir() && isScript(path) {
			paths = append(paths, path)
		}
	}
	sort.Strings(paths)
	return paths, nil
}

// Start begins watching. It does not block.
func (w *Watcher) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.mu.Unlock()

	if err := os.MkdirAll(w.dir, 0o755); err != nil {
		logging.PluginWarn("Watcher: cannot create %s: %v", w.dir, err)
	}
	if err := w.watcher.Add(w.dir); err != nil {
		w.mu.Lock()
		w.running = false
		w.mu.Unlock()
		return err
	}
	logging.Plugin("Watcher: watching %s", w.dir)

	// scripts written before the watch was added produce no event
	if n := w.LoadExisting(); n > 0 {
		logging.Plugin("Watcher: registered %d scripts found at start", n)
	}

	go w.run(ctx)
	return nil
}

// Stop ends watching and waits for the event loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		_ = w.watcher.Close()
		return
	}
	w.running = false
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh

	if err := w.watcher.Close(); err != nil {
		logging.Get(logging.CategoryPlugin).Error("Watcher: close: %v", err)
	}
	logging.Plugin("Watcher: stopped")
}

// Run starts the watcher and blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) error {
	if err := w.Start(ctx); err != nil {
		w.Stop()
		return err
	}
	<-ctx.Done()
	w.Stop()
	return nil
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.doneCh)

	tick := w.debounce / 4
	if tick < 10*time.Millisecond {
		tick = 10 * time.Millisecond
	}
	ticker := time.NewTicker(tick)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
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
			logging.Get(logging.CategoryPlugin).Error("Watcher: %v", err)
			w.mu.Lock()
			w.stats.Errors++
			w.stats.LastError = err.Error()
			w.mu.Unlock()
		case <-ticker.C:
			w.flush()
		}
	}
}

func (w *Watcher) handleEvent(event fsnotify.Event) {
	if !isScript(event.Name) {
		return
	}
	if event.Op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}
	logging.PluginDebug("Watcher: %s %s", event.Op, event.Name)

	w.mu.Lock()
	w.stats.Events++
	w.pending[filepath.Clean(event.Name)] = time.Now()
	w.mu.Unlock()
}

// flush registers files that have been quiet for the debounce period.
func (w *Watcher) flush() {
	w.mu.Lock()
	now := time.Now()
	var ready []string
	for path, at := range w.pending {
		if now.Sub(at) >= w.debounce {
			ready = append(ready, path)
			delete(w.pending, path)
		}
	}
	w.mu.Unlock()

	sort.Strings(ready)
	for _, path := range ready {
		w.register(path)
	}
}

func (w *Watcher) register(path string) bool {
	if w.reg.HasHandle(path) {
		logging.PluginDebug("Watcher: %s already registered", path)
		w.mu.Lock()
		w.stats.Skipped++
		w.mu.Unlock()
		return false
	}
	if _, err := os.Stat(path); err != nil {
		return false
	}

	p, err := w.reg.RegisterHandle(path)
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stats.LastPath = path
	if err != nil {
		w.stats.Errors++
		w.stats.LastError = err.Error()
		logging.PluginWarn("Watcher: cannot register %s: %v", path, err)
		return false
	}
	w.stats.Registered++
	logging.Plugin("Watcher: registered provider %s from %s", p.Name, path)
	return true
}

func isScript(path string) bool {
	base := filepath.Base(path)
	return strings.HasSuffix(base, ".go") &&
		!strings.HasSuffix(base, "_test.go") &&
		!strings.HasPrefix(base, ".")
}
