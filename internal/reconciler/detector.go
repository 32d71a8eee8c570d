package reconciler

import (
	"context"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"datastack/pkg/logging"
)

// ChangeEvent signals that a watched configuration file changed on disk.
type ChangeEvent struct {
	// Path is the file that changed.
	Path string

	// Timestamp is when the (debounced) change was detected.
	Timestamp time.Time
}

// ConfigDetector watches configuration files for changes and emits
// debounced change events, so that watch mode can re-apply the
// deployment when the user edits the config.
//
// Watches are placed on the parent directories rather than the files
// themselves because most editors replace files via rename, which would
// otherwise silently drop the watch.
type ConfigDetector struct {
	mu sync.Mutex

	// paths maps absolute file paths to true for files we care about.
	paths map[string]bool

	watcher          *fsnotify.Watcher
	debounceInterval time.Duration
	pending          map[string]*time.Timer
	stopCh           chan struct{}
	running          bool
}

// NewConfigDetector creates a detector for the given files. A zero
// debounce interval defaults to 500ms.
func NewConfigDetector(files []string, debounceInterval time.Duration) *ConfigDetector {
	if debounceInterval == 0 {
		debounceInterval = 500 * time.Millisecond
	}

	paths := make(map[string]bool, len(files))
	for _, f := range files {
		if abs, err := filepath.Abs(f); err == nil {
			paths[abs] = true
		}
	}

	return &ConfigDetector{
		paths:            paths,
		debounceInterval: debounceInterval,
		pending:          make(map[string]*time.Timer),
		stopCh:           make(chan struct{}),
	}
}

// Start begins watching. Change events are delivered to changes until
// the context is cancelled or Stop is called.
func (d *ConfigDetector) Start(ctx context.Context, changes chan<- ChangeEvent) error {
	d.mu.Lock()
	if d.running {
		d.mu.Unlock()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		d.mu.Unlock()
		return err
	}
	d.watcher = watcher
	d.running = true
	d.stopCh = make(chan struct{})

	dirs := make(map[string]bool)
	for path := range d.paths {
		dirs[filepath.Dir(path)] = true
	}
	d.mu.Unlock()

	for dir := range dirs {
		if err := watcher.Add(dir); err != nil {
			logging.Warn("detector", "Cannot watch %s: %v", dir, err)
		}
	}

	go d.processEvents(ctx, changes)

	logging.Info("detector", "Watching %d configuration file(s) for changes", len(d.paths))
	return nil
}

func (d *ConfigDetector) processEvents(ctx context.Context, changes chan<- ChangeEvent) {
	for {
		select {
		case <-ctx.Done():
			d.cleanupPending()
			return

		case <-d.stopCh:
			d.cleanupPending()
			return

		case event, ok := <-d.watcher.Events:
			if !ok {
				return
			}
			d.handleFsEvent(event, changes)

		case err, ok := <-d.watcher.Errors:
			if !ok {
				return
			}
			logging.Error("detector", err, "Filesystem watcher error")
		}
	}
}

func (d *ConfigDetector) handleFsEvent(event fsnotify.Event, changes chan<- ChangeEvent) {
	abs, err := filepath.Abs(event.Name)
	if err != nil {
		return
	}

	d.mu.Lock()
	watched := d.paths[abs]
	d.mu.Unlock()
	if !watched {
		return
	}

	if event.Op&(fsnotify.Create|fsnotify.Write|fsnotify.Rename|fsnotify.Remove) == 0 {
		return
	}

	d.debounce(abs, changes)
}

// debounce coalesces rapid successive writes to the same file into one
// event.
func (d *ConfigDetector) debounce(path string, changes chan<- ChangeEvent) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, ok := d.pending[path]; ok {
		timer.Stop()
	}

	d.pending[path] = time.AfterFunc(d.debounceInterval, func() {
		d.mu.Lock()
		delete(d.pending, path)
		d.mu.Unlock()

		select {
		case changes <- ChangeEvent{Path: path, Timestamp: time.Now()}:
			logging.Debug("detector", "Configuration change detected: %s", path)
		case <-d.stopCh:
		}
	})
}

func (d *ConfigDetector) cleanupPending() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, timer := range d.pending {
		timer.Stop()
	}
	d.pending = make(map[string]*time.Timer)
}

// Stop gracefully stops the detector.
func (d *ConfigDetector) Stop() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if !d.running {
		return nil
	}
	d.running = false
	close(d.stopCh)

	if d.watcher != nil {
		if err := d.watcher.Close(); err != nil {
			logging.Error("detector", err, "Error closing filesystem watcher")
		}
		d.watcher = nil
	}
	return nil
}
