package toolengine

import (
	"context"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"weave/internal/shared/logging"
)

// Watcher hot-reloads the tool catalog when manifests change on disk.
// Writes and creates re-register the tool; removes and renames drop it.
type Watcher struct {
	engine  *Engine
	dir     string
	watcher *fsnotify.Watcher
	// Editors fire several events per save; changes within the window
	// collapse into one reload.
	debounce time.Duration
	logger   logging.Logger
}

// NewWatcher starts watching dir for manifest changes. Close the returned
// watcher by cancelling the context passed to Run.
func NewWatcher(engine *Engine, dir string, logger logging.Logger) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsw.Add(dir); err != nil {
		fsw.Close()
		return nil, err
	}
	return &Watcher{
		engine:   engine,
		dir:      dir,
		watcher:  fsw,
		debounce: 200 * time.Millisecond,
		logger:   logging.OrNop(logger),
	}, nil
}

// Run processes filesystem events until the context is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.watcher.Close()

	pending := make(map[string]fsnotify.Op)
	var timer *time.Timer
	var timerC <-chan time.Time

	flush := func() {
		for path, op := range pending {
			w.apply(path, op)
		}
		pending = make(map[string]fsnotify.Op)
		timerC = nil
	}

	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !isManifestPath(event.Name) {
				continue
			}
			pending[event.Name] |= event.Op
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(w.debounce)
			}
			timerC = timer.C
		case <-timerC:
			flush()
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			w.logger.Warn("tool directory watch error: %v", err)
		}
	}
}

func (w *Watcher) apply(path string, op fsnotify.Op) {
	if op&(fsnotify.Remove|fsnotify.Rename) != 0 {
		name := toolNameFromPath(path)
		w.logger.Info("manifest %s removed, dropping tool %q", filepath.Base(path), name)
		w.engine.Remove(name)
		return
	}
	if op&(fsnotify.Create|fsnotify.Write) == 0 {
		return
	}

	t, err := loadManifestFile(path)
	if err != nil {
		// A bad edit must not evict the running version.
		w.logger.Warn("manifest %s rejected, keeping previous version: %v", filepath.Base(path), err)
		return
	}
	if err := w.engine.Register(t); err != nil {
		w.logger.Warn("manifest %s could not be registered: %v", filepath.Base(path), err)
		return
	}
	w.logger.Info("manifest %s reloaded as tool %q v%s", filepath.Base(path), t.Name, t.Version)
}

// toolNameFromPath maps a manifest filename back to its tool name. Manifest
// files are named after their tool.
func toolNameFromPath(path string) string {
	base := filepath.Base(path)
	return strings.TrimSuffix(base, filepath.Ext(base))
}
