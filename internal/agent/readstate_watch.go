package agent

import (
	"log/slog"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
)

// ReadStateWatcher invalidates tracked read ranges when a file changes on
// disk outside the agent's own tools — an external editor save makes every
// previously-read line suspect, so the model must re-read before editing.
type ReadStateWatcher struct {
	tracker *ReadStateTracker
	watcher *fsnotify.Watcher
	done    chan struct{}
}

// WatchReadState starts watching root and every existing subdirectory at
// any depth (except .git and node_modules), adds directories created later,
// and clears the tracker's state for any written, removed, or
// renamed file. Close releases the watcher.
func WatchReadState(tracker *ReadStateTracker, root string) (*ReadStateWatcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &ReadStateWatcher{tracker: tracker, watcher: fsw, done: make(chan struct{})}

	if err := fsw.Add(root); err != nil {
		fsw.Close()
		return nil, err
	}
	// Watch existing subdirectories; fsnotify is not recursive on its own.
	_ = filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil || !d.IsDir() || path == root {
			return nil
		}
		name := d.Name()
		if name == ".git" || name == "node_modules" {
			return filepath.SkipDir
		}
		_ = fsw.Add(path)
		return nil
	})

	go w.loop()
	return w, nil
}

func (w *ReadStateWatcher) loop() {
	for {
		select {
		case <-w.done:
			return
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
				w.tracker.ClearFile(event.Name)
			}
			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					_ = w.watcher.Add(event.Name)
				}
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			slog.Debug("read-state watcher error", "error", err)
		}
	}
}

// Close stops the watcher.
func (w *ReadStateWatcher) Close() error {
	close(w.done)
	return w.watcher.Close()
}
