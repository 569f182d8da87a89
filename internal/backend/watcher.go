package backend

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultWatchSettle = 100 * time.Millisecond

// Watcher publishes changes made to a file store behind the server's back,
// for example by a git checkout.
type Watcher struct {
	store   *FileContentStore
	hub     *Hub
	logger  Logger
	settle  time.Duration
	watcher *fsnotify.Watcher
}

func NewWatcher(store *FileContentStore, hub *Hub, logger Logger) (*Watcher, error) {
	if store == nil || hub == nil {
		return nil, ErrInvalidInput
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	w := &Watcher{store: store, hub: hub, logger: logger, settle: defaultWatchSettle, watcher: fsw}
	if err := w.addTree(store.Root()); err != nil {
		_ = fsw.Close()
		return nil, err
	}
	return w, nil
}

func (w *Watcher) addTree(root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		return w.watcher.Add(p)
	})
}

// Run blocks until ctx ends. Events are gathered for a short settle period so
// that a burst of writes produces one publish.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.watcher.Close()
	pending := map[string]struct{}{}
	timer := time.NewTimer(w.settle)
	if !timer.Stop() {
		<-timer.C
	}
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			if w.handle(event, pending) {
				timer.Reset(w.settle)
			}
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logf("content watcher error: %v", err)
		case <-timer.C:
			w.flush(ctx, pending)
			pending = map[string]struct{}{}
		}
	}
}

func (w *Watcher) handle(event fsnotify.Event, pending map[string]struct{}) bool {
	if event.Has(fsnotify.Create) {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if err := w.addTree(event.Name); err != nil {
				w.logf("watch %s: %v", event.Name, err)
			}
			return false
		}
	}
	if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) && !event.Has(fsnotify.Remove) && !event.Has(fsnotify.Rename) {
		return false
	}
	resourcePath, ok := w.store.ResourcePathFor(event.Name)
	if !ok {
		return false
	}
	pending[resourcePath] = struct{}{}
	return true
}

func (w *Watcher) flush(ctx context.Context, pending map[string]struct{}) {
	if len(pending) == 0 {
		return
	}
	paths := make([]string, 0, len(pending))
	for p := range pending {
		paths = append(paths, p)
	}
	sort.Strings(paths)
	w.logf("content changed on disk: %s", strings.Join(paths, ", "))
	w.hub.Publish(ctx, paths...)
}

func (w *Watcher) logf(format string, args ...any) {
	if w.logger == nil {
		return
	}
	w.logger.Printf(format, args...)
}
