package watch

import (
	"context"
	"log"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"park_reports/internal/config"
)

// CatalogWatcher reloads the message catalog when its file changes.
type CatalogWatcher struct {
	path   string
	live   *config.LiveCatalog
	reload chan struct{}
}

func New(path string, live *config.LiveCatalog) *CatalogWatcher {
	return &CatalogWatcher{path: path, live: live, reload: make(chan struct{}, 1)}
}

// Reloaded is signalled after each successful reload.
func (w *CatalogWatcher) Reloaded() <-chan struct{} { return w.reload }

// Start watches the catalog's directory, since editors often replace the
// file instead of writing it in place.
func (w *CatalogWatcher) Start(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	if err := watcher.Add(filepath.Dir(w.path)); err != nil {
		watcher.Close()
		return err
	}
	target := filepath.Clean(w.path)
	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-watcher.Events:
				if !ok {
					return
				}
				if filepath.Clean(evt.Name) != target {
					continue
				}
				if evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
					w.Reload()
				}
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				log.Printf("catalog watcher error: %v", err)
			}
		}
	}()
	return nil
}

// Reload reads the catalog file and installs it. A broken file keeps the
// current catalog.
func (w *CatalogWatcher) Reload() bool {
	cat, err := config.LoadCatalog(w.path)
	if err != nil {
		log.Printf("catalog reload path=%s err=%v", w.path, err)
		return false
	}
	w.live.Replace(cat)
	log.Printf("catalog reloaded path=%s categories=%d", w.path, len(cat.Categories))
	select {
	case w.reload <- struct{}{}:
	default:
	}
	return true
}
