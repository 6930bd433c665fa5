// Package watch re-runs an upload whenever entity files change.
package watch

import (
	"context"
	"errors"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is how long the tree must stay quiet before a batch fires.
const DefaultDebounce = 2 * time.Second

// Trigger handles one settled batch of changed entity files.
type Trigger func(ctx context.Context, changed []string) error

// Watcher watches prds/, epics/ and every epic directory for Markdown
// changes.
type Watcher struct {
	root     string
	debounce time.Duration
	trigger  Trigger
	fsw      *fsnotify.Watcher
}

// New creates the directories if needed and registers the watches. Events
// are not consumed until Run is called.
func New(root string, debounce time.Duration, trigger Trigger) (*Watcher, error) {
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create fsnotify watcher: %w", err)
	}
	w := &Watcher{root: root, debounce: debounce, trigger: trigger, fsw: fsw}

	for _, dir := range []string{filepath.Join(root, "prds"), filepath.Join(root, "epics")} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			fsw.Close()
			return nil, fmt.Errorf("create %s: %w", dir, err)
		}
		if err := w.add(dir); err != nil {
			fsw.Close()
			return nil, err
		}
	}

	epics, _ := filepath.Glob(filepath.Join(root, "epics", "epic-*"))
	for _, dir := range epics {
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			if err := w.add(dir); err != nil {
				fsw.Close()
				return nil, err
			}
		}
	}
	return w, nil
}

func (w *Watcher) add(dir string) error {
	if err := w.fsw.Add(dir); err != nil {
		return fmt.Errorf("failed to watch directory %s: %w", dir, err)
	}
	return nil
}

// Close releases the underlying watcher.
func (w *Watcher) Close() error {
	return w.fsw.Close()
}

// Run delivers debounced batches to the trigger until ctx is cancelled.
// Trigger errors are logged and do not stop the loop.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.fsw.Close()

	pending := make(map[string]bool)
	timer := time.NewTimer(w.debounce)
	if !timer.Stop() {
		<-timer.C
	}

	log.Printf("[Watch] Watching %s (debounce %s)", w.root, w.debounce)
	for {
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil

		case event, ok := <-w.fsw.Events:
			if !ok {
				return nil
			}
			if w.handleDir(event) {
				continue
			}
			if !relevant(event) {
				continue
			}
			pending[event.Name] = true
			timer.Reset(w.debounce)

		case err, ok := <-w.fsw.Errors:
			if !ok {
				return nil
			}
			log.Printf("[Watch] Error: %v", err)

		case <-timer.C:
			if len(pending) == 0 {
				continue
			}
			changed := make([]string, 0, len(pending))
			for p := range pending {
				changed = append(changed, p)
			}
			sort.Strings(changed)
			pending = make(map[string]bool)

			log.Printf("[Watch] %d file(s) changed, syncing", len(changed))
			if err := w.trigger(ctx, changed); err != nil {
				if errors.Is(err, context.Canceled) {
					return nil
				}
				log.Printf("[Watch] Sync failed: %v", err)
			}
		}
	}
}

// handleDir starts watching epic directories created after startup.
func (w *Watcher) handleDir(event fsnotify.Event) bool {
	if !event.Has(fsnotify.Create) {
		return false
	}
	info, err := os.Stat(event.Name)
	if err != nil || !info.IsDir() {
		return false
	}
	if filepath.Dir(event.Name) == filepath.Join(w.root, "epics") {
		if err := w.add(event.Name); err != nil {
			log.Printf("[Watch] Warning: %v", err)
		}
	}
	return true
}

// relevant keeps writes to entity files. Temp files from atomic writes and
// chmod-only events are ignored.
func relevant(event fsnotify.Event) bool {
	if !strings.HasSuffix(event.Name, ".md") || strings.HasPrefix(filepath.Base(event.Name), ".") {
		return false
	}
	return event.Has(fsnotify.Create) || event.Has(fsnotify.Write) || event.Has(fsnotify.Rename)
}
