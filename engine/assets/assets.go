// Package assets watches asset directories and reports changed files in
// debounced batches.
package assets

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/vkcore/engine/core"
)

var ErrWatcherClosed = errors.New("asset watcher already closed")

// DefaultDebounce is how long a file must be quiet before it is reported.
const DefaultDebounce = 150 * time.Millisecond

// ShaderExtensions are the files a shader directory watcher reports.
var ShaderExtensions = []string{".vert", ".frag", ".comp", ".geom", ".tesc", ".tese", ".glsl", ".spv"}

// Watcher reports files created or written below its root directories.
// Editors tend to write a file several times in a row, so events are
// collected until nothing changed for the debounce interval.
type Watcher struct {
	fsnotify   *fsnotify.Watcher
	extensions map[string]bool
	debounce   time.Duration

	mu       sync.Mutex
	pending  map[string]struct{}
	isClosed bool

	changes chan []string
	done    chan struct{}
	wg      sync.WaitGroup
}

// NewWatcher watches every directory below root, including directories
// created later. Only files with one of extensions are reported; no
// extensions reports everything.
func NewWatcher(root string, extensions []string, debounce time.Duration) (*Watcher, error) {
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if debounce <= 0 {
		debounce = DefaultDebounce
	}
	w := &Watcher{
		fsnotify:   fsWatch,
		extensions: make(map[string]bool, len(extensions)),
		debounce:   debounce,
		pending:    make(map[string]struct{}),
		changes:    make(chan []string, 1),
		done:       make(chan struct{}),
	}
	for _, ext := range extensions {
		w.extensions[strings.ToLower(ext)] = true
	}
	if _, err := w.watchRecursive(root, false); err != nil {
		fsWatch.Close()
		return nil, err
	}
	w.wg.Add(1)
	go w.start()
	core.LogDebug("Watching '%s' for asset changes", root)
	return w, nil
}

// Changes delivers batches of changed paths, sorted.
func (w *Watcher) Changes() <-chan []string { return w.changes }

// Add starts watching another directory tree.
func (w *Watcher) Add(root string) error {
	w.mu.Lock()
	closed := w.isClosed
	w.mu.Unlock()
	if closed {
		return ErrWatcherClosed
	}
	_, err := w.watchRecursive(root, false)
	return err
}

func (w *Watcher) Close() error {
	w.mu.Lock()
	if w.isClosed {
		w.mu.Unlock()
		return ErrWatcherClosed
	}
	w.isClosed = true
	w.mu.Unlock()

	close(w.done)
	w.wg.Wait()
	return w.fsnotify.Close()
}

func (w *Watcher) start() {
	defer w.wg.Done()
	defer close(w.changes)

	timer := time.NewTimer(w.debounce)
	timer.Stop()
	for {
		select {
		case e, ok := <-w.fsnotify.Events:
			if !ok {
				return
			}
			if w.handle(e) {
				timer.Reset(w.debounce)
			}

		case err, ok := <-w.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("asset watcher: %s", err)

		case <-timer.C:
			if batch := w.flush(); len(batch) > 0 {
				select {
				case w.changes <- batch:
				case <-w.done:
					return
				}
			}

		case <-w.done:
			return
		}
	}
}

// handle reports whether e queued a file.
func (w *Watcher) handle(e fsnotify.Event) bool {
	if e.Has(fsnotify.Create) {
		if fi, err := os.Stat(e.Name); err == nil && fi.IsDir() {
			queued, err := w.watchRecursive(e.Name, true)
			if err != nil {
				core.LogWarn("asset watcher: cannot watch '%s': %s", e.Name, err)
			}
			return queued > 0
		}
	}
	// a removed directory drops out of the watch list by itself
	if !e.Has(fsnotify.Create) && !e.Has(fsnotify.Write) {
		return false
	}
	if !w.wanted(e.Name) {
		return false
	}
	w.mu.Lock()
	w.pending[filepath.Clean(e.Name)] = struct{}{}
	w.mu.Unlock()
	return true
}

func (w *Watcher) wanted(path string) bool {
	if len(w.extensions) == 0 {
		return true
	}
	return w.extensions[strings.ToLower(filepath.Ext(path))]
}

func (w *Watcher) flush() []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	batch := make([]string, 0, len(w.pending))
	for p := range w.pending {
		batch = append(batch, p)
	}
	clear(w.pending)
	sort.Strings(batch)
	return batch
}

// watchRecursive adds root and every directory under it to the watch list.
// With queue set, files found on the way are queued: they may have been
// written to a new directory before its watch was added.
func (w *Watcher) watchRecursive(root string, queue bool) (int, error) {
	queued := 0
	err := filepath.WalkDir(root, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return w.fsnotify.Add(path)
		}
		if queue && w.wanted(path) {
			w.mu.Lock()
			w.pending[filepath.Clean(path)] = struct{}{}
			w.mu.Unlock()
			queued++
		}
		return nil
	})
	return queued, err
}
