package watch

import (
	"fmt"
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("fitsedit.watch")

// Watcher reports content changes of individual files. It watches parent
// directories so files replaced by rename keep being tracked.
type Watcher struct {
	fs       *fsnotify.Watcher
	onChange func(path string)

	mu    sync.Mutex
	files map[string]int
	dirs  map[string]int

	done chan struct{}
	wg   sync.WaitGroup
}

// New starts a watcher that calls onChange from its own goroutine.
func New(onChange func(path string)) (*Watcher, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}

	w := &Watcher{
		fs:       fsw,
		onChange: onChange,
		files:    make(map[string]int),
		dirs:     make(map[string]int),
		done:     make(chan struct{}),
	}
	w.wg.Add(1)
	go w.loop()
	return w, nil
}

// Add starts watching path. Calls are counted; each Add needs a Remove.
func (w *Watcher) Add(path string) error {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.dirs[dir] == 0 {
		if err := w.fs.Add(dir); err != nil {
			return fmt.Errorf("failed to watch %s: %w", dir, err)
		}
	}
	w.dirs[dir]++
	w.files[path]++
	return nil
}

// Remove undoes one Add.
func (w *Watcher) Remove(path string) {
	path = filepath.Clean(path)
	dir := filepath.Dir(path)

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.files[path] == 0 {
		return
	}
	if w.files[path]--; w.files[path] == 0 {
		delete(w.files, path)
	}
	if w.dirs[dir]--; w.dirs[dir] == 0 {
		delete(w.dirs, dir)
		if err := w.fs.Remove(dir); err != nil {
			log.Debugf("failed to unwatch %s: %s", dir, err)
		}
	}
}

// Watching reports whether path is currently watched.
func (w *Watcher) Watching(path string) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.files[filepath.Clean(path)] > 0
}

func (w *Watcher) loop() {
	defer w.wg.Done()
	for {
		select {
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			path := filepath.Clean(ev.Name)
			if w.Watching(path) {
				log.Debugf("%s changed on disk (%s)", path, ev.Op)
				w.onChange(path)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			log.Warningf("watch error: %s", err)
		case <-w.done:
			return
		}
	}
}

// Close stops the watcher and waits for the event loop to exit.
func (w *Watcher) Close() error {
	close(w.done)
	err := w.fs.Close()
	w.wg.Wait()
	return err
}
