package config

import (
	"fmt"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

const defaultDebounce = 100 * time.Millisecond

// Watcher reloads a config file whenever it changes on disk.
type Watcher struct {
	fs       *fsnotify.Watcher
	path     string
	debounce time.Duration
	closeCh  chan struct{}
	once     sync.Once
	wg       sync.WaitGroup
}

// Watch calls fn with the reloaded file after each burst of writes. Load
// errors and watcher errors are passed to fn as well; the watcher keeps
// running. Watching the parent directory follows editors that replace the
// file.
func Watch(path string, fn func(Config, error)) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("watch config: %w", err)
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("watch config: %w", err)
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		_ = fw.Close()
		return nil, fmt.Errorf("watch config: %w", err)
	}

	w := &Watcher{
		fs:       fw,
		path:     abs,
		debounce: defaultDebounce,
		closeCh:  make(chan struct{}),
	}
	w.wg.Add(1)
	go w.run(fn)
	return w, nil
}

func (w *Watcher) Close() error {
	var err error
	w.once.Do(func() {
		close(w.closeCh)
		err = w.fs.Close()
		w.wg.Wait()
	})
	return err
}

func (w *Watcher) run(fn func(Config, error)) {
	defer w.wg.Done()

	var timer *time.Timer
	var fire <-chan time.Time
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != w.path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			if timer == nil {
				timer = time.NewTimer(w.debounce)
			} else {
				timer.Reset(w.debounce)
			}
			fire = timer.C
		case <-fire:
			fire = nil
			fn(LoadFile(w.path))
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			fn(Config{}, err)
		case <-w.closeCh:
			return
		}
	}
}
