package config

import (
	"log"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/pkg/errors"
	"github.com/simpleiot/dialnet/dial"
)

// Watcher reloads the configuration file when it changes and applies it to
// the engine
type Watcher struct {
	path     string
	engine   *dial.Engine
	delay    time.Duration
	lock     sync.Mutex
	onReload func(Config, error)
	stop     chan struct{}
	stopOnce sync.Once
}

// NewWatcher constructor
func NewWatcher(path string, engine *dial.Engine) *Watcher {
	return &Watcher{
		path:   path,
		engine: engine,
		delay:  200 * time.Millisecond,
		stop:   make(chan struct{}),
	}
}

// OnReload sets a function that is called after every reload
func (w *Watcher) OnReload(f func(Config, error)) {
	w.lock.Lock()
	defer w.lock.Unlock()
	w.onReload = f
}

// Start watches the file until Stop is called. The directory is watched so
// files replaced by a rename are seen.
func (w *Watcher) Start() error {
	path, err := filepath.Abs(w.path)
	if err != nil {
		return errors.Wrap(err, "config path")
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return errors.Wrap(err, "create config watcher")
	}
	defer watcher.Close()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return errors.Wrap(err, "watch config directory")
	}

	log.Println("Config: watching ", path)

	// editors write in several steps, reload once they are done
	var settle <-chan time.Time

	for {
		select {
		case <-w.stop:
			return nil
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			name, _ := filepath.Abs(event.Name)
			if name != path {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0 {
				settle = time.After(w.delay)
			}
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Println("Config: watcher error: ", err)
		case <-settle:
			settle = nil
			w.reload()
		}
	}
}

func (w *Watcher) reload() {
	c, err := Load(w.path)
	if err == nil {
		err = Apply(w.engine, c)
	}

	if err != nil {
		log.Println("Config: reload: ", err)
	} else {
		log.Println("Config: reloaded ", w.path)
	}

	w.lock.Lock()
	f := w.onReload
	w.lock.Unlock()
	if f != nil {
		f(c, err)
	}
}

// Stop watching
func (w *Watcher) Stop(_ error) {
	w.stopOnce.Do(func() { close(w.stop) })
}
