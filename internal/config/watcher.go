package config

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// Watcher monitors the .env file and reports changes so the caller can reload
// configuration, reconfigure the scheduler and trigger an immediate cycle.
type Watcher struct {
	envPath     string
	watcher     *fsnotify.Watcher
	stopChan    chan struct{}
	stopOnce    sync.Once
	lastModTime time.Time
	onChange    func()
}

// NewWatcher creates a watcher for the agent's .env file. onChange runs on the
// watcher goroutine; callers hand off to their own queue if needed.
func NewWatcher(onChange func()) (*Watcher, error) {
	envPath := EnvFilePath()

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}

	w := &Watcher{
		envPath:  envPath,
		watcher:  watcher,
		stopChan: make(chan struct{}),
		onChange: onChange,
	}

	if stat, err := os.Stat(envPath); err == nil {
		w.lastModTime = stat.ModTime()
	}

	return w, nil
}

// Start begins watching. The containing directory is watched rather than the
// file itself so atomic editor saves (rename over the file) are still seen.
func (w *Watcher) Start() error {
	dir := filepath.Dir(w.envPath)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}
	if err := w.watcher.Add(dir); err != nil {
		return err
	}

	go w.loop()
	log.Info().Str("path", w.envPath).Msg("Watching config file for changes")
	return nil
}

func (w *Watcher) loop() {
	// Editors fire several events per save; debounce to one reload.
	var debounce *time.Timer
	defer func() {
		if debounce != nil {
			debounce.Stop()
		}
	}()

	for {
		select {
		case event, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != filepath.Clean(w.envPath) {
				continue
			}
			if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) && !event.Has(fsnotify.Rename) {
				continue
			}
			if !w.modified() {
				continue
			}
			if debounce != nil {
				debounce.Stop()
			}
			debounce = time.AfterFunc(250*time.Millisecond, func() {
				log.Info().Str("path", w.envPath).Msg("Config file changed, reloading")
				w.onChange()
			})

		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Config watcher error")

		case <-w.stopChan:
			return
		}
	}
}

func (w *Watcher) modified() bool {
	stat, err := os.Stat(w.envPath)
	if err != nil {
		return false
	}
	if !stat.ModTime().After(w.lastModTime) {
		return false
	}
	w.lastModTime = stat.ModTime()
	return true
}

// Stop shuts the watcher down. Safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() {
		close(w.stopChan)
		w.watcher.Close()
	})
}
