package config

import (
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"
)

// Watcher keeps the latest valid config read from a file. It reloads on a
// polling interval and on demand through [Watcher.Reload]; an edit that does
// not parse or validate is reported and the previous config stays current.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	lookup   func(string) (string, bool)
	log      *slog.Logger

	// reloadMu serialises reloads so callbacks arrive in file order.
	reloadMu sync.Mutex

	mu      sync.Mutex
	current *Config
	seen    fileState

	stop     chan struct{}
	stopOnce sync.Once
}

// fileState identifies one version of the file on disk.
type fileState struct {
	mtime time.Time
	sum   [sha256.Size]byte
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets the polling interval. The default is 5 seconds; zero or
// less disables polling so only [Watcher.Reload] picks up edits.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.interval = d }
}

// WithLookup replaces the environment lookup used for overlays. The default
// is os.LookupEnv.
func WithLookup(fn func(string) (string, bool)) WatcherOption {
	return func(w *Watcher) { w.lookup = fn }
}

// WithWatcherLogger sets the logger. Default: slog.Default().
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.log = l }
}

// NewWatcher loads path and, unless polling is disabled, starts a goroutine
// that reloads it until [Watcher.Stop]. onChange receives the previous and
// the new config after every accepted edit.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     path,
		interval: 5 * time.Second,
		onChange: onChange,
		lookup:   os.LookupEnv,
		log:      slog.Default(),
		stop:     make(chan struct{}),
	}
	for _, o := range opts {
		o(w)
	}

	cfg, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watch %q: %w", path, err)
	}
	w.current, w.seen = cfg, st

	if w.interval > 0 {
		go w.loop()
	}
	return w, nil
}

// Current returns the most recently accepted config.
func (w *Watcher) Current() *Config {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.current
}

// Stop ends polling. It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopOnce.Do(func() { close(w.stop) })
}

// Reload reads the file now. It reports whether a new config was accepted;
// an unchanged file is not an error. onChange runs before Reload returns.
func (w *Watcher) Reload() (bool, error) {
	w.reloadMu.Lock()
	defer w.reloadMu.Unlock()

	cfg, st, err := w.read()
	if err != nil {
		if !st.mtime.IsZero() {
			// Rejected content is not retried until the file moves again.
			w.mu.Lock()
			w.seen.mtime = st.mtime
			w.mu.Unlock()
		}
		return false, err
	}

	w.mu.Lock()
	if st.sum == w.seen.sum {
		w.seen.mtime = st.mtime
		w.mu.Unlock()
		return false, nil
	}
	prev := w.current
	w.current, w.seen = cfg, st
	w.mu.Unlock()

	w.log.Info("configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(prev, cfg)
	}
	return true, nil
}

func (w *Watcher) loop() {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-w.stop:
			return
		case <-t.C:
			if !w.modified() {
				continue
			}
			if _, err := w.Reload(); err != nil {
				w.log.Warn("config edit rejected, keeping previous config", "path", w.path, "err", err)
			}
		}
	}
}

// modified is the cheap pre-check run on every tick: only a moved mtime
// triggers a full read.
func (w *Watcher) modified() bool {
	info, err := os.Stat(w.path)
	if err != nil {
		w.log.Warn("config file unreadable", "path", w.path, "err", err)
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return !info.ModTime().Equal(w.seen.mtime)
}

// read loads and validates the file. The returned state is set whenever the
// file could be read, even if its content was rejected.
func (w *Watcher) read() (*Config, fileState, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, fileState{}, err
	}
	st := fileState{mtime: info.ModTime(), sum: sha256.Sum256(data)}
	cfg, err := parse(data, w.lookup)
	if err != nil {
		return nil, st, err
	}
	return cfg, st, nil
}
