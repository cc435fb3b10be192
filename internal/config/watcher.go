package config

import (
	"bytes"
	"crypto/sha256"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// settleDelay coalesces the burst of events an editor produces for one save.
const settleDelay = 50 * time.Millisecond

// stamp identifies one version of the config file on disk.
type stamp struct {
	mtime time.Time
	size  int64
	sum   [sha256.Size]byte
}

func (s stamp) sameStat(info os.FileInfo) bool {
	return s.mtime.Equal(info.ModTime()) && s.size == info.Size()
}

// Watcher keeps the config file at path loaded and reports every valid edit
// to a callback. Change detection combines fsnotify events on the parent
// directory with a polling ticker, so saves through rename and filesystems
// without inotify are both picked up. A file that fails to parse or validate
// is logged and the last good config stays current.
//
// All reloads run on a single goroutine, so callbacks never overlap and
// arrive in file order.
type Watcher struct {
	path     string
	interval time.Duration
	onChange func(old, new *Config)
	log      *slog.Logger

	mu      sync.RWMutex
	current *Config

	// seen is owned by the run goroutine after NewWatcher returns.
	seen stamp

	done    chan struct{}
	exited  chan struct{}
	stopped sync.Once
}

// WatcherOption configures a [Watcher].
type WatcherOption func(*Watcher)

// WithInterval sets how often the file is polled. Defaults to 5s.
func WithInterval(d time.Duration) WatcherOption {
	return func(w *Watcher) {
		if d > 0 {
			w.interval = d
		}
	}
}

// WithWatcherLogger sets the logger. Defaults to [slog.Default].
func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) {
		if l != nil {
			w.log = l
		}
	}
}

// NewWatcher loads path and starts watching it. The initial load must
// succeed; onChange may be nil.
func NewWatcher(path string, onChange func(old, new *Config), opts ...WatcherOption) (*Watcher, error) {
	w := &Watcher{
		path:     filepath.Clean(path),
		interval: 5 * time.Second,
		onChange: onChange,
		log:      slog.Default(),
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}

	cfg, st, err := w.read()
	if err != nil {
		return nil, fmt.Errorf("config: watcher initial load: %w", err)
	}
	w.current, w.seen = cfg, st

	go w.run(w.subscribe())
	return w, nil
}

// subscribe returns an fsnotify watcher on the config directory, or nil when
// the platform or filesystem does not support it.
func (w *Watcher) subscribe() *fsnotify.Watcher {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		w.log.Warn("config watcher: fsnotify unavailable, polling only", "err", err)
		return nil
	}
	if err := fsw.Add(filepath.Dir(w.path)); err != nil {
		w.log.Warn("config watcher: cannot watch directory, polling only", "path", w.path, "err", err)
		_ = fsw.Close()
		return nil
	}
	return fsw
}

// Current returns the last valid config.
func (w *Watcher) Current() *Config {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.current
}

// Stop ends watching and blocks until any in-flight callback has returned.
// It is safe to call more than once.
func (w *Watcher) Stop() {
	w.stopped.Do(func() { close(w.done) })
	<-w.exited
}

func (w *Watcher) run(fsw *fsnotify.Watcher) {
	defer close(w.exited)

	// Nil channels block forever, which disables the fsnotify cases when
	// polling is all we have.
	var (
		events <-chan fsnotify.Event
		errs   <-chan error
	)
	if fsw != nil {
		defer fsw.Close()
		events, errs = fsw.Events, fsw.Errors
	}

	tick := time.NewTicker(w.interval)
	defer tick.Stop()
	var settle <-chan time.Time

	for {
		select {
		case <-w.done:
			return
		case <-tick.C:
			w.reload(false)
		case ev, ok := <-events:
			if !ok {
				events = nil
				continue
			}
			if w.relevant(ev) {
				settle = time.After(settleDelay)
			}
		case <-settle:
			settle = nil
			w.reload(true)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			w.log.Warn("config watcher: fsnotify error", "err", err)
		}
	}
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if filepath.Clean(ev.Name) != w.path {
		return false
	}
	return ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create) || ev.Has(fsnotify.Rename)
}

// reload rereads the file when it looks different from the last version seen.
// Polling trusts mtime and size; an fsnotify event forces a content check.
func (w *Watcher) reload(force bool) {
	if !force {
		info, err := os.Stat(w.path)
		if err != nil {
			w.log.Warn("config watcher: cannot stat file", "path", w.path, "err", err)
			return
		}
		if w.seen.sameStat(info) {
			return
		}
	}

	data, st, err := w.snapshot()
	if err != nil {
		w.log.Warn("config watcher: cannot read file", "path", w.path, "err", err)
		return
	}
	unchanged := st.sum == w.seen.sum
	// Remember invalid content too, so a broken file is reported once
	// rather than on every tick.
	w.seen = st
	if unchanged {
		return
	}

	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		w.log.Warn("config watcher: rejected config, keeping previous", "path", w.path, "err", err)
		return
	}

	w.mu.Lock()
	old := w.current
	w.current = cfg
	w.mu.Unlock()

	w.log.Info("config watcher: configuration reloaded", "path", w.path)
	if w.onChange != nil {
		w.onChange(old, cfg)
	}
}

func (w *Watcher) read() (*Config, stamp, error) {
	data, st, err := w.snapshot()
	if err != nil {
		return nil, stamp{}, err
	}
	cfg, err := LoadFromReader(bytes.NewReader(data))
	if err != nil {
		return nil, stamp{}, err
	}
	return cfg, st, nil
}

func (w *Watcher) snapshot() ([]byte, stamp, error) {
	info, err := os.Stat(w.path)
	if err != nil {
		return nil, stamp{}, err
	}
	data, err := os.ReadFile(w.path)
	if err != nil {
		return nil, stamp{}, err
	}
	return data, stamp{mtime: info.ModTime(), size: info.Size(), sum: sha256.Sum256(data)}, nil
}
