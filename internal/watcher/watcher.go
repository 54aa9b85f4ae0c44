package watcher

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Options configures a Watcher.
type Options struct {
	// Debounce is the quiet period before a batch is emitted.
	// Default: 500ms
	Debounce time.Duration

	// PollInterval is the scan interval when polling.
	// Default: 2s
	PollInterval time.Duration

	// Poll skips fsnotify, for network mounts and container volumes where
	// it misses events.
	Poll bool

	// Filter selects the file names to report. Nil reports every file.
	Filter func(name string) bool

	Logger *slog.Logger
}

func (o Options) withDefaults() Options {
	if o.Debounce <= 0 {
		o.Debounce = 500 * time.Millisecond
	}
	if o.PollInterval <= 0 {
		o.PollInterval = 2 * time.Second
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// Handler receives the names changed since the previous batch.
type Handler func(ctx context.Context, names []string) error

// Watcher watches the top level of one directory.
type Watcher struct {
	dir       string
	opts      Options
	fsw       *fsnotify.Watcher
	debouncer *Debouncer
	last      map[string]stamp // polling baseline
}

// New starts watching dir. It falls back to polling when fsnotify cannot
// watch the directory.
func New(dir string, opts Options) (*Watcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", dir, err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("watch %s: not a directory", dir)
	}

	opts = opts.withDefaults()
	w := &Watcher{
		dir:       dir,
		opts:      opts,
		debouncer: NewDebouncer(opts.Debounce),
	}
	if !opts.Poll {
		fsw, err := fsnotify.NewWatcher()
		if err == nil {
			if err = fsw.Add(dir); err == nil {
				w.fsw = fsw
			} else {
				_ = fsw.Close()
			}
		}
		if err != nil {
			opts.Logger.Warn("fsnotify unavailable, polling instead",
				slog.String("dir", dir),
				slog.String("error", err.Error()))
		}
	}
	if w.fsw == nil {
		if w.last, err = w.scan(); err != nil {
			return nil, fmt.Errorf("watch %s: %w", dir, err)
		}
	}
	return w, nil
}

// Polling reports whether the directory is scanned instead of notified.
func (w *Watcher) Polling() bool {
	return w.fsw == nil
}

// Run calls handle for every batch until ctx is done. Handler errors are
// logged and watching continues.
func (w *Watcher) Run(ctx context.Context, handle Handler) error {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		if w.fsw != nil {
			w.notify(ctx)
		} else {
			w.poll(ctx)
		}
	}()
	defer func() {
		cancel()
		<-done
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case batch, ok := <-w.debouncer.Output():
			if !ok {
				return nil
			}
			w.opts.Logger.Debug("documents changed", slog.Any("files", batch))
			if err := handle(ctx, batch); err != nil {
				w.opts.Logger.Warn("change handler failed", slog.String("error", err.Error()))
			}
		}
	}
}

// Close stops watching. Run returns once it notices.
func (w *Watcher) Close() error {
	w.debouncer.Stop()
	if w.fsw != nil {
		return w.fsw.Close()
	}
	return nil
}

func (w *Watcher) accept(name string) bool {
	return w.opts.Filter == nil || w.opts.Filter(name)
}

func (w *Watcher) notify(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if ev.Op == fsnotify.Chmod {
				continue
			}
			if name := filepath.Base(ev.Name); w.accept(name) {
				w.debouncer.Add(name)
			}
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.opts.Logger.Warn("watch error", slog.String("error", err.Error()))
		}
	}
}
