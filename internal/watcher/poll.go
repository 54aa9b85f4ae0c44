package watcher

import (
	"context"
	"log/slog"
	"os"
	"time"
)

type stamp struct {
	size    int64
	modTime time.Time
}

// scan returns the stamps of the accepted files in dir.
func (w *Watcher) scan() (map[string]stamp, error) {
	entries, err := os.ReadDir(w.dir)
	if err != nil {
		return nil, err
	}
	out := make(map[string]stamp, len(entries))
	for _, e := range entries {
		if e.IsDir() || !w.accept(e.Name()) {
			continue
		}
		info, err := e.Info()
		if err != nil {
			continue
		}
		out[e.Name()] = stamp{size: info.Size(), modTime: info.ModTime()}
	}
	return out, nil
}

// changed returns the names added, modified or removed between two scans.
func changed(before, after map[string]stamp) []string {
	var names []string
	for name, s := range after {
		if prev, ok := before[name]; !ok || prev != s {
			names = append(names, name)
		}
	}
	for name := range before {
		if _, ok := after[name]; !ok {
			names = append(names, name)
		}
	}
	return names
}

func (w *Watcher) poll(ctx context.Context) {
	last := w.last
	ticker := time.NewTicker(w.opts.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cur, err := w.scan()
			if err != nil {
				w.opts.Logger.Warn("scan failed", slog.String("dir", w.dir), slog.String("error", err.Error()))
				continue
			}
			for _, name := range changed(last, cur) {
				w.debouncer.Add(name)
			}
			last = cur
		}
	}
}
