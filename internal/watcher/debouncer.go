package watcher

import (
	"sort"
	"sync"
	"time"
)

// Debouncer collects file names and emits them as one sorted batch once no
// new name has arrived for the window.
type Debouncer struct {
	window  time.Duration
	mu      sync.Mutex
	pending map[string]struct{}
	timer   *time.Timer
	output  chan []string
	stopped bool
}

// NewDebouncer creates a Debouncer with the given quiet window.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window:  window,
		pending: make(map[string]struct{}),
		output:  make(chan []string, 1),
	}
}

// Add records name and restarts the window.
func (d *Debouncer) Add(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.pending[name] = struct{}{}
	if d.timer != nil {
		d.timer.Stop()
	}
	d.timer = time.AfterFunc(d.window, d.flush)
}

func (d *Debouncer) flush() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped || len(d.pending) == 0 {
		return
	}
	// A batch still waiting to be read absorbs the new names.
	select {
	case prev := <-d.output:
		for _, name := range prev {
			d.pending[name] = struct{}{}
		}
	default:
	}

	batch := make([]string, 0, len(d.pending))
	for name := range d.pending {
		batch = append(batch, name)
	}
	sort.Strings(batch)
	d.pending = make(map[string]struct{})
	d.output <- batch
}

// Output returns the channel of batches. It is closed by Stop.
func (d *Debouncer) Output() <-chan []string {
	return d.output
}

// Stop drops pending names and closes Output. Safe to call more than once.
func (d *Debouncer) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stopped {
		return
	}
	d.stopped = true
	if d.timer != nil {
		d.timer.Stop()
	}
	close(d.output)
}
