package activity

import (
	"sync"
	"time"

	"github.com/arborhq/arbor/pkg/models"
)

// Batcher coalesces high-frequency activities. Activities group by
// (canvas, user, type); a group flushes when its window elapses or when it
// reaches the size cap, whichever comes first. The window runs from the
// first activity in the group, so a steady stream cannot starve the flush.
type Batcher struct {
	mu      sync.Mutex
	buffers map[string]*batchBuffer
	stopped bool

	window  time.Duration
	maxSize int
	onFlush func(items []*models.Activity)
}

type batchBuffer struct {
	items []*models.Activity
	timer *time.Timer
}

// BatcherOption configures a Batcher.
type BatcherOption func(*Batcher)

// WithWindow sets the coalescing window.
func WithWindow(d time.Duration) BatcherOption {
	return func(b *Batcher) {
		if d < 0 {
			d = 0
		}
		b.window = d
	}
}

// WithMaxSize sets the group size that forces an immediate flush.
func WithMaxSize(n int) BatcherOption {
	return func(b *Batcher) {
		if n < 1 {
			n = 1
		}
		b.maxSize = n
	}
}

// NewBatcher creates a Batcher that hands full groups to onFlush. onFlush
// runs outside the batcher lock, on the adder's or the timer's goroutine.
func NewBatcher(onFlush func(items []*models.Activity), opts ...BatcherOption) *Batcher {
	b := &Batcher{
		buffers: make(map[string]*batchBuffer),
		window:  2 * time.Second,
		maxSize: 10,
		onFlush: onFlush,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

func batchKey(a *models.Activity) string {
	return a.CanvasID + "|" + a.UserID + "|" + string(a.Type)
}

// Add buffers an activity. A zero window flushes every activity on its own.
func (b *Batcher) Add(activity *models.Activity) {
	b.mu.Lock()
	if b.stopped {
		b.mu.Unlock()
		return
	}

	if b.window == 0 {
		b.mu.Unlock()
		b.onFlush([]*models.Activity{activity})
		return
	}

	key := batchKey(activity)
	buf, ok := b.buffers[key]
	if !ok {
		buf = &batchBuffer{}
		buf.timer = time.AfterFunc(b.window, func() { b.FlushKey(key) })
		b.buffers[key] = buf
	}
	buf.items = append(buf.items, activity)

	if len(buf.items) >= b.maxSize {
		items := b.takeLocked(key, buf)
		b.mu.Unlock()
		b.onFlush(items)
		return
	}
	b.mu.Unlock()
}

// FlushKey flushes one group immediately.
func (b *Batcher) FlushKey(key string) {
	b.mu.Lock()
	buf, ok := b.buffers[key]
	if !ok {
		b.mu.Unlock()
		return
	}
	items := b.takeLocked(key, buf)
	b.mu.Unlock()
	if len(items) > 0 {
		b.onFlush(items)
	}
}

// FlushAll flushes every pending group.
func (b *Batcher) FlushAll() {
	b.mu.Lock()
	var groups [][]*models.Activity
	for key, buf := range b.buffers {
		if items := b.takeLocked(key, buf); len(items) > 0 {
			groups = append(groups, items)
		}
	}
	b.mu.Unlock()
	for _, items := range groups {
		b.onFlush(items)
	}
}

// Stop flushes pending groups and refuses further activities.
func (b *Batcher) Stop() {
	b.mu.Lock()
	b.stopped = true
	b.mu.Unlock()
	b.FlushAll()
}

// PendingGroups reports how many groups hold buffered activities.
func (b *Batcher) PendingGroups() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.buffers)
}

func (b *Batcher) takeLocked(key string, buf *batchBuffer) []*models.Activity {
	delete(b.buffers, key)
	if buf.timer != nil {
		buf.timer.Stop()
		buf.timer = nil
	}
	items := buf.items
	buf.items = nil
	return items
}
