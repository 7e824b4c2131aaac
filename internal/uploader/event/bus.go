package event

import (
	"log/slog"
	"sync"

	"github.com/shandysiswandi/gouploader/internal/uploader/entity"
)

// Bus fans record changes out to every subscriber.
//
// Notify never blocks: a subscriber whose buffer is full misses the event and
// is expected to re-sync from a snapshot.
type Bus struct {
	mu     sync.RWMutex
	closed bool
	buffer int
	nextID int
	subs   map[int]chan entity.Upload
}

func NewBus(buffer int) *Bus {
	if buffer < 1 {
		buffer = 1
	}

	return &Bus{
		buffer: buffer,
		subs:   make(map[int]chan entity.Upload),
	}
}

// Notify publishes upload to all current subscribers.
func (b *Bus) Notify(upload entity.Upload) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if b.closed {
		return
	}

	for id, ch := range b.subs {
		select {
		case ch <- upload:
		default:
			slog.Warn("drop upload event for slow subscriber", "subscriber", id, "upload_id", upload.ID, "status", upload.Status)
		}
	}
}

// Subscribe registers a new subscriber. The returned func unsubscribes and
// closes the channel; it is safe to call more than once. On a closed bus the
// channel is returned already closed.
func (b *Bus) Subscribe() (<-chan entity.Upload, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan entity.Upload, b.buffer)
	if b.closed {
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	b.subs[id] = ch

	return ch, func() {
		b.mu.Lock()
		defer b.mu.Unlock()

		if sub, ok := b.subs[id]; ok {
			delete(b.subs, id)
			close(sub)
		}
	}
}

// Close ends every subscription. Later notifications are discarded.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}

	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
