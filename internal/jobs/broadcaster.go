package jobs

import (
	"sync"

	"github.com/echoform/transcribe-chat-back/internal/domain"
)

// Subscription is one live view on a job's snapshot stream. Snapshots
// arrive in publish order; the first receive is the snapshot current at
// subscribe time. Cancel releases the subscription; the channel is closed
// by either Cancel or the broadcaster shutting down.
type Subscription struct {
	C      <-chan domain.Snapshot
	cancel func()
}

func (s Subscription) Cancel() {
	s.cancel()
}

// Broadcaster fans one job's snapshots out to independent subscribers.
// Every subscriber has its own bounded buffer; when a slow subscriber's
// buffer fills, the oldest buffered snapshot is dropped to make room.
// Dropping is safe because snapshots are cumulative: a later snapshot
// always carries the terminal stage, so terminal delivery is never lost.
type Broadcaster struct {
	mu          sync.Mutex
	latest      domain.Snapshot
	subscribers map[int]chan domain.Snapshot
	nextID      int
	bufferSize  int
	closed      bool
}

func NewBroadcaster(initial domain.Snapshot, bufferSize int) *Broadcaster {
	if bufferSize <= 0 {
		bufferSize = 16
	}
	return &Broadcaster{
		latest:      initial,
		subscribers: make(map[int]chan domain.Snapshot),
		bufferSize:  bufferSize,
	}
}

// Subscribe registers a new independent subscriber. The current snapshot
// is delivered immediately, even when it is already terminal.
func (b *Broadcaster) Subscribe() Subscription {
	b.mu.Lock()
	defer b.mu.Unlock()

	ch := make(chan domain.Snapshot, b.bufferSize)
	ch <- b.latest

	if b.closed {
		close(ch)
		return Subscription{C: ch, cancel: func() {}}
	}

	id := b.nextID
	b.nextID++
	b.subscribers[id] = ch

	return Subscription{
		C: ch,
		cancel: func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if sub, ok := b.subscribers[id]; ok {
				delete(b.subscribers, id)
				close(sub)
			}
		},
	}
}

// Publish records the snapshot as current and offers it to every
// subscriber. A slow subscriber only loses its own oldest buffered
// snapshots; delivery order is preserved for everyone.
func (b *Broadcaster) Publish(snapshot domain.Snapshot) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.latest = snapshot

	for _, ch := range b.subscribers {
		for {
			select {
			case ch <- snapshot:
			default:
				// Buffer full: drop the oldest and retry.
				select {
				case <-ch:
				default:
				}
				continue
			}
			break
		}
	}
}

// Latest returns the snapshot a new subscriber would observe first.
func (b *Broadcaster) Latest() domain.Snapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.latest
}

// Close ends every subscription. Buffered snapshots remain readable until
// each subscriber drains its channel.
func (b *Broadcaster) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	b.closed = true
	for id, ch := range b.subscribers {
		delete(b.subscribers, id)
		close(ch)
	}
}
