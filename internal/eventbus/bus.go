package eventbus

import (
	"sync"
	"time"
)

// Event is a lightweight in-memory signal used to decouple engine
// components from their observers.
//
// Contract:
//   - Publish never blocks.
//   - Slow subscribers drop events (bounded backpressure).
//
// Data should be small and JSON-serializable.
type Event struct {
	Type string
	Time time.Time
	Data any
}

// Engine event types published by zvnews components.
const (
	SubscriberAdded   = "subscriber.added"
	SubscriberRemoved = "subscriber.removed"
	BroadcastFinished = "broadcast.finished"
	CycleFinished     = "monitor.cycle"
	SweepFinished     = "dedup.sweep"
)

type Bus interface {
	Publish(e Event)
	Subscribe(buffer int) (ch <-chan Event, unsubscribe func())
}

// New returns a simple in-memory fanout bus with no background goroutines.
func New() Bus {
	return &bus{subs: map[uint64]chan Event{}}
}

type bus struct {
	mu   sync.RWMutex
	subs map[uint64]chan Event
	next uint64
}

func (b *bus) Publish(e Event) {
	if e.Time.IsZero() {
		e.Time = time.Now()
	}
	// Snapshot so Publish doesn't hold the lock while attempting sends.
	b.mu.RLock()
	chs := make([]chan Event, 0, len(b.subs))
	for _, ch := range b.subs {
		chs = append(chs, ch)
	}
	b.mu.RUnlock()

	for _, ch := range chs {
		// A concurrent unsubscribe may close the channel between the
		// snapshot and the send; recover covers that window.
		func() {
			defer func() { _ = recover() }()
			select {
			case ch <- e:
			default:
			}
		}()
	}
}

func (b *bus) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer <= 0 {
		buffer = 8
	}
	ch := make(chan Event, buffer)

	b.mu.Lock()
	b.next++
	id := b.next
	b.subs[id] = ch
	b.mu.Unlock()

	var once sync.Once
	unsub := func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, id)
			b.mu.Unlock()
			// Safe because Publish recovers from send-on-closed panics.
			close(ch)
		})
	}
	return ch, unsub
}
