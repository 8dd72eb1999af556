package state

import "sync"

// Change describes one applied settings write.
type Change struct {
	Name     string
	OldValue string
	NewValue string
	Source   string
}

// Bus fans settings changes out to subscribers. Subscription is optional:
// the worker can poll the cache instead. Slow subscribers have events
// dropped rather than blocking the writer.
type Bus struct {
	mu          sync.RWMutex
	subscribers map[uint64]chan Change
	nextID      uint64
}

func NewBus() *Bus {
	return &Bus{subscribers: make(map[uint64]chan Change)}
}

// Subscribe returns a buffered channel of changes and a cancel function.
func (b *Bus) Subscribe() (<-chan Change, func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	ch := make(chan Change, 16)
	b.subscribers[id] = ch
	b.mu.Unlock()

	cancel := func() {
		b.mu.Lock()
		delete(b.subscribers, id)
		b.mu.Unlock()
	}
	return ch, cancel
}

// Publish delivers a change to all subscribers without blocking.
func (b *Bus) Publish(c Change) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	for _, ch := range b.subscribers {
		select {
		case ch <- c:
		default:
			// Drop if subscriber is slow
		}
	}
}
