package web

import (
	"sync"

	"indoornav/internal/fusion"
)

// Broadcaster fans published navigation states out to any listeners (e.g.
// websocket clients). It keeps the most recent value so new subscribers get
// an immediate state. Slow subscribers miss states rather than block fusion.
type Broadcaster struct {
	mu       sync.RWMutex
	subs     map[int]chan fusion.State
	nextID   int
	last     fusion.State
	haveLast bool
	sent     uint64
}

func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs: make(map[int]chan fusion.State),
	}
}

func (b *Broadcaster) Subscribe(buffer int) (int, <-chan fusion.State) {
	if b == nil {
		return 0, nil
	}
	if buffer <= 0 {
		buffer = 2
	}
	ch := make(chan fusion.State, buffer)
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subs[id] = ch
	if b.haveLast {
		ch <- b.last
	}
	b.mu.Unlock()
	return id, ch
}

func (b *Broadcaster) Unsubscribe(id int) {
	if b == nil {
		return
	}
	b.mu.Lock()
	ch, ok := b.subs[id]
	if ok {
		delete(b.subs, id)
		close(ch)
	}
	b.mu.Unlock()
}

// Publish implements fusion.Sink.
func (b *Broadcaster) Publish(st fusion.State) {
	if b == nil {
		return
	}
	// One critical section for the sends and last: Unsubscribe cannot close a
	// channel mid-send, and last always matches what subscribers got last.
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.haveLast && st.Seq != 0 && st.Seq <= b.last.Seq {
		// Older than what subscribers already have.
		return
	}
	for _, ch := range b.subs {
		select {
		case ch <- st:
		default:
		}
	}
	b.last = st
	b.haveLast = true
	b.sent++
}

// Last returns the most recently published state.
func (b *Broadcaster) Last() (fusion.State, bool) {
	if b == nil {
		return fusion.State{}, false
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.last, b.haveLast
}

// Stats reports the number of listeners and states published so far.
func (b *Broadcaster) Stats() (subscribers int, published uint64) {
	if b == nil {
		return 0, 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs), b.sent
}
