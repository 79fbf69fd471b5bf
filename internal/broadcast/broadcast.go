package broadcast

import (
	"kibaeon/internal/events"
	"sync"
)

const subscriberBuffer = 16

// Broadcaster drains a bus and copies every event to each subscriber.
type Broadcaster struct {
	Mu      sync.Mutex
	Clients map[chan events.Event]bool
	done    chan struct{}
}

func NewBroadcaster(bus *events.Bus) *Broadcaster {
	b := &Broadcaster{
		Clients: make(map[chan events.Event]bool),
		done:    make(chan struct{}),
	}
	go func() {
		defer close(b.done)
		for ev := range bus.Events {
			b.Broadcast(ev)
		}
	}()
	return b
}

func (b *Broadcaster) Subscribe() chan events.Event {
	return b.SubscribeBuffered(subscriberBuffer)
}

// SubscribeBuffered is Subscribe with a caller-chosen buffer, for consumers
// that must not miss events under bursts.
func (b *Broadcaster) SubscribeBuffered(size int) chan events.Event {
	if size <= 0 {
		size = subscriberBuffer
	}
	ch := make(chan events.Event, size)
	b.Mu.Lock()
	b.Clients[ch] = true
	b.Mu.Unlock()
	return ch
}

func (b *Broadcaster) Unsubscribe(ch chan events.Event) {
	b.Mu.Lock()
	_, ok := b.Clients[ch]
	delete(b.Clients, ch)
	b.Mu.Unlock()
	if ok {
		close(ch)
	}
}

func (b *Broadcaster) Broadcast(ev events.Event) {
	b.Mu.Lock()
	defer b.Mu.Unlock()
	for ch := range b.Clients {
		select {
		case ch <- ev:
		default:
			// skip clients with full data channels
		}
	}
}

// Done is closed once the bus channel has been closed and drained.
func (b *Broadcaster) Done() <-chan struct{} {
	return b.done
}
