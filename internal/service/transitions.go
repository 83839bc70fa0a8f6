package service

import (
	"sync"

	"shockstream"
)

// transitionBuffer bounds each subscriber channel. A subscriber that falls
// behind loses events rather than stalling the scheduler; the periodic
// snapshot resynchronizes dashboards regardless.
const transitionBuffer = 16

// transitionFeed fans terminal queue items out to live subscribers.
type transitionFeed struct {
	mu   sync.Mutex
	subs map[int]chan shockstream.QueueItem
	next int
}

func newTransitionFeed() *transitionFeed {
	return &transitionFeed{subs: make(map[int]chan shockstream.QueueItem)}
}

// subscribe returns a receive channel and a cancel func. Cancel closes the
// channel and must be called exactly once.
func (f *transitionFeed) subscribe() (<-chan shockstream.QueueItem, func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	id := f.next
	f.next++
	ch := make(chan shockstream.QueueItem, transitionBuffer)
	f.subs[id] = ch
	return ch, func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		if sub, ok := f.subs[id]; ok {
			delete(f.subs, id)
			close(sub)
		}
	}
}

// publish delivers the item to every subscriber without blocking.
func (f *transitionFeed) publish(item shockstream.QueueItem) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, ch := range f.subs {
		select {
		case ch <- item:
		default:
		}
	}
}
