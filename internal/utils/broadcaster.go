package utils

import (
	"sync"
)

// Broadcaster fans a stream of events out to any number of subscribers.
// A subscriber whose buffer is full when an event is published is dropped
// and its channel closed, so a slow reader never stalls the publisher.
type Broadcaster[T any] struct {
	mu          sync.Mutex
	subscribers map[chan T]struct{}
	closed      bool
}

func NewBroadcaster[T any]() *Broadcaster[T] {
	return &Broadcaster[T]{
		subscribers: make(map[chan T]struct{}),
	}
}

func (b *Broadcaster[T]) Subscribe(buf int) <-chan T {
	ch := make(chan T, buf)

	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		close(ch)
		return ch
	}
	b.subscribers[ch] = struct{}{}
	return ch
}

func (b *Broadcaster[T]) Unsubscribe(ch <-chan T) {
	b.mu.Lock()
	defer b.mu.Unlock()

	for sub := range b.subscribers {
		if (<-chan T)(sub) == ch {
			delete(b.subscribers, sub)
			close(sub)
			return
		}
	}
}

// Publish delivers the event to every subscriber and returns how many of
// them were dropped.
func (b *Broadcaster[T]) Publish(event T) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	dropped := 0
	for sub := range b.subscribers {
		select {
		case sub <- event:
		default:
			delete(b.subscribers, sub)
			close(sub)
			dropped++
		}
	}
	return dropped
}

func (b *Broadcaster[T]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subscribers)
}

func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return
	}
	for sub := range b.subscribers {
		close(sub)
	}
	b.subscribers = nil
	b.closed = true
}
