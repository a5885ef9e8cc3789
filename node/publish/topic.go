// Package publish fans node state out to observers.
package publish

import (
	"context"
	"sync"
)

const subscriberQueueCap = 1024

// Topic broadcasts values to subscribers. A new subscriber first receives the
// latest published value. Each subscriber owns a bounded queue; when it is
// full the oldest queued value is dropped, so the newest value is always
// delivered eventually.
type Topic[T any] struct {
	mu     sync.Mutex
	subs   map[uint64]*subscriber[T]
	nextID uint64
	latest T
	has    bool
	closed bool
}

type subscriber[T any] struct {
	mu      sync.Mutex
	queue   []T
	wake    chan struct{}
	dropped uint64
}

func NewTopic[T any]() *Topic[T] {
	return &Topic[T]{subs: make(map[uint64]*subscriber[T])}
}

// Publish records v as the latest value and enqueues it for every subscriber.
func (t *Topic[T]) Publish(v T) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.latest = v
	t.has = true
	for _, sub := range t.subs {
		sub.push(v)
	}
}

// Latest returns the most recently published value.
func (t *Topic[T]) Latest() (T, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.latest, t.has
}

// Subscribe returns a channel of values that closes when ctx ends or the
// topic is closed.
func (t *Topic[T]) Subscribe(ctx context.Context) <-chan T {
	out := make(chan T)
	sub := &subscriber[T]{wake: make(chan struct{}, 1)}

	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		close(out)
		return out
	}
	id := t.nextID
	t.nextID++
	t.subs[id] = sub
	if t.has {
		sub.push(t.latest)
	}
	t.mu.Unlock()

	go t.deliver(ctx, id, sub, out)
	return out
}

// Subscribers returns the number of live subscriptions.
func (t *Topic[T]) Subscribers() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.subs)
}

// Close ends every subscription. Later publishes are ignored.
func (t *Topic[T]) Close() {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return
	}
	t.closed = true
	for id, sub := range t.subs {
		delete(t.subs, id)
		close(sub.wake)
	}
}

func (t *Topic[T]) deliver(ctx context.Context, id uint64, sub *subscriber[T], out chan<- T) {
	defer close(out)
	defer t.unsubscribe(id)

	for {
		v, ok := sub.pop()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case _, open := <-sub.wake:
				if !open {
					// Flush what was queued before close.
					for {
						v, ok := sub.pop()
						if !ok {
							return
						}
						select {
						case out <- v:
						case <-ctx.Done():
							return
						}
					}
				}
			}
			continue
		}
		select {
		case out <- v:
		case <-ctx.Done():
			return
		}
	}
}

func (t *Topic[T]) unsubscribe(id uint64) {
	t.mu.Lock()
	delete(t.subs, id)
	t.mu.Unlock()
}

func (s *subscriber[T]) push(v T) {
	s.mu.Lock()
	if len(s.queue) >= subscriberQueueCap {
		copy(s.queue, s.queue[1:])
		s.queue[len(s.queue)-1] = v
		s.dropped++
	} else {
		s.queue = append(s.queue, v)
	}
	s.mu.Unlock()

	select {
	case s.wake <- struct{}{}:
	default:
	}
}

func (s *subscriber[T]) pop() (T, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var zero T
	if len(s.queue) == 0 {
		return zero, false
	}
	v := s.queue[0]
	s.queue[0] = zero
	s.queue = s.queue[1:]
	return v, true
}
