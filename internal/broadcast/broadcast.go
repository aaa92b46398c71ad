// Package broadcast is a bounded multi-subscriber channel. Each subscriber
// owns a fixed-capacity queue; a full queue sheds according to the overflow
// policy so a slow subscriber never blocks the publisher or its peers.
package broadcast

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
)

var ErrClosed = errors.New("broadcast: closed")

// Policy decides which value a full subscriber queue loses.
type Policy string

const (
	// DropOldest evicts the oldest unread value to make room.
	DropOldest Policy = "drop-oldest"
	// DropNewest discards the value being published.
	DropNewest Policy = "drop-newest"
)

func ParsePolicy(s string) (Policy, error) {
	switch Policy(s) {
	case "", DropOldest:
		return DropOldest, nil
	case DropNewest:
		return DropNewest, nil
	default:
		return "", fmt.Errorf("unknown overflow policy %q", s)
	}
}

const DefaultCapacity = 128

type config struct {
	policy Policy
	onDrop func(subscriber string)
}

type Option func(*config)

func WithPolicy(p Policy) Option {
	return func(c *config) {
		if p != "" {
			c.policy = p
		}
	}
}

// WithDropHook is called from Publish once per dropped value.
func WithDropHook(fn func(subscriber string)) Option {
	return func(c *config) {
		c.onDrop = fn
	}
}

type Broadcaster[T any] struct {
	mu       sync.RWMutex
	subs     []*Subscription[T]
	capacity int
	cfg      config
	closed   bool
}

func New[T any](capacity int, opts ...Option) *Broadcaster[T] {
	if capacity < 1 {
		capacity = DefaultCapacity
	}
	cfg := config{policy: DropOldest}
	for _, opt := range opts {
		opt(&cfg)
	}
	return &Broadcaster[T]{capacity: capacity, cfg: cfg}
}

// Subscribe registers a new subscriber. It only sees values published after
// the call returns.
func (b *Broadcaster[T]) Subscribe(name string) *Subscription[T] {
	sub := &Subscription[T]{
		name: name,
		ch:   make(chan T, b.capacity),
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		close(sub.ch)
		return sub
	}
	b.subs = append(b.subs, sub)
	return sub
}

// Publish offers v to every subscriber without blocking.
func (b *Broadcaster[T]) Publish(v T) error {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if b.closed {
		return ErrClosed
	}
	for _, sub := range b.subs {
		b.offer(sub, v)
	}
	return nil
}

// Unsubscribe removes sub and closes its queue. It is a no-op for a
// subscription that is already gone.
func (b *Broadcaster[T]) Unsubscribe(sub *Subscription[T]) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	for i, s := range b.subs {
		if s == sub {
			b.subs = append(b.subs[:i], b.subs[i+1:]...)
			close(sub.ch)
			return
		}
	}
}

// testHookQueueFull runs after the first send to a full queue fails.
var testHookQueueFull = func() {}

func (b *Broadcaster[T]) offer(sub *Subscription[T], v T) {
	if trySend(sub.ch, v) {
		return
	}
	testHookQueueFull()

	if b.cfg.policy == DropOldest {
		// The consumer may have made room since the first attempt; only
		// evict when the queue is still full.
		if trySend(sub.ch, v) {
			return
		}
		select {
		case <-sub.ch:
			b.dropped(sub)
		default:
		}
		if trySend(sub.ch, v) {
			return
		}
	}
	b.dropped(sub)
}

func trySend[T any](ch chan T, v T) bool {
	select {
	case ch <- v:
		return true
	default:
		return false
	}
}

func (b *Broadcaster[T]) dropped(sub *Subscription[T]) {
	sub.dropped.Add(1)
	if b.cfg.onDrop != nil {
		b.cfg.onDrop(sub.name)
	}
}

// Close ends every subscription. Values already queued can still be read.
func (b *Broadcaster[T]) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, sub := range b.subs {
		close(sub.ch)
	}
}

// Subscription is one consumer's private queue.
type Subscription[T any] struct {
	name     string
	ch       chan T
	dropped  atomic.Uint64
	reported uint64
}

// Recv blocks for the next value. ErrClosed is returned once the broadcaster
// is closed and the queue drained.
func (s *Subscription[T]) Recv(ctx context.Context) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	case v, ok := <-s.ch:
		if !ok {
			return zero, ErrClosed
		}
		return v, nil
	}
}

// Dropped is the total number of values this subscriber has lost.
func (s *Subscription[T]) Dropped() uint64 {
	return s.dropped.Load()
}

// TakeLag returns the values lost since the previous call. It must only be
// called from the consuming goroutine.
func (s *Subscription[T]) TakeLag() uint64 {
	total := s.dropped.Load()
	lag := total - s.reported
	s.reported = total
	return lag
}
