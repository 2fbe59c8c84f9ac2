// Package notify provides the change-notification primitives used to wake live
// subscribers: a generic per-key broadcaster and the room tail notifier built on it.
package notify

import (
	"context"
	"errors"
	"sort"
	"sync"
)

// ErrCancelled is returned by a Subscription after Cancel.
var ErrCancelled = errors.New("subscription cancelled")

// Broadcaster holds the latest value per key and wakes every waiter on that key
// when the value changes. A key's value is dropped once it has no subscriptions
// left, either on the last Cancel or on the next Watched scan.
type Broadcaster[T comparable] struct {
	mu     sync.Mutex
	topics map[string]*topic[T]
}

type topic[T comparable] struct {
	value   T
	set     bool
	wake    chan struct{}
	waiters int
	subs    int
}

func (t *topic[T]) idle() bool {
	return t.subs == 0 && t.waiters == 0
}

// NewBroadcaster creates an empty broadcaster.
func NewBroadcaster[T comparable]() *Broadcaster[T] {
	return &Broadcaster[T]{topics: make(map[string]*topic[T])}
}

func (b *Broadcaster[T]) topicLocked(key string) *topic[T] {
	t, ok := b.topics[key]
	if !ok {
		t = &topic[T]{wake: make(chan struct{})}
		b.topics[key] = t
	}
	return t
}

// Publish stores v under key. Waiters wake if the value changed.
func (b *Broadcaster[T]) Publish(key string, v T) bool {
	return b.Update(key, func(T, bool) (T, bool) { return v, true })
}

// Update replaces the value under key with fn's result when fn reports ok.
// It returns true if the stored value changed.
func (b *Broadcaster[T]) Update(key string, fn func(cur T, set bool) (T, bool)) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	t := b.topicLocked(key)
	next, ok := fn(t.value, t.set)
	if !ok || (t.set && next == t.value) {
		return false
	}
	t.value = next
	t.set = true
	close(t.wake)
	t.wake = make(chan struct{})
	return true
}

// Load returns the current value under key.
func (b *Broadcaster[T]) Load(key string) (T, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[key]
	if !ok || !t.set {
		var zero T
		return zero, false
	}
	return t.value, true
}

// Subscribed reports whether key has at least one live subscription.
func (b *Broadcaster[T]) Subscribed(key string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[key]
	return ok && t.subs > 0
}

// Watched returns the keys that currently have at least one waiter, sorted.
// Idle keys are pruned along the way.
func (b *Broadcaster[T]) Watched() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	keys := make([]string, 0, len(b.topics))
	for key, t := range b.topics {
		if t.idle() {
			delete(b.topics, key)
			continue
		}
		if t.waiters > 0 {
			keys = append(keys, key)
		}
	}
	sort.Strings(keys)
	return keys
}

// Subscribe returns a subscription to key. Callers must Cancel it when done.
func (b *Broadcaster[T]) Subscribe(key string) *Subscription[T] {
	b.mu.Lock()
	b.topicLocked(key).subs++
	b.mu.Unlock()
	return &Subscription[T]{b: b, key: key, done: make(chan struct{})}
}

func (b *Broadcaster[T]) release(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	t, ok := b.topics[key]
	if !ok {
		return
	}
	t.subs--
	if t.idle() {
		delete(b.topics, key)
	}
}

// Subscription waits for changes of one key.
type Subscription[T comparable] struct {
	b    *Broadcaster[T]
	key  string
	done chan struct{}
	once sync.Once
}

// Key returns the subscribed key.
func (s *Subscription[T]) Key() string {
	return s.key
}

// Next blocks until the value under the key differs from known, ctx ends or the
// subscription is cancelled.
func (s *Subscription[T]) Next(ctx context.Context, known T) (T, error) {
	var zero T
	for {
		s.b.mu.Lock()
		select {
		case <-s.done:
			s.b.mu.Unlock()
			return zero, ErrCancelled
		default:
		}
		t := s.b.topicLocked(s.key)
		if t.set && t.value != known {
			v := t.value
			s.b.mu.Unlock()
			return v, nil
		}
		wake := t.wake
		t.waiters++
		s.b.mu.Unlock()

		select {
		case <-wake:
		case <-ctx.Done():
		case <-s.done:
		}

		s.b.mu.Lock()
		t.waiters--
		if t.idle() && s.b.topics[s.key] == t {
			delete(s.b.topics, s.key)
		}
		s.b.mu.Unlock()

		select {
		case <-s.done:
			return zero, ErrCancelled
		default:
		}
		if err := ctx.Err(); err != nil {
			return zero, err
		}
	}
}

// Cancel releases any pending Next immediately. It is safe to call more than once.
func (s *Subscription[T]) Cancel() {
	s.once.Do(func() {
		close(s.done)
		s.b.release(s.key)
	})
}
