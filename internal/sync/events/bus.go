// Package events provides the typed listener registry used by the sync manager.
package events

import (
	"fmt"
	"sync"

	"github.com/kimhsiao/kiosksync/internal/logging"
)

// Bus is an ordered multicast of events of type E.
type Bus[E any] struct {
	mu     sync.Mutex
	nextID uint64
	subs   []subscriber[E]
}

type subscriber[E any] struct {
	id uint64
	fn func(E)
}

// NewBus creates an empty Bus.
func NewBus[E any]() *Bus[E] {
	return &Bus[E]{}
}

// Subscribe appends fn and returns a function that removes it.
// Calling the returned function more than once has no further effect.
func (b *Bus[E]) Subscribe(fn func(E)) func() {
	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.subs = append(b.subs, subscriber[E]{id: id, fn: fn})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			for i, s := range b.subs {
				if s.id == id {
					b.subs = append(b.subs[:i:i], b.subs[i+1:]...)
					return
				}
			}
		})
	}
}

// Notify calls every current subscriber synchronously in registration order.
// A panicking subscriber is logged and skipped.
func (b *Bus[E]) Notify(event E) {
	b.mu.Lock()
	subs := make([]subscriber[E], len(b.subs))
	copy(subs, b.subs)
	b.mu.Unlock()

	for _, s := range subs {
		b.call(s, event)
	}
}

func (b *Bus[E]) call(s subscriber[E], event E) {
	defer func() {
		if r := recover(); r != nil {
			logging.Error("event subscriber panicked", fmt.Errorf("%v", r), map[string]interface{}{
				"subscriber": s.id,
			})
		}
	}()
	s.fn(event)
}

// Len returns the number of subscribers.
func (b *Bus[E]) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}
