package events

import (
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

var _ Publisher = (*Bus)(nil)

type subscription struct {
	id      string
	kind    Kind
	handler Handler
	active  atomic.Bool
	cancel  func()
}

func (s *subscription) ID() string   { return s.id }
func (s *subscription) Kind() Kind   { return s.kind }
func (s *subscription) Active() bool { return s.active.Load() }
func (s *subscription) Cancel() error {
	if s.cancel != nil {
		s.cancel()
	}
	return nil
}

type Bus struct {
	mu        sync.RWMutex
	handlers  map[Kind][]*subscription
	observers map[Observer]struct{}
	metrics   Metrics
}

func New() *Bus {
	return &Bus{
		handlers:  make(map[Kind][]*subscription),
		observers: make(map[Observer]struct{}),
	}
}

func (b *Bus) Subscribe(kind Kind, handler Handler) (Subscription, error) {
	if kind == "" {
		return nil, ErrEmptyKind
	}
	if handler == nil {
		return nil, ErrNilHandler
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	s := &subscription{id: uuid.NewString(), kind: kind, handler: handler}
	s.active.Store(true)
	s.cancel = func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		b.handlers[kind] = slices.DeleteFunc(b.handlers[kind], func(o *subscription) bool { return o == s })
		s.active.Store(false)
	}
	b.handlers[kind] = append(b.handlers[kind], s)
	return s, nil
}

func (b *Bus) Unsubscribe(sub Subscription) error {
	if sub == nil {
		return nil
	}
	return sub.Cancel()
}

// Count returns the number of active subscriptions for kind.
func (b *Bus) Count(kind Kind) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[kind])
}

func (b *Bus) Publish(ev Event) error {
	start := time.Now()
	b.mu.RLock()
	subs := slices.Clone(b.handlers[ev.Kind])
	var observers []Observer
	for obs := range b.observers {
		observers = append(observers, obs)
	}
	b.mu.RUnlock()

	for _, obs := range observers {
		obs.OnPublish(ev)
	}

	var all error
	for _, s := range subs {
		if err := s.handler(ev); err != nil {
			all = errors.Join(all, err)
		}
	}

	if len(observers) > 0 {
		elapsed := time.Since(start)
		for _, obs := range observers {
			obs.OnDelivered(ev, len(subs), all, elapsed)
		}
		b.mu.Lock()
		b.metrics.Published++
		b.metrics.Delivered += uint64(len(subs))
		if all != nil {
			b.metrics.Errors++
		}
		var n uint64
		for _, list := range b.handlers {
			n += uint64(len(list))
		}
		b.metrics.Subscribers = n
		b.mu.Unlock()
	}
	return all
}

// PublishBatch publishes events in order and joins every error.
func (b *Bus) PublishBatch(evs ...Event) error {
	var all error
	for _, ev := range evs {
		if err := b.Publish(ev); err != nil {
			all = errors.Join(all, err)
		}
	}
	return all
}

func (b *Bus) AddObserver(obs Observer) {
	b.mu.Lock()
	b.observers[obs] = struct{}{}
	b.mu.Unlock()
}

func (b *Bus) RemoveObserver(obs Observer) {
	b.mu.Lock()
	delete(b.observers, obs)
	b.mu.Unlock()
}

// Metrics returns a snapshot of the counters kept while observed.
func (b *Bus) Metrics() Metrics {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.metrics
}
