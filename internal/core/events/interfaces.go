// Package events is the in-process pub/sub bus the simulation reports
// through: collisions, entity lifecycle, frame completion and faults.
//
// Delivery is synchronous in the publisher's goroutine, in subscription
// order. Handler errors are joined and returned from Publish. All methods
// are safe for concurrent use.
package events

import (
	"errors"
	"time"
)

var (
	ErrNilHandler = errors.New("events: nil handler")
	ErrEmptyKind  = errors.New("events: empty event kind")
)

// Kind is the routing key of an event.
type Kind string

const (
	KindCollision Kind = "collision"
	KindSpawn     Kind = "spawn"
	KindDespawn   Kind = "despawn"
	KindFrame     Kind = "frame"
	KindFault     Kind = "fault"
)

// Event is one notification. Payload is owned by the receiver once
// published and must be treated as read-only.
type Event struct {
	Kind    Kind
	Frame   uint64
	Time    time.Duration
	Source  uint64
	Payload any
}

// Handler is invoked for every delivered event of the subscribed kind.
type Handler func(Event) error

// Publisher is the narrow view components hold on the bus.
type Publisher interface {
	Publish(Event) error
}

// Subscription is a registered handler. Cancel is idempotent.
type Subscription interface {
	ID() string
	Kind() Kind
	Active() bool
	Cancel() error
}

// Observer is told about every publish. Metrics are only kept while at
// least one observer is registered.
type Observer interface {
	OnPublish(ev Event)
	OnDelivered(ev Event, handlers int, err error, elapsed time.Duration)
}

type Metrics struct {
	Published   uint64
	Delivered   uint64
	Errors      uint64
	Subscribers uint64
}
