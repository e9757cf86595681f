package collision

import (
	"time"

	"github.com/zeusync/framecore/internal/core/entity"
)

// Signal tells the collider whether to keep testing candidates.
type Signal uint8

const (
	Continue Signal = iota
	Stop
)

func (s Signal) String() string {
	if s == Stop {
		return "stop"
	}
	return "continue"
}

// Mask is a collision category bitmask. The collider never filters on it;
// handlers decide what a pair of masks means.
type Mask uint64

func (m Mask) Intersects(o Mask) bool { return m&o != 0 }

// Event describes one confirmed hull intersection. It is only valid for the
// duration of the OnCollide call.
type Event struct {
	Host       *entity.Entity
	Target     *entity.Entity
	Time       time.Duration
	HostMask   Mask
	TargetMask Mask
}

// Interested reports whether the two masks share a category.
func (e Event) Interested() bool { return e.HostMask.Intersects(e.TargetMask) }

// Handler receives collisions of the collider's host.
type Handler interface {
	OnCollide(ev Event) Signal
}

type HandlerFunc func(ev Event) Signal

func (f HandlerFunc) OnCollide(ev Event) Signal { return f(ev) }
