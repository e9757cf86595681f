package entity

import (
	"math"
	"strings"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Type is the component type ordinal. It is the primary execution sort key:
// lower types run first.
type Type uint8

const (
	TypeInput Type = iota
	TypeLogic
	TypeTransform
	TypeRendering
)

func (t Type) String() string {
	switch t {
	case TypeInput:
		return "input"
	case TypeLogic:
		return "logic"
	case TypeTransform:
		return "transform"
	case TypeRendering:
		return "rendering"
	default:
		return "unknown"
	}
}

const (
	DefaultPriority = 0.5
	MinPriority     = 0.001
	MaxPriority     = 1.0
)

// NormalizePriority maps p into (0, 1]. Non-finite values become
// DefaultPriority.
func NormalizePriority(p float64) float64 {
	switch {
	case math.IsNaN(p) || math.IsInf(p, 0):
		return DefaultPriority
	case p <= 0:
		return MinPriority
	case p > MaxPriority:
		return MaxPriority
	default:
		return p
	}
}

// NormalizeName is the form names are compared in.
func NormalizeName(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

func nameKey(normalized string) uint64 {
	return xxhash.Sum64String(normalized)
}

// Component is a unit of per-frame behaviour owned by at most one entity.
// Implementations embed Base.
type Component interface {
	Name() string
	Type() Type
	Priority() float64
	SetPriority(p float64)
	Host() *Entity

	// Execute runs once per frame. Only rendering components use the result:
	// false stops the remaining rendering components of the host this frame.
	Execute(ctx Context, now time.Duration) bool

	base() *Base
}

// Attacher is implemented by components that need to resolve handles on
// their host once it owns them.
type Attacher interface {
	OnAttach(host *Entity)
}

// Detacher is implemented by components that release resources when their
// host drops them.
type Detacher interface {
	OnDetach(host *Entity)
}

// Base carries the bookkeeping every component shares.
type Base struct {
	name     string
	kind     Type
	priority float64
	host     *Entity
	seq      uint64
}

// NewBase normalises name and priority. The type can not be changed later.
func NewBase(name string, t Type, priority float64) Base {
	return Base{
		name:     NormalizeName(name),
		kind:     t,
		priority: NormalizePriority(priority),
	}
}

func (b *Base) Name() string      { return b.name }
func (b *Base) Type() Type        { return b.kind }
func (b *Base) Priority() float64 { return b.priority }
func (b *Base) Host() *Entity     { return b.host }

// SetPriority updates the priority and re-sorts the host immediately. The
// order of a sweep already in progress is not affected.
func (b *Base) SetPriority(p float64) {
	b.priority = NormalizePriority(p)
	if b.host != nil {
		b.host.resort()
	}
}

func (b *Base) base() *Base { return b }
