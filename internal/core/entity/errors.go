package entity

import (
	"errors"
	"fmt"
)

var (
	ErrDuplicateName   = errors.New("duplicate component name")
	ErrAlreadyAttached = errors.New("component already attached to another entity")
	ErrNilComponent    = errors.New("nil component")
	ErrInvalidName     = errors.New("component name is empty")
	ErrDestroyed       = errors.New("entity destroyed")
)

// ContractError is a composition bug: it names the entity and component at
// fault and unwraps to one of the sentinels above.
type ContractError struct {
	Entity     uint64
	EntityName string
	Component  string
	Err        error
}

func (e *ContractError) Error() string {
	if e.EntityName != "" {
		return fmt.Sprintf("entity %d (%s): component %q: %v", e.Entity, e.EntityName, e.Component, e.Err)
	}
	return fmt.Sprintf("entity %d: component %q: %v", e.Entity, e.Component, e.Err)
}

func (e *ContractError) Unwrap() error { return e.Err }
