package sim

import (
	"time"

	"github.com/zeusync/framecore/internal/core/entity"
)

// Clock is the monotonic frame clock.
type Clock struct {
	frame entity.Frame
}

// Advance starts the next frame. A negative delta counts as zero.
func (c *Clock) Advance(delta time.Duration) entity.Frame {
	if delta < 0 {
		delta = 0
	}
	c.frame.Number++
	c.frame.Delta = delta
	c.frame.Time += delta
	return c.frame
}

func (c Clock) Now() time.Duration  { return c.frame.Time }
func (c Clock) Frame() entity.Frame { return c.frame }
