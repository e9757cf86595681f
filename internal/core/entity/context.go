package entity

import (
	"time"

	"github.com/zeusync/framecore/internal/core/observability/log"
	"github.com/zeusync/framecore/internal/core/spatial"
)

// Frame identifies the frame being executed.
type Frame struct {
	Number uint64
	Time   time.Duration
	Delta  time.Duration
}

// Context is the simulation state handed to every Execute call.
type Context interface {
	Grid() *spatial.Grid
	Logger() log.Log
	Frame() Frame

	// Fail reports a configuration error found mid-frame. The current frame
	// is abandoned and the driver stops.
	Fail(err error)
	// Err returns the first error passed to Fail.
	Err() error
}
