package debugfeed

import (
	"context"

	"github.com/zeusync/framecore/internal/core/sim"
)

// EntityState is the wire form of one entity in a Snapshot.
type EntityState struct {
	ID         uint64  `json:"id"`
	Name       string  `json:"name,omitempty"`
	X          float64 `json:"x"`
	Y          float64 `json:"y"`
	Components int     `json:"components"`
	Neighbours int     `json:"neighbours"`
}

// Snapshot is what a feed client receives after every frame.
type Snapshot struct {
	Frame      uint64        `json:"frame"`
	TimeMillis int64         `json:"time_ms"`
	Entities   []EntityState `json:"entities"`
	Occupants  int           `json:"occupants"`
	DirtyNodes int           `json:"dirty_nodes"`
	Halted     string        `json:"halted,omitempty"`
}

// SnapshotOf captures s between frames. Neighbours counts the other
// entities in each entity's potential collision list.
func SnapshotOf(ctx context.Context, s *sim.Simulation) (Snapshot, error) {
	pcls, err := s.Neighbours(ctx)
	if err != nil {
		return Snapshot{}, err
	}

	frame := s.Frame()
	stats := s.Grid().Stats()
	snap := Snapshot{
		Frame:      frame.Number,
		TimeMillis: frame.Time.Milliseconds(),
		Entities:   make([]EntityState, 0, s.Len()),
		Occupants:  stats.Occupants,
		DirtyNodes: stats.Dirty,
	}
	if err := s.Halted(); err != nil {
		snap.Halted = err.Error()
	}

	for i, e := range s.Entities() {
		neighbours := 0
		for _, occ := range pcls[i] {
			if occ.SpatialKey() != e.SpatialKey() {
				neighbours++
			}
		}
		p := e.Position()
		snap.Entities = append(snap.Entities, EntityState{
			ID:         e.ID(),
			Name:       e.Name(),
			X:          p.X,
			Y:          p.Y,
			Components: e.Len(),
			Neighbours: neighbours,
		})
	}
	return snap, nil
}
