package action

import (
	"github.com/golang/geo/r3"
)

// Info is the side channel an agent returns with an action. The environment
// reads goal objects and navigation targets from it.
type Info struct {
	// ObjectList names the objects of the current step, most general first.
	ObjectList []string
	// SkipVisualization marks steps whose observation should not be rendered.
	SkipVisualization bool
	// Viz is an opaque payload for the environment's visualizer.
	Viz map[string]interface{}
	// SLAP is set when a navigation action targets a predicted interaction point.
	SLAP *SLAPTarget
	// PointToPoint marks predictions that are poses to move to directly.
	PointToPoint bool
}

// SLAPTarget describes where to park the base relative to a predicted
// interaction point.
type SLAPTarget struct {
	// InteractionPoint is in the base frame, meters.
	InteractionPoint r3.Vector
	// HasOffset reports whether the fields below were set for this object.
	HasOffset bool
	// GlobalOffset is a unit direction in the global frame.
	GlobalOffset r3.Vector
	// OffsetDistance is in meters.
	OffsetDistance float64
	// GlobalOrientation is the heading to end at, radians.
	GlobalOrientation float64
}
