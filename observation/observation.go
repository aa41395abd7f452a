// Package observation holds what an environment reports to an agent each step.
package observation

import (
	"image"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"
)

// Observations is a single snapshot of the robot and its surroundings.
//
// Depth, Semantic and the masks in Task are row-major over Width x Height.
type Observations struct {
	RGB    image.Image
	Depth  []float64
	XYZ    []r3.Vector
	Width  int
	Height int

	// GPS and Compass are relative to the pose at the start of the episode.
	GPS     r2.Point
	Compass float64

	CameraPose              spatialmath.Pose
	Joint                   []float64
	RelativeRestingPosition r3.Vector
	IsHolding               bool

	Semantic []int

	Task TaskObservations
}

// TaskObservations is the goal bookkeeping agents and environments exchange.
// Goal ids index the segmentation vocabulary; a nil id means "no such goal".
type TaskObservations struct {
	ObjectGoal     *int
	GoalName       string
	StartRecepGoal *int
	StartRecepName string
	EndRecepGoal   *int
	EndRecepName   string

	TaskName   string
	NumActions int
	ObjectList []string

	InstanceMap     []int
	InstanceScores  []float64
	InstanceClasses []int
	GoalMask        []bool
	GoalClassMask   []bool

	BaseCameraPose spatialmath.Pose

	GripperWidth float64
	GripperState float64
}

// GoalID returns a pointer to id, for filling the goal fields.
func GoalID(id int) *int {
	return &id
}

// Pixels is the number of pixels in the observation's image grid.
func (o *Observations) Pixels() int {
	return o.Width * o.Height
}

// MaskStats summarizes a boolean mask over a width x height grid: how many
// pixels are set and the centroid of those pixels.
func MaskStats(mask []bool, width int) (int, r2.Point) {
	if width <= 0 {
		return 0, r2.Point{}
	}
	var count int
	var sum r2.Point
	for i, set := range mask {
		if !set {
			continue
		}
		count++
		sum.X += float64(i % width)
		sum.Y += float64(i / width)
	}
	if count == 0 {
		return 0, r2.Point{}
	}
	return count, sum.Mul(1 / float64(count))
}
