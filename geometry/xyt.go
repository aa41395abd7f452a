// Package geometry converts between the planar (x, y, theta) base poses the
// agents reason about and full SE(3) poses.
//
// XYT values are in meters and radians. spatialmath poses are in millimeters,
// so every conversion in this package scales by 1000.
package geometry

import (
	"math"

	"github.com/golang/geo/r2"
	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"
)

const mmPerMeter = 1000.

// XYT is a planar base pose: position in meters and heading in radians.
type XYT struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
}

// Pose lifts the planar pose into SE(3) with the heading as a rotation about +Z.
func (p XYT) Pose() spatialmath.Pose {
	return spatialmath.NewPose(
		r3.Vector{X: p.X * mmPerMeter, Y: p.Y * mmPerMeter},
		&spatialmath.OrientationVector{OZ: 1, Theta: p.Theta},
	)
}

// FromPose projects an SE(3) pose onto the floor plane.
func FromPose(pose spatialmath.Pose) XYT {
	pt := pose.Point()
	return XYT{
		X:     pt.X / mmPerMeter,
		Y:     pt.Y / mmPerMeter,
		Theta: NormalizeAngle(pose.Orientation().EulerAngles().Yaw),
	}
}

// BaseToGlobal expresses a pose given in the frame of base in the global frame.
func BaseToGlobal(base, local XYT) XYT {
	return FromPose(spatialmath.Compose(base.Pose(), local.Pose()))
}

// GlobalToBase expresses a global pose in the frame of base. It is the inverse
// of BaseToGlobal.
func GlobalToBase(base, global XYT) XYT {
	return FromPose(spatialmath.PoseBetween(base.Pose(), global.Pose()))
}

// PointToGlobal moves a point in meters from the base frame to the global frame.
func PointToGlobal(base XYT, local r3.Vector) r3.Vector {
	pose := spatialmath.Compose(base.Pose(), spatialmath.NewPoseFromPoint(local.Mul(mmPerMeter)))
	return pose.Point().Mul(1 / mmPerMeter)
}

// Relative returns the displacement of current from start expressed in the
// start frame, split into a planar GPS reading and a compass heading.
func Relative(start, current XYT) (r2.Point, float64) {
	rel := GlobalToBase(start, current)
	return r2.Point{X: rel.X, Y: rel.Y}, rel.Theta
}

// NormalizeAngle wraps an angle into (-pi, pi].
func NormalizeAngle(theta float64) float64 {
	theta = math.Mod(theta, 2*math.Pi)
	if theta <= -math.Pi {
		theta += 2 * math.Pi
	} else if theta > math.Pi {
		theta -= 2 * math.Pi
	}
	return theta
}

// HeadingTo is the global heading pointing from the origin of from to pt.
func HeadingTo(from XYT, pt r3.Vector) float64 {
	return math.Atan2(pt.Y-from.Y, pt.X-from.X)
}
