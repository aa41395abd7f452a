package demo

import (
	"context"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/num/quat"

	"github.com/viam-labs/stretch-agent/robot"
)

// An IK solves for the joint vector putting the gripper at a pose in the
// base frame. ok is false when there is no solution.
type IK interface {
	Solve(ctx context.Context, pos r3.Vector, rot quat.Number, current []float64) (q []float64, ok bool, err error)
}

// StretchIK is the closed-form inverse kinematics of the Stretch, whose
// gripper is positioned by three prismatic axes: the base drives along x,
// the lift moves along z, and the arm extends along -y. The wrist takes the
// orientation.
type StretchIK struct {
	// Offset is the gripper position, meters, with base_x, lift and arm at zero.
	Offset r3.Vector
	// Limits bound lift and arm extension, meters.
	LiftMin, LiftMax float64
	ArmMin, ArmMax   float64
}

// DefaultStretchIK returns the kinematics of a Stretch RE1 with the standard gripper.
func DefaultStretchIK() *StretchIK {
	return &StretchIK{
		Offset:  r3.Vector{X: -0.01, Y: -0.24, Z: 0.16},
		LiftMin: 0,
		LiftMax: 1.1,
		ArmMin:  0,
		ArmMax:  0.52,
	}
}

// Solve implements IK.
func (k *StretchIK) Solve(_ context.Context, pos r3.Vector, rot quat.Number, current []float64) ([]float64, bool, error) {
	q := make([]float64, robot.NumJoints)
	copy(q, current)
	q[robot.BaseX] = pos.X - k.Offset.X
	q[robot.Lift] = pos.Z - k.Offset.Z
	q[robot.Arm] = -(pos.Y - k.Offset.Y)
	if q[robot.Lift] < k.LiftMin || q[robot.Lift] > k.LiftMax || q[robot.Arm] < k.ArmMin || q[robot.Arm] > k.ArmMax {
		return nil, false, nil
	}
	o := spatialmath.Quaternion(rot)
	euler := o.EulerAngles()
	q[robot.WristYaw] = euler.Yaw
	q[robot.WristPitch] = euler.Pitch
	q[robot.WristRoll] = euler.Roll
	return q, true, nil
}
