// Package robot defines the hardware interface the environments drive: a
// mobile base, an arm with a gripper, and a head camera.
package robot

import (
	"context"
	"image"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"

	"github.com/viam-labs/stretch-agent/geometry"
)

// Mode is the control mode of the robot's drivers.
type Mode uint8

// Control modes. In navigation mode the base takes goals; in manipulation
// (position) mode the joints do.
const (
	ModeUnknown Mode = iota
	ModeNavigation
	ModeManipulation
)

func (m Mode) String() string {
	switch m {
	case ModeNavigation:
		return "navigation"
	case ModeManipulation:
		return "manipulation"
	default:
		return "unknown"
	}
}

// A Navigator moves the mobile base.
type Navigator interface {
	// BasePose is the base pose in the global (odometry or map) frame.
	BasePose(ctx context.Context) (geometry.XYT, error)
	// NavigateTo blocks until the base reaches xyt, given relative to the
	// current base pose when relative is set and globally otherwise.
	NavigateTo(ctx context.Context, xyt geometry.XYT, relative bool) error
	// SetVelocity commands linear (m/s) and angular (rad/s) base velocity.
	SetVelocity(ctx context.Context, v, w float64) error
}

// A YawTracker is a Navigator whose goal controller can ignore the goal
// heading. Navigators without one always track it.
type YawTracker interface {
	SetYawTracking(ctx context.Context, on bool) error
}

// A Manipulator moves the arm and gripper.
type Manipulator interface {
	// EndEffectorPose is the gripper pose in the base frame.
	EndEffectorPose(ctx context.Context) (spatialmath.Pose, error)
	// GotoEndEffectorPose moves the gripper to a pose in the base frame.
	GotoEndEffectorPose(ctx context.Context, pose spatialmath.Pose) error
	// GotoJointPositions takes [base_x, lift, arm, wrist_yaw, wrist_pitch, wrist_roll].
	GotoJointPositions(ctx context.Context, joints []float64) error
	// MoveGripper sets the gripper opening.
	MoveGripper(ctx context.Context, width float64) error
	OpenGripper(ctx context.Context) error
	CloseGripper(ctx context.Context) error
}

// Frames is one capture of the head camera.
type Frames struct {
	RGB    image.Image
	Depth  []float64 // meters, row-major
	XYZ    []r3.Vector
	Width  int
	Height int
}

// A Head is the pan/tilt camera.
type Head interface {
	Images(ctx context.Context, computeXYZ bool) (Frames, error)
	// CameraPose is the camera pose in the world frame, or the base frame when inBase is set.
	CameraPose(ctx context.Context, inBase bool) (spatialmath.Pose, error)
}

// Robot is the whole Stretch.
type Robot interface {
	Nav() Navigator
	Manip() Manipulator
	Head() Head

	Mode() Mode
	SwitchToNavigationMode(ctx context.Context) error
	SwitchToManipulationMode(ctx context.Context) error

	MoveToNavPosture(ctx context.Context) error
	MoveToManipPosture(ctx context.Context) error
	MoveToPreDemoPosture(ctx context.Context) error

	// JointState is the full joint vector indexed by the Joint constants.
	JointState(ctx context.Context) ([]float64, error)
	// Wait blocks until the drivers have reported fresh state.
	Wait(ctx context.Context) error
	Close(ctx context.Context) error
}

// InNavigationMode reports whether r is in navigation mode.
func InNavigationMode(r Robot) bool { return r.Mode() == ModeNavigation }

// InManipulationMode reports whether r is in manipulation mode.
func InManipulationMode(r Robot) bool { return r.Mode() == ModeManipulation }
