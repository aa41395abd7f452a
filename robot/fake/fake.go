// Package fake implements an in-memory Stretch that records every command.
package fake

import (
	"context"
	"fmt"
	"sync"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"

	"github.com/viam-labs/stretch-agent/geometry"
	"github.com/viam-labs/stretch-agent/robot"
)

const headHeightMm = 1300

// Robot is a fake robot. Base goals are reached instantly and joint
// commands are applied verbatim.
type Robot struct {
	mu sync.Mutex

	mode   robot.Mode
	pose   geometry.XYT
	joints []float64
	ee     spatialmath.Pose
	frames robot.Frames

	// Calls lists every command in order, e.g. "navigate_to(1.00,0.00,0.00,relative)".
	Calls []string
	// NavigateErr, when set, is returned by NavigateTo.
	NavigateErr error
	CloseCount  int
}

// NewRobot returns a fake robot at the origin in an unknown mode.
func NewRobot() *Robot {
	return &Robot{
		joints: make([]float64, robot.NumJoints),
		ee:     spatialmath.NewZeroPose(),
	}
}

func (r *Robot) record(format string, args ...interface{}) {
	r.Calls = append(r.Calls, fmt.Sprintf(format, args...))
}

// CallLog returns a copy of the recorded commands.
func (r *Robot) CallLog() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.Calls...)
}

// SetPose teleports the base.
func (r *Robot) SetPose(p geometry.XYT) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pose = p
}

// SetFrames sets what the head camera returns.
func (r *Robot) SetFrames(f robot.Frames) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.frames = f
}

// SetJoints sets the full joint vector.
func (r *Robot) SetJoints(q []float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.joints = append([]float64(nil), q...)
}

// Nav returns the base.
func (r *Robot) Nav() robot.Navigator { return (*nav)(r) }

// Manip returns the arm.
func (r *Robot) Manip() robot.Manipulator { return (*manip)(r) }

// Head returns the camera.
func (r *Robot) Head() robot.Head { return (*head)(r) }

// Mode returns the current mode.
func (r *Robot) Mode() robot.Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

// SwitchToNavigationMode records the switch.
func (r *Robot) SwitchToNavigationMode(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = robot.ModeNavigation
	r.record("switch_to_navigation_mode")
	return nil
}

// SwitchToManipulationMode records the switch.
func (r *Robot) SwitchToManipulationMode(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = robot.ModeManipulation
	r.record("switch_to_manipulation_mode")
	return nil
}

// MoveToNavPosture records the posture change.
func (r *Robot) MoveToNavPosture(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = robot.ModeNavigation
	r.record("nav_posture")
	return nil
}

// MoveToManipPosture records the posture change.
func (r *Robot) MoveToManipPosture(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = robot.ModeManipulation
	r.record("manip_posture")
	return nil
}

// MoveToPreDemoPosture records the posture change.
func (r *Robot) MoveToPreDemoPosture(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = robot.ModeManipulation
	r.record("pre_demo_posture")
	return nil
}

// JointState returns the joint vector with the base joints taken from the pose.
func (r *Robot) JointState(ctx context.Context) ([]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	q := append([]float64(nil), r.joints...)
	q[robot.BaseX], q[robot.BaseY], q[robot.BaseTheta] = r.pose.X, r.pose.Y, r.pose.Theta
	return q, nil
}

// Wait does nothing.
func (r *Robot) Wait(ctx context.Context) error {
	return nil
}

// Close counts closes.
func (r *Robot) Close(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.CloseCount++
	return nil
}

type nav Robot

func (n *nav) BasePose(ctx context.Context) (geometry.XYT, error) {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.pose, nil
}

func (n *nav) NavigateTo(ctx context.Context, xyt geometry.XYT, relative bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	frame := "absolute"
	if relative {
		frame = "relative"
	}
	(*Robot)(n).record("navigate_to(%.2f,%.2f,%.2f,%s)", xyt.X, xyt.Y, xyt.Theta, frame)
	if n.NavigateErr != nil {
		return n.NavigateErr
	}
	if relative {
		n.pose = geometry.BaseToGlobal(n.pose, xyt)
	} else {
		n.pose = xyt
	}
	return nil
}

func (n *nav) SetVelocity(ctx context.Context, v, w float64) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	(*Robot)(n).record("set_velocity(%.2f,%.2f)", v, w)
	return nil
}

func (n *nav) SetYawTracking(ctx context.Context, on bool) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	(*Robot)(n).record("set_yaw_tracking(%t)", on)
	return nil
}

type manip Robot

func (m *manip) EndEffectorPose(ctx context.Context) (spatialmath.Pose, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.ee, nil
}

func (m *manip) GotoEndEffectorPose(ctx context.Context, pose spatialmath.Pose) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	pt := pose.Point()
	(*Robot)(m).record("goto_ee(%.0f,%.0f,%.0f)", pt.X, pt.Y, pt.Z)
	m.ee = pose
	return nil
}

func (m *manip) GotoJointPositions(ctx context.Context, joints []float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	(*Robot)(m).record("goto_joints(%v)", joints)
	if len(joints) == 6 {
		m.joints[robot.Lift] = joints[1]
		m.joints[robot.Arm] = joints[2]
		m.joints[robot.WristYaw] = joints[3]
		m.joints[robot.WristPitch] = joints[4]
		m.joints[robot.WristRoll] = joints[5]
	}
	return nil
}

func (m *manip) MoveGripper(ctx context.Context, width float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	(*Robot)(m).record("move_gripper(%.2f)", width)
	m.joints[robot.Gripper] = width
	return nil
}

func (m *manip) OpenGripper(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	(*Robot)(m).record("open_gripper")
	return nil
}

func (m *manip) CloseGripper(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	(*Robot)(m).record("close_gripper")
	return nil
}

type head Robot

func (h *head) Images(ctx context.Context, computeXYZ bool) (robot.Frames, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.frames, nil
}

func (h *head) CameraPose(ctx context.Context, inBase bool) (spatialmath.Pose, error) {
	return spatialmath.NewPoseFromPoint(r3.Vector{Z: headHeightMm}), nil
}
