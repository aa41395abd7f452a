// Package viamrobot drives a Stretch assembled from Viam components: a base,
// an arm carrying the lift, telescoping arm and wrist, a gripper, and a
// vision service looking through the head camera.
package viamrobot

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/referenceframe"
	"go.viam.com/rdk/spatialmath"
	"go.viam.com/utils"

	"github.com/viam-labs/stretch-agent/geometry"
	"github.com/viam-labs/stretch-agent/robot"
)

// Base is the part of base.Base the adapter uses.
type Base interface {
	MoveStraight(ctx context.Context, distanceMm int, mmPerSec float64, extra map[string]interface{}) error
	Spin(ctx context.Context, angleDeg, degsPerSec float64, extra map[string]interface{}) error
	SetVelocity(ctx context.Context, linear, angular r3.Vector, extra map[string]interface{}) error
	Stop(ctx context.Context, extra map[string]interface{}) error
	IsMoving(ctx context.Context) (bool, error)
}

// Arm is the part of arm.Arm the adapter uses. Its joints are, in order,
// lift (mm), arm extension (mm), wrist yaw, pitch and roll (radians).
type Arm interface {
	EndPosition(ctx context.Context, extra map[string]interface{}) (spatialmath.Pose, error)
	MoveToPosition(ctx context.Context, pose spatialmath.Pose, extra map[string]interface{}) error
	MoveToJointPositions(ctx context.Context, positions []referenceframe.Input, extra map[string]interface{}) error
	JointPositions(ctx context.Context, extra map[string]interface{}) ([]referenceframe.Input, error)
	Stop(ctx context.Context, extra map[string]interface{}) error
	IsMoving(ctx context.Context) (bool, error)
}

// Gripper is the part of gripper.Gripper the adapter uses.
type Gripper interface {
	Open(ctx context.Context, extra map[string]interface{}) error
	Grab(ctx context.Context, extra map[string]interface{}) (bool, error)
	Stop(ctx context.Context, extra map[string]interface{}) error
}

const (
	numArmJoints   = 5
	baseXTolerance = 0.001 // meters
)

// Config parameterizes a Robot.
type Config struct {
	LinearSpeedMmPerSec    float64 `json:"linear_speed_mm_per_sec"`
	AngularSpeedDegsPerSec float64 `json:"angular_speed_degs_per_sec"`
	// Postures are arm joint vectors [lift, arm, wrist_yaw, wrist_pitch, wrist_roll] in meters and radians.
	NavPosture     []float64 `json:"nav_posture"`
	ManipPosture   []float64 `json:"manip_posture"`
	PreDemoPosture []float64 `json:"pre_demo_posture"`
	// GripperOpenWidth is reported as the gripper joint when open, meters.
	GripperOpenWidth float64 `json:"gripper_open_width"`
	PollInterval     time.Duration
}

// DefaultConfig returns speeds and postures for a Stretch RE1.
func DefaultConfig() Config {
	return Config{
		LinearSpeedMmPerSec:    250,
		AngularSpeedDegsPerSec: 45,
		NavPosture:             []float64{0.4, 0, 3.0, -0.3, 0},
		ManipPosture:           []float64{0.6, 0, 0, -0.3, 0},
		PreDemoPosture:         []float64{0.8, 0.05, 0, 0, 0},
		GripperOpenWidth:       0.1,
		PollInterval:           50 * time.Millisecond,
	}
}

// Robot implements robot.Robot over Viam components.
type Robot struct {
	cfg     Config
	logger  logging.Logger
	base    Base
	arm     Arm
	gripper Gripper
	nav     robot.Navigator
	head    robot.Head

	mu           sync.Mutex
	mode         robot.Mode
	gripperWidth float64
	// manipOrigin is the base pose at the last switch to manipulation mode;
	// base_x joint commands are measured from it.
	manipOrigin geometry.XYT
}

// Option customizes a Robot.
type Option func(*Robot)

// WithNavigator replaces dead-reckoning odometry, e.g. with a ROS goto controller.
func WithNavigator(nav robot.Navigator) Option {
	return func(r *Robot) { r.nav = nav }
}

// WithHead sets the camera.
func WithHead(head robot.Head) Option {
	return func(r *Robot) { r.head = head }
}

// NewRobot returns a robot over the given components.
func NewRobot(cfg Config, b Base, a Arm, g Gripper, logger logging.Logger, opts ...Option) *Robot {
	r := &Robot{cfg: cfg, logger: logger, base: b, arm: a, gripper: g, gripperWidth: cfg.GripperOpenWidth}
	for _, opt := range opts {
		opt(r)
	}
	if r.nav == nil {
		r.nav = NewOdometry(b, cfg.LinearSpeedMmPerSec, cfg.AngularSpeedDegsPerSec)
	}
	return r
}

// Nav implements robot.Robot.
func (r *Robot) Nav() robot.Navigator { return r.nav }

// Manip implements robot.Robot.
func (r *Robot) Manip() robot.Manipulator { return (*manip)(r) }

// Head implements robot.Robot.
func (r *Robot) Head() robot.Head { return r.head }

// Mode implements robot.Robot.
func (r *Robot) Mode() robot.Mode {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.mode
}

func (r *Robot) setMode(m robot.Mode) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = m
}

type modeSwitcher interface {
	SwitchToNavigationMode(ctx context.Context) error
	SwitchToManipulationMode(ctx context.Context) error
}

// SwitchToNavigationMode implements robot.Robot. A navigator with its own
// driver modes is switched too.
func (r *Robot) SwitchToNavigationMode(ctx context.Context) error {
	if ms, ok := r.nav.(modeSwitcher); ok {
		if err := ms.SwitchToNavigationMode(ctx); err != nil {
			return err
		}
	}
	r.setMode(robot.ModeNavigation)
	return nil
}

// SwitchToManipulationMode implements robot.Robot.
func (r *Robot) SwitchToManipulationMode(ctx context.Context) error {
	if ms, ok := r.nav.(modeSwitcher); ok {
		if err := ms.SwitchToManipulationMode(ctx); err != nil {
			return err
		}
	}
	origin, err := r.nav.BasePose(ctx)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.mode = robot.ModeManipulation
	r.manipOrigin = origin
	return nil
}

func (r *Robot) moveArm(ctx context.Context, posture []float64) error {
	if len(posture) != numArmJoints {
		return errors.Errorf("arm posture needs %d joints, got %d", numArmJoints, len(posture))
	}
	inputs := referenceframe.FloatsToInputs([]float64{
		posture[0] * 1000, posture[1] * 1000, posture[2], posture[3], posture[4],
	})
	return r.arm.MoveToJointPositions(ctx, inputs, nil)
}

// MoveToNavPosture implements robot.Robot.
func (r *Robot) MoveToNavPosture(ctx context.Context) error {
	if err := r.SwitchToNavigationMode(ctx); err != nil {
		return err
	}
	return errors.Wrap(r.moveArm(ctx, r.cfg.NavPosture), "moving to navigation posture")
}

// MoveToManipPosture implements robot.Robot.
func (r *Robot) MoveToManipPosture(ctx context.Context) error {
	if err := r.SwitchToManipulationMode(ctx); err != nil {
		return err
	}
	return errors.Wrap(r.moveArm(ctx, r.cfg.ManipPosture), "moving to manipulation posture")
}

// MoveToPreDemoPosture implements robot.Robot.
func (r *Robot) MoveToPreDemoPosture(ctx context.Context) error {
	if err := r.SwitchToManipulationMode(ctx); err != nil {
		return err
	}
	return errors.Wrap(r.moveArm(ctx, r.cfg.PreDemoPosture), "moving to pre-demo posture")
}

// JointState implements robot.Robot. Head joints are reported as zero.
func (r *Robot) JointState(ctx context.Context) ([]float64, error) {
	pose, err := r.nav.BasePose(ctx)
	if err != nil {
		return nil, err
	}
	inputs, err := r.arm.JointPositions(ctx, nil)
	if err != nil {
		return nil, errors.Wrap(err, "reading arm joints")
	}
	arm := referenceframe.InputsToFloats(inputs)
	if len(arm) < numArmJoints {
		return nil, errors.Errorf("arm reports %d joints, want %d", len(arm), numArmJoints)
	}
	q := make([]float64, robot.NumJoints)
	q[robot.BaseX], q[robot.BaseY], q[robot.BaseTheta] = pose.X, pose.Y, pose.Theta
	q[robot.Lift] = arm[0] / 1000
	q[robot.Arm] = arm[1] / 1000
	q[robot.WristYaw], q[robot.WristPitch], q[robot.WristRoll] = arm[2], arm[3], arm[4]
	r.mu.Lock()
	q[robot.Gripper] = r.gripperWidth
	r.mu.Unlock()
	return q, nil
}

// Wait implements robot.Robot by blocking until the base and arm are still.
func (r *Robot) Wait(ctx context.Context) error {
	for {
		baseMoving, err := r.base.IsMoving(ctx)
		if err != nil {
			return err
		}
		armMoving, err := r.arm.IsMoving(ctx)
		if err != nil {
			return err
		}
		if !baseMoving && !armMoving {
			return nil
		}
		if !utils.SelectContextOrWait(ctx, r.cfg.PollInterval) {
			return ctx.Err()
		}
	}
}

// Close stops every component.
func (r *Robot) Close(ctx context.Context) error {
	return multierr.Combine(
		r.base.Stop(ctx, nil),
		r.arm.Stop(ctx, nil),
		r.gripper.Stop(ctx, nil),
	)
}

type manip Robot

func (m *manip) EndEffectorPose(ctx context.Context) (spatialmath.Pose, error) {
	return m.arm.EndPosition(ctx, nil)
}

func (m *manip) GotoEndEffectorPose(ctx context.Context, pose spatialmath.Pose) error {
	return m.arm.MoveToPosition(ctx, pose, nil)
}

// GotoJointPositions drives base_x with the base and the rest with the arm.
// base_x is measured along the base heading from the manipulation origin.
func (m *manip) GotoJointPositions(ctx context.Context, joints []float64) error {
	if len(joints) != 6 {
		return errors.Errorf("reduced joint command needs 6 joints, got %d", len(joints))
	}
	pose, err := m.nav.BasePose(ctx)
	if err != nil {
		return err
	}
	m.mu.Lock()
	origin := m.manipOrigin
	m.mu.Unlock()
	delta := joints[0] - geometry.GlobalToBase(origin, pose).X
	if math.Abs(delta) > baseXTolerance {
		if err := m.nav.NavigateTo(ctx, geometry.XYT{X: delta}, true); err != nil {
			return err
		}
	}
	return (*Robot)(m).moveArm(ctx, joints[1:])
}

func (m *manip) MoveGripper(ctx context.Context, width float64) error {
	if width >= m.cfg.GripperOpenWidth {
		return m.OpenGripper(ctx)
	}
	return m.CloseGripper(ctx)
}

func (m *manip) OpenGripper(ctx context.Context) error {
	if err := m.gripper.Open(ctx, nil); err != nil {
		return err
	}
	m.mu.Lock()
	m.gripperWidth = m.cfg.GripperOpenWidth
	m.mu.Unlock()
	return nil
}

func (m *manip) CloseGripper(ctx context.Context) error {
	grabbed, err := m.gripper.Grab(ctx, nil)
	if err != nil {
		return err
	}
	m.logger.Debugw("gripper closed", "grabbed", grabbed)
	m.mu.Lock()
	m.gripperWidth = 0
	m.mu.Unlock()
	return nil
}
