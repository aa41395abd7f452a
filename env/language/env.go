// Package language implements the environment the language agent acts in:
// it translates agent actions into robot commands and assembles observations
// from the robot's sensors.
package language

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/spatialmath"
	"go.viam.com/utils"

	"github.com/viam-labs/stretch-agent/action"
	"github.com/viam-labs/stretch-agent/geometry"
	"github.com/viam-labs/stretch-agent/perception/segmentation"
	"github.com/viam-labs/stretch-agent/robot"
)

// restingPosition is the end-effector resting position the policies are trained with.
var restingPosition = r3.Vector{X: 0.3878479, Y: 0.12924957, Z: 0.4224413}

// Config parameterizes an Env.
type Config struct {
	ForwardStep           float64 `json:"forward_step"` // meters
	RotateStep            float64 `json:"rotate_step"`  // radians
	MinDetectionThreshold float64 `json:"min_detection_threshold"`
	// ArmLift and ArmExtension are the joint targets of an extend-arm action, meters.
	ArmLift      float64 `json:"arm_lift"`
	ArmExtension float64 `json:"arm_extension"`
	// MaxGraspAttempts bounds the pick retries; 0 means DefaultMaxGraspAttempts.
	MaxGraspAttempts int `json:"max_grasp_attempts"`

	// DryRun skips base motion and grasping.
	DryRun bool `json:"dry_run"`
	// TestGrasping skips base motion and the manipulation-mode rotation.
	TestGrasping bool `json:"test_grasping"`
	// Debug asks the grasp planner to wait for operator input.
	Debug bool `json:"debug"`

	SensorWait    time.Duration `json:"-"`
	ModeSettle    time.Duration `json:"-"`
	PostureSettle time.Duration `json:"-"`
}

// DefaultMaxGraspAttempts is the pick retry bound.
const DefaultMaxGraspAttempts = 10

// DefaultConfig returns the settings used on the Stretch.
func DefaultConfig() Config {
	return Config{
		ForwardStep:           0.25,
		RotateStep:            math.Pi / 6,
		MinDetectionThreshold: 0.5,
		ArmLift:               0.8,
		ArmExtension:          0.3,
		MaxGraspAttempts:      DefaultMaxGraspAttempts,
		SensorWait:            500 * time.Millisecond,
		ModeSettle:            2 * time.Second,
		PostureSettle:         5 * time.Second,
	}
}

// A GraspPlanner grasps the object in front of the robot.
type GraspPlanner interface {
	TryGrasping(ctx context.Context, waitForInput, visualize bool) (bool, error)
}

// A SkillExecutor follows end-effector waypoints given in the base frame.
type SkillExecutor interface {
	TryExecutingSkill(ctx context.Context, waypoints []action.Waypoint) (bool, error)
}

// A Visualizer shows goals and predictions to an operator.
type Visualizer interface {
	Reset()
	// Point shows a point in the named frame ("map" or "base_link").
	Point(ctx context.Context, topic string, p r3.Vector, frame string) error
	// Poses shows poses in the named frame.
	Poses(ctx context.Context, topic string, poses []spatialmath.Pose, frame string) error
	// Render draws the agent's visualization payload.
	Render(ctx context.Context, viz map[string]interface{}) error
}

// Visualizer topics.
const (
	TopicInteraction = "interaction_point"
	TopicGoal        = "orientation_goal"
	TopicActions     = "slap_actions"
)

// Env is the language environment on a Stretch.
type Env struct {
	mu     sync.Mutex
	cfg    Config
	logger logging.Logger

	robot     robot.Robot
	segmenter segmentation.Segmenter
	grasp     GraspPlanner
	skills    SkillExecutor
	viz       Visualizer

	goalOptions     []string
	currentGoalID   int
	currentGoalName string
	episodeStart    geometry.XYT
	gripperClosed   bool
}

// NewEnv returns an environment driving r. The segmenter, grasp planner,
// skill executor and visualizer may be nil.
func NewEnv(
	cfg Config,
	r robot.Robot,
	segmenter segmentation.Segmenter,
	grasp GraspPlanner,
	skills SkillExecutor,
	viz Visualizer,
	logger logging.Logger,
) *Env {
	if cfg.MaxGraspAttempts <= 0 {
		cfg.MaxGraspAttempts = DefaultMaxGraspAttempts
	}
	return &Env{
		cfg:       cfg,
		logger:    logger,
		robot:     r,
		segmenter: segmenter,
		grasp:     grasp,
		skills:    skills,
		viz:       viz,
	}
}

// Goal returns the current goal class id and name.
func (e *Env) Goal() (int, string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentGoalID, e.currentGoalName
}

// Reset waits for fresh sensor data, records the episode start pose and puts
// the robot in its navigation posture.
func (e *Env) Reset(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !utils.SelectContextOrWait(ctx, e.cfg.SensorWait) {
		return ctx.Err()
	}
	if err := e.robot.Wait(ctx); err != nil {
		return errors.Wrap(err, "waiting for robot state")
	}
	start, err := e.robot.Nav().BasePose(ctx)
	if err != nil {
		return errors.Wrap(err, "reading episode start pose")
	}
	e.episodeStart = start
	if e.viz != nil {
		e.viz.Reset()
	}
	return e.robot.MoveToNavPosture(ctx)
}

// SetGoal points the segmenter at the objects of info. With two or more
// objects the goal is the second one, otherwise the first.
func (e *Env) SetGoal(info *action.Info) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.setGoal(info)
}

func (e *Env) setGoal(info *action.Info) error {
	if info == nil || len(info.ObjectList) == 0 {
		return errors.New("goal needs at least one object")
	}
	e.goalOptions = segmentation.GoalVocab(info.ObjectList)
	if e.segmenter != nil {
		e.segmenter.ResetVocab(e.goalOptions)
	}
	if len(info.ObjectList) > 1 {
		e.currentGoalID, e.currentGoalName = 2, info.ObjectList[1]
	} else {
		e.currentGoalID, e.currentGoalName = 1, info.ObjectList[0]
	}
	return nil
}

func (e *Env) sleep(ctx context.Context, d time.Duration) error {
	if !utils.SelectContextOrWait(ctx, d) {
		return ctx.Err()
	}
	return nil
}

func (e *Env) switchToManipMode(ctx context.Context) error {
	if !robot.InNavigationMode(e.robot) && !e.cfg.DryRun {
		if err := e.robot.SwitchToNavigationMode(ctx); err != nil {
			return err
		}
	}
	if e.cfg.DryRun || e.cfg.TestGrasping {
		return nil
	}
	e.logger.Debug("rotating robot for manipulation")
	if err := e.robot.Nav().NavigateTo(ctx, geometry.XYT{Theta: math.Pi / 2}, true); err != nil {
		return errors.Wrap(err, "rotating base")
	}
	if err := e.robot.MoveToManipPosture(ctx); err != nil {
		return err
	}
	return e.sleep(ctx, e.cfg.PostureSettle)
}

func (e *Env) switchToNavMode(ctx context.Context) error {
	if err := e.robot.MoveToNavPosture(ctx); err != nil {
		return err
	}
	e.logger.Debug("sending robot to the origin")
	return e.robot.Nav().NavigateTo(ctx, geometry.XYT{}, false)
}

func (e *Env) pick(ctx context.Context) error {
	if e.cfg.DryRun {
		return nil
	}
	if e.grasp == nil {
		return errors.New("no grasp planner configured")
	}
	for attempt := 1; attempt <= e.cfg.MaxGraspAttempts; attempt++ {
		ok, err := e.grasp.TryGrasping(ctx, e.cfg.Debug, e.cfg.TestGrasping)
		if err != nil {
			return errors.Wrap(err, "grasping")
		}
		if ok {
			return nil
		}
		e.logger.Infow("grasp failed, retrying", "attempt", attempt)
	}
	return errors.Errorf("grasp failed after %d attempts", e.cfg.MaxGraspAttempts)
}
