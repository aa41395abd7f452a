// Package demo replays recorded demonstrations on a Stretch: it starts the
// robot at the first pose of a demonstration and then executes end-effector
// actions predicted by a policy under operator supervision.
package demo

import (
	"context"
	"math"
	"math/rand"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/utils"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/num/quat"

	"github.com/viam-labs/stretch-agent/observation"
	"github.com/viam-labs/stretch-agent/robot"
)

// ActionWidth is the width of a policy action: gripper position (3),
// orientation quaternion x y z w (4), gripper (1), and task progress (1).
const ActionWidth = 9

var (
	// ExecTolerance is how close each joint must get to its goal.
	ExecTolerance = []float64{
		0.1, 0.1, 0.01,     // base x, y, theta
		0.001,              // lift
		0.01,               // arm
		0.01,               // gripper
		0.015, 0.05, 0.015, // wrist roll, pitch, yaw
		0.01, 0.01,         // head pan, tilt
	}
	// PerturbationLimits bound the random offset of a perturbed start pose.
	PerturbationLimits = []float64{0, 0, 0, 0.5, 0.1, 0, 0, 0, 0, 0.1, 0}
)

const interpolationSteps = 10

// Config parameterizes a LiveEnv.
type Config struct {
	// UseTrueAction executes the demonstrated joints instead of the policy's.
	UseTrueAction bool `json:"use_true_action"`
	// PerturbStartState randomizes the start pose within PerturbationLimits.
	PerturbStartState bool `json:"perturb_start_state"`
	// Seed seeds trajectory selection and perturbation.
	Seed int64 `json:"seed"`
	// MaxActionTime bounds the execution of one action.
	MaxActionTime time.Duration `json:"-"`
	// Settle is the wait between motion and the next observation.
	Settle time.Duration `json:"-"`
}

// DefaultConfig returns the replay settings.
func DefaultConfig() Config {
	return Config{MaxActionTime: 60 * time.Second, Settle: time.Second}
}

// StepResult is the outcome of one step.
type StepResult struct {
	Obs    *observation.Observations
	Reward float64
	Done   bool
	// DemoAction is the executed demonstration joint vector when true actions are used.
	DemoAction []float64
}

// LiveEnv replays demonstrations on a robot.
type LiveEnv struct {
	cfg      Config
	robot    robot.Robot
	ik       IK
	operator Operator
	clock    clock.Clock
	rng      *rand.Rand
	logger   logging.Logger

	trajs    []Trajectory
	current  *Trajectory
	timestep int
}

// NewLiveEnv returns an environment replaying trajs.
func NewLiveEnv(
	cfg Config, r robot.Robot, trajs []Trajectory, ik IK, operator Operator, clk clock.Clock, logger logging.Logger,
) (*LiveEnv, error) {
	if len(trajs) == 0 {
		return nil, errors.New("no demonstrations to replay")
	}
	if clk == nil {
		clk = clock.New()
	}
	if cfg.MaxActionTime <= 0 {
		cfg.MaxActionTime = DefaultConfig().MaxActionTime
	}
	return &LiveEnv{
		cfg:      cfg,
		robot:    r,
		ik:       ik,
		operator: operator,
		clock:    clk,
		//nolint:gosec
		rng:    rand.New(rand.NewSource(cfg.Seed)),
		logger: logger,
		trajs:  trajs,
	}, nil
}

// Trajectory returns the demonstration being replayed.
func (e *LiveEnv) Trajectory() *Trajectory { return e.current }

// Timestep is the index of the next demonstration step.
func (e *LiveEnv) Timestep() int { return e.timestep }

func (e *LiveEnv) gotoJoints(ctx context.Context, q []float64) error {
	if err := e.robot.Manip().GotoJointPositions(ctx, robot.ReducedJoints(q)); err != nil {
		return err
	}
	return e.robot.Manip().MoveGripper(ctx, q[robot.Gripper])
}

// Reset picks a demonstration, drives the robot to its first pose, and waits
// for the operator to accept it.
func (e *LiveEnv) Reset(ctx context.Context) (*observation.Observations, error) {
	if !robot.InManipulationMode(e.robot) {
		if err := e.robot.SwitchToManipulationMode(ctx); err != nil {
			return nil, err
		}
	}
	e.current = &e.trajs[e.rng.Intn(len(e.trajs))]
	e.timestep = 0
	pose := append([]float64(nil), e.current.Q[0]...)
	if e.cfg.PerturbStartState {
		for i, limit := range PerturbationLimits {
			pose[i] += (2*e.rng.Float64() - 1) * limit
		}
	}
	e.logger.Infow("replaying demonstration", "name", e.current.Name, "steps", len(e.current.Q))

	for {
		if err := e.gotoJoints(ctx, pose); err != nil {
			return nil, errors.Wrap(err, "moving to start pose")
		}
		if !utils.SelectContextOrWait(ctx, e.cfg.Settle) {
			return nil, ctx.Err()
		}
		retry, err := e.operator.ConfirmStart(ctx)
		if err != nil {
			return nil, err
		}
		if !retry {
			break
		}
	}
	return e.observe(ctx)
}

// Step executes a policy action.
func (e *LiveEnv) Step(ctx context.Context, act []float64) (StepResult, error) {
	if e.current == nil {
		return StepResult{}, errors.New("step before reset")
	}
	n := len(e.current.Q)
	done, _ := e.operator.StopOption(ctx)

	var goal []float64
	if act != nil && !done {
		if len(act) != ActionWidth {
			return StepResult{}, errors.Errorf("action has %d values, want %d", len(act), ActionWidth)
		}
		done = act[8] > (float64(n)-0.9)/float64(n)
		if done {
			e.logger.Infow("policy predicted done", "progress", act[8])
		}
		current, err := e.robot.JointState(ctx)
		if err != nil {
			return StepResult{}, err
		}
		pos := r3.Vector{X: act[0], Y: act[1], Z: act[2]}
		rot := quat.Number{Imag: act[3], Jmag: act[4], Kmag: act[5], Real: act[6]}
		if norm := quat.Abs(rot); norm > 0 {
			rot = quat.Scale(1/norm, rot)
		}
		q, ok, err := e.ik.Solve(ctx, pos, rot, current)
		if err != nil {
			return StepResult{}, errors.Wrap(err, "solving inverse kinematics")
		}
		if !ok {
			e.logger.Warnw("inverse kinematics failed, ending episode", "position", pos)
			done = true
		} else {
			q[robot.Gripper] = act[7]
			q[robot.HeadPan] = current[robot.HeadPan]
			q[robot.HeadTilt] = current[robot.HeadTilt]
			goal = q
		}
	}

	var result StepResult
	if e.cfg.UseTrueAction && e.timestep < n {
		goal = e.current.Q[e.timestep]
		result.DemoAction = goal
	}
	e.timestep++

	if !done && goal != nil {
		endEpisode, err := e.execute(ctx, goal)
		if err != nil {
			return StepResult{}, err
		}
		done = endEpisode
		if !utils.SelectContextOrWait(ctx, e.cfg.Settle) {
			return StepResult{}, ctx.Err()
		}
	}

	if e.cfg.UseTrueAction {
		done = done || e.timestep+1 >= n
	} else {
		done = done || e.timestep+1 > 2*n
	}

	obs, err := e.observe(ctx)
	if err != nil {
		return StepResult{}, err
	}
	result.Obs = obs
	result.Done = done
	if done {
		if result.Reward, err = e.operator.Reward(ctx); err != nil {
			return StepResult{}, err
		}
	}
	return result, nil
}

// execute moves towards goal until every joint is within tolerance or has
// stopped moving, the operator intervenes, or the action times out.
func (e *LiveEnv) execute(ctx context.Context, goal []float64) (bool, error) {
	start := e.clock.Now()
	var last, next, errs []float64
	for e.clock.Since(start) < e.cfg.MaxActionTime && (errs == nil || last == nil || !settled(errs, next, last)) {
		last = next
		var err error
		if next, errs, err = e.interpolate(ctx, goal); err != nil {
			return false, err
		}
		endEpisode, endAction := e.operator.StopOption(ctx)
		if endEpisode {
			return true, nil
		}
		if endAction {
			return false, nil
		}
	}
	return false, nil
}

// settled reports whether every joint is either within tolerance or no
// longer moving.
func settled(errs, next, last []float64) bool {
	for i, tol := range ExecTolerance {
		if errs[i] > tol && math.Abs(next[i]-last[i]) > tol/10 {
			return false
		}
	}
	return true
}

// interpolate steps through intermediate joint vectors when the goal is far,
// then commands the goal. It returns the reached joints and the absolute
// error per joint.
func (e *LiveEnv) interpolate(ctx context.Context, goal []float64) ([]float64, []float64, error) {
	orig, err := e.robot.JointState(ctx)
	if err != nil {
		return nil, nil, err
	}
	delta := make([]float64, len(goal))
	floats.SubTo(delta, goal, orig)
	floats.Scale(1/float64(interpolationSteps), delta)

	far := false
	for i, d := range delta {
		if math.Abs(d) > ExecTolerance[i] {
			far = true
			break
		}
	}
	if far {
		for step := 1; step < interpolationSteps; step++ {
			q := make([]float64, len(orig))
			floats.AddScaledTo(q, orig, float64(step), delta)
			if err := e.gotoJoints(ctx, q); err != nil {
				return nil, nil, err
			}
		}
	}
	if err := e.gotoJoints(ctx, goal); err != nil {
		return nil, nil, err
	}
	reached, err := e.robot.JointState(ctx)
	if err != nil {
		return nil, nil, err
	}
	errs := make([]float64, len(goal))
	floats.SubTo(errs, goal, reached)
	for i := range errs {
		errs[i] = math.Abs(errs[i])
	}
	return reached, errs, nil
}

func (e *LiveEnv) observe(ctx context.Context) (*observation.Observations, error) {
	frames, err := e.robot.Head().Images(ctx, true)
	if err != nil {
		return nil, errors.Wrap(err, "reading head images")
	}
	q, err := e.robot.JointState(ctx)
	if err != nil {
		return nil, err
	}
	obs := &observation.Observations{
		RGB:    frames.RGB,
		Depth:  frames.Depth,
		XYZ:    frames.XYZ,
		Width:  frames.Width,
		Height: frames.Height,
		Joint:  q,
	}
	obs.Task.NumActions = len(e.current.Q)
	obs.Task.GripperWidth = q[robot.Gripper]
	return obs, nil
}
