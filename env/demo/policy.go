package demo

import (
	"context"

	"github.com/pkg/errors"

	"github.com/viam-labs/stretch-agent/action"
	"github.com/viam-labs/stretch-agent/agent"
	"github.com/viam-labs/stretch-agent/observation"
)

// A Policy proposes the next action of a replay: position, quaternion
// (x, y, z, w), gripper and progress. A nil action replays the demonstration.
type Policy interface {
	Act(ctx context.Context, obs *observation.Observations, progress float64) ([]float64, error)
}

// ReplayPolicy always defers to the demonstration.
type ReplayPolicy struct{}

// Act returns nil.
func (ReplayPolicy) Act(context.Context, *observation.Observations, float64) ([]float64, error) {
	return nil, nil
}

// PredictorPolicy executes the first waypoint an interaction predictor proposes.
type PredictorPolicy struct {
	Predictor agent.InteractionPredictor
}

// Act queries the predictor. An empty prediction defers to the demonstration.
func (p *PredictorPolicy) Act(ctx context.Context, obs *observation.Observations, progress float64) ([]float64, error) {
	pred, err := p.Predictor.Predict(ctx, obs)
	if err != nil {
		return nil, err
	}
	if pred == nil || len(pred.Actions) == 0 {
		return nil, nil
	}
	row := pred.Actions[0]
	if len(row) != action.WaypointWidth {
		return nil, errors.Errorf("waypoint has %d values, want %d", len(row), action.WaypointWidth)
	}
	return append(append(make([]float64, 0, ActionWidth), row...), progress), nil
}

// Outcome summarizes a replayed episode.
type Outcome struct {
	Demo   string
	Steps  int
	Reward float64
}

// Run resets env and steps it with policy until it is done or maxSteps is reached.
func Run(ctx context.Context, env *LiveEnv, policy Policy, maxSteps int) (Outcome, error) {
	obs, err := env.Reset(ctx)
	if err != nil {
		return Outcome{}, errors.Wrap(err, "resetting replay")
	}
	out := Outcome{Demo: env.Trajectory().Name}
	n := len(env.Trajectory().Q)
	for out.Steps < maxSteps {
		progress := float64(env.Timestep()+1) / float64(n)
		act, err := policy.Act(ctx, obs, progress)
		if err != nil {
			return out, errors.Wrapf(err, "step %d", out.Steps)
		}
		res, err := env.Step(ctx, act)
		if err != nil {
			return out, errors.Wrapf(err, "step %d", out.Steps)
		}
		out.Steps++
		obs = res.Obs
		if res.Done {
			out.Reward = res.Reward
			return out, nil
		}
	}
	return out, errors.Errorf("replay did not finish within %d steps", maxSteps)
}
