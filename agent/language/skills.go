package language

import (
	"context"

	"github.com/pkg/errors"

	"github.com/viam-labs/stretch-agent/action"
	"github.com/viam-labs/stretch-agent/agent"
	"github.com/viam-labs/stretch-agent/geometry"
	"github.com/viam-labs/stretch-agent/observation"
)

// Skills lists the verbs the agent can run.
func (a *Agent) Skills() []string {
	out := make([]string, 0, len(a.skills))
	for verb := range a.skills {
		out = append(out, verb)
	}
	return out
}

func modeSwitchInfo(objects []string) *action.Info {
	return &action.Info{SkipVisualization: true, ObjectList: objects}
}

// gotoObject finds and approaches the step's objects.
func (a *Agent) gotoObject(
	ctx context.Context, objects []string, obs *observation.Observations,
) (action.Action, *action.Info, error) {
	if a.cfg.SkipFindObject {
		a.state = agent.Idle
		return action.Stop, &action.Info{}, nil
	}
	if !a.isBusy() {
		a.logger.Debugw("switching to navigation mode", "objects", objects)
		a.nav.Reset()
		a.mode = agent.Navigation
		a.state = agent.Prepping
		return action.NavigationMode, modeSwitchInfo(objects), nil
	}
	a.state = agent.DoingTask
	setGoals(obs, objects)
	act, viz, err := a.nav.Act(ctx, obs)
	if err != nil {
		return nil, nil, err
	}
	if act == action.Stop || a.cfg.DryRun {
		a.state = agent.Idle
	}
	return act, &action.Info{ObjectList: objects, Viz: viz}, nil
}

// pickUp grasps the object in front of the robot.
func (a *Agent) pickUp(
	_ context.Context, objects []string, _ *observation.Observations,
) (action.Action, *action.Info, error) {
	if a.state == agent.Idle || a.state == agent.NotStarted {
		a.logger.Debugw("switching to manipulation mode", "objects", objects)
		a.mode = agent.Manipulation
		a.state = agent.Prepping
		return action.ManipulationMode, modeSwitchInfo(objects), nil
	}
	a.state = agent.Idle
	return action.PickObject, &action.Info{ObjectList: objects}, nil
}

// placeOn puts the held object on the step's receptacle.
func (a *Agent) placeOn(
	ctx context.Context, objects []string, obs *observation.Observations,
) (action.Action, *action.Info, error) {
	if !a.isBusy() {
		a.place.Reset()
		a.mode = agent.Manipulation
		a.state = agent.Prepping
		return action.ManipulationMode, modeSwitchInfo(objects), nil
	}
	a.state = agent.DoingTask
	setPlaceGoals(obs, objects)
	act, info, err := a.place.Forward(ctx, obs)
	if err != nil {
		return nil, nil, err
	}
	if act == action.Stop {
		a.state = agent.Idle
	}
	return act, info, nil
}

// openObject opens an articulated object with the interaction predictor.
func (a *Agent) openObject(
	ctx context.Context, objects []string, obs *observation.Observations,
) (action.Action, *action.Info, error) {
	language, ok := a.cfg.Language["open_object"][objects[0]]
	if !ok {
		return nil, nil, errors.Errorf("no open_object language for %q", objects[0])
	}
	numActions, ok := a.cfg.TaskInformation[language]
	if !ok {
		return nil, nil, errors.Errorf("no task information for %q", language)
	}
	return a.callSLAP(ctx, language, numActions, obs, objects)
}

// callSLAP runs a predictor-driven skill in three calls: park the base in
// front of the predicted interaction point, switch to manipulation, then
// execute the predicted waypoints.
func (a *Agent) callSLAP(
	ctx context.Context, language string, numActions int, obs *observation.Observations, objects []string,
) (action.Action, *action.Info, error) {
	obs.Task.TaskName = language
	obs.Task.NumActions = numActions
	obs.Task.ObjectList = objects

	if !a.isBusy() || a.state == agent.Prepping {
		if a.state == agent.Prepping {
			a.state = agent.DoingTask
			return action.ManipulationMode, &action.Info{ObjectList: objects}, nil
		}
		a.logger.Debugw("locating interaction point", "task", language, "objects", objects)
		a.mode = agent.Navigation
		a.state = agent.Prepping
		pred, err := a.slap.Predict(ctx, obs)
		if err != nil {
			a.state = agent.Idle
			return nil, nil, err
		}
		target := &action.SLAPTarget{InteractionPoint: pred.InteractionPoint}
		for _, o := range objects {
			if off, ok := a.cfg.Offsets[o]; ok {
				target.HasOffset = true
				target.GlobalOffset = off.Direction
				target.OffsetDistance = off.Distance
				target.GlobalOrientation = off.Orientation
				break
			}
		}
		a.slap.Reset()
		// the interaction point projected onto the floor
		goal := geometry.XYT{X: pred.InteractionPoint.X, Y: pred.InteractionPoint.Y}
		return action.ContinuousNavigationAction{XYT: goal}, &action.Info{
			ObjectList:   objects,
			SLAP:         target,
			PointToPoint: pred.PointToPoint,
		}, nil
	}

	a.mode = agent.Manipulation
	pred, err := a.slap.Predict(ctx, obs)
	if err != nil {
		a.softReset()
		return nil, nil, err
	}
	info := &action.Info{
		ObjectList:   objects,
		SLAP:         &action.SLAPTarget{InteractionPoint: pred.InteractionPoint},
		PointToPoint: pred.PointToPoint,
	}
	if len(pred.Actions) == 0 {
		a.logger.Warnw("predictor returned no actions, ending skill", "task", language)
		a.softReset()
		return action.Stop, info, nil
	}
	act, err := action.NewEndEffectorAction(pred.Actions)
	if err != nil {
		a.softReset()
		return nil, nil, err
	}
	a.softReset()
	return act, info, nil
}
