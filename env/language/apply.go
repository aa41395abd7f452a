package language

import (
	"context"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/spatialmath"

	"github.com/viam-labs/stretch-agent/action"
	"github.com/viam-labs/stretch-agent/geometry"
	"github.com/viam-labs/stretch-agent/robot"
)

type gripperCommand int

const (
	gripperNone gripperCommand = iota
	gripperClose
	gripperOpen
)

// ApplyAction executes act on the robot. It reports done when the agent asked
// to stop.
func (e *Env) ApplyAction(ctx context.Context, act action.Action, info *action.Info) (bool, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	var (
		joints  []float64
		gripper gripperCommand
		base    *geometry.XYT
	)
	switch a := act.(type) {
	case action.DiscreteNavigationAction:
		switch a {
		case action.MoveForward:
			base = &geometry.XYT{X: e.cfg.ForwardStep}
		case action.TurnRight:
			base = &geometry.XYT{Theta: -e.cfg.RotateStep}
		case action.TurnLeft:
			base = &geometry.XYT{Theta: e.cfg.RotateStep}
		case action.Stop:
			return true, nil
		case action.ExtendArm:
			e.logger.Debug("extending arm")
			joints = robot.ExtendArmJoints(e.cfg.ArmLift, e.cfg.ArmExtension)
		case action.ManipulationMode:
			if err := e.setGoal(info); err != nil {
				return false, err
			}
			if !robot.InManipulationMode(e.robot) {
				if err := e.switchToManipMode(ctx); err != nil {
					return false, errors.Wrap(err, "switching to manipulation mode")
				}
				if err := e.sleep(ctx, e.cfg.ModeSettle); err != nil {
					return false, err
				}
			}
		case action.NavigationMode:
			if err := e.setGoal(info); err != nil {
				return false, err
			}
			if !robot.InNavigationMode(e.robot) {
				if err := e.switchToNavMode(ctx); err != nil {
					return false, errors.Wrap(err, "switching to navigation mode")
				}
			}
		case action.PickObject:
			if err := e.pick(ctx); err != nil {
				return false, err
			}
		case action.SnapObject:
			gripper = gripperClose
		case action.DesnapObject:
			gripper = gripperOpen
		default:
			e.logger.Warnw("action not supported by the language environment", "action", a)
		}
	case action.ContinuousNavigationAction:
		xyt := a.XYT
		base = &xyt
	case action.ContinuousFullBodyAction:
		joints = a.Joints
		xyt := a.XYT
		base = &xyt
	case action.ContinuousEndEffectorAction:
		if err := e.executeWaypoints(ctx, a, info); err != nil {
			return false, err
		}
	default:
		return false, errors.Errorf("unsupported action type %T", act)
	}

	if base != nil && !e.cfg.TestGrasping {
		if err := e.moveBase(ctx, *base, info); err != nil {
			return false, err
		}
	}
	if err := e.handleJoints(ctx, joints); err != nil {
		return false, err
	}
	if err := e.handleGripper(ctx, gripper); err != nil {
		return false, err
	}
	if e.viz != nil && info != nil && info.Viz != nil {
		if err := e.viz.Render(ctx, info.Viz); err != nil {
			e.logger.Warnw("failed to render visualization", "error", err)
		}
	}
	return false, nil
}

// moveBase sends the base to a relative goal, or to the parking pose of a
// SLAP target when info carries one.
func (e *Env) moveBase(ctx context.Context, xyt geometry.XYT, info *action.Info) error {
	if !robot.InNavigationMode(e.robot) {
		if err := e.robot.SwitchToNavigationMode(ctx); err != nil {
			return errors.Wrap(err, "switching to navigation mode")
		}
	}
	if e.cfg.DryRun {
		return nil
	}
	if info == nil || info.SLAP == nil {
		e.logger.Debugw("relative base goal", "goal", xyt)
		return e.robot.Nav().NavigateTo(ctx, xyt, true)
	}
	goal, err := e.slapGoal(ctx, info.SLAP)
	if err != nil {
		return err
	}
	e.logger.Debugw("global base goal", "goal", goal, "interaction_point", info.SLAP.InteractionPoint)
	// the parking heading matters as much as the position
	if yt, ok := e.robot.Nav().(robot.YawTracker); ok {
		if err := yt.SetYawTracking(ctx, true); err != nil {
			return errors.Wrap(err, "enabling yaw tracking")
		}
	}
	return e.robot.Nav().NavigateTo(ctx, goal, false)
}

// slapGoal is the global parking pose for an interaction point: the point
// pushed out along the object's offset direction, facing the object's
// heading. Without an offset the base drives up to the point facing it.
func (e *Env) slapGoal(ctx context.Context, target *action.SLAPTarget) (geometry.XYT, error) {
	pose, err := e.robot.Nav().BasePose(ctx)
	if err != nil {
		return geometry.XYT{}, errors.Wrap(err, "reading base pose")
	}
	e.showPoint(ctx, target.InteractionPoint, "base_link")
	global := geometry.PointToGlobal(pose, target.InteractionPoint)
	e.showPoint(ctx, global, "map")

	var goal geometry.XYT
	if target.HasOffset {
		desired := global.Add(target.GlobalOffset.Mul(target.OffsetDistance))
		goal = geometry.XYT{X: desired.X, Y: desired.Y, Theta: target.GlobalOrientation}
	} else {
		goal = geometry.XYT{X: global.X, Y: global.Y, Theta: geometry.HeadingTo(pose, global)}
	}
	if e.viz != nil {
		if err := e.viz.Poses(ctx, TopicGoal, []spatialmath.Pose{goal.Pose()}, "map"); err != nil {
			e.logger.Warnw("failed to show base goal", "error", err)
		}
	}
	return goal, nil
}

func (e *Env) showPoint(ctx context.Context, p r3.Vector, frame string) {
	if e.viz == nil {
		return
	}
	if err := e.viz.Point(ctx, TopicInteraction, p, frame); err != nil {
		e.logger.Warnw("failed to show interaction point", "error", err)
	}
}

// executeWaypoints shows the predicted trajectory and hands it to the skill
// executor.
func (e *Env) executeWaypoints(ctx context.Context, act action.ContinuousEndEffectorAction, info *action.Info) error {
	e.logger.Debugw("executing end-effector waypoints", "count", len(act.Waypoints))
	if info != nil && info.SLAP != nil {
		pose, err := e.robot.Nav().BasePose(ctx)
		if err != nil {
			return errors.Wrap(err, "reading base pose")
		}
		e.showPoint(ctx, geometry.PointToGlobal(pose, info.SLAP.InteractionPoint), "map")
	}
	if e.viz != nil {
		poses := make([]spatialmath.Pose, 0, len(act.Waypoints))
		for _, w := range act.Waypoints {
			poses = append(poses, w.Pose())
		}
		if err := e.viz.Poses(ctx, TopicActions, poses, "base_link"); err != nil {
			e.logger.Warnw("failed to show waypoints", "error", err)
		}
	}
	if e.skills == nil {
		return errors.New("no skill executor configured")
	}
	ok, err := e.skills.TryExecutingSkill(ctx, act.Waypoints)
	if err != nil {
		return errors.Wrap(err, "executing waypoints")
	}
	if !ok {
		e.logger.Warn("skill executor could not follow the waypoints")
	}
	return nil
}

func (e *Env) handleJoints(ctx context.Context, joints []float64) error {
	if joints == nil {
		return nil
	}
	if !robot.InManipulationMode(e.robot) {
		if err := e.robot.SwitchToManipulationMode(ctx); err != nil {
			return errors.Wrap(err, "switching to manipulation mode")
		}
	}
	return e.robot.Manip().GotoJointPositions(ctx, joints)
}

func (e *Env) handleGripper(ctx context.Context, cmd gripperCommand) error {
	switch cmd {
	case gripperClose:
		e.gripperClosed = true
		return e.robot.Manip().CloseGripper(ctx)
	case gripperOpen:
		e.gripperClosed = false
		return e.robot.Manip().OpenGripper(ctx)
	default:
		return nil
	}
}
