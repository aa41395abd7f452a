package language

import (
	"context"

	"github.com/pkg/errors"

	"github.com/viam-labs/stretch-agent/action"
	"github.com/viam-labs/stretch-agent/robot"
)

// WaypointExecutor follows waypoints one pose at a time, opening or closing
// the gripper after each according to its gripper value.
type WaypointExecutor struct {
	Manip robot.Manipulator
	// CloseAbove is the gripper value above which the gripper closes.
	CloseAbove float64
}

// TryExecutingSkill implements SkillExecutor.
func (w *WaypointExecutor) TryExecutingSkill(ctx context.Context, waypoints []action.Waypoint) (bool, error) {
	for i, wp := range waypoints {
		if err := w.Manip.GotoEndEffectorPose(ctx, wp.Pose()); err != nil {
			return false, errors.Wrapf(err, "moving to waypoint %d", i)
		}
		var err error
		if wp.Gripper > w.CloseAbove {
			err = w.Manip.CloseGripper(ctx)
		} else {
			err = w.Manip.OpenGripper(ctx)
		}
		if err != nil {
			return false, errors.Wrapf(err, "gripper at waypoint %d", i)
		}
	}
	return true, nil
}

// ReachGrasp grasps by reaching straight out with an open gripper, closing
// it, and retracting.
type ReachGrasp struct {
	Manip     robot.Manipulator
	Lift      float64
	Extension float64
}

// TryGrasping implements GraspPlanner.
func (g *ReachGrasp) TryGrasping(ctx context.Context, _, _ bool) (bool, error) {
	if err := g.Manip.OpenGripper(ctx); err != nil {
		return false, err
	}
	if err := g.Manip.GotoJointPositions(ctx, robot.ExtendArmJoints(g.Lift, g.Extension)); err != nil {
		return false, err
	}
	if err := g.Manip.CloseGripper(ctx); err != nil {
		return false, err
	}
	return true, g.Manip.GotoJointPositions(ctx, robot.ExtendArmJoints(g.Lift, 0))
}
