package language

import (
	"context"

	"github.com/pkg/errors"

	"github.com/viam-labs/stretch-agent/geometry"
	"github.com/viam-labs/stretch-agent/observation"
	"github.com/viam-labs/stretch-agent/perception/segmentation"
	"github.com/viam-labs/stretch-agent/robot"
)

// GetObservation reads the head camera, base pose and joint state and runs
// segmentation for the current goal.
func (e *Env) GetObservation(ctx context.Context) (*observation.Observations, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	frames, err := e.robot.Head().Images(ctx, true)
	if err != nil {
		return nil, errors.Wrap(err, "reading head images")
	}
	pose, err := e.robot.Nav().BasePose(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reading base pose")
	}
	gps, compass := geometry.Relative(e.episodeStart, pose)
	joints, err := e.robot.JointState(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "reading joint state")
	}
	cameraPose, err := e.robot.Head().CameraPose(ctx, false)
	if err != nil {
		return nil, errors.Wrap(err, "reading camera pose")
	}

	obs := &observation.Observations{
		RGB:                     frames.RGB,
		Depth:                   frames.Depth,
		XYZ:                     frames.XYZ,
		Width:                   frames.Width,
		Height:                  frames.Height,
		GPS:                     gps,
		Compass:                 compass,
		CameraPose:              cameraPose,
		Joint:                   joints,
		RelativeRestingPosition: restingPosition,
	}
	obs.Task.GoalName = e.currentGoalName
	if len(joints) > int(robot.Gripper) {
		obs.Task.GripperWidth = joints[robot.Gripper]
	}
	if e.gripperClosed {
		obs.Task.GripperState = 1
	}

	if e.segmenter != nil {
		if err := e.segmenter.Predict(ctx, obs); err != nil {
			return nil, errors.Wrap(err, "segmenting")
		}
		segmentation.RelabelBackground(obs.Semantic, len(e.goalOptions))
		obs.Task.GoalMask, obs.Task.GoalClassMask = segmentation.SelectGoalMasks(
			obs.Task.InstanceMap,
			obs.Task.InstanceScores,
			obs.Task.InstanceClasses,
			e.currentGoalID,
			e.cfg.MinDetectionThreshold,
		)
	}

	obs.Task.BaseCameraPose, err = e.robot.Head().CameraPose(ctx, true)
	if err != nil {
		return nil, errors.Wrap(err, "reading camera pose in base frame")
	}
	return obs, nil
}
