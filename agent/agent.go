// Package agent defines the task state machine vocabulary shared by the task
// agents, and the interfaces of the learned policies they delegate to.
package agent

import (
	"context"

	"github.com/golang/geo/r3"

	"github.com/viam-labs/stretch-agent/action"
	"github.com/viam-labs/stretch-agent/observation"
)

// TaskState is the progress of the current skill.
type TaskState uint8

// Task states. A skill moves NotStarted/Idle -> Prepping -> DoingTask -> Idle.
const (
	NotStarted TaskState = iota
	Idle
	Prepping
	DoingTask
)

func (s TaskState) String() string {
	switch s {
	case NotStarted:
		return "not_started"
	case Idle:
		return "idle"
	case Prepping:
		return "prepping"
	case DoingTask:
		return "doing_task"
	default:
		return "unknown"
	}
}

// Mode is the robot operating mode a skill needs.
type Mode uint8

// Operating modes.
const (
	Navigation Mode = iota
	Manipulation
)

func (m Mode) String() string {
	if m == Manipulation {
		return "manipulation"
	}
	return "navigation"
}

// An ObjectNavigator drives the base towards the goal set in the observation.
type ObjectNavigator interface {
	Act(ctx context.Context, obs *observation.Observations) (action.Action, map[string]interface{}, error)
	Reset()
}

// A PlacePolicy places the held object on the goal receptacle.
type PlacePolicy interface {
	Forward(ctx context.Context, obs *observation.Observations) (action.Action, *action.Info, error)
	Reset()
}

// Prediction is the output of an interaction predictor.
type Prediction struct {
	// InteractionPoint is where the task happens, base frame, meters.
	InteractionPoint r3.Vector
	// Actions are end-effector waypoints as rows of [x y z qx qy qz qw gripper];
	// empty when the model produced nothing usable.
	Actions [][]float64
	// PointToPoint marks predictions that are poses to move to directly.
	PointToPoint bool
}

// An InteractionPredictor is a learned model that locates where a language
// task should happen and which end-effector waypoints accomplish it.
type InteractionPredictor interface {
	Predict(ctx context.Context, obs *observation.Observations) (*Prediction, error)
	Reset()
}
