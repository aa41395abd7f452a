package slap

import (
	"context"

	"github.com/golang/geo/r3"

	"github.com/viam-labs/stretch-agent/agent"
	"github.com/viam-labs/stretch-agent/observation"
)

// DryRun predicts a fixed interaction point in front of the robot and a single
// open-gripper waypoint above it. It exercises the skill flow without a model.
type DryRun struct {
	Point r3.Vector
}

// NewDryRun returns a DryRun predictor with the point 0.6 m ahead at table height.
func NewDryRun() *DryRun {
	return &DryRun{Point: r3.Vector{X: 0.6, Z: 0.75}}
}

// Predict implements agent.InteractionPredictor.
func (d *DryRun) Predict(context.Context, *observation.Observations) (*agent.Prediction, error) {
	return &agent.Prediction{
		InteractionPoint: d.Point,
		Actions:          [][]float64{{d.Point.X, d.Point.Y, d.Point.Z + 0.1, 0, 0, 0, 1, 1}},
	}, nil
}

// Reset implements agent.InteractionPredictor.
func (d *DryRun) Reset() {}
