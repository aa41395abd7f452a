// Package heuristic provides hand-written stand-ins for the learned
// navigation and placement policies, for bench testing and as fallbacks.
package heuristic

import (
	"context"
	"math"

	"github.com/viam-labs/stretch-agent/action"
	"github.com/viam-labs/stretch-agent/observation"
)

// ObjectNavConfig tunes ObjectNav.
type ObjectNavConfig struct {
	// CenterBand is the fraction of the image width around the center in
	// which the goal counts as straight ahead.
	CenterBand float64 `json:"center_band"`
	// StopFraction is the fraction of the image the goal must fill to stop.
	StopFraction float64 `json:"stop_fraction"`
	// MaxSearchTurns bounds consecutive turns without seeing the goal.
	MaxSearchTurns int `json:"max_search_turns"`
	// MaxSteps bounds the length of one navigation skill.
	MaxSteps int `json:"max_steps"`
}

// DefaultObjectNavConfig returns the defaults: a 20% center band, stop at 15%
// coverage, one full turn of search at 30 degrees per step, 200 steps.
func DefaultObjectNavConfig() ObjectNavConfig {
	return ObjectNavConfig{CenterBand: 0.2, StopFraction: 0.15, MaxSearchTurns: 12, MaxSteps: 200}
}

// ObjectNav servos the base on the goal mask of each observation.
type ObjectNav struct {
	cfg         ObjectNavConfig
	steps       int
	searchTurns int
}

// NewObjectNav returns an ObjectNav.
func NewObjectNav(cfg ObjectNavConfig) *ObjectNav {
	return &ObjectNav{cfg: cfg}
}

// Act implements agent.ObjectNavigator.
func (n *ObjectNav) Act(_ context.Context, obs *observation.Observations) (action.Action, map[string]interface{}, error) {
	n.steps++
	mask := obs.Task.GoalMask
	if len(mask) == 0 {
		mask = obs.Task.GoalClassMask
	}
	count, centroid := observation.MaskStats(mask, obs.Width)
	viz := map[string]interface{}{"goal_pixels": count, "step": n.steps}
	if n.steps > n.cfg.MaxSteps {
		return action.Stop, viz, nil
	}
	if count == 0 {
		n.searchTurns++
		if n.searchTurns > n.cfg.MaxSearchTurns {
			return action.Stop, viz, nil
		}
		return action.TurnLeft, viz, nil
	}
	n.searchTurns = 0
	if pixels := obs.Pixels(); pixels > 0 && float64(count)/float64(pixels) >= n.cfg.StopFraction {
		return action.Stop, viz, nil
	}
	offset := centroid.X/float64(obs.Width) - 0.5
	viz["goal_offset"] = offset
	if math.Abs(offset) > n.cfg.CenterBand/2 {
		if offset < 0 {
			return action.TurnLeft, viz, nil
		}
		return action.TurnRight, viz, nil
	}
	return action.MoveForward, viz, nil
}

// Reset implements agent.ObjectNavigator.
func (n *ObjectNav) Reset() {
	n.steps = 0
	n.searchTurns = 0
}

// Place extends the arm over the receptacle, releases the object and stops.
type Place struct {
	step int
}

var placeSequence = []action.DiscreteNavigationAction{action.ExtendArm, action.DesnapObject, action.Stop}

// Forward implements agent.PlacePolicy.
func (p *Place) Forward(_ context.Context, obs *observation.Observations) (action.Action, *action.Info, error) {
	a := placeSequence[len(placeSequence)-1]
	if p.step < len(placeSequence) {
		a = placeSequence[p.step]
	}
	p.step++
	return a, &action.Info{ObjectList: []string{obs.Task.GoalName}}, nil
}

// Reset implements agent.PlacePolicy.
func (p *Place) Reset() {
	p.step = 0
}
