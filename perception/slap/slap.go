// Package slap calls interaction-point and waypoint models served through a
// Viam ML model service.
package slap

import (
	"context"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"github.com/samber/lo"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/ml"
	"gorgonia.org/tensor"

	"github.com/viam-labs/stretch-agent/action"
	"github.com/viam-labs/stretch-agent/agent"
	"github.com/viam-labs/stretch-agent/observation"
)

// Tensor names exchanged with the model.
const (
	InputPoints   = "points"
	InputProprio  = "proprio"
	InputTask     = "task"
	OutputPoint   = "interaction_point"
	OutputActions = "actions"
)

// ErrNoPoints is returned when the observation carries no point cloud.
var ErrNoPoints = errors.New("observation has no points")

// A Model runs inference. mlmodel.Service satisfies it.
type Model interface {
	Infer(ctx context.Context, tensors ml.Tensors) (ml.Tensors, error)
}

// Config parameterizes the predictors.
type Config struct {
	// Tasks lists the task languages the model was trained on; the position
	// of the current task is fed to the model.
	Tasks []string `json:"tasks"`
	// MaxPoints caps the points sent to the model; 0 sends all of them.
	MaxPoints int `json:"max_points"`
}

// SLAP predicts an interaction point and a full waypoint trajectory per call.
type SLAP struct {
	model  Model
	cfg    Config
	logger logging.Logger
}

// NewSLAP returns a SLAP predictor.
func NewSLAP(model Model, cfg Config, logger logging.Logger) *SLAP {
	return &SLAP{model: model, cfg: cfg, logger: logger}
}

// Predict implements agent.InteractionPredictor.
func (s *SLAP) Predict(ctx context.Context, obs *observation.Observations) (*agent.Prediction, error) {
	points, err := pointsTensor(obs, s.cfg.MaxPoints)
	if err != nil {
		return nil, err
	}
	in := ml.Tensors{
		InputPoints:  points,
		InputProprio: vectorTensor(float32(obs.Task.GripperWidth), float32(obs.Task.GripperState)),
		InputTask:    taskTensor(s.cfg.Tasks, obs.Task.TaskName),
	}
	return infer(ctx, s.model, in, s.logger)
}

// Reset implements agent.InteractionPredictor.
func (s *SLAP) Reset() {}

// PerAct predicts one waypoint per call, indexed by time. The point cloud of
// the first call after a reset is reused for the rest of the task.
type PerAct struct {
	mu     sync.Mutex
	model  Model
	cfg    Config
	logger logging.Logger

	t      int
	points *tensor.Dense
}

// NewPerAct returns a PerAct predictor.
func NewPerAct(model Model, cfg Config, logger logging.Logger) *PerAct {
	return &PerAct{model: model, cfg: cfg, logger: logger, t: -1}
}

// Predict implements agent.InteractionPredictor.
func (p *PerAct) Predict(ctx context.Context, obs *observation.Observations) (*agent.Prediction, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.points == nil {
		points, err := pointsTensor(obs, p.cfg.MaxPoints)
		if err != nil {
			return nil, err
		}
		p.points = points
	}
	p.t++
	numActions := obs.Task.NumActions
	if numActions <= 0 {
		numActions = 1
	}
	timeIndex := 2*float32(p.t)/float32(numActions) - 1
	in := ml.Tensors{
		InputPoints:  p.points,
		InputProprio: vectorTensor(float32(obs.Task.GripperWidth), float32(obs.Task.GripperState), timeIndex),
		InputTask:    taskTensor(p.cfg.Tasks, obs.Task.TaskName),
	}
	pred, err := infer(ctx, p.model, in, p.logger)
	if err != nil {
		return nil, err
	}
	pred.PointToPoint = true
	return pred, nil
}

// Step is the time index of the last prediction, -1 before the first.
func (p *PerAct) Step() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.t
}

// Reset implements agent.InteractionPredictor.
func (p *PerAct) Reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.t = -1
	p.points = nil
}

func infer(ctx context.Context, model Model, in ml.Tensors, logger logging.Logger) (*agent.Prediction, error) {
	out, err := model.Infer(ctx, in)
	if err != nil {
		return nil, errors.Wrap(err, "running interaction model")
	}
	pointT, ok := out[OutputPoint]
	if !ok {
		return nil, errors.Errorf("model output has no %q tensor", OutputPoint)
	}
	point, err := floats(pointT.Data())
	if err != nil {
		return nil, err
	}
	if len(point) < 3 {
		return nil, errors.Errorf("%q has %d values, want 3", OutputPoint, len(point))
	}
	pred := &agent.Prediction{InteractionPoint: r3.Vector{X: point[0], Y: point[1], Z: point[2]}}

	actionsT, ok := out[OutputActions]
	if !ok {
		logger.Debugw("model returned no actions", "interaction_point", pred.InteractionPoint)
		return pred, nil
	}
	flat, err := floats(actionsT.Data())
	if err != nil {
		return nil, err
	}
	if len(flat)%action.WaypointWidth != 0 {
		return nil, errors.Errorf("%q has %d values, not a multiple of %d", OutputActions, len(flat), action.WaypointWidth)
	}
	pred.Actions = lo.Chunk(flat, action.WaypointWidth)
	return pred, nil
}

func pointsTensor(obs *observation.Observations, maxPoints int) (*tensor.Dense, error) {
	pts := lo.Filter(obs.XYZ, func(p r3.Vector, _ int) bool { return p != (r3.Vector{}) })
	if len(pts) == 0 {
		return nil, ErrNoPoints
	}
	if maxPoints > 0 && len(pts) > maxPoints {
		stride := (len(pts) + maxPoints - 1) / maxPoints
		pts = lo.Filter(pts, func(_ r3.Vector, i int) bool { return i%stride == 0 })
	}
	backing := make([]float32, 0, 3*len(pts))
	for _, p := range pts {
		backing = append(backing, float32(p.X), float32(p.Y), float32(p.Z))
	}
	return tensor.New(tensor.WithShape(len(pts), 3), tensor.WithBacking(backing)), nil
}

func vectorTensor(vals ...float32) *tensor.Dense {
	return tensor.New(tensor.WithShape(len(vals)), tensor.WithBacking(vals))
}

func taskTensor(tasks []string, task string) *tensor.Dense {
	_, idx, ok := lo.FindIndexOf(tasks, func(t string) bool { return t == task })
	if !ok {
		idx = -1
	}
	return tensor.New(tensor.WithShape(1), tensor.WithBacking([]int32{int32(idx)}))
}

func floats(data interface{}) ([]float64, error) {
	switch v := data.(type) {
	case []float64:
		return v, nil
	case []float32:
		out := make([]float64, len(v))
		for i, f := range v {
			out[i] = float64(f)
		}
		return out, nil
	case float64:
		return []float64{v}, nil
	case float32:
		return []float64{float64(v)}, nil
	default:
		return nil, errors.Errorf("unsupported tensor data type %T", data)
	}
}
