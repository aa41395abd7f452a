package slap

import (
	"context"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/ml"
	"go.viam.com/test"
	"gorgonia.org/tensor"

	"github.com/viam-labs/stretch-agent/observation"
)

type recordingModel struct {
	inputs []ml.Tensors
	out    ml.Tensors
	err    error
}

func (m *recordingModel) Infer(_ context.Context, in ml.Tensors) (ml.Tensors, error) {
	m.inputs = append(m.inputs, in)
	return m.out, m.err
}

func modelOutput(withActions bool) ml.Tensors {
	out := ml.Tensors{
		OutputPoint: tensor.New(tensor.WithShape(3), tensor.WithBacking([]float32{0.5, -0.25, 0.75})),
	}
	if withActions {
		out[OutputActions] = tensor.New(tensor.WithShape(2, 8), tensor.WithBacking([]float32{
			1, 2, 3, 0, 0, 0, 1, 0,
			4, 5, 6, 0, 0, 0, 1, 1,
		}))
	}
	return out
}

func testObs() *observation.Observations {
	obs := &observation.Observations{
		XYZ: []r3.Vector{{X: 1, Y: 2, Z: 3}, {}, {X: 4, Y: 5, Z: 6}},
	}
	obs.Task.TaskName = "open the drawer"
	obs.Task.NumActions = 4
	obs.Task.GripperWidth = 0.1
	obs.Task.GripperState = 1
	return obs
}

func TestSLAP(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)
	model := &recordingModel{out: modelOutput(true)}
	s := NewSLAP(model, Config{Tasks: []string{"close the drawer", "open the drawer"}}, logger)

	pred, err := s.Predict(ctx, testObs())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pred.InteractionPoint, test.ShouldResemble, r3.Vector{X: 0.5, Y: -0.25, Z: 0.75})
	test.That(t, pred.Actions, test.ShouldHaveLength, 2)
	test.That(t, pred.Actions[1], test.ShouldResemble, []float64{4, 5, 6, 0, 0, 0, 1, 1})
	test.That(t, pred.PointToPoint, test.ShouldBeFalse)

	in := model.inputs[0]
	test.That(t, in[InputPoints].Shape(), test.ShouldResemble, tensor.Shape{2, 3})
	test.That(t, in[InputTask].Data(), test.ShouldResemble, []int32{1})
	test.That(t, in[InputProprio].Data(), test.ShouldResemble, []float32{0.1, 1})

	model.out = modelOutput(false)
	pred, err = s.Predict(ctx, testObs())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pred.Actions, test.ShouldBeEmpty)

	model.err = errors.New("model crashed")
	_, err = s.Predict(ctx, testObs())
	test.That(t, err, test.ShouldNotBeNil)

	_, err = s.Predict(ctx, &observation.Observations{})
	test.That(t, errors.Is(err, ErrNoPoints), test.ShouldBeTrue)
}

func TestSLAPBadActions(t *testing.T) {
	out := modelOutput(false)
	out[OutputActions] = tensor.New(tensor.WithShape(5), tensor.WithBacking([]float32{1, 2, 3, 4, 5}))
	s := NewSLAP(&recordingModel{out: out}, Config{}, logging.NewTestLogger(t))
	_, err := s.Predict(context.Background(), testObs())
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPerAct(t *testing.T) {
	ctx := context.Background()
	model := &recordingModel{out: modelOutput(true)}
	p := NewPerAct(model, Config{}, logging.NewTestLogger(t))
	test.That(t, p.Step(), test.ShouldEqual, -1)

	first := testObs()
	pred, err := p.Predict(ctx, first)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pred.PointToPoint, test.ShouldBeTrue)
	test.That(t, p.Step(), test.ShouldEqual, 0)

	later := testObs()
	later.XYZ = []r3.Vector{{X: 9, Y: 9, Z: 9}}
	_, err = p.Predict(ctx, later)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p.Step(), test.ShouldEqual, 1)

	test.That(t, model.inputs[0][InputProprio].Data(), test.ShouldResemble, []float32{0.1, 1, -1})
	test.That(t, model.inputs[1][InputProprio].Data(), test.ShouldResemble, []float32{0.1, 1, -0.5})
	test.That(t, model.inputs[1][InputPoints], test.ShouldEqual, model.inputs[0][InputPoints])
	test.That(t, model.inputs[1][InputTask].Data(), test.ShouldResemble, []int32{-1})

	p.Reset()
	test.That(t, p.Step(), test.ShouldEqual, -1)
	_, err = p.Predict(ctx, later)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, model.inputs[2][InputPoints].Shape(), test.ShouldResemble, tensor.Shape{1, 3})
}

func TestDryRun(t *testing.T) {
	d := NewDryRun()
	pred, err := d.Predict(context.Background(), nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, pred.InteractionPoint, test.ShouldResemble, r3.Vector{X: 0.6, Z: 0.75})
	test.That(t, pred.Actions, test.ShouldHaveLength, 1)
}
