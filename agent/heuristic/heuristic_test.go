package heuristic

import (
	"context"
	"testing"

	"go.viam.com/test"

	"github.com/viam-labs/stretch-agent/action"
	"github.com/viam-labs/stretch-agent/observation"
)

// maskObs returns a 10x10 observation with the goal covering columns [x0, x1) of rows [y0, y1).
func maskObs(x0, x1, y0, y1 int) *observation.Observations {
	obs := &observation.Observations{Width: 10, Height: 10}
	obs.Task.GoalMask = make([]bool, 100)
	for y := y0; y < y1; y++ {
		for x := x0; x < x1; x++ {
			obs.Task.GoalMask[y*10+x] = true
		}
	}
	return obs
}

func TestObjectNav(t *testing.T) {
	ctx := context.Background()
	nav := NewObjectNav(DefaultObjectNavConfig())

	for _, tc := range []struct {
		name string
		obs  *observation.Observations
		want action.Action
	}{
		{"nothing in view", maskObs(0, 0, 0, 0), action.TurnLeft},
		{"goal on the left", maskObs(0, 2, 4, 6), action.TurnLeft},
		{"goal on the right", maskObs(8, 10, 4, 6), action.TurnRight},
		{"goal ahead and far", maskObs(4, 6, 4, 6), action.MoveForward},
		{"goal ahead and close", maskObs(3, 7, 3, 7), action.Stop},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, viz, err := nav.Act(ctx, tc.obs)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, got, test.ShouldEqual, tc.want)
			test.That(t, viz, test.ShouldContainKey, "goal_pixels")
		})
	}
}

func TestObjectNavGivesUp(t *testing.T) {
	ctx := context.Background()
	cfg := DefaultObjectNavConfig()
	cfg.MaxSearchTurns = 2
	nav := NewObjectNav(cfg)
	empty := maskObs(0, 0, 0, 0)
	for i := 0; i < 2; i++ {
		got, _, err := nav.Act(ctx, empty)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, got, test.ShouldEqual, action.TurnLeft)
	}
	got, _, err := nav.Act(ctx, empty)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldEqual, action.Stop)

	nav.Reset()
	got, _, err = nav.Act(ctx, empty)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldEqual, action.TurnLeft)

	cfg.MaxSteps = 1
	nav = NewObjectNav(cfg)
	_, _, err = nav.Act(ctx, maskObs(4, 6, 4, 6))
	test.That(t, err, test.ShouldBeNil)
	got, _, err = nav.Act(ctx, maskObs(4, 6, 4, 6))
	test.That(t, err, test.ShouldBeNil)
	test.That(t, got, test.ShouldEqual, action.Stop)
}

func TestPlace(t *testing.T) {
	ctx := context.Background()
	p := &Place{}
	obs := &observation.Observations{}
	obs.Task.GoalName = "table"
	var got []action.Action
	for i := 0; i < 4; i++ {
		a, info, err := p.Forward(ctx, obs)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, info.ObjectList, test.ShouldResemble, []string{"table"})
		got = append(got, a)
	}
	test.That(t, got, test.ShouldResemble, []action.Action{action.ExtendArm, action.DesnapObject, action.Stop, action.Stop})
	p.Reset()
	a, _, err := p.Forward(ctx, obs)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, a, test.ShouldEqual, action.ExtendArm)
}
