package language

import (
	"context"
	"math"
	"testing"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/spatialmath"
	"go.viam.com/test"

	"github.com/viam-labs/stretch-agent/action"
	"github.com/viam-labs/stretch-agent/geometry"
	"github.com/viam-labs/stretch-agent/observation"
	"github.com/viam-labs/stretch-agent/robot"
	"github.com/viam-labs/stretch-agent/robot/fake"
)

type flakyGrasp struct {
	failures int
	calls    int
}

func (g *flakyGrasp) TryGrasping(context.Context, bool, bool) (bool, error) {
	g.calls++
	return g.calls > g.failures, nil
}

type recordingViz struct {
	points  []string
	poses   map[string]int
	renders int
	resets  int
}

func (v *recordingViz) Reset() { v.resets++ }

func (v *recordingViz) Point(_ context.Context, topic string, _ r3.Vector, frame string) error {
	v.points = append(v.points, topic+"@"+frame)
	return nil
}

func (v *recordingViz) Poses(_ context.Context, topic string, poses []spatialmath.Pose, _ string) error {
	if v.poses == nil {
		v.poses = map[string]int{}
	}
	v.poses[topic] += len(poses)
	return nil
}

func (v *recordingViz) Render(context.Context, map[string]interface{}) error {
	v.renders++
	return nil
}

type staticSegmenter struct {
	vocab []string
	fill  func(obs *observation.Observations)
}

func (s *staticSegmenter) ResetVocab(vocab []string) { s.vocab = vocab }

func (s *staticSegmenter) Predict(_ context.Context, obs *observation.Observations) error {
	s.fill(obs)
	return nil
}

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.SensorWait, cfg.ModeSettle, cfg.PostureSettle = 0, 0, 0
	return cfg
}

func newTestEnv(t *testing.T, cfg Config) (*Env, *fake.Robot, *recordingViz) {
	t.Helper()
	r := fake.NewRobot()
	viz := &recordingViz{}
	env := NewEnv(cfg, r, nil, &flakyGrasp{}, &WaypointExecutor{Manip: r.Manip(), CloseAbove: 0.5}, viz, logging.NewTestLogger(t))
	test.That(t, env.Reset(context.Background()), test.ShouldBeNil)
	return env, r, viz
}

func TestResetAndDiscreteMotion(t *testing.T) {
	ctx := context.Background()
	env, r, viz := newTestEnv(t, testConfig())
	test.That(t, viz.resets, test.ShouldEqual, 1)
	test.That(t, r.Mode(), test.ShouldEqual, robot.ModeNavigation)

	done, err := env.ApplyAction(ctx, action.MoveForward, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, done, test.ShouldBeFalse)
	_, err = env.ApplyAction(ctx, action.TurnLeft, nil)
	test.That(t, err, test.ShouldBeNil)
	_, err = env.ApplyAction(ctx, action.TurnRight, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, r.CallLog(), test.ShouldResemble, []string{
		"nav_posture",
		"navigate_to(0.25,0.00,0.00,relative)",
		"navigate_to(0.00,0.00,0.52,relative)",
		"navigate_to(0.00,0.00,-0.52,relative)",
	})

	done, err = env.ApplyAction(ctx, action.Stop, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, done, test.ShouldBeTrue)

	_, err = env.ApplyAction(ctx, action.EmptyAction, nil)
	test.That(t, err, test.ShouldBeNil)
}

func TestModeSwitches(t *testing.T) {
	ctx := context.Background()
	env, r, _ := newTestEnv(t, testConfig())

	_, err := env.ApplyAction(ctx, action.ManipulationMode, nil)
	test.That(t, err, test.ShouldNotBeNil)

	_, err = env.ApplyAction(ctx, action.ManipulationMode, &action.Info{ObjectList: []string{"drawer"}})
	test.That(t, err, test.ShouldBeNil)
	id, name := env.Goal()
	test.That(t, id, test.ShouldEqual, 1)
	test.That(t, name, test.ShouldEqual, "drawer")
	test.That(t, r.Mode(), test.ShouldEqual, robot.ModeManipulation)

	// already in manipulation mode
	_, err = env.ApplyAction(ctx, action.ManipulationMode, &action.Info{ObjectList: []string{"drawer"}})
	test.That(t, err, test.ShouldBeNil)

	_, err = env.ApplyAction(ctx, action.NavigationMode, &action.Info{ObjectList: []string{"table", "cup"}})
	test.That(t, err, test.ShouldBeNil)
	id, name = env.Goal()
	test.That(t, id, test.ShouldEqual, 2)
	test.That(t, name, test.ShouldEqual, "cup")

	test.That(t, r.CallLog(), test.ShouldResemble, []string{
		"nav_posture",
		"navigate_to(0.00,0.00,1.57,relative)",
		"manip_posture",
		"nav_posture",
		"navigate_to(0.00,0.00,0.00,absolute)",
	})
}

func TestSLAPNavigation(t *testing.T) {
	ctx := context.Background()
	env, r, viz := newTestEnv(t, testConfig())
	r.SetPose(geometry.XYT{X: 1, Theta: math.Pi / 2})

	target := &action.SLAPTarget{
		InteractionPoint:  r3.Vector{X: 1, Z: 0.5},
		HasOffset:         true,
		GlobalOffset:      r3.Vector{Y: 1},
		OffsetDistance:    0.8,
		GlobalOrientation: -math.Pi / 2,
	}
	nav := action.ContinuousNavigationAction{XYT: geometry.XYT{X: 1}}
	_, err := env.ApplyAction(ctx, nav, &action.Info{ObjectList: []string{"drawer"}, SLAP: target})
	test.That(t, err, test.ShouldBeNil)

	r.SetPose(geometry.XYT{X: 1, Theta: math.Pi / 2})
	_, err = env.ApplyAction(ctx, nav, &action.Info{SLAP: &action.SLAPTarget{InteractionPoint: r3.Vector{X: 1}}})
	test.That(t, err, test.ShouldBeNil)

	calls := r.CallLog()
	test.That(t, calls[1:], test.ShouldResemble, []string{
		"set_yaw_tracking(true)",
		"navigate_to(1.00,1.80,-1.57,absolute)",
		"set_yaw_tracking(true)",
		"navigate_to(1.00,1.00,1.57,absolute)",
	})
	test.That(t, viz.points, test.ShouldResemble, []string{
		"interaction_point@base_link", "interaction_point@map",
		"interaction_point@base_link", "interaction_point@map",
	})
	test.That(t, viz.poses[TopicGoal], test.ShouldEqual, 2)
}

func TestDryRunSuppressesMotion(t *testing.T) {
	ctx := context.Background()
	cfg := testConfig()
	cfg.DryRun = true
	env, r, _ := newTestEnv(t, cfg)

	_, err := env.ApplyAction(ctx, action.MoveForward, nil)
	test.That(t, err, test.ShouldBeNil)
	_, err = env.ApplyAction(ctx, action.PickObject, nil)
	test.That(t, err, test.ShouldBeNil)
	_, err = env.ApplyAction(ctx, action.ManipulationMode, &action.Info{ObjectList: []string{"cup"}})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, r.CallLog(), test.ShouldResemble, []string{"nav_posture"})
}

func TestPickRetries(t *testing.T) {
	ctx := context.Background()
	r := fake.NewRobot()
	cfg := testConfig()
	cfg.MaxGraspAttempts = 3

	grasp := &flakyGrasp{failures: 2}
	env := NewEnv(cfg, r, nil, grasp, nil, nil, logging.NewTestLogger(t))
	_, err := env.ApplyAction(ctx, action.PickObject, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, grasp.calls, test.ShouldEqual, 3)

	grasp = &flakyGrasp{failures: 5}
	env = NewEnv(cfg, r, nil, grasp, nil, nil, logging.NewTestLogger(t))
	_, err = env.ApplyAction(ctx, action.PickObject, nil)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, grasp.calls, test.ShouldEqual, 3)
}

func TestArmAndGripper(t *testing.T) {
	ctx := context.Background()
	env, r, viz := newTestEnv(t, testConfig())

	_, err := env.ApplyAction(ctx, action.ExtendArm, nil)
	test.That(t, err, test.ShouldBeNil)
	_, err = env.ApplyAction(ctx, action.SnapObject, nil)
	test.That(t, err, test.ShouldBeNil)
	_, err = env.ApplyAction(ctx, action.DesnapObject, nil)
	test.That(t, err, test.ShouldBeNil)

	ee, err := action.NewEndEffectorAction([][]float64{
		{0.5, 0, 0.7, 0, 0, 0, 1, 1},
		{0.6, 0, 0.7, 0, 0, 0, 1, 0},
	})
	test.That(t, err, test.ShouldBeNil)
	_, err = env.ApplyAction(ctx, ee, &action.Info{SLAP: &action.SLAPTarget{InteractionPoint: r3.Vector{X: 0.5}}, Viz: map[string]interface{}{"step": 1}})
	test.That(t, err, test.ShouldBeNil)

	test.That(t, r.CallLog(), test.ShouldResemble, []string{
		"nav_posture",
		"switch_to_manipulation_mode",
		"goto_joints([0 0.8 0.3 0 0 0])",
		"close_gripper",
		"open_gripper",
		"goto_ee(500,0,700)",
		"close_gripper",
		"goto_ee(600,0,700)",
		"open_gripper",
	})
	test.That(t, viz.poses[TopicActions], test.ShouldEqual, 2)
	test.That(t, viz.points, test.ShouldResemble, []string{"interaction_point@map"})
	test.That(t, viz.renders, test.ShouldEqual, 1)

	full := action.ContinuousFullBodyAction{Joints: []float64{0, 0.5, 0.1, 0, 0, 0}, XYT: geometry.XYT{X: 0.1}}
	_, err = env.ApplyAction(ctx, full, nil)
	test.That(t, err, test.ShouldBeNil)
	calls := r.CallLog()
	test.That(t, calls[len(calls)-4:], test.ShouldResemble, []string{
		"switch_to_navigation_mode",
		"navigate_to(0.10,0.00,0.00,relative)",
		"switch_to_manipulation_mode",
		"goto_joints([0 0.5 0.1 0 0 0])",
	})
}

func TestGetObservation(t *testing.T) {
	ctx := context.Background()
	r := fake.NewRobot()
	r.SetPose(geometry.XYT{X: 2, Y: 1, Theta: math.Pi / 2})
	r.SetFrames(robot.Frames{Width: 2, Height: 2, XYZ: make([]r3.Vector, 4)})

	seg := &staticSegmenter{fill: func(obs *observation.Observations) {
		obs.Semantic = []int{0, 1, 2, 2}
		obs.Task.InstanceMap = []int{-1, 0, 1, 2}
		obs.Task.InstanceScores = []float64{0.9, 0.6, 0.4}
		obs.Task.InstanceClasses = []int{1, 2, 2}
	}}
	env := NewEnv(testConfig(), r, seg, nil, nil, nil, logging.NewTestLogger(t))
	test.That(t, env.Reset(ctx), test.ShouldBeNil)
	test.That(t, env.SetGoal(&action.Info{ObjectList: []string{"table", "cup"}}), test.ShouldBeNil)
	test.That(t, seg.vocab, test.ShouldResemble, []string{"other", "table", "cup", "other"})

	_, err := env.ApplyAction(ctx, action.MoveForward, nil)
	test.That(t, err, test.ShouldBeNil)
	_, err = env.ApplyAction(ctx, action.SnapObject, nil)
	test.That(t, err, test.ShouldBeNil)

	obs, err := env.GetObservation(ctx)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, obs.GPS.X, test.ShouldAlmostEqual, 0.25)
	test.That(t, obs.GPS.Y, test.ShouldAlmostEqual, 0)
	test.That(t, obs.Compass, test.ShouldAlmostEqual, 0)
	test.That(t, obs.Semantic, test.ShouldResemble, []int{3, 1, 2, 2})
	test.That(t, obs.Task.GoalMask, test.ShouldResemble, []bool{false, false, true, false})
	test.That(t, obs.Task.GoalClassMask, test.ShouldResemble, []bool{false, false, true, false})
	test.That(t, obs.Task.GripperState, test.ShouldEqual, 1.)
	test.That(t, obs.Task.GoalName, test.ShouldEqual, "cup")
	test.That(t, obs.Joint, test.ShouldHaveLength, robot.NumJoints)
	test.That(t, obs.RelativeRestingPosition, test.ShouldResemble, restingPosition)
	test.That(t, obs.Task.BaseCameraPose, test.ShouldNotBeNil)
}

func TestGraspAndExecutorErrors(t *testing.T) {
	ctx := context.Background()
	r := fake.NewRobot()
	env := NewEnv(testConfig(), r, nil, nil, nil, nil, logging.NewTestLogger(t))
	_, err := env.ApplyAction(ctx, action.PickObject, nil)
	test.That(t, err, test.ShouldNotBeNil)

	ee, _ := action.NewEndEffectorAction([][]float64{{0, 0, 0, 0, 0, 0, 1, 0}})
	_, err = env.ApplyAction(ctx, ee, nil)
	test.That(t, err, test.ShouldNotBeNil)

	r.NavigateErr = errors.New("blocked")
	_, err = env.ApplyAction(ctx, action.MoveForward, nil)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestReachGrasp(t *testing.T) {
	r := fake.NewRobot()
	g := &ReachGrasp{Manip: r.Manip(), Lift: 0.7, Extension: 0.4}
	ok, err := g.TryGrasping(context.Background(), false, false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, r.CallLog(), test.ShouldResemble, []string{
		"open_gripper",
		"goto_joints([0 0.7 0.4 0 0 0])",
		"close_gripper",
		"goto_joints([0 0.7 0 0 0 0])",
	})
}
