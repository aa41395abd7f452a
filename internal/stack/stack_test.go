package stack

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"github.com/viam-labs/stretch-agent/agent/plan"
	"github.com/viam-labs/stretch-agent/config"
	"github.com/viam-labs/stretch-agent/perception/slap"
	"github.com/viam-labs/stretch-agent/robot/fake"
)

func fakeConfig(t *testing.T) *config.Config {
	t.Helper()
	dir := t.TempDir()
	lang := filepath.Join(dir, "language.yaml")
	info := filepath.Join(dir, "tasks.yaml")
	test.That(t, os.WriteFile(lang, []byte("open_object:\n  drawer: open the drawer\n"), 0o600), test.ShouldBeNil)
	test.That(t, os.WriteFile(info, []byte("open the drawer: 3\n"), 0o600), test.ShouldBeNil)

	cfg, err := config.Parse([]byte(fmt.Sprintf(`
agent:
  language_file: %s
  task_information_file: %s
env:
  sensor_wait: 0s
  mode_settle: 0s
  posture_settle: 0s
robot:
  driver: fake
storage:
  path: %s
`, lang, info, filepath.Join(dir, "episodes.db"))))
	test.That(t, err, test.ShouldBeNil)
	return cfg
}

func TestBuildAndRun(t *testing.T) {
	ctx := context.Background()
	s, err := Build(ctx, fakeConfig(t), Components{}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	defer func() {
		test.That(t, s.Close(ctx), test.ShouldBeNil)
	}()

	rec, err := s.Runner.Run(ctx, "6")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rec.Success, test.ShouldBeTrue)
	test.That(t, rec.Steps, test.ShouldEqual, 3)

	calls := s.Robot.(*fake.Robot).CallLog()
	test.That(t, calls, test.ShouldContain, "manip_posture")
	test.That(t, calls, test.ShouldContain, "goto_ee(600,0,850)")
	test.That(t, calls, test.ShouldContain, "close_gripper")

	saved, err := s.Store.Recent(ctx, 10)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, saved, test.ShouldHaveLength, 1)
	test.That(t, saved[0].ID, test.ShouldEqual, rec.ID)

	n, err := testutil.GatherAndCount(s.Registry, "stretch_agent_actions_total")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, n, test.ShouldEqual, 3)
}

func TestBuildErrors(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)

	cfg := fakeConfig(t)
	cfg.Robot.Driver = config.DriverViam
	_, err := Build(ctx, cfg, Components{}, logger)
	test.That(t, err, test.ShouldNotBeNil)

	cfg = fakeConfig(t)
	cfg.Agent.LanguageFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = Build(ctx, cfg, Components{}, logger)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPlans(t *testing.T) {
	p, err := Plans(config.AgentConfig{Plans: config.PlansTable})
	test.That(t, err, test.ShouldBeNil)
	steps, err := p.Steps(context.Background(), "2")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, steps, test.ShouldHaveLength, 1)

	p, err = Plans(config.AgentConfig{Plans: config.PlansOracle, DatasetRoot: "/data", Datafile: "all"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, p, test.ShouldResemble, &plan.Oracle{Datafile: "all", Root: "/data"})

	_, err = Plans(config.AgentConfig{Plans: "guess"})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPredictor(t *testing.T) {
	logger := logging.NewTestLogger(t)
	cfg := config.Default()

	p, err := Predictor(&cfg, nil, logger)
	test.That(t, err, test.ShouldBeNil)
	_, ok := p.(*slap.DryRun)
	test.That(t, ok, test.ShouldBeTrue)

	cfg.PerAct = config.SLAPConfig{Enabled: true, Model: "peract"}
	_, err = Predictor(&cfg, nil, logger)
	test.That(t, err, test.ShouldNotBeNil)
}
