package languageagent

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/generic"
	"go.viam.com/test"

	"github.com/viam-labs/stretch-agent/internal/stack"
)

func writeConfig(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "stretch.yaml")
	lang := filepath.Join(dir, "language.yaml")
	info := filepath.Join(dir, "tasks.yaml")
	test.That(t, os.WriteFile(lang, []byte("open_object:\n  drawer: open the drawer\n"), 0o600), test.ShouldBeNil)
	test.That(t, os.WriteFile(info, []byte("open the drawer: 3\n"), 0o600), test.ShouldBeNil)
	data := fmt.Sprintf(`
agent:
  language_file: %s
  task_information_file: %s
env:
  sensor_wait: 0s
  mode_settle: 0s
  posture_settle: 0s
storage:
  path: %s
`, lang, info, filepath.Join(dir, "episodes.db"))
	test.That(t, os.WriteFile(path, []byte(data), 0o600), test.ShouldBeNil)
	return path
}

func newFakeService(t *testing.T) *languageAgent {
	t.Helper()
	cfg := &Config{ConfigFile: writeConfig(t), Driver: "fake"}
	svc, err := newService(context.Background(), generic.Named("agent"), cfg, stack.Components{}, logging.NewTestLogger(t))
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() {
		test.That(t, svc.Close(context.Background()), test.ShouldBeNil)
	})
	return svc
}

func TestValidate(t *testing.T) {
	cfg := &Config{Driver: "fake"}
	deps, optional, err := cfg.Validate("path")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, deps, test.ShouldBeEmpty)
	test.That(t, optional, test.ShouldBeEmpty)

	cfg = &Config{Base: "base", Arm: "arm", Gripper: "gripper", Camera: "cam", Vision: "detector", MLModel: "slap"}
	deps, _, err = cfg.Validate("path")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, deps, test.ShouldResemble, []string{"base", "arm", "gripper", "detector", "slap"})

	cfg.Gripper = ""
	_, _, err = cfg.Validate("path")
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "gripper")

	cfg = &Config{Driver: "ros"}
	_, _, err = cfg.Validate("path")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestStackConfig(t *testing.T) {
	cfg := &Config{
		ConfigFile: writeConfig(t),
		Base:       "base", Arm: "arm", Gripper: "gripper", Camera: "cam", Vision: "detector", MLModel: "slap",
	}
	c, err := cfg.stackConfig()
	test.That(t, err, test.ShouldBeNil)
	test.That(t, c.Robot.Driver, test.ShouldEqual, "viam")
	test.That(t, c.Robot.Vision, test.ShouldEqual, "detector")
	test.That(t, c.SLAP.Model, test.ShouldEqual, "slap")

	cfg.ConfigFile = filepath.Join(t.TempDir(), "missing.yaml")
	_, err = cfg.stackConfig()
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDoCommand(t *testing.T) {
	ctx := context.Background()
	svc := newFakeService(t)

	resp, err := svc.DoCommand(ctx, map[string]interface{}{"command": "plans", "task": 6})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp["steps"], test.ShouldHaveLength, 1)

	_, err = svc.DoCommand(ctx, map[string]interface{}{})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = svc.DoCommand(ctx, map[string]interface{}{"command": "dance"})
	test.That(t, err, test.ShouldNotBeNil)
	_, err = svc.DoCommand(ctx, map[string]interface{}{"command": "start"})
	test.That(t, err, test.ShouldNotBeNil)

	resp, err = svc.DoCommand(ctx, map[string]interface{}{"command": "start", "task": "6"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp["started"], test.ShouldEqual, "6")
	waitEpisode(svc)

	resp, err = svc.DoCommand(ctx, map[string]interface{}{"command": "status"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp["running"], test.ShouldBeFalse)
	test.That(t, resp["task"], test.ShouldEqual, "6")
	last, ok := resp["last_episode"].(map[string]interface{})
	test.That(t, ok, test.ShouldBeTrue)
	test.That(t, last["success"], test.ShouldBeTrue)
	test.That(t, last["steps"], test.ShouldEqual, 3)

	resp, err = svc.DoCommand(ctx, map[string]interface{}{"command": "episodes", "limit": "5"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp["episodes"], test.ShouldHaveLength, 1)

	resp, err = svc.DoCommand(ctx, map[string]interface{}{"command": "stop"})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, resp["stopped"], test.ShouldBeFalse)
}

func waitEpisode(svc *languageAgent) {
	svc.mu.Lock()
	done := svc.done
	svc.mu.Unlock()
	<-done
}

func TestStopThenRestart(t *testing.T) {
	ctx := context.Background()
	svc := newFakeService(t)
	for i := 0; i < 5; i++ {
		_, err := svc.DoCommand(ctx, map[string]interface{}{"command": "start", "task": "6"})
		test.That(t, err, test.ShouldBeNil)
		_, err = svc.DoCommand(ctx, map[string]interface{}{"command": "stop"})
		test.That(t, err, test.ShouldBeNil)

		resp, err := svc.DoCommand(ctx, map[string]interface{}{"command": "status"})
		test.That(t, err, test.ShouldBeNil)
		test.That(t, resp["running"], test.ShouldBeFalse)
		_, ok := resp["last_episode"].(map[string]interface{})
		test.That(t, ok, test.ShouldBeTrue)
	}
}

func TestStartAfterClose(t *testing.T) {
	svc := newFakeService(t)
	svc.cancelFunc()
	_, err := svc.DoCommand(context.Background(), map[string]interface{}{"command": "start", "task": "6"})
	test.That(t, err, test.ShouldNotBeNil)
}

func TestRegistered(t *testing.T) {
	_, ok := resource.LookupRegistration(generic.API, Model)
	test.That(t, ok, test.ShouldBeTrue)
}
