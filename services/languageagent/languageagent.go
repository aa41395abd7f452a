// Package languageagent exposes the language agent as a Viam generic service.
// Episodes are started and inspected through DoCommand.
package languageagent

import (
	"context"
	"sync"

	"github.com/go-viper/mapstructure/v2"
	"github.com/pkg/errors"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/components/base"
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/resource"
	"go.viam.com/rdk/services/generic"
	"go.viam.com/rdk/services/mlmodel"
	"go.viam.com/rdk/services/vision"
	"go.viam.com/utils"

	"github.com/viam-labs/stretch-agent/config"
	"github.com/viam-labs/stretch-agent/episode"
	"github.com/viam-labs/stretch-agent/internal/stack"
)

// Model is the resource model of the service.
var Model = resource.NewModel("viam-labs", "stretch", "language-agent")

func init() {
	resource.RegisterService(generic.API, Model, resource.Registration[resource.Resource, *Config]{
		Constructor: newLanguageAgent,
	})
}

// Config describes the service. ConfigFile holds agent, environment and
// storage settings; the component names override its robot section.
type Config struct {
	ConfigFile string `json:"config_file,omitempty"`
	// Driver is "viam" (default) or "fake" for bench testing without hardware.
	Driver  string `json:"driver,omitempty"`
	Base    string `json:"base"`
	Arm     string `json:"arm"`
	Gripper string `json:"gripper"`
	Camera  string `json:"camera"`
	Vision  string `json:"vision_service"`
	MLModel string `json:"mlmodel_service,omitempty"`
}

func (cfg *Config) fake() bool {
	return cfg.Driver == config.DriverFake
}

// Validate ensures all parts of the config are valid and returns its dependencies.
func (cfg *Config) Validate(path string) ([]string, []string, error) {
	if cfg.Driver != "" && cfg.Driver != config.DriverViam && !cfg.fake() {
		return nil, nil, utils.NewConfigValidationError(path, errors.Errorf("unknown driver %q", cfg.Driver))
	}
	if cfg.fake() {
		return nil, nil, nil
	}
	for _, f := range []struct{ field, name string }{
		{"base", cfg.Base},
		{"arm", cfg.Arm},
		{"gripper", cfg.Gripper},
		{"camera", cfg.Camera},
		{"vision_service", cfg.Vision},
	} {
		if f.name == "" {
			return nil, nil, utils.NewConfigValidationFieldRequiredError(path, f.field)
		}
	}
	deps := []string{cfg.Base, cfg.Arm, cfg.Gripper, cfg.Vision}
	if cfg.MLModel != "" {
		deps = append(deps, cfg.MLModel)
	}
	return deps, nil, nil
}

// stackConfig merges the service attributes into the loaded configuration.
func (cfg *Config) stackConfig() (*config.Config, error) {
	c, err := config.Read(cfg.ConfigFile)
	if err != nil {
		return nil, err
	}
	if cfg.fake() {
		c.Robot.Driver = config.DriverFake
	} else {
		c.Robot.Driver = config.DriverViam
		c.Robot.Base = cfg.Base
		c.Robot.Arm = cfg.Arm
		c.Robot.Gripper = cfg.Gripper
		c.Robot.Camera = cfg.Camera
		c.Robot.Vision = cfg.Vision
	}
	if cfg.MLModel != "" {
		if c.PerAct.Enabled {
			c.PerAct.Model = cfg.MLModel
		} else {
			c.SLAP.Model = cfg.MLModel
		}
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}

type languageAgent struct {
	resource.Named
	resource.AlwaysRebuild

	logger logging.Logger
	stack  *stack.Stack

	cancelCtx               context.Context
	cancelFunc              func()
	activeBackgroundWorkers sync.WaitGroup

	mu            sync.Mutex
	running       bool
	task          string
	cancelEpisode context.CancelFunc
	// done is closed when the current episode's worker exits.
	done chan struct{}
	last *episode.Record
}

func newLanguageAgent(
	ctx context.Context,
	deps resource.Dependencies,
	conf resource.Config,
	logger logging.Logger,
) (resource.Resource, error) {
	svcConfig, err := resource.NativeConfig[*Config](conf)
	if err != nil {
		return nil, err
	}
	comps, err := components(deps, svcConfig)
	if err != nil {
		return nil, err
	}
	return newService(ctx, conf.ResourceName(), svcConfig, comps, logger)
}

func components(deps resource.Dependencies, cfg *Config) (stack.Components, error) {
	if cfg.fake() {
		return stack.Components{}, nil
	}
	var (
		comps stack.Components
		err   error
	)
	if comps.Base, err = base.FromProvider(deps, cfg.Base); err != nil {
		return comps, err
	}
	if comps.Arm, err = arm.FromProvider(deps, cfg.Arm); err != nil {
		return comps, err
	}
	if comps.Gripper, err = gripper.FromProvider(deps, cfg.Gripper); err != nil {
		return comps, err
	}
	if comps.Vision, err = vision.FromProvider(deps, cfg.Vision); err != nil {
		return comps, err
	}
	if cfg.MLModel != "" {
		model, err := mlmodel.FromProvider(deps, cfg.MLModel)
		if err != nil {
			return comps, err
		}
		comps.Model = model
	}
	return comps, nil
}

func newService(
	ctx context.Context, name resource.Name, cfg *Config, comps stack.Components, logger logging.Logger,
) (*languageAgent, error) {
	c, err := cfg.stackConfig()
	if err != nil {
		return nil, err
	}
	s, err := stack.Build(ctx, c, comps, logger)
	if err != nil {
		return nil, err
	}
	cancelCtx, cancelFunc := context.WithCancel(context.Background())
	return &languageAgent{
		Named:      name.AsNamed(),
		logger:     logger,
		stack:      s,
		cancelCtx:  cancelCtx,
		cancelFunc: cancelFunc,
	}, nil
}

// command is the DoCommand request.
type command struct {
	Command string `json:"command"`
	Task    string `json:"task"`
	Limit   int    `json:"limit"`
}

func (svc *languageAgent) DoCommand(ctx context.Context, req map[string]interface{}) (map[string]interface{}, error) {
	var cmd command
	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "json",
		WeaklyTypedInput: true,
		Result:           &cmd,
	})
	if err != nil {
		return nil, err
	}
	if err := decoder.Decode(req); err != nil {
		return nil, errors.Wrap(err, "decoding command")
	}

	switch cmd.Command {
	case "start":
		if err := svc.start(cmd.Task); err != nil {
			return nil, err
		}
		return map[string]interface{}{"started": cmd.Task}, nil
	case "stop":
		return map[string]interface{}{"stopped": svc.stop()}, nil
	case "status":
		return svc.status(), nil
	case "plans":
		return svc.plans(ctx, cmd.Task)
	case "episodes":
		return svc.episodes(ctx, cmd.Limit)
	case "":
		return nil, errors.New(`missing "command"`)
	default:
		return nil, errors.Errorf("unknown command %q", cmd.Command)
	}
}

func (svc *languageAgent) start(task string) error {
	if task == "" {
		return errors.New(`"task" is required`)
	}
	svc.mu.Lock()
	defer svc.mu.Unlock()
	if svc.running {
		return errors.Errorf("task %q is already running", svc.task)
	}
	if err := svc.cancelCtx.Err(); err != nil {
		return err
	}
	ctx, cancel := context.WithCancel(svc.cancelCtx)
	svc.running = true
	svc.task = task
	svc.cancelEpisode = cancel
	done := make(chan struct{})
	svc.done = done

	svc.activeBackgroundWorkers.Add(1)
	utils.PanicCapturingGo(func() {
		defer svc.activeBackgroundWorkers.Done()
		defer close(done)
		defer cancel()
		rec, err := svc.stack.Runner.Run(ctx, task)
		if err != nil {
			svc.logger.Warnw("episode failed", "task", task, "error", err)
		} else {
			svc.logger.Infow("episode finished", "task", task, "steps", rec.Steps)
		}
		svc.mu.Lock()
		defer svc.mu.Unlock()
		svc.running = false
		svc.last = &rec
	})
	return nil
}

// stop cancels the running episode and waits for it. It reports whether an episode was running.
func (svc *languageAgent) stop() bool {
	svc.mu.Lock()
	running, cancel, done := svc.running, svc.cancelEpisode, svc.done
	svc.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if done != nil {
		<-done
	}
	return running
}

func (svc *languageAgent) status() map[string]interface{} {
	st := svc.stack.Agent.Status()
	remaining := make([]interface{}, 0, len(st.RemainingSteps))
	for _, step := range st.RemainingSteps {
		remaining = append(remaining, step.String())
	}

	svc.mu.Lock()
	defer svc.mu.Unlock()
	out := map[string]interface{}{
		"running":         svc.running,
		"task":            svc.task,
		"state":           st.State.String(),
		"mode":            st.Mode.String(),
		"remaining_steps": remaining,
		"actions_done":    st.ActionsDone,
		"robot_mode":      svc.stack.Robot.Mode().String(),
	}
	if st.CurrentStep.Verb != "" {
		out["current_step"] = st.CurrentStep.String()
	}
	if svc.last != nil {
		out["last_episode"] = recordMap(*svc.last)
	}
	return out
}

func (svc *languageAgent) plans(ctx context.Context, task string) (map[string]interface{}, error) {
	steps, err := svc.stack.Plans.Steps(ctx, task)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, 0, len(steps))
	for _, s := range steps {
		out = append(out, s.String())
	}
	return map[string]interface{}{"task": task, "steps": out}, nil
}

func (svc *languageAgent) episodes(ctx context.Context, limit int) (map[string]interface{}, error) {
	if svc.stack.Store == nil {
		return nil, errors.New("no episode storage configured")
	}
	if limit <= 0 {
		limit = 10
	}
	records, err := svc.stack.Store.Recent(ctx, limit)
	if err != nil {
		return nil, err
	}
	out := make([]interface{}, 0, len(records))
	for _, r := range records {
		out = append(out, recordMap(r))
	}
	return map[string]interface{}{"episodes": out}, nil
}

func recordMap(r episode.Record) map[string]interface{} {
	m := map[string]interface{}{
		"id":       r.ID.String(),
		"task":     r.Task,
		"steps":    r.Steps,
		"success":  r.Success,
		"reward":   r.Reward,
		"duration": r.End.Sub(r.Start).Seconds(),
	}
	if r.Error != "" {
		m["error"] = r.Error
	}
	return m
}

func (svc *languageAgent) Close(ctx context.Context) error {
	svc.cancelFunc()
	svc.activeBackgroundWorkers.Wait()
	return svc.stack.Close(ctx)
}
