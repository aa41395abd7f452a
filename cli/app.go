// Package cli contains the stretch-agent command line.
package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"go.viam.com/rdk/components/arm"
	"go.viam.com/rdk/components/base"
	"go.viam.com/rdk/components/gripper"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/robot/client"
	"go.viam.com/rdk/services/mlmodel"
	"go.viam.com/rdk/services/vision"
	"go.viam.com/utils/rpc"

	"github.com/viam-labs/stretch-agent/agent/plan"
	"github.com/viam-labs/stretch-agent/config"
	"github.com/viam-labs/stretch-agent/env/demo"
	"github.com/viam-labs/stretch-agent/episode"
	"github.com/viam-labs/stretch-agent/internal/stack"
)

const (
	flagConfig = "config"
	flagDebug  = "debug"
	flagTask   = "task"
	flagDir    = "dir"
	flagLimit  = "limit"
)

// NewApp returns the command line app writing to out and errOut.
func NewApp(in io.Reader, out, errOut io.Writer) *cli.App {
	return &cli.App{
		Name:            "stretch-agent",
		Usage:           "run language tasks on a Stretch robot",
		HideHelpCommand: true,
		Reader:          in,
		Writer:          out,
		ErrWriter:       errOut,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
				EnvVars: []string{"STRETCH_CONFIG"},
			},
			&cli.BoolFlag{
				Name:    flagDebug,
				Aliases: []string{"vvv"},
				Usage:   "enable debug logging",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "check-config",
				Usage:  "validate the configuration and print what it selects",
				Action: CheckConfigAction,
			},
			{
				Name:  "plans",
				Usage: "print the steps of one or every task",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagTask, Usage: "task id"},
				},
				Action: PlansAction,
			},
			{
				Name:  "run",
				Usage: "run one episode of a task",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagTask, Usage: "task id", Required: true},
				},
				Action: RunAction,
			},
			{
				Name:  "episodes",
				Usage: "list recorded episodes, newest first",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: flagLimit, Value: 20, Usage: "number of episodes"},
				},
				Action: EpisodesAction,
			},
			{
				Name:  "demo",
				Usage: "replay a recorded demonstration under operator supervision",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: flagDir, Usage: "demonstration `DIR`, overrides demo.dir"},
				},
				Action: DemoAction,
			},
		},
	}
}

func newLogger(c *cli.Context) logging.Logger {
	logger := logging.NewLogger("stretch-agent")
	if c.Bool(flagDebug) {
		logger.SetLevel(logging.DEBUG)
	}
	return logger
}

// signalContext is canceled on interrupt.
func signalContext(c *cli.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(c.Context, os.Interrupt)
}

// CheckConfigAction loads and validates the configuration.
func CheckConfigAction(c *cli.Context) error {
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return err
	}
	pcfg, perAct := cfg.Predictor()
	predictor := "fixed"
	switch {
	case pcfg.Enabled && perAct:
		predictor = "peract:" + pcfg.Model
	case pcfg.Enabled:
		predictor = "slap:" + pcfg.Model
	}
	if pcfg.Enabled && pcfg.DryRun {
		predictor += " (dry run)"
	}
	w := c.App.Writer
	fmt.Fprintf(w, "driver:    %s\n", cfg.Robot.Driver)
	fmt.Fprintf(w, "plans:     %s\n", cfg.Agent.Plans)
	fmt.Fprintf(w, "predictor: %s\n", predictor)
	fmt.Fprintf(w, "max steps: %d\n", cfg.Agent.MaxSteps)
	if cfg.Storage.Path != "" {
		fmt.Fprintf(w, "storage:   %s\n", cfg.Storage.Path)
	}
	if cfg.Events.NATSURL != "" {
		fmt.Fprintf(w, "events:    %s (%s)\n", cfg.Events.NATSURL, cfg.Events.Subject)
	}
	return nil
}

// PlansAction prints task plans.
func PlansAction(c *cli.Context) error {
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return err
	}
	plans, err := stack.Plans(cfg.Agent)
	if err != nil {
		return err
	}

	var tasks []string
	if task := c.String(flagTask); task != "" {
		tasks = []string{task}
	} else if lister, ok := plans.(interface{ Tasks() []int }); ok {
		ids := lister.Tasks()
		sort.Ints(ids)
		for _, id := range ids {
			tasks = append(tasks, strconv.Itoa(id))
		}
	} else {
		return errors.Errorf("%s plans cannot be listed, pass --%s", cfg.Agent.Plans, flagTask)
	}

	for _, task := range tasks {
		steps, err := plans.Steps(c.Context, task)
		if err != nil {
			return err
		}
		printPlan(c.App.Writer, task, steps)
	}
	return nil
}

func printPlan(w io.Writer, task string, steps []plan.Step) {
	fmt.Fprintf(w, "task %s:\n", task)
	for i, s := range steps {
		fmt.Fprintf(w, "  %d. %s\n", i+1, s)
	}
}

// RunAction runs a task to completion.
func RunAction(c *cli.Context) error {
	ctx, cancel := signalContext(c)
	defer cancel()
	logger := newLogger(c)

	s, err := buildStack(ctx, c.String(flagConfig), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(context.Background()); err != nil {
			logger.Errorw("closing", "error", err)
		}
	}()

	rec, err := s.Runner.Run(ctx, c.String(flagTask))
	printRecord(c.App.Writer, rec)
	return err
}

func printRecord(w io.Writer, r episode.Record) {
	fmt.Fprintf(w, "episode %s task %s: steps=%d success=%t reward=%g duration=%s\n",
		r.ID, r.Task, r.Steps, r.Success, r.Reward, r.End.Sub(r.Start).Round(time.Millisecond))
	if r.Error != "" {
		fmt.Fprintf(w, "  error: %s\n", r.Error)
	}
}

// EpisodesAction prints a table of recent episodes.
func EpisodesAction(c *cli.Context) error {
	cfg, err := config.Load(c.String(flagConfig))
	if err != nil {
		return err
	}
	if cfg.Storage.Path == "" {
		return errors.New("storage.path is not configured")
	}
	store, err := episode.OpenStore(cfg.Storage.Path)
	if err != nil {
		return err
	}
	defer func() {
		//nolint:errcheck
		store.Close()
	}()
	records, err := store.Recent(c.Context, c.Int(flagLimit))
	if err != nil {
		return err
	}

	t := table.NewWriter()
	t.SetOutputMirror(c.App.Writer)
	t.AppendHeader(table.Row{"ID", "Task", "Start", "Steps", "Success", "Reward", "Error"})
	for _, r := range records {
		t.AppendRow(table.Row{
			r.ID.String()[:8], r.Task, r.Start.Format(time.DateTime), r.Steps, r.Success, r.Reward, r.Error,
		})
	}
	t.Render()
	return nil
}

// DemoAction replays a demonstration, asking the operator to confirm the
// start pose and to score the result.
func DemoAction(c *cli.Context) error {
	ctx, cancel := signalContext(c)
	defer cancel()
	logger := newLogger(c)

	s, err := buildStack(ctx, c.String(flagConfig), logger)
	if err != nil {
		return err
	}
	defer func() {
		if err := s.Close(context.Background()); err != nil {
			logger.Errorw("closing", "error", err)
		}
	}()

	dir := s.Config.Demo.Dir
	if c.IsSet(flagDir) {
		dir = c.String(flagDir)
	}
	if dir == "" {
		return errors.Errorf("no demonstration directory, set demo.dir or --%s", flagDir)
	}
	trajs, err := demo.LoadTrajectories(dir, s.Config.Demo.Topic)
	if err != nil {
		return err
	}
	operator := demo.NewConsoleOperator(c.App.Reader, c.App.Writer)
	//nolint:errcheck
	defer operator.Close()
	env, err := demo.NewLiveEnv(
		s.Config.Replay(),
		s.Robot,
		trajs,
		demo.DefaultStretchIK(),
		operator,
		nil,
		logger.Sublogger("demo"),
	)
	if err != nil {
		return err
	}

	var policy demo.Policy = demo.ReplayPolicy{}
	if !s.Config.Demo.UseTrueAction {
		policy = &demo.PredictorPolicy{Predictor: s.Predictor}
	}
	rec := episode.Record{ID: uuid.New(), Start: time.Now()}
	out, runErr := demo.Run(ctx, env, policy, s.Config.Agent.MaxSteps)
	rec.End = time.Now()
	rec.Task = "demo:" + out.Demo
	rec.Steps = out.Steps
	rec.Reward = out.Reward
	rec.Success = runErr == nil && out.Reward == 1
	if runErr != nil {
		rec.Error = runErr.Error()
	}
	printRecord(c.App.Writer, rec)
	if s.Store != nil {
		runErr = multierr.Combine(runErr, s.Store.Save(context.WithoutCancel(ctx), rec))
	}
	return runErr
}

// buildStack loads the configuration and, for the viam driver, connects to
// the robot at robot.address.
func buildStack(ctx context.Context, path string, logger logging.Logger) (*stack.Stack, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	if cfg.Robot.Driver != config.DriverViam {
		return stack.Build(ctx, cfg, stack.Components{}, logger)
	}

	machine, comps, err := connect(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	s, err := stack.Build(ctx, cfg, comps, logger)
	if err != nil {
		return nil, multierr.Combine(err, machine.Close(context.Background()))
	}
	s.OnClose(func() error { return machine.Close(context.Background()) })
	return s, nil
}

func connect(ctx context.Context, cfg *config.Config, logger logging.Logger) (*client.RobotClient, stack.Components, error) {
	var comps stack.Components
	if cfg.Robot.Address == "" {
		return nil, comps, errors.New("robot.address is required to run the viam driver from the command line")
	}
	var opts []client.RobotClientOption
	if cfg.Robot.APIKey != "" {
		opts = append(opts, client.WithDialOptions(rpc.WithEntityCredentials(
			cfg.Robot.APIKeyID,
			rpc.Credentials{Type: rpc.CredentialsTypeAPIKey, Payload: cfg.Robot.APIKey},
		)))
	}
	machine, err := client.New(ctx, cfg.Robot.Address, logger.Sublogger("client"), opts...)
	if err != nil {
		return nil, comps, errors.Wrapf(err, "connecting to %s", cfg.Robot.Address)
	}

	err = func() error {
		var err error
		if comps.Base, err = base.FromRobot(machine, cfg.Robot.Base); err != nil {
			return err
		}
		if comps.Arm, err = arm.FromRobot(machine, cfg.Robot.Arm); err != nil {
			return err
		}
		if comps.Gripper, err = gripper.FromRobot(machine, cfg.Robot.Gripper); err != nil {
			return err
		}
		if comps.Vision, err = vision.FromRobot(machine, cfg.Robot.Vision); err != nil {
			return err
		}
		if pcfg, _ := cfg.Predictor(); pcfg.Enabled && !pcfg.DryRun {
			model, err := mlmodel.FromRobot(machine, pcfg.Model)
			if err != nil {
				return err
			}
			comps.Model = model
		}
		return nil
	}()
	if err != nil {
		return nil, comps, multierr.Combine(err, machine.Close(context.Background()))
	}
	return machine, comps, nil
}
