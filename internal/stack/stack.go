// Package stack assembles the robot, language agent, environment and episode
// runner described by a configuration.
package stack

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/multierr"
	"go.viam.com/rdk/logging"
	"go.viam.com/rdk/services/vision"
	"go.viam.com/utils"

	"github.com/viam-labs/stretch-agent/agent"
	"github.com/viam-labs/stretch-agent/agent/heuristic"
	"github.com/viam-labs/stretch-agent/agent/language"
	"github.com/viam-labs/stretch-agent/agent/plan"
	"github.com/viam-labs/stretch-agent/config"
	envlanguage "github.com/viam-labs/stretch-agent/env/language"
	"github.com/viam-labs/stretch-agent/episode"
	"github.com/viam-labs/stretch-agent/perception/segmentation"
	"github.com/viam-labs/stretch-agent/perception/slap"
	"github.com/viam-labs/stretch-agent/robot"
	"github.com/viam-labs/stretch-agent/robot/fake"
	"github.com/viam-labs/stretch-agent/robot/rosbridge"
	"github.com/viam-labs/stretch-agent/robot/viamrobot"
)

// Components are the Viam resources the viam driver runs on.
type Components struct {
	Base    viamrobot.Base
	Arm     viamrobot.Arm
	Gripper viamrobot.Gripper
	Vision  vision.Service
	// Model backs the interaction predictor; unused on dry runs.
	Model slap.Model
}

// Stack is a ready-to-run agent and environment.
type Stack struct {
	Config    *config.Config
	Robot     robot.Robot
	Plans     plan.Provider
	Predictor agent.InteractionPredictor
	Agent     *language.Agent
	Env       *envlanguage.Env
	Runner    *episode.Runner
	Store     *episode.Store
	Registry  *prometheus.Registry

	logger                  logging.Logger
	closers                 []func() error
	metricsServer           *http.Server
	activeBackgroundWorkers sync.WaitGroup
}

// Build connects to everything cfg names. On error, whatever was opened is closed.
func Build(ctx context.Context, cfg *config.Config, comps Components, logger logging.Logger) (_ *Stack, err error) {
	s := &Stack{Config: cfg, logger: logger, Registry: prometheus.NewRegistry()}
	defer func() {
		if err != nil {
			err = multierr.Combine(err, s.Close(ctx))
		}
	}()

	viz, err := s.buildRobot(ctx, comps)
	if err != nil {
		return nil, err
	}
	if s.Plans, err = Plans(cfg.Agent); err != nil {
		return nil, err
	}
	agentCfg, err := AgentConfig(cfg.Agent)
	if err != nil {
		return nil, err
	}
	if s.Predictor, err = Predictor(cfg, comps.Model, logger); err != nil {
		return nil, err
	}
	s.Agent = language.NewAgent(
		agentCfg,
		s.Plans,
		heuristic.NewObjectNav(cfg.ObjectNav()),
		&heuristic.Place{},
		s.Predictor,
		logger.Sublogger("agent"),
	)

	var detector segmentation.Detector = noDetections{}
	if comps.Vision != nil {
		detector = &segmentation.VisionDetector{Service: comps.Vision, Camera: cfg.Robot.Camera}
	}
	s.Env = envlanguage.NewEnv(
		cfg.EnvLanguage(),
		s.Robot,
		segmentation.NewVisionSegmenter(detector, cfg.Robot.Width, cfg.Robot.Height),
		&envlanguage.ReachGrasp{Manip: s.Robot.Manip(), Lift: cfg.Env.ArmLift, Extension: cfg.Env.ArmExtension},
		&envlanguage.WaypointExecutor{Manip: s.Robot.Manip(), CloseAbove: cfg.Env.GripperCloseAbove},
		viz,
		logger.Sublogger("env"),
	)

	opts := []episode.Option{episode.WithMetrics(episode.NewMetrics(s.Registry))}
	if cfg.Events.NATSURL != "" {
		pub, err := episode.ConnectNATS(cfg.Events.NATSURL, cfg.Events.Subject, logger)
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, pub.Close)
		opts = append(opts, episode.WithPublisher(pub))
	}
	if cfg.Storage.Path != "" {
		if s.Store, err = episode.OpenStore(cfg.Storage.Path); err != nil {
			return nil, err
		}
		s.closers = append(s.closers, s.Store.Close)
		opts = append(opts, episode.WithStore(s.Store))
	}
	s.Runner = episode.NewRunner(episode.Config{MaxSteps: cfg.Agent.MaxSteps}, s.Agent, s.Env, logger.Sublogger("episode"), opts...)

	if cfg.Metrics.Listen != "" {
		s.serveMetrics(cfg.Metrics.Listen)
	}
	return s, nil
}

// buildRobot returns the visualizer to use, if any.
func (s *Stack) buildRobot(ctx context.Context, comps Components) (envlanguage.Visualizer, error) {
	cfg := s.Config
	if cfg.Robot.Driver == config.DriverFake {
		s.Robot = fake.NewRobot()
		return nil, nil
	}
	if comps.Base == nil || comps.Arm == nil || comps.Gripper == nil || comps.Vision == nil {
		return nil, errors.New("the viam driver needs a base, an arm, a gripper and a vision service")
	}

	var (
		opts []viamrobot.Option
		viz  envlanguage.Visualizer
	)
	if cfg.Robot.RosbridgeURL != "" {
		client, err := rosbridge.Dial(ctx, cfg.Robot.RosbridgeURL, s.logger.Sublogger("rosbridge"))
		if err != nil {
			return nil, err
		}
		s.closers = append(s.closers, client.Close)
		hello, err := rosbridge.NewHelloRobot(ctx, client, cfg.Hello(), nil, s.logger.Sublogger("hello"))
		if err != nil {
			return nil, err
		}
		opts = append(opts, viamrobot.WithNavigator(hello))
		viz = rosbridge.NewVisualizer(client)
	}
	head := &viamrobot.VisionHead{
		Source: comps.Vision,
		Camera: cfg.Robot.Camera,
		Width:  cfg.Robot.Width,
		Height: cfg.Robot.Height,
	}
	r := viamrobot.NewRobot(cfg.ViamRobot(), comps.Base, comps.Arm, comps.Gripper, s.logger.Sublogger("robot"),
		append(opts, viamrobot.WithHead(head))...)
	head.Nav = r.Nav()
	s.Robot = r
	return viz, nil
}

// Plans returns the configured plan provider.
func Plans(cfg config.AgentConfig) (plan.Provider, error) {
	switch cfg.Plans {
	case config.PlansOracle:
		return &plan.Oracle{Datafile: cfg.Datafile, Root: cfg.DatasetRoot}, nil
	case config.PlansTable, "":
		if cfg.TableFile == "" {
			return plan.DefaultTable(), nil
		}
		return plan.LoadTable(cfg.TableFile)
	default:
		return nil, errors.Errorf("unknown plan source %q", cfg.Plans)
	}
}

// AgentConfig returns the language agent settings with its language files loaded.
func AgentConfig(cfg config.AgentConfig) (language.Config, error) {
	out := language.Config{DryRun: cfg.DryRun, SkipFindObject: cfg.SkipFindObject}
	if cfg.LanguageFile != "" {
		lang, err := config.LoadLanguage(cfg.LanguageFile)
		if err != nil {
			return language.Config{}, err
		}
		out.Language = lang
	}
	if cfg.TaskInformationFile != "" {
		info, err := config.LoadTaskInformation(cfg.TaskInformationFile)
		if err != nil {
			return language.Config{}, err
		}
		out.TaskInformation = info
	}
	return out, nil
}

// Predictor returns the configured interaction predictor. Without one enabled
// the fixed dry-run prediction is used.
func Predictor(cfg *config.Config, model slap.Model, logger logging.Logger) (agent.InteractionPredictor, error) {
	pcfg, perAct := cfg.Predictor()
	if !pcfg.Enabled || pcfg.DryRun {
		if !pcfg.Enabled {
			logger.Warn("no interaction predictor enabled, using a fixed prediction")
		}
		return slap.NewDryRun(), nil
	}
	if model == nil {
		return nil, errors.Errorf("ML model %q is not available", pcfg.Model)
	}
	if perAct {
		return slap.NewPerAct(model, pcfg.SLAPModel(), logger.Sublogger("peract")), nil
	}
	return slap.NewSLAP(model, pcfg.SLAPModel(), logger.Sublogger("slap")), nil
}

func (s *Stack) serveMetrics(addr string) {
	s.metricsServer = &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(s.Registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.activeBackgroundWorkers.Add(1)
	utils.PanicCapturingGo(func() {
		defer s.activeBackgroundWorkers.Done()
		if err := s.metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Errorw("metrics server stopped", "error", err)
		}
	})
	s.logger.Infow("serving metrics", "address", addr)
}

// OnClose registers f to run on Close after the robot has stopped.
func (s *Stack) OnClose(f func() error) {
	s.closers = append(s.closers, f)
}

// Close stops the robot and releases every connection.
func (s *Stack) Close(ctx context.Context) error {
	var err error
	if s.metricsServer != nil {
		err = multierr.Combine(err, s.metricsServer.Shutdown(ctx))
		s.activeBackgroundWorkers.Wait()
	}
	if s.Robot != nil {
		err = multierr.Combine(err, s.Robot.Close(ctx))
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		err = multierr.Combine(err, s.closers[i]())
	}
	s.closers = nil
	return err
}

type noDetections struct{}

func (noDetections) Detect(context.Context) ([]segmentation.Detection, error) { return nil, nil }
