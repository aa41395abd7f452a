// Package config loads the stretch-agent configuration file.
package config

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/multierr"

	"github.com/viam-labs/stretch-agent/agent/heuristic"
	"github.com/viam-labs/stretch-agent/env/demo"
	envlanguage "github.com/viam-labs/stretch-agent/env/language"
	"github.com/viam-labs/stretch-agent/episode"
	"github.com/viam-labs/stretch-agent/perception/slap"
	"github.com/viam-labs/stretch-agent/robot/rosbridge"
	"github.com/viam-labs/stretch-agent/robot/viamrobot"
)

// Plan sources.
const (
	PlansTable  = "table"
	PlansOracle = "oracle"
)

// Robot drivers.
const (
	DriverFake = "fake"
	DriverViam = "viam"
)

// Config is the whole configuration file.
type Config struct {
	Agent   AgentConfig   `koanf:"agent"`
	SLAP    SLAPConfig    `koanf:"slap"`
	PerAct  SLAPConfig    `koanf:"peract"`
	Env     EnvConfig     `koanf:"env"`
	Robot   RobotConfig   `koanf:"robot"`
	Demo    DemoConfig    `koanf:"demo"`
	Events  EventsConfig  `koanf:"events"`
	Metrics MetricsConfig `koanf:"metrics"`
	Storage StorageConfig `koanf:"storage"`
}

// AgentConfig selects the task plans and tunes the language agent.
type AgentConfig struct {
	// Plans is "table" or "oracle".
	Plans string `koanf:"plans"`
	// TableFile overrides the built-in plan table.
	TableFile string `koanf:"table_file"`
	// DatasetRoot and Datafile locate oracle datasets.
	DatasetRoot string `koanf:"dataset_root"`
	Datafile    string `koanf:"datafile"`
	// LanguageFile maps skills and objects to task language.
	LanguageFile string `koanf:"language_file"`
	// TaskInformationFile maps task language to action counts.
	TaskInformationFile string `koanf:"task_information_file"`
	DryRun              bool   `koanf:"dry_run"`
	SkipFindObject      bool   `koanf:"skip_find_object"`
	MaxSteps            int    `koanf:"max_steps"`

	CenterBand     float64 `koanf:"center_band"`
	StopFraction   float64 `koanf:"stop_fraction"`
	MaxSearchTurns int     `koanf:"max_search_turns"`
	MaxNavSteps    int     `koanf:"max_nav_steps"`
}

// SLAPConfig selects an interaction predictor backed by an ML model service.
type SLAPConfig struct {
	Enabled bool `koanf:"enabled"`
	// Model is the name of the ML model service.
	Model     string   `koanf:"model"`
	Tasks     []string `koanf:"tasks"`
	MaxPoints int      `koanf:"max_points"`
	// DryRun replaces the model with a fixed prediction.
	DryRun bool `koanf:"dry_run"`
}

// EnvConfig tunes how actions are executed.
type EnvConfig struct {
	ForwardStep           float64       `koanf:"forward_step"`
	RotateStepDegs        float64       `koanf:"rotate_step_degs"`
	MinDetectionThreshold float64       `koanf:"min_detection_threshold"`
	ArmLift               float64       `koanf:"arm_lift"`
	ArmExtension          float64       `koanf:"arm_extension"`
	MaxGraspAttempts      int           `koanf:"max_grasp_attempts"`
	DryRun                bool          `koanf:"dry_run"`
	TestGrasping          bool          `koanf:"test_grasping"`
	Debug                 bool          `koanf:"debug"`
	SensorWait            time.Duration `koanf:"sensor_wait"`
	ModeSettle            time.Duration `koanf:"mode_settle"`
	PostureSettle         time.Duration `koanf:"posture_settle"`
	// GripperCloseAbove closes the gripper on waypoints whose gripper value exceeds it.
	GripperCloseAbove float64 `koanf:"gripper_close_above"`
}

// RobotConfig names the hardware.
type RobotConfig struct {
	Driver string `koanf:"driver"`
	// Viam components and services.
	Base    string `koanf:"base"`
	Arm     string `koanf:"arm"`
	Gripper string `koanf:"gripper"`
	Camera  string `koanf:"camera"`
	Vision  string `koanf:"vision"`
	// Address of a remote Viam robot for the CLI, with its API key.
	Address  string `koanf:"address"`
	APIKeyID string `koanf:"api_key_id"`
	APIKey   string `koanf:"api_key"`
	// Width and Height are the head camera resolution.
	Width  int `koanf:"width"`
	Height int `koanf:"height"`

	LinearSpeedMmPerSec    float64 `koanf:"linear_speed_mm_per_sec"`
	AngularSpeedDegsPerSec float64 `koanf:"angular_speed_degs_per_sec"`

	// RosbridgeURL, when set, drives the base through the Stretch goto
	// controller and publishes visualization markers.
	RosbridgeURL      string        `koanf:"rosbridge_url"`
	PositionTolerance float64       `koanf:"position_tolerance"`
	AngleTolerance    float64       `koanf:"angle_tolerance"`
	NavigateTimeout   time.Duration `koanf:"navigate_timeout"`
}

// DemoConfig configures demonstration replay.
type DemoConfig struct {
	Dir               string        `koanf:"dir"`
	Topic             string        `koanf:"topic"`
	UseTrueAction     bool          `koanf:"use_true_action"`
	PerturbStartState bool          `koanf:"perturb_start_state"`
	Seed              int64         `koanf:"seed"`
	MaxActionTime     time.Duration `koanf:"max_action_time"`
	Settle            time.Duration `koanf:"settle"`
}

// EventsConfig selects where episode events go. Without a NATS URL they are logged.
type EventsConfig struct {
	NATSURL string `koanf:"nats_url"`
	Subject string `koanf:"subject"`
}

// MetricsConfig exposes Prometheus metrics on Listen, e.g. ":9090". Empty disables the endpoint.
type MetricsConfig struct {
	Listen string `koanf:"listen"`
}

// StorageConfig locates the episode database. Empty disables it.
type StorageConfig struct {
	Path string `koanf:"path"`
}

// Default returns the configuration used when a file sets nothing.
func Default() Config {
	env := envlanguage.DefaultConfig()
	nav := heuristic.DefaultObjectNavConfig()
	robot := viamrobot.DefaultConfig()
	hello := rosbridge.DefaultHelloConfig()
	replay := demo.DefaultConfig()
	return Config{
		Agent: AgentConfig{
			Plans:          PlansTable,
			Datafile:       "all",
			MaxSteps:       episode.DefaultMaxSteps,
			CenterBand:     nav.CenterBand,
			StopFraction:   nav.StopFraction,
			MaxSearchTurns: nav.MaxSearchTurns,
			MaxNavSteps:    nav.MaxSteps,
		},
		Env: EnvConfig{
			ForwardStep:           env.ForwardStep,
			RotateStepDegs:        env.RotateStep * 180 / math.Pi,
			MinDetectionThreshold: env.MinDetectionThreshold,
			ArmLift:               env.ArmLift,
			ArmExtension:          env.ArmExtension,
			MaxGraspAttempts:      env.MaxGraspAttempts,
			SensorWait:            env.SensorWait,
			ModeSettle:            env.ModeSettle,
			PostureSettle:         env.PostureSettle,
			GripperCloseAbove:     0.5,
		},
		Robot: RobotConfig{
			Driver:                 DriverViam,
			Width:                  640,
			Height:                 480,
			LinearSpeedMmPerSec:    robot.LinearSpeedMmPerSec,
			AngularSpeedDegsPerSec: robot.AngularSpeedDegsPerSec,
			PositionTolerance:      hello.PositionTolerance,
			AngleTolerance:         hello.AngleTolerance,
			NavigateTimeout:        hello.Timeout,
		},
		Demo: DemoConfig{
			Topic:         demo.DefaultJointStateTopic,
			MaxActionTime: replay.MaxActionTime,
			Settle:        replay.Settle,
		},
		Events: EventsConfig{Subject: episode.DefaultSubjectPrefix},
	}
}

// Validate reports every problem with the configuration.
func (c *Config) Validate() error {
	var err error
	switch c.Agent.Plans {
	case PlansTable:
	case PlansOracle:
		if c.Agent.DatasetRoot == "" {
			err = multierr.Append(err, errors.New("agent.dataset_root is required for oracle plans"))
		}
	default:
		err = multierr.Append(err, errors.Errorf("agent.plans must be %q or %q, got %q", PlansTable, PlansOracle, c.Agent.Plans))
	}
	if c.Agent.MaxSteps <= 0 {
		err = multierr.Append(err, errors.New("agent.max_steps must be positive"))
	}
	if c.SLAP.Enabled && c.PerAct.Enabled {
		err = multierr.Append(err, errors.New("only one of slap and peract may be enabled"))
	}
	for name, s := range map[string]SLAPConfig{"slap": c.SLAP, "peract": c.PerAct} {
		if s.Enabled && !s.DryRun && s.Model == "" {
			err = multierr.Append(err, errors.Errorf("%s.model is required", name))
		}
	}
	if c.Env.ForwardStep <= 0 {
		err = multierr.Append(err, errors.New("env.forward_step must be positive"))
	}
	if c.Env.RotateStepDegs <= 0 {
		err = multierr.Append(err, errors.New("env.rotate_step_degs must be positive"))
	}
	if c.Env.MinDetectionThreshold < 0 || c.Env.MinDetectionThreshold > 1 {
		err = multierr.Append(err, errors.New("env.min_detection_threshold must be in [0, 1]"))
	}
	if c.Env.MaxGraspAttempts <= 0 {
		err = multierr.Append(err, errors.New("env.max_grasp_attempts must be positive"))
	}
	switch c.Robot.Driver {
	case DriverFake:
	case DriverViam:
		for field, name := range map[string]string{
			"base":    c.Robot.Base,
			"arm":     c.Robot.Arm,
			"gripper": c.Robot.Gripper,
			"camera":  c.Robot.Camera,
			"vision":  c.Robot.Vision,
		} {
			if name == "" {
				err = multierr.Append(err, errors.Errorf("robot.%s is required for the viam driver", field))
			}
		}
	default:
		err = multierr.Append(err, errors.Errorf("unknown robot.driver %q", c.Robot.Driver))
	}
	if c.Robot.Width <= 0 || c.Robot.Height <= 0 {
		err = multierr.Append(err, errors.New("robot.width and robot.height must be positive"))
	}
	return err
}

// EnvLanguage returns the settings of the language environment.
func (c *Config) EnvLanguage() envlanguage.Config {
	cfg := envlanguage.DefaultConfig()
	cfg.ForwardStep = c.Env.ForwardStep
	cfg.RotateStep = c.Env.RotateStepDegs * math.Pi / 180
	cfg.MinDetectionThreshold = c.Env.MinDetectionThreshold
	cfg.ArmLift = c.Env.ArmLift
	cfg.ArmExtension = c.Env.ArmExtension
	cfg.MaxGraspAttempts = c.Env.MaxGraspAttempts
	cfg.DryRun = c.Env.DryRun
	cfg.TestGrasping = c.Env.TestGrasping
	cfg.Debug = c.Env.Debug
	cfg.SensorWait = c.Env.SensorWait
	cfg.ModeSettle = c.Env.ModeSettle
	cfg.PostureSettle = c.Env.PostureSettle
	return cfg
}

// ObjectNav returns the settings of the built-in object navigator.
func (c *Config) ObjectNav() heuristic.ObjectNavConfig {
	return heuristic.ObjectNavConfig{
		CenterBand:     c.Agent.CenterBand,
		StopFraction:   c.Agent.StopFraction,
		MaxSearchTurns: c.Agent.MaxSearchTurns,
		MaxSteps:       c.Agent.MaxNavSteps,
	}
}

// Predictor returns the active interaction predictor settings and whether it is PerAct.
func (c *Config) Predictor() (SLAPConfig, bool) {
	if c.PerAct.Enabled {
		return c.PerAct, true
	}
	return c.SLAP, false
}

// SLAPModel returns the model-independent predictor settings.
func (s SLAPConfig) SLAPModel() slap.Config {
	return slap.Config{Tasks: s.Tasks, MaxPoints: s.MaxPoints}
}

// ViamRobot returns the settings of the Viam robot adapter.
func (c *Config) ViamRobot() viamrobot.Config {
	cfg := viamrobot.DefaultConfig()
	cfg.LinearSpeedMmPerSec = c.Robot.LinearSpeedMmPerSec
	cfg.AngularSpeedDegsPerSec = c.Robot.AngularSpeedDegsPerSec
	return cfg
}

// Hello returns the settings of the rosbridge goto controller client.
func (c *Config) Hello() rosbridge.HelloConfig {
	cfg := rosbridge.DefaultHelloConfig()
	cfg.PositionTolerance = c.Robot.PositionTolerance
	cfg.AngleTolerance = c.Robot.AngleTolerance
	cfg.Timeout = c.Robot.NavigateTimeout
	return cfg
}

// Replay returns the settings of demonstration replay.
func (c *Config) Replay() demo.Config {
	return demo.Config{
		UseTrueAction:     c.Demo.UseTrueAction,
		PerturbStartState: c.Demo.PerturbStartState,
		Seed:              c.Demo.Seed,
		MaxActionTime:     c.Demo.MaxActionTime,
		Settle:            c.Demo.Settle,
	}
}
