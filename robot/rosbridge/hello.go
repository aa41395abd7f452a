package rosbridge

import (
	"context"
	"encoding/json"
	"math"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/viam-labs/stretch-agent/geometry"
	"github.com/viam-labs/stretch-agent/robot"
)

// Topics and services of the Stretch ROS drivers.
const (
	TopicGoal     = "goto_controller/goal"
	TopicVelocity = "stretch/cmd_vel"
	TopicPose     = "state_estimator/pose_filtered"

	ServiceNavigationMode = "/switch_to_navigation_mode"
	ServicePositionMode   = "/switch_to_position_mode"
	ServiceGotoEnable     = "goto_controller/enable"
	ServiceGotoDisable    = "goto_controller/disable"
	ServiceYawTracking    = "goto_controller/toggle_yaw_tracking"
)

// ErrNoPose is returned before the state estimator has reported a pose.
var ErrNoPose = errors.New("no base pose received yet")

// HelloConfig tunes blocking navigation.
type HelloConfig struct {
	PositionTolerance float64       `json:"position_tolerance"` // meters
	AngleTolerance    float64       `json:"angle_tolerance"`    // radians
	Timeout           time.Duration `json:"-"`
	PollInterval      time.Duration `json:"-"`
}

// DefaultHelloConfig returns the tolerances of the goto controller.
func DefaultHelloConfig() HelloConfig {
	return HelloConfig{
		PositionTolerance: 0.05,
		AngleTolerance:    0.05,
		Timeout:           30 * time.Second,
		PollInterval:      100 * time.Millisecond,
	}
}

// HelloRobot drives the Stretch base through its goto controller.
type HelloRobot struct {
	client *Client
	cfg    HelloConfig
	clock  clock.Clock
	logger logging.Logger

	mu       sync.Mutex
	pose     geometry.XYT
	havePose bool
	mode     robot.Mode
}

var (
	_ robot.Navigator  = (*HelloRobot)(nil)
	_ robot.YawTracker = (*HelloRobot)(nil)
)

// NewHelloRobot advertises the command topics and subscribes to the base
// state estimate.
func NewHelloRobot(ctx context.Context, client *Client, cfg HelloConfig, clk clock.Clock, logger logging.Logger) (*HelloRobot, error) {
	if clk == nil {
		clk = clock.New()
	}
	h := &HelloRobot{client: client, cfg: cfg, clock: clk, logger: logger}
	if err := client.Advertise(ctx, TopicGoal, TypePose); err != nil {
		return nil, err
	}
	if err := client.Advertise(ctx, TopicVelocity, TypeTwist); err != nil {
		return nil, err
	}
	if err := client.Subscribe(ctx, TopicPose, TypePoseStamped, h.stateCallback); err != nil {
		return nil, err
	}
	return h, nil
}

func (h *HelloRobot) stateCallback(raw json.RawMessage) {
	var msg PoseStamped
	if err := json.Unmarshal(raw, &msg); err != nil {
		h.logger.Debugw("bad pose message", "error", err)
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.pose = msg.Pose.XYT()
	h.havePose = true
}

// BasePose implements robot.Navigator.
func (h *HelloRobot) BasePose(ctx context.Context) (geometry.XYT, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.havePose {
		return geometry.XYT{}, ErrNoPose
	}
	return h.pose, nil
}

// Wait blocks until the first pose arrives.
func (h *HelloRobot) Wait(ctx context.Context) error {
	ticker := h.clock.Ticker(h.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if _, err := h.BasePose(ctx); err == nil {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// SetGoal sends a global goal to the goto controller without waiting.
func (h *HelloRobot) SetGoal(ctx context.Context, goal geometry.XYT) error {
	return h.client.Publish(ctx, TopicGoal, PoseFromXYT(goal))
}

// NavigateTo implements robot.Navigator. It returns once the state estimate
// is within tolerance of the goal.
func (h *HelloRobot) NavigateTo(ctx context.Context, xyt geometry.XYT, relative bool) error {
	goal := xyt
	if relative {
		current, err := h.BasePose(ctx)
		if err != nil {
			return err
		}
		goal = geometry.BaseToGlobal(current, xyt)
	}
	if err := h.SetGoal(ctx, goal); err != nil {
		return err
	}

	timeout := h.clock.Timer(h.cfg.Timeout)
	defer timeout.Stop()
	ticker := h.clock.Ticker(h.cfg.PollInterval)
	defer ticker.Stop()
	for {
		if h.reached(goal) {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-timeout.C:
			current, _ := h.BasePose(ctx)
			return errors.Errorf("base did not reach %+v within %s, at %+v", goal, h.cfg.Timeout, current)
		case <-ticker.C:
		}
	}
}

func (h *HelloRobot) reached(goal geometry.XYT) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if !h.havePose {
		return false
	}
	dist := math.Hypot(goal.X-h.pose.X, goal.Y-h.pose.Y)
	return dist <= h.cfg.PositionTolerance &&
		math.Abs(geometry.NormalizeAngle(goal.Theta-h.pose.Theta)) <= h.cfg.AngleTolerance
}

// SetVelocity implements robot.Navigator. The goto controller overrides it
// while enabled.
func (h *HelloRobot) SetVelocity(ctx context.Context, v, w float64) error {
	return h.client.Publish(ctx, TopicVelocity, Twist{Linear: Vector3{X: v}, Angular: Vector3{Z: w}})
}

func (h *HelloRobot) trigger(ctx context.Context, service string) error {
	var resp TriggerResponse
	if err := h.client.CallService(ctx, service, nil, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return errors.Errorf("%s: %s", service, resp.Message)
	}
	h.logger.Debugw("service called", "service", service, "message", resp.Message)
	return nil
}

// Mode is the last mode switched to.
func (h *HelloRobot) Mode() robot.Mode {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.mode
}

// SwitchToNavigationMode puts the drivers in navigation mode and enables the
// goto controller.
func (h *HelloRobot) SwitchToNavigationMode(ctx context.Context) error {
	if err := h.trigger(ctx, ServiceNavigationMode); err != nil {
		return err
	}
	if err := h.trigger(ctx, ServiceGotoEnable); err != nil {
		return err
	}
	h.mu.Lock()
	h.mode = robot.ModeNavigation
	h.mu.Unlock()
	return nil
}

// SwitchToManipulationMode puts the drivers in position mode and disables
// the goto controller.
func (h *HelloRobot) SwitchToManipulationMode(ctx context.Context) error {
	if err := h.trigger(ctx, ServicePositionMode); err != nil {
		return err
	}
	if err := h.trigger(ctx, ServiceGotoDisable); err != nil {
		return err
	}
	h.mu.Lock()
	h.mode = robot.ModeManipulation
	h.mu.Unlock()
	return nil
}

// SetYawTracking turns heading tracking of the goto controller on or off.
// With it off only the goal position is tracked.
func (h *HelloRobot) SetYawTracking(ctx context.Context, on bool) error {
	var resp TriggerResponse
	if err := h.client.CallService(ctx, ServiceYawTracking, SetBoolRequest{Data: on}, &resp); err != nil {
		return err
	}
	if !resp.Success {
		return errors.Errorf("%s: %s", ServiceYawTracking, resp.Message)
	}
	return nil
}
