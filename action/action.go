// Package action defines the actions agents emit and environments execute.
package action

import (
	"strings"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/num/quat"

	"github.com/viam-labs/stretch-agent/geometry"
)

// An Action is anything an agent can ask an environment to do. The concrete
// types are DiscreteNavigationAction, ContinuousNavigationAction,
// ContinuousEndEffectorAction and ContinuousFullBodyAction.
type Action interface {
	kind() Kind
}

// Kind classifies an action by the part of the robot it drives.
type Kind uint8

// The known action kinds.
const (
	KindDiscrete Kind = iota
	KindNavigation
	KindManipulation
)

func (k Kind) String() string {
	switch k {
	case KindDiscrete:
		return "discrete"
	case KindNavigation:
		return "navigation"
	case KindManipulation:
		return "manipulation"
	default:
		return "unknown"
	}
}

// KindOf returns the kind of an action.
func KindOf(a Action) Kind {
	return a.kind()
}

// DiscreteNavigationAction is a symbolic command. Besides base motions it
// carries the mode-switch and gripper commands the skills use.
type DiscreteNavigationAction uint8

// Discrete actions.
const (
	Stop DiscreteNavigationAction = iota
	MoveForward
	TurnLeft
	TurnRight
	PickObject
	PlaceObject
	NavigationMode
	ManipulationMode
	PostNavMode
	ExtendArm
	EmptyAction
	SnapObject
	DesnapObject
)

var discreteNames = map[DiscreteNavigationAction]string{
	Stop:             "stop",
	MoveForward:      "move_forward",
	TurnLeft:         "turn_left",
	TurnRight:        "turn_right",
	PickObject:       "pick_object",
	PlaceObject:      "place_object",
	NavigationMode:   "navigation_mode",
	ManipulationMode: "manipulation_mode",
	PostNavMode:      "post_nav_mode",
	ExtendArm:        "extend_arm",
	EmptyAction:      "empty_action",
	SnapObject:       "snap_object",
	DesnapObject:     "desnap_object",
}

func (d DiscreteNavigationAction) kind() Kind { return KindDiscrete }

func (d DiscreteNavigationAction) String() string {
	if name, ok := discreteNames[d]; ok {
		return name
	}
	return "unknown"
}

// ParseDiscrete maps a name such as "move_forward" or "MOVE_FORWARD" back to its action.
func ParseDiscrete(name string) (DiscreteNavigationAction, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	for d, n := range discreteNames {
		if n == name {
			return d, nil
		}
	}
	return 0, errors.Errorf("unknown discrete action %q", name)
}

// ContinuousNavigationAction asks for a base goal. Unless the accompanying
// Info carries a SLAP target the goal is relative to the current base pose.
type ContinuousNavigationAction struct {
	XYT geometry.XYT
}

func (ContinuousNavigationAction) kind() Kind { return KindNavigation }

// Waypoint is one end-effector target in the base frame.
type Waypoint struct {
	Position    r3.Vector   // meters
	Orientation quat.Number // unit quaternion
	Gripper     float64
}

// Pose is the waypoint as an SE(3) pose in millimeters.
func (w Waypoint) Pose() spatialmath.Pose {
	q := spatialmath.Quaternion(w.Orientation)
	return spatialmath.NewPose(w.Position.Mul(1000), &q)
}

// ContinuousEndEffectorAction is a sequence of end-effector waypoints.
type ContinuousEndEffectorAction struct {
	Waypoints []Waypoint
}

func (ContinuousEndEffectorAction) kind() Kind { return KindManipulation }

// WaypointWidth is the row width of a prediction matrix: position, quaternion (x, y, z, w), gripper.
const WaypointWidth = 8

// NewEndEffectorAction builds an action from an N x 8 row-major prediction
// matrix laid out as [x y z qx qy qz qw gripper].
func NewEndEffectorAction(rows [][]float64) (ContinuousEndEffectorAction, error) {
	if len(rows) == 0 {
		return ContinuousEndEffectorAction{}, errors.New("end-effector action needs at least one waypoint")
	}
	waypoints := make([]Waypoint, 0, len(rows))
	for i, row := range rows {
		if len(row) != WaypointWidth {
			return ContinuousEndEffectorAction{}, errors.Errorf("waypoint %d has %d values, want %d", i, len(row), WaypointWidth)
		}
		waypoints = append(waypoints, Waypoint{
			Position:    r3.Vector{X: row[0], Y: row[1], Z: row[2]},
			Orientation: quat.Number{Imag: row[3], Jmag: row[4], Kmag: row[5], Real: row[6]},
			Gripper:     row[7],
		})
	}
	return ContinuousEndEffectorAction{Waypoints: waypoints}, nil
}


// ContinuousFullBodyAction commands arm joints and a relative base motion together.
type ContinuousFullBodyAction struct {
	Joints []float64
	XYT    geometry.XYT
}

func (ContinuousFullBodyAction) kind() Kind { return KindManipulation }
