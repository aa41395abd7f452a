package rosbridge

import (
	"math"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"
	"gonum.org/v1/gonum/num/quat"

	"github.com/viam-labs/stretch-agent/geometry"
)

// ROS message type names.
const (
	TypePose        = "geometry_msgs/Pose"
	TypePoseStamped = "geometry_msgs/PoseStamped"
	TypePoseArray   = "geometry_msgs/PoseArray"
	TypeTwist       = "geometry_msgs/Twist"
	TypeString      = "std_msgs/String"
)

// Vector3 is a geometry_msgs/Vector3 or Point.
type Vector3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

// Quaternion is a geometry_msgs/Quaternion.
type Quaternion struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
	W float64 `json:"w"`
}

// Pose is a geometry_msgs/Pose in meters.
type Pose struct {
	Position    Vector3    `json:"position"`
	Orientation Quaternion `json:"orientation"`
}

// Time is a ROS time.
type Time struct {
	Secs  int64 `json:"secs"`
	Nsecs int64 `json:"nsecs"`
}

// Header is a std_msgs/Header.
type Header struct {
	Seq     uint32 `json:"seq"`
	Stamp   Time   `json:"stamp"`
	FrameID string `json:"frame_id"`
}

// PoseStamped is a geometry_msgs/PoseStamped.
type PoseStamped struct {
	Header Header `json:"header"`
	Pose   Pose   `json:"pose"`
}

// PoseArray is a geometry_msgs/PoseArray.
type PoseArray struct {
	Header Header `json:"header"`
	Poses  []Pose `json:"poses"`
}

// Twist is a geometry_msgs/Twist.
type Twist struct {
	Linear  Vector3 `json:"linear"`
	Angular Vector3 `json:"angular"`
}

// String is a std_msgs/String.
type String struct {
	Data string `json:"data"`
}

// TriggerResponse is the response of std_srvs/Trigger.
type TriggerResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message"`
}

// SetBoolRequest is the request of std_srvs/SetBool.
type SetBoolRequest struct {
	Data bool `json:"data"`
}

// PoseFromXYT is the planar pose as a ROS pose.
func PoseFromXYT(p geometry.XYT) Pose {
	return Pose{
		Position: Vector3{X: p.X, Y: p.Y},
		Orientation: Quaternion{
			Z: math.Sin(p.Theta / 2),
			W: math.Cos(p.Theta / 2),
		},
	}
}

// XYT projects a ROS pose onto the floor plane.
func (p Pose) XYT() geometry.XYT {
	q := p.Orientation
	yaw := math.Atan2(2*(q.W*q.Z+q.X*q.Y), 1-2*(q.Y*q.Y+q.Z*q.Z))
	return geometry.XYT{X: p.Position.X, Y: p.Position.Y, Theta: geometry.NormalizeAngle(yaw)}
}

// PoseFromSpatial converts an SE(3) pose in millimeters to a ROS pose.
func PoseFromSpatial(p spatialmath.Pose) Pose {
	pt := p.Point().Mul(0.001)
	q := p.Orientation().Quaternion()
	return Pose{
		Position:    Vector3{X: pt.X, Y: pt.Y, Z: pt.Z},
		Orientation: Quaternion{X: q.Imag, Y: q.Jmag, Z: q.Kmag, W: q.Real},
	}
}

// Spatial converts the ROS pose to an SE(3) pose in millimeters.
func (p Pose) Spatial() spatialmath.Pose {
	q := spatialmath.Quaternion(quat.Number{
		Real: p.Orientation.W, Imag: p.Orientation.X, Jmag: p.Orientation.Y, Kmag: p.Orientation.Z,
	})
	return spatialmath.NewPose(r3.Vector{X: p.Position.X, Y: p.Position.Y, Z: p.Position.Z}.Mul(1000), &q)
}
