package robot

// Joint indexes the Stretch joint vector.
type Joint int

// Stretch joints in joint-vector order.
const (
	BaseX Joint = iota
	BaseY
	BaseTheta
	Lift
	Arm
	Gripper
	WristRoll
	WristPitch
	WristYaw
	HeadPan
	HeadTilt

	NumJoints = int(HeadTilt) + 1
)

var jointNames = [...]string{
	"base_x", "base_y", "base_theta", "lift", "arm", "gripper",
	"wrist_roll", "wrist_pitch", "wrist_yaw", "head_pan", "head_tilt",
}

func (j Joint) String() string {
	if j < 0 || int(j) >= len(jointNames) {
		return "unknown"
	}
	return jointNames[j]
}

// ReducedJoints picks the joints a manipulator goto takes out of a full joint vector:
// [base_x, lift, arm, wrist_yaw, wrist_pitch, wrist_roll].
func ReducedJoints(q []float64) []float64 {
	return []float64{q[BaseX], q[Lift], q[Arm], q[WristYaw], q[WristPitch], q[WristRoll]}
}

// ExtendArmJoints is the reduced joint command for a lift height and arm extension, meters.
func ExtendArmJoints(lift, extension float64) []float64 {
	return []float64{0, lift, extension, 0, 0, 0}
}
