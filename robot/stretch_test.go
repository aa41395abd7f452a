package robot

import (
	"testing"

	"go.viam.com/test"
)

func TestReducedJoints(t *testing.T) {
	q := make([]float64, NumJoints)
	for i := range q {
		q[i] = float64(i)
	}
	test.That(t, ReducedJoints(q), test.ShouldResemble, []float64{0, 3, 4, 8, 7, 6})
	test.That(t, ExtendArmJoints(0.8, 0.4), test.ShouldResemble, []float64{0, 0.8, 0.4, 0, 0, 0})
}

func TestJointNames(t *testing.T) {
	test.That(t, NumJoints, test.ShouldEqual, 11)
	test.That(t, WristYaw.String(), test.ShouldEqual, "wrist_yaw")
	test.That(t, Joint(42).String(), test.ShouldEqual, "unknown")
	test.That(t, ModeManipulation.String(), test.ShouldEqual, "manipulation")
}
