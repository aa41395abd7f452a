package agent

import (
	"testing"

	"go.viam.com/test"
)

func TestStrings(t *testing.T) {
	test.That(t, NotStarted.String(), test.ShouldEqual, "not_started")
	test.That(t, DoingTask.String(), test.ShouldEqual, "doing_task")
	test.That(t, TaskState(9).String(), test.ShouldEqual, "unknown")
	test.That(t, Navigation.String(), test.ShouldEqual, "navigation")
	test.That(t, Manipulation.String(), test.ShouldEqual, "manipulation")
}
