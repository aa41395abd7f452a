package segmentation

import (
	"context"
	"image"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"

	"github.com/viam-labs/stretch-agent/observation"
)

type staticDetector struct {
	dets []Detection
	err  error
}

func (d *staticDetector) Detect(context.Context) ([]Detection, error) {
	return d.dets, d.err
}

func TestGoalVocab(t *testing.T) {
	test.That(t, GoalVocab([]string{"chair", "bottle"}), test.ShouldResemble, []string{"other", "chair", "bottle", "other"})
}

func TestSelectGoalMasks(t *testing.T) {
	instanceMap := []int{-1, 0, 0, 1, 1, 2}
	scores := []float64{0.9, 0.6, 0.3}
	classes := []int{1, 2, 2}

	goal, class := SelectGoalMasks(instanceMap, scores, classes, 2, 0.5)
	test.That(t, goal, test.ShouldResemble, []bool{false, false, false, true, true, false})
	test.That(t, class, test.ShouldResemble, []bool{false, false, false, true, true, false})

	goal, class = SelectGoalMasks(instanceMap, scores, classes, 2, 0.2)
	test.That(t, goal, test.ShouldResemble, []bool{false, false, false, true, true, false})
	test.That(t, class, test.ShouldResemble, []bool{false, false, false, true, true, true})

	goal, class = SelectGoalMasks(instanceMap, scores, classes, 3, 0.2)
	test.That(t, goal, test.ShouldResemble, make([]bool, 6))
	test.That(t, class, test.ShouldResemble, make([]bool, 6))
}

func TestRelabelBackground(t *testing.T) {
	semantic := []int{0, 1, 2, 0}
	RelabelBackground(semantic, 4)
	test.That(t, semantic, test.ShouldResemble, []int{3, 1, 2, 3})
}

func TestVisionSegmenter(t *testing.T) {
	ctx := context.Background()
	det := &staticDetector{dets: []Detection{
		{Box: image.Rect(0, 0, 2, 2), Score: 0.4, Label: "table"},
		{Box: image.Rect(1, 1, 3, 3), Score: 0.8, Label: "cup"},
		{Box: image.Rect(3, 0, 10, 1), Score: 0.9, Label: "plant"},
	}}
	seg := NewVisionSegmenter(det, 4, 3)
	seg.ResetVocab(GoalVocab([]string{"table", "cup"}))

	obs := &observation.Observations{}
	test.That(t, seg.Predict(ctx, obs), test.ShouldBeNil)
	test.That(t, obs.Width, test.ShouldEqual, 4)
	test.That(t, obs.Height, test.ShouldEqual, 3)
	test.That(t, obs.Task.InstanceClasses, test.ShouldResemble, []int{1, 2, 0})
	test.That(t, obs.Task.InstanceScores, test.ShouldResemble, []float64{0.4, 0.8, 0.9})
	test.That(t, obs.Task.InstanceMap, test.ShouldResemble, []int{
		0, 0, -1, 2,
		0, 1, 1, -1,
		-1, 1, 1, -1,
	})
	test.That(t, obs.Semantic, test.ShouldResemble, []int{
		1, 1, 0, 0,
		1, 2, 2, 0,
		0, 2, 2, 0,
	})

	det.err = errors.New("camera unplugged")
	test.That(t, seg.Predict(ctx, obs), test.ShouldNotBeNil)
}
