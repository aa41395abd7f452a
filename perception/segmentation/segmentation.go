// Package segmentation turns detector output into the goal masks the task
// agents navigate and grasp with.
package segmentation

import (
	"context"
	"image"
	"sync"

	"github.com/pkg/errors"
	"go.viam.com/rdk/services/vision"

	"github.com/viam-labs/stretch-agent/observation"
)

// Other is the catch-all vocabulary entry at both ends of every vocabulary.
const Other = "other"

// A Segmenter labels the pixels of an observation with vocabulary classes.
type Segmenter interface {
	// ResetVocab sets the classes to look for. Index 0 is the background class.
	ResetVocab(vocab []string)
	// Predict fills obs.Semantic and the instance fields of obs.Task.
	Predict(ctx context.Context, obs *observation.Observations) error
}

// GoalVocab is the vocabulary for a step's objects: "other", the objects, "other".
func GoalVocab(objects []string) []string {
	vocab := make([]string, 0, len(objects)+2)
	vocab = append(vocab, Other)
	vocab = append(vocab, objects...)
	return append(vocab, Other)
}

// SelectGoalMasks picks the goal out of an instance segmentation. The goal
// mask covers the best scoring instance of class goalID; the class mask covers
// every instance of that class scoring above threshold. Both are empty when no
// instance of the class was found.
func SelectGoalMasks(instanceMap []int, scores []float64, classes []int, goalID int, threshold float64) ([]bool, []bool) {
	goalMask := make([]bool, len(instanceMap))
	classMask := make([]bool, len(instanceMap))
	best, bestScore := -1, 0.
	valid := make(map[int]bool)
	for i := range scores {
		if i >= len(classes) || classes[i] != goalID {
			continue
		}
		if scores[i] > threshold {
			valid[i] = true
		}
		if best < 0 || scores[i] > bestScore {
			best, bestScore = i, scores[i]
		}
	}
	if best < 0 {
		return goalMask, classMask
	}
	for px, inst := range instanceMap {
		if inst == best {
			goalMask[px] = true
		}
		if valid[inst] {
			classMask[px] = true
		}
	}
	return goalMask, classMask
}

// RelabelBackground maps background pixels (class 0) to the last goal option,
// so exactly one "other" class remains.
func RelabelBackground(semantic []int, numGoalOptions int) {
	for i, c := range semantic {
		if c == 0 {
			semantic[i] = numGoalOptions - 1
		}
	}
}

// Detection is one labelled bounding box.
type Detection struct {
	Box   image.Rectangle
	Score float64
	Label string
}

// A Detector finds labelled boxes in the current camera frame.
type Detector interface {
	Detect(ctx context.Context) ([]Detection, error)
}

// VisionDetector reads detections from a vision service for one camera.
type VisionDetector struct {
	Service vision.Service
	Camera  string
}

// Detect implements Detector.
func (d *VisionDetector) Detect(ctx context.Context) ([]Detection, error) {
	dets, err := d.Service.DetectionsFromCamera(ctx, d.Camera, nil)
	if err != nil {
		return nil, errors.Wrapf(err, "getting detections from %s", d.Camera)
	}
	out := make([]Detection, 0, len(dets))
	for _, det := range dets {
		box := det.BoundingBox()
		if box == nil {
			continue
		}
		out = append(out, Detection{Box: *box, Score: det.Score(), Label: det.Label()})
	}
	return out, nil
}

// VisionSegmenter segments by filling detection boxes. Where boxes overlap the
// higher scoring detection wins.
type VisionSegmenter struct {
	mu       sync.Mutex
	detector Detector
	vocab    []string
	width    int
	height   int
}

// NewVisionSegmenter returns a segmenter for frames of the given size; frames
// that report their own size override it.
func NewVisionSegmenter(detector Detector, width, height int) *VisionSegmenter {
	return &VisionSegmenter{detector: detector, vocab: []string{Other}, width: width, height: height}
}

// ResetVocab implements Segmenter.
func (s *VisionSegmenter) ResetVocab(vocab []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vocab = append([]string(nil), vocab...)
}

func (s *VisionSegmenter) classOf(label string) int {
	for i, v := range s.vocab {
		if i > 0 && v == label && v != Other {
			return i
		}
	}
	return 0
}

// Predict implements Segmenter.
func (s *VisionSegmenter) Predict(ctx context.Context, obs *observation.Observations) error {
	dets, err := s.detector.Detect(ctx)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if obs.Width == 0 || obs.Height == 0 {
		obs.Width, obs.Height = s.width, s.height
	}
	w, h := obs.Width, obs.Height
	bounds := image.Rect(0, 0, w, h)

	semantic := make([]int, w*h)
	instances := make([]int, w*h)
	owner := make([]float64, w*h)
	for i := range instances {
		instances[i] = -1
	}
	scores := make([]float64, 0, len(dets))
	classes := make([]int, 0, len(dets))
	for i, det := range dets {
		class := s.classOf(det.Label)
		scores = append(scores, det.Score)
		classes = append(classes, class)
		box := det.Box.Intersect(bounds)
		for y := box.Min.Y; y < box.Max.Y; y++ {
			for x := box.Min.X; x < box.Max.X; x++ {
				px := y*w + x
				if instances[px] >= 0 && owner[px] >= det.Score {
					continue
				}
				instances[px] = i
				owner[px] = det.Score
				semantic[px] = class
			}
		}
	}
	obs.Semantic = semantic
	obs.Task.InstanceMap = instances
	obs.Task.InstanceScores = scores
	obs.Task.InstanceClasses = classes
	return nil
}
