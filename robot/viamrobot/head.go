package viamrobot

import (
	"context"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/pointcloud"
	"go.viam.com/rdk/spatialmath"
	viz "go.viam.com/rdk/vision"

	"github.com/viam-labs/stretch-agent/robot"
)

// ObjectSource segments the camera's point cloud into objects. The vision
// service satisfies it.
type ObjectSource interface {
	GetObjectPointClouds(ctx context.Context, cameraName string, extra map[string]interface{}) ([]*viz.Object, error)
}

// VisionHead reports a fixed head camera whose points come from a vision
// service. Points are reported in meters in the camera frame.
type VisionHead struct {
	Source ObjectSource
	Camera string
	Width  int
	Height int
	// Mount is the camera pose in the base frame, millimeters.
	Mount spatialmath.Pose
	Nav   robot.Navigator
}

// Images implements robot.Head. Color and depth images are not read; the
// frame carries the segmented points when computeXYZ is set.
func (h *VisionHead) Images(ctx context.Context, computeXYZ bool) (robot.Frames, error) {
	frames := robot.Frames{Width: h.Width, Height: h.Height}
	if !computeXYZ {
		return frames, nil
	}
	objects, err := h.Source.GetObjectPointClouds(ctx, h.Camera, nil)
	if err != nil {
		return frames, errors.Wrapf(err, "getting point clouds from %s", h.Camera)
	}
	for _, obj := range objects {
		if obj == nil || obj.PointCloud == nil {
			continue
		}
		obj.PointCloud.Iterate(0, 0, func(p r3.Vector, _ pointcloud.Data) bool {
			frames.XYZ = append(frames.XYZ, p.Mul(0.001))
			return true
		})
	}
	return frames, nil
}

// CameraPose implements robot.Head.
func (h *VisionHead) CameraPose(ctx context.Context, inBase bool) (spatialmath.Pose, error) {
	mount := h.Mount
	if mount == nil {
		mount = spatialmath.NewZeroPose()
	}
	if inBase {
		return mount, nil
	}
	base, err := h.Nav.BasePose(ctx)
	if err != nil {
		return nil, err
	}
	return spatialmath.Compose(base.Pose(), mount), nil
}
