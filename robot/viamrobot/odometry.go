package viamrobot

import (
	"context"
	"math"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"

	"github.com/viam-labs/stretch-agent/geometry"
)

// minMoveMm and minTurnDeg are below what the base can execute.
const (
	minMoveMm  = 5
	minTurnDeg = 0.5
)

// Odometry navigates a base by turning towards the goal, driving straight,
// and turning to the goal heading. The pose is dead-reckoned from the
// commands, starting at the origin.
type Odometry struct {
	base       Base
	mmPerSec   float64
	degsPerSec float64

	mu   sync.Mutex
	pose geometry.XYT
}

// NewOdometry returns an Odometry at the origin.
func NewOdometry(b Base, mmPerSec, degsPerSec float64) *Odometry {
	return &Odometry{base: b, mmPerSec: mmPerSec, degsPerSec: degsPerSec}
}

// BasePose implements robot.Navigator.
func (o *Odometry) BasePose(ctx context.Context) (geometry.XYT, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.pose, nil
}

// NavigateTo implements robot.Navigator.
func (o *Odometry) NavigateTo(ctx context.Context, xyt geometry.XYT, relative bool) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	local := xyt
	if !relative {
		local = geometry.GlobalToBase(o.pose, xyt)
	}
	dist := math.Hypot(local.X, local.Y)
	heading := 0.
	if dist*1000 >= minMoveMm {
		heading = math.Atan2(local.Y, local.X)
		if err := o.spin(ctx, heading); err != nil {
			return err
		}
		if err := o.base.MoveStraight(ctx, int(math.Round(dist*1000)), o.mmPerSec, nil); err != nil {
			return errors.Wrap(err, "driving base")
		}
		o.pose = geometry.BaseToGlobal(o.pose, geometry.XYT{X: dist})
	}
	return o.spin(ctx, geometry.NormalizeAngle(local.Theta-heading))
}

func (o *Odometry) spin(ctx context.Context, theta float64) error {
	deg := theta * 180 / math.Pi
	if math.Abs(deg) < minTurnDeg {
		return nil
	}
	if err := o.base.Spin(ctx, deg, o.degsPerSec, nil); err != nil {
		return errors.Wrap(err, "turning base")
	}
	o.pose = geometry.BaseToGlobal(o.pose, geometry.XYT{Theta: theta})
	return nil
}

// SetVelocity implements robot.Navigator. Velocity commands are not tracked
// by the odometry.
func (o *Odometry) SetVelocity(ctx context.Context, v, w float64) error {
	return o.base.SetVelocity(ctx, r3.Vector{Y: v * 1000}, r3.Vector{Z: w * 180 / math.Pi}, nil)
}
