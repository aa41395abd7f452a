package rosbridge

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/golang/geo/r3"
	"go.viam.com/rdk/spatialmath"
)

// TopicAgentViz carries the agent's visualization payload as JSON.
const TopicAgentViz = "agent_viz"

// Visualizer publishes goals and predictions for RViz.
type Visualizer struct {
	client *Client

	mu  sync.Mutex
	seq uint32
}

// NewVisualizer returns a visualizer publishing through client.
func NewVisualizer(client *Client) *Visualizer {
	return &Visualizer{client: client}
}

func (v *Visualizer) header(frame string) Header {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seq++
	return Header{Seq: v.seq, FrameID: frame}
}

// Reset restarts message sequence numbers.
func (v *Visualizer) Reset() {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.seq = 0
}

// Point publishes p, in meters, as a stamped pose.
func (v *Visualizer) Point(ctx context.Context, topic string, p r3.Vector, frame string) error {
	if err := v.client.Advertise(ctx, topic, TypePoseStamped); err != nil {
		return err
	}
	return v.client.Publish(ctx, topic, PoseStamped{
		Header: v.header(frame),
		Pose:   Pose{Position: Vector3{X: p.X, Y: p.Y, Z: p.Z}, Orientation: Quaternion{W: 1}},
	})
}

// Poses publishes poses as a pose array.
func (v *Visualizer) Poses(ctx context.Context, topic string, poses []spatialmath.Pose, frame string) error {
	arrayTopic := topic + "_array"
	if err := v.client.Advertise(ctx, arrayTopic, TypePoseArray); err != nil {
		return err
	}
	msg := PoseArray{Header: v.header(frame), Poses: make([]Pose, 0, len(poses))}
	for _, p := range poses {
		msg.Poses = append(msg.Poses, PoseFromSpatial(p))
	}
	return v.client.Publish(ctx, arrayTopic, msg)
}

// Render publishes the payload as a JSON string.
func (v *Visualizer) Render(ctx context.Context, viz map[string]interface{}) error {
	raw, err := json.Marshal(viz)
	if err != nil {
		return err
	}
	if err := v.client.Advertise(ctx, TopicAgentViz, TypeString); err != nil {
		return err
	}
	return v.client.Publish(ctx, TopicAgentViz, String{Data: string(raw)})
}
