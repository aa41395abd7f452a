package ros

import "github.com/pkg/errors"

// Stamp is a ROS time.
type Stamp struct {
	Secs  int
	Nsecs int
}

// Seconds is the stamp as fractional seconds.
func (s Stamp) Seconds() float64 {
	return float64(s.Secs) + float64(s.Nsecs)*1e-9
}

// Header is a std_msgs/Header.
type Header struct {
	Seq     int
	Stamp   Stamp
	FrameID string `json:"frame_id"`
}

// JointStateMessage is a sensor_msgs/JointState as parsed out of a bag.
type JointStateMessage struct {
	Meta Stamp
	Data struct {
		Header   Header
		Name     []string
		Position []float64
		Velocity []float64
		Effort   []float64
	}
}

// Positions maps joint names to positions.
func (m JointStateMessage) Positions() (map[string]float64, error) {
	if len(m.Data.Name) != len(m.Data.Position) {
		return nil, errors.Errorf("joint state has %d names but %d positions", len(m.Data.Name), len(m.Data.Position))
	}
	out := make(map[string]float64, len(m.Data.Name))
	for i, name := range m.Data.Name {
		out[name] = m.Data.Position[i]
	}
	return out, nil
}
