package demo

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pkg/errors"

	"github.com/viam-labs/stretch-agent/robot"
	"github.com/viam-labs/stretch-agent/ros"
)

// DefaultJointStateTopic is where the Stretch drivers publish joint states.
const DefaultJointStateTopic = "/stretch/joint_states"

// Trajectory is a recorded demonstration: full joint vectors in Stretch order.
type Trajectory struct {
	Name string      `json:"name"`
	Q    [][]float64 `json:"q"`
}

// rosJoints maps Stretch driver joint names to joint-vector indexes. The
// telescoping arm is reported per segment and summed.
var rosJoints = map[string]robot.Joint{
	"joint_lift":                robot.Lift,
	"joint_arm_l0":              robot.Arm,
	"joint_arm_l1":              robot.Arm,
	"joint_arm_l2":              robot.Arm,
	"joint_arm_l3":              robot.Arm,
	"joint_gripper_finger_left": robot.Gripper,
	"joint_wrist_roll":          robot.WristRoll,
	"joint_wrist_pitch":         robot.WristPitch,
	"joint_wrist_yaw":           robot.WristYaw,
	"joint_head_pan":            robot.HeadPan,
	"joint_head_tilt":           robot.HeadTilt,
}

// JointVector converts named joint positions to a Stretch joint vector.
// Base joints are not part of joint states and stay zero.
func JointVector(positions map[string]float64) []float64 {
	q := make([]float64, robot.NumJoints)
	for name, pos := range positions {
		if j, ok := rosJoints[name]; ok {
			q[j] += pos
		}
	}
	return q
}

// LoadTrajectories reads every .bag and .json demonstration in dir, sorted by
// file name.
func LoadTrajectories(dir, topic string) ([]Trajectory, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, errors.Wrapf(err, "reading demonstration directory %s", dir)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	var trajs []Trajectory
	for _, name := range names {
		path := filepath.Join(dir, name)
		var (
			traj Trajectory
			err  error
		)
		switch strings.ToLower(filepath.Ext(name)) {
		case ".bag":
			traj, err = loadBag(path, topic)
		case ".json":
			traj, err = loadJSON(path)
		default:
			continue
		}
		if err != nil {
			return nil, err
		}
		if traj.Name == "" {
			traj.Name = strings.TrimSuffix(name, filepath.Ext(name))
		}
		if len(traj.Q) == 0 {
			return nil, errors.Errorf("demonstration %s is empty", path)
		}
		trajs = append(trajs, traj)
	}
	if len(trajs) == 0 {
		return nil, errors.Errorf("no demonstrations in %s", dir)
	}
	return trajs, nil
}

func loadBag(path, topic string) (Trajectory, error) {
	rb, err := ros.ReadBag(path)
	if err != nil {
		return Trajectory{}, err
	}
	if topic, err = ros.JointStateTopic(rb, topic); err != nil {
		return Trajectory{}, errors.Wrapf(err, "reading %s", path)
	}
	msgs, err := ros.JointStates(rb, topic)
	if err != nil {
		return Trajectory{}, errors.Wrapf(err, "reading %s", path)
	}
	traj := Trajectory{Q: make([][]float64, 0, len(msgs))}
	for _, msg := range msgs {
		pos, err := msg.Positions()
		if err != nil {
			return Trajectory{}, errors.Wrapf(err, "reading %s", path)
		}
		traj.Q = append(traj.Q, JointVector(pos))
	}
	return traj, nil
}

func loadJSON(path string) (Trajectory, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return Trajectory{}, err
	}
	var traj Trajectory
	if err := json.Unmarshal(data, &traj); err != nil {
		return Trajectory{}, errors.Wrapf(err, "decoding %s", path)
	}
	for i, q := range traj.Q {
		if len(q) != robot.NumJoints {
			return Trajectory{}, errors.Errorf("%s: step %d has %d joints, want %d", path, i, len(q), robot.NumJoints)
		}
	}
	return traj, nil
}
