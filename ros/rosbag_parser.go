// Package ros reads recorded ROS bags.
package ros

import (
	"encoding/json"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/edaniels/gobag/rosbag"
	"github.com/pkg/errors"
	"go.viam.com/utils"
)

// ReadBag reads the contents of a rosbag into a gobag data structure.
func ReadBag(filename string) (*rosbag.RosBag, error) {
	//nolint:gosec
	f, err := os.Open(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "unable to open input file")
	}
	defer utils.UncheckedErrorFunc(f.Close)

	rb := rosbag.NewRosBag()
	if err := rb.Read(f); err != nil {
		return nil, errors.Wrapf(err, "unable to read ros bag %s", filename)
	}
	return rb, nil
}

// JointStateType is the ROS type of joint state messages.
const JointStateType = "sensor_msgs/JointState"

// Topics maps each topic recorded in the bag to its message type.
func Topics(rb *rosbag.RosBag) map[string]string {
	topics := make(map[string]string, len(rb.Connections))
	for _, conn := range rb.Connections {
		topics[conn.HeaderTopic] = conn.ConnectionType
	}
	return topics
}

// JointStateTopic returns want if the bag recorded it. Otherwise it falls back
// to the bag's only joint state topic.
func JointStateTopic(rb *rosbag.RosBag, want string) (string, error) {
	topics := Topics(rb)
	if _, ok := topics[want]; ok {
		return want, nil
	}
	var found []string
	for topic, typ := range topics {
		if typ == JointStateType {
			found = append(found, topic)
		}
	}
	switch len(found) {
	case 1:
		return found[0], nil
	case 0:
		return "", errors.Errorf("no %s topic in bag", JointStateType)
	default:
		sort.Strings(found)
		return "", errors.Errorf("topic %s not in bag and %s is ambiguous between %v", want, JointStateType, found)
	}
}

// jsonKey is the key gobag files a topic's messages under in TopicsAsJSON.
func jsonKey(topic string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimPrefix(topic, "/"), "/", "_"))
}

// JointStates decodes every sensor_msgs/JointState message on topic.
func JointStates(rb *rosbag.RosBag, topic string) ([]JointStateMessage, error) {
	var all []JointStateMessage
	err := eachMessage(rb, topic, func(data []byte) error {
		var msg JointStateMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			return errors.Wrapf(err, "decoding joint state on %s", topic)
		}
		all = append(all, msg)
		return nil
	})
	return all, err
}

func eachMessage(rb *rosbag.RosBag, topic string, fn func([]byte) error) error {
	// parsing appends to existing buffers
	delete(rb.TopicsAsJSON, jsonKey(topic))
	if err := rb.ParseTopicsToJSON(
		"",
		func(int64) bool { return true },
		func(t string) bool { return t == topic },
		false,
	); err != nil {
		return errors.Wrapf(err, "error while parsing bag to JSON")
	}

	msgs := rb.TopicsAsJSON[jsonKey(topic)]
	if msgs == nil {
		return errors.Errorf("no messages for topic %s", topic)
	}

	for {
		data, err := msgs.ReadBytes('\n')
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		if err := fn(data); err != nil {
			return err
		}
	}
}
