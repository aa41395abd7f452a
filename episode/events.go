package episode

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"
)

// EventType names a point in an episode's life.
type EventType string

// The events a Runner publishes.
const (
	StepStarted   EventType = "step_started"
	ActionApplied EventType = "action_applied"
	TaskDone      EventType = "task_done"
	EpisodeFailed EventType = "episode_failed"
)

// An Event is published as JSON.
type Event struct {
	Type      EventType `json:"type"`
	EpisodeID string    `json:"episode_id"`
	Task      string    `json:"task"`
	Step      int       `json:"step"`
	Skill     string    `json:"skill,omitempty"`
	Action    string    `json:"action,omitempty"`
	Kind      string    `json:"kind,omitempty"`
	Done      bool      `json:"done,omitempty"`
	Error     string    `json:"error,omitempty"`
	Time      time.Time `json:"time"`
}

// A Publisher sends episode events somewhere.
type Publisher interface {
	Publish(ctx context.Context, e Event) error
}

// LogPublisher writes events to a logger.
type LogPublisher struct {
	Logger logging.Logger
}

// Publish implements Publisher.
func (p LogPublisher) Publish(_ context.Context, e Event) error {
	fields := []interface{}{"episode", e.EpisodeID, "task", e.Task, "step", e.Step}
	if e.Skill != "" {
		fields = append(fields, "skill", e.Skill)
	}
	if e.Action != "" {
		fields = append(fields, "action", e.Action, "kind", e.Kind, "done", e.Done)
	}
	if e.Error != "" {
		p.Logger.Warnw(string(e.Type), append(fields, "error", e.Error)...)
		return nil
	}
	p.Logger.Infow(string(e.Type), fields...)
	return nil
}

// DefaultSubjectPrefix is the NATS subject events go under.
const DefaultSubjectPrefix = "stretch.episodes"

// NATSPublisher publishes events to subjects of the form
// <prefix>.<episode id>.<event type>.
type NATSPublisher struct {
	conn   *nats.Conn
	prefix string
}

// ConnectNATS dials a NATS server.
func ConnectNATS(url, prefix string, logger logging.Logger) (*NATSPublisher, error) {
	if prefix == "" {
		prefix = DefaultSubjectPrefix
	}
	nc, err := nats.Connect(url,
		nats.Name("stretch-agent"),
		nats.RetryOnFailedConnect(true),
		nats.MaxReconnects(5),
		nats.ReconnectWait(time.Second),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			if err != nil {
				logger.Warnw("disconnected from NATS", "error", err)
			}
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Infow("reconnected to NATS", "url", c.ConnectedUrl())
		}),
	)
	if err != nil {
		return nil, errors.Wrapf(err, "connecting to NATS at %s", url)
	}
	return &NATSPublisher{conn: nc, prefix: prefix}, nil
}

// Subject returns where e is published.
func (p *NATSPublisher) Subject(e Event) string {
	return Subject(p.prefix, e)
}

// Subject returns the subject for e under prefix.
func Subject(prefix string, e Event) string {
	return fmt.Sprintf("%s.%s.%s", prefix, e.EpisodeID, e.Type)
}

// Publish implements Publisher.
func (p *NATSPublisher) Publish(_ context.Context, e Event) error {
	data, err := json.Marshal(e)
	if err != nil {
		return errors.Wrap(err, "encoding event")
	}
	if err := p.conn.Publish(p.Subject(e), data); err != nil {
		return errors.Wrapf(err, "publishing %s", e.Type)
	}
	return nil
}

// Close flushes pending events and disconnects.
func (p *NATSPublisher) Close() error {
	return p.conn.Drain()
}
