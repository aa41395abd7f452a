// Package episode runs language-agent episodes on a robot and records them.
package episode

import (
	"context"
	"fmt"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/viam-labs/stretch-agent/action"
	"github.com/viam-labs/stretch-agent/agent/language"
	"github.com/viam-labs/stretch-agent/observation"
)

// DefaultMaxSteps bounds an episode when no limit is configured.
const DefaultMaxSteps = 500

// ErrStepLimit is returned when an episode runs out of steps.
var ErrStepLimit = errors.New("episode step limit reached")

// An Agent picks actions for a task.
type Agent interface {
	Reset()
	Act(ctx context.Context, obs *observation.Observations, task string) (action.Action, *action.Info, error)
	TaskIsDone() bool
	Status() language.Status
}

// An Env executes actions on a robot.
type Env interface {
	Reset(ctx context.Context) error
	GetObservation(ctx context.Context) (*observation.Observations, error)
	ApplyAction(ctx context.Context, act action.Action, info *action.Info) (bool, error)
}

// Config parameterizes a Runner.
type Config struct {
	MaxSteps int `json:"max_steps"`
}

// Runner drives an agent and an environment through episodes.
type Runner struct {
	cfg     Config
	agent   Agent
	env     Env
	pub     Publisher
	metrics *Metrics
	store   *Store
	clock   clock.Clock
	logger  logging.Logger
}

// Option configures a Runner.
type Option func(*Runner)

// WithPublisher sends events to pub instead of the log.
func WithPublisher(pub Publisher) Option {
	return func(r *Runner) { r.pub = pub }
}

// WithMetrics records metrics.
func WithMetrics(m *Metrics) Option {
	return func(r *Runner) { r.metrics = m }
}

// WithStore saves a record of every episode.
func WithStore(s *Store) Option {
	return func(r *Runner) { r.store = s }
}

// WithClock replaces the wall clock.
func WithClock(c clock.Clock) Option {
	return func(r *Runner) { r.clock = c }
}

// NewRunner returns a runner.
func NewRunner(cfg Config, a Agent, env Env, logger logging.Logger, opts ...Option) *Runner {
	if cfg.MaxSteps <= 0 {
		cfg.MaxSteps = DefaultMaxSteps
	}
	r := &Runner{
		cfg:    cfg,
		agent:  a,
		env:    env,
		clock:  clock.New(),
		logger: logger,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.pub == nil {
		r.pub = LogPublisher{Logger: logger}
	}
	return r
}

func (r *Runner) publish(ctx context.Context, rec *Record, e Event) {
	e.EpisodeID = rec.ID.String()
	e.Task = rec.Task
	e.Step = rec.Steps
	e.Time = r.clock.Now()
	if err := r.pub.Publish(ctx, e); err != nil {
		r.logger.Warnw("failed to publish event", "type", e.Type, "error", err)
	}
}

// Run resets the environment and agent and steps until the plan is finished.
// The environment reporting done only ends the episode once the agent has no
// steps left. The returned record is also saved to the store, if any.
func (r *Runner) Run(ctx context.Context, task string) (Record, error) {
	rec := Record{ID: uuid.New(), Task: task, Start: r.clock.Now()}
	err := r.run(ctx, &rec)
	rec.End = r.clock.Now()
	rec.Success = err == nil
	if rec.Success {
		rec.Reward = 1
		r.publish(ctx, &rec, Event{Type: TaskDone})
	} else {
		rec.Error = err.Error()
		r.publish(ctx, &rec, Event{Type: EpisodeFailed, Error: rec.Error})
	}
	if r.metrics != nil {
		r.metrics.Episodes.WithLabelValues(result(rec.Success)).Inc()
		r.metrics.Duration.Observe(rec.End.Sub(rec.Start).Seconds())
	}
	if r.store != nil {
		// the episode may have been canceled; the record is still written.
		if saveErr := r.store.Save(context.WithoutCancel(ctx), rec); saveErr != nil {
			r.logger.Warnw("failed to save episode", "id", rec.ID, "error", saveErr)
		}
	}
	return rec, err
}

func (r *Runner) run(ctx context.Context, rec *Record) error {
	if err := r.env.Reset(ctx); err != nil {
		return errors.Wrap(err, "resetting environment")
	}
	r.agent.Reset()

	for rec.Steps < r.cfg.MaxSteps {
		if err := ctx.Err(); err != nil {
			return err
		}
		obs, err := r.env.GetObservation(ctx)
		if err != nil {
			return errors.Wrap(err, "observing")
		}
		act, info, err := r.agent.Act(ctx, obs, rec.Task)
		if errors.Is(err, language.ErrNoSteps) {
			return nil
		}
		if err != nil {
			return err
		}
		skill := r.agent.Status().CurrentStep.Verb
		r.publish(ctx, rec, Event{Type: StepStarted, Skill: skill})
		if r.metrics != nil {
			r.metrics.Skills.WithLabelValues(skill).Inc()
		}

		done, err := r.env.ApplyAction(ctx, act, info)
		if err != nil {
			return errors.Wrapf(err, "applying %v", act)
		}
		kind := action.KindOf(act).String()
		if r.metrics != nil {
			r.metrics.Actions.WithLabelValues(kind).Inc()
		}
		r.publish(ctx, rec, Event{Type: ActionApplied, Skill: skill, Action: fmt.Sprint(act), Kind: kind, Done: done})
		rec.Steps++

		if r.agent.TaskIsDone() {
			return nil
		}
	}
	return ErrStepLimit
}
