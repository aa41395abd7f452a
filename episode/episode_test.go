package episode

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.viam.com/rdk/logging"
	"go.viam.com/test"

	"github.com/viam-labs/stretch-agent/action"
	"github.com/viam-labs/stretch-agent/agent/language"
	"github.com/viam-labs/stretch-agent/agent/plan"
	"github.com/viam-labs/stretch-agent/observation"
)

type scriptedAgent struct {
	actions []action.Action
	acted   int
	done    bool
	resets  int
}

func (a *scriptedAgent) Reset() { a.resets++ }

func (a *scriptedAgent) Act(context.Context, *observation.Observations, string) (action.Action, *action.Info, error) {
	if a.acted >= len(a.actions) {
		return nil, nil, language.ErrNoSteps
	}
	a.acted++
	return a.actions[a.acted-1], &action.Info{ObjectList: []string{"drawer"}}, nil
}

func (a *scriptedAgent) TaskIsDone() bool { return a.done && a.acted == len(a.actions) }

func (a *scriptedAgent) Status() language.Status {
	return language.Status{CurrentStep: plan.Step{Verb: "goto"}}
}

type fakeEnv struct {
	clock    *clock.Mock
	resetErr error
	applyErr error
	applied  []action.Action
}

func (e *fakeEnv) Reset(context.Context) error { return e.resetErr }

func (e *fakeEnv) GetObservation(context.Context) (*observation.Observations, error) {
	return &observation.Observations{}, nil
}

func (e *fakeEnv) ApplyAction(_ context.Context, act action.Action, _ *action.Info) (bool, error) {
	if e.applyErr != nil {
		return false, e.applyErr
	}
	e.applied = append(e.applied, act)
	if e.clock != nil {
		e.clock.Add(time.Second)
	}
	return act == action.Stop, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []Event
}

func (p *recordingPublisher) Publish(_ context.Context, e Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) types() []EventType {
	p.mu.Lock()
	defer p.mu.Unlock()
	var types []EventType
	for _, e := range p.events {
		types = append(types, e.Type)
	}
	return types
}

func openStore(t *testing.T) *Store {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "episodes.db"))
	test.That(t, err, test.ShouldBeNil)
	t.Cleanup(func() { test.That(t, store.Close(), test.ShouldBeNil) })
	return store
}

func TestRunSuccess(t *testing.T) {
	ctx := context.Background()
	clk := clock.NewMock()
	env := &fakeEnv{clock: clk}
	agent := &scriptedAgent{
		actions: []action.Action{action.NavigationMode, action.MoveForward, action.Stop},
		done:    true,
	}
	pub := &recordingPublisher{}
	reg := prometheus.NewRegistry()
	metrics := NewMetrics(reg)
	store := openStore(t)

	runner := NewRunner(Config{}, agent, env, logging.NewTestLogger(t),
		WithPublisher(pub), WithMetrics(metrics), WithStore(store), WithClock(clk))
	rec, err := runner.Run(ctx, "2")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rec.Success, test.ShouldBeTrue)
	test.That(t, rec.Reward, test.ShouldEqual, 1.)
	test.That(t, rec.Steps, test.ShouldEqual, 3)
	test.That(t, rec.End.Sub(rec.Start), test.ShouldEqual, 3*time.Second)
	test.That(t, agent.resets, test.ShouldEqual, 1)
	test.That(t, env.applied, test.ShouldHaveLength, 3)

	test.That(t, pub.types(), test.ShouldResemble, []EventType{
		StepStarted, ActionApplied,
		StepStarted, ActionApplied,
		StepStarted, ActionApplied,
		TaskDone,
	})
	last := pub.events[5]
	test.That(t, last.Done, test.ShouldBeTrue)
	test.That(t, last.Kind, test.ShouldEqual, "discrete")
	test.That(t, last.Skill, test.ShouldEqual, "goto")
	test.That(t, last.EpisodeID, test.ShouldEqual, rec.ID.String())

	test.That(t, testutil.ToFloat64(metrics.Actions.WithLabelValues("discrete")), test.ShouldEqual, 3.)
	test.That(t, testutil.ToFloat64(metrics.Skills.WithLabelValues("goto")), test.ShouldEqual, 3.)
	test.That(t, testutil.ToFloat64(metrics.Episodes.WithLabelValues("success")), test.ShouldEqual, 1.)

	saved, err := store.Get(ctx, rec.ID)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, saved.Task, test.ShouldEqual, "2")
	test.That(t, saved.Steps, test.ShouldEqual, 3)
	test.That(t, saved.Success, test.ShouldBeTrue)
	test.That(t, saved.End.Equal(rec.End), test.ShouldBeTrue)
}

func TestRunExhaustedPlan(t *testing.T) {
	agent := &scriptedAgent{actions: []action.Action{action.MoveForward}}
	rec, err := NewRunner(Config{}, agent, &fakeEnv{}, logging.NewTestLogger(t)).Run(context.Background(), "0")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, rec.Success, test.ShouldBeTrue)
	test.That(t, rec.Steps, test.ShouldEqual, 1)
}

func TestRunFailures(t *testing.T) {
	ctx := context.Background()
	logger := logging.NewTestLogger(t)

	t.Run("step limit", func(t *testing.T) {
		agent := &scriptedAgent{actions: []action.Action{action.TurnLeft, action.TurnLeft, action.TurnLeft}}
		pub := &recordingPublisher{}
		reg := prometheus.NewRegistry()
		metrics := NewMetrics(reg)
		store := openStore(t)
		rec, err := NewRunner(Config{MaxSteps: 2}, agent, &fakeEnv{}, logger,
			WithPublisher(pub), WithMetrics(metrics), WithStore(store)).Run(ctx, "1")
		test.That(t, errors.Is(err, ErrStepLimit), test.ShouldBeTrue)
		test.That(t, rec.Steps, test.ShouldEqual, 2)
		test.That(t, rec.Success, test.ShouldBeFalse)
		types := pub.types()
		test.That(t, types[len(types)-1], test.ShouldEqual, EpisodeFailed)
		test.That(t, testutil.ToFloat64(metrics.Episodes.WithLabelValues("failure")), test.ShouldEqual, 1.)

		saved, err := store.Get(ctx, rec.ID)
		test.That(t, err, test.ShouldBeNil)
		test.That(t, saved.Error, test.ShouldEqual, ErrStepLimit.Error())
		test.That(t, saved.Reward, test.ShouldEqual, 0.)
	})

	t.Run("reset", func(t *testing.T) {
		env := &fakeEnv{resetErr: errors.New("no camera")}
		agent := &scriptedAgent{}
		_, err := NewRunner(Config{}, agent, env, logger).Run(ctx, "1")
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "no camera")
		test.That(t, agent.resets, test.ShouldEqual, 0)
	})

	t.Run("apply", func(t *testing.T) {
		env := &fakeEnv{applyErr: errors.New("base stalled")}
		agent := &scriptedAgent{actions: []action.Action{action.MoveForward}}
		rec, err := NewRunner(Config{}, agent, env, logger).Run(ctx, "1")
		test.That(t, err, test.ShouldNotBeNil)
		test.That(t, err.Error(), test.ShouldContainSubstring, "base stalled")
		test.That(t, rec.Steps, test.ShouldEqual, 0)
	})

	t.Run("canceled", func(t *testing.T) {
		cancelCtx, cancel := context.WithCancel(ctx)
		cancel()
		agent := &scriptedAgent{actions: []action.Action{action.MoveForward}}
		_, err := NewRunner(Config{}, agent, &fakeEnv{}, logger).Run(cancelCtx, "1")
		test.That(t, errors.Is(err, context.Canceled), test.ShouldBeTrue)
	})
}

func TestStoreRecent(t *testing.T) {
	ctx := context.Background()
	store := openStore(t)
	start := time.Unix(1700000000, 0)
	var ids []uuid.UUID
	for i := 0; i < 3; i++ {
		rec := Record{
			ID:    uuid.New(),
			Task:  "task",
			Start: start.Add(time.Duration(i) * time.Minute),
			End:   start.Add(time.Duration(i)*time.Minute + time.Second),
			Steps: i,
		}
		ids = append(ids, rec.ID)
		test.That(t, store.Save(ctx, rec), test.ShouldBeNil)
	}

	recent, err := store.Recent(ctx, 2)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, recent, test.ShouldHaveLength, 2)
	test.That(t, recent[0].ID, test.ShouldEqual, ids[2])
	test.That(t, recent[1].ID, test.ShouldEqual, ids[1])

	_, err = store.Get(ctx, uuid.New())
	test.That(t, errors.Is(err, ErrNotFound), test.ShouldBeTrue)
}

func TestOpenStoreNotADatabase(t *testing.T) {
	path := filepath.Join(t.TempDir(), "episodes.db")
	test.That(t, os.WriteFile(path, bytes.Repeat([]byte("not sqlite "), 512), 0o600), test.ShouldBeNil)
	_, err := OpenStore(path)
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "creating episode table")
}

func TestLogPublisher(t *testing.T) {
	logger, logs := logging.NewObservedTestLogger(t)
	pub := LogPublisher{Logger: logger}
	e := Event{Type: ActionApplied, EpisodeID: "abc", Task: "2", Action: "MoveForward", Kind: "discrete"}
	test.That(t, pub.Publish(context.Background(), e), test.ShouldBeNil)
	test.That(t, pub.Publish(context.Background(), Event{Type: EpisodeFailed, EpisodeID: "abc", Error: "boom"}), test.ShouldBeNil)
	test.That(t, logs.FilterMessage(string(ActionApplied)).Len(), test.ShouldEqual, 1)
	test.That(t, logs.FilterMessage(string(EpisodeFailed)).Len(), test.ShouldEqual, 1)

	test.That(t, Subject(DefaultSubjectPrefix, e), test.ShouldEqual, "stretch.episodes.abc.action_applied")
}
