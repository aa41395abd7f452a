// Package language implements the language-driven task agent: it walks a
// task plan step by step and runs each step as a two-phase skill, first
// asking the environment for the right operating mode and then acting.
package language

import (
	"context"
	"math"
	"sync"

	"github.com/golang/geo/r3"
	"github.com/pkg/errors"
	"go.viam.com/rdk/logging"

	"github.com/viam-labs/stretch-agent/action"
	"github.com/viam-labs/stretch-agent/agent"
	"github.com/viam-labs/stretch-agent/agent/plan"
	"github.com/viam-labs/stretch-agent/observation"
)

var (
	// ErrNoSteps is returned by Act when the plan is exhausted.
	ErrNoSteps = errors.New("no steps left in the task plan")
	// ErrUnknownSkill is returned when a step names a skill the agent lacks.
	ErrUnknownSkill = errors.New("unknown skill")
)

// Offset parks the base a fixed distance from an interaction point along a
// global direction, facing a fixed global heading.
type Offset struct {
	Direction   r3.Vector `json:"direction"`
	Distance    float64   `json:"distance"`
	Orientation float64   `json:"orientation_rad"`
}

// DefaultOffsets are the parking offsets for articulated objects.
func DefaultOffsets() map[string]Offset {
	drawer := Offset{Direction: r3.Vector{Y: 1}, Distance: 0.8, Orientation: -math.Pi / 2}
	return map[string]Offset{
		"drawer":        drawer,
		"drawer handle": drawer,
	}
}

// Config parameterizes an Agent.
type Config struct {
	// DryRun finishes navigation skills after their first action.
	DryRun bool
	// SkipFindObject ends every goto skill immediately.
	SkipFindObject bool
	// Language maps skill -> object -> task language, e.g. open_object -> drawer -> "open the drawer".
	Language map[string]map[string]string
	// TaskInformation maps task language to the number of actions the task takes.
	TaskInformation map[string]int
	// Offsets maps object names to base parking offsets; nil means DefaultOffsets.
	Offsets map[string]Offset
}

type skill func(ctx context.Context, objects []string, obs *observation.Observations) (action.Action, *action.Info, error)

// Agent is the language task agent.
type Agent struct {
	mu     sync.Mutex
	cfg    Config
	logger logging.Logger

	plans plan.Provider
	nav   agent.ObjectNavigator
	place agent.PlacePolicy
	slap  agent.InteractionPredictor

	skills map[string]skill

	state          agent.TaskState
	mode           agent.Mode
	steps          []plan.Step
	current        plan.Step
	numActionsDone int
}

// NewAgent returns an agent in the NotStarted state.
func NewAgent(
	cfg Config,
	plans plan.Provider,
	nav agent.ObjectNavigator,
	place agent.PlacePolicy,
	slap agent.InteractionPredictor,
	logger logging.Logger,
) *Agent {
	if cfg.Offsets == nil {
		cfg.Offsets = DefaultOffsets()
	}
	a := &Agent{
		cfg:    cfg,
		logger: logger,
		plans:  plans,
		nav:    nav,
		place:  place,
		slap:   slap,
		state:  agent.NotStarted,
		mode:   agent.Navigation,
	}
	a.skills = map[string]skill{
		"goto":        a.gotoObject,
		"pick_up":     a.pickUp,
		"place":       a.placeOn,
		"open_object": a.openObject,
	}
	return a
}

// Status is a snapshot of the agent's progress.
type Status struct {
	State          agent.TaskState
	Mode           agent.Mode
	CurrentStep    plan.Step
	RemainingSteps []plan.Step
	ActionsDone    int
}

// Status returns a snapshot of the agent's progress.
func (a *Agent) Status() Status {
	a.mu.Lock()
	defer a.mu.Unlock()
	return Status{
		State:          a.state,
		Mode:           a.mode,
		CurrentStep:    a.current,
		RemainingSteps: append([]plan.Step(nil), a.steps...),
		ActionsDone:    a.numActionsDone,
	}
}

// Reset clears the plan and the component policies.
func (a *Agent) Reset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.state = agent.NotStarted
	a.steps = nil
	a.current = plan.Step{}
	a.numActionsDone = 0
	a.nav.Reset()
	a.place.Reset()
}

// SoftReset ends the current skill without touching the plan.
func (a *Agent) SoftReset() {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.softReset()
}

func (a *Agent) softReset() {
	a.state = agent.Idle
	a.numActionsDone = 0
	a.slap.Reset()
}

// SkillIsDone reports whether the current skill has finished.
func (a *Agent) SkillIsDone() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.state == agent.Idle
}

// TaskIsDone reports whether every step of the plan has finished.
func (a *Agent) TaskIsDone() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.steps) == 0 && a.state == agent.Idle
}

// IsBusy reports whether a skill is in progress.
func (a *Agent) IsBusy() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isBusy()
}

func (a *Agent) isBusy() bool {
	return a.state == agent.Prepping || a.state == agent.DoingTask
}

func (a *Agent) loadSteps(ctx context.Context, task string) error {
	steps, err := a.plans.Steps(ctx, task)
	if err != nil {
		return err
	}
	a.steps = steps
	return nil
}

// Act returns the next action for task. The plan is loaded on the first
// call; a new step starts whenever the previous skill is no longer busy.
func (a *Agent) Act(ctx context.Context, obs *observation.Observations, task string) (action.Action, *action.Info, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.state == agent.NotStarted && len(a.steps) == 0 {
		if err := a.loadSteps(ctx, task); err != nil {
			return nil, nil, err
		}
	}
	if !a.isBusy() {
		if len(a.steps) == 0 {
			return nil, nil, ErrNoSteps
		}
		a.logger.Debugw("starting step", "state", a.state, "step", a.steps[0])
		a.current, a.steps = a.steps[0], a.steps[1:]
	}
	run, ok := a.skills[a.current.Verb]
	if !ok {
		return nil, nil, errors.Wrapf(ErrUnknownSkill, "%q", a.current.Verb)
	}
	a.logger.Debugf("running %s", a.current)
	// counted first so that a skill ending in a soft reset leaves zero
	a.numActionsDone++
	act, info, err := run(ctx, a.current.Objects, obs)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "running %s", a.current)
	}
	return act, info, nil
}

// setGoals writes the navigation goals for a step into the observation.
// Objects and receptacles are not distinguished: with two or more objects the
// first is the start receptacle and the second the object, otherwise the only
// object is the end receptacle.
func setGoals(obs *observation.Observations, objects []string) {
	t := &obs.Task
	if len(objects) > 1 {
		t.StartRecepGoal = observation.GoalID(1)
		t.ObjectGoal = observation.GoalID(2)
		t.StartRecepName = objects[0]
		t.GoalName = objects[1]
		t.EndRecepGoal = nil
		t.EndRecepName = ""
		return
	}
	t.EndRecepGoal = observation.GoalID(1)
	t.EndRecepName = objects[0]
	t.StartRecepGoal = nil
	t.StartRecepName = ""
	t.ObjectGoal = nil
	t.GoalName = ""
}

func setPlaceGoals(obs *observation.Observations, objects []string) {
	t := &obs.Task
	t.EndRecepGoal = observation.GoalID(1)
	t.EndRecepName = ""
	t.ObjectGoal = nil
	t.GoalName = objects[0]
	t.StartRecepGoal = nil
	t.StartRecepName = ""
}
