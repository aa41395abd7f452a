package plan

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// A Provider returns the ordered steps that accomplish a task.
type Provider interface {
	Steps(ctx context.Context, task string) ([]Step, error)
}

// ErrUnknownTask is returned when a provider has no plan for a task.
var ErrUnknownTask = errors.New("unknown task")

func parseTaskID(task string) (int, error) {
	id, err := strconv.Atoi(strings.TrimSpace(task))
	if err != nil {
		return 0, errors.Wrapf(err, "task %q is not a task index", task)
	}
	return id, nil
}

// Table is a fixed lookup table from task index to plan.
type Table struct {
	Definitions map[int]string
	Plans       map[int][]Step
}

// Steps implements Provider.
func (t *Table) Steps(_ context.Context, task string) ([]Step, error) {
	id, err := parseTaskID(task)
	if err != nil {
		return nil, err
	}
	steps, ok := t.Plans[id]
	if !ok {
		return nil, errors.Wrapf(ErrUnknownTask, "task %d", id)
	}
	return append([]Step(nil), steps...), nil
}

// Tasks lists the task indices in the table in ascending order.
func (t *Table) Tasks() []int {
	ids := make([]int, 0, len(t.Plans))
	for id := range t.Plans {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	return ids
}

// DefaultTable is the built-in table used for bench testing.
func DefaultTable() *Table {
	parse := func(exprs ...string) []Step {
		steps := make([]Step, 0, len(exprs))
		for _, e := range exprs {
			steps = append(steps, MustParseStep(e))
		}
		return steps
	}
	return &Table{
		Definitions: map[int]string{
			0: "place the apple on the table",
			1: "place the banana on the table",
			2: "find my bottle",
		},
		Plans: map[int][]Step{
			0: parse(
				"self.goto(['chair', 'bottle'], obs=obs)",
				"self.pick_up(['bottle'], obs=obs)",
				"self.goto(['table'], obs=obs)",
				"self.place(['table'], obs=obs)",
			),
			1: parse(
				"goto('banana')",
				"pick_up('banana')",
				"place('table')",
			),
			2: parse("self.goto('bottle', obs)"),
			3: parse(
				"self.goto('bottle', obs)",
				"self.goto('can', obs)",
			),
			4: parse(
				"self.open_object(['drawer'], obs)",
				"self.open_object(['cabinet'], obs)",
			),
			5: parse(
				"self.goto(['drawer', 'drawer handle'], obs)",
				"self.open_object(['drawer handle',], obs)",
			),
			6: parse("self.open_object(['drawer', 'drawer handle'], obs)"),
		},
	}
}

type tableFile struct {
	Tasks map[int]struct {
		Definition string   `yaml:"definition"`
		Steps      []string `yaml:"steps"`
	} `yaml:"tasks"`
}

// LoadTable reads a YAML plan table:
//
//	tasks:
//	  0:
//	    definition: find my bottle
//	    steps:
//	      - self.goto('bottle', obs)
func LoadTable(path string) (*Table, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading plan table")
	}
	var f tableFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, errors.Wrapf(err, "decoding plan table %s", path)
	}
	t := &Table{Definitions: map[int]string{}, Plans: map[int][]Step{}}
	for id, task := range f.Tasks {
		steps := make([]Step, 0, len(task.Steps))
		for _, expr := range task.Steps {
			s, err := ParseStep(expr)
			if err != nil {
				return nil, errors.Wrapf(err, "task %d", id)
			}
			steps = append(steps, s)
		}
		t.Plans[id] = steps
		if task.Definition != "" {
			t.Definitions[id] = task.Definition
		}
	}
	return t, nil
}

// AllDatasets selects every dataset file under the oracle root.
const AllDatasets = "all"

// Oracle reads ground-truth plans from annotated JSON datasets. Each record
// has a list of steps of the form {"verb": ..., "noun": ..., "adverb": ...}.
type Oracle struct {
	// Datafile is a JSON dataset, or AllDatasets to concatenate every *.json under Root.
	Datafile string
	Root     string
}

type oracleStep struct {
	Verb   string `json:"verb"`
	Noun   string `json:"noun"`
	Adverb string `json:"adverb"`
}

type oracleRecord struct {
	Steps []oracleStep `json:"steps"`
}

// Steps implements Provider.
func (o *Oracle) Steps(ctx context.Context, task string) ([]Step, error) {
	id, err := parseTaskID(task)
	if err != nil {
		return nil, err
	}
	records, err := o.records(ctx)
	if err != nil {
		return nil, err
	}
	if id < 0 || id >= len(records) {
		return nil, errors.Wrapf(ErrUnknownTask, "index %d is out of range for %d records", id, len(records))
	}
	return codeList(records[id].Steps), nil
}

func codeList(steps []oracleStep) []Step {
	out := make([]Step, 0, len(steps))
	for _, s := range steps {
		out = append(out, Step{Verb: s.Verb, Objects: []string{s.Noun}, MotionProfile: s.Adverb})
	}
	return out
}

func (o *Oracle) records(ctx context.Context) ([]oracleRecord, error) {
	files := []string{o.Datafile}
	if o.Datafile == AllDatasets {
		matches, err := filepath.Glob(filepath.Join(o.Root, "*.json"))
		if err != nil {
			return nil, err
		}
		sort.Strings(matches)
		files = matches
	}
	var all []oracleRecord
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		recs, err := readDataset(f)
		if err != nil {
			return nil, err
		}
		all = append(all, recs...)
	}
	return all, nil
}

// readDataset accepts either a list of records or the column-oriented layout
// {"steps": {"0": [...], "1": [...]}} that dataframe exports produce.
func readDataset(path string) ([]oracleRecord, error) {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading dataset")
	}
	var records []oracleRecord
	if err := json.Unmarshal(data, &records); err == nil {
		return records, nil
	}
	var columns struct {
		Steps map[string][]oracleStep `json:"steps"`
	}
	if err := json.Unmarshal(data, &columns); err != nil {
		return nil, errors.Wrapf(err, "decoding dataset %s", path)
	}
	keys := make([]int, 0, len(columns.Steps))
	byKey := make(map[int][]oracleStep, len(columns.Steps))
	for k, v := range columns.Steps {
		i, err := strconv.Atoi(k)
		if err != nil {
			return nil, errors.Wrapf(err, "dataset %s has non-numeric row %q", path, k)
		}
		keys = append(keys, i)
		byKey[i] = v
	}
	sort.Ints(keys)
	for _, k := range keys {
		records = append(records, oracleRecord{Steps: byKey[k]})
	}
	return records, nil
}
