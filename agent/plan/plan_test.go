package plan

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

func TestParseStep(t *testing.T) {
	for _, tc := range []struct {
		expr string
		want Step
	}{
		{"self.goto(['chair', 'bottle'], obs=obs)", Step{Verb: "goto", Objects: []string{"chair", "bottle"}}},
		{"goto('banana')", Step{Verb: "goto", Objects: []string{"banana"}}},
		{"self.goto('bottle', obs)", Step{Verb: "goto", Objects: []string{"bottle"}}},
		{"self.open_object(['drawer handle',], obs)", Step{Verb: "open_object", Objects: []string{"drawer handle"}}},
		{
			"self.place('table', motion_profile=slow, obs=obs)",
			Step{Verb: "place", Objects: []string{"table"}, MotionProfile: "slow"},
		},
		{`pick_up("cup", )`, Step{Verb: "pick_up", Objects: []string{"cup"}}},
	} {
		t.Run(tc.expr, func(t *testing.T) {
			got, err := ParseStep(tc.expr)
			test.That(t, err, test.ShouldBeNil)
			test.That(t, got, test.ShouldResemble, tc.want)
		})
	}

	for _, bad := range []string{
		"",
		"goto",
		"goto(",
		"goto('banana'",
		"goto(obs=obs)",
		"goto('x') + 1",
		"__import__('os').system('ls')",
		"goto('unterminated)",
	} {
		_, err := ParseStep(bad)
		test.That(t, err, test.ShouldNotBeNil)
	}
}

func TestStepString(t *testing.T) {
	s := Step{Verb: "goto", Objects: []string{"chair", "bottle"}, MotionProfile: "fast"}
	test.That(t, s.String(), test.ShouldEqual, "self.goto(['chair', 'bottle'], motion_profile=fast, obs=obs)")
	back, err := ParseStep(s.String())
	test.That(t, err, test.ShouldBeNil)
	test.That(t, back, test.ShouldResemble, s)
}

func TestDefaultTable(t *testing.T) {
	ctx := context.Background()
	table := DefaultTable()
	test.That(t, table.Tasks(), test.ShouldResemble, []int{0, 1, 2, 3, 4, 5, 6})

	steps, err := table.Steps(ctx, "0")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, steps, test.ShouldHaveLength, 4)
	test.That(t, steps[0].Objects, test.ShouldResemble, []string{"chair", "bottle"})
	test.That(t, steps[3].Verb, test.ShouldEqual, "place")

	// callers may consume the returned slice
	steps[0].Verb = "changed"
	again, err := table.Steps(ctx, "0")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, again[0].Verb, test.ShouldEqual, "goto")

	_, err = table.Steps(ctx, "42")
	test.That(t, errors.Is(err, ErrUnknownTask), test.ShouldBeTrue)
	_, err = table.Steps(ctx, "bottle")
	test.That(t, err, test.ShouldNotBeNil)
}

func TestLoadTable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "plans.yaml")
	err := os.WriteFile(path, []byte(`
tasks:
  7:
    definition: open the drawer
    steps:
      - self.goto(['drawer', 'drawer handle'], obs)
      - self.open_object(['drawer handle'], obs)
`), 0o600)
	test.That(t, err, test.ShouldBeNil)

	table, err := LoadTable(path)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, table.Definitions[7], test.ShouldEqual, "open the drawer")
	steps, err := table.Steps(context.Background(), "7")
	test.That(t, err, test.ShouldBeNil)
	test.That(t, steps, test.ShouldHaveLength, 2)
	test.That(t, steps[1].Verb, test.ShouldEqual, "open_object")

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	test.That(t, os.WriteFile(bad, []byte("tasks:\n  1:\n    steps: ['goto(']\n"), 0o600), test.ShouldBeNil)
	_, err = LoadTable(bad)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestOracle(t *testing.T) {
	ctx := context.Background()
	root := t.TempDir()
	records := `[
		{"steps": [{"verb": "goto", "noun": "cup", "adverb": "slow"}, {"verb": "pick_up", "noun": "cup", "adverb": "slow"}]},
		{"steps": [{"verb": "goto", "noun": "table", "adverb": "fast"}]}
	]`
	columns := `{"steps": {"1": [{"verb": "place", "noun": "shelf", "adverb": "slow"}], "0": [{"verb": "goto", "noun": "shelf", "adverb": "fast"}]}}`
	test.That(t, os.WriteFile(filepath.Join(root, "a.json"), []byte(records), 0o600), test.ShouldBeNil)
	test.That(t, os.WriteFile(filepath.Join(root, "b.json"), []byte(columns), 0o600), test.ShouldBeNil)

	t.Run("single file", func(t *testing.T) {
		o := &Oracle{Datafile: filepath.Join(root, "a.json")}
		steps, err := o.Steps(ctx, "0")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, steps, test.ShouldResemble, []Step{
			{Verb: "goto", Objects: []string{"cup"}, MotionProfile: "slow"},
			{Verb: "pick_up", Objects: []string{"cup"}, MotionProfile: "slow"},
		})
		_, err = o.Steps(ctx, "2")
		test.That(t, errors.Is(err, ErrUnknownTask), test.ShouldBeTrue)
	})

	t.Run("all files", func(t *testing.T) {
		o := &Oracle{Datafile: AllDatasets, Root: root}
		steps, err := o.Steps(ctx, "3")
		test.That(t, err, test.ShouldBeNil)
		test.That(t, steps, test.ShouldResemble, []Step{{Verb: "place", Objects: []string{"shelf"}, MotionProfile: "slow"}})
		_, err = o.Steps(ctx, "4")
		test.That(t, err, test.ShouldNotBeNil)
	})

	t.Run("missing file", func(t *testing.T) {
		o := &Oracle{Datafile: filepath.Join(root, "missing.json")}
		_, err := o.Steps(ctx, "0")
		test.That(t, err, test.ShouldNotBeNil)
	})
}
