package config

import (
	"os"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Language maps skill -> object -> task language, e.g.
//
//	open_object:
//	  drawer: open the drawer
type Language map[string]map[string]string

// TaskInformation maps task language to the number of actions the task takes.
type TaskInformation map[string]int

// LoadLanguage reads a language file.
func LoadLanguage(path string) (Language, error) {
	var lang Language
	if err := readYAML(path, &lang); err != nil {
		return nil, err
	}
	return lang, nil
}

// LoadTaskInformation reads a task information file.
func LoadTaskInformation(path string) (TaskInformation, error) {
	var info TaskInformation
	if err := readYAML(path, &info); err != nil {
		return nil, err
	}
	for task, n := range info {
		if n <= 0 {
			return nil, errors.Errorf("%s: task %q has %d actions", path, task, n)
		}
	}
	return info, nil
}

func readYAML(path string, v interface{}) error {
	//nolint:gosec
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	if err := yaml.Unmarshal(data, v); err != nil {
		return errors.Wrapf(err, "decoding %s", path)
	}
	return nil
}
