package config

import (
	"fmt"
	"path/filepath"

	"github.com/a8m/envsubst"
	"github.com/knadh/koanf/maps"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
	"github.com/pkg/errors"
	"github.com/samber/lo"
)

// A Tree is a parsed experiment configuration document.
type Tree map[string]interface{}

// LoadTree reads a YAML experiment configuration, expanding ${VAR} references.
func LoadTree(path string) (Tree, error) {
	data, err := envsubst.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading %s", path)
	}
	k := koanf.New(".")
	if err := k.Load(rawbytes.Provider(data), yaml.Parser()); err != nil {
		return nil, errors.Wrapf(err, "parsing %s", path)
	}
	return k.Raw(), nil
}

// treeProvider hands a copy of a tree to koanf.
type treeProvider Tree

func (t treeProvider) ReadBytes() ([]byte, error) {
	return nil, errors.New("tree provider does not support ReadBytes")
}

func (t treeProvider) Read() (map[string]interface{}, error) {
	return maps.Copy(t), nil
}

// ReadOnly is a configuration tree that cannot be modified.
type ReadOnly struct {
	k *koanf.Koanf
}

func newReadOnly(t Tree) (*ReadOnly, error) {
	k := koanf.New(".")
	if err := k.Load(treeProvider(t), nil); err != nil {
		return nil, err
	}
	return &ReadOnly{k: k}, nil
}

// Exists reports whether a dotted path is set.
func (r *ReadOnly) Exists(path string) bool { return r.k.Exists(path) }

// Get returns the value at a dotted path.
func (r *ReadOnly) Get(path string) interface{} { return r.k.Get(path) }

// String returns the string at a dotted path.
func (r *ReadOnly) String(path string) string { return r.k.String(path) }

// Strings returns the string list at a dotted path.
func (r *ReadOnly) Strings(path string) []string { return r.k.Strings(path) }

// Bool returns the bool at a dotted path.
func (r *ReadOnly) Bool(path string) bool { return r.k.Bool(path) }

// Tree returns a copy of the whole tree.
func (r *ReadOnly) Tree() Tree { return r.k.Raw() }

// MergeConfigs overlays an environment configuration on a habitat
// configuration and nests the baseline under AGENT. Unless VISUALIZE or
// PRINT_IMAGES is set the third-person camera is removed, and a configured
// episode index range is appended to EXP_NAME. It returns the agent and
// environment configurations.
func MergeConfigs(habitat, baseline, env Tree) (agentCfg, envCfg *ReadOnly, err error) {
	merged := Tree{}
	for key, v := range habitat {
		merged[key] = v
	}
	for key, v := range env {
		merged[key] = v
	}
	k := koanf.New(".")
	if err := k.Load(treeProvider(merged), nil); err != nil {
		return nil, nil, err
	}

	if !k.Bool("VISUALIZE") && !k.Bool("PRINT_IMAGES") {
		const obsKeys = "habitat.gym.obs_keys"
		if keys := k.Strings(obsKeys); lo.Contains(keys, "robot_third_rgb") {
			if err := k.Set(obsKeys, lo.Without(keys, "robot_third_rgb")); err != nil {
				return nil, nil, err
			}
		}
		const thirdRGB = "habitat.simulator.agents.main_agent.sim_sensors.third_rgb_sensor"
		if k.Exists(thirdRGB) {
			k.Delete(thirdRGB)
		}
	}

	if r, ok := k.Get("habitat.dataset.episode_indices_range").([]interface{}); ok && len(r) == 2 {
		name := filepath.Join(k.String("EXP_NAME"), fmt.Sprintf("%v_%v", r[0], r[1]))
		if err := k.Set("EXP_NAME", name); err != nil {
			return nil, nil, err
		}
	}

	envTree := Tree(k.Raw())
	if envCfg, err = newReadOnly(envTree); err != nil {
		return nil, nil, err
	}
	envTree["AGENT"] = maps.Copy(baseline)
	if agentCfg, err = newReadOnly(envTree); err != nil {
		return nil, nil, err
	}
	return agentCfg, envCfg, nil
}
