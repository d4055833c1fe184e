// © 2026 Ilya Mateyko. All rights reserved.
// Use of this source code is governed by the ISC
// license that can be found in the LICENSE.md file.

// Package config layers settings from command-line flags, environment
// variables and a YAML file, in that order of precedence.
package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"go.astrophena.name/formbot/internal/cli/envflag"

	"gopkg.in/yaml.v3"
)

// Set is a group of settings. Every setting is a flag; it may also be set by
// an environment variable or a key of the YAML file named by -config.
type Set struct {
	fs     *flag.FlagSet
	getenv func(string) string
	envs   map[string]string // flag name → environment variable
	file   *string
}

// New returns a Set registering its flags on fs. getenv may be nil.
func New(fs *flag.FlagSet, getenv func(string) string) *Set {
	if getenv == nil {
		getenv = func(string) string { return "" }
	}
	s := &Set{
		fs:     fs,
		getenv: getenv,
		envs:   make(map[string]string),
	}
	s.file = Value(s, "config", "FORMBOT_CONFIG", "", "Path to a YAML configuration file. Its keys are flag names.")
	return s
}

// Value registers a setting named name, overridable by the environment
// variable env.
func Value[T envflag.Type](s *Set, name, env string, value T, usage string) *T {
	s.envs[name] = env
	return envflag.Value(name, env, value, usage, s.fs, s.getenv)
}

// File returns the path of the configuration file, if any.
func (s *Set) File() string { return *s.file }

// ErrUnknownKey is returned when the configuration file has a key that isn't
// a known setting.
var ErrUnknownKey = errors.New("unknown setting")

// Load applies the configuration file named by -config, if set. It must be
// called after flags are parsed.
func (s *Set) Load() error {
	if s.File() == "" {
		return nil
	}
	f, err := os.Open(s.File())
	if err != nil {
		return err
	}
	defer f.Close()
	if err := s.Read(f); err != nil {
		return fmt.Errorf("%s: %w", s.File(), err)
	}
	return nil
}

// Read applies YAML settings from r. Settings given as flags or environment
// variables are left alone.
func (s *Set) Read(r io.Reader) error {
	var values map[string]yaml.Node
	if err := yaml.NewDecoder(r).Decode(&values); err != nil && !errors.Is(err, io.EOF) {
		return err
	}

	explicit := make(map[string]bool)
	s.fs.Visit(func(f *flag.Flag) { explicit[f.Name] = true })

	keys := make([]string, 0, len(values))
	for key := range values {
		keys = append(keys, key)
	}
	slices.Sort(keys)

	for _, key := range keys {
		name := strings.ReplaceAll(key, "_", "-")
		env, ok := s.envs[name]
		if !ok || name == "config" {
			return fmt.Errorf("%w %q", ErrUnknownKey, key)
		}
		if explicit[name] || s.getenv(env) != "" {
			continue
		}
		node := values[key]
		v, err := scalar(&node)
		if err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
		if err := s.fs.Set(name, v); err != nil {
			return fmt.Errorf("%s: %w", key, err)
		}
	}
	return nil
}

// scalar turns a YAML value into the string form the flag parses. Sequences
// become comma-separated lists.
func scalar(n *yaml.Node) (string, error) {
	switch n.Kind {
	case yaml.ScalarNode:
		return n.Value, nil
	case yaml.SequenceNode:
		items := make([]string, 0, len(n.Content))
		for _, item := range n.Content {
			if item.Kind != yaml.ScalarNode {
				return "", fmt.Errorf("line %d: list items must be scalars", item.Line)
			}
			items = append(items, item.Value)
		}
		return strings.Join(items, ","), nil
	}
	return "", fmt.Errorf("line %d: want a scalar or a list", n.Line)
}
