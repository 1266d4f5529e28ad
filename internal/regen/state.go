package regen

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Settings is the configure invocation replayed by the generator edge.
type Settings struct {
	File    string            `yaml:"file"`
	Variant string            `yaml:"variant"`
	Mode    string            `yaml:"mode"`
	Ninja   string            `yaml:"ninja,omitempty"`
	Options map[string]string `yaml:"options,omitempty"`
}

// State is persisted between regenerations.
type State struct {
	// Generation counts regenerations that changed the manifest; -1 means
	// nothing was written yet.
	Generation int      `yaml:"generation"`
	Active     string   `yaml:"active,omitempty"`
	Scripts    []string `yaml:"scripts,omitempty"`
	Settings   Settings `yaml:"settings"`
}

// LoadState reads the state of buildDir. A missing file yields the initial
// state.
func LoadState(buildDir string) (*State, error) {
	data, err := os.ReadFile(statePath(buildDir))
	if errors.Is(err, fs.ErrNotExist) {
		return &State{Generation: -1}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading regeneration state: %w", err)
	}
	var st State
	if err := yaml.Unmarshal(data, &st); err != nil {
		return nil, fmt.Errorf("decoding %s: %w", statePath(buildDir), err)
	}
	return &st, nil
}

func saveState(buildDir string, st *State) error {
	data, err := yaml.Marshal(st)
	if err != nil {
		return fmt.Errorf("encoding regeneration state: %w", err)
	}
	return WriteFileAtomic(statePath(buildDir), data, 0o644)
}

func statePath(buildDir string) string {
	return filepath.Join(buildDir, StateDir, "state.yaml")
}

// WriteFileAtomic replaces path with data through a temporary file in the
// same directory, so readers never see a partial file.
func WriteFileAtomic(path string, data []byte, perm os.FileMode) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Chmod(perm); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func yamlBytes(v any) ([]byte, error) { return yaml.Marshal(v) }
