package graph

import (
	"path/filepath"
	"sort"
	"strings"

	"github.com/vk/buildgrid/internal/errdefs"
	"github.com/vk/buildgrid/internal/identity"
)

// BuildSetSpec is what a front end supplies for one concrete invocation of
// an operator. Relative paths resolve against the owning project directory.
type BuildSetSpec struct {
	Inputs      map[string][]string
	Outputs     map[string][]string
	Variables   map[string][]string
	Env         map[string]string
	Cwd         string
	Description string
	Depfile     string
}

// BuildSet is one concrete, hashed instantiation of an operator. It is
// immutable after creation.
type BuildSet struct {
	Operator    *Operator
	Index       int
	Inputs      map[string][]string
	Outputs     map[string][]string
	Variables   map[string][]string
	Env         map[string]string
	Cwd         string
	Description string
	Depfile     string

	commands [][]string
	hash     string
}

// Commands returns the expanded command lines.
func (b *BuildSet) Commands() [][]string { return b.commands }

// Hash returns the identity hash.
func (b *BuildSet) Hash() string { return b.hash }

// InputFiles returns all input files, groups in name order.
func (b *BuildSet) InputFiles() []string { return flatten(b.Inputs) }

// OutputFiles returns all output files, groups in name order.
func (b *BuildSet) OutputFiles() []string { return flatten(b.Outputs) }

// CreateBuildSet instantiates op. Every input group, output group and
// variable referenced by the operator's templates must be bound, either here
// or, for variables, by the operator.
func (s *Session) CreateBuildSet(op *Operator, spec BuildSetSpec) (*BuildSet, error) {
	if err := s.checkMutable("create build set for " + op.ID); err != nil {
		return nil, err
	}
	dir := op.Target.Project.Dir

	inputs, err := canonicalGroups(dir, spec.Inputs)
	if err != nil {
		return nil, &errdefs.ConfigurationError{Subject: op.ID, Reason: "invalid inputs", Err: err}
	}
	outputs, err := canonicalGroups(dir, spec.Outputs)
	if err != nil {
		return nil, &errdefs.ConfigurationError{Subject: op.ID, Reason: "invalid outputs", Err: err}
	}
	cwd := ""
	if spec.Cwd != "" {
		cwd = absIn(dir, spec.Cwd)
	}

	vars := make(map[string][]string, len(op.Flags.Variables)+len(spec.Variables))
	for k, v := range op.Flags.Variables {
		vars[k] = v
	}
	for k, v := range spec.Variables {
		vars[k] = v
	}
	bind := bindings{vars: vars, inputs: inputs, outputs: outputs}

	if missing := op.template.missing(bind); len(missing) > 0 {
		return nil, errdefs.Integrityf(errdefs.Template, op.ID, "unbound placeholders: %s", strings.Join(missing, ", "))
	}

	if spec.Depfile != "" && op.Deps() == DepsMSVC {
		return nil, errdefs.Configf(op.ID, "depfile can not be combined with msvc deps")
	}
	depfile := spec.Depfile
	if depfile == "" && op.Flags.Depfile != "" {
		depfile, err = expandString(op.Flags.Depfile, bind)
		if err != nil {
			return nil, errdefs.Integrityf(errdefs.Template, op.ID, "depfile: %v", err)
		}
	}
	if depfile != "" {
		depfile = absIn(dir, depfile)
	}

	env := make(map[string]string, len(spec.Env))
	for k, v := range spec.Env {
		env[k] = v
	}

	commands := op.template.expand(bind)
	for i, cmd := range commands {
		if len(cmd) == 0 {
			return nil, errdefs.Integrityf(errdefs.Template, op.ID, "command %d expands to an empty argument list", i)
		}
	}
	b := &BuildSet{
		Operator:    op,
		Index:       len(op.buildSets),
		Inputs:      inputs,
		Outputs:     outputs,
		Variables:   vars,
		Env:         env,
		Cwd:         cwd,
		Description: spec.Description,
		Depfile:     depfile,
		commands:    commands,
		hash: identity.Hash(identity.Work{
			Commands: commands,
			Env:      env,
			Cwd:      cwd,
			Outputs:  outputs,
		}),
	}
	op.buildSets = append(op.buildSets, b)
	return b, nil
}

func canonicalGroups(dir string, in map[string][]string) (map[string][]string, error) {
	out := make(map[string][]string, len(in))
	for group, files := range in {
		if group == "" {
			return nil, errdefs.Configf("file group", "group name must not be empty")
		}
		list := make([]string, 0, len(files))
		for _, f := range files {
			if f == "" {
				return nil, errdefs.Configf(group, "empty file name")
			}
			list = append(list, absIn(dir, f))
		}
		out[group] = list
	}
	return out, nil
}

func absIn(dir, p string) string {
	if !filepath.IsAbs(p) {
		p = filepath.Join(dir, p)
	}
	return filepath.Clean(p)
}

func flatten(groups map[string][]string) []string {
	names := make([]string, 0, len(groups))
	for n := range groups {
		names = append(names, n)
	}
	sort.Strings(names)
	var out []string
	for _, n := range names {
		out = append(out, groups[n]...)
	}
	return out
}
