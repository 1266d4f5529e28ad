package graph

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"

	"github.com/vk/buildgrid/internal/errdefs"
	"github.com/vk/buildgrid/internal/props"
)

// Session is the build graph of one invocation. It is populated by a single
// goroutine and becomes read-only once Freeze is called; after that it may be
// shared freely between goroutines.
type Session struct {
	BuildDir string
	Variant  string
	// Options holds resolved option values keyed by name.
	Options map[string]string

	projects  map[string]*Project
	targets   map[string]*Target
	operators map[string]*Operator
	rules     map[string]*Operator

	targetOrder   []*Target
	operatorOrder []*Operator

	props  *props.Store
	frozen bool
}

// NewSession creates an empty session. buildDir is made absolute.
func NewSession(buildDir, variant string, options map[string]string) (*Session, error) {
	abs, err := filepath.Abs(buildDir)
	if err != nil {
		return nil, &errdefs.ConfigurationError{Subject: "build directory", Reason: "can not make absolute", Err: err}
	}
	if options == nil {
		options = map[string]string{}
	}
	s := &Session{
		BuildDir:  abs,
		Variant:   variant,
		Options:   options,
		projects:  make(map[string]*Project),
		targets:   make(map[string]*Target),
		operators: make(map[string]*Operator),
		rules:     make(map[string]*Operator),
	}
	s.props = props.New(s)
	return s, nil
}

// Props returns the property store of the session.
func (s *Session) Props() *props.Store { return s.props }

// Freeze ends the construction phase. Every later mutation fails with a
// frozen graph error.
func (s *Session) Freeze() {
	s.frozen = true
	s.props.Freeze()
}

// Frozen reports whether Freeze was called.
func (s *Session) Frozen() bool { return s.frozen }

func (s *Session) checkMutable(op string) error {
	if s.frozen {
		return errdefs.FrozenGraphError(op)
	}
	return nil
}

// Project is a named, versioned group of targets rooted at a directory.
type Project struct {
	ID      string
	Version string
	Dir     string
}

// CreateProject registers a project. Relative paths declared by its targets
// resolve against dir.
func (s *Session) CreateProject(id, version, dir string) (*Project, error) {
	if err := s.checkMutable("create project " + id); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, errdefs.Configf("project", "id must not be empty")
	}
	if _, ok := s.projects[id]; ok {
		return nil, errdefs.DuplicateIDError("project", id)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, &errdefs.ConfigurationError{Subject: id, Reason: "invalid project directory", Err: err}
	}
	p := &Project{ID: id, Version: version, Dir: abs}
	s.projects[id] = p
	return p, nil
}

// Project returns the project with the given id.
func (s *Session) Project(id string) (*Project, bool) {
	p, ok := s.projects[id]
	return p, ok
}

// Dependency is an edge from a target to one it depends on.
type Dependency struct {
	Target *Target
	// Public dependencies re-export the dependency's exported properties to
	// the dependents of the owning target.
	Public bool
}

// Target is a named build unit owned by a project.
type Target struct {
	ID      string
	Name    string
	Project *Project

	deps      []Dependency
	operators []*Operator
}

// Dependencies returns the target's dependency edges in declaration order.
func (t *Target) Dependencies() []Dependency { return t.deps }

// Operators returns the target's operators in creation order.
func (t *Target) Operators() []*Operator { return t.operators }

// TargetID builds the qualified id of a target.
func TargetID(projectID, name string) string { return projectID + "@" + name }

// CreateTarget creates the target projectID@name.
func (s *Session) CreateTarget(projectID, name string) (*Target, error) {
	id := TargetID(projectID, name)
	if err := s.checkMutable("create target " + id); err != nil {
		return nil, err
	}
	p, ok := s.projects[projectID]
	if !ok {
		return nil, errdefs.Configf(id, "unknown project %q", projectID)
	}
	if name == "" {
		return nil, errdefs.Configf(id, "target name must not be empty")
	}
	if _, ok := s.targets[id]; ok {
		return nil, errdefs.DuplicateIDError("target", id)
	}
	t := &Target{ID: id, Name: name, Project: p}
	s.targets[id] = t
	s.targetOrder = append(s.targetOrder, t)
	s.props.AddOwner(id, p.Dir)
	return t, nil
}

// Target returns the target with the given qualified id.
func (s *Session) Target(id string) (*Target, bool) {
	t, ok := s.targets[id]
	return t, ok
}

// Targets returns every target in creation order.
func (s *Session) Targets() []*Target { return s.targetOrder }

// AddDependency records that from depends on to. Every cycle is rejected,
// whether or not properties flow through it. Adding an existing edge again
// only upgrades it to public when requested.
func (s *Session) AddDependency(from, to *Target, public bool) error {
	if err := s.checkMutable("add dependency " + from.ID + " -> " + to.ID); err != nil {
		return err
	}
	if from == to {
		return errdefs.CycleError(from.ID, to.ID, []string{from.ID, from.ID})
	}
	for i, d := range from.deps {
		if d.Target == to {
			from.deps[i].Public = d.Public || public
			return nil
		}
	}
	if path := pathBetween(to, from); path != nil {
		return errdefs.CycleError(from.ID, to.ID, append([]string{from.ID}, path...))
	}
	from.deps = append(from.deps, Dependency{Target: to, Public: public})
	return nil
}

// Dependencies implements props.DependencyLister.
func (s *Session) Dependencies(owner string) []props.Dependency {
	t, ok := s.targets[owner]
	if !ok {
		return nil
	}
	out := make([]props.Dependency, len(t.deps))
	for i, d := range t.deps {
		out[i] = props.Dependency{Owner: d.Target.ID, Public: d.Public}
	}
	return out
}

var ruleNameRe = regexp.MustCompile(`[^\w.]+`)

// RuleName derives the backend rule name of an operator id.
func RuleName(operatorID string) string {
	return "rule_" + ruleNameRe.ReplaceAllString(operatorID, "_")
}

// Operator returns the operator with the given id.
func (s *Session) Operator(id string) (*Operator, bool) {
	op, ok := s.operators[id]
	return op, ok
}

// Operators returns every operator in creation order.
func (s *Session) Operators() []*Operator { return s.operatorOrder }

// Lookup finds the build set addressed by a dispatcher invocation.
func (s *Session) Lookup(targetID, operatorID string, index int) (*BuildSet, error) {
	op, ok := s.operators[operatorID]
	if !ok || op.Target.ID != targetID {
		return nil, fmt.Errorf("operator %q of target %q not found", operatorID, targetID)
	}
	if index < 0 || index >= len(op.buildSets) {
		return nil, fmt.Errorf("build set %d of operator %q not found", index, operatorID)
	}
	return op.buildSets[index], nil
}

// BuildSets returns every build set of the session, grouped by operator in
// creation order.
func (s *Session) BuildSets() []*BuildSet {
	var out []*BuildSet
	for _, op := range s.operatorOrder {
		out = append(out, op.buildSets...)
	}
	return out
}

// ProjectIDs returns the sorted ids of all projects.
func (s *Session) ProjectIDs() []string {
	ids := make([]string, 0, len(s.projects))
	for id := range s.projects {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
