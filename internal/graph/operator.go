package graph

import (
	"fmt"

	"github.com/vk/buildgrid/internal/errdefs"
)

// DepsStyle selects how the executor discovers implicit dependencies.
type DepsStyle int

const (
	DepsNone DepsStyle = iota
	// DepsGCC reads a Makefile style depfile.
	DepsGCC
	// DepsMSVC parses /showIncludes lines carrying DepsPrefix.
	DepsMSVC
)

// OperatorFlags control how the executor schedules an operator's edges.
type OperatorFlags struct {
	// Explicit operators are not part of the default build.
	Explicit bool
	// SyncIO operators need exclusive console access.
	SyncIO bool
	// Restat re-checks output timestamps after the command ran.
	Restat bool
	// RunAlways edges are never considered up to date.
	RunAlways bool
	// Depfile is a template for the depfile path, e.g. "${@out}.d".
	Depfile string
	// DepsPrefix is the msvc /showIncludes prefix. It can not be combined
	// with Depfile.
	DepsPrefix string
	// Variables are defaults for placeholders the build sets do not bind.
	Variables map[string][]string
	// Description is shown by the executor while an edge runs.
	Description string
}

// Operator is a rule template owned by a target.
type Operator struct {
	ID       string
	Target   *Target
	Commands [][]string
	Flags    OperatorFlags

	template  template
	buildSets []*BuildSet
}

// RuleName is the sanitized backend rule name.
func (op *Operator) RuleName() string { return RuleName(op.ID) }

// Deps returns the dependency discovery style of the operator.
func (op *Operator) Deps() DepsStyle {
	switch {
	case op.Flags.DepsPrefix != "":
		return DepsMSVC
	case op.Flags.Depfile != "":
		return DepsGCC
	}
	return DepsNone
}

// BuildSets returns the operator's build sets; index i is BuildSet.Index i.
func (op *Operator) BuildSets() []*BuildSet { return op.buildSets }

// CreateOperator creates an operator on t. Operator ids are unique across the
// session, and so are the rule names derived from them.
func (s *Session) CreateOperator(t *Target, id string, commands [][]string, flags OperatorFlags) (*Operator, error) {
	if err := s.checkMutable("create operator " + id); err != nil {
		return nil, err
	}
	if id == "" {
		return nil, errdefs.Configf(t.ID, "operator id must not be empty")
	}
	if _, ok := s.operators[id]; ok {
		return nil, errdefs.DuplicateIDError("operator", id)
	}
	rule := RuleName(id)
	if other, ok := s.rules[rule]; ok {
		return nil, errdefs.Integrityf(errdefs.NameCollision, id, "rule name %q is already used by operator %q", rule, other.ID)
	}
	if len(commands) == 0 {
		return nil, errdefs.Configf(id, "operator needs at least one command")
	}
	if flags.DepsPrefix != "" && flags.Depfile != "" {
		return nil, errdefs.Configf(id, "depfile and deps_prefix are mutually exclusive")
	}
	tmpl, err := parseCommands(commands)
	if err != nil {
		return nil, &errdefs.ConfigurationError{Subject: id, Reason: "invalid command template", Err: err}
	}
	if flags.Depfile != "" {
		if _, err := parseArg(flags.Depfile); err != nil {
			return nil, &errdefs.ConfigurationError{Subject: id, Reason: "invalid depfile template", Err: err}
		}
	}

	op := &Operator{
		ID:       id,
		Target:   t,
		Commands: cloneCommands(commands),
		Flags:    flags,
		template: tmpl,
	}
	s.operators[id] = op
	s.rules[rule] = op
	s.operatorOrder = append(s.operatorOrder, op)
	t.operators = append(t.operators, op)
	return op, nil
}

func cloneCommands(in [][]string) [][]string {
	out := make([][]string, len(in))
	for i, argv := range in {
		out[i] = append([]string(nil), argv...)
	}
	return out
}

func (op *Operator) String() string { return fmt.Sprintf("operator %s", op.ID) }
