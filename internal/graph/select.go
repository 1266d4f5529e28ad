package graph

import (
	"strings"

	"github.com/vk/buildgrid/internal/errdefs"
)

// Select resolves build selectors to operators. A selector is
// "project@target", "project@target:operator" or a bare target name that is
// unique across projects. With no selectors every non-explicit operator is
// selected.
func (s *Session) Select(selectors []string) ([]*Operator, error) {
	if len(selectors) == 0 {
		var out []*Operator
		for _, op := range s.operatorOrder {
			if !op.Flags.Explicit {
				out = append(out, op)
			}
		}
		return out, nil
	}

	seen := make(map[*Operator]bool)
	var out []*Operator
	add := func(op *Operator) {
		if !seen[op] {
			seen[op] = true
			out = append(out, op)
		}
	}

	for _, sel := range selectors {
		targetPart, opPart, hasOp := strings.Cut(sel, ":")
		t, err := s.selectTarget(targetPart)
		if err != nil {
			return nil, err
		}
		if !hasOp {
			for _, op := range t.operators {
				add(op)
			}
			continue
		}
		op := t.findOperator(opPart, sel)
		if op == nil {
			return nil, errdefs.Configf(sel, "target %s has no operator %q", t.ID, opPart)
		}
		add(op)
	}
	return out, nil
}

func (s *Session) selectTarget(sel string) (*Target, error) {
	if strings.Contains(sel, "@") {
		t, ok := s.targets[sel]
		if !ok {
			return nil, errdefs.Configf(sel, "no such target")
		}
		return t, nil
	}
	var match *Target
	for _, t := range s.targetOrder {
		if t.Name != sel {
			continue
		}
		if match != nil {
			return nil, errdefs.Configf(sel, "ambiguous target name, matches %s and %s", match.ID, t.ID)
		}
		match = t
	}
	if match == nil {
		return nil, errdefs.Configf(sel, "no such target")
	}
	return match, nil
}

func (t *Target) findOperator(ids ...string) *Operator {
	for _, op := range t.operators {
		for _, id := range ids {
			if op.ID == id || op.ID == t.ID+":"+id {
				return op
			}
		}
	}
	return nil
}
