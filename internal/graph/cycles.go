package graph

import (
	"github.com/vk/buildgrid/internal/errdefs"
)

// pathBetween returns the chain of target ids from start to goal following
// dependency edges, or nil if goal is unreachable.
func pathBetween(start, goal *Target) []string {
	visited := make(map[*Target]bool)

	var visit func(t *Target) []string
	visit = func(t *Target) []string {
		if t == goal {
			return []string{t.ID}
		}
		if visited[t] {
			return nil
		}
		visited[t] = true
		for _, d := range t.deps {
			if rest := visit(d.Target); rest != nil {
				return append([]string{t.ID}, rest...)
			}
		}
		return nil
	}
	return visit(start)
}

// DetectCycles checks the whole dependency graph for cycles. AddDependency
// already refuses edges that would close one, so this only fails when edges
// were spliced in some other way. It runs before export as a last check.
func (s *Session) DetectCycles() error {
	// permanent: fully visited and known to be acyclic.
	// temporary: on the current recursion stack.
	permanent := make(map[*Target]bool)
	temporary := make(map[*Target]bool)
	var stack []string

	var visit func(t *Target) error
	visit = func(t *Target) error {
		if permanent[t] {
			return nil
		}
		if temporary[t] {
			return errdefs.CycleError(stack[len(stack)-1], t.ID, append(append([]string(nil), stack...), t.ID))
		}
		temporary[t] = true
		stack = append(stack, t.ID)
		for _, d := range t.deps {
			if err := visit(d.Target); err != nil {
				return err
			}
		}
		stack = stack[:len(stack)-1]
		delete(temporary, t)
		permanent[t] = true
		return nil
	}

	for _, t := range s.targetOrder {
		if err := visit(t); err != nil {
			return err
		}
	}
	return nil
}
