package ninja

import (
	"context"
	"fmt"
	"path"
	"strconv"
	"strings"

	"github.com/hashicorp/go-multierror"
	"github.com/kballard/go-shellquote"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/errdefs"
	"github.com/vk/buildgrid/internal/graph"
)

// Mode selects how exported rules run a build set.
type Mode int

const (
	// ServerMode rules dispatch through the build client.
	ServerMode Mode = iota
	// ScriptMode rules run a flattened shell script per build set.
	ScriptMode
)

func (m Mode) String() string {
	if m == ScriptMode {
		return "script"
	}
	return "server"
}

// ParseMode parses "server" or "script".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "", "server":
		return ServerMode, nil
	case "script":
		return ScriptMode, nil
	}
	return 0, errdefs.Configf("mode", "unknown export mode %q (want server or script)", s)
}

// Names of the aggregate nodes every manifest defines.
const (
	AllTarget     = "all"
	DefaultTarget = "all_default"
	alwaysTarget  = ".buildgrid_always"
	placeholders  = ".buildgrid/phony"
)

// Options configure an export.
type Options struct {
	Mode Mode
	// Self is the argv prefix that starts this program. Server mode rules
	// invoke "<Self> client ...".
	Self []string
	// ScriptDir receives one script per build set in ScriptMode.
	ScriptDir string
}

// OperatorPhony is the aggregate node of all edges of op.
func OperatorPhony(op *graph.Operator) string {
	return strings.TrimPrefix(op.RuleName(), "rule_")
}

// TargetPhony is the aggregate node of all default operators of t.
func TargetPhony(t *graph.Target) string {
	return strings.TrimPrefix(graph.RuleName(t.ID), "rule_")
}

// Export freezes sess and renders it as a ninja manifest. Rendering is
// deterministic: the same graph always yields the same bytes.
func Export(ctx context.Context, sess *graph.Session, opts Options) ([]byte, error) {
	logger := ctxlog.FromContext(ctx)
	sess.Freeze()

	if err := sess.DetectCycles(); err != nil {
		return nil, err
	}
	dupes, err := checkOutputs(sess)
	if err != nil {
		return nil, err
	}
	if err := checkPhonyNames(sess); err != nil {
		return nil, err
	}
	if opts.Mode == ServerMode && len(opts.Self) == 0 {
		return nil, errdefs.Configf("export", "server mode needs the path of the buildgrid binary")
	}
	if opts.Mode == ScriptMode && opts.ScriptDir == "" {
		return nil, errdefs.Configf("export", "script mode needs a script directory")
	}

	w := &Writer{}
	w.Comment("Generated by buildgrid. Do not edit.")
	w.Newline()
	if opts.Mode == ServerMode {
		w.Variable("buildgrid", Escape(shellquote.Join(opts.Self...)))
		w.Newline()
	}
	if hasRunAlways(sess) {
		w.Build([]string{alwaysTarget}, "phony", nil, nil, nil)
		w.Newline()
	}

	var (
		allOutputs []string
		seenOutput = map[string]bool{}
		defaults   []string
	)
	for _, t := range sess.Targets() {
		orderOnly := make([]string, 0, len(t.Dependencies()))
		for _, d := range t.Dependencies() {
			orderOnly = append(orderOnly, TargetPhony(d.Target))
		}

		var targetOps []string
		for _, op := range t.Operators() {
			outs, err := lowerOperator(w, op, orderOnly, dupes, opts)
			if err != nil {
				return nil, &errdefs.ExportError{Operator: op.ID, Err: err}
			}
			for _, o := range outs {
				if !seenOutput[o] {
					seenOutput[o] = true
					allOutputs = append(allOutputs, o)
				}
			}
			if !op.Flags.Explicit {
				targetOps = append(targetOps, OperatorPhony(op))
				defaults = append(defaults, OperatorPhony(op))
			}
			logger.Debug("Exported operator.", "operator", op.ID, "buildSets", len(op.BuildSets()))
		}
		w.Build([]string{TargetPhony(t)}, "phony", targetOps, nil, nil)
		w.Newline()
	}

	w.Build([]string{AllTarget}, "phony", allOutputs, nil, nil)
	w.Build([]string{DefaultTarget}, "phony", defaults, nil, nil)
	w.Default(DefaultTarget)

	out, err := w.Bytes()
	if err != nil {
		return nil, &errdefs.ExportError{Operator: "<manifest>", Err: err}
	}
	return out, nil
}

// lowerOperator writes op's rule, one edge per build set and the operator
// phony. It returns the real outputs of the operator.
func lowerOperator(w *Writer, op *graph.Operator, orderOnly []string, dupes map[*graph.BuildSet]bool, opts Options) ([]string, error) {
	rule := op.RuleName()

	var command string
	switch opts.Mode {
	case ServerMode:
		command = "$buildgrid client " + Escape(shellquote.Join(op.Target.ID, op.ID)) + " $index $hash"
	case ScriptMode:
		command = "/bin/sh $script $hash"
	}

	vars := []Var{
		{"command", command},
		{"description", "$description"},
	}
	if op.Flags.SyncIO {
		vars = append(vars, Var{"pool", "console"})
	}
	if op.Flags.Restat {
		vars = append(vars, Var{"restat", "1"})
	}
	switch op.Deps() {
	case graph.DepsGCC:
		vars = append(vars, Var{"depfile", "$depfile"}, Var{"deps", "gcc"})
	case graph.DepsMSVC:
		vars = append(vars, Var{"deps", "msvc"}, Var{"msvc_deps_prefix", Escape(op.Flags.DepsPrefix)})
	}
	w.Rule(rule, vars...)

	var implicit []string
	if op.Flags.RunAlways {
		implicit = []string{alwaysTarget}
	}

	var opOutputs, realOutputs []string
	for _, b := range op.BuildSets() {
		outputs := b.OutputFiles()
		realOutputs = append(realOutputs, outputs...)
		if dupes[b] {
			opOutputs = append(opOutputs, outputs...)
			continue
		}
		if len(outputs) == 0 {
			outputs = []string{path.Join(placeholders, rule, strconv.Itoa(b.Index))}
		}
		opOutputs = append(opOutputs, outputs...)

		edgeVars := []Var{
			{"index", strconv.Itoa(b.Index)},
			{"hash", b.Hash()},
			{"description", Escape(describe(b))},
		}
		switch {
		case op.Deps() == graph.DepsGCC:
			edgeVars = append(edgeVars, Var{"depfile", Escape(b.Depfile)})
		case b.Depfile != "":
			// The rule carries no deps, so the edge declares its own.
			edgeVars = append(edgeVars, Var{"depfile", Escape(b.Depfile)}, Var{"deps", "gcc"})
		}
		if opts.Mode == ScriptMode {
			script, err := writeScript(opts.ScriptDir, b)
			if err != nil {
				return nil, err
			}
			edgeVars = append(edgeVars, Var{"script", Escape(shellquote.Join(script))})
		}
		w.Build(outputs, rule, b.InputFiles(), implicit, orderOnly, edgeVars...)
	}
	w.Build([]string{OperatorPhony(op)}, "phony", opOutputs, nil, nil)
	w.Newline()
	if w.err != nil {
		return nil, w.err
	}
	return realOutputs, nil
}

func describe(b *graph.BuildSet) string {
	switch {
	case b.Description != "":
		return b.Description
	case b.Operator.Flags.Description != "":
		return b.Operator.Flags.Description
	}
	return fmt.Sprintf("%s #%d", b.Operator.ID, b.Index)
}

func hasRunAlways(sess *graph.Session) bool {
	for _, op := range sess.Operators() {
		if op.Flags.RunAlways {
			return true
		}
	}
	return false
}

// checkOutputs verifies that no two build sets claim the same output. A
// build set identical to an earlier one (same hash, inputs and outputs) is not a
// conflict; it is returned so the exporter emits that work once.
func checkOutputs(sess *graph.Session) (map[*graph.BuildSet]bool, error) {
	owners := make(map[string]*graph.BuildSet)
	dupes := make(map[*graph.BuildSet]bool)
	var merr *multierror.Error

	for _, b := range sess.BuildSets() {
		outputs := b.OutputFiles()
		var conflict *graph.BuildSet
		for _, o := range outputs {
			if prev, ok := owners[o]; ok {
				conflict = prev
				break
			}
		}
		if conflict != nil {
			if conflict.Hash() == b.Hash() && sameFiles(conflict.OutputFiles(), outputs) &&
				sameFiles(conflict.InputFiles(), b.InputFiles()) {
				dupes[b] = true
				continue
			}
			merr = multierror.Append(merr, fmt.Errorf("%s #%d and %s #%d both produce %s",
				conflict.Operator.ID, conflict.Index, b.Operator.ID, b.Index, firstShared(conflict.OutputFiles(), outputs)))
			continue
		}
		for _, o := range outputs {
			owners[o] = b
		}
	}
	if err := merr.ErrorOrNil(); err != nil {
		return nil, &errdefs.GraphIntegrityError{
			Kind:    errdefs.OutputConflict,
			Subject: "build set outputs",
			Err:     err,
		}
	}
	return dupes, nil
}

func sameFiles(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func firstShared(a, b []string) string {
	set := make(map[string]bool, len(a))
	for _, f := range a {
		set[f] = true
	}
	for _, f := range b {
		if set[f] {
			return f
		}
	}
	return ""
}

// checkPhonyNames rejects graphs where two aggregate nodes would share a
// name after sanitization.
func checkPhonyNames(sess *graph.Session) error {
	used := map[string]string{
		AllTarget:     "the all aggregate",
		DefaultTarget: "the default aggregate",
	}
	claim := func(name, owner string) error {
		if prev, ok := used[name]; ok {
			return errdefs.Integrityf(errdefs.NameCollision, owner, "phony name %q is already used by %s", name, prev)
		}
		used[name] = owner
		return nil
	}
	for _, t := range sess.Targets() {
		if err := claim(TargetPhony(t), "target "+t.ID); err != nil {
			return err
		}
		for _, op := range t.Operators() {
			if err := claim(OperatorPhony(op), "operator "+op.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
