package hcl

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/gohcl"
	"github.com/hashicorp/hcl/v2/hclparse"
	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/errdefs"
	"github.com/vk/buildgrid/internal/fsutil"
	"github.com/vk/buildgrid/internal/graph"
	"github.com/vk/buildgrid/internal/props"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
)

// Extension is the file extension of build scripts.
const Extension = ".hcl"

// Loader is the HCL implementation of the config.Loader interface.
type Loader struct{}

var _ config.Loader = (*Loader)(nil)

// NewLoader creates a new HCL build script loader.
func NewLoader() *Loader {
	return &Loader{}
}

type schemaDecl struct {
	kind  props.Kind
	merge props.MergeMode
	file  string
}

type projectEntry struct {
	file    string
	block   *projectBlock
	project *graph.Project
	evalCtx *hcl.EvalContext
}

type targetEntry struct {
	project *projectEntry
	block   *targetBlock
	target  *graph.Target
	evalCtx *hcl.EvalContext
}

// loadState carries one Load call through its phases.
type loadState struct {
	ctx      context.Context
	sess     *graph.Session
	base     *hcl.EvalContext
	schemas  map[string]schemaDecl
	projects []*projectEntry
	targets  []*targetEntry
}

// Load parses the build scripts found under paths and evaluates them into
// sess. Directories are searched recursively for *.hcl files, skipping the
// build directory and hidden directories.
func (l *Loader) Load(ctx context.Context, sess *graph.Session, paths ...string) ([]string, error) {
	logger := ctxlog.FromContext(ctx)
	logger.Debug("HCL loader started.", "path_count", len(paths))

	files, err := fsutil.FindScripts(paths, Extension, sess.BuildDir)
	if err != nil {
		return nil, &errdefs.ConfigurationError{Subject: "build scripts", Reason: "discovery failed", Err: err}
	}
	if len(files) == 0 {
		return nil, errdefs.Configf("build scripts", "no %s files found in %v", Extension, paths)
	}
	logger.Debug("Discovered HCL files.", "count", len(files))

	parser := hclparse.NewParser()
	roots := make([]*optionsRoot, len(files))
	for i, file := range files {
		f, diags := parser.ParseHCLFile(file)
		if diags.HasErrors() {
			return nil, &errdefs.ConfigurationError{Subject: file, Reason: "failed to parse", Err: diags}
		}
		var root optionsRoot
		if diags := gohcl.DecodeBody(f.Body, nil, &root); diags.HasErrors() {
			return nil, &errdefs.ConfigurationError{Subject: file, Reason: "failed to decode", Err: diags}
		}
		roots[i] = &root
	}

	options, err := resolveOptions(ctx, sess, files, roots)
	if err != nil {
		return nil, err
	}

	st := &loadState{
		ctx:     ctx,
		sess:    sess,
		base:    baseContext(sess, options),
		schemas: make(map[string]schemaDecl),
	}
	for i, file := range files {
		var root fileRoot
		if diags := gohcl.DecodeBody(roots[i].Remain, st.base, &root); diags.HasErrors() {
			return nil, &errdefs.ConfigurationError{Subject: file, Reason: "failed to decode", Err: diags}
		}
		if err := st.declareSchemas(file, root.Properties); err != nil {
			return nil, err
		}
		if err := st.createProjects(file, root.Projects); err != nil {
			return nil, err
		}
	}

	phases := []func() error{st.createTargets, st.addDependencies, st.writeProperties, st.declareRemaining, st.createOperators}
	for _, phase := range phases {
		if err := phase(); err != nil {
			return nil, err
		}
	}

	logger.Debug("HCL loading complete.", "projects", len(st.projects), "targets", len(st.targets), "operators", len(sess.Operators()), "build_sets", len(sess.BuildSets()))
	return files, nil
}

// resolveOptions merges declared option defaults with the values given on
// the command line. Options given but never declared are still visible.
func resolveOptions(ctx context.Context, sess *graph.Session, files []string, roots []*optionsRoot) (map[string]cty.Value, error) {
	values := make(map[string]cty.Value)
	for i, root := range roots {
		for _, opt := range root.Options {
			if _, dup := values[opt.Name]; dup {
				return nil, errdefs.Configf(files[i], "option %q declared twice", opt.Name)
			}
			var def string
			if isExprDefined(ctx, opt.Default, "default") {
				v, diags := opt.Default.Value(nil)
				if diags.HasErrors() {
					return nil, &errdefs.ConfigurationError{Subject: opt.Name, Reason: "invalid option default", Err: diags}
				}
				if err := decode(ctx, v, &def); err != nil {
					return nil, &errdefs.ConfigurationError{Subject: opt.Name, Reason: "invalid option default", Err: err}
				}
			}
			values[opt.Name] = cty.StringVal(def)
		}
	}
	for name, v := range sess.Options {
		values[name] = cty.StringVal(v)
	}
	return values, nil
}

func baseContext(sess *graph.Session, options map[string]cty.Value) *hcl.EvalContext {
	optionVal := cty.EmptyObjectVal
	if len(options) > 0 {
		optionVal = cty.ObjectVal(options)
	}
	raw := config.Options{}
	for name, v := range options {
		if v.IsKnown() && !v.IsNull() && v.Type() == cty.String {
			raw[name] = v.AsString()
		}
	}
	funcs := baseFunctions()
	funcs["option_bool"] = optionBoolFunc(raw)
	return &hcl.EvalContext{
		Variables: map[string]cty.Value{
			"option":    optionVal,
			"variant":   cty.StringVal(sess.Variant),
			"build_dir": cty.StringVal(sess.BuildDir),
		},
		Functions: funcs,
	}
}

func (st *loadState) declareSchemas(file string, blocks []*propertyBlock) error {
	for _, pb := range blocks {
		kind, err := typeExprToKind(st.ctx, pb.Type)
		if err != nil {
			return &errdefs.ConfigurationError{Subject: pb.Name, Reason: "invalid property type", Err: err}
		}
		merge, err := parseMerge(pb.Merge)
		if err != nil {
			return &errdefs.ConfigurationError{Subject: pb.Name, Reason: "invalid property", Err: err}
		}
		if prev, ok := st.schemas[pb.Name]; ok && (prev.kind != kind || prev.merge != merge) {
			return errdefs.Configf(pb.Name, "declared as %s/%s in %s and %s/%s in %s", prev.kind, prev.merge, prev.file, kind, merge, file)
		}
		st.schemas[pb.Name] = schemaDecl{kind: kind, merge: merge, file: file}
	}
	return nil
}

func (st *loadState) createProjects(file string, blocks []*projectBlock) error {
	for _, pb := range blocks {
		dir := filepath.Dir(file)
		if pb.Dir != "" {
			dir = pb.Dir
			if !filepath.IsAbs(dir) {
				dir = filepath.Join(filepath.Dir(file), dir)
			}
		}
		p, err := st.sess.CreateProject(pb.ID, pb.Version, dir)
		if err != nil {
			return err
		}

		evalCtx := st.base.NewChild()
		evalCtx.Variables = map[string]cty.Value{
			"project": cty.ObjectVal(map[string]cty.Value{
				"id":      cty.StringVal(p.ID),
				"version": cty.StringVal(p.Version),
				"dir":     cty.StringVal(p.Dir),
			}),
		}
		evalCtx.Functions = map[string]function.Function{
			"glob":        globFunc(p.Dir),
			"output_path": outputPathFunc(st.sess, p),
		}
		st.projects = append(st.projects, &projectEntry{file: file, block: pb, project: p, evalCtx: evalCtx})
		ctxlog.FromContext(st.ctx).Debug("Project created.", "project", p.ID, "dir", p.Dir)
	}
	return nil
}

func (st *loadState) createTargets() error {
	for _, pe := range st.projects {
		for _, tb := range pe.block.Targets {
			t, err := st.sess.CreateTarget(pe.project.ID, tb.Name)
			if err != nil {
				return err
			}
			evalCtx := pe.evalCtx.NewChild()
			evalCtx.Variables = map[string]cty.Value{
				"target": cty.ObjectVal(map[string]cty.Value{
					"id":   cty.StringVal(t.ID),
					"name": cty.StringVal(t.Name),
				}),
			}
			st.targets = append(st.targets, &targetEntry{project: pe, block: tb, target: t, evalCtx: evalCtx})
		}
	}
	return nil
}

func (st *loadState) addDependencies() error {
	for _, te := range st.targets {
		for _, db := range te.block.Depends {
			id := db.Target
			if !strings.Contains(id, "@") {
				id = graph.TargetID(te.project.project.ID, id)
			}
			dep, ok := st.sess.Target(id)
			if !ok {
				return errdefs.Configf(te.target.ID, "depends on unknown target %q", db.Target)
			}
			if err := st.sess.AddDependency(te.target, dep, db.Public); err != nil {
				return err
			}
		}
	}
	return nil
}

func (st *loadState) writeProperties() error {
	store := st.sess.Props()
	for _, te := range st.targets {
		owner := te.target.ID
		for _, vb := range te.block.Properties {
			sch, ok := st.schemas[vb.Name]
			if !ok {
				return errdefs.Configf(owner, "property %q is not declared; add a top-level property block", vb.Name)
			}
			vis := props.Private
			if vb.Export {
				vis = props.Exported
			}
			err := store.Declare(owner, props.Declaration{Name: vb.Name, Kind: sch.kind, Visibility: vis, Merge: sch.merge})
			if err != nil {
				return err
			}
			v, diags := vb.Value.Value(te.evalCtx)
			if diags.HasErrors() {
				return &errdefs.ConfigurationError{Subject: owner + " " + vb.Name, Reason: "invalid property value", Err: diags}
			}
			if vb.Append {
				err = store.Append(owner, vb.Name, v)
			} else {
				err = store.Set(owner, vb.Name, v)
			}
			if err != nil {
				return err
			}
		}
	}
	return nil
}

// declareRemaining declares every known property privately on the targets
// that never wrote it, so prop() resolves inherited values everywhere.
func (st *loadState) declareRemaining() error {
	names := make([]string, 0, len(st.schemas))
	for n := range st.schemas {
		names = append(names, n)
	}
	sort.Strings(names)

	store := st.sess.Props()
	for _, te := range st.targets {
		for _, n := range names {
			if _, ok := store.Declared(te.target.ID, n); ok {
				continue
			}
			sch := st.schemas[n]
			if err := store.Declare(te.target.ID, props.Declaration{Name: n, Kind: sch.kind, Merge: sch.merge}); err != nil {
				return err
			}
		}
	}
	return nil
}

func (st *loadState) createOperators() error {
	for _, te := range st.targets {
		opCtx := te.evalCtx.NewChild()
		opCtx.Functions = map[string]function.Function{
			"prop": propFunc(st.sess.Props(), te.target.ID),
		}
		for _, ob := range te.block.Operators {
			if err := st.createOperator(te, ob, opCtx); err != nil {
				return err
			}
		}
	}
	return nil
}

func (st *loadState) createOperator(te *targetEntry, ob *operatorBlock, evalCtx *hcl.EvalContext) error {
	id := te.target.ID + ":" + ob.Name
	wrap := func(reason string, err error) error {
		return &errdefs.ConfigurationError{Subject: id, Reason: reason, Err: err}
	}

	cmdVal, diags := ob.Commands.Value(evalCtx)
	if diags.HasErrors() {
		return wrap("invalid commands", diags)
	}
	commands, err := commandList(cmdVal)
	if err != nil {
		return wrap("invalid commands", err)
	}

	var vars map[string][]string
	if isExprDefined(st.ctx, ob.Variables, "variables") {
		v, diags := ob.Variables.Value(evalCtx)
		if diags.HasErrors() {
			return wrap("invalid variables", diags)
		}
		if vars, err = stringListMap(v); err != nil {
			return wrap("invalid variables", err)
		}
	}

	op, err := st.sess.CreateOperator(te.target, id, commands, graph.OperatorFlags{
		Explicit:    ob.Explicit,
		SyncIO:      ob.SyncIO,
		Restat:      ob.Restat,
		RunAlways:   ob.RunAlways,
		Depfile:     ob.Depfile,
		DepsPrefix:  ob.DepsPrefix,
		Variables:   vars,
		Description: ob.Description,
	})
	if err != nil {
		return err
	}

	var specs []map[string]cty.Value
	for _, bb := range ob.BuildSet {
		attrs, diags := evalAttrs(st.ctx, bb.attributes(), evalCtx)
		if diags.HasErrors() {
			return wrap("invalid build set", diags)
		}
		specs = append(specs, attrs)
	}
	if isExprDefined(st.ctx, ob.BuildSets, "build_sets") {
		v, diags := ob.BuildSets.Value(evalCtx)
		if diags.HasErrors() {
			return wrap("invalid build_sets", diags)
		}
		list, err := objectList(v)
		if err != nil {
			return wrap("invalid build_sets", err)
		}
		specs = append(specs, list...)
	}

	for i, attrs := range specs {
		spec, err := buildSetSpec(st.ctx, attrs)
		if err != nil {
			return wrap(fmt.Sprintf("build set %d", i), err)
		}
		if _, err := st.sess.CreateBuildSet(op, spec); err != nil {
			return err
		}
	}
	ctxlog.FromContext(st.ctx).Debug("Operator created.", "operator", id, "build_sets", len(specs))
	return nil
}

func objectList(v cty.Value) ([]map[string]cty.Value, error) {
	ty := v.Type()
	if v.IsNull() {
		return nil, nil
	}
	if !ty.IsListType() && !ty.IsTupleType() {
		return nil, fmt.Errorf("expected a list of objects, got %s", ty.FriendlyName())
	}
	var out []map[string]cty.Value
	for it := v.ElementIterator(); it.Next(); {
		_, el := it.Element()
		if !el.Type().IsObjectType() && !el.Type().IsMapType() {
			return nil, fmt.Errorf("expected an object, got %s", el.Type().FriendlyName())
		}
		out = append(out, el.AsValueMap())
	}
	return out, nil
}
