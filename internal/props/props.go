// Package props implements the typed, mergeable property bag attached to
// every target.
//
// A property has a session-wide shape (its Kind and MergeMode, fixed by the
// first declaration) and a per-owner visibility. Values are cty values so the
// HCL front end can hand them over without conversion.
//
// Resolution is a pure function of the owner's own writes and the exported
// writes of its dependencies, folded in dependency declaration order with the
// owner's local value applied last. Exports of a dependency's public
// dependencies flow through transitively; each owner contributes at most once
// per resolution.
package props

import (
	"fmt"
	"path/filepath"
	"sort"

	"github.com/vk/buildgrid/internal/errdefs"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// Kind is the value type of a property.
type Kind int

const (
	// Scalar holds a bool or a number.
	Scalar Kind = iota
	// String holds a single string.
	String
	// List holds an ordered list of strings.
	List
	// PathList holds an ordered list of absolute, cleaned paths.
	PathList
)

func (k Kind) String() string {
	switch k {
	case Scalar:
		return "scalar"
	case String:
		return "string"
	case List:
		return "list"
	case PathList:
		return "path_list"
	}
	return fmt.Sprintf("Kind(%d)", int(k))
}

// ParseKind parses the textual name of a Kind.
func ParseKind(s string) (Kind, error) {
	switch s {
	case "scalar", "bool", "number":
		return Scalar, nil
	case "string":
		return String, nil
	case "list", "string_list":
		return List, nil
	case "path_list", "paths":
		return PathList, nil
	}
	return 0, errdefs.Configf("property type", "unknown property type %q", s)
}

func (k Kind) isList() bool { return k == List || k == PathList }

// Visibility controls whether dependents inherit a value.
type Visibility int

const (
	Private Visibility = iota
	Exported
)

func (v Visibility) String() string {
	if v == Exported {
		return "exported"
	}
	return "private"
}

// MergeMode controls how values from several writers combine.
type MergeMode int

const (
	Replace MergeMode = iota
	Append
)

func (m MergeMode) String() string {
	if m == Append {
		return "append"
	}
	return "replace"
}

// Declaration is the shape of a property as seen by one owner.
type Declaration struct {
	Name       string
	Kind       Kind
	Visibility Visibility
	Merge      MergeMode
}

// Dependency is one outgoing edge of an owner, in declaration order.
type Dependency struct {
	Owner  string
	Public bool
}

// DependencyLister exposes the dependency edges of owners. The graph
// implements it.
type DependencyLister interface {
	Dependencies(owner string) []Dependency
}

type schema struct {
	kind  Kind
	merge MergeMode
}

type owner struct {
	dir      string
	decls    map[string]Declaration
	private  map[string]cty.Value
	exported map[string]cty.Value
}

// Store holds every property declaration and value of a session.
type Store struct {
	deps    DependencyLister
	schemas map[string]schema
	owners  map[string]*owner
	frozen  bool
}

// New returns an empty Store that reads dependency edges from deps.
func New(deps DependencyLister) *Store {
	return &Store{
		deps:    deps,
		schemas: make(map[string]schema),
		owners:  make(map[string]*owner),
	}
}

// AddOwner registers an owner. Relative paths written to its PathList
// properties are resolved against dir.
func (s *Store) AddOwner(id, dir string) {
	if _, ok := s.owners[id]; ok {
		return
	}
	s.owners[id] = &owner{
		dir:      dir,
		decls:    make(map[string]Declaration),
		private:  make(map[string]cty.Value),
		exported: make(map[string]cty.Value),
	}
}

// Freeze rejects every later write.
func (s *Store) Freeze() { s.frozen = true }

// Declare registers the shape of a property for an owner. Redeclaring with
// an identical shape is a no-op.
func (s *Store) Declare(ownerID string, d Declaration) error {
	if s.frozen {
		return errdefs.FrozenGraphError("declare " + d.Name)
	}
	if d.Name == "" {
		return errdefs.Configf(ownerID, "property name must not be empty")
	}
	o, ok := s.owners[ownerID]
	if !ok {
		return errdefs.Configf(ownerID, "unknown property owner")
	}
	if d.Merge == Append && !d.Kind.isList() {
		return errdefs.Configf(d.Name, "append merge requires a list property, got %s", d.Kind)
	}

	if sch, ok := s.schemas[d.Name]; ok {
		if sch.kind != d.Kind || sch.merge != d.Merge {
			return errdefs.Configf(d.Name, "redeclared as %s/%s, previously %s/%s", d.Kind, d.Merge, sch.kind, sch.merge)
		}
	} else {
		s.schemas[d.Name] = schema{kind: d.Kind, merge: d.Merge}
	}

	if prev, ok := o.decls[d.Name]; ok && prev != d {
		return errdefs.Configf(d.Name, "already declared %s on %s", prev.Visibility, ownerID)
	}
	o.decls[d.Name] = d
	return nil
}

// Declared returns the owner's declaration of name.
func (s *Store) Declared(ownerID, name string) (Declaration, bool) {
	o, ok := s.owners[ownerID]
	if !ok {
		return Declaration{}, false
	}
	d, ok := o.decls[name]
	return d, ok
}

// Names returns the owner's declared property names, sorted.
func (s *Store) Names(ownerID string) []string {
	o, ok := s.owners[ownerID]
	if !ok {
		return nil
	}
	names := make([]string, 0, len(o.decls))
	for n := range o.decls {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Set writes v as the owner's local value, replacing any earlier write.
func (s *Store) Set(ownerID, name string, v cty.Value) error {
	o, d, v, err := s.prepareWrite(ownerID, name, v)
	if err != nil {
		return err
	}
	o.slot(d.Visibility)[name] = v
	return nil
}

// Append concatenates v onto the owner's local value. The property must be
// declared with the Append merge mode.
func (s *Store) Append(ownerID, name string, v cty.Value) error {
	o, d, v, err := s.prepareWrite(ownerID, name, v)
	if err != nil {
		return err
	}
	if d.Merge != Append {
		return errdefs.Configf(name, "append to a %s property", d.Merge)
	}
	slot := o.slot(d.Visibility)
	if prev, ok := slot[name]; ok {
		v = concat(prev, v)
	}
	slot[name] = v
	return nil
}

func (s *Store) prepareWrite(ownerID, name string, v cty.Value) (*owner, Declaration, cty.Value, error) {
	if s.frozen {
		return nil, Declaration{}, cty.NilVal, errdefs.FrozenGraphError("write " + name)
	}
	o, ok := s.owners[ownerID]
	if !ok {
		return nil, Declaration{}, cty.NilVal, errdefs.Configf(ownerID, "unknown property owner")
	}
	d, ok := o.decls[name]
	if !ok {
		return nil, Declaration{}, cty.NilVal, errdefs.Configf(name, "property is not declared on %s", ownerID)
	}
	v, err := coerce(d.Kind, v)
	if err != nil {
		return nil, Declaration{}, cty.NilVal, &errdefs.ConfigurationError{Subject: name, Reason: "invalid value", Err: err}
	}
	if d.Kind == PathList {
		v = absPaths(o.dir, v)
	}
	return o, d, v, nil
}

func (o *owner) slot(vis Visibility) map[string]cty.Value {
	if vis == Exported {
		return o.exported
	}
	return o.private
}

// Resolve returns the merged value of name for the owner. It has no side
// effects and is stable across repeated calls.
func (s *Store) Resolve(ownerID, name string) (cty.Value, error) {
	sch, ok := s.schemas[name]
	if !ok {
		return cty.NilVal, errdefs.Configf(name, "property is not declared")
	}
	o, ok := s.owners[ownerID]
	if !ok {
		return cty.NilVal, errdefs.Configf(ownerID, "unknown property owner")
	}

	acc := &accumulator{schema: sch}
	seen := map[string]bool{ownerID: true}
	for _, dep := range s.deps.Dependencies(ownerID) {
		s.inherit(acc, dep.Owner, name, seen)
	}
	if v, ok := o.private[name]; ok {
		acc.add(v)
	}
	if v, ok := o.exported[name]; ok {
		acc.add(v)
	}
	return acc.result(), nil
}

// inherit folds the exported contribution of ownerID: first what its public
// dependencies export, then its own exported value.
func (s *Store) inherit(acc *accumulator, ownerID, name string, seen map[string]bool) {
	if seen[ownerID] {
		return
	}
	seen[ownerID] = true
	for _, dep := range s.deps.Dependencies(ownerID) {
		if dep.Public {
			s.inherit(acc, dep.Owner, name, seen)
		}
	}
	if o, ok := s.owners[ownerID]; ok {
		if v, ok := o.exported[name]; ok {
			acc.add(v)
		}
	}
}

type accumulator struct {
	schema schema
	value  cty.Value
	set    bool
}

func (a *accumulator) add(v cty.Value) {
	if v.IsNull() {
		return
	}
	if a.set && a.schema.merge == Append {
		a.value = concat(a.value, v)
		return
	}
	a.value = v
	a.set = true
}

func (a *accumulator) result() cty.Value {
	if a.set {
		return a.value
	}
	if a.schema.kind.isList() {
		return cty.ListValEmpty(cty.String)
	}
	if a.schema.kind == String {
		return cty.NullVal(cty.String)
	}
	return cty.NullVal(cty.DynamicPseudoType)
}

// ResolveStrings resolves a List, PathList or String property as a Go slice.
// A null string resolves to an empty slice.
func (s *Store) ResolveStrings(ownerID, name string) ([]string, error) {
	v, err := s.Resolve(ownerID, name)
	if err != nil {
		return nil, err
	}
	return Strings(v)
}

// SetStrings is the typed form of Set for list properties.
func (s *Store) SetStrings(ownerID, name string, vals ...string) error {
	return s.Set(ownerID, name, StringsVal(vals))
}

// AppendStrings is the typed form of Append for list properties.
func (s *Store) AppendStrings(ownerID, name string, vals ...string) error {
	return s.Append(ownerID, name, StringsVal(vals))
}

// SetString is the typed form of Set for string properties.
func (s *Store) SetString(ownerID, name, val string) error {
	return s.Set(ownerID, name, cty.StringVal(val))
}

// SetBool is the typed form of Set for scalar properties.
func (s *Store) SetBool(ownerID, name string, val bool) error {
	return s.Set(ownerID, name, cty.BoolVal(val))
}

// StringsVal converts a Go string slice to a cty list.
func StringsVal(vals []string) cty.Value {
	if len(vals) == 0 {
		return cty.ListValEmpty(cty.String)
	}
	elems := make([]cty.Value, len(vals))
	for i, v := range vals {
		elems[i] = cty.StringVal(v)
	}
	return cty.ListVal(elems)
}

// Strings converts a string or list-of-string cty value to a Go slice.
func Strings(v cty.Value) ([]string, error) {
	if v.IsNull() {
		return []string{}, nil
	}
	if v.Type() == cty.String {
		return []string{v.AsString()}, nil
	}
	var out []string
	if err := gocty.FromCtyValue(v, &out); err != nil {
		return nil, err
	}
	if out == nil {
		out = []string{}
	}
	return out, nil
}

func coerce(k Kind, v cty.Value) (cty.Value, error) {
	if !v.IsWhollyKnown() {
		return cty.NilVal, fmt.Errorf("value must be known")
	}
	switch k {
	case Scalar:
		if v.Type() != cty.Bool && v.Type() != cty.Number {
			return cty.NilVal, fmt.Errorf("expected bool or number, got %s", v.Type().FriendlyName())
		}
		return v, nil
	case String:
		return convert.Convert(v, cty.String)
	default:
		if v.Type() == cty.String {
			return cty.ListVal([]cty.Value{v}), nil
		}
		out, err := convert.Convert(v, cty.List(cty.String))
		if err != nil {
			return cty.NilVal, err
		}
		if out.IsNull() {
			return cty.ListValEmpty(cty.String), nil
		}
		for i, e := range out.AsValueSlice() {
			if e.IsNull() {
				return cty.NilVal, fmt.Errorf("element %d is null", i)
			}
		}
		return out, nil
	}
}

func concat(a, b cty.Value) cty.Value {
	if a.LengthInt() == 0 {
		return b
	}
	if b.LengthInt() == 0 {
		return a
	}
	elems := append(a.AsValueSlice(), b.AsValueSlice()...)
	return cty.ListVal(elems)
}

func absPaths(dir string, v cty.Value) cty.Value {
	if v.LengthInt() == 0 {
		return v
	}
	elems := v.AsValueSlice()
	out := make([]cty.Value, len(elems))
	for i, e := range elems {
		p := e.AsString()
		if !filepath.IsAbs(p) {
			p = filepath.Join(dir, p)
		}
		out[i] = cty.StringVal(filepath.Clean(p))
	}
	return cty.ListVal(out)
}
