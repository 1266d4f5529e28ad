package hcl

import (
	"context"
	"fmt"
	"reflect"
	"sort"

	"github.com/google/shlex"
	"github.com/hashicorp/hcl/v2"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/graph"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/convert"
	"github.com/zclconf/go-cty/cty/gocty"
)

// decode converts val to the Go type goVal points to, converting the cty
// value to the type implied by the Go type first.
func decode(ctx context.Context, val cty.Value, goVal any) error {
	logger := ctxlog.FromContext(ctx)
	valPtr := reflect.ValueOf(goVal)
	if valPtr.Kind() != reflect.Ptr {
		return fmt.Errorf("target for decoding must be a pointer, got %T", goVal)
	}

	impliedType, err := gocty.ImpliedType(valPtr.Elem().Interface())
	if err != nil {
		return gocty.FromCtyValue(val, goVal)
	}

	convertedVal, err := convert.Convert(val, impliedType)
	if err != nil {
		return fmt.Errorf("cannot convert %s to required type %s: %w", val.Type().FriendlyName(), impliedType.FriendlyName(), err)
	}
	if !val.Type().Equals(convertedVal.Type()) {
		logger.Debug("Implicitly converted value type.",
			"from", val.Type().FriendlyName(),
			"to", convertedVal.Type().FriendlyName(),
		)
	}
	if convertedVal.IsNull() {
		return nil
	}
	return gocty.FromCtyValue(convertedVal, goVal)
}

// stringList flattens a string, or a list or tuple of strings and nested
// lists, into a Go slice. Numbers and bools are converted to strings.
func stringList(val cty.Value) ([]string, error) {
	if val.IsNull() {
		return nil, nil
	}
	if !val.IsWhollyKnown() {
		return nil, fmt.Errorf("value must be known")
	}
	ty := val.Type()
	if ty.IsListType() || ty.IsTupleType() || ty.IsSetType() {
		var out []string
		for it := val.ElementIterator(); it.Next(); {
			_, el := it.Element()
			part, err := stringList(el)
			if err != nil {
				return nil, err
			}
			out = append(out, part...)
		}
		return out, nil
	}
	s, err := convert.Convert(val, cty.String)
	if err != nil {
		return nil, fmt.Errorf("expected a string or a list of strings, got %s", ty.FriendlyName())
	}
	return []string{s.AsString()}, nil
}

// stringListMap converts an object or map whose values are strings or lists
// into map[string][]string.
func stringListMap(val cty.Value) (map[string][]string, error) {
	if val.IsNull() {
		return nil, nil
	}
	ty := val.Type()
	if !ty.IsObjectType() && !ty.IsMapType() {
		return nil, fmt.Errorf("expected an object, got %s", ty.FriendlyName())
	}
	out := make(map[string][]string)
	for k, v := range val.AsValueMap() {
		list, err := stringList(v)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", k, err)
		}
		if list == nil {
			list = []string{}
		}
		out[k] = list
	}
	return out, nil
}

// commandList converts the commands attribute of an operator. Each element
// is either an argv list or a string split with shell word rules.
func commandList(val cty.Value) ([][]string, error) {
	ty := val.Type()
	if val.IsNull() || !(ty.IsListType() || ty.IsTupleType()) {
		return nil, fmt.Errorf("commands must be a list, got %s", ty.FriendlyName())
	}
	var out [][]string
	i := 0
	for it := val.ElementIterator(); it.Next(); i++ {
		_, el := it.Element()
		var argv []string
		var err error
		if el.Type() == cty.String {
			argv, err = shlex.Split(el.AsString())
		} else {
			argv, err = stringList(el)
		}
		if err != nil {
			return nil, fmt.Errorf("command %d: %w", i, err)
		}
		if len(argv) == 0 {
			return nil, fmt.Errorf("command %d is empty", i)
		}
		out = append(out, argv)
	}
	return out, nil
}

var buildSetKeys = map[string]bool{
	"inputs": true, "outputs": true, "variables": true, "env": true,
	"cwd": true, "description": true, "depfile": true,
}

// buildSetSpec converts the attributes of one build set.
func buildSetSpec(ctx context.Context, attrs map[string]cty.Value) (graph.BuildSetSpec, error) {
	var spec graph.BuildSetSpec
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	for _, k := range keys {
		v := attrs[k]
		if !buildSetKeys[k] {
			return spec, fmt.Errorf("unknown build set attribute %q", k)
		}
		if v.IsNull() {
			continue
		}
		var err error
		switch k {
		case "inputs":
			spec.Inputs, err = stringListMap(v)
		case "outputs":
			spec.Outputs, err = stringListMap(v)
		case "variables":
			spec.Variables, err = stringListMap(v)
		case "env":
			err = decode(ctx, v, &spec.Env)
		case "cwd":
			err = decode(ctx, v, &spec.Cwd)
		case "description":
			err = decode(ctx, v, &spec.Description)
		case "depfile":
			err = decode(ctx, v, &spec.Depfile)
		}
		if err != nil {
			return spec, fmt.Errorf("%s: %w", k, err)
		}
	}
	return spec, nil
}

// evalAttrs evaluates the expressions that were actually written.
func evalAttrs(ctx context.Context, exprs map[string]hcl.Expression, evalCtx *hcl.EvalContext) (map[string]cty.Value, hcl.Diagnostics) {
	out := make(map[string]cty.Value, len(exprs))
	var diags hcl.Diagnostics
	for name, expr := range exprs {
		if !isExprDefined(ctx, expr, name) {
			continue
		}
		v, d := expr.Value(evalCtx)
		diags = append(diags, d...)
		out[name] = v
	}
	return out, diags
}
