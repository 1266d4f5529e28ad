// This file contains the logic for parsing HCL type expressions (e.g.,
// `string`, `list(path)`) into property kinds.

package hcl

import (
	"context"
	"fmt"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/vk/buildgrid/internal/ctxlog"
	"github.com/vk/buildgrid/internal/props"
)

// typeExprToKind converts an HCL type expression into a property kind.
func typeExprToKind(ctx context.Context, expr hcl.Expression) (props.Kind, error) {
	logger := ctxlog.FromContext(ctx)

	switch v := expr.(type) {
	case *hclsyntax.FunctionCallExpr:
		logger.Debug("Parsing type expression as a function call.", "call", v.Name)
		if v.Name != "list" {
			return 0, fmt.Errorf("unknown type constructor function %q", v.Name)
		}
		if len(v.Args) != 1 {
			return 0, fmt.Errorf("list requires exactly one argument, got %d", len(v.Args))
		}
		switch hcl.ExprAsKeyword(v.Args[0]) {
		case "string":
			return props.List, nil
		case "path":
			return props.PathList, nil
		default:
			return 0, fmt.Errorf("lists hold string or path elements")
		}

	case *hclsyntax.ScopeTraversalExpr:
		if len(v.Traversal) != 1 {
			return 0, fmt.Errorf("invalid type keyword: traversal path is not a single identifier")
		}
		rootName := v.Traversal.RootName()
		logger.Debug("Parsing type expression as a primitive.", "keyword", rootName)
		switch rootName {
		case "string":
			return props.String, nil
		case "bool", "number":
			return props.Scalar, nil
		case "paths":
			return props.PathList, nil
		default:
			return 0, fmt.Errorf("unknown primitive type %q", rootName)
		}

	case *hclsyntax.TemplateExpr:
		// Quoted names such as "path_list" are accepted as well.
		if !v.IsStringLiteral() {
			return 0, fmt.Errorf("type must be a keyword or a literal string")
		}
		s, diags := v.Value(nil)
		if diags.HasErrors() {
			return 0, diags
		}
		return props.ParseKind(s.AsString())

	default:
		return 0, fmt.Errorf("unsupported expression for type definition: %T", v)
	}
}

func parseMerge(s string) (props.MergeMode, error) {
	switch s {
	case "", "replace":
		return props.Replace, nil
	case "append":
		return props.Append, nil
	}
	return 0, fmt.Errorf("unknown merge mode %q, expected replace or append", s)
}
