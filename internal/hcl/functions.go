package hcl

import (
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/kballard/go-shellquote"
	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/graph"
	"github.com/vk/buildgrid/internal/props"
	"github.com/zclconf/go-cty/cty"
	"github.com/zclconf/go-cty/cty/function"
	"github.com/zclconf/go-cty/cty/function/stdlib"
)

// baseFunctions are available everywhere in a script.
func baseFunctions() map[string]function.Function {
	return map[string]function.Function{
		"upper":       stdlib.UpperFunc,
		"lower":       stdlib.LowerFunc,
		"join":        stdlib.JoinFunc,
		"split":       stdlib.SplitFunc,
		"concat":      stdlib.ConcatFunc,
		"format":      stdlib.FormatFunc,
		"replace":     stdlib.ReplaceFunc,
		"trimspace":   stdlib.TrimSpaceFunc,
		"length":      stdlib.LengthFunc,
		"distinct":    stdlib.DistinctFunc,
		"flatten":     stdlib.FlattenFunc,
		"contains":    stdlib.ContainsFunc,
		"coalesce":    stdlib.CoalesceFunc,
		"sort":        stdlib.SortFunc,
		"keys":        stdlib.KeysFunc,
		"merge":       stdlib.MergeFunc,
		"basename":    stringFunc(filepath.Base),
		"dirname":     stringFunc(filepath.Dir),
		"replace_ext": replaceExtFunc,
		"shell_quote": shellQuoteFunc,
	}
}

func stringFunc(fn func(string) string) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{{Name: "s", Type: cty.String}},
		Type:   function.StaticReturnType(cty.String),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			return cty.StringVal(fn(args[0].AsString())), nil
		},
	})
}

var replaceExtFunc = function.New(&function.Spec{
	Params: []function.Parameter{
		{Name: "path", Type: cty.String},
		{Name: "ext", Type: cty.String},
	},
	Type: function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		p := args[0].AsString()
		return cty.StringVal(strings.TrimSuffix(p, filepath.Ext(p)) + args[1].AsString()), nil
	},
})

var shellQuoteFunc = function.New(&function.Spec{
	Params: []function.Parameter{{Name: "argv", Type: cty.List(cty.String)}},
	Type:   function.StaticReturnType(cty.String),
	Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
		argv, err := props.Strings(args[0])
		if err != nil {
			return cty.NilVal, err
		}
		return cty.StringVal(shellquote.Join(argv...)), nil
	},
})

// globFunc matches doublestar patterns below dir. Results are relative to
// dir, sorted and free of duplicates.
func globFunc(dir string) function.Function {
	return function.New(&function.Spec{
		VarParam: &function.Parameter{Name: "patterns", Type: cty.String},
		Type:     function.StaticReturnType(cty.List(cty.String)),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			fsys := os.DirFS(dir)
			seen := make(map[string]bool)
			var matches []string
			for _, a := range args {
				pattern := filepath.ToSlash(a.AsString())
				found, err := doublestar.Glob(fsys, pattern, doublestar.WithFilesOnly())
				if err != nil {
					return cty.NilVal, function.NewArgErrorf(0, "invalid pattern %q: %s", pattern, err)
				}
				for _, m := range found {
					m = filepath.FromSlash(m)
					if !seen[m] {
						seen[m] = true
						matches = append(matches, m)
					}
				}
			}
			sort.Strings(matches)
			return props.StringsVal(matches), nil
		},
	})
}

// outputPathFunc maps a path of the project into the project's area of the
// build directory.
func outputPathFunc(sess *graph.Session, p *graph.Project) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{{Name: "path", Type: cty.String}},
		Type:   function.StaticReturnType(cty.String),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			return cty.StringVal(outputPath(sess.BuildDir, p, args[0].AsString())), nil
		},
	})
}

func outputPath(buildDir string, p *graph.Project, path string) string {
	if filepath.IsAbs(path) {
		rel, err := filepath.Rel(p.Dir, path)
		if err != nil || strings.HasPrefix(rel, "..") {
			rel = filepath.Base(path)
		}
		path = rel
	}
	return filepath.Join(buildDir, p.ID, filepath.Clean(path))
}

// optionBoolFunc reads a build option as a boolean, falling back to the
// given default when the option is unset.
func optionBoolFunc(opts config.Options) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{
			{Name: "name", Type: cty.String},
			{Name: "default", Type: cty.Bool},
		},
		Type: function.StaticReturnType(cty.Bool),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			b, err := opts.Bool(args[0].AsString(), args[1].True())
			if err != nil {
				return cty.NilVal, function.NewArgError(0, err)
			}
			return cty.BoolVal(b), nil
		},
	})
}

// propFunc resolves a property of the target owner.
func propFunc(store *props.Store, owner string) function.Function {
	return function.New(&function.Spec{
		Params: []function.Parameter{{Name: "name", Type: cty.String}},
		Type:   function.StaticReturnType(cty.DynamicPseudoType),
		Impl: func(args []cty.Value, _ cty.Type) (cty.Value, error) {
			v, err := store.Resolve(owner, args[0].AsString())
			if err != nil {
				return cty.NilVal, function.NewArgError(0, err)
			}
			return v, nil
		},
	})
}
