package hcl

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/hashicorp/hcl/v2"
	"github.com/hashicorp/hcl/v2/hclsyntax"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/buildgrid/internal/config"
	"github.com/vk/buildgrid/internal/graph"
	"github.com/vk/buildgrid/internal/props"
	"github.com/zclconf/go-cty/cty"
)

func parseExpr(t *testing.T, src string) hcl.Expression {
	t.Helper()
	expr, diags := hclsyntax.ParseExpression([]byte(src), "test.hcl", hcl.InitialPos)
	require.False(t, diags.HasErrors(), diags.Error())
	return expr
}

func TestTypeExprToKind(t *testing.T) {
	testCases := []struct {
		src     string
		want    props.Kind
		wantErr bool
	}{
		{src: "string", want: props.String},
		{src: "bool", want: props.Scalar},
		{src: "number", want: props.Scalar},
		{src: "paths", want: props.PathList},
		{src: "list(string)", want: props.List},
		{src: "list(path)", want: props.PathList},
		{src: `"path_list"`, want: props.PathList},
		{src: "map(string)", wantErr: true},
		{src: "list(bool)", wantErr: true},
		{src: "object", wantErr: true},
		{src: `"x${y}"`, wantErr: true},
	}
	for _, tc := range testCases {
		t.Run(tc.src, func(t *testing.T) {
			got, err := typeExprToKind(context.Background(), parseExpr(t, tc.src))
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestGlobFunc(t *testing.T) {
	dir := t.TempDir()
	for _, f := range []string{"src/a.c", "src/b.c", "src/sub/c.c", "src/x.h"} {
		p := filepath.Join(dir, f)
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, nil, 0o644))
	}

	got, err := globFunc(dir).Call([]cty.Value{cty.StringVal("src/**/*.c"), cty.StringVal("src/a.*")})
	require.NoError(t, err)
	files, err := props.Strings(got)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.FromSlash("src/a.c"),
		filepath.FromSlash("src/b.c"),
		filepath.FromSlash("src/sub/c.c"),
	}, files)

	got, err = globFunc(dir).Call([]cty.Value{cty.StringVal("nothing/*")})
	require.NoError(t, err)
	assert.Equal(t, 0, got.LengthInt())
}

func TestOutputPath(t *testing.T) {
	p := &graph.Project{ID: "demo", Dir: "/src/demo"}
	assert.Equal(t, "/b/demo/obj/a.o", outputPath("/b", p, "obj/a.o"))
	assert.Equal(t, "/b/demo/obj/a.o", outputPath("/b", p, "/src/demo/obj/a.o"))
	assert.Equal(t, "/b/demo/a.o", outputPath("/b", p, "/elsewhere/a.o"))
}

func TestBaseFunctions(t *testing.T) {
	funcs := baseFunctions()

	v, err := funcs["replace_ext"].Call([]cty.Value{cty.StringVal("src/a.c"), cty.StringVal(".o")})
	require.NoError(t, err)
	assert.Equal(t, "src/a.o", v.AsString())

	v, err = funcs["basename"].Call([]cty.Value{cty.StringVal("src/a.c")})
	require.NoError(t, err)
	assert.Equal(t, "a.c", v.AsString())

	v, err = funcs["shell_quote"].Call([]cty.Value{props.StringsVal([]string{"echo", "hello world"})})
	require.NoError(t, err)
	assert.Equal(t, "echo 'hello world'", v.AsString())
}

func TestCommandList(t *testing.T) {
	val := cty.TupleVal([]cty.Value{
		cty.StringVal(`echo "a b" c`),
		cty.TupleVal([]cty.Value{
			cty.StringVal("cc"),
			cty.ListVal([]cty.Value{cty.StringVal("-O2"), cty.StringVal("-g")}),
			cty.NumberIntVal(3),
		}),
	})
	got, err := commandList(val)
	require.NoError(t, err)
	assert.Equal(t, [][]string{{"echo", "a b", "c"}, {"cc", "-O2", "-g", "3"}}, got)

	_, err = commandList(cty.StringVal("echo"))
	assert.Error(t, err)
	_, err = commandList(cty.TupleVal([]cty.Value{cty.StringVal("   ")}))
	assert.Error(t, err)
}

func TestOptionBoolFunc(t *testing.T) {
	fn := optionBoolFunc(config.Options{"lto": "on", "shared": "maybe"})

	v, err := fn.Call([]cty.Value{cty.StringVal("lto"), cty.False})
	require.NoError(t, err)
	assert.True(t, v.True())

	v, err = fn.Call([]cty.Value{cty.StringVal("missing"), cty.True})
	require.NoError(t, err)
	assert.True(t, v.True())

	_, err = fn.Call([]cty.Value{cty.StringVal("shared"), cty.False})
	assert.Error(t, err)
}
