package config

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vk/buildgrid/internal/errdefs"
)

func TestParseDefines(t *testing.T) {
	opts, err := ParseDefines([]string{"shared=false", "lto", "cc=clang", "shared=true", "flags=-O2 -g"})
	require.NoError(t, err)
	assert.Equal(t, Options{"shared": "true", "lto": "true", "cc": "clang", "flags": "-O2 -g"}, opts)
	assert.Equal(t, []string{"cc=clang", "flags=-O2 -g", "lto=true", "shared=true"}, opts.Defines())

	for _, bad := range []string{"=x", "1abc=2", "a-b=c"} {
		t.Run(bad, func(t *testing.T) {
			_, err := ParseDefines([]string{bad})
			var cfgErr *errdefs.ConfigurationError
			assert.True(t, errors.As(err, &cfgErr))
		})
	}
}

func TestOptionsBool(t *testing.T) {
	opts := Options{"a": "yes", "b": "0", "c": "maybe", "d": ""}

	testCases := []struct {
		name    string
		def     bool
		want    bool
		wantErr bool
	}{
		{name: "a", want: true},
		{name: "b", def: true, want: false},
		{name: "c", wantErr: true},
		{name: "d", def: true, want: true},
		{name: "missing", def: true, want: true},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := opts.Bool(tc.name, tc.def)
			if tc.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}
