package errdefs

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGraphIntegrityError_Is(t *testing.T) {
	testCases := []struct {
		err  error
		want error
	}{
		{err: DuplicateIDError("target", "a@b"), want: ErrDuplicateID},
		{err: CycleError("a@x", "a@y", []string{"a@y", "a@x"}), want: ErrCycle},
		{err: FrozenGraphError("create target"), want: ErrFrozenGraph},
		{err: Integrityf(Template, "a@b:op", "unbound $@out"), want: ErrTemplate},
		{err: Integrityf(NameCollision, "a@b:op", "x"), want: ErrNameCollision},
		{err: &GraphIntegrityError{Kind: OutputConflict}, want: ErrOutputConflict},
	}
	for _, tc := range testCases {
		t.Run(tc.want.Error(), func(t *testing.T) {
			wrapped := fmt.Errorf("while exporting: %w", tc.err)
			assert.ErrorIs(t, wrapped, tc.want)
		})
	}
}

func TestGraphIntegrityError_IsOnlyOwnKind(t *testing.T) {
	err := DuplicateIDError("operator", "a@b:op")
	assert.NotErrorIs(t, err, ErrCycle)
	assert.NotErrorIs(t, err, ErrTemplate)
}

func TestGraphIntegrityError_Message(t *testing.T) {
	err := CycleError("p@a", "p@b", []string{"p@b", "p@a"})
	assert.Equal(t, "graph integrity error (cycle): p@a -> p@b: cycle detected via [p@b p@a]", err.Error())
}

func TestConfigurationError(t *testing.T) {
	inner := errors.New("no such file")
	err := fmt.Errorf("load: %w", &ConfigurationError{Subject: "build.hcl", Reason: "failed to parse", Err: inner})

	var cfgErr *ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "build.hcl", cfgErr.Subject)
	assert.ErrorIs(t, err, inner)
	assert.Equal(t, "configuration error: x: must be set", Configf("x", "must be %s", "set").Error())
}

func TestExecutionAndStalenessMessages(t *testing.T) {
	assert.Equal(t, "ninja exited with code 2", (&ExecutionError{Subject: "ninja", Code: 2}).Error())
	assert.Contains(t, (&StalenessError{Target: "p@t", Operator: "p@t:op", Index: 1, Got: "a", Want: "b"}).Error(),
		"hash a does not match current b")
	assert.Contains(t, (&StalenessError{Target: "p@t", Operator: "p@t:op"}).Error(), "no longer in the graph")
}
