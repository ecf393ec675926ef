package backend

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessErrorKindStrings(t *testing.T) {
	cases := []struct {
		kind ProcessErrorKind
		want string
	}{
		{FailedToStart, "process failed to start"},
		{ProcessCrashed, "process crashed after starting successfully"},
		{StartTimeout, "timed out waiting for the process"},
		{WriteError, "failed writing to the process"},
		{ReadError, "failed reading from the process"},
		{UnknownProcessError, "unknown process error"},
		{ProcessErrorKind(99), "unknown process error"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, c.kind.String())
	}
}

func TestProcessErrorWrapping(t *testing.T) {
	cause := errors.New("exit status 3")
	err := &ProcessError{Kind: ProcessCrashed, Err: cause}

	assert.Equal(t, "process crashed after starting successfully: exit status 3", err.Error())
	assert.ErrorIs(t, err, cause)

	bare := &ProcessError{Kind: ProcessCrashed}
	assert.Equal(t, "process crashed after starting successfully", bare.Error())
	require.NoError(t, bare.Unwrap())
}

// The error kind and the lifecycle state both describe a crash but live in
// different enums. Keep them usable side by side.
func TestCrashKindDistinctFromState(t *testing.T) {
	err := &ProcessError{Kind: ProcessCrashed}
	assert.Equal(t, ProcessCrashed, err.Kind)
	assert.Equal(t, "crashed", Crashed.String())
}
