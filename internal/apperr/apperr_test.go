package apperr

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewCarriesKindAndMessage(t *testing.T) {
	err := New(NotFound, "node 5 not found")
	require.Equal(t, NotFound, Of(err))
	require.Equal(t, "node 5 not found", err.Error())
}

func TestWrapFallsBackToKindColonUnderlyingError(t *testing.T) {
	underlying := errors.New("disk full")
	err := Wrap(Transport, underlying, "")
	require.Equal(t, "transport: disk full", err.Error())
	require.ErrorIs(t, err, underlying)
}

func TestWithReasonIsRecoverable(t *testing.T) {
	err := WithReason(NameConflict, "IsDirectory", "a directory with this name already exists")
	require.Equal(t, "IsDirectory", ReasonOf(err))
	require.True(t, Is(err, NameConflict))
}

func TestOfDefaultsUntaggedErrorsToTransport(t *testing.T) {
	require.Equal(t, Transport, Of(errors.New("plain error")))
}

func TestOfNilErrorIsEmptyKind(t *testing.T) {
	require.Equal(t, Kind(""), Of(nil))
}

func TestIsMatchesOnlyTaggedKind(t *testing.T) {
	err := New(PathNotFound, "missing")
	require.True(t, Is(err, PathNotFound))
	require.False(t, Is(err, NotFound))
}

func TestErrorsAsRecoversTheTaggedError(t *testing.T) {
	base := New(BadRequest, "bad input")
	var target *Error
	require.True(t, errors.As(base, &target))
	require.Equal(t, BadRequest, target.Kind)
}
