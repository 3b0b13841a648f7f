package automation

import (
	"errors"
	"testing"

	"github.com/go-rod/rod/lib/input"
	"github.com/stretchr/testify/require"
)

func TestIsTransient(t *testing.T) {
	for _, msg := range []string{
		"Cannot find context with specified id",
		"{-32000 Execution context was destroyed. }",
		"Inspected target navigated or closed",
	} {
		require.True(t, isTransient(errors.New(msg)), msg)
	}
	for _, msg := range []string{
		"SyntaxError: Unexpected token",
		"cannot find element",
		"net::ERR_CONNECTION_REFUSED",
	} {
		require.False(t, isTransient(errors.New(msg)), msg)
	}
}

func TestKeyFor(t *testing.T) {
	cases := map[string]input.Key{
		"Control":   input.ControlLeft,
		"Ctrl":      input.ControlLeft,
		"Alt":       input.AltLeft,
		"Shift":     input.ShiftLeft,
		"Enter":     input.Enter,
		"ArrowDown": input.ArrowDown,
		"ArrowUp":   input.ArrowUp,
		"Home":      input.Home,
		"End":       input.End,
		"I":         input.Key('i'),
		"l":         input.Key('l'),
	}
	for name, want := range cases {
		got, err := keyFor(name)
		require.NoError(t, err, name)
		require.Equal(t, want, got, name)
	}

	_, err := keyFor("NoSuchKey")
	require.Error(t, err)
}

func TestExactPattern(t *testing.T) {
	require.Equal(t, "/^Trust$/", exactPattern("Trust"))
	require.Equal(t, "/^Try Again$/", exactPattern(" Try Again "))
	require.Equal(t, `/^Allow \(once\)$/`, exactPattern("Allow (once)"))
}
