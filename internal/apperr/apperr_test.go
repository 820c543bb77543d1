package apperr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsAndAs(t *testing.T) {
	base := errors.New("boom")
	err := DriverError("create failed", base)
	wrapped := fmt.Errorf("context: %w", err)

	require.True(t, Is(wrapped, KindDriverError))
	require.False(t, Is(wrapped, KindTimeout))

	got, ok := As(wrapped)
	require.True(t, ok)
	require.Equal(t, KindDriverError, got.Kind)
	require.ErrorIs(t, got, base)
}

func TestSessionNotReadyCarriesRetryHint(t *testing.T) {
	err := SessionNotReady("starting", 1000, map[string]any{"sandbox_id": "sandbox-1"})
	require.Equal(t, KindSessionNotReady, err.Kind)
	require.Equal(t, 1000, err.RetryAfterMs)
	require.Equal(t, "sandbox-1", err.Details["sandbox_id"])
}

func TestCapabilityNotSupportedDetails(t *testing.T) {
	err := CapabilityNotSupported("browser", []string{"python", "shell"})
	require.Equal(t, KindCapabilityNotSupported, err.Kind)
	require.Equal(t, "browser", err.Details["requested"])
	require.Equal(t, []string{"python", "shell"}, err.Details["available"])
}
