package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestFixedAdvance(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	c := NewFixed(base)
	require.Equal(t, base, c.Now())

	c.Advance(5 * time.Second)
	require.Equal(t, base.Add(5*time.Second), c.Now())

	later := base.Add(time.Hour)
	c.Set(later)
	require.Equal(t, later, c.Now())
}

func TestSystemNowIsUTC(t *testing.T) {
	var s System
	require.Equal(t, time.UTC, s.Now().Location())
}
