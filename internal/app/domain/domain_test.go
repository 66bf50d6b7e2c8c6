package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestBlockingActive(t *testing.T) {
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	future := now.Add(time.Minute)
	past := now.Add(-time.Minute)

	require.True(t, Blocking{State: BlockingEnabled}.Active(now))
	require.False(t, Blocking{State: BlockingDisabled}.Active(now))

	require.False(t, Blocking{State: BlockingPausedUntil, PausedUntil: &future}.Active(now))
	require.True(t, Blocking{State: BlockingPausedUntil, PausedUntil: &past}.Active(now))
	require.True(t, Blocking{State: BlockingPausedUntil, PausedUntil: &now}.Active(now))
}
