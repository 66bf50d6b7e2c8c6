package schedule

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
	"github.com/Zerostate-IO/powerblockade/internal/app/storage/memory"
)

func TestEngine_Run_FlipsEnabledOnScheduleMismatch(t *testing.T) {
	store := memory.New()
	b, err := store.CreateBlocklist(context.Background(), domain.Blocklist{
		Name:            "work-hours",
		Format:          domain.BlocklistFormatDomains,
		ListType:        domain.BlocklistTypeBlock,
		Enabled:         false,
		ScheduleEnabled: true,
		ScheduleStart:   "09:00",
		ScheduleEnd:     "17:00",
		ScheduleDays:    []string{"mon", "tue", "wed", "thu", "fri"},
	})
	require.NoError(t, err)

	loc, err := time.LoadLocation("UTC")
	require.NoError(t, err)
	e := New(store, loc, nil)

	tuesdayNoon := time.Date(2026, 2, 3, 12, 0, 0, 0, loc)
	e.clock = func() time.Time { return tuesdayNoon }

	changed, err := e.Run(context.Background())
	require.NoError(t, err)
	require.True(t, changed)

	got, err := store.GetBlocklist(context.Background(), b.ID)
	require.NoError(t, err)
	require.True(t, got.Enabled)

	changes, err := store.ListConfigChanges(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, changes, 1)
	require.Equal(t, domain.ActionToggle, changes[0].Action)

	// Second run at the same time is a no-op.
	changed, err = e.Run(context.Background())
	require.NoError(t, err)
	require.False(t, changed)
}

func TestEngine_Run_IgnoresUnscheduledBlocklists(t *testing.T) {
	store := memory.New()
	_, err := store.CreateBlocklist(context.Background(), domain.Blocklist{
		Name:            "always-on",
		Format:          domain.BlocklistFormatHosts,
		ListType:        domain.BlocklistTypeBlock,
		Enabled:         true,
		ScheduleEnabled: false,
	})
	require.NoError(t, err)

	e := New(store, time.UTC, nil)
	changed, err := e.Run(context.Background())
	require.NoError(t, err)
	require.False(t, changed)
}
