package scheduler

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Zerostate-IO/powerblockade/internal/app/blocking"
	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
	"github.com/Zerostate-IO/powerblockade/internal/app/policy"
	"github.com/Zerostate-IO/powerblockade/internal/app/retention"
	"github.com/Zerostate-IO/powerblockade/internal/app/rollup"
	"github.com/Zerostate-IO/powerblockade/internal/app/schedule"
	"github.com/Zerostate-IO/powerblockade/internal/app/storage/memory"
)

func TestStartStop_NoDepsDoesNotPanic(t *testing.T) {
	s := New(Deps{}, nil, nil)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
}

func TestStart_IsIdempotent(t *testing.T) {
	s := New(Deps{}, nil, nil)
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Start(context.Background()))
	require.NoError(t, s.Stop(context.Background()))
}

func TestRunRollup_AggregatesPreviousHour(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	now := time.Date(2026, 1, 1, 10, 5, 0, 0, time.UTC)

	_, err := store.InsertEventsIgnoreDuplicates(ctx, []domain.DnsQueryEvent{
		{EventID: "e1", TS: now.Add(-30 * time.Minute), ClientID: "c1", NodeID: "n1", QName: "a.com"},
	})
	require.NoError(t, err)

	s := New(Deps{Rollup: rollup.New(store)}, time.UTC, nil)
	s.clock = func() time.Time { return now }
	s.runRollup(ctx)

	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	rollups, err := store.HourlyRollupsForDay(ctx, dayStart, dayStart.Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, rollups, 1)
}

func TestRunRollup_AlsoAggregatesPreviousDayDuringEarlyMorningWindow(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	now := time.Date(2026, 1, 2, 1, 5, 0, 0, time.UTC) // 01:05, inside the 00:00-02:00 window
	dayStart := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	_, err := store.InsertEventsIgnoreDuplicates(ctx, []domain.DnsQueryEvent{
		{EventID: "e1", TS: now.Add(-30 * time.Minute), ClientID: "c1", NodeID: "n1", QName: "a.com"},
	})
	require.NoError(t, err)
	// The previous day's aggregate is built from that day's hourly rows.
	require.NoError(t, store.UpsertHourlyRollup(ctx, domain.QueryRollup{
		BucketStart: dayStart.Add(10 * time.Hour), ClientID: "c1", NodeID: "n1", TotalQueries: 1,
	}))

	s := New(Deps{Rollup: rollup.New(store)}, time.UTC, nil)
	s.clock = func() time.Time { return now }
	s.runRollup(ctx)

	var daily int
	for _, r := range store.RollupsSnapshot() {
		if r.Granularity == domain.GranularityDaily && r.BucketStart.Equal(dayStart) {
			daily++
		}
	}
	require.Equal(t, 1, daily)
}

func TestRunBlockingResume_RecompilesOnResume(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	dir := t.TempDir()

	machine := blocking.New(store, dir)
	require.NoError(t, machine.Pause(ctx, 1, "tester"))

	st, err := store.GetBlockingState(ctx)
	require.NoError(t, err)
	past := time.Now().Add(-time.Minute)
	st.PausedUntil = &past
	require.NoError(t, store.SetBlockingState(ctx, st))

	s := New(Deps{Blocking: machine, Compiler: policy.NewCompiler(store, dir, nil)}, time.UTC, nil)
	s.runBlockingResume(ctx)

	status, err := machine.Status(ctx)
	require.NoError(t, err)
	require.Equal(t, domain.BlockingEnabled, status.State)

	version, ok, err := store.GetSetting(ctx, domain.SettingConfigVersion)
	require.NoError(t, err)
	require.True(t, ok, "resume should have recompiled and stored a config version")
	require.Len(t, version, 12)
}

func TestRunRetention_DeletesOldRows(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.SetSetting(ctx, domain.SettingRetentionEvents, "1"))

	_, err := store.InsertEventsIgnoreDuplicates(ctx, []domain.DnsQueryEvent{
		{EventID: "old", TS: time.Now().Add(-48 * time.Hour), ClientID: "c1", NodeID: "n1", QName: "old.com"},
	})
	require.NoError(t, err)

	s := New(Deps{Retention: retention.New(store)}, time.UTC, nil)
	s.runRetention(ctx)

	count, err := store.CountEventsInWindow(ctx, time.Now().Add(-72*time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Zero(t, count)
}

func TestRunScheduleCheck_TolerantOfNilCompiler(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	loc := time.UTC
	s := New(Deps{Schedule: schedule.New(store, loc, nil)}, loc, nil)
	s.runScheduleCheck(ctx) // must not panic even with no blocklists/compiler
}
