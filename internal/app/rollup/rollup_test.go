package rollup

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
	"github.com/Zerostate-IO/powerblockade/internal/app/storage/memory"
)

// Testable property 6: hourly rollup's total_queries per (client, node)
// equals the raw event count in that window with the same grouping.
func TestRunHourly_TotalMatchesRawCount(t *testing.T) {
	store := memory.New()
	hourStart := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)

	events := []domain.DnsQueryEvent{
		{EventID: "e1", TS: hourStart.Add(5 * time.Minute), ClientID: "c1", NodeID: "n1", QName: "a.com", RCode: 0, LatencyMs: 1, Blocked: false},
		{EventID: "e2", TS: hourStart.Add(10 * time.Minute), ClientID: "c1", NodeID: "n1", QName: "b.com", RCode: 3, LatencyMs: 40, Blocked: false},
		{EventID: "e3", TS: hourStart.Add(15 * time.Minute), ClientID: "c1", NodeID: "n1", QName: "a.com", RCode: 0, LatencyMs: 2, Blocked: true},
		{EventID: "e4", TS: hourStart.Add(20 * time.Minute), ClientID: "c2", NodeID: "n1", QName: "c.com", RCode: 2, LatencyMs: 100, Blocked: false},
		{EventID: "e5", TS: hourStart.Add(-5 * time.Minute), ClientID: "c1", NodeID: "n1", QName: "out.com", RCode: 0, LatencyMs: 1}, // outside window
	}
	_, err := store.InsertEventsIgnoreDuplicates(context.Background(), events)
	require.NoError(t, err)

	e := New(store)
	require.NoError(t, e.RunHourly(context.Background(), hourStart))

	rollups, err := store.HourlyRollupsForDay(context.Background(), hourStart.Truncate(24*time.Hour), hourStart.Truncate(24*time.Hour).Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, rollups, 2)

	byClient := map[string]domain.QueryRollup{}
	for _, r := range rollups {
		byClient[r.ClientID] = r
	}

	require.Equal(t, int64(3), byClient["c1"].TotalQueries)
	require.Equal(t, int64(1), byClient["c1"].Blocked)
	require.Equal(t, int64(1), byClient["c1"].NXDomain)
	require.Equal(t, int64(2), byClient["c1"].UniqueDomains)

	require.Equal(t, int64(1), byClient["c2"].TotalQueries)
	require.Equal(t, int64(1), byClient["c2"].ServFail)
}

func TestRunHourly_IdempotentUnderRerun(t *testing.T) {
	store := memory.New()
	hourStart := time.Date(2026, 3, 1, 14, 0, 0, 0, time.UTC)
	_, err := store.InsertEventsIgnoreDuplicates(context.Background(), []domain.DnsQueryEvent{
		{EventID: "e1", TS: hourStart.Add(time.Minute), ClientID: "c1", NodeID: "n1", QName: "a.com"},
	})
	require.NoError(t, err)

	e := New(store)
	require.NoError(t, e.RunHourly(context.Background(), hourStart))
	require.NoError(t, e.RunHourly(context.Background(), hourStart))

	rollups, err := store.HourlyRollupsForDay(context.Background(), hourStart.Truncate(24*time.Hour), hourStart.Truncate(24*time.Hour).Add(24*time.Hour))
	require.NoError(t, err)
	require.Len(t, rollups, 1)
	require.Equal(t, int64(1), rollups[0].TotalQueries)
}

func TestRunDaily_SumsHourlyRollups(t *testing.T) {
	store := memory.New()
	dayStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)

	require.NoError(t, store.UpsertHourlyRollup(context.Background(), domain.QueryRollup{
		BucketStart: dayStart.Add(1 * time.Hour), ClientID: "c1", NodeID: "n1",
		TotalQueries: 10, Blocked: 2, AvgLatencyMs: 4,
	}))
	require.NoError(t, store.UpsertHourlyRollup(context.Background(), domain.QueryRollup{
		BucketStart: dayStart.Add(2 * time.Hour), ClientID: "c1", NodeID: "n1",
		TotalQueries: 5, Blocked: 1, AvgLatencyMs: 8,
	}))

	e := New(store)
	require.NoError(t, e.RunDaily(context.Background(), dayStart))

	var daily *domain.QueryRollup
	for _, r := range store.RollupsSnapshot() {
		if r.Granularity == domain.GranularityDaily {
			r := r
			daily = &r
		}
	}
	require.NotNil(t, daily)
	require.Equal(t, int64(15), daily.TotalQueries)
	require.Equal(t, int64(3), daily.Blocked)
	require.InDelta(t, 6.0, daily.AvgLatencyMs, 0.0001)
}

func TestRunDaily_IdempotentUnderRerun(t *testing.T) {
	store := memory.New()
	dayStart := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, store.UpsertHourlyRollup(context.Background(), domain.QueryRollup{
		BucketStart: dayStart.Add(time.Hour), ClientID: "c1", NodeID: "n1", TotalQueries: 3,
	}))

	e := New(store)
	require.NoError(t, e.RunDaily(context.Background(), dayStart))
	require.NoError(t, e.RunDaily(context.Background(), dayStart))

	count := 0
	for _, r := range store.RollupsSnapshot() {
		if r.Granularity == domain.GranularityDaily {
			count++
		}
	}
	require.Equal(t, 1, count)
}
