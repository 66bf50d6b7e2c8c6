package precache

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
	"github.com/Zerostate-IO/powerblockade/internal/app/storage/memory"
)

// unreachableAddr returns a UDP address nothing is listening on, so
// LookupHost fails fast and deterministically in tests that don't have a
// real resolver available.
func unreachableAddr(t *testing.T) string {
	t.Helper()
	conn, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := conn.LocalAddr().String()
	conn.Close()
	return addr
}

func TestRun_SkipsWhenDisabled(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	_, err := store.InsertEventsIgnoreDuplicates(ctx, []domain.DnsQueryEvent{
		{EventID: "e1", TS: time.Now(), ClientID: "c1", NodeID: "n1", QName: "example.com", Blocked: false, RCode: 0},
	})
	require.NoError(t, err)

	w := New(store, unreachableAddr(t), nil)
	result, err := w.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, Result{}, result)
}

func TestRun_SelectsTopCandidatesWhenEnabled(t *testing.T) {
	store := memory.New()
	ctx := context.Background()
	require.NoError(t, store.SetSetting(ctx, domain.SettingPrecacheEnabled, "true"))
	require.NoError(t, store.SetSetting(ctx, domain.SettingPrecacheTopN, "5"))

	now := time.Now()
	_, err := store.InsertEventsIgnoreDuplicates(ctx, []domain.DnsQueryEvent{
		{EventID: "e1", TS: now, ClientID: "c1", NodeID: "n1", QName: "popular.com", Blocked: false, RCode: 0},
		{EventID: "e2", TS: now, ClientID: "c1", NodeID: "n1", QName: "popular.com", Blocked: false, RCode: 0},
		{EventID: "e3", TS: now, ClientID: "c1", NodeID: "n1", QName: "blocked.com", Blocked: true, RCode: 0},
	})
	require.NoError(t, err)

	w := New(store, unreachableAddr(t), nil)
	result, err := w.Run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, result.Candidates) // only popular.com qualifies; blocked.com excluded by TopDomains
}

func TestEligible_UnknownDomainIsEligible(t *testing.T) {
	w := New(memory.New(), "127.0.0.1:0", nil)
	require.True(t, w.eligible("never-warmed.com", false, time.Hour))
}

func TestEligible_TTLFormulaHonorsTwentyPercentMargin(t *testing.T) {
	w := New(memory.New(), "127.0.0.1:0", nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w.clock = func() time.Time { return now }

	w.cache["a.com"] = cacheEntry{ttl: 5 * time.Minute, lastWarmed: now.Add(-3*time.Minute - 59*time.Second)}
	require.False(t, w.eligible("a.com", false, 0))

	w.cache["b.com"] = cacheEntry{ttl: 5 * time.Minute, lastWarmed: now.Add(-4 * time.Minute)}
	require.True(t, w.eligible("b.com", false, 0))
}

func TestEligible_IgnoreTTLUsesCustomRefresh(t *testing.T) {
	w := New(memory.New(), "127.0.0.1:0", nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w.clock = func() time.Time { return now }

	w.cache["a.com"] = cacheEntry{ttl: time.Hour, lastWarmed: now.Add(-10 * time.Minute)}
	require.False(t, w.eligible("a.com", true, 30*time.Minute))
	require.True(t, w.eligible("a.com", true, 5*time.Minute))
}

func TestInvalidate_ClearsCache(t *testing.T) {
	w := New(memory.New(), "127.0.0.1:0", nil)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	w.clock = func() time.Time { return now }
	w.cache["a.com"] = cacheEntry{ttl: 5 * time.Minute, lastWarmed: now}
	require.False(t, w.eligible("a.com", false, 0))

	w.Invalidate()
	require.True(t, w.eligible("a.com", false, 0))
}

func TestWarmOne_LeavesCacheUntouchedOnFailure(t *testing.T) {
	w := New(memory.New(), unreachableAddr(t), nil)
	ok := w.warmOne(context.Background(), "example.com")
	require.False(t, ok)
	w.mu.Lock()
	_, known := w.cache["example.com"]
	w.mu.Unlock()
	require.False(t, known)
}
