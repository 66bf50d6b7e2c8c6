package blocking

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
	"github.com/Zerostate-IO/powerblockade/internal/app/storage/memory"
)

// Testable property 9: after Disable, blocklist-combined.rpz on disk
// contains exactly one SOA, one NS, and zero CNAME rules.
func TestDisable_WritesEmptyCombinedZoneSynchronously(t *testing.T) {
	dir := t.TempDir()
	store := memory.New()
	m := New(store, dir)

	require.NoError(t, m.Disable(context.Background(), "admin"))

	raw, err := os.ReadFile(filepath.Join(dir, "rpz", "blocklist-combined.rpz"))
	require.NoError(t, err)
	content := string(raw)

	require.Equal(t, 1, strings.Count(content, "SOA"))
	require.Equal(t, 1, strings.Count(content, "IN NS"))
	require.Equal(t, 0, strings.Count(content, "CNAME ."))

	st, err := m.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.BlockingDisabled, st.State)
	require.False(t, st.Active)
}

// S5 — Pause expires.
func TestPause_ExpiresAndResumes(t *testing.T) {
	dir := t.TempDir()
	store := memory.New()
	m := New(store, dir)

	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.clock = func() time.Time { return t0 }

	require.NoError(t, m.Pause(context.Background(), 1, "admin"))

	st, err := m.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.BlockingPausedUntil, st.State)
	require.False(t, st.Active)

	// Advance the clock past T0+61s and run the resume check.
	m.clock = func() time.Time { return t0.Add(61 * time.Second) }

	resumed, err := m.ResumeIfExpired(context.Background())
	require.NoError(t, err)
	require.True(t, resumed)

	st, err = m.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.BlockingEnabled, st.State)
	require.True(t, st.Active)
}

func TestResumeIfExpired_NoopWhenNotYetDue(t *testing.T) {
	dir := t.TempDir()
	store := memory.New()
	m := New(store, dir)

	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	m.clock = func() time.Time { return t0 }
	require.NoError(t, m.Pause(context.Background(), 5, "admin"))

	m.clock = func() time.Time { return t0.Add(30 * time.Second) }
	resumed, err := m.ResumeIfExpired(context.Background())
	require.NoError(t, err)
	require.False(t, resumed)

	st, err := m.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.BlockingPausedUntil, st.State)
}

func TestPause_RejectsOutOfRangeMinutes(t *testing.T) {
	m := New(memory.New(), t.TempDir())
	require.Error(t, m.Pause(context.Background(), 0, "admin"))
	require.Error(t, m.Pause(context.Background(), 1441, "admin"))
}

func TestEnable_DoesNotWriteZoneSynchronously(t *testing.T) {
	dir := t.TempDir()
	m := New(memory.New(), dir)

	require.NoError(t, m.Disable(context.Background(), "admin"))
	// Remove the file Disable wrote, then Enable and confirm it stays gone.
	require.NoError(t, os.Remove(filepath.Join(dir, "rpz", "blocklist-combined.rpz")))

	require.NoError(t, m.Enable(context.Background(), "admin"))
	_, err := os.Stat(filepath.Join(dir, "rpz", "blocklist-combined.rpz"))
	require.True(t, os.IsNotExist(err))

	st, err := m.Status(context.Background())
	require.NoError(t, err)
	require.Equal(t, domain.BlockingEnabled, st.State)
	require.True(t, st.Active)
}
