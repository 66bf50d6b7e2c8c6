package ingest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
	"github.com/Zerostate-IO/powerblockade/internal/app/storage/memory"
)

// Testable property 5: the handler returns the count actually inserted,
// not the count received.
func TestIngest_ReturnsInsertedNotReceivedCount(t *testing.T) {
	store := memory.New()
	p := New(store, nil, nil)

	events := []RawEvent{
		{ClientIP: "10.0.0.1", QName: "Example.COM.", EventID: "e1"},
		{ClientIP: "10.0.0.1", QName: "example.com", EventID: "e1"}, // duplicate event_id
		{ClientIP: "not-an-ip", QName: "bad.com", EventID: "e2"},   // invalid, dropped
		{ClientIP: "10.0.0.2", QName: "", EventID: "e3"},           // invalid qname, dropped
	}

	inserted, err := p.Ingest(context.Background(), "node-1", events)
	require.NoError(t, err)
	require.Equal(t, int64(1), inserted)
}

// Testable property 4 / literal scenario S3: re-ingesting the same batch
// (e.g. after a retried request) is a no-op the second time through.
func TestIngest_IdempotentOnEventID(t *testing.T) {
	store := memory.New()
	p := New(store, nil, nil)

	events := []RawEvent{
		{ClientIP: "10.0.0.1", QName: "example.com", EventID: "dup-1"},
		{ClientIP: "10.0.0.1", QName: "other.com", EventID: "dup-2"},
	}

	first, err := p.Ingest(context.Background(), "node-1", events)
	require.NoError(t, err)
	require.Equal(t, int64(2), first)

	second, err := p.Ingest(context.Background(), "node-1", events)
	require.NoError(t, err)
	require.Equal(t, int64(0), second)

	count, err := store.CountEventsInWindow(context.Background(), time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Equal(t, int64(2), count)
}

func TestIngest_NormalizesQName(t *testing.T) {
	store := memory.New()
	p := New(store, nil, nil)

	_, err := p.Ingest(context.Background(), "node-1", []RawEvent{
		{ClientIP: "10.0.0.5", QName: "Foo.EXAMPLE.com.", EventID: "e1"},
	})
	require.NoError(t, err)

	rows, err := store.EventsForRollup(context.Background(), time.Now().Add(-time.Hour), time.Now().Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, "foo.example.com", rows[0].QName)
}

func TestIngest_UpsertsClientByIP(t *testing.T) {
	store := memory.New()
	p := New(store, nil, nil)

	_, err := p.Ingest(context.Background(), "node-1", []RawEvent{
		{ClientIP: "10.0.0.9", QName: "a.com", EventID: "e1"},
		{ClientIP: "10.0.0.9", QName: "b.com", EventID: "e2"},
	})
	require.NoError(t, err)

	clients, err := store.ListClients(context.Background(), 10, 0)
	require.NoError(t, err)
	require.Len(t, clients, 1)
	require.Equal(t, "10.0.0.9", clients[0].IP)
}

func TestIngest_EmptyBatchIsNoop(t *testing.T) {
	store := memory.New()
	p := New(store, nil, nil)

	inserted, err := p.Ingest(context.Background(), "node-1", nil)
	require.NoError(t, err)
	require.Equal(t, int64(0), inserted)
}

func TestSelectNameserver_PicksLowestPriorityMatch(t *testing.T) {
	rules := []domain.ClientResolverRule{
		{Priority: 2, Subnet: "10.0.0.0/8", Nameserver: "10.0.0.1:53", Enabled: true},
		{Priority: 1, Subnet: "10.0.0.0/16", Nameserver: "10.0.1.1:53", Enabled: true},
		{Priority: 0, Subnet: "10.0.0.0/24", Nameserver: "disabled:53", Enabled: false},
	}
	ns, ok := selectNameserver(rules, "10.0.0.5")
	require.True(t, ok)
	require.Equal(t, "10.0.1.1:53", ns)
}

func TestSelectNameserver_NoMatch(t *testing.T) {
	rules := []domain.ClientResolverRule{
		{Priority: 0, Subnet: "192.168.0.0/16", Nameserver: "ns:53", Enabled: true},
	}
	_, ok := selectNameserver(rules, "10.0.0.5")
	require.False(t, ok)
}
