package pkgbuilder

import (
	"archive/zip"
	"bytes"
	"context"
	"io"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
	"github.com/Zerostate-IO/powerblockade/internal/app/storage/memory"
)

func readZipFile(t *testing.T, zipBytes []byte, name string) string {
	t.Helper()
	r, err := zip.NewReader(bytes.NewReader(zipBytes), int64(len(zipBytes)))
	require.NoError(t, err)
	for _, f := range r.File {
		if f.Name != name {
			continue
		}
		rc, err := f.Open()
		require.NoError(t, err)
		defer rc.Close()
		data, err := io.ReadAll(rc)
		require.NoError(t, err)
		return string(data)
	}
	t.Fatalf("zip entry %q not found", name)
	return ""
}

func TestBuildPackage_CreatesNewNodeWithGeneratedKey(t *testing.T) {
	store := memory.New()
	b := New(store, "https://primary.example.com")

	bundle, err := b.BuildPackage(context.Background(), "sec-1")
	require.NoError(t, err)
	require.Equal(t, "sec-1", bundle.Node.Name)
	require.Len(t, bundle.Node.APIKey, 64)
	require.Equal(t, domain.NodeStatusPending, bundle.Node.Status)

	env := readZipFile(t, bundle.Zip, ".env")
	require.Contains(t, env, "POWERBLOCKADE_PRIMARY_URL=https://primary.example.com")
	require.Contains(t, env, bundle.Node.APIKey)

	manifest := readZipFile(t, bundle.Zip, "manifest.yaml")
	require.Contains(t, manifest, "sec-1")

	resolverConf := readZipFile(t, bundle.Zip, "resolver.conf")
	require.Contains(t, resolverConf, bundle.Node.APIKey)
}

func TestBuildPackage_IsIdempotentOnName(t *testing.T) {
	store := memory.New()
	b := New(store, "https://primary.example.com")

	first, err := b.BuildPackage(context.Background(), "sec-2")
	require.NoError(t, err)

	second, err := b.BuildPackage(context.Background(), "sec-2")
	require.NoError(t, err)

	require.Equal(t, first.Node.ID, second.Node.ID)
	require.Equal(t, first.Node.APIKey, second.Node.APIKey)

	nodes, err := store.ListNodes(context.Background())
	require.NoError(t, err)
	var count int
	for _, n := range nodes {
		if n.Name == "sec-2" {
			count++
		}
	}
	require.Equal(t, 1, count)
}

func TestBuildPackage_RejectsPrimaryName(t *testing.T) {
	store := memory.New()
	b := New(store, "https://primary.example.com")

	_, err := b.BuildPackage(context.Background(), domain.PrimaryNodeName)
	require.Error(t, err)
}

func TestBuildPackage_IncludesForwardZoneServers(t *testing.T) {
	store := memory.New()
	b := New(store, "https://primary.example.com")

	bundle, err := b.BuildPackage(context.Background(), "sec-3")
	require.NoError(t, err)

	nodeID := bundle.Node.ID
	_, err = store.CreateForwardZone(context.Background(), domain.ForwardZone{
		NodeID:  &nodeID,
		Domain:  "internal.example.com",
		Servers: []string{"10.0.0.1", "10.0.0.2"},
		Enabled: true,
	})
	require.NoError(t, err)

	bundle2, err := b.BuildPackage(context.Background(), "sec-3")
	require.NoError(t, err)

	zones := readZipFile(t, bundle2.Zip, "forward-zones.conf")
	require.Contains(t, zones, "internal.example.com=10.0.0.1;10.0.0.2")
}
