package policy

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// Bundle version determinism (§8.3): same inputs, same version; a changed
// forward-zone rule or a changed file set changes it.
func TestBundleVersion_Deterministic(t *testing.T) {
	files := []RPZFile{
		{Filename: "blocklist-combined.rpz", Content: "$TTL 300\nline1\nline2\na.com. CNAME .\n"},
		{Filename: "whitelist.rpz", Content: "$TTL 300\nline1\nline2\nb.com. CNAME rpz-passthru.\n"},
	}
	fz := map[string][]string{"internal.example.com": {"10.0.0.1"}}

	v1 := BundleVersion(files, fz)
	v2 := BundleVersion(files, fz)
	require.Equal(t, v1, v2)
	require.Len(t, v1, 12)

	fzChanged := map[string][]string{"internal.example.com": {"10.0.0.2"}}
	v3 := BundleVersion(files, fzChanged)
	require.NotEqual(t, v1, v3)

	filesChanged := []RPZFile{
		{Filename: "blocklist-combined.rpz", Content: "$TTL 300\nline1\nline2\na.com. CNAME .\nc.com. CNAME .\n"},
		files[1],
	}
	v4 := BundleVersion(filesChanged, fz)
	require.NotEqual(t, v1, v4)
}

func TestBundleVersion_IgnoresVolatileSerial(t *testing.T) {
	a := []RPZFile{{Filename: "blocklist-combined.rpz", Content: "$TTL 300\n@ IN SOA ... 111 ...\n@ IN NS localhost.\na.com. CNAME .\n"}}
	b := []RPZFile{{Filename: "blocklist-combined.rpz", Content: "$TTL 300\n@ IN SOA ... 222 ...\n@ IN NS localhost.\na.com. CNAME .\n"}}

	require.Equal(t, BundleVersion(a, nil), BundleVersion(b, nil))
}
