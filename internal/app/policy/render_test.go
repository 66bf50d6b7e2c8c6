package policy

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// S2 — Whitelist subtraction.
func TestRender_WhitelistSubtraction(t *testing.T) {
	block := map[string]struct{}{"a.com": {}, "b.com": {}, "c.com": {}}
	allow := map[string]struct{}{"b.com": {}}

	combined := make(map[string]struct{}, len(block))
	for d := range block {
		if _, isAllowed := allow[d]; isAllowed {
			continue
		}
		combined[d] = struct{}{}
	}

	now := time.Unix(1_700_000_000, 0).UTC()
	combinedZone := RenderBlocklistCombined(combined, now)
	whitelistZone := RenderWhitelist(allow, now)

	require.Contains(t, combinedZone, "a.com. CNAME .")
	require.Contains(t, combinedZone, "c.com. CNAME .")
	require.NotContains(t, combinedZone, "b.com. CNAME .")
	require.Contains(t, whitelistZone, "b.com. CNAME rpz-passthru.")
}

func TestRenderForwardZones_Format(t *testing.T) {
	content := RenderForwardZones(map[string][]string{
		"internal.example.com": {"10.0.0.1", "10.0.0.2"},
	})
	require.Equal(t, "internal.example.com=10.0.0.1;10.0.0.2\n", content)
}
