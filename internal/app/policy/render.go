package policy

import (
	"fmt"
	"sort"
	"strings"
	"time"
)

// RPZFile is one rendered zone, ready to be written to the shared directory
// or served in a node's config bundle.
type RPZFile struct {
	Filename string
	Content  string
	Checksum string // 16 hex chars of SHA-256 of Content, per §4.F
}

const rpzTTL = 300

// renderSOASerial is the per-compile wall-clock serial stamped into the SOA
// record; it has no semantic meaning to nodes beyond "this file changed."
func renderSOASerial(now time.Time) int64 {
	return now.Unix()
}

func renderHeader(now time.Time) string {
	return fmt.Sprintf(
		"$TTL %d\n@ IN SOA localhost. hostmaster.localhost. %d 3600 600 604800 %d\n@ IN NS localhost.\n",
		rpzTTL, renderSOASerial(now), rpzTTL,
	)
}

// RenderBlocklistCombined emits the blocklist-combined zone: a CNAME-to-null
// record for every domain in block, sorted for determinism.
func RenderBlocklistCombined(block map[string]struct{}, now time.Time) string {
	var sb strings.Builder
	sb.WriteString(renderHeader(now))
	for _, d := range sortedKeys(block) {
		fmt.Fprintf(&sb, "%s. CNAME .\n", d)
	}
	return sb.String()
}

// RenderWhitelist emits the whitelist zone: a CNAME-to-passthru record for
// every domain in allow, sorted for determinism.
func RenderWhitelist(allow map[string]struct{}, now time.Time) string {
	var sb strings.Builder
	sb.WriteString(renderHeader(now))
	for _, d := range sortedKeys(allow) {
		fmt.Fprintf(&sb, "%s. CNAME rpz-passthru.\n", d)
	}
	return sb.String()
}

// RenderForwardZones emits the forward-zones file: one "domain=server[;server...]"
// line per zone, sorted by domain.
func RenderForwardZones(rules map[string][]string) string {
	var sb strings.Builder
	domains := make([]string, 0, len(rules))
	for d := range rules {
		domains = append(domains, d)
	}
	sort.Strings(domains)
	for _, d := range domains {
		fmt.Fprintf(&sb, "%s=%s\n", d, strings.Join(rules[d], ";"))
	}
	return sb.String()
}

func sortedKeys(m map[string]struct{}) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}
