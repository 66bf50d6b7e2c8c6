// Package policy implements the Policy Compiler: fetching and parsing
// blocklist sources, merging them with manual overrides, rendering the two
// RPZ zones, and computing the content-addressed bundle version.
package policy

import (
	"net"
	"strings"

	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
)

// ParseLine extracts a candidate domain from one line of a blocklist body
// in the given format, returning ("", false) for comments, blanks, and
// lines that yield nothing under that format's rule. The caller still owns
// normalization; ParseLine only extracts the raw candidate token.
func ParseLine(format domain.BlocklistFormat, line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return "", false
	}
	if strings.HasPrefix(trimmed, "#") || strings.HasPrefix(trimmed, "!") || strings.HasPrefix(trimmed, ";") {
		return "", false
	}

	switch format {
	case domain.BlocklistFormatHosts:
		return parseHostsLine(trimmed)
	case domain.BlocklistFormatDomains:
		return parseDomainsLine(trimmed)
	case domain.BlocklistFormatAdblock:
		return parseAdblockLine(trimmed)
	default:
		return "", false
	}
}

func stripInlineComment(s string) string {
	if i := strings.IndexAny(s, "#;"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

func parseHostsLine(line string) (string, bool) {
	line = stripInlineComment(line)
	fields := strings.Fields(line)
	if len(fields) < 2 || net.ParseIP(fields[0]) == nil {
		return "", false
	}
	return fields[1], true
}

func parseDomainsLine(line string) (string, bool) {
	line = stripInlineComment(line)
	if line == "" {
		return "", false
	}
	return line, true
}

func parseAdblockLine(line string) (string, bool) {
	if strings.ContainsAny(line, "$/[") {
		return "", false
	}
	candidate := strings.TrimPrefix(line, "||")
	candidate = strings.TrimSuffix(candidate, "^")
	if candidate == "" || strings.Contains(candidate, "*") {
		return "", false
	}
	if strings.Contains(candidate, "://") {
		return "", false
	}
	return candidate, true
}

// Normalize lowercases, strips a leading "*." wildcard label and a trailing
// dot, and rejects the candidate if it is empty or contains whitespace,
// "/", or "[" — the shared validator every parser's output must satisfy.
func Normalize(candidate string) (string, bool) {
	d := strings.ToLower(strings.TrimSpace(candidate))
	d = strings.TrimPrefix(d, "*.")
	d = strings.TrimSuffix(d, ".")
	if d == "" {
		return "", false
	}
	if strings.ContainsAny(d, " \t/[") {
		return "", false
	}
	return d, true
}

// ParseBody runs ParseLine then Normalize over every line of a blocklist
// body, returning the deduplicated, normalized domain set. Malformed lines
// are dropped silently; a bad line never fails the whole body, per the
// parser-tolerance requirement.
func ParseBody(format domain.BlocklistFormat, body string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, line := range strings.Split(body, "\n") {
		candidate, ok := ParseLine(format, line)
		if !ok {
			continue
		}
		normalized, ok := Normalize(candidate)
		if !ok {
			continue
		}
		out[normalized] = struct{}{}
	}
	return out
}
