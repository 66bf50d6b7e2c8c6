package policy

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
	"github.com/Zerostate-IO/powerblockade/internal/app/pberrors"
	"github.com/Zerostate-IO/powerblockade/internal/app/storage"
)

// Compiler fetches enabled blocklists, parses and merges them with manual
// overrides, renders the two RPZ zones to disk, and returns the new bundle
// version.
type Compiler struct {
	store     storage.Store
	sharedDir string
	fetch     BodyFetcher
	clock     func() time.Time
	onCommit  func(ctx context.Context, configVersion string)
}

// WithNotifier registers a callback invoked after every successful Compile,
// with the newly committed config version. Used to fan out a "policy
// changed" notification (e.g. over pgnotify) to invalidate precache/bundle
// caches without the compiler depending on a specific transport.
func (c *Compiler) WithNotifier(fn func(ctx context.Context, configVersion string)) *Compiler {
	c.onCommit = fn
	return c
}

// BodyFetcher retrieves a blocklist's body honoring conditional GET
// semantics (If-None-Match / If-Modified-Since); an empty body with
// notModified=true means the stored entries are kept unchanged.
type BodyFetcher func(ctx context.Context, url, etag, lastModified string) (body string, newETag, newLastModified string, notModified bool, err error)

// NewCompiler builds a Compiler writing into sharedDir (expected to contain
// an "rpz" subdirectory) using fetch for blocklist retrieval.
func NewCompiler(store storage.Store, sharedDir string, fetch BodyFetcher) *Compiler {
	return &Compiler{store: store, sharedDir: sharedDir, fetch: fetch, clock: time.Now}
}

// Result summarizes one compile run.
type Result struct {
	ConfigVersion string
	Files         []RPZFile
	Refreshed     int
	Failed        int
}

// RefreshAndCompile fetches every enabled blocklist past its refresh
// cadence (or all of them if forceRefresh is set), reparses, replaces
// stored entries, then always recompiles from whatever is currently stored.
// A failing fetch records the error on the blocklist and leaves its prior
// entries in place; the list is not left out of the compile, so those prior
// entries still contribute to the rendered zone.
func (c *Compiler) RefreshAndCompile(ctx context.Context, forceRefresh bool) (Result, error) {
	lists, err := c.store.ListEnabledBlocklists(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: list blocklists: %v", pberrors.ErrTransient, err)
	}

	var refreshed, failed int
	for _, bl := range lists {
		due := forceRefresh || isDueForRefresh(bl, c.clock())
		if !due {
			continue
		}
		if err := c.refreshOne(ctx, bl); err != nil {
			failed++
			continue
		}
		refreshed++
	}

	result, err := c.Compile(ctx)
	if err != nil {
		return Result{}, err
	}
	result.Refreshed = refreshed
	result.Failed = failed
	return result, nil
}

func isDueForRefresh(bl domain.Blocklist, now time.Time) bool {
	if bl.LastUpdated == nil {
		return true
	}
	due := bl.LastUpdated.Add(time.Duration(bl.UpdateFrequencyHours) * time.Hour)
	return !now.Before(due)
}

func (c *Compiler) refreshOne(ctx context.Context, bl domain.Blocklist) error {
	body, etag, lastMod, notModified, err := c.fetch(ctx, bl.URL, bl.ETag, bl.LastModified)
	if err != nil {
		bl.LastError = err.Error()
		bl.LastUpdateStatus = "error"
		_, _ = c.store.UpdateBlocklist(ctx, bl)
		return fmt.Errorf("%w: fetch %s: %v", pberrors.ErrUpstreamFetch, bl.URL, err)
	}

	now := c.clock().UTC()
	if notModified {
		bl.LastUpdated = &now
		bl.LastUpdateStatus = "not_modified"
		bl.LastError = ""
		_, err := c.store.UpdateBlocklist(ctx, bl)
		return err
	}

	domains := ParseBody(bl.Format, body)
	list := make([]string, 0, len(domains))
	for d := range domains {
		list = append(list, d)
	}

	if err := c.store.WithTx(ctx, func(ctx context.Context, tx storage.Store) error {
		if _, err := tx.ReplaceBlocklistEntries(ctx, bl.ID, list); err != nil {
			return err
		}
		bl.EntryCount = int64(len(list))
		bl.ETag = etag
		bl.LastModified = lastMod
		bl.LastUpdated = &now
		bl.LastUpdateStatus = "ok"
		bl.LastError = ""
		_, err := tx.UpdateBlocklist(ctx, bl)
		return err
	}); err != nil {
		return fmt.Errorf("%w: store entries for %s: %v", pberrors.ErrTransient, bl.URL, err)
	}
	return nil
}

// Compile merges currently stored entries with manual overrides and
// rewrites both RPZ zones from whatever is in storage right now, without
// performing any fetches. It is also what the Blocking State Machine's
// "enable" path asks the Scheduler to run on the next cycle.
func (c *Compiler) Compile(ctx context.Context) (Result, error) {
	blockSet, err := c.store.ListAllBlocklistDomains(ctx, domain.BlocklistTypeBlock)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", pberrors.ErrTransient, err)
	}
	allowSet, err := c.store.ListAllBlocklistDomains(ctx, domain.BlocklistTypeAllow)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", pberrors.ErrTransient, err)
	}
	manualBlock, err := c.store.ListManualDomains(ctx, domain.ManualEntryBlock)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", pberrors.ErrTransient, err)
	}
	manualAllow, err := c.store.ListManualDomains(ctx, domain.ManualEntryAllow)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", pberrors.ErrTransient, err)
	}

	block := toSet(blockSet, manualBlock)
	allow := toSet(allowSet, manualAllow)

	// Allow-domains subtract from the effective block set: a
	// ManualEntry(block) loses to an allow entry for the same domain.
	combined := make(map[string]struct{}, len(block))
	for d := range block {
		if _, isAllowed := allow[d]; isAllowed {
			continue
		}
		combined[d] = struct{}{}
	}

	now := c.clock().UTC()
	blockFile := RPZFile{Filename: "blocklist-combined.rpz", Content: RenderBlocklistCombined(combined, now)}
	whitelistFile := RPZFile{Filename: "whitelist.rpz", Content: RenderWhitelist(allow, now)}
	blockFile.Checksum = checksum16(blockFile.Content)
	whitelistFile.Checksum = checksum16(whitelistFile.Content)

	if err := writeAtomic(filepath.Join(c.sharedDir, "rpz", blockFile.Filename), blockFile.Content); err != nil {
		return Result{}, fmt.Errorf("%w: write %s: %v", pberrors.ErrTransient, blockFile.Filename, err)
	}
	if err := writeAtomic(filepath.Join(c.sharedDir, "rpz", whitelistFile.Filename), whitelistFile.Content); err != nil {
		return Result{}, fmt.Errorf("%w: write %s: %v", pberrors.ErrTransient, whitelistFile.Filename, err)
	}

	zones, err := c.store.ListForwardZones(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: %v", pberrors.ErrTransient, err)
	}
	fzRules := make(map[string][]string, len(zones))
	for _, z := range zones {
		fzRules[z.Domain] = z.Servers
	}
	fzContent := RenderForwardZones(fzRules)
	if err := writeAtomic(filepath.Join(c.sharedDir, "forward-zones.conf"), fzContent); err != nil {
		return Result{}, fmt.Errorf("%w: write forward-zones.conf: %v", pberrors.ErrTransient, err)
	}

	version := BundleVersion([]RPZFile{blockFile, whitelistFile}, fzRules)
	if err := c.store.SetSetting(ctx, domain.SettingConfigVersion, version); err != nil {
		return Result{}, fmt.Errorf("%w: persist config_version: %v", pberrors.ErrTransient, err)
	}

	if c.onCommit != nil {
		c.onCommit(ctx, version)
	}

	return Result{
		ConfigVersion: version,
		Files:         []RPZFile{blockFile, whitelistFile},
	}, nil
}

func toSet(sets ...[]string) map[string]struct{} {
	out := make(map[string]struct{})
	for _, s := range sets {
		for _, d := range s {
			if n, ok := Normalize(d); ok {
				out[n] = struct{}{}
			}
		}
	}
	return out
}

func checksum16(content string) string {
	sum := sha256.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])[:16]
}

// BundleVersion is the first 12 hex chars of SHA-256 of the JSON-canonical
// concatenation of the sorted per-file content hashes (computed by
// contentHash, which skips the volatile SOA serial) and the sorted
// "domain=servers" forward-zone rules. It is therefore a function of policy
// inputs only, not of wall-clock compile time.
func BundleVersion(files []RPZFile, fzRules map[string][]string) string {
	fileHashes := make([]string, 0, len(files))
	for _, f := range files {
		fileHashes = append(fileHashes, contentHash(f.Filename, f.Content))
	}
	sort.Strings(fileHashes)

	fzLines := make([]string, 0, len(fzRules))
	for d, servers := range fzRules {
		sorted := append([]string(nil), servers...)
		sort.Strings(sorted)
		fzLines = append(fzLines, fmt.Sprintf("%s=%s", d, joinSemicolon(sorted)))
	}
	sort.Strings(fzLines)

	payload, _ := json.Marshal(struct {
		Files        []string `json:"files"`
		ForwardZones []string `json:"forward_zones"`
	}{Files: fileHashes, ForwardZones: fzLines})

	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])[:12]
}

func joinSemicolon(parts []string) string {
	out := ""
	for i, p := range parts {
		if i > 0 {
			out += ";"
		}
		out += p
	}
	return out
}

// contentHash hashes filename plus content with the 3-line SOA/NS header
// (which carries the volatile serial) skipped, leaving only record lines.
func contentHash(filename, content string) string {
	const headerLines = 3
	lines := splitLinesSkip(content, headerLines)
	sum := sha256.Sum256([]byte(filename + "\n" + lines))
	return hex.EncodeToString(sum[:])
}

func splitLinesSkip(content string, skip int) string {
	count := 0
	for i := 0; i < len(content); i++ {
		if content[i] == '\n' {
			count++
			if count == skip {
				return content[i+1:]
			}
		}
	}
	return ""
}

func writeAtomic(path, content string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
