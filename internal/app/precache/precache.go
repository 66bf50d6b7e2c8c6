// Package precache implements the Precache Warmer (§4.J): periodically
// re-resolve the most frequently queried, currently-unblocked domains
// against the local resolver so their answer stays hot in its cache.
package precache

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
	"github.com/Zerostate-IO/powerblockade/internal/app/pberrors"
	"github.com/Zerostate-IO/powerblockade/internal/app/storage"
)

// defaultTTL is recorded for every warmed domain. net.Resolver exposes no
// wire-level TTL (it is a stdlib stub for a DNS client per DESIGN.md), so
// this package cannot learn the upstream's actual answer TTL; it assumes a
// conservative fixed value instead of fabricating one from thin air.
const defaultTTL = 5 * time.Minute

const throttleEvery = 50

type cacheEntry struct {
	ttl        time.Duration
	lastWarmed time.Time
}

// Warmer holds the in-process, mutex-protected domain->(ttl,last_warmed)
// map described in §5's shared-resource policy: process-local, lost on
// restart.
type Warmer struct {
	store        storage.Store
	resolverAddr string
	resolver     *net.Resolver
	limiter      *rate.Limiter

	mu    sync.Mutex
	cache map[string]cacheEntry

	clock func() time.Time
	log   *logrus.Entry
}

// New builds a Warmer querying A records against resolverAddr (the local
// resolver's "ip:port").
func New(store storage.Store, resolverAddr string, log *logrus.Entry) *Warmer {
	w := &Warmer{
		store:        store,
		resolverAddr: resolverAddr,
		cache:        map[string]cacheEntry{},
		limiter:      rate.NewLimiter(rate.Every(time.Second), 1),
		clock:        time.Now,
		log:          log,
	}
	w.resolver = &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, _ string) (net.Conn, error) {
			d := net.Dialer{Timeout: 5 * time.Second}
			return d.DialContext(ctx, network, resolverAddr)
		},
	}
	return w
}

// Invalidate clears the in-process TTL cache, so the next Run treats every
// candidate domain as due for refresh. Wired to the Policy Compiler's
// commit notification, since a policy change can newly unblock a domain
// whose stale cached answer would otherwise survive until its TTL margin
// naturally expired.
func (w *Warmer) Invalidate() {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.cache = map[string]cacheEntry{}
}

// Result summarizes one Run.
type Result struct {
	Candidates int
	Warmed     int
	Failed     int
}

// Run selects the top-N most frequent unblocked, successfully-resolved
// qnames from the last 24h and re-resolves the ones due for refresh.
func (w *Warmer) Run(ctx context.Context) (Result, error) {
	stored, err := w.store.ListSettings(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: list settings: %v", pberrors.ErrTransient, err)
	}
	settings := domain.DefaultSettings()
	for k, v := range stored {
		settings[k] = v
	}
	if settings[domain.SettingPrecacheEnabled] != "true" {
		return Result{}, nil
	}

	topN := atoiOr(settings[domain.SettingPrecacheTopN], 50)
	ignoreTTL := settings[domain.SettingPrecacheIgnoreTTL] == "true"
	customRefresh := time.Duration(atoiOr(settings[domain.SettingPrecacheRefreshMin], 60)) * time.Minute

	since := w.clock().Add(-24 * time.Hour)
	domains, err := w.store.TopDomains(ctx, since, topN)
	if err != nil {
		return Result{}, fmt.Errorf("%w: top domains: %v", pberrors.ErrTransient, err)
	}

	result := Result{Candidates: len(domains)}
	for i, d := range domains {
		if !w.eligible(d, ignoreTTL, customRefresh) {
			continue
		}
		if i > 0 && i%throttleEvery == 0 {
			_ = w.limiter.Wait(ctx)
		}
		if w.warmOne(ctx, d) {
			result.Warmed++
		} else {
			result.Failed++
		}
	}
	return result, nil
}

// eligible implements §4.J's refresh-eligibility formula.
func (w *Warmer) eligible(d string, ignoreTTL bool, customRefresh time.Duration) bool {
	w.mu.Lock()
	entry, known := w.cache[d]
	w.mu.Unlock()
	if !known {
		return true
	}
	now := w.clock()
	if ignoreTTL {
		return now.Sub(entry.lastWarmed) >= customRefresh
	}
	margin := entry.ttl / 5 // 0.2 * ttl
	if margin < 30*time.Second {
		margin = 30 * time.Second
	}
	return now.Sub(entry.lastWarmed) >= entry.ttl-margin
}

func (w *Warmer) warmOne(ctx context.Context, d string) bool {
	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := w.resolver.LookupHost(lookupCtx, d)
	now := w.clock()
	if err != nil {
		if w.log != nil {
			w.log.WithError(err).WithField("domain", d).Warn("precache: warm failed")
		}
		return false
	}
	w.mu.Lock()
	w.cache[d] = cacheEntry{ttl: defaultTTL, lastWarmed: now}
	w.mu.Unlock()
	return true
}

func atoiOr(s string, fallback int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return fallback
	}
	return v
}
