// Package rollup aggregates raw DnsQueryEvent rows into hourly and daily
// QueryRollup rows, idempotently under re-runs.
package rollup

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
	"github.com/Zerostate-IO/powerblockade/internal/app/storage"
)

const (
	cacheHitThresholdSettingKey = "cache_hit_threshold_ms"
	defaultCacheHitThresholdMs  = 5
)

// Engine aggregates closed hours/days from raw events.
type Engine struct {
	store storage.Store
}

func New(store storage.Store) *Engine {
	return &Engine{store: store}
}

// cacheHitThreshold reads the cache_hit_threshold_ms Setting fresh on every
// run rather than caching it, since an operator can tune it without a
// restart; an unset or malformed Setting falls back to the default.
func (e *Engine) cacheHitThreshold(ctx context.Context) float64 {
	raw, ok, err := e.store.GetSetting(ctx, cacheHitThresholdSettingKey)
	if err != nil || !ok {
		return defaultCacheHitThresholdMs
	}
	v, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return defaultCacheHitThresholdMs
	}
	return v
}

type bucketKey struct {
	clientID string
	nodeID   string
}

// RunHourly aggregates the closed hour [hourStart, hourStart+1h) and upserts
// one QueryRollup per (client_id, node_id) observed in it.
func (e *Engine) RunHourly(ctx context.Context, hourStart time.Time) error {
	hourStart = hourStart.Truncate(time.Hour)
	hourEnd := hourStart.Add(time.Hour)

	events, err := e.store.EventsForRollup(ctx, hourStart, hourEnd)
	if err != nil {
		return fmt.Errorf("rollup: load events: %w", err)
	}

	threshold := e.cacheHitThreshold(ctx)
	aggregates := map[bucketKey]*aggregate{}
	for _, ev := range events {
		key := bucketKey{clientID: ev.ClientID, nodeID: ev.NodeID}
		agg, ok := aggregates[key]
		if !ok {
			agg = &aggregate{domains: map[string]struct{}{}}
			aggregates[key] = agg
		}
		agg.add(ev, threshold)
	}

	for key, agg := range aggregates {
		r := agg.rollup(hourStart, domain.GranularityHourly, key)
		if err := e.store.UpsertHourlyRollup(ctx, r); err != nil {
			return fmt.Errorf("rollup: upsert hourly %+v: %w", key, err)
		}
	}
	return nil
}

// RunDaily sums the closed day's hourly rollups per (client_id, node_id) and
// averages their avg_latency_ms.
func (e *Engine) RunDaily(ctx context.Context, dayStart time.Time) error {
	dayStart = time.Date(dayStart.Year(), dayStart.Month(), dayStart.Day(), 0, 0, 0, 0, dayStart.Location())
	dayEnd := dayStart.AddDate(0, 0, 1)

	hourly, err := e.store.HourlyRollupsForDay(ctx, dayStart, dayEnd)
	if err != nil {
		return fmt.Errorf("rollup: load hourly rollups: %w", err)
	}

	type accum struct {
		total, blocked, nxdomain, servfail, cacheHits, uniqueDomains int64
		latencySum                                                  float64
		latencyCount                                                int64
	}
	sums := map[bucketKey]*accum{}
	for _, r := range hourly {
		key := bucketKey{clientID: r.ClientID, nodeID: r.NodeID}
		a, ok := sums[key]
		if !ok {
			a = &accum{}
			sums[key] = a
		}
		a.total += r.TotalQueries
		a.blocked += r.Blocked
		a.nxdomain += r.NXDomain
		a.servfail += r.ServFail
		a.cacheHits += r.CacheHits
		a.uniqueDomains += r.UniqueDomains
		a.latencySum += r.AvgLatencyMs
		a.latencyCount++
	}

	for key, a := range sums {
		avgLatency := 0.0
		if a.latencyCount > 0 {
			avgLatency = a.latencySum / float64(a.latencyCount)
		}
		r := domain.QueryRollup{
			BucketStart:   dayStart,
			Granularity:   domain.GranularityDaily,
			ClientID:      key.clientID,
			NodeID:        key.nodeID,
			TotalQueries:  a.total,
			Blocked:       a.blocked,
			NXDomain:      a.nxdomain,
			ServFail:      a.servfail,
			CacheHits:     a.cacheHits,
			AvgLatencyMs:  avgLatency,
			UniqueDomains: a.uniqueDomains,
		}
		if err := e.store.UpsertDailyRollup(ctx, r); err != nil {
			return fmt.Errorf("rollup: upsert daily %+v: %w", key, err)
		}
	}
	return nil
}

type aggregate struct {
	total, blocked, nxdomain, servfail, cacheHits int64
	latencySum                                    float64
	domains                                       map[string]struct{}
}

func (a *aggregate) add(ev domain.DnsQueryEvent, cacheHitThresholdMs float64) {
	a.total++
	if ev.Blocked {
		a.blocked++
	}
	switch ev.RCode {
	case 3:
		a.nxdomain++
	case 2:
		a.servfail++
	}
	if ev.LatencyMs < cacheHitThresholdMs {
		a.cacheHits++
	}
	a.latencySum += ev.LatencyMs
	a.domains[ev.QName] = struct{}{}
}

func (a *aggregate) rollup(bucketStart time.Time, granularity domain.RollupGranularity, key bucketKey) domain.QueryRollup {
	avgLatency := 0.0
	if a.total > 0 {
		avgLatency = a.latencySum / float64(a.total)
	}
	return domain.QueryRollup{
		BucketStart:   bucketStart,
		Granularity:   granularity,
		ClientID:      key.clientID,
		NodeID:        key.nodeID,
		TotalQueries:  a.total,
		Blocked:       a.blocked,
		NXDomain:      a.nxdomain,
		ServFail:      a.servfail,
		CacheHits:     a.cacheHits,
		AvgLatencyMs:  avgLatency,
		UniqueDomains: int64(len(a.domains)),
	}
}
