// Package retention implements §4.I: per-table horizon-based deletion of
// DnsQueryEvent, QueryRollup, and NodeMetrics rows.
package retention

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
	"github.com/Zerostate-IO/powerblockade/internal/app/pberrors"
	"github.com/Zerostate-IO/powerblockade/internal/app/storage"
)

// Result is the per-table deletion count from one Run.
type Result struct {
	EventsDeleted  int64
	RollupsDeleted int64
	MetricsDeleted int64
}

type Engine struct {
	store storage.Store
	clock func() time.Time
}

func New(store storage.Store) *Engine {
	return &Engine{store: store, clock: time.Now}
}

// Run deletes rows older than the configured per-table horizons (in days,
// read from Settings with domain.DefaultSettings as fallback) from
// DnsQueryEvent (by ts), QueryRollup (by bucket_start), and NodeMetrics (by
// ts).
func (e *Engine) Run(ctx context.Context) (Result, error) {
	now := e.clock().UTC()

	stored, err := e.store.ListSettings(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("%w: list settings: %v", pberrors.ErrTransient, err)
	}
	settings := domain.DefaultSettings()
	for k, v := range stored {
		settings[k] = v
	}

	eventsCutoff := now.AddDate(0, 0, -horizonDays(settings, domain.SettingRetentionEvents))
	rollupsCutoff := now.AddDate(0, 0, -horizonDays(settings, domain.SettingRetentionRollups))
	metricsCutoff := now.AddDate(0, 0, -horizonDays(settings, domain.SettingRetentionMetrics))

	events, err := e.store.DeleteEventsBefore(ctx, eventsCutoff)
	if err != nil {
		return Result{}, fmt.Errorf("%w: delete events: %v", pberrors.ErrTransient, err)
	}
	rollups, err := e.store.DeleteRollupsBefore(ctx, rollupsCutoff)
	if err != nil {
		return Result{}, fmt.Errorf("%w: delete rollups: %v", pberrors.ErrTransient, err)
	}
	metrics, err := e.store.DeleteNodeMetricsBefore(ctx, metricsCutoff)
	if err != nil {
		return Result{}, fmt.Errorf("%w: delete node metrics: %v", pberrors.ErrTransient, err)
	}

	return Result{EventsDeleted: events, RollupsDeleted: rollups, MetricsDeleted: metrics}, nil
}

func horizonDays(settings map[string]string, key string) int {
	v, err := strconv.Atoi(settings[key])
	if err != nil || v <= 0 {
		defaults := domain.DefaultSettings()
		v, _ = strconv.Atoi(defaults[key])
	}
	return v
}
