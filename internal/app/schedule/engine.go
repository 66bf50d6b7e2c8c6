package schedule

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
	"github.com/Zerostate-IO/powerblockade/internal/app/storage"
)

// Engine evaluates every schedule_enabled blocklist on each tick and flips
// Enabled when the computed window state disagrees with the stored value.
type Engine struct {
	store    storage.Store
	loc      *time.Location
	log      *logrus.Entry
	clock    func() time.Time
	actorTag string
}

func New(store storage.Store, loc *time.Location, log *logrus.Entry) *Engine {
	if loc == nil {
		loc = time.UTC
	}
	return &Engine{store: store, loc: loc, log: log, clock: time.Now, actorTag: "schedule-engine"}
}

// Run evaluates all schedule_enabled blocklists and returns whether any
// Enabled value flipped, so the caller can request a Policy Compiler run.
func (e *Engine) Run(ctx context.Context) (changed bool, err error) {
	blocklists, err := e.store.ListBlocklists(ctx)
	if err != nil {
		return false, fmt.Errorf("schedule: list blocklists: %w", err)
	}

	now := e.clock().In(e.loc)
	for _, b := range blocklists {
		if !b.ScheduleEnabled {
			continue
		}
		window, err := NewWindow(strings.Join(b.ScheduleDays, ","), b.ScheduleStart, b.ScheduleEnd)
		if err != nil {
			if e.log != nil {
				e.log.WithError(err).WithField("blocklist_id", b.ID).Warn("skipping blocklist with unparseable schedule")
			}
			continue
		}
		shouldBeActive := window.ShouldBeActive(now)
		if shouldBeActive == b.Enabled {
			continue
		}

		before := b.Enabled
		b.Enabled = shouldBeActive
		if _, err := e.store.UpdateBlocklist(ctx, b); err != nil {
			return changed, fmt.Errorf("schedule: update blocklist %s: %w", b.ID, err)
		}
		_, err = e.store.RecordConfigChange(ctx, domain.ConfigChange{
			EntityType:  domain.EntityBlocklist,
			EntityID:    b.ID,
			Action:      domain.ActionToggle,
			ActorUserID: e.actorTag,
			BeforeData:  map[string]any{"enabled": before},
			AfterData:   map[string]any{"enabled": shouldBeActive},
		})
		if err != nil {
			return changed, fmt.Errorf("schedule: record audit for %s: %w", b.ID, err)
		}
		changed = true
	}
	return changed, nil
}
