// Package blocking implements the Blocking State Machine: enabled /
// disabled / paused_until(T), with a synchronous empty-RPZ write on
// disable/pause so an operator observes the override on return.
package blocking

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
	"github.com/Zerostate-IO/powerblockade/internal/app/pberrors"
	"github.com/Zerostate-IO/powerblockade/internal/app/policy"
	"github.com/Zerostate-IO/powerblockade/internal/app/storage"
)

// Machine owns the single persisted Blocking row and the shared RPZ
// directory it writes an empty override into.
type Machine struct {
	store     storage.Store
	sharedDir string
	clock     func() time.Time
}

func New(store storage.Store, sharedDir string) *Machine {
	return &Machine{store: store, sharedDir: sharedDir, clock: time.Now}
}

// Status reports the current state and whether blocking is active right now.
type Status struct {
	State       domain.BlockingState
	PausedUntil *time.Time
	Active      bool
}

func (m *Machine) Status(ctx context.Context) (Status, error) {
	b, err := m.store.GetBlockingState(ctx)
	if err != nil {
		return Status{}, fmt.Errorf("%w: %v", pberrors.ErrTransient, err)
	}
	now := m.clock()
	return Status{State: b.State, PausedUntil: b.PausedUntil, Active: b.Active(now)}, nil
}

// Disable sets state=disabled and synchronously writes an empty RPZ
// combined zone, before returning, per §5's ordering guarantee.
func (m *Machine) Disable(ctx context.Context, actorUserID string) error {
	return m.transition(ctx, domain.Blocking{State: domain.BlockingDisabled}, actorUserID)
}

// Enable sets state=enabled; it does not synchronously recompile — the
// Scheduler's next cycle is responsible for that.
func (m *Machine) Enable(ctx context.Context, actorUserID string) error {
	return m.setState(ctx, domain.Blocking{State: domain.BlockingEnabled}, actorUserID, false)
}

// Pause sets state=paused_until(now+minutes), minutes in [1, 1440], and
// synchronously writes the empty RPZ.
func (m *Machine) Pause(ctx context.Context, minutes int, actorUserID string) error {
	if minutes < 1 || minutes > 1440 {
		return fmt.Errorf("%w: minutes must be in [1,1440], got %d", pberrors.ErrValidation, minutes)
	}
	until := m.clock().UTC().Add(time.Duration(minutes) * time.Minute)
	return m.transition(ctx, domain.Blocking{State: domain.BlockingPausedUntil, PausedUntil: &until}, actorUserID)
}

// transition applies a state that requires the synchronous empty-zone write
// (disable, pause).
func (m *Machine) transition(ctx context.Context, next domain.Blocking, actorUserID string) error {
	return m.setState(ctx, next, actorUserID, true)
}

func (m *Machine) setState(ctx context.Context, next domain.Blocking, actorUserID string, writeEmptyZone bool) error {
	before, err := m.store.GetBlockingState(ctx)
	if err != nil {
		return fmt.Errorf("%w: %v", pberrors.ErrTransient, err)
	}

	err = m.store.WithTx(ctx, func(ctx context.Context, tx storage.Store) error {
		if err := tx.SetBlockingState(ctx, next); err != nil {
			return err
		}
		_, err := tx.RecordConfigChange(ctx, domain.ConfigChange{
			EntityType:  "blocking_state",
			EntityID:    "singleton",
			Action:      domain.ActionUpdate,
			ActorUserID: actorUserID,
			BeforeData:  map[string]any{"state": string(before.State), "paused_until": before.PausedUntil},
			AfterData:   map[string]any{"state": string(next.State), "paused_until": next.PausedUntil},
		})
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: %v", pberrors.ErrTransient, err)
	}

	if writeEmptyZone {
		if err := m.writeEmptyCombinedZone(); err != nil {
			return fmt.Errorf("%w: %v", pberrors.ErrTransient, err)
		}
	}
	return nil
}

// ResumeIfExpired is invoked by the Scheduler's blocking-resume job every
// minute: if paused_until(T) has elapsed, flips to enabled and requests a
// recompile (signaled via the returned bool so the caller can trigger it).
func (m *Machine) ResumeIfExpired(ctx context.Context) (resumed bool, err error) {
	b, err := m.store.GetBlockingState(ctx)
	if err != nil {
		return false, fmt.Errorf("%w: %v", pberrors.ErrTransient, err)
	}
	if b.State != domain.BlockingPausedUntil || b.PausedUntil == nil || m.clock().Before(*b.PausedUntil) {
		return false, nil
	}

	if err := m.setState(ctx, domain.Blocking{State: domain.BlockingEnabled}, "scheduler", false); err != nil {
		return false, err
	}
	return true, nil
}

// writeEmptyCombinedZone replaces only the combined zone with an empty one
// (valid SOA+NS, zero CNAME rules); the whitelist zone and forward-zones
// file are left untouched since blocking state does not affect them.
func (m *Machine) writeEmptyCombinedZone() error {
	content := policy.RenderBlocklistCombined(map[string]struct{}{}, m.clock())
	path := filepath.Join(m.sharedDir, "rpz", "blocklist-combined.rpz")
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, []byte(content), 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}
