// Package audit implements the rollback half of the Audit Log: replaying a
// prior ConfigChange's before_data back onto a blocklist or forward_zone
// row. Recording ConfigChange rows happens at the point of mutation
// (blocking and schedule call storage.Store.RecordConfigChange directly,
// as does the external CRUD layer for operator edits); this package only
// reverses them.
package audit

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
	"github.com/Zerostate-IO/powerblockade/internal/app/pberrors"
	"github.com/Zerostate-IO/powerblockade/internal/app/storage"
)

// Engine replays ConfigChange rows for the two rollback-eligible entity
// types: blocklist and forward_zone.
type Engine struct {
	store storage.Store
}

func New(store storage.Store) *Engine {
	return &Engine{store: store}
}

// Rollback reverses the ConfigChange identified by changeID, per §4.K:
//   - delete  -> reinsert from before_data, if the natural key is free
//   - create  -> delete the current row, if it still exists
//   - update/toggle/update_frequency/update_schedule -> overwrite the
//     listed fields with before_data
//
// The rollback itself is recorded as a new ConfigChange, action
// rollback_restore/rollback_update/rollback_delete, with a comment
// referencing the original change id.
func (e *Engine) Rollback(ctx context.Context, changeID, actorUserID string) (domain.ConfigChange, error) {
	change, err := e.store.GetConfigChange(ctx, changeID)
	if err != nil {
		return domain.ConfigChange{}, fmt.Errorf("%w: %v", pberrors.ErrNotFound, err)
	}

	switch change.EntityType {
	case domain.EntityBlocklist:
		return e.rollbackBlocklist(ctx, change, actorUserID)
	case domain.EntityForwardZone:
		return e.rollbackForwardZone(ctx, change, actorUserID)
	default:
		return domain.ConfigChange{}, fmt.Errorf("%w: entity type %q is not rollback-eligible", pberrors.ErrValidation, change.EntityType)
	}
}

func (e *Engine) rollbackBlocklist(ctx context.Context, change domain.ConfigChange, actorUserID string) (domain.ConfigChange, error) {
	switch change.Action {
	case domain.ActionDelete:
		var before domain.Blocklist
		if err := decodeInto(change.BeforeData, &before); err != nil {
			return domain.ConfigChange{}, fmt.Errorf("%w: decode before_data: %v", pberrors.ErrValidation, err)
		}
		if existing, err := e.store.ListBlocklists(ctx); err == nil {
			for _, b := range existing {
				if b.Name == before.Name {
					return domain.ConfigChange{}, fmt.Errorf("%w: a blocklist named %q already exists", pberrors.ErrConflict, before.Name)
				}
			}
		}
		before.ID = ""
		restored, err := e.store.CreateBlocklist(ctx, before)
		if err != nil {
			return domain.ConfigChange{}, fmt.Errorf("%w: %v", pberrors.ErrTransient, err)
		}
		return e.recordRollback(ctx, change, domain.ActionRollbackRestore, domain.EntityBlocklist, restored.ID, nil, toMap(restored), actorUserID)

	case domain.ActionCreate:
		if _, err := e.store.GetBlocklist(ctx, change.EntityID); err != nil {
			return e.recordRollback(ctx, change, domain.ActionRollbackDelete, domain.EntityBlocklist, change.EntityID, nil, nil, actorUserID)
		}
		if err := e.store.DeleteBlocklist(ctx, change.EntityID); err != nil {
			return domain.ConfigChange{}, fmt.Errorf("%w: %v", pberrors.ErrTransient, err)
		}
		return e.recordRollback(ctx, change, domain.ActionRollbackDelete, domain.EntityBlocklist, change.EntityID, nil, nil, actorUserID)

	case domain.ActionUpdate, domain.ActionToggle, domain.ActionUpdateFrequency, domain.ActionUpdateSchedule:
		current, err := e.store.GetBlocklist(ctx, change.EntityID)
		if err != nil {
			return domain.ConfigChange{}, fmt.Errorf("%w: %v", pberrors.ErrNotFound, err)
		}
		prior := toMap(current)
		before := current
		if err := decodeInto(change.BeforeData, &before); err != nil {
			return domain.ConfigChange{}, fmt.Errorf("%w: decode before_data: %v", pberrors.ErrValidation, err)
		}
		before.ID = current.ID
		before.CreatedAt = current.CreatedAt
		updated, err := e.store.UpdateBlocklist(ctx, before)
		if err != nil {
			return domain.ConfigChange{}, fmt.Errorf("%w: %v", pberrors.ErrTransient, err)
		}
		return e.recordRollback(ctx, change, domain.ActionRollbackUpdate, domain.EntityBlocklist, updated.ID, prior, toMap(updated), actorUserID)

	default:
		return domain.ConfigChange{}, fmt.Errorf("%w: action %q is not rollback-eligible", pberrors.ErrValidation, change.Action)
	}
}

func (e *Engine) rollbackForwardZone(ctx context.Context, change domain.ConfigChange, actorUserID string) (domain.ConfigChange, error) {
	switch change.Action {
	case domain.ActionDelete:
		var before domain.ForwardZone
		if err := decodeInto(change.BeforeData, &before); err != nil {
			return domain.ConfigChange{}, fmt.Errorf("%w: decode before_data: %v", pberrors.ErrValidation, err)
		}
		if existing, err := e.store.ListForwardZones(ctx); err == nil {
			for _, z := range existing {
				if z.Domain == before.Domain && samePtr(z.NodeID, before.NodeID) {
					return domain.ConfigChange{}, fmt.Errorf("%w: a forward zone for %q already exists", pberrors.ErrConflict, before.Domain)
				}
			}
		}
		before.ID = ""
		restored, err := e.store.CreateForwardZone(ctx, before)
		if err != nil {
			return domain.ConfigChange{}, fmt.Errorf("%w: %v", pberrors.ErrTransient, err)
		}
		return e.recordRollback(ctx, change, domain.ActionRollbackRestore, domain.EntityForwardZone, restored.ID, nil, toMap(restored), actorUserID)

	case domain.ActionCreate:
		if _, err := e.store.GetForwardZone(ctx, change.EntityID); err != nil {
			return e.recordRollback(ctx, change, domain.ActionRollbackDelete, domain.EntityForwardZone, change.EntityID, nil, nil, actorUserID)
		}
		if err := e.store.DeleteForwardZone(ctx, change.EntityID); err != nil {
			return domain.ConfigChange{}, fmt.Errorf("%w: %v", pberrors.ErrTransient, err)
		}
		return e.recordRollback(ctx, change, domain.ActionRollbackDelete, domain.EntityForwardZone, change.EntityID, nil, nil, actorUserID)

	case domain.ActionUpdate, domain.ActionToggle:
		current, err := e.store.GetForwardZone(ctx, change.EntityID)
		if err != nil {
			return domain.ConfigChange{}, fmt.Errorf("%w: %v", pberrors.ErrNotFound, err)
		}
		prior := toMap(current)
		before := current
		if err := decodeInto(change.BeforeData, &before); err != nil {
			return domain.ConfigChange{}, fmt.Errorf("%w: decode before_data: %v", pberrors.ErrValidation, err)
		}
		before.ID = current.ID
		before.CreatedAt = current.CreatedAt
		updated, err := e.store.UpdateForwardZone(ctx, before)
		if err != nil {
			return domain.ConfigChange{}, fmt.Errorf("%w: %v", pberrors.ErrTransient, err)
		}
		return e.recordRollback(ctx, change, domain.ActionRollbackUpdate, domain.EntityForwardZone, updated.ID, prior, toMap(updated), actorUserID)

	default:
		return domain.ConfigChange{}, fmt.Errorf("%w: action %q is not rollback-eligible", pberrors.ErrValidation, change.Action)
	}
}

func (e *Engine) recordRollback(ctx context.Context, original domain.ConfigChange, action, entityType, entityID string, before, after map[string]any, actorUserID string) (domain.ConfigChange, error) {
	return e.store.RecordConfigChange(ctx, domain.ConfigChange{
		EntityType:  entityType,
		EntityID:    entityID,
		Action:      action,
		ActorUserID: actorUserID,
		BeforeData:  before,
		AfterData:   after,
		Comment:     fmt.Sprintf("rollback of change %s", original.ID),
	})
}

func samePtr(a, b *string) bool {
	if a == nil || b == nil {
		return a == b
	}
	return *a == *b
}

// decodeInto round-trips a map[string]any (as stored from a prior
// before_data/after_data snapshot) back into a typed struct via JSON, since
// that is how it was captured in the first place.
func decodeInto(m map[string]any, dst any) error {
	buf, err := json.Marshal(m)
	if err != nil {
		return err
	}
	return json.Unmarshal(buf, dst)
}

func toMap(v any) map[string]any {
	buf, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(buf, &m); err != nil {
		return nil
	}
	return m
}
