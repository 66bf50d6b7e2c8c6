package audit

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/Zerostate-IO/powerblockade/internal/app/domain"
	"github.com/Zerostate-IO/powerblockade/internal/app/pberrors"
	"github.com/Zerostate-IO/powerblockade/internal/app/storage/memory"
)

func TestRollback_DeleteReinsertsFromBeforeData(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	b, err := store.CreateBlocklist(ctx, domain.Blocklist{Name: "ads", URL: "http://example.com/ads.txt", Enabled: true})
	require.NoError(t, err)

	change, err := store.RecordConfigChange(ctx, domain.ConfigChange{
		EntityType: domain.EntityBlocklist,
		EntityID:   b.ID,
		Action:     domain.ActionDelete,
		BeforeData: map[string]any{"name": "ads", "url": "http://example.com/ads.txt", "enabled": true},
	})
	require.NoError(t, err)
	require.NoError(t, store.DeleteBlocklist(ctx, b.ID))

	e := New(store)
	result, err := e.Rollback(ctx, change.ID, "operator")
	require.NoError(t, err)
	require.Equal(t, domain.ActionRollbackRestore, result.Action)

	all, err := store.ListBlocklists(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	require.Equal(t, "ads", all[0].Name)
}

func TestRollback_DeleteRefusesWhenNameTaken(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	change, err := store.RecordConfigChange(ctx, domain.ConfigChange{
		EntityType: domain.EntityBlocklist,
		EntityID:   "gone",
		Action:     domain.ActionDelete,
		BeforeData: map[string]any{"name": "ads"},
	})
	require.NoError(t, err)

	_, err = store.CreateBlocklist(ctx, domain.Blocklist{Name: "ads"})
	require.NoError(t, err)

	e := New(store)
	_, err = e.Rollback(ctx, change.ID, "operator")
	require.Error(t, err)
	require.True(t, errors.Is(err, pberrors.ErrConflict))
}

func TestRollback_CreateDeletesCurrentRow(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	b, err := store.CreateBlocklist(ctx, domain.Blocklist{Name: "ads"})
	require.NoError(t, err)

	change, err := store.RecordConfigChange(ctx, domain.ConfigChange{
		EntityType: domain.EntityBlocklist,
		EntityID:   b.ID,
		Action:     domain.ActionCreate,
	})
	require.NoError(t, err)

	e := New(store)
	result, err := e.Rollback(ctx, change.ID, "operator")
	require.NoError(t, err)
	require.Equal(t, domain.ActionRollbackDelete, result.Action)

	_, err = store.GetBlocklist(ctx, b.ID)
	require.Error(t, err)
}

func TestRollback_UpdateOverwritesFromBeforeData(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	b, err := store.CreateBlocklist(ctx, domain.Blocklist{Name: "ads", Enabled: false})
	require.NoError(t, err)

	change, err := store.RecordConfigChange(ctx, domain.ConfigChange{
		EntityType: domain.EntityBlocklist,
		EntityID:   b.ID,
		Action:     domain.ActionToggle,
		BeforeData: map[string]any{"name": "ads", "enabled": false},
	})
	require.NoError(t, err)

	b.Enabled = true
	_, err = store.UpdateBlocklist(ctx, b)
	require.NoError(t, err)

	e := New(store)
	result, err := e.Rollback(ctx, change.ID, "operator")
	require.NoError(t, err)
	require.Equal(t, domain.ActionRollbackUpdate, result.Action)

	after, err := store.GetBlocklist(ctx, b.ID)
	require.NoError(t, err)
	require.False(t, after.Enabled)
}

func TestRollback_RejectsIneligibleEntityType(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	change, err := store.RecordConfigChange(ctx, domain.ConfigChange{
		EntityType: "blocking_state",
		EntityID:   "singleton",
		Action:     domain.ActionUpdate,
	})
	require.NoError(t, err)

	e := New(store)
	_, err = e.Rollback(ctx, change.ID, "operator")
	require.Error(t, err)
	require.True(t, errors.Is(err, pberrors.ErrValidation))
}

func TestRollback_RecordsCommentReferencingOriginalChange(t *testing.T) {
	store := memory.New()
	ctx := context.Background()

	b, err := store.CreateBlocklist(ctx, domain.Blocklist{Name: "ads"})
	require.NoError(t, err)
	change, err := store.RecordConfigChange(ctx, domain.ConfigChange{
		EntityType: domain.EntityBlocklist,
		EntityID:   b.ID,
		Action:     domain.ActionCreate,
	})
	require.NoError(t, err)

	e := New(store)
	result, err := e.Rollback(ctx, change.ID, "operator")
	require.NoError(t, err)
	require.Contains(t, result.Comment, change.ID)
}
