package system

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

type mockService struct {
	name       string
	startCount int
	stopCount  int
	startErr   error
}

func (m *mockService) Name() string { return m.name }

func (m *mockService) Start(context.Context) error {
	m.startCount++
	return m.startErr
}

func (m *mockService) Stop(context.Context) error {
	m.stopCount++
	return nil
}

func TestManager_StartStopOrder(t *testing.T) {
	mgr := NewManager()
	services := []*mockService{{name: "a"}, {name: "b"}, {name: "c"}}
	for _, svc := range services {
		require.NoError(t, mgr.Register(svc))
	}

	require.NoError(t, mgr.Start(context.Background()))
	require.NoError(t, mgr.Stop(context.Background()))

	for _, svc := range services {
		require.Equal(t, 1, svc.startCount)
		require.Equal(t, 1, svc.stopCount)
	}
}

func TestManager_RollbackOnStartFailure(t *testing.T) {
	mgr := NewManager()
	good := &mockService{name: "good"}
	bad := &mockService{name: "bad", startErr: errors.New("boom")}

	require.NoError(t, mgr.Register(good))
	require.NoError(t, mgr.Register(bad))

	require.Error(t, mgr.Start(context.Background()))
	require.Equal(t, 1, good.stopCount)
}

func TestManager_RegisterAfterStartFails(t *testing.T) {
	mgr := NewManager()
	require.NoError(t, mgr.Register(&mockService{name: "a"}))
	require.NoError(t, mgr.Start(context.Background()))

	require.Error(t, mgr.Register(&mockService{name: "late"}))
}

func TestManager_StopIsIdempotent(t *testing.T) {
	mgr := NewManager()
	svc := &mockService{name: "a"}
	require.NoError(t, mgr.Register(svc))
	require.NoError(t, mgr.Start(context.Background()))

	require.NoError(t, mgr.Stop(context.Background()))
	require.NoError(t, mgr.Stop(context.Background()))
	require.Equal(t, 1, svc.stopCount)
}
