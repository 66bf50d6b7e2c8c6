package configbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeInvalidator struct{ calls int }

func (f *fakeInvalidator) Invalidate() { f.calls++ }

func TestPublishPolicyChanged_NoopWithNilBus(t *testing.T) {
	require.NoError(t, PublishPolicyChanged(context.Background(), nil, "abc123"))
}

func TestSubscribePolicyChanged_NoopWithNilBusOrInvalidator(t *testing.T) {
	require.NoError(t, SubscribePolicyChanged(nil, &fakeInvalidator{}, nil))
	require.NoError(t, SubscribePolicyChanged(nil, nil, nil))
}
