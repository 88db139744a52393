package plugin

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubNotifier struct{ calls int }

func (s *stubNotifier) Notify(ctx context.Context, event NotifyEvent) error {
	s.calls++
	return nil
}

func TestRegistryRegisterAndResolve(t *testing.T) {
	r := NewRegistry()
	n := &stubNotifier{}
	require.NoError(t, r.Register(SlotNotifier, "desktop", n))

	resolved, err := r.Notifier("desktop")
	require.NoError(t, err)
	require.NoError(t, resolved.Notify(context.Background(), NotifyEvent{}))
	assert.Equal(t, 1, n.calls)
}

func TestRegistryRejectsWrongContract(t *testing.T) {
	r := NewRegistry()
	err := r.Register(SlotRuntime, "desktop", &stubNotifier{})
	require.Error(t, err)
}

func TestRegistryFreezeBlocksRegistration(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register(SlotNotifier, "desktop", &stubNotifier{}))
	r.Freeze()

	err := r.Register(SlotNotifier, "slack", &stubNotifier{})
	require.Error(t, err)

	// Already-registered plugins remain resolvable after freeze.
	_, err = r.Notifier("desktop")
	require.NoError(t, err)
}

func TestRegistryUnknownLookup(t *testing.T) {
	r := NewRegistry()
	_, err := r.Notifier("missing")
	require.Error(t, err)
}
