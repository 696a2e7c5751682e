package gatewaysync

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryStore(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	record := PlanRecord{
		ID:     "p1",
		Name:   "create_api",
		Status: PlanStatusRunning,
		Steps:  []StepRecord{{Name: "create_service", Lifecycle: LifecyclePendingRemote}},
	}
	require.NoError(t, store.Save(ctx, record))

	record.Steps[0].Lifecycle = LifecycleRemoteCommitted
	loaded, err := store.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, LifecyclePendingRemote, loaded.Steps[0].Lifecycle, "saved records are copies")

	loaded.Status = PlanStatusFailed
	again, err := store.Load(ctx, "p1")
	require.NoError(t, err)
	assert.Equal(t, PlanStatusRunning, again.Status)

	require.NoError(t, store.Delete(ctx, "p1"))
	_, err = store.Load(ctx, "p1")
	assert.ErrorIs(t, err, ErrNotFound)
}
