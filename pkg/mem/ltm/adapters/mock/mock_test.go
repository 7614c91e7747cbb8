package mock

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lexlapax/aimemory/pkg/mem/ltm"
	"github.com/lexlapax/aimemory/pkg/mem/ltm/ltmtest"
)

func TestMockStore_Conformance(t *testing.T) {
	ltmtest.Run(t, func(t *testing.T) ltmtest.Factory {
		return func(storeID string) ltm.Store {
			return NewMockStore(storeID)
		}
	})
}

func TestMockStore_InjectedFailures(t *testing.T) {
	ctx := context.Background()
	store := NewMockStore("default")

	store.SetFailures(true, false)
	_, err := store.Scan(ctx, "agentA")
	assert.Error(t, err)
	_, err = store.Count(ctx)
	assert.Error(t, err)

	store.SetFailures(false, true)
	_, err = store.Insert(ctx, ltm.MemoryRecord{Content: "x", Scope: "common"})
	assert.Error(t, err)

	store.SetFailures(false, false)
	_, err = store.Insert(ctx, ltm.MemoryRecord{Content: "x", Scope: "common"})
	require.NoError(t, err)

	require.NoError(t, store.Close())
	_, err = store.Count(ctx)
	assert.Error(t, err)
}
