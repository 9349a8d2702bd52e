package memory

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	energy "community-energy/internal/energy/domain"
)

func TestStateStoreReturnsCopies(t *testing.T) {
	store := NewStateStore()
	state, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Nil(t, state)

	ledger := energy.NewLedger()
	require.NoError(t, ledger.AddMember("m1", []energy.DeviceID{"d1"}, energy.FullShare))
	require.NoError(t, store.Save(context.Background(), ledger.State()))

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	require.NotNil(t, loaded)
	loaded.Members[0].Devices[0] = "tampered"
	loaded.Balances["m1"] = 99

	again, err := store.Load(context.Background())
	require.NoError(t, err)
	assert.Equal(t, energy.DeviceID("d1"), again.Members[0].Devices[0])
	assert.Zero(t, again.Balances["m1"])
	assert.Equal(t, 1, store.Saves())
}

func TestStateStoreSaveDetachesCallerState(t *testing.T) {
	store := NewStateStore()
	ledger := energy.NewLedger()
	require.NoError(t, ledger.AddMember("m1", []energy.DeviceID{"d1"}, energy.FullShare))

	state := ledger.State()
	require.NoError(t, store.Save(context.Background(), state))
	state.Members[0].Devices[0] = "changed-after-save"
	state.Members = nil

	loaded, err := store.Load(context.Background())
	require.NoError(t, err)
	require.Len(t, loaded.Members, 1)
	assert.Equal(t, energy.DeviceID("d1"), loaded.Members[0].Devices[0])
}
