package application

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	energy "community-energy/internal/energy/domain"
	"community-energy/internal/energy/infrastructure/memory"
)

func testSeed() Seed {
	return Seed{
		ImportPrice:     300,
		BatteryPrice:    120,
		BatteryCapacity: 400,
		ExportDevice:    "grid",
		CommunityDevice: "hall",
		Members: []SeedMember{
			{ID: "m1", Devices: []energy.DeviceID{"d1"}, ShareBps: 5000},
			{ID: "m2", Devices: []energy.DeviceID{"d2", "d3"}, ShareBps: 5000},
		},
	}
}

func TestBootstrapSeedsFreshLedger(t *testing.T) {
	engine, publisher := newTestEngine(t, nil)

	require.NoError(t, engine.Bootstrap(context.Background(), testSeed()))

	ledger := engine.snapshot()
	assert.Equal(t, energy.DeviceID("grid"), ledger.ExportDevice())
	assert.Equal(t, energy.DeviceID("hall"), ledger.CommunityDevice())
	assert.Equal(t, int64(300), ledger.ImportPrice())
	assert.True(t, ledger.Battery().Configured)
	assert.Equal(t, energy.FullShare, ledger.TotalShare())
	assert.Empty(t, publisher.Events())
}

func TestBootstrapKeepsStoredValues(t *testing.T) {
	store := memory.NewStateStore()
	first, _ := newTestEngine(t, store)
	ctx := operatorCtx()
	require.NoError(t, first.SetImportPrice(ctx, 500))
	require.NoError(t, first.AddMember(ctx, "solo", []energy.DeviceID{"s1"}, energy.FullShare))

	second, _ := newTestEngine(t, store)
	require.NoError(t, second.Bootstrap(context.Background(), testSeed()))

	ledger := second.snapshot()
	assert.Equal(t, int64(500), ledger.ImportPrice())
	require.Len(t, ledger.Members(), 1)
	assert.Equal(t, energy.MemberID("solo"), ledger.Members()[0].ID)
	assert.Equal(t, energy.DeviceID("grid"), ledger.ExportDevice())
	assert.Equal(t, int64(400), ledger.Battery().Capacity)
}

func TestBootstrapIsAtomic(t *testing.T) {
	store := memory.NewStateStore()
	engine, _ := newTestEngine(t, store)
	seed := testSeed()
	seed.Members[1].ShareBps = 6000

	require.ErrorIs(t, engine.Bootstrap(context.Background(), seed), energy.ErrShareOverflow)
	assert.Equal(t, energy.DeviceID(""), engine.snapshot().ExportDevice())
	assert.Zero(t, store.Saves())
}
