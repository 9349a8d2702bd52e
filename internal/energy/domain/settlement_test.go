package energy

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assertZeroSum(t *testing.T, ledger *Ledger) {
	t.Helper()
	ok, net := ledger.VerifyZeroSum()
	assert.True(t, ok, "net balance %s", net)
}

func TestConsumeUnderConsumptionExportsRemainder(t *testing.T) {
	ledger := newCommunity(t, FullShare)
	_, err := ledger.Distribute([]EnergySource{{Price: 100, Quantity: 300}}, nil)
	require.NoError(t, err)

	result, err := ledger.Consume([]ConsumptionRequest{{Device: "d1", Quantity: 100}})
	require.NoError(t, err)

	assert.Equal(t, int64(20000), ledger.CashBalance("m1"))
	assert.Equal(t, int64(-20000), ledger.ExportBalance())
	assert.Equal(t, int64(100), result.Consumed)
	assert.Equal(t, int64(200), result.Exported)
	assert.Equal(t, int64(300), ledger.AllocatedTokens("m1"))
	assert.Zero(t, ledger.RemainingTokens("m1"))
	assertZeroSum(t, ledger)
}

func TestSecondConsumeInPeriodImports(t *testing.T) {
	ledger := newCommunity(t, FullShare)
	require.NoError(t, ledger.SetImportPrice(250))
	_, err := ledger.Distribute([]EnergySource{{Price: 100, Quantity: 300}}, nil)
	require.NoError(t, err)

	_, err = ledger.Consume([]ConsumptionRequest{{Device: "d1", Quantity: 100}})
	require.NoError(t, err)
	assert.Zero(t, ledger.TotalUnconsumed())

	// The first call already exported the unused 200 units.
	result, err := ledger.Consume([]ConsumptionRequest{{Device: "d1", Quantity: 10}})
	require.NoError(t, err)
	assert.Equal(t, int64(10), result.Imported)
	assert.Zero(t, result.Exported)
	assert.Equal(t, int64(20000-2500), ledger.CashBalance("m1"))
	assert.Equal(t, int64(2500), ledger.ImportBalance())
	assertZeroSum(t, ledger)
}

func TestConsumeExactAllocationMovesNothing(t *testing.T) {
	ledger := newCommunity(t, FullShare)
	_, err := ledger.Distribute([]EnergySource{{Price: 100, Quantity: 300}}, nil)
	require.NoError(t, err)

	result, err := ledger.Consume([]ConsumptionRequest{{Device: "d1", Quantity: 300}})
	require.NoError(t, err)
	assert.Empty(t, result.Transfers)
	assert.Zero(t, ledger.CashBalance("m1"))
	assert.Zero(t, ledger.ExportBalance())
	assert.Zero(t, ledger.ImportBalance())
}

func TestConsumeCheapestLotsFirst(t *testing.T) {
	exportOf := func(price, qty int64) Transfer {
		return Transfer{Kind: TransferExport, Payer: ExportAccount(), Payee: MemberAccount("m1"), Price: price, Quantity: qty, Amount: price * qty}
	}
	cases := []struct {
		name     string
		quantity int64
		want     []Transfer
	}{
		{"within cheap lot", 30, []Transfer{exportOf(100, 20), exportOf(200, 40)}},
		{"spans both lots", 70, []Transfer{exportOf(200, 20)}},
		{"exhausts both lots", 90, nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			ledger := newCommunity(t, FullShare)
			_, err := ledger.Distribute([]EnergySource{{Price: 200, Quantity: 40}, {Price: 100, Quantity: 50}}, nil)
			require.NoError(t, err)

			result, err := ledger.Consume([]ConsumptionRequest{{Device: "d1", Quantity: tc.quantity}})
			require.NoError(t, err)
			assert.Equal(t, tc.want, result.Transfers)
			assert.Equal(t, tc.quantity, result.Consumed)
			assertZeroSum(t, ledger)
		})
	}
}

func TestConsumePeerMatchingAndExport(t *testing.T) {
	ledger := newCommunity(t, 4000, 3500, 2500)
	_, err := ledger.Distribute([]EnergySource{
		{Price: 100, Quantity: 1000},
		{Price: 200, Quantity: 500},
	}, nil)
	require.NoError(t, err)

	result, err := ledger.Consume([]ConsumptionRequest{
		{Device: "d1", Quantity: 100},
		{Device: "d2", Quantity: 700},
	})
	require.NoError(t, err)

	assert.Equal(t, int64(70000), ledger.CashBalance("m1"))
	assert.Equal(t, int64(-17500), ledger.CashBalance("m2"))
	assert.Equal(t, int64(50000), ledger.CashBalance("m3"))
	assert.Equal(t, int64(-102500), ledger.ExportBalance())
	assert.Zero(t, ledger.ImportBalance())
	assert.Equal(t, int64(625), result.Consumed)
	assert.Equal(t, int64(175), result.Matched)
	assert.Equal(t, int64(700), result.Exported)
	assert.Contains(t, result.Transfers, Transfer{
		Kind:     TransferPeer,
		Payer:    MemberAccount("m2"),
		Payee:    MemberAccount("m1"),
		Price:    100,
		Quantity: 175,
		Amount:   17500,
	})
	assert.Zero(t, ledger.TotalUnconsumed())
	assertZeroSum(t, ledger)
}

func TestConsumeImportsUnmatchedShortfall(t *testing.T) {
	ledger := newCommunity(t, 5000, 5000)
	require.NoError(t, ledger.SetImportPrice(300))
	_, err := ledger.Distribute([]EnergySource{{Price: 100, Quantity: 100}}, nil)
	require.NoError(t, err)

	result, err := ledger.Consume([]ConsumptionRequest{
		{Device: "d1", Quantity: 80},
		{Device: "d2", Quantity: 50},
	})
	require.NoError(t, err)

	// m1 draws 50 own, buys nothing from m2 (fully used), imports 30.
	assert.Equal(t, int64(-9000), ledger.CashBalance("m1"))
	assert.Zero(t, ledger.CashBalance("m2"))
	assert.Equal(t, int64(9000), ledger.ImportBalance())
	assert.Equal(t, int64(30), result.Imported)
	assertZeroSum(t, ledger)
}

func TestConsumeWithoutLotsIsFullShortfall(t *testing.T) {
	ledger := newCommunity(t, FullShare)
	require.NoError(t, ledger.SetImportPrice(250))

	_, err := ledger.Consume([]ConsumptionRequest{{Device: "d1", Quantity: 4}})
	require.NoError(t, err)
	assert.Equal(t, int64(-1000), ledger.CashBalance("m1"))
	assert.Equal(t, int64(1000), ledger.ImportBalance())
}

func TestConsumeCommunityDevice(t *testing.T) {
	ledger := newCommunity(t, 5000, 5000)
	require.NoError(t, ledger.SetCommunityDevice("hall"))
	require.NoError(t, ledger.SetImportPrice(500))
	_, err := ledger.Distribute([]EnergySource{{Price: 100, Quantity: 100}}, nil)
	require.NoError(t, err)

	_, err = ledger.Consume([]ConsumptionRequest{
		{Device: "hall", Quantity: 60},
		{Device: "d1", Quantity: 50},
	})
	require.NoError(t, err)

	// m1 covers itself; the hall buys m2's 50 and imports 10.
	assert.Zero(t, ledger.CashBalance("m1"))
	assert.Equal(t, int64(5000), ledger.CashBalance("m2"))
	assert.Equal(t, int64(-10000), ledger.CommunityBalance())
	assert.Equal(t, int64(5000), ledger.ImportBalance())
	assertZeroSum(t, ledger)
}

func TestConsumeMeteredExportIsReported(t *testing.T) {
	ledger := newCommunity(t, FullShare)
	require.NoError(t, ledger.SetExportDevice("grid"))
	_, err := ledger.Distribute([]EnergySource{{Price: 10, Quantity: 100}}, nil)
	require.NoError(t, err)

	result, err := ledger.Consume([]ConsumptionRequest{
		{Device: "grid", Quantity: 40},
		{Device: "d1", Quantity: 60},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(40), result.MeteredExport)
	assert.Equal(t, int64(40), result.Exported)
	assert.Equal(t, int64(400), ledger.CashBalance("m1"))
}

func TestConsumeAggregatesRequestsPerOwner(t *testing.T) {
	ledger := NewLedger()
	require.NoError(t, ledger.AddMember("m1", []DeviceID{"a", "b"}, FullShare))
	_, err := ledger.Distribute([]EnergySource{{Price: 10, Quantity: 100}}, nil)
	require.NoError(t, err)

	result, err := ledger.Consume([]ConsumptionRequest{{Device: "a", Quantity: 30}, {Device: "b", Quantity: 30}})
	require.NoError(t, err)
	assert.Equal(t, int64(60), result.Consumed)
	assert.Equal(t, int64(400), ledger.CashBalance("m1"))
}

func TestConsumeFailuresLeaveLedgerUntouched(t *testing.T) {
	ledger := newCommunity(t, FullShare)
	_, err := ledger.Distribute([]EnergySource{{Price: 100, Quantity: 300}}, nil)
	require.NoError(t, err)
	before := ledger.State()

	_, err = ledger.Consume(nil)
	require.ErrorIs(t, err, ErrNoRequests)
	_, err = ledger.Consume([]ConsumptionRequest{{Device: "d1", Quantity: 10}, {Device: "ghost", Quantity: 1}})
	require.ErrorIs(t, err, ErrDeviceNotFound)
	_, err = ledger.Consume([]ConsumptionRequest{{Device: "d1", Quantity: -1}})
	require.ErrorIs(t, err, ErrInvalidQuantity)

	assert.Equal(t, before, ledger.State())
}

func TestConsumeOverflowIsFatal(t *testing.T) {
	ledger := newCommunity(t, FullShare)
	require.NoError(t, ledger.SetImportPrice(math.MaxInt64))
	_, err := ledger.Distribute([]EnergySource{{Price: 1, Quantity: 1}}, nil)
	require.NoError(t, err)
	before := ledger.State()

	_, err = ledger.Consume([]ConsumptionRequest{{Device: "d1", Quantity: 3}})
	require.ErrorIs(t, err, ErrBalanceOverflow)
	assert.Equal(t, before, ledger.State())

	_, err = ledger.Consume([]ConsumptionRequest{{Device: "d1", Quantity: math.MaxInt64}, {Device: "d1", Quantity: 1}})
	require.ErrorIs(t, err, ErrBalanceOverflow)
}

func TestZeroSumAcrossPeriods(t *testing.T) {
	ledger := newCommunity(t, 2500, 2500, 5000)
	require.NoError(t, ledger.SetImportPrice(180))
	require.NoError(t, ledger.SetCommunityDevice("hall"))
	require.NoError(t, ledger.ConfigureBattery(130, 1000))

	periods := []struct {
		sources  []EnergySource
		target   *int64
		requests []ConsumptionRequest
	}{
		{[]EnergySource{{Price: 90, Quantity: 997}, {Price: 160, Quantity: 13}}, int64Ptr(200), []ConsumptionRequest{{Device: "d1", Quantity: 400}, {Device: "hall", Quantity: 50}}},
		{[]EnergySource{{Price: 110, Quantity: 301}}, int64Ptr(0), []ConsumptionRequest{{Device: "d2", Quantity: 1}, {Device: "d3", Quantity: 900}}},
		{[]EnergySource{{Price: 70, Quantity: 5}}, nil, []ConsumptionRequest{{Device: "d1", Quantity: 5}, {Device: "d2", Quantity: 5}, {Device: "d3", Quantity: 5}}},
	}
	for _, p := range periods {
		_, err := ledger.Distribute(p.sources, p.target)
		require.NoError(t, err)
		_, err = ledger.Consume(p.requests)
		require.NoError(t, err)
		assertZeroSum(t, ledger)
		q1, q2 := ledger.CashBalance("m1"), ledger.CashBalance("m1")
		assert.Equal(t, q1, q2)
	}
}
