package energy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAddMemberValidation(t *testing.T) {
	ledger := NewLedger()
	require.NoError(t, ledger.SetExportDevice("export"))
	require.NoError(t, ledger.AddMember("m1", []DeviceID{"d1"}, 6000))

	cases := []struct {
		name    string
		id      MemberID
		devices []DeviceID
		share   int
		want    error
	}{
		{"empty id", "", []DeviceID{"d2"}, 100, ErrInvalidMember},
		{"existing id", "m1", []DeviceID{"d2"}, 100, ErrInvalidMember},
		{"no devices", "m2", nil, 100, ErrInvalidDevices},
		{"empty device", "m2", []DeviceID{""}, 100, ErrInvalidDevices},
		{"owned device", "m2", []DeviceID{"d1"}, 100, ErrInvalidDevices},
		{"duplicate device", "m2", []DeviceID{"d2", "d2"}, 100, ErrInvalidDevices},
		{"reserved device", "m2", []DeviceID{"export"}, 100, ErrInvalidDevices},
		{"zero share", "m2", []DeviceID{"d2"}, 0, ErrInvalidShare},
		{"overflow", "m2", []DeviceID{"d2"}, 4001, ErrShareOverflow},
		{"share above full", "m2", []DeviceID{"d2"}, FullShare + 1, ErrShareOverflow},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := ledger.AddMember(tc.id, tc.devices, tc.share)
			require.ErrorIs(t, err, tc.want)
			assert.Equal(t, 6000, ledger.TotalShare())
			assert.Len(t, ledger.Members(), 1)
			_, ownerErr := ledger.OwnerOf("d2")
			assert.ErrorIs(t, ownerErr, ErrDeviceNotFound)
		})
	}

	require.NoError(t, ledger.AddMember("m2", []DeviceID{"d2", "d3"}, 4000))
	assert.Equal(t, FullShare, ledger.TotalShare())
	owner, err := ledger.OwnerOf("d3")
	require.NoError(t, err)
	assert.Equal(t, MemberOwner("m2"), owner)
}

func TestAddMemberShareAboveFullOnEmptyLedger(t *testing.T) {
	ledger := NewLedger()
	require.ErrorIs(t, ledger.AddMember("m1", []DeviceID{"d1"}, FullShare+1), ErrShareOverflow)
	assert.Equal(t, 0, ledger.TotalShare())
	assert.Empty(t, ledger.Members())
}

func TestRemoveMemberFreesDevicesAndKeepsBalance(t *testing.T) {
	ledger := NewLedger()
	require.NoError(t, ledger.AddMember("m1", []DeviceID{"d1"}, 5000))
	require.NoError(t, ledger.AddMember("m2", []DeviceID{"d2"}, 5000))
	_, err := ledger.Distribute([]EnergySource{{Price: 10, Quantity: 100}}, nil)
	require.NoError(t, err)

	require.ErrorIs(t, ledger.RemoveMember("missing"), ErrMemberNotFound)
	require.NoError(t, ledger.RemoveMember("m2"))
	assert.Equal(t, 5000, ledger.TotalShare())
	_, err = ledger.OwnerOf("d2")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
	assert.Equal(t, int64(50), ledger.RemainingTokens("m2"))

	_, err = ledger.Distribute([]EnergySource{{Price: 10, Quantity: 100}}, nil)
	require.ErrorIs(t, err, ErrIncompleteOwnership)

	// The removed member's lots are still exported when settlement runs.
	_, err = ledger.Consume([]ConsumptionRequest{{Device: "d1", Quantity: 50}})
	require.NoError(t, err)
	assert.Equal(t, int64(500), ledger.CashBalance("m2"))
	assert.Equal(t, int64(-500), ledger.ExportBalance())

	require.NoError(t, ledger.AddMember("m3", []DeviceID{"d2"}, 5000))
	owner, err := ledger.OwnerOf("d2")
	require.NoError(t, err)
	assert.Equal(t, MemberOwner("m3"), owner)
}

func TestReservedDevices(t *testing.T) {
	ledger := NewLedger()
	require.NoError(t, ledger.AddMember("m1", []DeviceID{"d1"}, FullShare))

	require.ErrorIs(t, ledger.SetExportDevice(""), ErrInvalidDevices)
	require.ErrorIs(t, ledger.SetExportDevice("d1"), ErrInvalidDevices)
	require.NoError(t, ledger.SetExportDevice("grid"))
	require.ErrorIs(t, ledger.SetCommunityDevice("grid"), ErrInvalidDevices)
	require.NoError(t, ledger.SetCommunityDevice("hall"))

	owner, err := ledger.OwnerOf("grid")
	require.NoError(t, err)
	assert.Equal(t, ExportSink(), owner)
	owner, err = ledger.OwnerOf("hall")
	require.NoError(t, err)
	assert.Equal(t, CommunitySink(), owner)

	require.NoError(t, ledger.SetExportDevice("grid-2"))
	_, err = ledger.OwnerOf("grid")
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestCashBalanceUnknownMemberIsZero(t *testing.T) {
	ledger := NewLedger()
	assert.Zero(t, ledger.CashBalance("nobody"))
	assert.Zero(t, ledger.AllocatedTokens("nobody"))
	ok, net := ledger.VerifyZeroSum()
	assert.True(t, ok)
	assert.Zero(t, net.Sign())
}
