package energy

import "errors"

var (
	ErrInvalidMember       = errors.New("energy: invalid member")
	ErrInvalidDevices      = errors.New("energy: invalid devices")
	ErrInvalidShare        = errors.New("energy: invalid share")
	ErrShareOverflow       = errors.New("energy: share overflow")
	ErrMemberNotFound      = errors.New("energy: member not found")
	ErrDeviceNotFound      = errors.New("energy: device not found")
	ErrIncompleteOwnership = errors.New("energy: incomplete ownership")
	ErrNoSources           = errors.New("energy: no sources")
	ErrNoRequests          = errors.New("energy: no requests")
	ErrInvalidBatteryState = errors.New("energy: invalid battery state")
	ErrBalanceOverflow     = errors.New("energy: balance overflow")
	ErrInvalidQuantity     = errors.New("energy: invalid quantity")
	ErrInvalidPrice        = errors.New("energy: invalid price")
	ErrLedgerImbalance     = errors.New("energy: ledger imbalance")
	ErrInvalidState        = errors.New("energy: invalid persisted state")
)
