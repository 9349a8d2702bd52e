package application

import (
	"errors"
	"math/big"

	energy "community-energy/internal/energy/domain"
)

// QueryService answers read-only questions about the ledger. Every call
// reads one published snapshot and never waits for writers.
type QueryService struct {
	engine *Engine
}

// NewQueryService constructs a query service over an engine.
func NewQueryService(engine *Engine) (*QueryService, error) {
	if engine == nil {
		return nil, errors.New("energy query: nil engine")
	}
	return &QueryService{engine: engine}, nil
}

// AllocatedTokens returns the member's allocation in the current period.
func (q *QueryService) AllocatedTokens(id energy.MemberID) int64 {
	return q.engine.snapshot().AllocatedTokens(id)
}

// RemainingTokens returns the member's unconsumed quantity.
func (q *QueryService) RemainingTokens(id energy.MemberID) int64 {
	return q.engine.snapshot().RemainingTokens(id)
}

// TotalUnconsumed returns the unconsumed quantity across all lots.
func (q *QueryService) TotalUnconsumed() int64 {
	return q.engine.snapshot().TotalUnconsumed()
}

// CashBalance returns a member's signed cash-credit balance.
func (q *QueryService) CashBalance(id energy.MemberID) int64 {
	return q.engine.snapshot().CashBalance(id)
}

// CommunityBalance returns the community fund balance.
func (q *QueryService) CommunityBalance() int64 {
	return q.engine.snapshot().CommunityBalance()
}

// ExportBalance returns the grid export balance.
func (q *QueryService) ExportBalance() int64 {
	return q.engine.snapshot().ExportBalance()
}

// ImportBalance returns the grid import balance.
func (q *QueryService) ImportBalance() int64 {
	return q.engine.snapshot().ImportBalance()
}

// CollectiveConsumption returns the current lots in price order.
func (q *QueryService) CollectiveConsumption() []energy.TokenLot {
	return q.engine.snapshot().CollectiveConsumption()
}

// Member returns a registered member.
func (q *QueryService) Member(id energy.MemberID) (energy.Member, error) {
	member, ok := q.engine.snapshot().Member(id)
	if !ok {
		return energy.Member{}, energy.ErrMemberNotFound
	}
	return member, nil
}

// Members returns members in registration order.
func (q *QueryService) Members() []energy.Member {
	return q.engine.snapshot().Members()
}

// TotalShare returns the sum of member shares in basis points.
func (q *QueryService) TotalShare() int {
	return q.engine.snapshot().TotalShare()
}

// DeviceOwner resolves a device id.
func (q *QueryService) DeviceOwner(id energy.DeviceID) (energy.DeviceOwner, error) {
	return q.engine.snapshot().OwnerOf(id)
}

// BatteryInfo returns the battery state.
func (q *QueryService) BatteryInfo() energy.Battery {
	return q.engine.snapshot().Battery()
}

// ImportPrice returns the per-unit import price.
func (q *QueryService) ImportPrice() int64 {
	return q.engine.snapshot().ImportPrice()
}

// Period returns the number of completed distributions.
func (q *QueryService) Period() uint64 {
	return q.engine.snapshot().Period()
}

// VerifyZeroSum reports whether all balances sum to zero, with the sum.
func (q *QueryService) VerifyZeroSum() (bool, *big.Int) {
	return q.engine.snapshot().VerifyZeroSum()
}

// LedgerView is a consistent copy of the whole ledger.
type LedgerView struct {
	CommunityID     string
	Period          uint64
	Members         []energy.Member
	TotalShare      int
	ExportDevice    energy.DeviceID
	CommunityDevice energy.DeviceID
	Battery         energy.Battery
	ImportPrice     int64
	Lots            []energy.TokenLot
	Allocated       map[energy.MemberID]int64
	Balances        []energy.AccountBalance
	ZeroSum         bool
	Net             *big.Int
}

// View copies the current snapshot.
func (q *QueryService) View() LedgerView {
	ledger := q.engine.snapshot()
	state := ledger.State()
	ok, net := ledger.VerifyZeroSum()
	return LedgerView{
		CommunityID:     q.engine.CommunityID(),
		Period:          state.Period,
		Members:         state.Members,
		TotalShare:      ledger.TotalShare(),
		ExportDevice:    state.ExportDevice,
		CommunityDevice: state.CommunityDevice,
		Battery:         state.Battery,
		ImportPrice:     state.ImportPrice,
		Lots:            state.Lots,
		Allocated:       state.Allocated,
		Balances:        ledger.Balances(),
		ZeroSum:         ok,
		Net:             net,
	}
}
