package energy

import (
	"math/big"
	"sort"
)

// TokenLot is a priced claim on energy allocated to a member for the current period.
type TokenLot struct {
	Owner    MemberID
	Price    int64
	Quantity int64
}

// AccountBalance is one entry of the cash-credit ledger.
type AccountBalance struct {
	Account Account
	Balance int64
}

// Ledger is the community energy aggregate: membership, devices, battery,
// the current period's token lots and the cash-credit balances.
type Ledger struct {
	members    map[MemberID]*Member
	order      []MemberID
	totalShare int
	devices    map[DeviceID]MemberID

	exportDevice    DeviceID
	communityDevice DeviceID

	battery     Battery
	importPrice int64

	period    uint64
	lots      []TokenLot
	allocated map[MemberID]int64

	balances  map[MemberID]int64
	community int64
	export    int64
	imported  int64
}

// NewLedger returns an empty ledger.
func NewLedger() *Ledger {
	return &Ledger{
		members:   make(map[MemberID]*Member),
		devices:   make(map[DeviceID]MemberID),
		allocated: make(map[MemberID]int64),
		balances:  make(map[MemberID]int64),
	}
}

// Clone returns a deep copy of the ledger.
func (l *Ledger) Clone() *Ledger {
	if l == nil {
		return nil
	}
	out := *l
	out.members = make(map[MemberID]*Member, len(l.members))
	for id, member := range l.members {
		cloned := member.Clone()
		out.members[id] = &cloned
	}
	out.order = append([]MemberID(nil), l.order...)
	out.devices = make(map[DeviceID]MemberID, len(l.devices))
	for device, owner := range l.devices {
		out.devices[device] = owner
	}
	out.lots = append([]TokenLot(nil), l.lots...)
	out.allocated = make(map[MemberID]int64, len(l.allocated))
	for id, qty := range l.allocated {
		out.allocated[id] = qty
	}
	out.balances = make(map[MemberID]int64, len(l.balances))
	for id, balance := range l.balances {
		out.balances[id] = balance
	}
	return &out
}

// SetImportPrice sets the per-unit price charged for imported energy.
func (l *Ledger) SetImportPrice(price int64) error {
	if price < 0 {
		return ErrInvalidPrice
	}
	l.importPrice = price
	return nil
}

// ImportPrice returns the per-unit import price.
func (l *Ledger) ImportPrice() int64 { return l.importPrice }

// Period returns the number of completed distributions.
func (l *Ledger) Period() uint64 { return l.period }

// AllocatedTokens returns what the member was allocated in the current period.
func (l *Ledger) AllocatedTokens(id MemberID) int64 { return l.allocated[id] }

// RemainingTokens returns the member's unconsumed quantity in the current period.
func (l *Ledger) RemainingTokens(id MemberID) int64 {
	var total int64
	for _, lot := range l.lots {
		if lot.Owner == id {
			total += lot.Quantity
		}
	}
	return total
}

// TotalUnconsumed returns the unconsumed quantity across all lots.
func (l *Ledger) TotalUnconsumed() int64 {
	var total int64
	for _, lot := range l.lots {
		total += lot.Quantity
	}
	return total
}

// CollectiveConsumption returns the current lots ordered by price.
func (l *Ledger) CollectiveConsumption() []TokenLot {
	return append([]TokenLot(nil), l.lots...)
}

// CashBalance returns a member balance; unknown members have zero.
func (l *Ledger) CashBalance(id MemberID) int64 { return l.balances[id] }

// CommunityBalance returns the community fund balance.
func (l *Ledger) CommunityBalance() int64 { return l.community }

// ExportBalance returns the grid export balance.
func (l *Ledger) ExportBalance() int64 { return l.export }

// ImportBalance returns the grid import balance.
func (l *Ledger) ImportBalance() int64 { return l.imported }

// Balance returns the balance of any account.
func (l *Ledger) Balance(account Account) int64 {
	switch account.Kind {
	case AccountMember:
		return l.balances[account.Member]
	case AccountCommunity:
		return l.community
	case AccountExport:
		return l.export
	case AccountImport:
		return l.imported
	}
	return 0
}

// Balances lists member accounts sorted by id followed by the system accounts.
func (l *Ledger) Balances() []AccountBalance {
	ids := make([]MemberID, 0, len(l.balances))
	for id := range l.balances {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	out := make([]AccountBalance, 0, len(ids)+3)
	for _, id := range ids {
		out = append(out, AccountBalance{Account: MemberAccount(id), Balance: l.balances[id]})
	}
	out = append(out,
		AccountBalance{Account: CommunityAccount(), Balance: l.community},
		AccountBalance{Account: ExportAccount(), Balance: l.export},
		AccountBalance{Account: ImportAccount(), Balance: l.imported},
	)
	return out
}

// NetBalance returns the exact sum of all balances.
func (l *Ledger) NetBalance() *big.Int {
	values := make([]int64, 0, len(l.balances)+3)
	for _, balance := range l.balances {
		values = append(values, balance)
	}
	values = append(values, l.community, l.export, l.imported)
	return sumBig(values...)
}

// VerifyZeroSum reports whether all balances sum to zero.
func (l *Ledger) VerifyZeroSum() (bool, *big.Int) {
	net := l.NetBalance()
	return net.Sign() == 0, net
}

// transfer moves amount from payer to payee.
func (l *Ledger) transfer(payer, payee Account, amount int64) error {
	from, err := subChecked(l.Balance(payer), amount)
	if err != nil {
		return err
	}
	to := l.Balance(payee)
	if payer == payee {
		to = from
	}
	to, err = addChecked(to, amount)
	if err != nil {
		return err
	}
	l.setBalance(payer, from)
	l.setBalance(payee, to)
	return nil
}

func (l *Ledger) setBalance(account Account, value int64) {
	switch account.Kind {
	case AccountMember:
		l.balances[account.Member] = value
	case AccountCommunity:
		l.community = value
	case AccountExport:
		l.export = value
	case AccountImport:
		l.imported = value
	}
}
