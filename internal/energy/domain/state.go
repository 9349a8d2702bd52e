package energy

import "sort"

// State is the persisted form of a ledger.
type State struct {
	Members         []Member
	ExportDevice    DeviceID
	CommunityDevice DeviceID
	Battery         Battery
	ImportPrice     int64
	Period          uint64
	Lots            []TokenLot
	Allocated       map[MemberID]int64
	Balances        map[MemberID]int64
	Community       int64
	Export          int64
	Import          int64
}

// State snapshots the ledger for persistence.
func (l *Ledger) State() State {
	s := State{
		Members:         l.Members(),
		ExportDevice:    l.exportDevice,
		CommunityDevice: l.communityDevice,
		Battery:         l.battery,
		ImportPrice:     l.importPrice,
		Period:          l.period,
		Lots:            l.CollectiveConsumption(),
		Allocated:       make(map[MemberID]int64, len(l.allocated)),
		Balances:        make(map[MemberID]int64, len(l.balances)),
		Community:       l.community,
		Export:          l.export,
		Import:          l.imported,
	}
	for id, qty := range l.allocated {
		s.Allocated[id] = qty
	}
	for id, balance := range l.balances {
		s.Balances[id] = balance
	}
	return s
}

// RestoreLedger rebuilds a ledger from persisted state, re-checking every
// invariant the operations maintain.
func RestoreLedger(s State) (*Ledger, error) {
	l := NewLedger()
	if s.ExportDevice != "" {
		if err := l.SetExportDevice(s.ExportDevice); err != nil {
			return nil, ErrInvalidState
		}
	}
	if s.CommunityDevice != "" {
		if err := l.SetCommunityDevice(s.CommunityDevice); err != nil {
			return nil, ErrInvalidState
		}
	}
	for _, member := range s.Members {
		if err := l.AddMember(member.ID, member.Devices, member.Share); err != nil {
			return nil, ErrInvalidState
		}
	}
	if s.Battery.Configured {
		if err := l.ConfigureBattery(s.Battery.Price, s.Battery.Capacity); err != nil {
			return nil, ErrInvalidState
		}
		if s.Battery.Level < 0 || s.Battery.Level > s.Battery.Capacity {
			return nil, ErrInvalidState
		}
		l.battery.Level = s.Battery.Level
	}
	if err := l.SetImportPrice(s.ImportPrice); err != nil {
		return nil, ErrInvalidState
	}
	l.period = s.Period

	lots := append([]TokenLot(nil), s.Lots...)
	for _, lot := range lots {
		if lot.Owner == "" || lot.Price < 0 || lot.Quantity < 0 {
			return nil, ErrInvalidState
		}
	}
	if !sort.SliceIsSorted(lots, func(i, j int) bool { return lots[i].Price < lots[j].Price }) {
		return nil, ErrInvalidState
	}
	l.lots = lots
	for id, qty := range s.Allocated {
		if qty < 0 {
			return nil, ErrInvalidState
		}
		l.allocated[id] = qty
	}
	for id, balance := range s.Balances {
		l.balances[id] = balance
	}
	l.community = s.Community
	l.export = s.Export
	l.imported = s.Import
	if ok, _ := l.VerifyZeroSum(); !ok {
		return nil, ErrLedgerImbalance
	}
	return l, nil
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	out := s
	out.Members = make([]Member, len(s.Members))
	for i, member := range s.Members {
		out.Members[i] = member.Clone()
	}
	out.Lots = append([]TokenLot(nil), s.Lots...)
	out.Allocated = make(map[MemberID]int64, len(s.Allocated))
	for id, qty := range s.Allocated {
		out.Allocated[id] = qty
	}
	out.Balances = make(map[MemberID]int64, len(s.Balances))
	for id, balance := range s.Balances {
		out.Balances[id] = balance
	}
	return out
}
