package energy

import "sort"

// EnergySource is one priced tranche available for a distribution period.
type EnergySource struct {
	ID       string
	Price    int64
	Quantity int64
}

// Tier is the folded quantity available at one price.
type Tier struct {
	Price    int64
	Quantity int64
}

// Distribution reports the outcome of one distribute call.
type Distribution struct {
	Period       uint64
	Tiers        []Tier
	Distributed  int64
	Charged      int64
	Discharged   int64
	BatteryLevel int64
	Allocations  map[MemberID]int64
}

// Distribute replaces the current lots with a fresh allocation of sources.
// A nil batteryTarget leaves the battery untouched. Unconsumed lots of the
// previous period are forfeited.
func (l *Ledger) Distribute(sources []EnergySource, batteryTarget *int64) (Distribution, error) {
	if l.totalShare != FullShare {
		return Distribution{}, ErrIncompleteOwnership
	}
	tiers, err := foldSources(sources)
	if err != nil {
		return Distribution{}, err
	}

	battery := l.battery
	var charged, discharged int64
	if batteryTarget != nil {
		if !battery.Configured {
			return Distribution{}, ErrInvalidBatteryState
		}
		target := battery.clamp(*batteryTarget)
		switch {
		case target > battery.Level:
			want := target - battery.Level
			if available := totalQuantity(tiers); want > available {
				want = available
			}
			if charged, err = battery.ChargeTo(battery.Level + want); err != nil {
				return Distribution{}, err
			}
			tiers = withhold(tiers, charged)
		case target < battery.Level:
			if discharged, err = battery.DischargeTo(target); err != nil {
				return Distribution{}, err
			}
			if tiers, err = addTier(tiers, battery.Price, discharged); err != nil {
				return Distribution{}, err
			}
		}
	}
	if len(tiers) == 0 {
		return Distribution{}, ErrNoSources
	}

	lots := make([]TokenLot, 0, len(tiers)*len(l.order))
	allocated := make(map[MemberID]int64, len(l.order))
	var distributed int64
	for _, tier := range tiers {
		remaining := tier.Quantity
		for i, id := range l.order {
			qty := remaining
			if i < len(l.order)-1 {
				qty = shareOf(tier.Quantity, l.members[id].Share)
			}
			remaining -= qty
			if qty == 0 {
				continue
			}
			lots = append(lots, TokenLot{Owner: id, Price: tier.Price, Quantity: qty})
			allocated[id] += qty
		}
		distributed += tier.Quantity
	}

	l.battery = battery
	l.lots = lots
	l.allocated = allocated
	l.period++

	report := Distribution{
		Period:       l.period,
		Tiers:        tiers,
		Distributed:  distributed,
		Charged:      charged,
		Discharged:   discharged,
		BatteryLevel: battery.Level,
		Allocations:  make(map[MemberID]int64, len(allocated)),
	}
	for id, qty := range allocated {
		report.Allocations[id] = qty
	}
	return report, nil
}

func foldSources(sources []EnergySource) ([]Tier, error) {
	var tiers []Tier
	for _, source := range sources {
		if source.Price < 0 {
			return nil, ErrInvalidPrice
		}
		if source.Quantity < 0 {
			return nil, ErrInvalidQuantity
		}
		var err error
		if tiers, err = addTier(tiers, source.Price, source.Quantity); err != nil {
			return nil, err
		}
	}
	return tiers, nil
}

// addTier merges quantity into the tier at price, keeping tiers sorted.
func addTier(tiers []Tier, price, quantity int64) ([]Tier, error) {
	if _, err := addChecked(totalQuantity(tiers), quantity); err != nil {
		return nil, err
	}
	idx := sort.Search(len(tiers), func(i int) bool { return tiers[i].Price >= price })
	if idx < len(tiers) && tiers[idx].Price == price {
		tiers[idx].Quantity += quantity
		return tiers, nil
	}
	tiers = append(tiers, Tier{})
	copy(tiers[idx+1:], tiers[idx:])
	tiers[idx] = Tier{Price: price, Quantity: quantity}
	return tiers, nil
}

// withhold removes quantity from the cheapest tiers first.
func withhold(tiers []Tier, quantity int64) []Tier {
	for i := range tiers {
		if quantity == 0 {
			break
		}
		take := tiers[i].Quantity
		if take > quantity {
			take = quantity
		}
		tiers[i].Quantity -= take
		quantity -= take
	}
	return tiers
}

func totalQuantity(tiers []Tier) int64 {
	var total int64
	for _, tier := range tiers {
		total += tier.Quantity
	}
	return total
}
