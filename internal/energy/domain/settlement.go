package energy

// ConsumptionRequest is one metered reading for a device.
type ConsumptionRequest struct {
	Device   DeviceID
	Quantity int64
}

// TransferKind classifies a settlement transfer.
type TransferKind string

const (
	TransferPeer   TransferKind = "peer"
	TransferImport TransferKind = "import"
	TransferExport TransferKind = "export"
)

// Transfer is one balanced movement of cash credit.
type Transfer struct {
	Kind     TransferKind
	Payer    Account
	Payee    Account
	Price    int64
	Quantity int64
	Amount   int64
}

// Settlement reports the outcome of one consume call.
type Settlement struct {
	Period   uint64
	Consumed int64
	Matched  int64
	Imported int64
	Exported int64
	// MeteredExport is the quantity read on the export device.
	MeteredExport int64
	Transfers     []Transfer
}

type demand struct {
	owner     DeviceOwner
	remaining int64
}

// Consume settles a batch of metered readings against the current lots.
//
// Each owner first draws its own lots cheapest first. Any shortfall is bought
// from other owners' remaining lots in price order, then imported at the
// import price. Whatever is left in the lots afterwards is exported at each
// lot's own price. Readings on the export device are reported only.
func (l *Ledger) Consume(requests []ConsumptionRequest) (Settlement, error) {
	if len(requests) == 0 {
		return Settlement{}, ErrNoRequests
	}
	var demands []*demand
	index := make(map[DeviceOwner]*demand)
	var metered int64
	for _, req := range requests {
		owner, err := l.OwnerOf(req.Device)
		if err != nil {
			return Settlement{}, err
		}
		if req.Quantity < 0 {
			return Settlement{}, ErrInvalidQuantity
		}
		if owner.Kind == OwnerExport {
			if metered, err = addChecked(metered, req.Quantity); err != nil {
				return Settlement{}, err
			}
			continue
		}
		d, ok := index[owner]
		if !ok {
			d = &demand{owner: owner}
			index[owner] = d
			demands = append(demands, d)
		}
		if d.remaining, err = addChecked(d.remaining, req.Quantity); err != nil {
			return Settlement{}, err
		}
	}

	next := l.Clone()
	result, err := next.settle(demands)
	if err != nil {
		return Settlement{}, err
	}
	if ok, _ := next.VerifyZeroSum(); !ok {
		return Settlement{}, ErrLedgerImbalance
	}
	result.MeteredExport = metered
	*l = *next
	return result, nil
}

func (l *Ledger) settle(demands []*demand) (Settlement, error) {
	result := Settlement{Period: l.period}

	for _, d := range demands {
		if !d.owner.IsMember() {
			continue
		}
		for i := range l.lots {
			if d.remaining == 0 {
				break
			}
			lot := &l.lots[i]
			if lot.Owner != d.owner.Member || lot.Quantity == 0 {
				continue
			}
			take := min(lot.Quantity, d.remaining)
			lot.Quantity -= take
			d.remaining -= take
			result.Consumed += take
		}
	}

	for _, d := range demands {
		buyer := accountOf(d.owner)
		for i := range l.lots {
			if d.remaining == 0 {
				break
			}
			lot := &l.lots[i]
			if lot.Quantity == 0 {
				continue
			}
			take := min(lot.Quantity, d.remaining)
			t, err := l.settleTransfer(TransferPeer, buyer, MemberAccount(lot.Owner), lot.Price, take)
			if err != nil {
				return Settlement{}, err
			}
			lot.Quantity -= take
			d.remaining -= take
			result.Matched += take
			result.Transfers = append(result.Transfers, t)
		}
	}

	for _, d := range demands {
		if d.remaining == 0 {
			continue
		}
		t, err := l.settleTransfer(TransferImport, accountOf(d.owner), ImportAccount(), l.importPrice, d.remaining)
		if err != nil {
			return Settlement{}, err
		}
		if result.Imported, err = addChecked(result.Imported, d.remaining); err != nil {
			return Settlement{}, err
		}
		result.Transfers = append(result.Transfers, t)
		d.remaining = 0
	}

	for i := range l.lots {
		lot := &l.lots[i]
		if lot.Quantity == 0 {
			continue
		}
		t, err := l.settleTransfer(TransferExport, ExportAccount(), MemberAccount(lot.Owner), lot.Price, lot.Quantity)
		if err != nil {
			return Settlement{}, err
		}
		result.Exported += lot.Quantity
		result.Transfers = append(result.Transfers, t)
		lot.Quantity = 0
	}
	return result, nil
}

func (l *Ledger) settleTransfer(kind TransferKind, payer, payee Account, price, quantity int64) (Transfer, error) {
	amount, err := mulChecked(price, quantity)
	if err != nil {
		return Transfer{}, err
	}
	if err := l.transfer(payer, payee, amount); err != nil {
		return Transfer{}, err
	}
	return Transfer{Kind: kind, Payer: payer, Payee: payee, Price: price, Quantity: quantity, Amount: amount}, nil
}
