package energy

// Battery is the single shared storage unit.
type Battery struct {
	Price      int64
	Capacity   int64
	Level      int64
	Configured bool
}

// Configure sets price and capacity. The charge level is kept, clamped to
// the new capacity.
func (b *Battery) Configure(price, capacity int64) error {
	if price < 0 {
		return ErrInvalidPrice
	}
	if capacity <= 0 {
		return ErrInvalidBatteryState
	}
	b.Price = price
	b.Capacity = capacity
	b.Level = b.clamp(b.Level)
	b.Configured = true
	return nil
}

// ChargeTo raises the level towards target and returns the charged quantity.
func (b *Battery) ChargeTo(target int64) (int64, error) {
	if !b.Configured {
		return 0, ErrInvalidBatteryState
	}
	target = b.clamp(target)
	if target <= b.Level {
		return 0, nil
	}
	delta := target - b.Level
	b.Level = target
	return delta, nil
}

// DischargeTo lowers the level towards target and returns the discharged quantity.
func (b *Battery) DischargeTo(target int64) (int64, error) {
	if !b.Configured {
		return 0, ErrInvalidBatteryState
	}
	target = b.clamp(target)
	if target >= b.Level {
		return 0, nil
	}
	delta := b.Level - target
	b.Level = target
	return delta, nil
}

func (b *Battery) clamp(level int64) int64 {
	if level < 0 {
		return 0
	}
	if level > b.Capacity {
		return b.Capacity
	}
	return level
}

// ConfigureBattery sets the shared battery parameters.
func (l *Ledger) ConfigureBattery(price, capacity int64) error {
	battery := l.battery
	if err := battery.Configure(price, capacity); err != nil {
		return err
	}
	l.battery = battery
	return nil
}

// Battery returns the battery state.
func (l *Ledger) Battery() Battery { return l.battery }
