package energy

import (
	"math"
	"math/big"
	"math/bits"
)

func addChecked(a, b int64) (int64, error) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, ErrBalanceOverflow
	}
	return a + b, nil
}

func subChecked(a, b int64) (int64, error) {
	if (b > 0 && a < math.MinInt64+b) || (b < 0 && a > math.MaxInt64+b) {
		return 0, ErrBalanceOverflow
	}
	return a - b, nil
}

// mulChecked multiplies two non-negative values.
func mulChecked(a, b int64) (int64, error) {
	if a < 0 || b < 0 {
		return 0, ErrBalanceOverflow
	}
	hi, lo := bits.Mul64(uint64(a), uint64(b))
	if hi != 0 || lo > math.MaxInt64 {
		return 0, ErrBalanceOverflow
	}
	return int64(lo), nil
}

// shareOf returns floor(quantity * share / FullShare) without intermediate overflow.
func shareOf(quantity int64, share int) int64 {
	if quantity <= 0 || share <= 0 {
		return 0
	}
	hi, lo := bits.Mul64(uint64(quantity), uint64(share))
	q, _ := bits.Div64(hi, lo, FullShare)
	return int64(q)
}

func sumBig(values ...int64) *big.Int {
	total := new(big.Int)
	for _, v := range values {
		total.Add(total, big.NewInt(v))
	}
	return total
}
