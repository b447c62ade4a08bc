package store

import "math"

// MaxAmount is the largest unit price or cost accepted, in rupiah.
const MaxAmount int64 = 1_000_000_000_000

const MsgAmountTooLarge = "Amount is too large"

// MulAmount returns qty*price and false when the product overflows int64.
// qty and price must not be negative.
func MulAmount(qty int64, price int64) (int64, bool) {
	if qty == 0 || price == 0 {
		return 0, true
	}
	if price > math.MaxInt64/qty {
		return 0, false
	}
	return qty * price, true
}

// AddAmount returns a+b and false when the sum leaves the int64 range.
func AddAmount(a int64, b int64) (int64, bool) {
	if (b > 0 && a > math.MaxInt64-b) || (b < 0 && a < math.MinInt64-b) {
		return 0, false
	}
	return a + b, true
}
