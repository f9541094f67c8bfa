package presale

import "math/bits"

// BpsDenominator is 100% expressed in basis points.
const BpsDenominator = 10_000

// CheckedAdd returns a+b or ErrOverflow.
func CheckedAdd(a, b uint64) (uint64, error) {
	sum, carry := bits.Add64(a, b, 0)
	if carry != 0 {
		return 0, ErrOverflow
	}
	return sum, nil
}

// CheckedSub returns a-b or ErrOverflow when b > a.
func CheckedSub(a, b uint64) (uint64, error) {
	diff, borrow := bits.Sub64(a, b, 0)
	if borrow != 0 {
		return 0, ErrOverflow
	}
	return diff, nil
}

// CheckedMul returns a*b or ErrOverflow.
func CheckedMul(a, b uint64) (uint64, error) {
	hi, lo := bits.Mul64(a, b)
	if hi != 0 {
		return 0, ErrOverflow
	}
	return lo, nil
}

// MulDiv returns floor(a*b/d) using a 128-bit intermediate.
// Fails with ErrOverflow when d is zero or the quotient does not fit in 64 bits.
func MulDiv(a, b, d uint64) (uint64, error) {
	if d == 0 {
		return 0, ErrOverflow
	}
	hi, lo := bits.Mul64(a, b)
	if hi >= d {
		return 0, ErrOverflow
	}
	q, _ := bits.Div64(hi, lo, d)
	return q, nil
}

// Pow10 returns 10^n or ErrOverflow when it does not fit in 64 bits.
func Pow10(n uint8) (uint64, error) {
	result := uint64(1)
	for i := uint8(0); i < n; i++ {
		var err error
		result, err = CheckedMul(result, 10)
		if err != nil {
			return 0, err
		}
	}
	return result, nil
}

// BpsOf returns floor(amount * bps / 10000).
func BpsOf(amount uint64, bps uint16) (uint64, error) {
	return MulDiv(amount, uint64(bps), BpsDenominator)
}
