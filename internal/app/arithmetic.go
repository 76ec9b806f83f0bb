package app

import (
	"fmt"
	"math"
	"math/bits"
)

func addU64Checked(a, b uint64, what string) (uint64, error) {
	if a > math.MaxUint64-b {
		return 0, fmt.Errorf("%s overflow: %d + %d", what, a, b)
	}
	return a + b, nil
}

func addInt64AndU64Checked(a int64, b uint64, what string) (int64, error) {
	if b > math.MaxInt64 {
		return 0, fmt.Errorf("%s overflow: %d + %d", what, a, b)
	}
	if a > math.MaxInt64-int64(b) {
		return 0, fmt.Errorf("%s overflow: %d + %d", what, a, b)
	}
	return a + int64(b), nil
}

// mulDiv64 computes amount*num/den without intermediate overflow.
// Requires num <= den (the percentage case), which bounds the quotient.
func mulDiv64(amount, num, den uint64) uint64 {
	if num == 0 || amount == 0 {
		return 0
	}
	hi, lo := bits.Mul64(amount, num)
	q, _ := bits.Div64(hi, lo, den)
	return q
}
