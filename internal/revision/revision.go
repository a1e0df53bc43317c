// Package revision provides big-integer arithmetic for cluster revisions
// and lease IDs, both of which are carried on the wire as decimal strings
// because they may exceed 2^53 and must never be narrowed to a float64 or
// a native int32/int64 boundary that the application can't see past.
package revision

import "math/big"

// Zero is the decimal-string encoding of 0, used for "no revision yet".
const Zero = "0"

// Compare returns -1, 0, or 1 as a < b, a == b, a > b, treating empty
// strings as zero.
func Compare(a, b string) int {
	return toBig(a).Cmp(toBig(b))
}

// Add returns the decimal-string encoding of a + delta.
func Add(a string, delta int64) string {
	v := toBig(a)
	v.Add(v, big.NewInt(delta))
	return v.String()
}

// IsZero reports whether a decodes to zero (or is empty).
func IsZero(a string) bool {
	return toBig(a).Sign() == 0
}

func toBig(s string) *big.Int {
	v := new(big.Int)
	if s == "" {
		return v
	}
	if _, ok := v.SetString(s, 10); !ok {
		return new(big.Int)
	}
	return v
}

// Max returns the larger of a and b by numeric value.
func Max(a, b string) string {
	if Compare(a, b) >= 0 {
		return a
	}
	return b
}
