// Package idalloc computes identifiers for record sets that have no
// persisted counter.
package idalloc

import (
	"math/big"
	"strings"
)

// NextID returns 1 + the largest non-negative integer among ids, formatted
// as a decimal string without leading zeros. Only all-digit IDs count; they
// are compared at arbitrary precision. The result must be recomputed from the
// full current ID set on every allocation.
func NextID(ids []string) string {
	top := ""
	for _, id := range ids {
		if !isDigits(id) {
			continue
		}
		n := strings.TrimLeft(id, "0")
		if len(n) > len(top) || (len(n) == len(top) && n > top) {
			top = n
		}
	}
	if top == "" {
		return "1"
	}
	v, _ := new(big.Int).SetString(top, 10)
	return v.Add(v, big.NewInt(1)).String()
}

func isDigits(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
