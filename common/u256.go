package common

import (
	"encoding/json"
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// U256 is an exact, non-negative 256-bit integer serialized as a decimal
// string on the wire (§3: "value ... 256-bit unsigned integer as decimal
// string"). Arithmetic on it must never silently lose precision — float64
// is never used for these quantities (§9 Duck-typed account states: "u256
// arithmetic must be exact"). Built over github.com/holiman/uint256, the
// teacher's own direct dependency for this exact concern (core/vm/gas.go,
// tos/protocols/snap/range.go both do fixed-256-bit arithmetic with it)
// rather than a hand-rolled math/big wrapper.
type U256 struct {
	v uint256.Int
}

// NewU256 wraps an int64 as a U256. Panics if n is negative; callers dealing
// with untrusted input must use ParseU256 instead.
func NewU256(n int64) U256 {
	if n < 0 {
		panic("common: NewU256 of negative value")
	}
	var u U256
	u.v.SetUint64(uint64(n))
	return u
}

// ParseU256 parses a base-10 string into a U256, rejecting negative values,
// non-numeric input, and anything exceeding 2^256-1.
func ParseU256(s string) (U256, error) {
	var u U256
	if err := u.v.SetFromDecimal(s); err != nil {
		return U256{}, fmt.Errorf("common: invalid u256 decimal string: %w", err)
	}
	return u, nil
}

func (u U256) String() string { return u.v.Dec() }

func (u U256) Big() *big.Int { return u.v.ToBig() }

func (u U256) Sign() int { return u.v.Sign() }

func (u U256) Cmp(o U256) int { return u.v.Cmp(&o.v) }

func (u U256) Add(o U256) U256 {
	var r U256
	r.v.Add(&u.v, &o.v)
	return r
}

// Sub returns u-o and reports whether the subtraction underflowed (o > u);
// on underflow the returned value is zero, never wrapped.
func (u U256) Sub(o U256) (U256, bool) {
	var r U256
	_, underflow := r.v.SubOverflow(&u.v, &o.v)
	if underflow {
		return U256{}, true
	}
	return r, false
}

func (u U256) Mul(o U256) U256 {
	var r U256
	r.v.Mul(&u.v, &o.v)
	return r
}

func (u U256) MarshalJSON() ([]byte, error) { return json.Marshal(u.v.Dec()) }

func (u *U256) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseU256(s)
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}
