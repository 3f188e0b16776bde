package model

import (
	"encoding/json"
	"fmt"
	"math/big"
)

// BigInt wraps big.Int so that token amounts serialize as decimal strings in the
// world state. Balances at 18-decimal token scale do not fit in int64.
type BigInt struct {
	big.Int
}

// NewBigInt returns a BigInt holding a copy of x. A nil x yields zero.
func NewBigInt(x *big.Int) *BigInt {
	b := &BigInt{}
	if x != nil {
		b.Set(x)
	}
	return b
}

// ParseBigInt parses a base-10 string into a BigInt.
func ParseBigInt(s string) (*BigInt, error) {
	b := &BigInt{}
	if _, ok := b.SetString(s, 10); !ok {
		return nil, fmt.Errorf("'%s' is not a valid base-10 integer", s)
	}
	return b, nil
}

// Value returns a copy of the wrapped integer, treating nil as zero.
func (b *BigInt) Value() *big.Int {
	if b == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(&b.Int)
}

func (b *BigInt) MarshalJSON() ([]byte, error) {
	return json.Marshal(b.String())
}

func (b *BigInt) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return fmt.Errorf("amount must be a decimal string: %w", err)
	}
	if _, ok := b.SetString(s, 10); !ok {
		return fmt.Errorf("'%s' is not a valid base-10 integer", s)
	}
	return nil
}
