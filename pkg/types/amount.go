package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// Amount is an arbitrary precision integer that tolerates the several ways
// the backend encodes big integers: JSON numbers, decimal strings and
// 0x-prefixed hex strings. It always marshals as a decimal string.
type Amount struct {
	v *big.Int
}

// NewAmount wraps a big.Int (nil is zero)
func NewAmount(v *big.Int) Amount {
	if v == nil {
		return Amount{}
	}
	return Amount{v: new(big.Int).Set(v)}
}

// AmountFromInt64 is a convenience for small literal amounts
func AmountFromInt64(v int64) Amount {
	return Amount{v: big.NewInt(v)}
}

// ParseAmount parses a decimal or 0x-hex integer string
func ParseAmount(s string) (Amount, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return Amount{}, fmt.Errorf("empty amount")
	}
	v := new(big.Int)
	var ok bool
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		_, ok = v.SetString(s[2:], 16)
	} else {
		_, ok = v.SetString(s, 10)
	}
	if !ok {
		return Amount{}, fmt.Errorf("invalid integer amount: %s", s)
	}
	return Amount{v: v}, nil
}

// Int returns a copy of the value
func (a Amount) Int() *big.Int {
	if a.v == nil {
		return new(big.Int)
	}
	return new(big.Int).Set(a.v)
}

func (a Amount) IsZero() bool { return a.v == nil || a.v.Sign() == 0 }

func (a Amount) Sign() int {
	if a.v == nil {
		return 0
	}
	return a.v.Sign()
}

func (a Amount) String() string {
	if a.v == nil {
		return "0"
	}
	return a.v.String()
}

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

func (a *Amount) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		*a = Amount{}
		return nil
	}
	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		if s == "" {
			*a = Amount{}
			return nil
		}
		raw = s
	}
	// tolerate the "123n" suffix some JS serializers leave on bigints
	raw = strings.TrimSuffix(raw, "n")
	if strings.ContainsAny(raw, ".eE") && !strings.HasPrefix(raw, "0x") {
		f, ok := new(big.Float).SetString(raw)
		if !ok {
			return fmt.Errorf("invalid amount %s", raw)
		}
		v, acc := f.Int(nil)
		if acc != big.Exact {
			return fmt.Errorf("amount %s is not an integer", raw)
		}
		*a = Amount{v: v}
		return nil
	}
	parsed, err := ParseAmount(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}
