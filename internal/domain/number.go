package domain

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// Number is a lenient numeric input. It accepts JSON numbers and numeric strings;
// anything else decodes to NaN instead of failing, so callers can sanitize it.
type Number float64

// UnmarshalJSON implements json.Unmarshaler.
func (n *Number) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			*n = Number(math.NaN())
			return nil
		}
		*n = parseNumber(s)
		return nil
	}
	*n = parseNumber(string(b))
	return nil
}

// Float64 returns the underlying value.
func (n Number) Float64() float64 {
	return float64(n)
}

// NumberPtr is a convenience for optional numeric inputs.
func NumberPtr(v float64) *Number {
	n := Number(v)
	return &n
}

func parseNumber(s string) Number {
	f, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
	if err != nil {
		return Number(math.NaN())
	}
	return Number(f)
}
