// Package money represents monetary values as fixed-precision integers so
// that sums and comparisons that drive dispatch priority never touch
// binary floating point.
package money

import (
	"fmt"
	"strconv"
	"strings"
)

// Cents holds a monetary amount as an integer count of minor units (cents).
// Marshals to/from JSON as a decimal string with 2 implied places, e.g.
// Cents(123456) <-> "1234.56".
type Cents int64

// Zero is the additive identity.
const Zero Cents = 0

// FromFloat converts a float64 amount (as parsed from an uploaded
// spreadsheet cell) into Cents, rounding to the nearest cent.
func FromFloat(amount float64) Cents {
	if amount >= 0 {
		return Cents(amount*100 + 0.5)
	}
	return Cents(amount*100 - 0.5)
}

// FromString parses a decimal string like "1234.56" into Cents.
func FromString(s string) (Cents, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}

	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}

	whole, frac, hasFrac := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}

	wholeVal, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("invalid amount %q: %w", s, err)
	}

	fracVal := int64(0)
	if hasFrac {
		switch len(frac) {
		case 0:
			fracVal = 0
		case 1:
			v, err := strconv.ParseInt(frac, 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid amount %q: %w", s, err)
			}
			fracVal = v * 10
		default:
			v, err := strconv.ParseInt(frac[:2], 10, 64)
			if err != nil {
				return 0, fmt.Errorf("invalid amount %q: %w", s, err)
			}
			fracVal = v
		}
	}

	total := wholeVal*100 + fracVal
	if neg {
		total = -total
	}
	return Cents(total), nil
}

// Float64 returns the amount as a float64, for display or external APIs
// that require it. Never use this for comparisons that affect priority.
func (c Cents) Float64() float64 {
	return float64(c) / 100
}

// String renders the amount as a fixed 2-decimal string.
func (c Cents) String() string {
	neg := c < 0
	v := int64(c)
	if neg {
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", signPrefix(neg), v/100, v%100)
}

func signPrefix(neg bool) string {
	if neg {
		return "-"
	}
	return ""
}

// MarshalJSON encodes the amount as a quoted decimal string.
func (c Cents) MarshalJSON() ([]byte, error) {
	return []byte(`"` + c.String() + `"`), nil
}

// UnmarshalJSON decodes either a quoted decimal string or a bare JSON
// number (for leniency with upstream spreadsheet-derived payloads).
func (c *Cents) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	v, err := FromString(s)
	if err != nil {
		return err
	}
	*c = v
	return nil
}

// Add returns the sum of two amounts.
func (c Cents) Add(other Cents) Cents {
	return c + other
}

// Negate returns the additive inverse, used to derive primary-queue
// priority scores from batch value.
func (c Cents) Negate() Cents {
	return -c
}

// Sum totals a slice of amounts.
func Sum(amounts []Cents) Cents {
	var total Cents
	for _, a := range amounts {
		total += a
	}
	return total
}
