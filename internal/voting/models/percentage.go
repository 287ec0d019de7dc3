package models

import (
	"fmt"
	"math"
	"strconv"
)

// Percentage is a two-decimal fixed-point value stored in hundredths of a
// percent: 6000 is 60.00%. It marshals as a JSON number.
type Percentage int64

const (
	PercentZero    Percentage = 0
	PercentHundred Percentage = 10000
)

// PercentOf returns part/total*100 rounded half-up to two decimals.
// A zero total yields zero.
func PercentOf(part, total int64) Percentage {
	if total <= 0 || part <= 0 {
		return PercentZero
	}
	// hundredths = part*10000/total, rounded half-up in integer arithmetic.
	return Percentage((part*10000*2 + total) / (2 * total))
}

// PercentFromFloat rounds a percentage expressed as a float (e.g. 12.345) half-up.
func PercentFromFloat(v float64) Percentage {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return PercentZero
	}
	return Percentage(math.Floor(v*100 + 0.5))
}

func (p Percentage) Float64() float64 { return float64(p) / 100 }

// Clamp bounds p to [0, 100].
func (p Percentage) Clamp() Percentage {
	if p < PercentZero {
		return PercentZero
	}
	if p > PercentHundred {
		return PercentHundred
	}
	return p
}

func (p Percentage) String() string {
	sign := ""
	v := int64(p)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

func (p Percentage) MarshalJSON() ([]byte, error) {
	return []byte(p.String()), nil
}

func (p *Percentage) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	v, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("percentage must be a number: %w", err)
	}
	*p = PercentFromFloat(v)
	return nil
}
