package models

import "fmt"

// Money is a monetary amount in minor currency units (paise, cents).
// Arithmetic on Money is plain integer arithmetic; there is no
// floating point anywhere in the ledger engine.
type Money int64

// Float64 converts to major units for display. Presentation only;
// never feed the result back into the engine.
func (m Money) Float64() float64 {
	return float64(m) / 100
}

// String formats the amount with two decimals, e.g. -12345 -> "-123.45".
func (m Money) String() string {
	sign := ""
	v := int64(m)
	if v < 0 {
		sign = "-"
		v = -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}
