// Package wallet models the fixed-point amount type and the wallet
// snapshot capability (§6: wallets.snapshot(), wallets.find_by_id()) that
// the Transaction Validator (C3) consumes. Grounded on
// _examples/original_source/csdb/src/integral_encdec.cpp (the
// integral/fraction fixed-point pair) per SPEC_FULL.md §D.
package wallet

import "fmt"

// Amount is a fixed-point quantity split into an integral part and a
// fractional part, following the encoding scheme of integral_encdec.cpp.
// FractionScale denominates Fraction (e.g. Fraction/FractionScale is the
// decimal remainder).
type Amount struct {
	Integral int64
	Fraction int64
}

// FractionScale is the fixed denominator for the Fraction field.
const FractionScale = 1_000_000_000

// Zero is the additive identity.
var Zero = Amount{}

func (a Amount) normalized() Amount {
	for a.Fraction >= FractionScale {
		a.Fraction -= FractionScale
		a.Integral++
	}
	for a.Fraction < 0 {
		a.Fraction += FractionScale
		a.Integral--
	}
	return a
}

// Add returns a+b.
func (a Amount) Add(b Amount) Amount {
	return Amount{Integral: a.Integral + b.Integral, Fraction: a.Fraction + b.Fraction}.normalized()
}

// Sub returns a-b, saturating at zero rather than going negative — amounts
// in this model never represent a debt.
func (a Amount) Sub(b Amount) Amount {
	r := Amount{Integral: a.Integral - b.Integral, Fraction: a.Fraction - b.Fraction}.normalized()
	if r.Integral < 0 {
		return Zero
	}
	return r
}

// GreaterOrEqual reports a >= b.
func (a Amount) GreaterOrEqual(b Amount) bool {
	an, bn := a.normalized(), b.normalized()
	if an.Integral != bn.Integral {
		return an.Integral > bn.Integral
	}
	return an.Fraction >= bn.Fraction
}

// IsZero reports whether the amount is exactly zero.
func (a Amount) IsZero() bool {
	n := a.normalized()
	return n.Integral == 0 && n.Fraction == 0
}

// String renders the amount as "integral.fraction".
func (a Amount) String() string {
	n := a.normalized()
	return fmt.Sprintf("%d.%09d", n.Integral, n.Fraction)
}
