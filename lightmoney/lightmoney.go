// Package lightmoney provides an exact fixed-point amount type for Lightning
// money. Amounts are stored as millisatoshis in an int64, and all arithmetic
// on balance-affecting paths stays in integers.
package lightmoney

import (
	"fmt"
)

// Amount is a quantity of millisatoshis. Negative amounts denote debits.
type Amount int64

const (
	// MilliSatoshi is the smallest representable unit.
	MilliSatoshi Amount = 1
	// Satoshi is one thousand millisatoshis.
	Satoshi Amount = 1000

	// Zero is the zero amount.
	Zero Amount = 0
)

// FromSats converts whole satoshis to an Amount.
func FromSats(sats int64) Amount {
	return Amount(sats) * Satoshi
}

// FromMSats converts millisatoshis to an Amount.
func FromMSats(msats int64) Amount {
	return Amount(msats)
}

// MSats returns the amount in millisatoshis.
func (a Amount) MSats() int64 {
	return int64(a)
}

// Sats returns the amount in whole satoshis, truncating sub-satoshi parts
// towards zero.
func (a Amount) Sats() int64 {
	return int64(a / Satoshi)
}

// Abs returns the absolute value of the amount.
func (a Amount) Abs() Amount {
	if a < 0 {
		return -a
	}
	return a
}

// Neg returns the amount with its sign flipped.
func (a Amount) Neg() Amount {
	return -a
}

// BasisPoints computes bps/10000 of the amount, truncating towards zero.
// Used for fee reserves, e.g. 300 bps = 3%.
func (a Amount) BasisPoints(bps int64) Amount {
	return Amount(int64(a) * bps / 10000)
}

// Min returns the smaller of a and b.
func Min(a, b Amount) Amount {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a and b.
func Max(a, b Amount) Amount {
	if a > b {
		return a
	}
	return b
}

func (a Amount) String() string {
	return fmt.Sprintf("%d msat", int64(a))
}
