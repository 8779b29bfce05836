package lightmoney_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"gitlab.com/arcanecrypto/lnbank/lightmoney"
)

func TestConversions(t *testing.T) {
	t.Parallel()

	assert.Equal(t, int64(21000), lightmoney.FromSats(21).MSats())
	assert.Equal(t, int64(21), lightmoney.FromSats(21).Sats())
	assert.Equal(t, int64(1234), lightmoney.FromMSats(1234).MSats())

	// sub-satoshi parts truncate towards zero
	assert.Equal(t, int64(1), lightmoney.FromMSats(1999).Sats())
	assert.Equal(t, int64(-1), lightmoney.FromMSats(-1999).Sats())
}

func TestAbsNeg(t *testing.T) {
	t.Parallel()

	amount := lightmoney.FromSats(42)
	assert.Equal(t, amount, amount.Abs())
	assert.Equal(t, amount, amount.Neg().Abs())
	assert.Equal(t, amount.MSats(), -amount.Neg().MSats())
	assert.Equal(t, lightmoney.Zero, lightmoney.Zero.Neg())
}

func TestBasisPoints(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		amount lightmoney.Amount
		bps    int64
		want   lightmoney.Amount
	}{
		{"3% of 10000 sats", lightmoney.FromSats(10_000), 300, lightmoney.FromSats(300)},
		{"3% of 9999 sats", lightmoney.FromSats(9_999), 300, lightmoney.FromMSats(299_970)},
		{"3% of 1 msat truncates to zero", lightmoney.FromMSats(1), 300, lightmoney.Zero},
		{"zero bps", lightmoney.FromSats(500), 0, lightmoney.Zero},
		{"100%", lightmoney.FromSats(500), 10_000, lightmoney.FromSats(500)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, tt.amount.BasisPoints(tt.bps))
		})
	}
}

func TestMinMax(t *testing.T) {
	t.Parallel()

	small := lightmoney.FromSats(1)
	big := lightmoney.FromSats(2)

	assert.Equal(t, small, lightmoney.Min(small, big))
	assert.Equal(t, small, lightmoney.Min(big, small))
	assert.Equal(t, big, lightmoney.Max(small, big))
	assert.Equal(t, big, lightmoney.Max(big, small))
}

func TestString(t *testing.T) {
	t.Parallel()

	assert.Equal(t, "1000 msat", lightmoney.FromSats(1).String())
	assert.Equal(t, "-21 msat", lightmoney.FromMSats(-21).String())
}
