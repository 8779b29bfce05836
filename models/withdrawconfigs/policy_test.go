package withdrawconfigs

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"gitlab.com/arcanecrypto/lnbank/lightmoney"
)

func int64Ptr(i int64) *int64 {
	return &i
}

func amountPtr(a lightmoney.Amount) *lightmoney.Amount {
	return &a
}

func spendAt(amount lightmoney.Amount, createdAt time.Time) Spend {
	return Spend{Amount: amount, CreatedAt: createdAt}
}

func TestReuseTypeWindows(t *testing.T) {
	t.Parallel()

	tests := []struct {
		reuse   ReuseType
		window  time.Duration
		limited bool
	}{
		{ReuseUnlimited, 0, false},
		{ReuseTotal, 0, false},
		{ReusePerDay, 24 * time.Hour, true},
		{ReusePerWeek, 7 * 24 * time.Hour, true},
		{ReusePerMonth, 30 * 24 * time.Hour, true},
	}

	for _, tt := range tests {
		window, limited := tt.reuse.Window()
		assert.Equal(t, tt.window, window, tt.reuse)
		assert.Equal(t, tt.limited, limited, tt.reuse)
	}

	assert.False(t, ReuseType("fortnightly").Valid())
}

func TestRemainingUsages(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	sats := lightmoney.FromSats

	t.Run("unlimited reuse has no count", func(t *testing.T) {
		t.Parallel()
		config := Config{ReuseType: ReuseUnlimited, UsageLimit: int64Ptr(3)}
		_, limited := RemainingUsages(config, nil, now)
		assert.False(t, limited)
	})

	t.Run("nil limit means uncounted", func(t *testing.T) {
		t.Parallel()
		config := Config{ReuseType: ReusePerDay}
		_, limited := RemainingUsages(config, nil, now)
		assert.False(t, limited)
	})

	t.Run("only spends inside the trailing window count", func(t *testing.T) {
		t.Parallel()
		config := Config{ReuseType: ReusePerDay, UsageLimit: int64Ptr(3)}
		spends := []Spend{
			spendAt(sats(10), now.Add(-time.Hour)),
			spendAt(sats(10), now.Add(-23*time.Hour)),
			// just outside the trailing 24 hours
			spendAt(sats(10), now.Add(-25*time.Hour)),
		}

		remaining, limited := RemainingUsages(config, spends, now)
		assert.True(t, limited)
		assert.Equal(t, int64(1), remaining)
	})

	t.Run("total counts everything ever", func(t *testing.T) {
		t.Parallel()
		config := Config{ReuseType: ReuseTotal, UsageLimit: int64Ptr(2)}
		spends := []Spend{
			spendAt(sats(10), now.Add(-365*24*time.Hour)),
			spendAt(sats(10), now.Add(-time.Minute)),
		}

		remaining, limited := RemainingUsages(config, spends, now)
		assert.True(t, limited)
		assert.Equal(t, int64(0), remaining)
	})

	t.Run("never goes negative", func(t *testing.T) {
		t.Parallel()
		config := Config{ReuseType: ReuseTotal, UsageLimit: int64Ptr(1)}
		spends := []Spend{
			spendAt(sats(10), now),
			spendAt(sats(10), now),
			spendAt(sats(10), now),
		}

		remaining, _ := RemainingUsages(config, spends, now)
		assert.Equal(t, int64(0), remaining)
	})
}

func TestRemainingBalance(t *testing.T) {
	t.Parallel()

	now := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	sats := lightmoney.FromSats

	t.Run("exhausted usage limit wins over everything", func(t *testing.T) {
		t.Parallel()
		config := Config{
			ReuseType:  ReusePerDay,
			UsageLimit: int64Ptr(3),
			MaxPerUse:  amountPtr(sats(1_000)),
		}
		spends := []Spend{
			spendAt(sats(1_000), now.Add(-time.Hour)),
			spendAt(sats(1_000), now.Add(-2*time.Hour)),
			spendAt(sats(1_000), now.Add(-3*time.Hour)),
		}

		assert.Equal(t, lightmoney.Zero,
			RemainingBalance(config, spends, sats(1_000_000), now))

		remaining, limited := RemainingUsages(config, spends, now)
		assert.True(t, limited)
		assert.Equal(t, int64(0), remaining)
	})

	t.Run("usage limit frees up as the window slides", func(t *testing.T) {
		t.Parallel()
		config := Config{
			ReuseType:  ReusePerDay,
			UsageLimit: int64Ptr(3),
			MaxPerUse:  amountPtr(sats(1_000)),
		}
		spends := []Spend{
			spendAt(sats(1_000), now.Add(-25*time.Hour)),
			spendAt(sats(1_000), now.Add(-2*time.Hour)),
			spendAt(sats(1_000), now.Add(-3*time.Hour)),
		}

		got := RemainingBalance(config, spends, sats(1_000_000), now)
		want := sats(1_000) - sats(1_000).BasisPoints(FeeReserveBasisPoints)
		assert.Equal(t, want, got)
	})

	t.Run("per use ceiling clamps the wallet balance", func(t *testing.T) {
		t.Parallel()
		config := Config{
			ReuseType: ReuseUnlimited,
			MaxPerUse: amountPtr(sats(500)),
		}

		got := RemainingBalance(config, nil, sats(1_000_000), now)
		want := sats(500) - sats(500).BasisPoints(FeeReserveBasisPoints)
		assert.Equal(t, want, got)
	})

	t.Run("max total minus spent in window", func(t *testing.T) {
		t.Parallel()
		config := Config{
			ReuseType: ReusePerWeek,
			MaxTotal:  amountPtr(sats(10_000)),
		}
		spends := []Spend{
			spendAt(sats(4_000), now.Add(-24*time.Hour)),
			// outside the trailing week
			spendAt(sats(4_000), now.Add(-8*24*time.Hour)),
		}

		got := RemainingBalance(config, spends, sats(1_000_000), now)
		want := sats(6_000) - sats(6_000).BasisPoints(FeeReserveBasisPoints)
		assert.Equal(t, want, got)
	})

	t.Run("overspent total clamps to zero", func(t *testing.T) {
		t.Parallel()
		config := Config{
			ReuseType: ReuseTotal,
			MaxTotal:  amountPtr(sats(1_000)),
		}
		spends := []Spend{spendAt(sats(2_000), now.Add(-time.Hour))}

		assert.Equal(t, lightmoney.Zero,
			RemainingBalance(config, spends, sats(1_000_000), now))
	})

	t.Run("dust sweep empties a small wallet exactly", func(t *testing.T) {
		t.Parallel()
		config := Config{ReuseType: ReuseUnlimited}

		// balance below the dust limit and no per-use ceiling, so the
		// reserve is waived and the wallet can be swept to zero
		assert.Equal(t, sats(5_000),
			RemainingBalance(config, nil, sats(5_000), now))
	})

	t.Run("no dust sweep at the limit", func(t *testing.T) {
		t.Parallel()
		config := Config{ReuseType: ReuseUnlimited}

		got := RemainingBalance(config, nil, sats(10_000), now)
		want := sats(10_000) - sats(10_000).BasisPoints(FeeReserveBasisPoints)
		assert.Equal(t, want, got)
	})

	t.Run("empty wallet yields zero", func(t *testing.T) {
		t.Parallel()
		config := Config{ReuseType: ReuseUnlimited}

		assert.Equal(t, lightmoney.Zero, RemainingBalance(config, nil, 0, now))
		assert.Equal(t, lightmoney.Zero, RemainingBalance(config, nil, sats(-5), now))
	})
}

func TestFeeReserve(t *testing.T) {
	t.Parallel()

	sats := lightmoney.FromSats

	tests := []struct {
		name          string
		amount        lightmoney.Amount
		walletBalance lightmoney.Amount
		want          lightmoney.Amount
	}{
		{"full sweep below dust limit", sats(9_999), sats(9_999), 0},
		{"full sweep at dust limit pays fee", sats(10_000), sats(10_000),
			sats(10_000).BasisPoints(FeeReserveBasisPoints)},
		{"partial spend of a small wallet pays fee", sats(5_000), sats(9_999),
			sats(5_000).BasisPoints(FeeReserveBasisPoints)},
		{"large spend", sats(100_000), sats(1_000_000),
			sats(100_000).BasisPoints(FeeReserveBasisPoints)},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, FeeReserve(tt.amount, tt.walletBalance))
		})
	}
}

func TestLockSerializesPerConfig(t *testing.T) {
	t.Parallel()

	const workers = 16
	var counter int
	var wg sync.WaitGroup

	wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer wg.Done()
			unlock := Lock(7)
			defer unlock()
			counter++
		}()
	}
	wg.Wait()

	assert.Equal(t, workers, counter)
}
