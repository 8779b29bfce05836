package withdrawconfigs

import (
	"sync"
	"time"

	"github.com/pkg/errors"

	"gitlab.com/arcanecrypto/lnbank/db"
	"gitlab.com/arcanecrypto/lnbank/lightmoney"
	"gitlab.com/arcanecrypto/lnbank/models/wallets"
)

const (
	// FeeReserveBasisPoints is the share of a spend held back for routing
	// fees, 300 bps = 3%
	FeeReserveBasisPoints = 300
	// DustSweepLimit is the balance below which a full-wallet spend skips
	// the fee reserve, so small wallets can be emptied exactly
	DustSweepLimit = 10_000 * lightmoney.Satoshi
)

// Spend is one transaction counted against a withdraw config: a settled
// withdraw or a still-pending reservation. Failed spends are filtered out
// before they reach the policy functions.
type Spend struct {
	Amount    lightmoney.Amount `db:"amount_msat"`
	CreatedAt time.Time         `db:"created_at"`
}

// GetSpends loads the spends counted against a config: settled rows plus
// pending reservations, excluding soft-deleted rows and rows tagged as
// failed.
func GetSpends(d db.Getter, configID int) ([]Spend, error) {
	query := `SELECT COALESCE(ABS(amount_settled_msat), amount_msat) AS amount_msat, created_at
		FROM transactions
		WHERE withdraw_config_id = $1
		  AND deleted_at IS NULL
		  AND (amount_settled_msat IS NOT NULL OR explicit_status IS NULL)`

	spends := []Spend{}
	if err := d.Select(&spends, query, configID); err != nil {
		return nil, errors.Wrap(err, "could not get spends for withdraw config")
	}

	return spends, nil
}

func (c Config) inWindow(spend Spend, now time.Time) bool {
	window, limited := c.ReuseType.Window()
	if !limited {
		return true
	}
	return spend.CreatedAt.After(now.Add(-window))
}

// RemainingUsages returns how many more spends the config allows in its
// current window. The second return is false when the config places no count
// limit, in which case the count is meaningless.
func RemainingUsages(c Config, spends []Spend, now time.Time) (int64, bool) {
	if c.ReuseType == ReuseUnlimited || c.UsageLimit == nil {
		return 0, false
	}

	var used int64
	for _, spend := range spends {
		if c.inWindow(spend, now) {
			used++
		}
	}

	remaining := *c.UsageLimit - used
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// SpentInWindow sums the spends counted in the config's current window.
func SpentInWindow(c Config, spends []Spend, now time.Time) lightmoney.Amount {
	var total lightmoney.Amount
	for _, spend := range spends {
		if c.inWindow(spend, now) {
			total += spend.Amount.Abs()
		}
	}
	return total
}

// RemainingBalance computes what a single use of the config may spend right
// now. The order is deliberately the defensive one: exhausted usage limit
// short-circuits to zero, then the per-use and total ceilings clamp the
// wallet balance, then the fee reserve comes off, and the result can never
// exceed the wallet balance.
func RemainingBalance(c Config, spends []Spend, walletBalance lightmoney.Amount,
	now time.Time) lightmoney.Amount {

	if walletBalance <= 0 {
		return 0
	}
	if remaining, limited := RemainingUsages(c, spends, now); limited && remaining == 0 {
		return 0
	}

	limit := walletBalance
	if c.MaxPerUse != nil {
		limit = lightmoney.Min(limit, *c.MaxPerUse)
	}
	if c.MaxTotal != nil {
		remainingTotal := *c.MaxTotal - SpentInWindow(c, spends, now)
		if remainingTotal < 0 {
			remainingTotal = 0
		}
		limit = lightmoney.Min(limit, remainingTotal)
	}

	limit -= FeeReserve(limit, walletBalance)

	return lightmoney.Min(limit, walletBalance)
}

// FeeReserve returns the routing-fee reserve to hold back from a spend of
// the given amount. Sweeping the full balance of a wallet below the dust
// limit reserves nothing, so such wallets can be emptied to zero.
func FeeReserve(amount, walletBalance lightmoney.Amount) lightmoney.Amount {
	if amount == walletBalance && walletBalance < DustSweepLimit {
		return 0
	}
	return amount.BasisPoints(FeeReserveBasisPoints)
}

// configLocks serializes policy evaluation per config id. Mutexes are
// created lazily on first use and never removed; the arena only grows with
// the number of live configs.
var configLocks sync.Map

// Lock acquires the config's evaluation mutex and returns the release
// function. Callers hold it across the evaluate-then-spend sequence so two
// concurrent requests cannot both approve against the same stale remainder.
func Lock(configID int) func() {
	mu, _ := configLocks.LoadOrStore(configID, &sync.Mutex{})
	lock := mu.(*sync.Mutex)
	lock.Lock()
	return lock.Unlock
}

// Evaluation is a point-in-time view of what a config still allows.
type Evaluation struct {
	Config           Config
	WalletBalance    lightmoney.Amount
	RemainingBalance lightmoney.Amount
	// RemainingUsages is only meaningful when UsageLimited is true
	RemainingUsages int64
	UsageLimited    bool
}

// Evaluate computes the current remaining balance and usages for a config.
// The caller is expected to hold the config's Lock when the result drives a
// spend decision.
func Evaluate(d db.Getter, config Config) (Evaluation, error) {
	balance, err := wallets.GetBalance(d, config.WalletID)
	if err != nil {
		return Evaluation{}, err
	}

	spends, err := GetSpends(d, config.ID)
	if err != nil {
		return Evaluation{}, err
	}

	now := time.Now().UTC()
	remaining, limited := RemainingUsages(config, spends, now)

	return Evaluation{
		Config:           config,
		WalletBalance:    balance,
		RemainingBalance: RemainingBalance(config, spends, balance, now),
		RemainingUsages:  remaining,
		UsageLimited:     limited,
	}, nil
}
