package wallets

import (
	"fmt"
	"time"

	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"

	"gitlab.com/arcanecrypto/lnbank/db"
	"gitlab.com/arcanecrypto/lnbank/lightmoney"
)

// Balance reads are hot (every send, every withdraw policy evaluation) while
// the underlying sums only change on ledger writes. Cached values live for
// five minutes and every ledger mutation invalidates its wallet explicitly,
// so the TTL is only a backstop.
const balanceCacheExpiry = 5 * time.Minute

var balanceCache = gocache.New(balanceCacheExpiry, 10*time.Minute)

const liabilitiesCacheKey = "liabilities"

func balanceCacheKey(walletID int) string {
	return fmt.Sprintf("balance_%d", walletID)
}

// GetBalance returns the wallet balance, served from cache when possible.
func GetBalance(d db.Getter, walletID int) (lightmoney.Amount, error) {
	if cached, found := balanceCache.Get(balanceCacheKey(walletID)); found {
		return cached.(lightmoney.Amount), nil
	}

	balance, err := CalculateBalance(d, walletID)
	if err != nil {
		return 0, err
	}

	balanceCache.SetDefault(balanceCacheKey(walletID), balance)
	return balance, nil
}

// CalculateBalance sums the wallet's settled transactions straight from the
// DB, bypassing the cache. Routing fees are part of what left the wallet, so
// debits count fees against the balance.
func CalculateBalance(d db.Getter, walletID int) (lightmoney.Amount, error) {
	query := `SELECT COALESCE(SUM(
			amount_settled_msat - CASE
				WHEN amount_settled_msat < 0 THEN COALESCE(routing_fee_msat, 0)
				ELSE 0
			END), 0)
		FROM transactions
		WHERE wallet_id = $1
		  AND amount_settled_msat IS NOT NULL
		  AND deleted_at IS NULL`

	var balance lightmoney.Amount
	if err := d.Get(&balance, query, walletID); err != nil {
		return 0, errors.Wrap(err, "could not calculate wallet balance")
	}

	return balance, nil
}

// GetLiabilitiesTotal returns the sum of all settled amounts across all live
// wallets. This is what the service owes its users, and should never exceed
// the node's off-chain balance.
func GetLiabilitiesTotal(d db.Getter) (lightmoney.Amount, error) {
	if cached, found := balanceCache.Get(liabilitiesCacheKey); found {
		return cached.(lightmoney.Amount), nil
	}

	query := `SELECT COALESCE(SUM(
			t.amount_settled_msat - CASE
				WHEN t.amount_settled_msat < 0 THEN COALESCE(t.routing_fee_msat, 0)
				ELSE 0
			END), 0)
		FROM transactions t
		JOIN wallets w ON w.id = t.wallet_id
		WHERE t.amount_settled_msat IS NOT NULL
		  AND t.deleted_at IS NULL
		  AND w.deleted_at IS NULL`

	var total lightmoney.Amount
	if err := d.Get(&total, query); err != nil {
		return 0, errors.Wrap(err, "could not calculate total liabilities")
	}

	balanceCache.SetDefault(liabilitiesCacheKey, total)
	return total, nil
}

// InvalidateBalanceCache drops the cached balances for the given wallets.
// Every write to the transactions table must call this for the wallets it
// touched.
func InvalidateBalanceCache(walletIDs ...int) {
	for _, id := range walletIDs {
		balanceCache.Delete(balanceCacheKey(id))
	}
	balanceCache.Delete(liabilitiesCacheKey)
}
