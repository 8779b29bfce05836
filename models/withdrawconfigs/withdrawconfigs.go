// Package withdrawconfigs holds withdraw configurations and the spend policy
// engine. A withdraw config is a named spend policy on a wallet, consumed by
// LNURL-withdraw requests and Bolt Cards.
package withdrawconfigs

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"gitlab.com/arcanecrypto/lnbank/build"
	"gitlab.com/arcanecrypto/lnbank/db"
	"gitlab.com/arcanecrypto/lnbank/lightmoney"
)

var log = build.AddSubLogger("WDRW")

var (
	// ErrNotFound means no withdraw config matched the query
	ErrNotFound = errors.New("withdraw config not found")
	// ErrBadReuseType means the reuse type string is not one of the known
	// values
	ErrBadReuseType = errors.New("invalid reuse type")
)

// ReuseType decides the time window spends and usages are counted over.
type ReuseType string

const (
	// ReuseUnlimited places no usage window or count on the config
	ReuseUnlimited ReuseType = "unlimited"
	// ReuseTotal counts all spends ever made against the config
	ReuseTotal ReuseType = "total"
	// ReusePerDay counts spends in the trailing 24 hours
	ReusePerDay ReuseType = "per_day"
	// ReusePerWeek counts spends in the trailing 7 days
	ReusePerWeek ReuseType = "per_week"
	// ReusePerMonth counts spends in the trailing 30 days
	ReusePerMonth ReuseType = "per_month"
)

// Window returns the trailing duration spends are counted over. The second
// return is false when every historical spend counts.
func (r ReuseType) Window() (time.Duration, bool) {
	switch r {
	case ReusePerDay:
		return 24 * time.Hour, true
	case ReusePerWeek:
		return 7 * 24 * time.Hour, true
	case ReusePerMonth:
		return 30 * 24 * time.Hour, true
	default:
		return 0, false
	}
}

// Valid reports whether the reuse type is one of the known values.
func (r ReuseType) Valid() bool {
	switch r {
	case ReuseUnlimited, ReuseTotal, ReusePerDay, ReusePerWeek, ReusePerMonth:
		return true
	}
	return false
}

// Config is the DB type for a withdraw configuration.
type Config struct {
	ID       int    `db:"id"`
	WalletID int    `db:"wallet_id"`
	Name     string `db:"name"`

	ReuseType ReuseType `db:"reuse_type"`
	// UsageLimit caps the number of spends in the reuse window. Nil means
	// no count limit.
	UsageLimit *int64 `db:"usage_limit"`
	// MaxPerUse caps a single spend
	MaxPerUse *lightmoney.Amount `db:"max_per_use_msat"`
	// MaxTotal caps the sum of spends in the reuse window
	MaxTotal *lightmoney.Amount `db:"max_total_msat"`

	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at"`
}

func (c Config) String() string {
	return fmt.Sprintf("WithdrawConfig: {ID: %d, WalletID: %d, Name: %s, ReuseType: %s}",
		c.ID, c.WalletID, c.Name, c.ReuseType)
}

const configColumns = `id, wallet_id, name, reuse_type, usage_limit,
	max_per_use_msat, max_total_msat, created_at, updated_at, deleted_at`

// Create persists a new withdraw config on the given wallet.
func Create(d *db.DB, config Config) (Config, error) {
	if config.Name == "" {
		return Config{}, errors.New("withdraw config name cannot be empty")
	}
	if !config.ReuseType.Valid() {
		return Config{}, errors.Wrapf(ErrBadReuseType, "%q", config.ReuseType)
	}

	query := `INSERT INTO withdraw_configs
		(wallet_id, name, reuse_type, usage_limit, max_per_use_msat, max_total_msat)
		VALUES (:wallet_id, :name, :reuse_type, :usage_limit, :max_per_use_msat, :max_total_msat)
		RETURNING ` + configColumns

	rows, err := d.NamedQuery(query, config)
	if err != nil {
		return Config{}, errors.Wrap(err, "could not insert withdraw config")
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		return Config{}, errors.New("no withdraw config returned from insert")
	}
	var inserted Config
	if err := rows.StructScan(&inserted); err != nil {
		return Config{}, errors.Wrap(err, "could not scan withdraw config")
	}

	log.WithField("config", inserted.String()).Info("Created withdraw config")

	return inserted, nil
}

// GetByID selects a single withdraw config, excluding soft-deleted rows.
func GetByID(d db.Getter, id int) (Config, error) {
	query := `SELECT ` + configColumns + ` FROM withdraw_configs
		WHERE id = $1 AND deleted_at IS NULL`

	var config Config
	if err := d.Get(&config, query, id); err != nil {
		if err == sql.ErrNoRows {
			return Config{}, ErrNotFound
		}
		return Config{}, errors.Wrap(err, "could not get withdraw config")
	}

	return config, nil
}

// GetByWalletID selects all live withdraw configs on a wallet.
func GetByWalletID(d db.Getter, walletID int) ([]Config, error) {
	query := `SELECT ` + configColumns + ` FROM withdraw_configs
		WHERE wallet_id = $1 AND deleted_at IS NULL
		ORDER BY created_at`

	configs := []Config{}
	if err := d.Select(&configs, query, walletID); err != nil {
		return nil, errors.Wrap(err, "could not get withdraw configs for wallet")
	}

	return configs, nil
}

// Remove soft-deletes a withdraw config. The bolt_cards row, if any, cascades
// only on hard delete, so an attached card simply stops authorizing.
func Remove(d *db.DB, id int) error {
	result, err := d.Exec(
		`UPDATE withdraw_configs SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`,
		id)
	if err != nil {
		return errors.Wrap(err, "could not soft-delete withdraw config")
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return errors.Wrap(err, "could not get affected rows")
	}
	if rows == 0 {
		return ErrNotFound
	}

	log.WithField("configId", id).Info("Removed withdraw config")

	return nil
}
