// Package wallets holds the wallet model and its accounting. A wallet is an
// internal partition of the node balance; its balance is always derived from
// settled transactions and never stored.
package wallets

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/pkg/errors"

	"gitlab.com/arcanecrypto/lnbank/build"
	"gitlab.com/arcanecrypto/lnbank/db"
)

var log = build.AddSubLogger("WLLT")

var (
	// ErrNotFound means no wallet matched the query
	ErrNotFound = errors.New("wallet not found")
	// ErrNotEmpty means a force-delete was attempted on a wallet that
	// still carries a balance
	ErrNotEmpty = errors.New("wallet still has a balance")
)

// Include controls soft-delete visibility on read paths. Soft-deleted rows
// are excluded unless a caller with admin access asks for them explicitly.
type Include int

const (
	// ExcludeDeleted hides soft-deleted rows, the default for all reads
	ExcludeDeleted Include = iota
	// IncludeDeleted also returns soft-deleted rows
	IncludeDeleted
)

func (i Include) whereNotDeleted(column string) string {
	if i == IncludeDeleted {
		return "TRUE"
	}
	return column + " IS NULL"
}

// Wallet is the DB type for a wallet.
type Wallet struct {
	ID     int    `db:"id"`
	UserID string `db:"user_id"`
	Name   string `db:"name"`
	// PrivateRouteHintsByDefault makes Receive include private channel
	// hints unless the caller overrides it
	PrivateRouteHintsByDefault bool    `db:"private_route_hints_by_default"`
	LightningAddressIdentifier *string `db:"lightning_address_identifier"`

	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
	DeletedAt *time.Time `db:"deleted_at"`
}

func (w Wallet) String() string {
	return fmt.Sprintf("Wallet: {ID: %d, UserID: %s, Name: %s}", w.ID, w.UserID, w.Name)
}

const walletColumns = `id, user_id, name, private_route_hints_by_default,
	lightning_address_identifier, created_at, updated_at, deleted_at`

// Create persists a new wallet for the given user.
func Create(d *db.DB, userID, name string, privateRouteHints bool) (Wallet, error) {
	if name == "" {
		return Wallet{}, errors.New("wallet name cannot be empty")
	}

	query := `INSERT INTO wallets (user_id, name, private_route_hints_by_default)
		VALUES ($1, $2, $3)
		RETURNING ` + walletColumns

	var wallet Wallet
	if err := d.Get(&wallet, query, userID, name, privateRouteHints); err != nil {
		return Wallet{}, errors.Wrap(err, "could not insert wallet")
	}

	log.WithField("wallet", wallet.String()).Info("Created wallet")

	return wallet, nil
}

// GetByID selects a single wallet by its ID.
func GetByID(d db.Getter, id int, include Include) (Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets
		WHERE id = $1 AND ` + include.whereNotDeleted("deleted_at")

	var wallet Wallet
	if err := d.Get(&wallet, query, id); err != nil {
		if err == sql.ErrNoRows {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, errors.Wrap(err, "could not get wallet")
	}

	return wallet, nil
}

// GetByUserID selects all wallets owned by the given user.
func GetByUserID(d db.Getter, userID string, include Include) ([]Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets
		WHERE user_id = $1 AND ` + include.whereNotDeleted("deleted_at") + `
		ORDER BY created_at`

	wallets := []Wallet{}
	if err := d.Select(&wallets, query, userID); err != nil {
		return nil, errors.Wrap(err, "could not get wallets for user")
	}

	return wallets, nil
}

// GetByLightningAddressIdentifier finds the wallet behind a lightning
// address alias.
func GetByLightningAddressIdentifier(d db.Getter, identifier string) (Wallet, error) {
	query := `SELECT ` + walletColumns + ` FROM wallets
		WHERE lightning_address_identifier = $1 AND deleted_at IS NULL`

	var wallet Wallet
	if err := d.Get(&wallet, query, identifier); err != nil {
		if err == sql.ErrNoRows {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, errors.Wrap(err, "could not get wallet by address identifier")
	}

	return wallet, nil
}

// UpdateDetails updates the mutable wallet fields.
func UpdateDetails(d *db.DB, wallet Wallet) (Wallet, error) {
	query := `UPDATE wallets
		SET name = $1, private_route_hints_by_default = $2,
		    lightning_address_identifier = $3, updated_at = now()
		WHERE id = $4 AND deleted_at IS NULL
		RETURNING ` + walletColumns

	var updated Wallet
	err := d.Get(&updated, query, wallet.Name, wallet.PrivateRouteHintsByDefault,
		wallet.LightningAddressIdentifier, wallet.ID)
	if err != nil {
		if err == sql.ErrNoRows {
			return Wallet{}, ErrNotFound
		}
		return Wallet{}, errors.Wrap(err, "could not update wallet")
	}

	return updated, nil
}

// Remove soft-deletes a wallet. With forceDelete set the row is removed for
// good, which is only allowed for empty wallets.
func Remove(d *db.DB, wallet Wallet, forceDelete bool) error {
	if forceDelete {
		balance, err := CalculateBalance(d, wallet.ID)
		if err != nil {
			return err
		}
		if balance != 0 {
			return ErrNotEmpty
		}
		if _, err := d.Exec(`DELETE FROM wallets WHERE id = $1`, wallet.ID); err != nil {
			return errors.Wrap(err, "could not delete wallet")
		}
	} else {
		if _, err := d.Exec(
			`UPDATE wallets SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`,
			wallet.ID); err != nil {
			return errors.Wrap(err, "could not soft-delete wallet")
		}
	}

	InvalidateBalanceCache(wallet.ID)
	log.WithField("walletId", wallet.ID).Info("Removed wallet")

	return nil
}
