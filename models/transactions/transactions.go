// Package transactions holds the ledger: one row per invoice (incoming) or
// payment (outgoing), the status state machine that advances it, and the
// orchestrator that drives sends and receives against the external node.
package transactions

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"

	"gitlab.com/arcanecrypto/lnbank/build"
	"gitlab.com/arcanecrypto/lnbank/db"
	"gitlab.com/arcanecrypto/lnbank/lightmoney"
	"gitlab.com/arcanecrypto/lnbank/models/wallets"
)

var log = build.AddSubLogger("TRXN")

var (
	// ErrNotFound means no transaction matched the query
	ErrNotFound = errors.New("transaction not found")
	// ErrAlreadySettled means a settlement-mutating write raced with an
	// earlier settlement of the same row
	ErrAlreadySettled = errors.New("transaction is already settled")
)

// InternalSentinel is the payment_request value for rows that never touched
// the Lightning network, such as top-ups.
const InternalSentinel = "internal"

// Status is the derived lifecycle state of a transaction.
type Status string

const (
	StatusUnpaid       Status = "unpaid"
	StatusPending      Status = "pending"
	StatusPaid         Status = "paid"
	StatusSettled      Status = "settled"
	StatusExpired      Status = "expired"
	StatusCancelled    Status = "cancelled"
	StatusInvalid      Status = "invalid"
	StatusRevalidating Status = "revalidating"
)

// Transaction is the db type for a ledger entry. Financial fields are only
// written through the state machine methods below.
type Transaction struct {
	ID               int     `db:"id"`
	WalletID         int     `db:"wallet_id"`
	WithdrawConfigID *int    `db:"withdraw_config_id"`
	InvoiceID        *string `db:"invoice_id"`

	PaymentRequest string  `db:"payment_request"`
	PaymentHash    *string `db:"payment_hash"`
	Preimage       *string `db:"preimage"`
	Description    string  `db:"description"`

	// Amount is the requested amount. AmountSettled is signed: positive
	// for credits, negative for debits, nil until settlement.
	Amount        lightmoney.Amount  `db:"amount_msat"`
	AmountSettled *lightmoney.Amount `db:"amount_settled_msat"`
	RoutingFee    *lightmoney.Amount `db:"routing_fee_msat"`

	ExplicitStatus *Status `db:"explicit_status"`

	CreatedAt time.Time  `db:"created_at"`
	UpdatedAt time.Time  `db:"updated_at"`
	ExpiresAt time.Time  `db:"expires_at"`
	PaidAt    *time.Time `db:"paid_at"`
	DeletedAt *time.Time `db:"deleted_at"`
}

func (t Transaction) String() string {
	return fmt.Sprintf("Transaction: {ID: %d, WalletID: %d, Status: %s, Amount: %s}",
		t.ID, t.WalletID, t.Status(), t.Amount)
}

// Equal reports deep equality, ignoring the DB-managed timestamps.
func (t Transaction) Equal(other Transaction) (bool, string) {
	t.CreatedAt = other.CreatedAt
	t.UpdatedAt = other.UpdatedAt
	diff := cmp.Diff(t, other)
	return diff == "", diff
}

// Status derives the lifecycle state as of now.
func (t Transaction) Status() Status {
	return t.StatusAt(time.Now().UTC())
}

// StatusAt derives the lifecycle state at the given instant. The priority
// order is fixed: a settlement outranks a payment, which outranks any
// explicit tag, and an untagged row past its expiry counts as pending
// resolution rather than failed.
func (t Transaction) StatusAt(now time.Time) Status {
	switch {
	case t.AmountSettled != nil:
		return StatusSettled
	case t.PaidAt != nil:
		return StatusPaid
	case t.ExplicitStatus != nil:
		return *t.ExplicitStatus
	case !now.Before(t.ExpiresAt):
		return StatusPending
	default:
		return StatusUnpaid
	}
}

// IsDebit reports whether the row takes money out of its wallet.
func (t Transaction) IsDebit() bool {
	if t.AmountSettled != nil {
		return *t.AmountSettled < 0
	}
	return t.InvoiceID == nil && t.PaymentRequest != InternalSentinel
}

// SetSettled settles the transaction in memory. Returns false without
// touching any field if the transaction is already settled; the settlement
// fields are written exactly once.
func (t *Transaction) SetSettled(amount, amountSettled lightmoney.Amount,
	routingFee *lightmoney.Amount, paidAt time.Time, preimage string) bool {

	if t.AmountSettled != nil {
		return false
	}

	t.Amount = amount
	t.AmountSettled = &amountSettled
	t.RoutingFee = routingFee
	paidAtUTC := paidAt.UTC()
	t.PaidAt = &paidAtUTC
	if preimage != "" {
		t.Preimage = &preimage
	}
	t.ExplicitStatus = nil
	return true
}

// SetExpired tags the transaction as expired. No-op on settled rows and rows
// already in a terminal failure state.
func (t *Transaction) SetExpired() bool {
	return t.setFailure(StatusExpired)
}

// SetCancelled tags the transaction as cancelled.
func (t *Transaction) SetCancelled() bool {
	return t.setFailure(StatusCancelled)
}

// SetInvalid tags the transaction as invalid.
func (t *Transaction) SetInvalid() bool {
	return t.setFailure(StatusInvalid)
}

func (t *Transaction) setFailure(status Status) bool {
	if t.AmountSettled != nil {
		return false
	}
	if t.ExplicitStatus != nil && *t.ExplicitStatus != StatusRevalidating {
		return false
	}
	t.ExplicitStatus = &status
	return true
}

// QueueForRevalidation flags the transaction for a re-check by the watcher.
// Allowed from any unsettled state, including terminal failures.
func (t *Transaction) QueueForRevalidation() bool {
	if t.AmountSettled != nil {
		return false
	}
	if t.ExplicitStatus != nil && *t.ExplicitStatus == StatusRevalidating {
		return false
	}
	revalidating := StatusRevalidating
	t.ExplicitStatus = &revalidating
	return true
}

// ClearRevalidation drops the revalidating tag, returning the row to its
// derived pending/unpaid state.
func (t *Transaction) ClearRevalidation() bool {
	if t.ExplicitStatus == nil || *t.ExplicitStatus != StatusRevalidating {
		return false
	}
	t.ExplicitStatus = nil
	return true
}

const txColumns = `id, wallet_id, withdraw_config_id, invoice_id, payment_request,
	payment_hash, preimage, description, amount_msat, amount_settled_msat,
	routing_fee_msat, explicit_status, created_at, updated_at, expires_at,
	paid_at, deleted_at`

const txReturningSql = ` RETURNING ` + txColumns

func insert(d db.Inserter, t Transaction) (Transaction, error) {
	query := `INSERT INTO transactions
		(wallet_id, withdraw_config_id, invoice_id, payment_request, payment_hash,
		 preimage, description, amount_msat, amount_settled_msat, routing_fee_msat,
		 explicit_status, expires_at, paid_at)
		VALUES
		(:wallet_id, :withdraw_config_id, :invoice_id, :payment_request, :payment_hash,
		 :preimage, :description, :amount_msat, :amount_settled_msat, :routing_fee_msat,
		 :explicit_status, :expires_at, :paid_at)` + txReturningSql

	rows, err := d.NamedQuery(query, t)
	if err != nil {
		return Transaction{}, errors.Wrap(err, "could not insert transaction")
	}
	defer func() {
		if err := rows.Close(); err != nil {
			log.WithError(err).Error("could not close rows")
		}
	}()

	if !rows.Next() {
		return Transaction{}, errors.New("no transaction returned from insert")
	}
	var inserted Transaction
	if err := rows.StructScan(&inserted); err != nil {
		return Transaction{}, errors.Wrap(err, "could not scan inserted transaction")
	}

	wallets.InvalidateBalanceCache(inserted.WalletID)

	return inserted, nil
}

// GetByID selects a single transaction scoped to a wallet.
func GetByID(d db.Getter, id, walletID int, include wallets.Include) (Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions
		WHERE id = $1 AND wallet_id = $2`
	if include == wallets.ExcludeDeleted {
		query += ` AND deleted_at IS NULL`
	}

	var transaction Transaction
	if err := d.Get(&transaction, query, id, walletID); err != nil {
		if err == sql.ErrNoRows {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, errors.Wrap(err, "could not get transaction")
	}

	return transaction, nil
}

// GetByWalletID selects all transactions of a wallet, newest first.
func GetByWalletID(d db.Getter, walletID int, include wallets.Include) ([]Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions
		WHERE wallet_id = $1`
	if include == wallets.ExcludeDeleted {
		query += ` AND deleted_at IS NULL`
	}
	query += ` ORDER BY created_at DESC`

	transactions := []Transaction{}
	if err := d.Select(&transactions, query, walletID); err != nil {
		return nil, errors.Wrap(err, "could not get transactions for wallet")
	}

	return transactions, nil
}

// GetUnsettledInvoice finds the unsettled invoice row this ledger issued for
// the given payment request. Used to detect internal payments.
func GetUnsettledInvoice(d db.Getter, paymentRequest string) (Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions
		WHERE payment_request = $1
		  AND invoice_id IS NOT NULL
		  AND amount_settled_msat IS NULL
		  AND deleted_at IS NULL`

	var transaction Transaction
	if err := d.Get(&transaction, query, paymentRequest); err != nil {
		if err == sql.ErrNoRows {
			return Transaction{}, ErrNotFound
		}
		return Transaction{}, errors.Wrap(err, "could not get invoice by payment request")
	}

	return transaction, nil
}

// GetOpen lists the rows the watcher still has to resolve: unsettled, not
// soft-deleted, and either untagged or queued for revalidation.
func GetOpen(d db.Getter) ([]Transaction, error) {
	query := `SELECT ` + txColumns + ` FROM transactions
		WHERE amount_settled_msat IS NULL
		  AND deleted_at IS NULL
		  AND (explicit_status IS NULL OR explicit_status = $1)
		ORDER BY created_at`

	transactions := []Transaction{}
	if err := d.Select(&transactions, query, StatusRevalidating); err != nil {
		return nil, errors.Wrap(err, "could not get open transactions")
	}

	return transactions, nil
}

// persistSettlement writes the settlement fields of an in-memory settled
// transaction, guarded so a row can only ever be settled once.
func persistSettlement(d *db.DB, t Transaction) (Transaction, error) {
	if t.AmountSettled == nil {
		return Transaction{}, errors.New("transaction is not settled")
	}

	query := `UPDATE transactions
		SET amount_msat = $1, amount_settled_msat = $2, routing_fee_msat = $3,
		    preimage = $4, paid_at = $5, explicit_status = NULL, updated_at = now()
		WHERE id = $6 AND amount_settled_msat IS NULL` + txReturningSql

	var updated Transaction
	err := d.Get(&updated, query, t.Amount, t.AmountSettled, t.RoutingFee,
		t.Preimage, t.PaidAt, t.ID)
	if err != nil {
		if err == sql.ErrNoRows {
			return Transaction{}, ErrAlreadySettled
		}
		return Transaction{}, errors.Wrap(err, "could not persist settlement")
	}

	wallets.InvalidateBalanceCache(updated.WalletID)

	return updated, nil
}

// persistExplicitStatus writes the explicit status tag of an unsettled row.
func persistExplicitStatus(d *db.DB, t Transaction) (Transaction, error) {
	query := `UPDATE transactions
		SET explicit_status = $1, updated_at = now()
		WHERE id = $2 AND amount_settled_msat IS NULL` + txReturningSql

	var updated Transaction
	if err := d.Get(&updated, query, t.ExplicitStatus, t.ID); err != nil {
		if err == sql.ErrNoRows {
			return Transaction{}, ErrAlreadySettled
		}
		return Transaction{}, errors.Wrap(err, "could not persist status")
	}

	return updated, nil
}

// Remove soft-deletes a transaction, or hard-deletes it with forceDelete.
// Either way the row stops counting towards balances.
func Remove(d *db.DB, t Transaction, forceDelete bool) error {
	var err error
	if forceDelete {
		_, err = d.Exec(`DELETE FROM transactions WHERE id = $1`, t.ID)
	} else {
		_, err = d.Exec(
			`UPDATE transactions SET deleted_at = now() WHERE id = $1 AND deleted_at IS NULL`,
			t.ID)
	}
	if err != nil {
		return errors.Wrap(err, "could not remove transaction")
	}

	wallets.InvalidateBalanceCache(t.WalletID)
	log.WithField("transactionId", t.ID).Info("Removed transaction")

	return nil
}
