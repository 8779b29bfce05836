package transactions

import (
	"context"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"gitlab.com/arcanecrypto/lnbank/db"
	"gitlab.com/arcanecrypto/lnbank/lightmoney"
	"gitlab.com/arcanecrypto/lnbank/ln"
	"gitlab.com/arcanecrypto/lnbank/lnurl"
	"gitlab.com/arcanecrypto/lnbank/models/wallets"
	"gitlab.com/arcanecrypto/lnbank/models/withdrawconfigs"
)

const (
	// SendTimeout bounds how long an external payment may block the
	// request. Hitting it does NOT mean the payment failed, only that the
	// outcome is unknown and the watcher has to resolve it.
	SendTimeout = 20 * time.Second
	// DefaultInvoiceExpirySeconds is used when a receive does not specify
	// an expiry
	DefaultInvoiceExpirySeconds int64 = 3600
	nodeRequestTimeout                = 10 * time.Second
)

var (
	// ErrBalanceTooLow means the wallet cannot cover the amount plus the
	// routing fee reserve
	ErrBalanceTooLow = errors.New("balance is too low")
	// ErrPolicyExceeded means the withdraw config does not allow the spend
	ErrPolicyExceeded = errors.New("withdraw config limit exceeded")
	// ErrExpiredPaymentRequest means the payment request is past its expiry
	ErrExpiredPaymentRequest = errors.New("payment request is expired")
	// ErrAmountRequired means a zero-amount invoice was sent without an
	// explicit amount
	ErrAmountRequired = errors.New("amount required for zero-amount payment request")
	// ErrSelfPayment means a wallet tried to pay its own invoice
	ErrSelfPayment = errors.New("cannot pay an invoice issued by the same wallet")
	// ErrPaymentIndeterminate means an external payment neither succeeded
	// nor definitively failed before the timeout. The reservation stays
	// pending until the watcher resolves it.
	ErrPaymentIndeterminate = errors.New("payment outcome unknown, left pending")
)

// TopUp credits a wallet without any Lightning leg, recording an immediately
// settled internal transaction.
func TopUp(d *db.DB, walletID int, amount lightmoney.Amount, description string) (Transaction, error) {
	if amount <= 0 {
		return Transaction{}, errors.New("top-up amount must be positive")
	}

	now := time.Now().UTC()
	settled := amount
	topUp := Transaction{
		WalletID:       walletID,
		PaymentRequest: InternalSentinel,
		Description:    description,
		Amount:         amount,
		AmountSettled:  &settled,
		ExpiresAt:      now,
		PaidAt:         &now,
	}

	inserted, err := insert(d, topUp)
	if err != nil {
		return Transaction{}, err
	}

	log.WithFields(logrus.Fields{
		"walletId": walletID,
		"amount":   amount.String(),
	}).Info("Topped up wallet")

	return inserted, nil
}

// ReceiveOpts are the parameters for creating an invoice into a wallet.
type ReceiveOpts struct {
	WalletID int
	Amount   lightmoney.Amount
	// ExpirySeconds defaults to DefaultInvoiceExpirySeconds when zero
	ExpirySeconds int64
	Description   string
	// PrivateRouteHints overrides the wallet default when set
	PrivateRouteHints *bool
}

// Receive asks the node for a new invoice and records it as an unpaid
// transaction. Settlement arrives later through the watcher.
func Receive(d *db.DB, node ln.NodeClient, opts ReceiveOpts) (Transaction, error) {
	if opts.Amount < 0 {
		return Transaction{}, errors.New("receive amount cannot be negative")
	}

	wallet, err := wallets.GetByID(d, opts.WalletID, wallets.ExcludeDeleted)
	if err != nil {
		return Transaction{}, err
	}

	private := wallet.PrivateRouteHintsByDefault
	if opts.PrivateRouteHints != nil {
		private = *opts.PrivateRouteHints
	}
	expiry := opts.ExpirySeconds
	if expiry == 0 {
		expiry = DefaultInvoiceExpirySeconds
	}

	ctx, cancel := context.WithTimeout(context.Background(), nodeRequestTimeout)
	defer cancel()

	invoice, err := node.CreateInvoice(ctx, ln.CreateInvoiceOpts{
		Amount:            opts.Amount,
		Expiry:            expiry,
		Memo:              opts.Description,
		PrivateRouteHints: private,
	})
	if err != nil {
		return Transaction{}, errors.Wrap(err, "could not create invoice")
	}

	credit := Transaction{
		WalletID:       wallet.ID,
		InvoiceID:      &invoice.ID,
		PaymentRequest: invoice.PaymentRequest,
		PaymentHash:    &invoice.PaymentHash,
		Description:    opts.Description,
		Amount:         opts.Amount,
		ExpiresAt:      invoice.ExpiresAt,
	}

	inserted, err := insert(d, credit)
	if err != nil {
		return Transaction{}, err
	}

	log.WithFields(logrus.Fields{
		"walletId": wallet.ID,
		"hash":     invoice.PaymentHash,
		"amount":   opts.Amount.String(),
	}).Info("Created invoice")

	return inserted, nil
}

// SendOpts are the parameters for spending from a wallet.
type SendOpts struct {
	WalletID int
	// Destination is a BOLT11 payment request, an LNURL, or a lightning
	// address, optionally with a lightning: prefix
	Destination string
	// Amount is required for zero-amount invoices and LNURL-pay
	// destinations, ignored when the invoice carries its own amount
	Amount  lightmoney.Amount
	Comment string
	// WithdrawConfig, when set, subjects the send to its spend policy and
	// charges the config's wallet
	WithdrawConfig *withdrawconfigs.Config
	Network        *chaincfg.Params
}

// Send spends from a wallet: it resolves the destination to a payment
// request, enforces balance and policy limits, and settles internally when
// the invoice was issued by this ledger or pays through the node otherwise.
func Send(d *db.DB, node ln.NodeClient, lnurlClient *lnurl.Client,
	opts SendOpts) (Transaction, error) {

	walletID := opts.WalletID
	var configID *int
	if opts.WithdrawConfig != nil {
		walletID = opts.WithdrawConfig.WalletID
		configID = &opts.WithdrawConfig.ID

		// the config lock is held across evaluate-and-spend so two
		// concurrent withdraws cannot approve against the same remainder
		unlock := withdrawconfigs.Lock(opts.WithdrawConfig.ID)
		defer unlock()
	}

	payReq, err := resolveDestination(lnurlClient, opts)
	if err != nil {
		return Transaction{}, err
	}
	if payReq.IsExpired() {
		return Transaction{}, ErrExpiredPaymentRequest
	}

	amount := payReq.Amount
	if amount == 0 {
		if opts.Amount <= 0 {
			return Transaction{}, ErrAmountRequired
		}
		amount = opts.Amount
	}

	balance, err := wallets.GetBalance(d, walletID)
	if err != nil {
		return Transaction{}, err
	}

	if opts.WithdrawConfig != nil {
		eval, err := withdrawconfigs.Evaluate(d, *opts.WithdrawConfig)
		if err != nil {
			return Transaction{}, err
		}
		if amount > eval.RemainingBalance {
			log.WithFields(logrus.Fields{
				"configId":  opts.WithdrawConfig.ID,
				"amount":    amount.String(),
				"remaining": eval.RemainingBalance.String(),
			}).Warn("Withdraw rejected by policy")
			return Transaction{}, ErrPolicyExceeded
		}
	}

	invoice, err := GetUnsettledInvoice(d, payReq.Encoded)
	switch errors.Cause(err) {
	case nil:
		if invoice.WalletID == walletID {
			return Transaction{}, ErrSelfPayment
		}
		if balance < amount {
			return Transaction{}, ErrBalanceTooLow
		}
		return settleInternal(d, walletID, configID, invoice, amount, payReq)
	case ErrNotFound:
		feeReserve := withdrawconfigs.FeeReserve(amount, balance)
		if balance < amount+feeReserve {
			return Transaction{}, ErrBalanceTooLow
		}
		return sendExternal(d, node, walletID, configID, payReq, amount, feeReserve)
	default:
		return Transaction{}, err
	}
}

// resolveDestination turns the destination string into a decoded BOLT11
// payment request, going through LNURL-pay when the destination is not a
// bare invoice.
func resolveDestination(lnurlClient *lnurl.Client, opts SendOpts) (ln.PaymentRequest, error) {
	dest := ln.TrimLightningPrefix(opts.Destination)

	payReq, parseErr := ln.ParsePaymentRequest(dest, opts.Network)
	if parseErr == nil {
		return payReq, nil
	}

	if lnurlClient == nil {
		return ln.PaymentRequest{}, parseErr
	}

	pay, withdraw, err := lnurlClient.Resolve(dest)
	if err != nil {
		return ln.PaymentRequest{}, errors.Wrapf(err,
			"destination is neither a payment request (%s) nor a resolvable LNURL", parseErr)
	}
	if withdraw != nil {
		return ln.PaymentRequest{}, errors.New("destination is an LNURL-withdraw, cannot send to it")
	}
	if opts.Amount <= 0 {
		return ln.PaymentRequest{}, ErrAmountRequired
	}

	bolt11, err := lnurlClient.GetBolt11(pay, opts.Amount, opts.Comment)
	if err != nil {
		return ln.PaymentRequest{}, err
	}

	return ln.ParsePaymentRequest(bolt11, opts.Network)
}

// settleInternal settles a payment between two wallets of this ledger in one
// database transaction: the debit insert and the credit settlement either
// both commit or both roll back, so money is conserved exactly.
func settleInternal(d *db.DB, walletID int, configID *int, invoice Transaction,
	amount lightmoney.Amount, payReq ln.PaymentRequest) (Transaction, error) {

	now := time.Now().UTC()
	debited := amount.Neg()
	debit := Transaction{
		WalletID:         walletID,
		WithdrawConfigID: configID,
		PaymentRequest:   invoice.PaymentRequest,
		PaymentHash:      invoice.PaymentHash,
		Description:      payReq.Description,
		Amount:           amount,
		AmountSettled:    &debited,
		ExpiresAt:        now,
		PaidAt:           &now,
	}

	tx := d.MustBegin()

	inserted, err := insert(tx, debit)
	if err != nil {
		_ = tx.Rollback()
		return Transaction{}, err
	}

	result, err := tx.Exec(`UPDATE transactions
		SET amount_msat = $1, amount_settled_msat = $1, paid_at = $2,
		    explicit_status = NULL, updated_at = now()
		WHERE id = $3 AND amount_settled_msat IS NULL`,
		amount, now, invoice.ID)
	if err != nil {
		_ = tx.Rollback()
		return Transaction{}, errors.Wrap(err, "could not settle invoice")
	}
	rows, err := result.RowsAffected()
	if err != nil {
		_ = tx.Rollback()
		return Transaction{}, errors.Wrap(err, "could not get affected rows")
	}
	if rows != 1 {
		_ = tx.Rollback()
		return Transaction{}, ErrAlreadySettled
	}

	if err := tx.Commit(); err != nil {
		return Transaction{}, errors.Wrap(err, "could not commit internal settlement")
	}

	wallets.InvalidateBalanceCache(walletID, invoice.WalletID)

	log.WithFields(logrus.Fields{
		"fromWallet": walletID,
		"toWallet":   invoice.WalletID,
		"amount":     amount.String(),
	}).Info("Settled internal payment")

	return inserted, nil
}

// sendExternal reserves the spend as a pending debit, pays through the node,
// and resolves the reservation from the outcome. A timeout leaves the
// reservation pending on purpose: the payment may still complete and the
// watcher will pick it up.
func sendExternal(d *db.DB, node ln.NodeClient, walletID int, configID *int,
	payReq ln.PaymentRequest, amount, feeReserve lightmoney.Amount) (Transaction, error) {

	now := time.Now().UTC()
	reservation := Transaction{
		WalletID:         walletID,
		WithdrawConfigID: configID,
		PaymentRequest:   payReq.Encoded,
		PaymentHash:      &payReq.PaymentHash,
		Description:      payReq.Description,
		Amount:           amount + feeReserve,
		ExpiresAt:        now,
	}

	reservation, err := insert(d, reservation)
	if err != nil {
		return Transaction{}, err
	}

	payLogger := log.WithFields(logrus.Fields{
		"transactionId": reservation.ID,
		"walletId":      walletID,
		"hash":          payReq.PaymentHash,
		"amount":        amount.String(),
	})

	var explicitAmount lightmoney.Amount
	if payReq.Amount == 0 {
		explicitAmount = amount
	}

	ctx, cancel := context.WithTimeout(context.Background(), SendTimeout)
	defer cancel()

	result, err := node.PayInvoice(ctx, payReq.Encoded, ln.PayInvoiceOpts{
		Amount:   explicitAmount,
		FeeLimit: feeReserve,
	})
	if err != nil {
		switch errors.Cause(err) {
		case ln.ErrNoRoute, ln.ErrPaymentFailed:
			// definitive failure, the reservation never left the node
			payLogger.WithError(err).Warn("External payment failed, removing reservation")
			if removeErr := Remove(d, reservation, true); removeErr != nil {
				payLogger.WithError(removeErr).Error("Could not remove failed reservation")
			}
			return Transaction{}, err
		default:
			payLogger.WithError(err).Warn("External payment outcome unknown, leaving reservation pending")
			return reservation, errors.Wrap(ErrPaymentIndeterminate, err.Error())
		}
	}

	actual := result.Total - result.Fee
	fee := result.Fee
	if !reservation.SetSettled(actual, actual.Neg(), &fee, time.Now(), result.Preimage) {
		return Transaction{}, ErrAlreadySettled
	}

	settled, err := persistSettlement(d, reservation)
	if err != nil {
		payLogger.WithError(err).Error("Could not persist external settlement")
		return Transaction{}, err
	}

	payLogger.WithFields(logrus.Fields{
		"fee":   result.Fee.String(),
		"total": result.Total.String(),
	}).Info("Settled external payment")

	return settled, nil
}
