package transactions

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"gitlab.com/arcanecrypto/lnbank/db"
	"gitlab.com/arcanecrypto/lnbank/ln"
	"gitlab.com/arcanecrypto/lnbank/models/wallets"
)

// DefaultWatchInterval is how often the watcher reconciles open rows against
// the node.
const DefaultWatchInterval = 30 * time.Second

// StartWatcher reconciles open transactions against the node until the
// context is cancelled. Node errors never fail a transaction, the row is
// simply retried on the next cycle.
func StartWatcher(ctx context.Context, d *db.DB, node ln.NodeClient, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultWatchInterval
	}

	log.WithField("interval", interval).Info("Starting transaction watcher")

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Info("Transaction watcher shutting down")
			return
		case <-ticker.C:
			if err := ReconcileOnce(ctx, d, node); err != nil {
				log.WithError(err).Error("Reconciliation pass failed")
			}
			CheckLiabilities(ctx, d, node)
		}
	}
}

// ReconcileOnce runs a single reconciliation pass over all open rows.
func ReconcileOnce(ctx context.Context, d *db.DB, node ln.NodeClient) error {
	open, err := GetOpen(d)
	if err != nil {
		return err
	}

	for _, transaction := range open {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := reconcile(ctx, d, node, transaction); err != nil {
			// transient node errors are expected, keep the row for the
			// next cycle
			log.WithError(err).WithField("transactionId", transaction.ID).
				Debug("Could not reconcile transaction, will retry")
		}
	}

	return nil
}

func reconcile(ctx context.Context, d *db.DB, node ln.NodeClient, t Transaction) error {
	if t.PaymentHash == nil {
		// nothing to ask the node about, e.g. a top-up that lost its
		// settlement somehow
		return nil
	}

	if t.IsDebit() {
		return reconcilePayment(ctx, d, node, t)
	}
	return reconcileInvoice(ctx, d, node, t)
}

// reconcileInvoice resolves an open incoming invoice: settle it when the
// node reports it paid, expire it once it is past due.
func reconcileInvoice(ctx context.Context, d *db.DB, node ln.NodeClient, t Transaction) error {
	invoice, err := node.LookupInvoice(ctx, *t.PaymentHash)
	if err != nil {
		if errors.Cause(err) == ln.ErrInvoiceNotFound {
			// the node lost or never had this invoice, flag it rather
			// than guessing an outcome
			if t.QueueForRevalidation() {
				_, err = persistExplicitStatus(d, t)
				return err
			}
			return nil
		}
		return err
	}

	if invoice.Settled {
		paidAt := time.Now().UTC()
		if invoice.SettledAt != nil {
			paidAt = *invoice.SettledAt
		}
		if !t.SetSettled(invoice.AmountPaid, invoice.AmountPaid, nil, paidAt, invoice.Preimage) {
			return nil
		}
		settled, err := persistSettlement(d, t)
		if err != nil {
			return err
		}
		log.WithFields(logrus.Fields{
			"transactionId": settled.ID,
			"walletId":      settled.WalletID,
			"amount":        invoice.AmountPaid.String(),
		}).Info("Settled incoming invoice")
		return nil
	}

	if time.Now().UTC().After(invoice.ExpiresAt) {
		if t.SetExpired() {
			_, err = persistExplicitStatus(d, t)
			return err
		}
		return nil
	}

	// still open on the node side; drop a stale revalidation flag
	if t.ClearRevalidation() {
		_, err = persistExplicitStatus(d, t)
		return err
	}
	return nil
}

// reconcilePayment resolves an open outgoing reservation: settle it with the
// node's actual amounts once the payment shows up as completed. An unknown
// payment stays pending, it may still be in flight.
func reconcilePayment(ctx context.Context, d *db.DB, node ln.NodeClient, t Transaction) error {
	result, err := node.LookupPayment(ctx, *t.PaymentHash)
	if err != nil {
		if errors.Cause(err) == ln.ErrPaymentNotFound {
			return nil
		}
		return err
	}

	actual := result.Total - result.Fee
	fee := result.Fee
	if !t.SetSettled(actual, actual.Neg(), &fee, time.Now(), result.Preimage) {
		return nil
	}

	settled, err := persistSettlement(d, t)
	if err != nil {
		return err
	}

	log.WithFields(logrus.Fields{
		"transactionId": settled.ID,
		"walletId":      settled.WalletID,
		"amount":        actual.String(),
		"fee":           result.Fee.String(),
	}).Info("Settled pending outgoing payment")

	return nil
}

// CheckLiabilities compares what the ledger owes its users with what the
// node actually holds off-chain. This is an operator sanity check, it only
// logs.
func CheckLiabilities(ctx context.Context, d *db.DB, node ln.NodeClient) {
	liabilities, err := wallets.GetLiabilitiesTotal(d)
	if err != nil {
		log.WithError(err).Error("Could not compute liabilities total")
		return
	}

	nodeBalance, err := node.OffchainBalance(ctx)
	if err != nil {
		log.WithError(err).Debug("Could not get node balance for liabilities check")
		return
	}

	if liabilities > nodeBalance {
		log.WithFields(logrus.Fields{
			"liabilities": liabilities.String(),
			"nodeBalance": nodeBalance.String(),
		}).Warn("Ledger liabilities exceed node off-chain balance")
	}
}
