package ln

import (
	"context"
	"encoding/hex"
	"strings"
	"time"

	"github.com/lightningnetwork/lnd/lnrpc"
	"github.com/pkg/errors"

	"gitlab.com/arcanecrypto/lnbank/lightmoney"
)

var (
	// ErrNoRoute means the node could not find a route to the destination.
	// This is a definitive failure, the payment did not leave the node.
	ErrNoRoute = errors.New("no route to destination")
	// ErrPaymentFailed means the node reported a definitive, generic
	// payment failure.
	ErrPaymentFailed = errors.New("payment failed")
	// ErrInvoiceNotFound means the node has no record of the given hash.
	ErrInvoiceNotFound = errors.New("invoice not found")
	// ErrPaymentNotFound means the node has no settled payment with the
	// given hash. The payment may still be in flight.
	ErrPaymentNotFound = errors.New("payment not found")
)

// Invoice is the node's view of an incoming payment request.
type Invoice struct {
	ID             string
	PaymentRequest string
	PaymentHash    string
	Amount         lightmoney.Amount
	ExpiresAt      time.Time
	Settled        bool
	SettledAt      *time.Time
	// Preimage is only set once the invoice is settled
	Preimage string
	// AmountPaid is the actual settled amount, which can exceed Amount
	AmountPaid lightmoney.Amount
}

// PaymentResult is the node's report of a completed outgoing payment.
type PaymentResult struct {
	// Total is the full amount that left the node, fee included
	Total    lightmoney.Amount
	Fee      lightmoney.Amount
	Preimage string
}

// CreateInvoiceOpts are the parameters for a new invoice.
type CreateInvoiceOpts struct {
	Amount lightmoney.Amount
	// Expiry is the invoice expiry in seconds
	Expiry            int64
	Memo              string
	PrivateRouteHints bool
}

// PayInvoiceOpts are the parameters for paying an invoice.
type PayInvoiceOpts struct {
	// Amount must be set for zero-amount invoices and left zero otherwise
	Amount lightmoney.Amount
	// FeeLimit is the maximum routing fee the node may spend
	FeeLimit lightmoney.Amount
}

// NodeClient is the part of the external Lightning node this ledger consumes.
// Implementations must return ErrNoRoute/ErrPaymentFailed for definitive
// payment failures and respect context cancellation for in-flight sends.
type NodeClient interface {
	CreateInvoice(ctx context.Context, opts CreateInvoiceOpts) (Invoice, error)
	PayInvoice(ctx context.Context, paymentRequest string, opts PayInvoiceOpts) (PaymentResult, error)
	LookupInvoice(ctx context.Context, paymentHash string) (Invoice, error)
	// LookupPayment finds a settled outgoing payment by hash. Returns
	// ErrPaymentNotFound while the payment is in flight or unknown.
	LookupPayment(ctx context.Context, paymentHash string) (PaymentResult, error)
	OffchainBalance(ctx context.Context) (lightmoney.Amount, error)
}

// lndClient implements NodeClient against lnd's RPC interface.
type lndClient struct {
	lnrpc lnrpc.LightningClient
}

// NewNodeClient wraps a raw lnd RPC client in the NodeClient contract.
func NewNodeClient(rpc lnrpc.LightningClient) NodeClient {
	return &lndClient{lnrpc: rpc}
}

func (l *lndClient) CreateInvoice(ctx context.Context, opts CreateInvoiceOpts) (Invoice, error) {
	if opts.Amount.MSats() > MaxAmountMsatPerInvoice {
		return Invoice{}, errors.Errorf("amount (%s) was too large, max: %d msat",
			opts.Amount, int64(MaxAmountMsatPerInvoice))
	}

	added, err := l.lnrpc.AddInvoice(ctx, &lnrpc.Invoice{
		Memo:      opts.Memo,
		ValueMsat: opts.Amount.MSats(),
		Expiry:    opts.Expiry,
		Private:   opts.PrivateRouteHints,
	})
	if err != nil {
		return Invoice{}, errors.Wrap(err, "could not add invoice to lnd")
	}

	// look the invoice up again to get the full set of fields
	invoice, err := l.lnrpc.LookupInvoice(ctx, &lnrpc.PaymentHash{
		RHash: added.RHash,
	})
	if err != nil {
		return Invoice{}, errors.Wrap(err, "could not lookup added invoice")
	}

	log.WithField("hash", hex.EncodeToString(added.RHash)).Debug("Added invoice")

	return invoiceFromLnrpc(invoice), nil
}

func (l *lndClient) PayInvoice(ctx context.Context, paymentRequest string,
	opts PayInvoiceOpts) (PaymentResult, error) {

	req := &lnrpc.SendRequest{
		PaymentRequest: paymentRequest,
		FeeLimit: &lnrpc.FeeLimit{
			Limit: &lnrpc.FeeLimit_FixedMsat{FixedMsat: opts.FeeLimit.MSats()},
		},
	}
	if opts.Amount != lightmoney.Zero {
		req.AmtMsat = opts.Amount.MSats()
	}

	resp, err := l.lnrpc.SendPaymentSync(ctx, req)
	if err != nil {
		return PaymentResult{}, errors.Wrap(err, "could not send payment")
	}

	if resp.PaymentError != "" {
		if strings.Contains(resp.PaymentError, "unable to find a path") ||
			strings.Contains(resp.PaymentError, "no_route") {
			return PaymentResult{}, errors.Wrap(ErrNoRoute, resp.PaymentError)
		}
		return PaymentResult{}, errors.Wrap(ErrPaymentFailed, resp.PaymentError)
	}

	route := resp.PaymentRoute
	return PaymentResult{
		Total:    lightmoney.FromMSats(route.TotalAmtMsat),
		Fee:      lightmoney.FromMSats(route.TotalFeesMsat),
		Preimage: hex.EncodeToString(resp.PaymentPreimage),
	}, nil
}

func (l *lndClient) LookupInvoice(ctx context.Context, paymentHash string) (Invoice, error) {
	invoice, err := l.lnrpc.LookupInvoice(ctx, &lnrpc.PaymentHash{
		RHashStr: paymentHash,
	})
	if err != nil {
		return Invoice{}, errors.Wrap(ErrInvoiceNotFound, err.Error())
	}
	return invoiceFromLnrpc(invoice), nil
}

func (l *lndClient) LookupPayment(ctx context.Context, paymentHash string) (PaymentResult, error) {
	resp, err := l.lnrpc.ListPayments(ctx, &lnrpc.ListPaymentsRequest{})
	if err != nil {
		return PaymentResult{}, errors.Wrap(err, "could not list payments")
	}

	// lnd only keeps completed payments in this list, so a match means
	// the payment definitely settled
	for _, payment := range resp.Payments {
		if payment.PaymentHash != paymentHash {
			continue
		}
		return PaymentResult{
			Total:    lightmoney.FromMSats(payment.ValueMsat + payment.FeeMsat),
			Fee:      lightmoney.FromMSats(payment.FeeMsat),
			Preimage: payment.PaymentPreimage,
		}, nil
	}

	return PaymentResult{}, ErrPaymentNotFound
}

func (l *lndClient) OffchainBalance(ctx context.Context) (lightmoney.Amount, error) {
	resp, err := l.lnrpc.ChannelBalance(ctx, &lnrpc.ChannelBalanceRequest{})
	if err != nil {
		return 0, errors.Wrap(err, "could not get channel balance")
	}
	return lightmoney.FromSats(resp.Balance), nil
}

func invoiceFromLnrpc(invoice *lnrpc.Invoice) Invoice {
	converted := Invoice{
		ID:             hex.EncodeToString(invoice.RHash),
		PaymentRequest: invoice.PaymentRequest,
		PaymentHash:    hex.EncodeToString(invoice.RHash),
		Amount:         lightmoney.FromMSats(invoice.ValueMsat),
		ExpiresAt:      time.Unix(invoice.CreationDate+invoice.Expiry, 0).UTC(),
		Settled:        invoice.Settled,
		AmountPaid:     lightmoney.FromMSats(invoice.AmtPaidMsat),
	}
	if invoice.Settled {
		settledAt := time.Unix(invoice.SettleDate, 0).UTC()
		converted.SettledAt = &settledAt
		converted.Preimage = hex.EncodeToString(invoice.RPreimage)
	}
	return converted
}
