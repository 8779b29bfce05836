package ln

import (
	"encoding/hex"
	"strings"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/zpay32"
	"github.com/pkg/errors"

	"gitlab.com/arcanecrypto/lnbank/lightmoney"
)

// PaymentRequest is the decoded form of a BOLT11 invoice string.
type PaymentRequest struct {
	// Encoded is the raw invoice string, trimmed
	Encoded     string
	PaymentHash string
	// Amount is zero for zero-amount invoices
	Amount      lightmoney.Amount
	ExpiresAt   time.Time
	Description string
}

// IsExpired reports whether the payment request expiry has passed.
func (p PaymentRequest) IsExpired() bool {
	return p.ExpiresAt.Before(time.Now().UTC())
}

// ParsePaymentRequest decodes a BOLT11 payment request for the given network.
func ParsePaymentRequest(payReq string, network *chaincfg.Params) (PaymentRequest, error) {
	trimmed := strings.TrimSpace(payReq)

	decoded, err := zpay32.Decode(trimmed, network)
	if err != nil {
		return PaymentRequest{}, errors.Wrap(err, "could not decode payment request")
	}

	parsed := PaymentRequest{
		Encoded:     trimmed,
		PaymentHash: hex.EncodeToString(decoded.PaymentHash[:]),
		ExpiresAt:   decoded.Timestamp.Add(decoded.Expiry()).UTC(),
	}
	if decoded.MilliSat != nil {
		parsed.Amount = lightmoney.FromMSats(int64(*decoded.MilliSat))
	}
	if decoded.Description != nil {
		parsed.Description = *decoded.Description
	}

	return parsed, nil
}

// TrimLightningPrefix strips lightning: URI prefixes and lightning= query
// wrappers from a destination string.
func TrimLightningPrefix(destination string) string {
	lower := strings.ToLower(destination)
	if index := strings.Index(lower, "lightning="); index != -1 {
		return destination[index+len("lightning="):]
	}
	if strings.HasPrefix(lower, "lightning:") {
		return destination[len("lightning:"):]
	}
	return destination
}
