// Package lnurl is a client for the parts of the LNURL conventions this
// ledger consumes: resolving pay/withdraw endpoints and exchanging invoices
// with them. The server-side LNURL semantics live in the api package.
package lnurl

import (
	"encoding/json"
	"fmt"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/pkg/errors"

	"gitlab.com/arcanecrypto/lnbank/build"
	"gitlab.com/arcanecrypto/lnbank/lightmoney"
)

var log = build.AddSubLogger("LNRL")

const (
	// PayRequestTag tags LNURL-pay descriptors
	PayRequestTag = "payRequest"
	// WithdrawRequestTag tags LNURL-withdraw descriptors
	WithdrawRequestTag = "withdrawRequest"
)

var (
	ErrUnexpectedTag = errors.New("unexpected LNURL tag")
	ErrBadStatus     = errors.New("LNURL endpoint returned error status")
)

// PayRequest describes an LNURL-pay endpoint.
type PayRequest struct {
	Tag            string `json:"tag"`
	Callback       string `json:"callback"`
	MinSendable    int64  `json:"minSendable"`
	MaxSendable    int64  `json:"maxSendable"`
	Metadata       string `json:"metadata"`
	CommentAllowed int64  `json:"commentAllowed"`
}

// WithdrawRequest describes an LNURL-withdraw endpoint.
type WithdrawRequest struct {
	Tag                string `json:"tag"`
	Callback           string `json:"callback"`
	K1                 string `json:"k1"`
	DefaultDescription string `json:"defaultDescription"`
	MinWithdrawable    int64  `json:"minWithdrawable"`
	MaxWithdrawable    int64  `json:"maxWithdrawable"`
	CurrentBalance     int64  `json:"currentBalance,omitempty"`
}

// StatusResponse is the generic LNURL status envelope.
type StatusResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// Client resolves LNURL destinations over HTTP.
type Client struct {
	http *http.Client
}

// NewClient creates an LNURL client with a sane request timeout.
func NewClient() *Client {
	return &Client{
		http: &http.Client{Timeout: 30 * time.Second},
	}
}

// Resolve fetches the descriptor behind a destination string. The
// destination can be a bech32-encoded LNURL or a lightning address
// (user@domain). Exactly one of the returned descriptors is non-nil.
func (c *Client) Resolve(destination string) (*PayRequest, *WithdrawRequest, error) {
	endpoint, err := EndpointURL(destination)
	if err != nil {
		return nil, nil, err
	}

	body, err := c.get(endpoint)
	if err != nil {
		return nil, nil, err
	}

	var tagged struct {
		Tag string `json:"tag"`
	}
	if err := json.Unmarshal(body, &tagged); err != nil {
		return nil, nil, errors.Wrap(err, "could not decode LNURL response")
	}

	switch tagged.Tag {
	case PayRequestTag:
		var pay PayRequest
		if err := json.Unmarshal(body, &pay); err != nil {
			return nil, nil, errors.Wrap(err, "could not decode payRequest")
		}
		return &pay, nil, nil
	case WithdrawRequestTag:
		var withdraw WithdrawRequest
		if err := json.Unmarshal(body, &withdraw); err != nil {
			return nil, nil, errors.Wrap(err, "could not decode withdrawRequest")
		}
		return nil, &withdraw, nil
	default:
		return nil, nil, errors.Wrapf(ErrUnexpectedTag, "got %q", tagged.Tag)
	}
}

// GetBolt11 requests an invoice for the given amount from an LNURL-pay
// endpoint.
func (c *Client) GetBolt11(pay *PayRequest, amount lightmoney.Amount, comment string) (string, error) {
	callback, err := url.Parse(pay.Callback)
	if err != nil {
		return "", errors.Wrap(err, "invalid pay callback URL")
	}

	q := callback.Query()
	q.Set("amount", fmt.Sprintf("%d", amount.MSats()))
	if comment != "" && pay.CommentAllowed > 0 {
		q.Set("comment", comment)
	}
	callback.RawQuery = q.Encode()

	body, err := c.get(callback.String())
	if err != nil {
		return "", err
	}

	var resp struct {
		StatusResponse
		Pr string `json:"pr"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", errors.Wrap(err, "could not decode pay callback response")
	}
	if strings.EqualFold(resp.Status, "error") {
		return "", errors.Wrapf(ErrBadStatus, "%s", resp.Reason)
	}
	if resp.Pr == "" {
		return "", errors.New("pay callback returned no payment request")
	}

	return resp.Pr, nil
}

// Withdraw posts a generated invoice back to an LNURL-withdraw endpoint so
// the remote wallet pays it.
func (c *Client) Withdraw(withdraw *WithdrawRequest, bolt11 string) error {
	callback, err := url.Parse(withdraw.Callback)
	if err != nil {
		return errors.Wrap(err, "invalid withdraw callback URL")
	}

	q := callback.Query()
	q.Set("k1", withdraw.K1)
	q.Set("pr", bolt11)
	callback.RawQuery = q.Encode()

	body, err := c.get(callback.String())
	if err != nil {
		return err
	}

	var resp StatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return errors.Wrap(err, "could not decode withdraw callback response")
	}
	if strings.EqualFold(resp.Status, "error") {
		return errors.Wrapf(ErrBadStatus, "%s", resp.Reason)
	}

	return nil
}

func (c *Client) get(endpoint string) ([]byte, error) {
	log.WithField("url", endpoint).Trace("LNURL request")

	resp, err := c.http.Get(endpoint)
	if err != nil {
		return nil, errors.Wrapf(err, "LNURL request to %s failed", endpoint)
	}
	defer func() {
		if err := resp.Body.Close(); err != nil {
			log.WithError(err).Error("could not close response body")
		}
	}()

	body, err := ioutil.ReadAll(resp.Body)
	if err != nil {
		return nil, errors.Wrap(err, "could not read LNURL response")
	}
	return body, nil
}

// EndpointURL converts a destination string into the HTTPS endpoint to query.
func EndpointURL(destination string) (string, error) {
	dest := strings.TrimSpace(destination)

	// lightning address: user@domain maps to a well-known HTTPS path
	if at := strings.Count(dest, "@"); at == 1 && !strings.HasPrefix(strings.ToLower(dest), "lnurl") {
		parts := strings.SplitN(dest, "@", 2)
		if parts[0] == "" || parts[1] == "" {
			return "", errors.Errorf("invalid lightning address %q", dest)
		}
		return fmt.Sprintf("https://%s/.well-known/lnurlp/%s", parts[1], parts[0]), nil
	}

	hrp, data, err := bech32.DecodeNoLimit(strings.ToLower(dest))
	if err != nil {
		return "", errors.Wrapf(err, "could not decode %q as LNURL", dest)
	}
	if hrp != "lnurl" {
		return "", errors.Errorf("unexpected bech32 prefix %q", hrp)
	}

	converted, err := bech32.ConvertBits(data, 5, 8, false)
	if err != nil {
		return "", errors.Wrap(err, "could not convert LNURL bits")
	}

	return string(converted), nil
}
