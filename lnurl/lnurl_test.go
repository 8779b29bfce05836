package lnurl_test

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/btcsuite/btcutil/bech32"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/arcanecrypto/lnbank/lightmoney"
	"gitlab.com/arcanecrypto/lnbank/lnurl"
)

// encodeLNURL bech32-encodes a URL the way wallets embed LNURLs.
func encodeLNURL(t *testing.T, rawURL string) string {
	t.Helper()

	converted, err := bech32.ConvertBits([]byte(rawURL), 8, 5, true)
	require.NoError(t, err)
	encoded, err := bech32.Encode("lnurl", converted)
	require.NoError(t, err)
	return encoded
}

func TestEndpointURL(t *testing.T) {
	t.Parallel()

	t.Run("lightning address", func(t *testing.T) {
		t.Parallel()
		endpoint, err := lnurl.EndpointURL("satoshi@example.com")
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/.well-known/lnurlp/satoshi", endpoint)
	})

	t.Run("bech32 lnurl", func(t *testing.T) {
		t.Parallel()
		encoded := encodeLNURL(t, "https://example.com/lnurlp/abc")

		endpoint, err := lnurl.EndpointURL(strings.ToUpper(encoded))
		require.NoError(t, err)
		assert.Equal(t, "https://example.com/lnurlp/abc", endpoint)
	})

	t.Run("empty address parts are rejected", func(t *testing.T) {
		t.Parallel()
		_, err := lnurl.EndpointURL("@example.com")
		assert.Error(t, err)
	})

	t.Run("wrong bech32 prefix is rejected", func(t *testing.T) {
		t.Parallel()
		converted, err := bech32.ConvertBits([]byte("whatever"), 8, 5, true)
		require.NoError(t, err)
		encoded, err := bech32.Encode("lnbc", converted)
		require.NoError(t, err)

		_, err = lnurl.EndpointURL(encoded)
		assert.Error(t, err)
	})
}

func TestResolve(t *testing.T) {
	t.Parallel()

	t.Run("pay request", func(t *testing.T) {
		t.Parallel()
		server := httptest.NewServer(http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(lnurl.PayRequest{
					Tag:         lnurl.PayRequestTag,
					Callback:    "https://example.com/cb",
					MinSendable: 1_000,
					MaxSendable: 100_000_000,
				})
			}))
		defer server.Close()

		pay, withdraw, err := lnurl.NewClient().Resolve(encodeLNURL(t, server.URL))
		require.NoError(t, err)
		require.NotNil(t, pay)
		assert.Nil(t, withdraw)
		assert.Equal(t, "https://example.com/cb", pay.Callback)
	})

	t.Run("withdraw request", func(t *testing.T) {
		t.Parallel()
		server := httptest.NewServer(http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				_ = json.NewEncoder(w).Encode(lnurl.WithdrawRequest{
					Tag:             lnurl.WithdrawRequestTag,
					Callback:        "https://example.com/cb",
					K1:              "token",
					MaxWithdrawable: 5_000_000,
				})
			}))
		defer server.Close()

		pay, withdraw, err := lnurl.NewClient().Resolve(encodeLNURL(t, server.URL))
		require.NoError(t, err)
		assert.Nil(t, pay)
		require.NotNil(t, withdraw)
		assert.Equal(t, "token", withdraw.K1)
	})

	t.Run("unknown tag", func(t *testing.T) {
		t.Parallel()
		server := httptest.NewServer(http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"tag":"channelRequest"}`))
			}))
		defer server.Close()

		_, _, err := lnurl.NewClient().Resolve(encodeLNURL(t, server.URL))
		assert.Equal(t, lnurl.ErrUnexpectedTag, errors.Cause(err))
	})
}

func TestGetBolt11(t *testing.T) {
	t.Parallel()

	t.Run("passes amount and comment", func(t *testing.T) {
		t.Parallel()
		server := httptest.NewServer(http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "21000", r.URL.Query().Get("amount"))
				assert.Equal(t, "thanks", r.URL.Query().Get("comment"))
				_, _ = w.Write([]byte(`{"pr":"lnbc21..."}`))
			}))
		defer server.Close()

		pay := &lnurl.PayRequest{Callback: server.URL, CommentAllowed: 32}
		bolt11, err := lnurl.NewClient().GetBolt11(pay, lightmoney.FromSats(21), "thanks")
		require.NoError(t, err)
		assert.Equal(t, "lnbc21...", bolt11)
	})

	t.Run("comment dropped when not allowed", func(t *testing.T) {
		t.Parallel()
		server := httptest.NewServer(http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				_, ok := r.URL.Query()["comment"]
				assert.False(t, ok)
				_, _ = w.Write([]byte(`{"pr":"lnbc21..."}`))
			}))
		defer server.Close()

		pay := &lnurl.PayRequest{Callback: server.URL}
		_, err := lnurl.NewClient().GetBolt11(pay, lightmoney.FromSats(21), "thanks")
		require.NoError(t, err)
	})

	t.Run("error status", func(t *testing.T) {
		t.Parallel()
		server := httptest.NewServer(http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"status":"ERROR","reason":"amount too low"}`))
			}))
		defer server.Close()

		pay := &lnurl.PayRequest{Callback: server.URL}
		_, err := lnurl.NewClient().GetBolt11(pay, lightmoney.FromSats(1), "")
		assert.Equal(t, lnurl.ErrBadStatus, errors.Cause(err))
		assert.Contains(t, err.Error(), "amount too low")
	})
}

func TestWithdraw(t *testing.T) {
	t.Parallel()

	t.Run("posts k1 and invoice", func(t *testing.T) {
		t.Parallel()
		server := httptest.NewServer(http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "secret", r.URL.Query().Get("k1"))
				assert.Equal(t, "lnbc1...", r.URL.Query().Get("pr"))
				_, _ = w.Write([]byte(`{"status":"OK"}`))
			}))
		defer server.Close()

		withdraw := &lnurl.WithdrawRequest{Callback: server.URL, K1: "secret"}
		assert.NoError(t, lnurl.NewClient().Withdraw(withdraw, "lnbc1..."))
	})

	t.Run("error status", func(t *testing.T) {
		t.Parallel()
		server := httptest.NewServer(http.HandlerFunc(
			func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte(`{"status":"ERROR","reason":"expired"}`))
			}))
		defer server.Close()

		withdraw := &lnurl.WithdrawRequest{Callback: server.URL, K1: "secret"}
		err := lnurl.NewClient().Withdraw(withdraw, "lnbc1...")
		assert.Equal(t, lnurl.ErrBadStatus, errors.Cause(err))
	})
}
