//+build integration

package withdrawconfigs_test

import (
	"crypto/rand"
	"os"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit"
	"github.com/btcsuite/btcd/btcec"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/lightningnetwork/lnd/lnwire"
	"github.com/lightningnetwork/lnd/zpay32"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/arcanecrypto/lnbank/build"
	"gitlab.com/arcanecrypto/lnbank/db"
	"gitlab.com/arcanecrypto/lnbank/lightmoney"
	"gitlab.com/arcanecrypto/lnbank/ln"
	"gitlab.com/arcanecrypto/lnbank/models/transactions"
	"gitlab.com/arcanecrypto/lnbank/models/wallets"
	"gitlab.com/arcanecrypto/lnbank/models/withdrawconfigs"
	"gitlab.com/arcanecrypto/lnbank/testutil"
)

var (
	testDB  *db.DB
	network = &chaincfg.RegressionNetParams
)

func TestMain(m *testing.M) {
	build.SetLogLevels(logrus.ErrorLevel)

	var err error
	testDB, err = db.Open(testutil.GetDatabaseConfig("withdrawconfigs"))
	if err != nil {
		panic(err.Error())
	}
	if err := testDB.Reset(); err != nil {
		panic(err.Error())
	}

	os.Exit(m.Run())
}

func makeTestInvoice(t *testing.T, amount lightmoney.Amount) string {
	t.Helper()

	privKey, err := btcec.NewPrivateKey(btcec.S256())
	require.NoError(t, err)

	var hash [32]byte
	_, err = rand.Read(hash[:])
	require.NoError(t, err)

	invoice, err := zpay32.NewInvoice(network, hash, time.Now(),
		zpay32.Description(gofakeit.Sentence(3)),
		zpay32.Amount(lnwire.MilliSatoshi(amount.MSats())))
	require.NoError(t, err)

	encoded, err := invoice.Encode(zpay32.MessageSigner{
		SignCompact: func(msg []byte) ([]byte, error) {
			return btcec.SignCompact(btcec.S256(), privKey, msg, true)
		},
	})
	require.NoError(t, err)

	return encoded
}

func createFundedWallet(t *testing.T, balance lightmoney.Amount) wallets.Wallet {
	t.Helper()

	wallet, err := wallets.Create(testDB, gofakeit.UUID(), gofakeit.FirstName(), false)
	require.NoError(t, err)
	if balance > 0 {
		_, err = transactions.TopUp(testDB, wallet.ID, balance, "")
		require.NoError(t, err)
	}
	return wallet
}

// payingNode always succeeds with the requested amount plus the given fee.
func payingNode(fee lightmoney.Amount) *testutil.MockNodeClient {
	return &testutil.MockNodeClient{
		PayInvoiceFunc: func(paymentRequest string, opts ln.PayInvoiceOpts) (ln.PaymentResult, error) {
			decoded, err := ln.ParsePaymentRequest(paymentRequest, network)
			if err != nil {
				return ln.PaymentResult{}, err
			}
			return ln.PaymentResult{
				Total: decoded.Amount + fee,
				Fee:   fee,
			}, nil
		},
	}
}

func TestCreateAndGetConfig(t *testing.T) {
	t.Parallel()

	wallet := createFundedWallet(t, 0)

	limit := int64(3)
	maxPerUse := lightmoney.FromSats(1_000)
	config, err := withdrawconfigs.Create(testDB, withdrawconfigs.Config{
		WalletID:   wallet.ID,
		Name:       "lunch budget",
		ReuseType:  withdrawconfigs.ReusePerDay,
		UsageLimit: &limit,
		MaxPerUse:  &maxPerUse,
	})
	require.NoError(t, err)

	found, err := withdrawconfigs.GetByID(testDB, config.ID)
	require.NoError(t, err)
	assert.Equal(t, config.ID, found.ID)
	require.NotNil(t, found.MaxPerUse)
	assert.Equal(t, maxPerUse, *found.MaxPerUse)

	byWallet, err := withdrawconfigs.GetByWalletID(testDB, wallet.ID)
	require.NoError(t, err)
	require.Len(t, byWallet, 1)

	t.Run("invalid reuse type is rejected", func(t *testing.T) {
		_, err := withdrawconfigs.Create(testDB, withdrawconfigs.Config{
			WalletID:  wallet.ID,
			Name:      "weird",
			ReuseType: "fortnightly",
		})
		assert.Equal(t, withdrawconfigs.ErrBadReuseType, errors.Cause(err))
	})

	t.Run("remove hides the config", func(t *testing.T) {
		require.NoError(t, withdrawconfigs.Remove(testDB, config.ID))

		_, err := withdrawconfigs.GetByID(testDB, config.ID)
		assert.Equal(t, withdrawconfigs.ErrNotFound, errors.Cause(err))

		assert.Equal(t, withdrawconfigs.ErrNotFound,
			errors.Cause(withdrawconfigs.Remove(testDB, config.ID)))
	})
}

func TestGetSpendsCountsSettledAndPending(t *testing.T) {
	t.Parallel()

	wallet := createFundedWallet(t, lightmoney.FromSats(100_000))
	config, err := withdrawconfigs.Create(testDB, withdrawconfigs.Config{
		WalletID:  wallet.ID,
		Name:      "spend tracking",
		ReuseType: withdrawconfigs.ReuseUnlimited,
	})
	require.NoError(t, err)

	// a settled external withdraw
	_, err = transactions.Send(testDB, payingNode(lightmoney.FromSats(10)), nil,
		transactions.SendOpts{
			Destination:    makeTestInvoice(t, lightmoney.FromSats(1_000)),
			WithdrawConfig: &config,
			Network:        network,
		})
	require.NoError(t, err)

	// an indeterminate withdraw stays pending and keeps counting
	stuckNode := &testutil.MockNodeClient{
		PayInvoiceFunc: func(string, ln.PayInvoiceOpts) (ln.PaymentResult, error) {
			return ln.PaymentResult{}, errors.New("rpc deadline exceeded")
		},
	}
	_, err = transactions.Send(testDB, stuckNode, nil, transactions.SendOpts{
		Destination:    makeTestInvoice(t, lightmoney.FromSats(2_000)),
		WithdrawConfig: &config,
		Network:        network,
	})
	require.Equal(t, transactions.ErrPaymentIndeterminate, errors.Cause(err))

	// a definitive failure is removed and never counts
	deadNode := &testutil.MockNodeClient{
		PayInvoiceFunc: func(string, ln.PayInvoiceOpts) (ln.PaymentResult, error) {
			return ln.PaymentResult{}, ln.ErrNoRoute
		},
	}
	_, err = transactions.Send(testDB, deadNode, nil, transactions.SendOpts{
		Destination:    makeTestInvoice(t, lightmoney.FromSats(3_000)),
		WithdrawConfig: &config,
		Network:        network,
	})
	require.Equal(t, ln.ErrNoRoute, errors.Cause(err))

	spends, err := withdrawconfigs.GetSpends(testDB, config.ID)
	require.NoError(t, err)
	require.Len(t, spends, 2)

	// the settled row counts its actual amount, the pending one its
	// reservation including the fee reserve
	var total lightmoney.Amount
	for _, spend := range spends {
		total += spend.Amount.Abs()
	}
	reserved := lightmoney.FromSats(2_000) +
		lightmoney.FromSats(2_000).BasisPoints(withdrawconfigs.FeeReserveBasisPoints)
	assert.Equal(t, lightmoney.FromSats(1_000)+reserved, total)
}

func TestSendEnforcesPolicy(t *testing.T) {
	t.Parallel()

	t.Run("per use ceiling", func(t *testing.T) {
		t.Parallel()

		wallet := createFundedWallet(t, lightmoney.FromSats(100_000))
		maxPerUse := lightmoney.FromSats(1_000)
		config, err := withdrawconfigs.Create(testDB, withdrawconfigs.Config{
			WalletID:  wallet.ID,
			Name:      "capped",
			ReuseType: withdrawconfigs.ReuseUnlimited,
			MaxPerUse: &maxPerUse,
		})
		require.NoError(t, err)

		node := &testutil.MockNodeClient{}
		_, err = transactions.Send(testDB, node, nil, transactions.SendOpts{
			Destination:    makeTestInvoice(t, lightmoney.FromSats(2_000)),
			WithdrawConfig: &config,
			Network:        network,
		})
		assert.Equal(t, transactions.ErrPolicyExceeded, errors.Cause(err))
		assert.Equal(t, 0, node.PayInvoiceCalls)
	})

	t.Run("usage limit exhausts", func(t *testing.T) {
		t.Parallel()

		wallet := createFundedWallet(t, lightmoney.FromSats(100_000))
		limit := int64(1)
		config, err := withdrawconfigs.Create(testDB, withdrawconfigs.Config{
			WalletID:   wallet.ID,
			Name:       "once a day",
			ReuseType:  withdrawconfigs.ReusePerDay,
			UsageLimit: &limit,
		})
		require.NoError(t, err)

		_, err = transactions.Send(testDB, payingNode(0), nil, transactions.SendOpts{
			Destination:    makeTestInvoice(t, lightmoney.FromSats(500)),
			WithdrawConfig: &config,
			Network:        network,
		})
		require.NoError(t, err)

		_, err = transactions.Send(testDB, payingNode(0), nil, transactions.SendOpts{
			Destination:    makeTestInvoice(t, lightmoney.FromSats(500)),
			WithdrawConfig: &config,
			Network:        network,
		})
		assert.Equal(t, transactions.ErrPolicyExceeded, errors.Cause(err))

		eval, err := withdrawconfigs.Evaluate(testDB, config)
		require.NoError(t, err)
		assert.True(t, eval.UsageLimited)
		assert.Equal(t, int64(0), eval.RemainingUsages)
		assert.Equal(t, lightmoney.Zero, eval.RemainingBalance)
	})

	t.Run("dust sweep empties a small wallet", func(t *testing.T) {
		t.Parallel()

		wallet := createFundedWallet(t, lightmoney.FromSats(5_000))
		config, err := withdrawconfigs.Create(testDB, withdrawconfigs.Config{
			WalletID:  wallet.ID,
			Name:      "sweep",
			ReuseType: withdrawconfigs.ReuseUnlimited,
		})
		require.NoError(t, err)

		eval, err := withdrawconfigs.Evaluate(testDB, config)
		require.NoError(t, err)
		assert.Equal(t, lightmoney.FromSats(5_000), eval.RemainingBalance)

		_, err = transactions.Send(testDB, payingNode(0), nil, transactions.SendOpts{
			Destination:    makeTestInvoice(t, lightmoney.FromSats(5_000)),
			WithdrawConfig: &config,
			Network:        network,
		})
		require.NoError(t, err)

		balance, err := wallets.CalculateBalance(testDB, wallet.ID)
		require.NoError(t, err)
		assert.Equal(t, lightmoney.Zero, balance)
	})
}
