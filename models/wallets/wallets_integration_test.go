//+build integration

package wallets_test

import (
	"os"
	"testing"

	"github.com/brianvoe/gofakeit"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/arcanecrypto/lnbank/build"
	"gitlab.com/arcanecrypto/lnbank/db"
	"gitlab.com/arcanecrypto/lnbank/lightmoney"
	"gitlab.com/arcanecrypto/lnbank/models/transactions"
	"gitlab.com/arcanecrypto/lnbank/models/wallets"
	"gitlab.com/arcanecrypto/lnbank/testutil"
)

var testDB *db.DB

func TestMain(m *testing.M) {
	build.SetLogLevels(logrus.ErrorLevel)

	var err error
	testDB, err = db.Open(testutil.GetDatabaseConfig("wallets"))
	if err != nil {
		panic(err.Error())
	}
	if err := testDB.Reset(); err != nil {
		panic(err.Error())
	}

	os.Exit(m.Run())
}

func TestCreateAndGetWallet(t *testing.T) {
	t.Parallel()

	userID := gofakeit.UUID()

	wallet, err := wallets.Create(testDB, userID, "spending", true)
	require.NoError(t, err)
	assert.True(t, wallet.PrivateRouteHintsByDefault)

	found, err := wallets.GetByID(testDB, wallet.ID, wallets.ExcludeDeleted)
	require.NoError(t, err)
	assert.Equal(t, wallet.ID, found.ID)
	assert.Equal(t, userID, found.UserID)

	_, err = wallets.Create(testDB, userID, "", false)
	assert.Error(t, err)
}

func TestGetByUserID(t *testing.T) {
	t.Parallel()

	userID := gofakeit.UUID()
	first, err := wallets.Create(testDB, userID, "first", false)
	require.NoError(t, err)
	second, err := wallets.Create(testDB, userID, "second", false)
	require.NoError(t, err)

	found, err := wallets.GetByUserID(testDB, userID, wallets.ExcludeDeleted)
	require.NoError(t, err)
	require.Len(t, found, 2)
	assert.Equal(t, first.ID, found[0].ID)
	assert.Equal(t, second.ID, found[1].ID)
}

func TestLightningAddressIdentifier(t *testing.T) {
	t.Parallel()

	wallet, err := wallets.Create(testDB, gofakeit.UUID(), "addressed", false)
	require.NoError(t, err)

	identifier := gofakeit.Username()
	wallet.LightningAddressIdentifier = &identifier
	_, err = wallets.UpdateDetails(testDB, wallet)
	require.NoError(t, err)

	found, err := wallets.GetByLightningAddressIdentifier(testDB, identifier)
	require.NoError(t, err)
	assert.Equal(t, wallet.ID, found.ID)
}

func TestBalance(t *testing.T) {
	t.Parallel()

	wallet, err := wallets.Create(testDB, gofakeit.UUID(), "funded", false)
	require.NoError(t, err)

	// a fresh wallet has a zero balance, not an error
	balance, err := wallets.CalculateBalance(testDB, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, lightmoney.Zero, balance)

	_, err = transactions.TopUp(testDB, wallet.ID, lightmoney.FromSats(1_234), "")
	require.NoError(t, err)

	balance, err = wallets.GetBalance(testDB, wallet.ID)
	require.NoError(t, err)
	assert.Equal(t, lightmoney.FromSats(1_234), balance)
}

func TestRemoveWallet(t *testing.T) {
	t.Parallel()

	t.Run("soft delete hides the wallet", func(t *testing.T) {
		t.Parallel()
		wallet, err := wallets.Create(testDB, gofakeit.UUID(), "doomed", false)
		require.NoError(t, err)

		require.NoError(t, wallets.Remove(testDB, wallet, false))

		_, err = wallets.GetByID(testDB, wallet.ID, wallets.ExcludeDeleted)
		assert.Equal(t, wallets.ErrNotFound, errors.Cause(err))

		// still visible to admin reads
		_, err = wallets.GetByID(testDB, wallet.ID, wallets.IncludeDeleted)
		assert.NoError(t, err)
	})

	t.Run("force delete requires an empty wallet", func(t *testing.T) {
		t.Parallel()
		wallet, err := wallets.Create(testDB, gofakeit.UUID(), "loaded", false)
		require.NoError(t, err)
		_, err = transactions.TopUp(testDB, wallet.ID, lightmoney.FromSats(1), "")
		require.NoError(t, err)

		err = wallets.Remove(testDB, wallet, true)
		assert.Equal(t, wallets.ErrNotEmpty, errors.Cause(err))
	})

	t.Run("force delete removes an empty wallet", func(t *testing.T) {
		t.Parallel()
		wallet, err := wallets.Create(testDB, gofakeit.UUID(), "empty", false)
		require.NoError(t, err)

		require.NoError(t, wallets.Remove(testDB, wallet, true))

		_, err = wallets.GetByID(testDB, wallet.ID, wallets.IncludeDeleted)
		assert.Equal(t, wallets.ErrNotFound, errors.Cause(err))
	})
}

// not parallel: concurrent top-ups from other tests would move the total
// between the two reads
func TestLiabilitiesTotal(t *testing.T) {
	live, err := wallets.Create(testDB, gofakeit.UUID(), "live", false)
	require.NoError(t, err)
	_, err = transactions.TopUp(testDB, live.ID, lightmoney.FromSats(500), "")
	require.NoError(t, err)

	before, err := wallets.GetLiabilitiesTotal(testDB)
	require.NoError(t, err)

	// a soft-deleted wallet's money stops counting as a liability
	doomed, err := wallets.Create(testDB, gofakeit.UUID(), "doomed", false)
	require.NoError(t, err)
	_, err = transactions.TopUp(testDB, doomed.ID, lightmoney.FromSats(700), "")
	require.NoError(t, err)
	require.NoError(t, wallets.Remove(testDB, doomed, false))

	after, err := wallets.GetLiabilitiesTotal(testDB)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}
