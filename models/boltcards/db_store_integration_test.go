//+build integration

package boltcards_test

import (
	"context"
	"encoding/hex"
	"os"
	"testing"

	"github.com/brianvoe/gofakeit"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gitlab.com/arcanecrypto/lnbank/build"
	"gitlab.com/arcanecrypto/lnbank/db"
	"gitlab.com/arcanecrypto/lnbank/models/boltcards"
	"gitlab.com/arcanecrypto/lnbank/models/wallets"
	"gitlab.com/arcanecrypto/lnbank/models/withdrawconfigs"
	"gitlab.com/arcanecrypto/lnbank/testutil"
)

var testDB *db.DB

func TestMain(m *testing.M) {
	build.SetLogLevels(logrus.ErrorLevel)

	var err error
	testDB, err = db.Open(testutil.GetDatabaseConfig("boltcards"))
	if err != nil {
		panic(err.Error())
	}
	if err := testDB.Reset(); err != nil {
		panic(err.Error())
	}

	os.Exit(m.Run())
}

// createTestConfig creates the wallet and withdraw config a card needs.
func createTestConfig(t *testing.T) withdrawconfigs.Config {
	t.Helper()

	wallet, err := wallets.Create(testDB, gofakeit.UUID(), gofakeit.FirstName(), false)
	require.NoError(t, err)

	config, err := withdrawconfigs.Create(testDB, withdrawconfigs.Config{
		WalletID:  wallet.ID,
		Name:      "card budget",
		ReuseType: withdrawconfigs.ReuseUnlimited,
	})
	require.NoError(t, err)
	return config
}

func TestSettingsBootstrap(t *testing.T) {
	store := boltcards.NewStore(testDB)

	settings, err := store.Settings()
	require.NoError(t, err)
	assert.Len(t, settings.MasterSeed, 64)
	assert.GreaterOrEqual(t, settings.GroupSize, 1000)

	// the seed is generated once and then stable
	again, err := store.Settings()
	require.NoError(t, err)
	assert.Equal(t, settings.MasterSeed, again.MasterSeed)

	settings.GroupSize = 2000
	require.NoError(t, store.SaveSettings(settings))

	saved, err := store.Settings()
	require.NoError(t, err)
	assert.Equal(t, 2000, saved.GroupSize)
	assert.Equal(t, settings.MasterSeed, saved.MasterSeed)
}

func TestCardLifecycleAgainstDatabase(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	store := boltcards.NewStore(testDB)
	service := boltcards.NewService(ctx, store)
	config := createTestConfig(t)

	card, err := service.CreateCard(config.ID, "db card")
	require.NoError(t, err)
	assert.Equal(t, boltcards.StatusPendingActivation, card.Status)
	assert.NotEmpty(t, card.ActivationCode)
	assert.Equal(t, int64(-1), card.Counter)

	issued, err := service.IssueCard(ctx, card.ActivationCode)
	require.NoError(t, err)
	require.NotNil(t, issued.Card.DerivationIndex)
	assert.Len(t, issued.Keys.K1, 16)

	found, err := service.GetCardByWithdrawConfigID(config.ID)
	require.NoError(t, err)
	assert.Equal(t, card.ID, found.ID)

	t.Run("second card on the same config is rejected", func(t *testing.T) {
		// withdraw_config_id carries a unique constraint
		_, err := service.CreateCard(config.ID, "duplicate")
		assert.Error(t, err)
	})

	t.Run("unknown card id", func(t *testing.T) {
		_, err := service.GetCard(999_999)
		assert.Equal(t, boltcards.ErrCardNotFound, errors.Cause(err))
	})

	t.Run("counter and uid persist across reads", func(t *testing.T) {
		issued.Card.Counter = 7
		uid := hex.EncodeToString([]byte{0x04, 1, 2, 3, 4, 5, 6})
		issued.Card.CardIdentifier = &uid

		_, err := store.UpdateCard(issued.Card)
		require.NoError(t, err)

		reread, err := store.GetCardByIndex(*issued.Card.DerivationIndex)
		require.NoError(t, err)
		assert.Equal(t, int64(7), reread.Counter)
		require.NotNil(t, reread.CardIdentifier)
		assert.Equal(t, uid, *reread.CardIdentifier)
	})
}
