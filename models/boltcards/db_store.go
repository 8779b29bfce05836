package boltcards

import (
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"sync"

	"github.com/pkg/errors"

	"gitlab.com/arcanecrypto/lnbank/db"
)

// masterSeedLength is the byte length of the generated master seed.
const masterSeedLength = 64

// dbStore is the postgres-backed CardStore.
type dbStore struct {
	db *db.DB
	// settingsMu serializes the read-modify-write of the settings row
	settingsMu sync.Mutex
}

// NewStore creates a CardStore over the given database.
func NewStore(d *db.DB) CardStore {
	return &dbStore{db: d}
}

const cardColumns = `id, activation_code, withdraw_config_id, name, card_identifier,
	derivation_index, counter, status, created_at, updated_at`

func (s *dbStore) InsertCard(card Card) (Card, error) {
	query := `INSERT INTO bolt_cards
		(activation_code, withdraw_config_id, name, card_identifier, derivation_index, counter, status)
		VALUES (:activation_code, :withdraw_config_id, :name, :card_identifier, :derivation_index, :counter, :status)
		RETURNING ` + cardColumns

	rows, err := s.db.NamedQuery(query, card)
	if err != nil {
		return Card{}, errors.Wrap(err, "could not insert bolt card")
	}
	defer func() { _ = rows.Close() }()

	if !rows.Next() {
		return Card{}, errors.New("no bolt card returned from insert")
	}
	var inserted Card
	if err := rows.StructScan(&inserted); err != nil {
		return Card{}, errors.Wrap(err, "could not scan bolt card")
	}

	return inserted, nil
}

func (s *dbStore) getCard(where string, arg interface{}) (Card, error) {
	var card Card
	err := s.db.Get(&card, `SELECT `+cardColumns+` FROM bolt_cards WHERE `+where, arg)
	if err != nil {
		if err == sql.ErrNoRows {
			return Card{}, ErrCardNotFound
		}
		return Card{}, errors.Wrap(err, "could not get bolt card")
	}
	return card, nil
}

func (s *dbStore) GetCard(id int) (Card, error) {
	return s.getCard("id = $1", id)
}

func (s *dbStore) GetCardByActivationCode(code string) (Card, error) {
	return s.getCard("activation_code = $1", code)
}

func (s *dbStore) GetCardByIndex(index int) (Card, error) {
	return s.getCard("derivation_index = $1", index)
}

func (s *dbStore) GetCardByWithdrawConfigID(configID int) (Card, error) {
	return s.getCard("withdraw_config_id = $1", configID)
}

func (s *dbStore) UpdateCard(card Card) (Card, error) {
	query := `UPDATE bolt_cards
		SET card_identifier = $1, derivation_index = $2, counter = $3,
		    status = $4, name = $5, updated_at = now()
		WHERE id = $6
		RETURNING ` + cardColumns

	var updated Card
	err := s.db.Get(&updated, query, card.CardIdentifier, card.DerivationIndex,
		card.Counter, card.Status, card.Name, card.ID)
	if err != nil {
		if err == sql.ErrNoRows {
			return Card{}, ErrCardNotFound
		}
		return Card{}, errors.Wrap(err, "could not update bolt card")
	}

	return updated, nil
}

type settingsRow struct {
	MasterSeed    string `db:"master_seed"`
	LastIndexUsed int    `db:"last_index_used"`
	GroupSize     int    `db:"group_size"`
}

// Settings loads the singleton settings row, generating the master seed and
// calibrating the group size on very first use.
func (s *dbStore) Settings() (Settings, error) {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()

	return s.settings()
}

func (s *dbStore) settings() (Settings, error) {
	var row settingsRow
	err := s.db.Get(&row,
		`SELECT master_seed, last_index_used, group_size FROM bolt_card_settings`)
	if err == nil {
		seed, decodeErr := hex.DecodeString(row.MasterSeed)
		if decodeErr != nil {
			return Settings{}, errors.Wrap(decodeErr, "stored master seed is not hex")
		}
		return Settings{
			MasterSeed:    seed,
			LastIndexUsed: row.LastIndexUsed,
			GroupSize:     row.GroupSize,
		}, nil
	}
	if err != sql.ErrNoRows {
		return Settings{}, errors.Wrap(err, "could not get bolt card settings")
	}

	seed := make([]byte, masterSeedLength)
	if _, err := rand.Read(seed); err != nil {
		return Settings{}, errors.Wrap(err, "could not generate master seed")
	}
	groupSize := CalibrateGroupSize(seed)

	log.WithField("groupSize", groupSize).Info("Generated bolt card master seed")

	_, err = s.db.Exec(
		`INSERT INTO bolt_card_settings (master_seed, last_index_used, group_size)
		 VALUES ($1, -1, $2)
		 ON CONFLICT (one_row) DO NOTHING`,
		hex.EncodeToString(seed), groupSize)
	if err != nil {
		return Settings{}, errors.Wrap(err, "could not insert bolt card settings")
	}

	// re-read in case another process inserted first
	return s.settings()
}

func (s *dbStore) SaveSettings(settings Settings) error {
	s.settingsMu.Lock()
	defer s.settingsMu.Unlock()

	_, err := s.db.Exec(
		`UPDATE bolt_card_settings SET last_index_used = $1, group_size = $2`,
		settings.LastIndexUsed, settings.GroupSize)
	if err != nil {
		return errors.Wrap(err, "could not save bolt card settings")
	}
	return nil
}
