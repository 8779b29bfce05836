// Package boltcards implements the Bolt Card engine: per-card key derivation
// from one master seed, NFC tap verification with replay protection, and
// card issuance with strictly unique derivation indices.
package boltcards

import (
	"fmt"
	"time"

	"github.com/pkg/errors"

	"gitlab.com/arcanecrypto/lnbank/build"
)

var log = build.AddSubLogger("CARD")

var (
	// ErrCardNotFound means no card matched the tap or query
	ErrCardNotFound = errors.New("bolt card not found")
	// ErrCardNotActive means the card exists but is not in the Active state
	ErrCardNotActive = errors.New("bolt card is not active")
	// ErrCounterReplayed means the tap counter was not strictly greater
	// than the last accepted one
	ErrCounterReplayed = errors.New("tap counter already used")
	// ErrUIDMismatch means the tap UID differs from the one the card was
	// bound to on its first tap
	ErrUIDMismatch = errors.New("tap UID does not match card")
	// ErrBadAuthToken means the authorization token is unknown, expired or
	// already redeemed
	ErrBadAuthToken = errors.New("invalid authorization token")
	// ErrNotPendingActivation means an activation was attempted on a card
	// that is not awaiting one
	ErrNotPendingActivation = errors.New("bolt card is not pending activation")
)

// Status is the lifecycle state of a card.
type Status string

const (
	// StatusPendingActivation means the card row exists but no physical
	// card has claimed it yet
	StatusPendingActivation Status = "pending_activation"
	// StatusActive means the card is programmed and may authorize taps
	StatusActive Status = "active"
	// StatusInactive means the card is stopped but keeps its UID and
	// counter for auditing
	StatusInactive Status = "inactive"
)

// Card is the db type for a Bolt Card. No key material is stored, only the
// derivation index.
type Card struct {
	ID               int    `db:"id"`
	ActivationCode   string `db:"activation_code"`
	WithdrawConfigID int    `db:"withdraw_config_id"`
	Name             string `db:"name"`

	// CardIdentifier is the hardware UID in hex, bound on the first
	// successful tap and immutable afterwards
	CardIdentifier *string `db:"card_identifier"`
	// DerivationIndex is assigned once, at activation
	DerivationIndex *int `db:"derivation_index"`
	// Counter is the last accepted tap counter, -1 before the first tap
	Counter int64  `db:"counter"`
	Status  Status `db:"status"`

	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

func (c Card) String() string {
	return fmt.Sprintf("BoltCard: {ID: %d, WithdrawConfigID: %d, Status: %s, Counter: %d}",
		c.ID, c.WithdrawConfigID, c.Status, c.Counter)
}

// Group returns the scan group the card's index falls into.
func (c Card) Group(groupSize int) int {
	if c.DerivationIndex == nil || groupSize <= 0 {
		return 0
	}
	return *c.DerivationIndex / groupSize
}

// Settings is the process-wide card configuration: the master seed all keys
// derive from, the high-water derivation index, and the calibrated scan
// group size.
type Settings struct {
	MasterSeed    []byte
	LastIndexUsed int
	GroupSize     int
}

// CardStore is the persistence the engine needs. The db-backed
// implementation lives in this package; tests run the engine against an
// in-memory one.
type CardStore interface {
	InsertCard(card Card) (Card, error)
	GetCard(id int) (Card, error)
	GetCardByActivationCode(code string) (Card, error)
	GetCardByIndex(index int) (Card, error)
	GetCardByWithdrawConfigID(configID int) (Card, error)
	UpdateCard(card Card) (Card, error)

	// Settings returns the singleton settings row, creating it on first
	// use
	Settings() (Settings, error)
	SaveSettings(settings Settings) error
}
