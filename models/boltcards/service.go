package boltcards

import (
	"context"
	"encoding/hex"
	"net/url"
	"sync"
	"time"

	"github.com/google/uuid"
	gocache "github.com/patrickmn/go-cache"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
)

// AuthTokenExpiry is how long a tap authorization stays redeemable.
const AuthTokenExpiry = 5 * time.Minute

// Service is the Bolt Card engine. Index allocation runs through a single
// goroutine so no two cards can ever receive the same derivation index, and
// taps are serialized per index so a counter value is accepted at most once.
type Service struct {
	store CardStore

	indexRequests chan indexRequest

	// tapLocks maps derivation index to its tap mutex, created lazily
	tapLocks sync.Map

	authMu     sync.Mutex
	authTokens *gocache.Cache
}

type indexRequest struct {
	reply chan indexReply
}

type indexReply struct {
	index int
	err   error
}

// NewService starts the engine. The allocator goroutine runs until the
// context is cancelled.
func NewService(ctx context.Context, store CardStore) *Service {
	s := &Service{
		store:         store,
		indexRequests: make(chan indexRequest, 16),
		authTokens:    gocache.New(AuthTokenExpiry, 10*time.Minute),
	}
	go s.allocateIndexes(ctx)
	return s
}

// allocateIndexes is the single consumer of index requests. Each request
// increments the persisted high-water mark exactly once.
func (s *Service) allocateIndexes(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.indexRequests:
			settings, err := s.store.Settings()
			if err != nil {
				req.reply <- indexReply{err: err}
				continue
			}

			settings.LastIndexUsed++
			if err := s.store.SaveSettings(settings); err != nil {
				req.reply <- indexReply{err: err}
				continue
			}

			req.reply <- indexReply{index: settings.LastIndexUsed}
		}
	}
}

func (s *Service) nextIndex(ctx context.Context) (int, error) {
	req := indexRequest{reply: make(chan indexReply, 1)}

	select {
	case s.indexRequests <- req:
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case reply := <-req.reply:
		return reply.index, reply.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// CreateCard registers a new card for a withdraw config. The card has no
// index or keys yet; a physical card claims it later through IssueCard with
// the returned activation code.
func (s *Service) CreateCard(configID int, name string) (Card, error) {
	card := Card{
		ActivationCode:   uuid.New().String(),
		WithdrawConfigID: configID,
		Name:             name,
		Counter:          -1,
		Status:           StatusPendingActivation,
	}

	inserted, err := s.store.InsertCard(card)
	if err != nil {
		return Card{}, err
	}

	log.WithField("card", inserted.String()).Info("Created bolt card")

	return inserted, nil
}

// IssuedCard is what the card-programming app needs: the card row, its five
// keys, and the scan group its index falls into.
type IssuedCard struct {
	Card  Card
	Keys  CardKeys
	Group int
}

// IssueCard activates a pending card: assigns the next derivation index,
// flips it to Active and returns the derived keys for programming.
func (s *Service) IssueCard(ctx context.Context, activationCode string) (IssuedCard, error) {
	card, err := s.store.GetCardByActivationCode(activationCode)
	if err != nil {
		return IssuedCard{}, err
	}
	if card.Status != StatusPendingActivation {
		return IssuedCard{}, ErrNotPendingActivation
	}

	settings, err := s.store.Settings()
	if err != nil {
		return IssuedCard{}, err
	}

	if card.DerivationIndex == nil {
		index, err := s.nextIndex(ctx)
		if err != nil {
			return IssuedCard{}, err
		}
		card.DerivationIndex = &index
	}
	card.Status = StatusActive

	card, err = s.store.UpdateCard(card)
	if err != nil {
		return IssuedCard{}, err
	}

	log.WithFields(logrus.Fields{
		"cardId": card.ID,
		"index":  *card.DerivationIndex,
	}).Info("Issued bolt card")

	return IssuedCard{
		Card:  card,
		Keys:  DeriveCardKeys(settings.MasterSeed, *card.DerivationIndex),
		Group: card.Group(settings.GroupSize),
	}, nil
}

func (s *Service) tapLock(index int) *sync.Mutex {
	mu, _ := s.tapLocks.LoadOrStore(index, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// VerifyTap validates a tap's p and c parameters against the cards in the
// given scan group. On success it persists the new counter and returns the
// card plus a short-lived single-use authorization token.
func (s *Service) VerifyTap(ctx context.Context, group int, pHex, cHex string) (Card, string, error) {
	payload, err := hex.DecodeString(pHex)
	if err != nil || len(payload) != sunPayloadLength {
		return Card{}, "", ErrBadPayload
	}
	tapCMAC, err := hex.DecodeString(cHex)
	if err != nil || len(tapCMAC) != sunCMACLength {
		return Card{}, "", ErrBadPayload
	}

	settings, err := s.store.Settings()
	if err != nil {
		return Card{}, "", err
	}

	index, data, err := s.scanGroup(ctx, settings, group, payload)
	if err != nil {
		return Card{}, "", err
	}

	tapLogger := log.WithFields(logrus.Fields{
		"index":   index,
		"group":   group,
		"counter": data.Counter,
	})

	lock := s.tapLock(index)
	lock.Lock()
	defer lock.Unlock()

	card, err := s.store.GetCardByIndex(index)
	if err != nil {
		return Card{}, "", err
	}
	if card.Status != StatusActive {
		tapLogger.Warn("Tap on inactive card")
		return Card{}, "", ErrCardNotActive
	}

	if int64(data.Counter) <= card.Counter {
		tapLogger.WithField("lastCounter", card.Counter).Warn("Tap counter replayed")
		return Card{}, "", ErrCounterReplayed
	}

	uidHex := hex.EncodeToString(data.UID)
	if card.CardIdentifier == nil {
		card.CardIdentifier = &uidHex
	} else if *card.CardIdentifier != uidHex {
		tapLogger.Warn("Tap UID mismatch")
		return Card{}, "", ErrUIDMismatch
	}

	k2 := deriveCardKey(settings.MasterSeed, index, "k2")
	if err := checkTapCMAC(k2, data, tapCMAC); err != nil {
		tapLogger.Warn("Tap CMAC check failed")
		return Card{}, "", err
	}

	// only after the CMAC passes is the counter burned
	card.Counter = int64(data.Counter)
	card, err = s.store.UpdateCard(card)
	if err != nil {
		return Card{}, "", err
	}

	token := uuid.New().String()
	s.authTokens.SetDefault(token, card.ID)

	tapLogger.WithField("cardId", card.ID).Info("Verified tap")

	return card, token, nil
}

// VerifyTapURL extracts the p and c query parameters from a tap URL and
// verifies them.
func (s *Service) VerifyTapURL(ctx context.Context, rawURL string, group int) (Card, string, error) {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return Card{}, "", errors.Wrap(ErrBadPayload, err.Error())
	}
	query := parsed.Query()
	return s.VerifyTap(ctx, group, query.Get("p"), query.Get("c"))
}

// scanGroup brute-forces the candidate indices of a group until one derives
// a k1 that decrypts the payload into a well-formed block. Cancellation is
// checked between attempts since a scan can span hundreds of derivations.
func (s *Service) scanGroup(ctx context.Context, settings Settings, group int,
	payload []byte) (int, TapData, error) {

	start := group * settings.GroupSize
	for index := start; index < start+settings.GroupSize; index++ {
		if err := ctx.Err(); err != nil {
			return 0, TapData{}, err
		}

		k1 := deriveCardKey(settings.MasterSeed, index, "k1")
		data, err := decryptTapPayload(k1, payload)
		if err != nil {
			continue
		}
		return index, data, nil
	}

	return 0, TapData{}, ErrCardNotFound
}

// RedeemAuthToken consumes an authorization token, returning the card it
// was minted for. A token redeems at most once.
func (s *Service) RedeemAuthToken(token string) (Card, error) {
	s.authMu.Lock()
	cardID, found := s.authTokens.Get(token)
	if found {
		s.authTokens.Delete(token)
	}
	s.authMu.Unlock()

	if !found {
		return Card{}, ErrBadAuthToken
	}
	return s.store.GetCard(cardID.(int))
}

// GetCard returns a card by its id.
func (s *Service) GetCard(id int) (Card, error) {
	return s.store.GetCard(id)
}

// GetCardByWithdrawConfigID returns the card attached to a withdraw config.
func (s *Service) GetCardByWithdrawConfigID(configID int) (Card, error) {
	return s.store.GetCardByWithdrawConfigID(configID)
}

// MarkForReactivation returns a card to PendingActivation so new hardware
// can claim it: the UID binding is cleared and the counter reset.
func (s *Service) MarkForReactivation(cardID int) (Card, error) {
	card, err := s.store.GetCard(cardID)
	if err != nil {
		return Card{}, err
	}

	card.Status = StatusPendingActivation
	card.CardIdentifier = nil
	card.Counter = -1

	updated, err := s.store.UpdateCard(card)
	if err != nil {
		return Card{}, err
	}

	log.WithField("cardId", cardID).Info("Marked bolt card for reactivation")

	return updated, nil
}

// MarkInactive stops a card without clearing its UID or counter, so it can
// still be audited and wiped.
func (s *Service) MarkInactive(cardID int) (Card, error) {
	card, err := s.store.GetCard(cardID)
	if err != nil {
		return Card{}, err
	}

	card.Status = StatusInactive

	updated, err := s.store.UpdateCard(card)
	if err != nil {
		return Card{}, err
	}

	log.WithField("cardId", cardID).Info("Marked bolt card inactive")

	return updated, nil
}

// GroupSize returns the calibrated scan group size.
func (s *Service) GroupSize() (int, error) {
	settings, err := s.store.Settings()
	if err != nil {
		return 0, err
	}
	return settings.GroupSize, nil
}

// WipeContent returns the key material a card-programming app needs to wipe
// a card with the given derivation index.
func (s *Service) WipeContent(index int) (WipeResponse, error) {
	settings, err := s.store.Settings()
	if err != nil {
		return WipeResponse{}, err
	}

	keys := DeriveCardKeys(settings.MasterSeed, index)
	return NewWipeResponse(keys), nil
}
