package match

import (
	"context"
	"crypto/rand"
	"math/big"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/varekhin/chainduel/internal/duel"
	"github.com/varekhin/chainduel/internal/obslog"
	"go.uber.org/zap"
)

const storeTimeout = 2 * time.Second

// recommendLimit caps Recommend results, matching the lobby UI.
const recommendLimit = 3

// Store mirrors offers and accepts into durable storage. All calls are
// best-effort at creation/match boundaries.
type Store interface {
	SaveOffer(ctx context.Context, o *Offer) error
	DeleteOffer(ctx context.Context, id int64) error
	SaveAccept(ctx context.Context, a *Accept) error
	MarkOfferMatched(ctx context.Context, offerID, acceptID int64) error
}

// Notifier delivers matchmaking events to the affected players.
type Notifier interface {
	OfferAccepted(o Offer, a Accept)
	DuelStarted(duelID int64, creator, acceptor string, health int)
	DuelCancelled(duelID int64, addr string)
}

// Manager owns the live offer/accept books and drives duel creation into
// the Duel Directory. All maps are guarded by its own mutex; duel state
// itself is only touched through the directory's lock.
type Manager struct {
	mu       sync.RWMutex
	offers   map[int64]*Offer
	accepts  map[int64]*Accept
	byOffer  map[int64][]int64
	offerSeq atomic.Int64
	accSeq   atomic.Int64

	dir      *duel.Directory
	rules    *duel.Ruleset
	notifier Notifier
	store    Store
}

func NewManager(dir *duel.Directory, rules *duel.Ruleset, notifier Notifier) *Manager {
	return &Manager{
		offers:   make(map[int64]*Offer),
		accepts:  make(map[int64]*Accept),
		byOffer:  make(map[int64][]int64),
		dir:      dir,
		rules:    rules,
		notifier: notifier,
	}
}

// AttachStore wires the durable mirror for offer/accept rows.
func (m *Manager) AttachStore(s Store) {
	if m != nil {
		m.store = s
	}
}

// CreateOffer lists a new offer and registers its minimal LISTED duel in
// the directory under the same id.
func (m *Manager) CreateOffer(creator string, asset Asset, bet string) (Offer, error) {
	if strings.TrimSpace(creator) == "" || asset.ID <= 0 || strings.TrimSpace(bet) == "" {
		return Offer{}, ErrInvalidArgs
	}
	o := &Offer{
		ID:        m.offerSeq.Add(1),
		Creator:   creator,
		Asset:     asset,
		Bet:       bet,
		State:     OfferListed,
		CreatedAt: time.Now(),
	}
	m.mu.Lock()
	m.offers[o.ID] = o
	m.mu.Unlock()

	m.dir.Create(o.ID, creator, m.rules.MaxHealth)
	m.persistOffer(o)
	obslog.L().Info("offer_created",
		zap.Int64("offer_id", o.ID),
		zap.String("creator", creator),
		zap.Int64("asset_id", asset.ID),
		zap.String("bet", bet),
	)
	return *o, nil
}

// ListOffers returns offers, optionally filtered to one creator address.
func (m *Manager) ListOffers(filterAddr string) []Offer {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Offer, 0, len(m.offers))
	for _, o := range m.offers {
		if filterAddr != "" && o.Creator != filterAddr {
			continue
		}
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Recommend returns up to three LISTED offers not created by addr,
// sampled uniformly without replacement when more are eligible.
func (m *Manager) Recommend(addr string) []Offer {
	m.mu.RLock()
	eligible := make([]Offer, 0, len(m.offers))
	for _, o := range m.offers {
		if o.State != OfferListed || o.Creator == addr {
			continue
		}
		eligible = append(eligible, *o)
	}
	m.mu.RUnlock()
	sort.Slice(eligible, func(i, j int) bool { return eligible[i].ID < eligible[j].ID })
	if len(eligible) <= recommendLimit {
		return eligible
	}
	// partial Fisher-Yates over the first recommendLimit slots
	for i := 0; i < recommendLimit; i++ {
		n, err := rand.Int(rand.Reader, big.NewInt(int64(len(eligible)-i)))
		if err != nil {
			break
		}
		j := i + int(n.Int64())
		eligible[i], eligible[j] = eligible[j], eligible[i]
	}
	return eligible[:recommendLimit]
}

// GetOffer returns a copy of the offer.
func (m *Manager) GetOffer(id int64) (Offer, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.offers[id]
	if !ok {
		return Offer{}, ErrOfferNotFound
	}
	return *o, nil
}

// AcceptOffer records addr's counter-stake against a LISTED offer. The
// offer's creator is notified; self-accepts and non-listed offers are
// rejected before anything is recorded.
func (m *Manager) AcceptOffer(addr string, offerID int64, asset Asset) (Accept, error) {
	if strings.TrimSpace(addr) == "" || asset.ID <= 0 {
		return Accept{}, ErrInvalidArgs
	}
	m.mu.Lock()
	o, ok := m.offers[offerID]
	if !ok {
		m.mu.Unlock()
		return Accept{}, ErrOfferNotFound
	}
	if o.Creator == addr {
		m.mu.Unlock()
		return Accept{}, ErrSelfMatch
	}
	if o.State != OfferListed {
		m.mu.Unlock()
		return Accept{}, ErrAlreadyStarted
	}
	a := &Accept{
		ID:        m.accSeq.Add(1),
		OfferID:   offerID,
		Acceptor:  addr,
		Asset:     asset,
		CreatedAt: time.Now(),
	}
	m.accepts[a.ID] = a
	m.byOffer[offerID] = append(m.byOffer[offerID], a.ID)
	offer := *o
	m.mu.Unlock()

	m.persistAccept(a)
	obslog.L().Info("offer_accepted",
		zap.Int64("offer_id", offerID),
		zap.Int64("accept_id", a.ID),
		zap.String("acceptor", addr),
	)
	m.notifier.OfferAccepted(offer, *a)
	return *a, nil
}

// Accepts lists the accepts recorded against one offer.
func (m *Manager) Accepts(offerID int64) []Accept {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ids := m.byOffer[offerID]
	out := make([]Accept, 0, len(ids))
	for _, id := range ids {
		if a, ok := m.accepts[id]; ok {
			out = append(out, *a)
		}
	}
	return out
}

// StartDuel promotes one accept of an offer into a live duel. The duel's
// LISTED→IN_DUEL transition in the directory is the exactly-once gate;
// every other acceptor of the offer is told their accept was cancelled.
func (m *Manager) StartDuel(offerID, acceptID int64) (duelID int64, err error) {
	m.mu.RLock()
	o, ok := m.offers[offerID]
	if !ok {
		m.mu.RUnlock()
		return 0, ErrOfferNotFound
	}
	a, ok := m.accepts[acceptID]
	if !ok || a.OfferID != offerID {
		m.mu.RUnlock()
		return 0, ErrAcceptNotFound
	}
	if o.State == OfferMatched {
		m.mu.RUnlock()
		return 0, ErrAlreadyStarted
	}
	if o.State != OfferListed {
		m.mu.RUnlock()
		return 0, ErrNotListed
	}
	if o.Creator == a.Acceptor {
		m.mu.RUnlock()
		return 0, ErrSelfMatch
	}
	creator, acceptor := o.Creator, a.Acceptor
	m.mu.RUnlock()

	// The duel phase transition is the single authoritative gate against
	// a concurrent StartDuel for the same offer.
	err = m.dir.WithDuel(offerID, func(s *duel.State) error {
		if s.Phase != duel.PhaseListed {
			return ErrAlreadyStarted
		}
		s.Acceptor = acceptor
		s.Phase = duel.PhaseInDuel
		return nil
	})
	if err != nil {
		if err == duel.ErrNotFound {
			return 0, ErrOfferNotFound
		}
		return 0, err
	}

	var losers []Accept
	m.mu.Lock()
	o.State = OfferMatched
	a.Promoted = true
	for _, id := range m.byOffer[offerID] {
		if id == acceptID {
			continue
		}
		if other, ok := m.accepts[id]; ok {
			losers = append(losers, *other)
		}
	}
	m.mu.Unlock()

	m.persistMatch(offerID, acceptID)
	obslog.L().Info("duel_started",
		zap.Int64("duel_id", offerID),
		zap.Int64("accept_id", acceptID),
		zap.String("creator", creator),
		zap.String("acceptor", acceptor),
	)

	m.notifier.DuelStarted(offerID, creator, acceptor, m.rules.MaxHealth)
	for _, l := range losers {
		m.notifier.DuelCancelled(offerID, l.Acceptor)
	}
	return offerID, nil
}

// DropOffer removes an orphaned offer and its accepts after the creator
// disconnected before matching. The persisted offer row goes with it.
func (m *Manager) DropOffer(offerID int64) {
	m.mu.Lock()
	delete(m.offers, offerID)
	for _, id := range m.byOffer[offerID] {
		delete(m.accepts, id)
	}
	delete(m.byOffer, offerID)
	m.mu.Unlock()

	if m.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
		defer cancel()
		if err := m.store.DeleteOffer(ctx, offerID); err != nil {
			obslog.L().Warn("offer_delete_error", zap.Int64("offer_id", offerID), zap.Error(err))
		}
	}
	obslog.L().Info("offer_dropped", zap.Int64("offer_id", offerID))
}

func (m *Manager) persistOffer(o *Offer) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := m.store.SaveOffer(ctx, o); err != nil {
		obslog.L().Warn("offer_persist_error", zap.Int64("offer_id", o.ID), zap.Error(err))
	}
}

func (m *Manager) persistAccept(a *Accept) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := m.store.SaveAccept(ctx, a); err != nil {
		obslog.L().Warn("accept_persist_error", zap.Int64("accept_id", a.ID), zap.Error(err))
	}
}

func (m *Manager) persistMatch(offerID, acceptID int64) {
	if m.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := m.store.MarkOfferMatched(ctx, offerID, acceptID); err != nil {
		obslog.L().Warn("match_persist_error", zap.Int64("offer_id", offerID), zap.Error(err))
	}
}
