package duel

import (
	"sync"
	"time"

	"github.com/varekhin/chainduel/internal/obslog"
	"go.uber.org/zap"
)

const defaultLockWait = 5 * time.Second

// Directory owns the map of live duels and the per-duel locking
// discipline. Handlers never touch a State outside WithDuel.
type Directory struct {
	mu       sync.RWMutex
	duels    map[int64]*State
	lockWait time.Duration
}

func NewDirectory() *Directory {
	return &Directory{
		duels:    make(map[int64]*State),
		lockWait: defaultLockWait,
	}
}

// SetLockWait adjusts the acquisition bound, mainly for tests.
func (d *Directory) SetLockWait(w time.Duration) {
	if w > 0 {
		d.lockWait = w
	}
}

// Create registers the minimal LISTED duel for a freshly listed offer.
// The duel id is the offer id; the acceptor is bound later by matchmaking.
func (d *Directory) Create(id int64, creator string, maxHealth int) *State {
	s := newState(id, creator, maxHealth)
	d.mu.Lock()
	d.duels[id] = s
	d.mu.Unlock()
	return s
}

// Get returns the live duel or ErrNotFound. The returned State must only
// be mutated through WithDuel.
func (d *Directory) Get(id int64) (*State, error) {
	d.mu.RLock()
	s, ok := d.duels[id]
	d.mu.RUnlock()
	if !ok {
		return nil, ErrNotFound
	}
	return s, nil
}

// WithDuel runs fn with exclusive access to the duel's mutable fields.
// Failing to acquire the lock within the bound is treated as a stuck duel:
// the call fails loudly with ErrLockTimeout and the process keeps running.
func (d *Directory) WithDuel(id int64, fn func(*State) error) error {
	s, err := d.Get(id)
	if err != nil {
		return err
	}
	select {
	case <-s.lock:
	case <-time.After(d.lockWait):
		obslog.L().Error("duel_lock_timeout", zap.Int64("duel_id", id), zap.Duration("wait", d.lockWait))
		return ErrLockTimeout
	}
	defer func() { s.lock <- struct{}{} }()
	return fn(s)
}

// Evict drops the duel from the live map. Persisted rows are untouched.
func (d *Directory) Evict(id int64) {
	d.mu.Lock()
	delete(d.duels, id)
	d.mu.Unlock()
}

// Len reports the number of live duels.
func (d *Directory) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.duels)
}

// Abandonment is the outcome of a participant disconnecting.
type Abandonment struct {
	// OfferOrphaned is set when a LISTED duel lost its creator; the caller
	// should drop the matching offer and its persisted row.
	OfferOrphaned bool
	// Evicted is set when the duel left the live directory.
	Evicted bool
}

// HandleDisconnect runs duel-abandonment cleanup for addr under the
// duel's own lock. A LISTED duel whose creator leaves is evicted; an
// IN_DUEL or ENDED duel stays for audit until both participants are gone.
func (d *Directory) HandleDisconnect(id int64, addr string) (Abandonment, error) {
	var out Abandonment
	err := d.WithDuel(id, func(s *State) error {
		switch s.Phase {
		case PhaseListed:
			if addr == s.Creator {
				out.OfferOrphaned = true
				out.Evicted = true
			}
		case PhaseInDuel, PhaseEnded:
			if s.IsParticipant(addr) {
				s.left[addr] = true
			}
			if s.Phase == PhaseEnded && s.left[s.Creator] && s.left[s.Acceptor] {
				out.Evicted = true
			}
		}
		return nil
	})
	if err != nil {
		return out, err
	}
	if out.Evicted {
		d.Evict(id)
		obslog.L().Info("duel_evicted",
			zap.Int64("duel_id", id),
			zap.String("address", addr),
			zap.Bool("offer_orphaned", out.OfferOrphaned),
		)
	}
	return out, nil
}
