package session

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/varekhin/chainduel/internal/obslog"
	"github.com/varekhin/chainduel/internal/wallet"
	"go.uber.org/zap"
)

// ConnID is the opaque identity of one live connection. Sessions are
// keyed by it; nothing ever scans the session map to find a peer.
type ConnID string

func NewConnID() ConnID { return ConnID(uuid.NewString()) }

// State is the session lifecycle.
type State string

const (
	StateUnverified State = "UNVERIFIED"
	StateIdle       State = "IDLE"
	StateInDuel     State = "IN_DUEL"
)

var (
	ErrSessionNotFound   = errors.New("session not found")
	ErrSignatureMismatch = errors.New("recovered signer does not match the claimed address")
)

// Session is one connection's auth state. Owned exclusively by the
// Registry; other components read copies.
type Session struct {
	ConnID  ConnID
	Token   string // one-time message the wallet must sign
	Address string // empty until verified
	State   State
	DuelID  int64 // 0 when not in a duel
}

// Registry owns the session map. Mutation happens only in the
// connect/authenticate/disconnect handlers; removal is atomic with
// respect to concurrent lookups.
type Registry struct {
	mu     sync.RWMutex
	byConn map[ConnID]*Session
	byAddr map[string]ConnID

	keys *KeyStore // optional Redis mirror of verified session keys
}

func NewRegistry() *Registry {
	return &Registry{
		byConn: make(map[ConnID]*Session),
		byAddr: make(map[string]ConnID),
	}
}

// AttachKeyStore wires the Redis session-key mirror.
func (r *Registry) AttachKeyStore(ks *KeyStore) {
	if r != nil {
		r.keys = ks
	}
}

// Register creates an UNVERIFIED session with a fresh random token. The
// token is the message the client must sign to prove wallet ownership.
func (r *Registry) Register(id ConnID) Session {
	s := &Session{
		ConnID: id,
		Token:  uuid.NewString(),
		State:  StateUnverified,
	}
	r.mu.Lock()
	r.byConn[id] = s
	r.mu.Unlock()
	obslog.L().Info("session_register", zap.String("conn_id", string(id)))
	return *s
}

// Authenticate verifies that the signature over the session token was
// produced by the claimed address. Any failure leaves the session
// UNVERIFIED and reports the specific cryptographic reason.
func (r *Registry) Authenticate(ctx context.Context, id ConnID, claimed, signature string) (Session, error) {
	r.mu.RLock()
	s, ok := r.byConn[id]
	r.mu.RUnlock()
	if !ok {
		return Session{}, ErrSessionNotFound
	}

	addr, err := wallet.Checksum(claimed)
	if err != nil {
		return Session{}, err
	}
	recovered, err := wallet.RecoverAddress(s.Token, signature)
	if err != nil {
		return Session{}, err
	}
	if recovered != addr {
		return Session{}, fmt.Errorf("%w: recovered %s", ErrSignatureMismatch, recovered.Hex())
	}

	r.mu.Lock()
	s, ok = r.byConn[id]
	if !ok {
		r.mu.Unlock()
		return Session{}, ErrSessionNotFound
	}
	s.Address = addr.Hex()
	s.State = StateIdle
	r.byAddr[s.Address] = id
	out := *s
	r.mu.Unlock()

	if r.keys != nil {
		if kerr := r.keys.SaveVerified(ctx, out.Token, out.Address); kerr != nil {
			obslog.L().Warn("session_key_mirror_error", zap.String("conn_id", string(id)), zap.Error(kerr))
		}
	}
	obslog.L().Info("session_verified", zap.String("conn_id", string(id)), zap.String("address", out.Address))
	return out, nil
}

// Lookup returns a copy of the session.
func (r *Registry) Lookup(id ConnID) (Session, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.byConn[id]
	if !ok {
		return Session{}, ErrSessionNotFound
	}
	return *s, nil
}

// ConnByAddress resolves a verified address to its live connection.
func (r *Registry) ConnByAddress(addr string) (ConnID, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byAddr[addr]
	return id, ok
}

// BindDuel marks a verified player as fighting in the given duel.
func (r *Registry) BindDuel(addr string, duelID int64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byAddr[addr]; ok {
		if s, ok := r.byConn[id]; ok {
			s.State = StateInDuel
			s.DuelID = duelID
		}
	}
}

// ReleaseDuel returns a player to IDLE once their duel is gone.
func (r *Registry) ReleaseDuel(addr string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if id, ok := r.byAddr[addr]; ok {
		if s, ok := r.byConn[id]; ok && s.State == StateInDuel {
			s.State = StateIdle
			s.DuelID = 0
		}
	}
}

// Unregister removes the session atomically and returns its final copy
// so the caller can run duel-abandonment cleanup.
func (r *Registry) Unregister(id ConnID) (Session, bool) {
	r.mu.Lock()
	s, ok := r.byConn[id]
	if !ok {
		r.mu.Unlock()
		return Session{}, false
	}
	delete(r.byConn, id)
	if s.Address != "" && r.byAddr[s.Address] == id {
		delete(r.byAddr, s.Address)
	}
	out := *s
	r.mu.Unlock()
	obslog.L().Info("session_unregister", zap.String("conn_id", string(id)), zap.String("address", out.Address))
	return out, true
}

// Len reports the number of live sessions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byConn)
}
