package server

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/accounts"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/varekhin/chainduel/internal/duel"
	"github.com/varekhin/chainduel/internal/match"
	"github.com/varekhin/chainduel/internal/notify"
	"github.com/varekhin/chainduel/internal/session"
	"github.com/varekhin/chainduel/pkg/dueldto"
)

type frame struct {
	id    session.ConnID
	event string
	data  any
}

type captureSender struct {
	mu     sync.Mutex
	frames []frame
}

func (c *captureSender) Send(id session.ConnID, event string, data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.frames = append(c.frames, frame{id: id, event: event, data: data})
	return nil
}

func (c *captureSender) last(t *testing.T) frame {
	t.Helper()
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.frames) == 0 {
		t.Fatalf("no frames captured")
	}
	return c.frames[len(c.frames)-1]
}

func newTestServer(t *testing.T) (*Server, *captureSender) {
	t.Helper()
	rules := &duel.Ruleset{
		Choices:     []duel.Choice{duel.ChoiceAttack, duel.ChoiceBlock, duel.ChoiceTrick},
		Beats:       map[duel.Choice]duel.Choice{duel.ChoiceAttack: duel.ChoiceTrick, duel.ChoiceTrick: duel.ChoiceBlock, duel.ChoiceBlock: duel.ChoiceAttack},
		MaxHealth:   100,
		RoundDamage: 30,
		MoveTimeout: time.Minute,
	}
	reg := session.NewRegistry()
	dir := duel.NewDirectory()
	sent := &captureSender{}
	notifier := notify.New(reg, sent)
	engine := duel.NewEngine(dir, rules, notifier)
	matches := match.NewManager(dir, rules, notifier)
	srv := New(reg, matches, engine, dir)
	srv.out = sent
	return srv, sent
}

func mustJSON(t *testing.T, v any) json.RawMessage {
	t.Helper()
	raw, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return raw
}

// verifyConn runs the full wallet handshake through dispatch so the
// session ends up IDLE with an indexed address.
func verifyConn(t *testing.T, srv *Server, sent *captureSender) (session.ConnID, string) {
	t.Helper()
	key, err := crypto.GenerateKey()
	if err != nil {
		t.Fatalf("generate key: %v", err)
	}
	addr := crypto.PubkeyToAddress(key.PublicKey).Hex()
	id := session.NewConnID()
	s := srv.registry.Register(id)
	sig, err := crypto.Sign(accounts.TextHash([]byte(s.Token)), key)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	srv.dispatch(context.Background(), id, dueldto.Envelope{
		Event: dueldto.EvVerifySignature,
		Data:  mustJSON(t, dueldto.VerifySignatureRequest{Address: addr, Signature: hexutil.Encode(sig)}),
	})
	f := sent.last(t)
	if f.event != dueldto.EvVerificationCompleted {
		t.Fatalf("handshake failed: %+v", f)
	}
	return id, addr
}

func TestDispatchRejectsPreAuthRequests(t *testing.T) {
	srv, sent := newTestServer(t)
	id := session.NewConnID()
	srv.registry.Register(id)

	events := []dueldto.Envelope{
		{Event: dueldto.EvCreateOffer, Data: mustJSON(t, dueldto.CreateOfferRequest{AssetID: 1, Bet: "0.5"})},
		{Event: dueldto.EvListOffers},
		{Event: dueldto.EvRecommendedOffers},
		{Event: dueldto.EvAcceptOffer, Data: mustJSON(t, dueldto.AcceptOfferRequest{OfferID: 1, AssetID: 2})},
		{Event: dueldto.EvStartDuel, Data: mustJSON(t, dueldto.StartDuelRequest{OfferID: 1, AcceptID: 1})},
		{Event: dueldto.EvSubmitMove, Data: mustJSON(t, dueldto.SubmitMoveRequest{Choice: "attack"})},
		{Event: dueldto.EvDuelLog, Data: mustJSON(t, dueldto.DuelLogRequest{DuelID: 1})},
	}
	for _, env := range events {
		srv.dispatch(context.Background(), id, env)
		f := sent.last(t)
		if f.event != dueldto.EvError {
			t.Fatalf("%s: expected error frame, got %s", env.Event, f.event)
		}
		p := f.data.(dueldto.ErrorPayload)
		if p.Code != dueldto.CodeAuthRequired {
			t.Fatalf("%s: expected AUTH_REQUIRED, got %s", env.Event, p.Code)
		}
	}
	if n := len(srv.matches.ListOffers("")); n != 0 {
		t.Fatalf("pre-auth request mutated state: %d offers", n)
	}
}

func TestVerifySignatureAllowedPreAuth(t *testing.T) {
	srv, sent := newTestServer(t)
	id := session.NewConnID()
	srv.registry.Register(id)

	// a garbage signature still reaches the verifier instead of the
	// auth gate
	srv.dispatch(context.Background(), id, dueldto.Envelope{
		Event: dueldto.EvVerifySignature,
		Data:  mustJSON(t, dueldto.VerifySignatureRequest{Address: "0x000000000000000000000000000000000000dEaD", Signature: "0x00"}),
	})
	f := sent.last(t)
	if f.event != dueldto.EvVerificationError {
		t.Fatalf("expected verification_error, got %s", f.event)
	}
}

func TestDispatchCreateOfferAfterVerify(t *testing.T) {
	srv, sent := newTestServer(t)
	id, addr := verifyConn(t, srv, sent)

	srv.dispatch(context.Background(), id, dueldto.Envelope{
		Event: dueldto.EvCreateOffer,
		Data:  mustJSON(t, dueldto.CreateOfferRequest{AssetID: 7, AssetType: 1, Bet: "0.5"}),
	})
	f := sent.last(t)
	if f.event != dueldto.EvOfferCreated {
		t.Fatalf("expected offer_created, got %+v", f)
	}
	p := f.data.(dueldto.OfferPayload)
	if p.Creator != addr || p.AssetID != 7 || p.State != "LISTED" {
		t.Fatalf("unexpected offer payload: %+v", p)
	}
	if _, err := srv.dir.Get(p.ID); err != nil {
		t.Fatalf("duel not registered: %v", err)
	}
}

func TestDisconnectDropsListedOffer(t *testing.T) {
	srv, sent := newTestServer(t)
	id, addr := verifyConn(t, srv, sent)

	o, err := srv.matches.CreateOffer(addr, match.Asset{ID: 7}, "0.5")
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}

	srv.disconnect(id)

	if _, err := srv.dir.Get(o.ID); !errors.Is(err, duel.ErrNotFound) {
		t.Fatalf("duel should be evicted, got %v", err)
	}
	if _, err := srv.matches.GetOffer(o.ID); !errors.Is(err, match.ErrOfferNotFound) {
		t.Fatalf("offer should be removed, got %v", err)
	}
	if _, err := srv.registry.Lookup(id); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("session should be gone, got %v", err)
	}
}

func TestDisconnectKeepsLiveDuelAndMatchedOffer(t *testing.T) {
	srv, sent := newTestServer(t)
	creatorConn, creator := verifyConn(t, srv, sent)
	_, acceptor := verifyConn(t, srv, sent)

	o, err := srv.matches.CreateOffer(creator, match.Asset{ID: 7}, "0.5")
	if err != nil {
		t.Fatalf("CreateOffer: %v", err)
	}
	a, err := srv.matches.AcceptOffer(acceptor, o.ID, match.Asset{ID: 8})
	if err != nil {
		t.Fatalf("AcceptOffer: %v", err)
	}
	duelID, err := srv.matches.StartDuel(o.ID, a.ID)
	if err != nil {
		t.Fatalf("StartDuel: %v", err)
	}
	srv.registry.BindDuel(creator, duelID)
	srv.registry.BindDuel(acceptor, duelID)

	srv.disconnect(creatorConn)

	if _, err := srv.dir.Get(duelID); err != nil {
		t.Fatalf("live duel must survive the creator leaving: %v", err)
	}
	if got, err := srv.matches.GetOffer(o.ID); err != nil || got.State != match.OfferMatched {
		t.Fatalf("matched offer must stay: %+v %v", got, err)
	}
}

func TestDisconnectUnverifiedIsNoop(t *testing.T) {
	srv, _ := newTestServer(t)
	id := session.NewConnID()
	srv.registry.Register(id)

	srv.disconnect(id)

	if _, err := srv.registry.Lookup(id); !errors.Is(err, session.ErrSessionNotFound) {
		t.Fatalf("session should be gone, got %v", err)
	}
}
