package duel

import (
	"context"
	"sync"
	"testing"
	"time"
)

type captureNotifier struct {
	mu       sync.Mutex
	outcomes []RoundOutcome
	ch       chan RoundOutcome
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{ch: make(chan RoundOutcome, 16)}
}

func (c *captureNotifier) RoundResolved(o RoundOutcome) {
	c.mu.Lock()
	c.outcomes = append(c.outcomes, o)
	c.mu.Unlock()
	c.ch <- o
}

func (c *captureNotifier) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.outcomes)
}

type captureStore struct {
	mu       sync.Mutex
	rounds   []int
	finished []string
}

func (c *captureStore) SaveRound(_ context.Context, _ int64, number int, _ string, _ []Move) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.rounds = append(c.rounds, number)
	return nil
}

func (c *captureStore) FinishDuel(_ context.Context, _ int64, winner string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finished = append(c.finished, winner)
	return nil
}

func testRules(timeout time.Duration) *Ruleset {
	return &Ruleset{
		Choices:     []Choice{ChoiceAttack, ChoiceBlock, ChoiceTrick},
		Beats:       map[Choice]Choice{ChoiceAttack: ChoiceTrick, ChoiceTrick: ChoiceBlock, ChoiceBlock: ChoiceAttack},
		MaxHealth:   100,
		RoundDamage: 30,
		MoveTimeout: timeout,
	}
}

func newTestEngine(t *testing.T, timeout time.Duration) (*Engine, *Directory, *captureNotifier, *captureStore) {
	t.Helper()
	dir := NewDirectory()
	n := newCaptureNotifier()
	e := NewEngine(dir, testRules(timeout), n)
	st := &captureStore{}
	e.AttachStore(st)
	return e, dir, n, st
}

func startDuel(t *testing.T, dir *Directory, id int64, creator, acceptor string) {
	t.Helper()
	dir.Create(id, creator, 100)
	if err := dir.WithDuel(id, func(s *State) error {
		s.Acceptor = acceptor
		s.Phase = PhaseInDuel
		return nil
	}); err != nil {
		t.Fatalf("start duel: %v", err)
	}
}

func TestSubmitMoveResolvesRound(t *testing.T) {
	e, dir, n, _ := newTestEngine(t, time.Minute)
	startDuel(t, dir, 1, "alice", "bob")

	round, err := e.SubmitMove(1, "alice", ChoiceAttack)
	if err != nil || round != 1 {
		t.Fatalf("first move: round=%d err=%v", round, err)
	}
	if n.count() != 0 {
		t.Fatalf("round resolved with one move")
	}
	round, err = e.SubmitMove(1, "bob", ChoiceTrick)
	if err != nil || round != 1 {
		t.Fatalf("second move: round=%d err=%v", round, err)
	}

	out := <-n.ch
	if out.Winner != "alice" || out.Round != 1 {
		t.Fatalf("unexpected outcome: %+v", out)
	}
	if out.CreatorHealth != 100 || out.AcceptorHealth != 70 {
		t.Fatalf("unexpected health: %+v", out)
	}
	if out.Final {
		t.Fatalf("first round should not be final")
	}
}

func TestDrawDealsNoDamage(t *testing.T) {
	e, dir, n, _ := newTestEngine(t, time.Minute)
	startDuel(t, dir, 1, "alice", "bob")

	if _, err := e.SubmitMove(1, "alice", ChoiceBlock); err != nil {
		t.Fatalf("alice: %v", err)
	}
	if _, err := e.SubmitMove(1, "bob", ChoiceBlock); err != nil {
		t.Fatalf("bob: %v", err)
	}
	out := <-n.ch
	if out.Winner != WinnerDraw {
		t.Fatalf("expected draw, got %q", out.Winner)
	}
	if out.CreatorHealth != 100 || out.AcceptorHealth != 100 {
		t.Fatalf("draw must not deal damage: %+v", out)
	}
}

func TestDuelEndsWhenHealthReachesZero(t *testing.T) {
	e, dir, n, st := newTestEngine(t, time.Minute)
	startDuel(t, dir, 1, "alice", "bob")

	// alice wins four rounds: 100 -> 70 -> 40 -> 10 -> 0
	for i := 1; i <= 4; i++ {
		if _, err := e.SubmitMove(1, "alice", ChoiceAttack); err != nil {
			t.Fatalf("round %d alice: %v", i, err)
		}
		if _, err := e.SubmitMove(1, "bob", ChoiceTrick); err != nil {
			t.Fatalf("round %d bob: %v", i, err)
		}
		out := <-n.ch
		if out.Round != i {
			t.Fatalf("round numbering gap: got %d want %d", out.Round, i)
		}
		wantFinal := i == 4
		if out.Final != wantFinal {
			t.Fatalf("round %d final=%v", i, out.Final)
		}
		if wantFinal && out.AcceptorHealth != 0 {
			t.Fatalf("loser health not clamped: %+v", out)
		}
	}

	if _, err := e.SubmitMove(1, "alice", ChoiceAttack); err != ErrEnded {
		t.Fatalf("expected ErrEnded after final round, got %v", err)
	}

	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.rounds) != 4 {
		t.Fatalf("expected 4 persisted rounds, got %v", st.rounds)
	}
	if len(st.finished) != 1 || st.finished[0] != "alice" {
		t.Fatalf("expected alice recorded as duel winner, got %v", st.finished)
	}
}

func TestDuplicateMoveRejected(t *testing.T) {
	e, dir, _, _ := newTestEngine(t, time.Minute)
	startDuel(t, dir, 1, "alice", "bob")

	if _, err := e.SubmitMove(1, "alice", ChoiceAttack); err != nil {
		t.Fatalf("first: %v", err)
	}
	if _, err := e.SubmitMove(1, "alice", ChoiceBlock); err != ErrMoveExists {
		t.Fatalf("expected ErrMoveExists, got %v", err)
	}
	// the first move is untouched
	rounds, err := e.Log(1)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	if len(rounds) != 1 || rounds[0].Moves[0].Choice != ChoiceAttack {
		t.Fatalf("first move was disturbed: %+v", rounds)
	}
}

func TestSubmitMoveGuards(t *testing.T) {
	e, dir, _, _ := newTestEngine(t, time.Minute)
	dir.Create(1, "alice", 100)

	if _, err := e.SubmitMove(1, "alice", ChoiceAttack); err != ErrNotStarted {
		t.Fatalf("listed duel: expected ErrNotStarted, got %v", err)
	}
	if _, err := e.SubmitMove(2, "alice", ChoiceAttack); err != ErrNotFound {
		t.Fatalf("missing duel: expected ErrNotFound, got %v", err)
	}

	startDuel(t, dir, 3, "alice", "bob")
	if _, err := e.SubmitMove(3, "mallory", ChoiceAttack); err != ErrNotParticipant {
		t.Fatalf("expected ErrNotParticipant, got %v", err)
	}
	if _, err := e.SubmitMove(3, "alice", Choice("fireball")); err != ErrBadChoice {
		t.Fatalf("expected ErrBadChoice, got %v", err)
	}
}

func TestForcedResolutionFillsMissingMove(t *testing.T) {
	e, dir, n, _ := newTestEngine(t, 50*time.Millisecond)
	startDuel(t, dir, 1, "alice", "bob")

	if _, err := e.SubmitMove(1, "alice", ChoiceAttack); err != nil {
		t.Fatalf("alice: %v", err)
	}

	select {
	case out := <-n.ch:
		if out.Round != 1 {
			t.Fatalf("unexpected round: %+v", out)
		}
		if out.CreatorChoice != ChoiceAttack {
			t.Fatalf("submitted move must be kept: %+v", out)
		}
		if out.AcceptorChoice == "" {
			t.Fatalf("missing move was not filled: %+v", out)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("forced resolution never fired")
	}

	// next round numbering continues without a gap
	round, err := e.SubmitMove(1, "bob", ChoiceBlock)
	if err != nil || round != 2 {
		t.Fatalf("next round: round=%d err=%v", round, err)
	}
}

func TestTimerDoesNotDoubleResolve(t *testing.T) {
	e, dir, n, _ := newTestEngine(t, 50*time.Millisecond)
	startDuel(t, dir, 1, "alice", "bob")

	if _, err := e.SubmitMove(1, "alice", ChoiceAttack); err != nil {
		t.Fatalf("alice: %v", err)
	}
	if _, err := e.SubmitMove(1, "bob", ChoiceTrick); err != nil {
		t.Fatalf("bob: %v", err)
	}
	<-n.ch

	time.Sleep(150 * time.Millisecond)
	if got := n.count(); got != 1 {
		t.Fatalf("round resolved %d times", got)
	}
}

func TestLogReturnsCopies(t *testing.T) {
	e, dir, n, _ := newTestEngine(t, time.Minute)
	startDuel(t, dir, 1, "alice", "bob")

	if _, err := e.SubmitMove(1, "alice", ChoiceAttack); err != nil {
		t.Fatalf("alice: %v", err)
	}
	if _, err := e.SubmitMove(1, "bob", ChoiceTrick); err != nil {
		t.Fatalf("bob: %v", err)
	}
	<-n.ch

	rounds, err := e.Log(1)
	if err != nil {
		t.Fatalf("Log: %v", err)
	}
	rounds[0].Moves[0].Choice = Choice("tampered")

	again, err := e.Log(1)
	if err != nil {
		t.Fatalf("Log again: %v", err)
	}
	if again[0].Moves[0].Choice == Choice("tampered") {
		t.Fatalf("Log leaked internal state")
	}
}
