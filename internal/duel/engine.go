package duel

import (
	"context"
	"time"

	"github.com/varekhin/chainduel/internal/obslog"
	"go.uber.org/zap"
)

// storeTimeout bounds best-effort persistence at round boundaries; the
// in-memory State stays authoritative when the store is slow or down.
const storeTimeout = 2 * time.Second

// RoundOutcome is the immutable snapshot handed to the Notifier after a
// round resolves, taken under the duel lock.
type RoundOutcome struct {
	DuelID         int64
	Creator        string
	Acceptor       string
	Round          int
	CreatorChoice  Choice
	AcceptorChoice Choice
	CreatorHealth  int
	AcceptorHealth int
	Winner         string // participant address, or WinnerDraw
	Final          bool   // the duel ended with this round
}

// Notifier receives resolved rounds. Delivery must be best-effort: the
// engine never undoes a committed resolution because a peer is gone.
type Notifier interface {
	RoundResolved(RoundOutcome)
}

// Store mirrors resolved state into durable storage. Implementations may
// be nil-safe no-ops; every call is bounded by storeTimeout.
type Store interface {
	SaveRound(ctx context.Context, duelID int64, number int, winner string, moves []Move) error
	FinishDuel(ctx context.Context, duelID int64, winner string) error
}

// Engine runs the round state machine for every live duel. All mutation
// goes through the Directory's per-duel lock.
type Engine struct {
	dir      *Directory
	rules    *Ruleset
	notifier Notifier
	store    Store
}

func NewEngine(dir *Directory, rules *Ruleset, notifier Notifier) *Engine {
	return &Engine{dir: dir, rules: rules, notifier: notifier}
}

// AttachStore wires the durable mirror for round/duel boundaries.
func (e *Engine) AttachStore(s Store) {
	if e != nil {
		e.store = s
	}
}

func (e *Engine) Rules() *Ruleset { return e.rules }

// SubmitMove registers addr's choice for the current round of the duel.
// The current round is the last round while it is open; otherwise a new
// round with the next contiguous number is opened. A second move from the
// same address in an open round is rejected without touching the first.
// It returns the round number the move landed in.
func (e *Engine) SubmitMove(duelID int64, addr string, c Choice) (int, error) {
	if !e.rules.Valid(c) {
		return 0, ErrBadChoice
	}
	var (
		outcome *RoundOutcome
		roundNo int
	)
	err := e.dir.WithDuel(duelID, func(s *State) error {
		switch s.Phase {
		case PhaseListed:
			return ErrNotStarted
		case PhaseEnded:
			return ErrEnded
		case PhaseInDuel:
		}
		if !s.IsParticipant(addr) {
			return ErrNotParticipant
		}
		r := s.currentOpenRound()
		if r == nil {
			r = &Round{Number: len(s.Rounds) + 1}
			s.Rounds = append(s.Rounds, r)
		}
		if r.MoveOf(addr) != nil {
			return ErrMoveExists
		}
		r.Moves = append(r.Moves, Move{Owner: addr, Choice: c, SubmittedAt: time.Now()})
		roundNo = r.Number
		if len(r.Moves) == 2 {
			outcome = e.resolveLocked(s, r)
		} else {
			e.armTimerLocked(s, r)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	obslog.L().Info("duel_move",
		zap.Int64("duel_id", duelID),
		zap.String("address", addr),
		zap.String("choice", string(c)),
		zap.Int("round", roundNo),
		zap.Bool("resolved", outcome != nil),
	)
	if outcome != nil {
		e.notifier.RoundResolved(*outcome)
	}
	return roundNo, nil
}

// resolveLocked finishes a round that has both moves. Caller holds the
// duel lock and guarantees the round is unresolved.
func (e *Engine) resolveLocked(s *State, r *Round) *RoundOutcome {
	winner := e.rules.Winner(r.Moves[0], r.Moves[1])
	r.Winner = winner
	r.Resolved = true
	e.stopTimerLocked(s, r.Number)

	if winner != WinnerDraw {
		loser := s.Opponent(winner)
		if loser == s.Creator {
			s.CreatorHealth -= e.rules.RoundDamage
			if s.CreatorHealth < 0 {
				s.CreatorHealth = 0
			}
		} else {
			s.AcceptorHealth -= e.rules.RoundDamage
			if s.AcceptorHealth < 0 {
				s.AcceptorHealth = 0
			}
		}
	}

	out := &RoundOutcome{
		DuelID:         s.ID,
		Creator:        s.Creator,
		Acceptor:       s.Acceptor,
		Round:          r.Number,
		CreatorChoice:  r.MoveOf(s.Creator).Choice,
		AcceptorChoice: r.MoveOf(s.Acceptor).Choice,
		CreatorHealth:  s.CreatorHealth,
		AcceptorHealth: s.AcceptorHealth,
		Winner:         winner,
	}
	if s.CreatorHealth <= 0 || s.AcceptorHealth <= 0 {
		s.Phase = PhaseEnded
		out.Final = true
	}

	e.persistRound(s, r, out.Final, winner)

	obslog.L().Info("duel_round_resolved",
		zap.Int64("duel_id", s.ID),
		zap.Int("round", r.Number),
		zap.String("winner", winner),
		zap.Int("creator_health", s.CreatorHealth),
		zap.Int("acceptor_health", s.AcceptorHealth),
		zap.Bool("final", out.Final),
	)
	return out
}

func (e *Engine) persistRound(s *State, r *Round, final bool, winner string) {
	if e.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	moves := make([]Move, len(r.Moves))
	copy(moves, r.Moves)
	if err := e.store.SaveRound(ctx, s.ID, r.Number, winner, moves); err != nil {
		obslog.L().Warn("duel_round_persist_error", zap.Int64("duel_id", s.ID), zap.Int("round", r.Number), zap.Error(err))
	}
	if final {
		duelWinner := s.Creator
		if s.CreatorHealth <= 0 {
			duelWinner = s.Acceptor
		}
		if err := e.store.FinishDuel(ctx, s.ID, duelWinner); err != nil {
			obslog.L().Warn("duel_finish_persist_error", zap.Int64("duel_id", s.ID), zap.Error(err))
		}
	}
}

// armTimerLocked schedules forced resolution for an open round. At most
// one timer per duel is outstanding; re-arming the same round is a no-op.
func (e *Engine) armTimerLocked(s *State, r *Round) {
	if r.Resolved {
		return
	}
	if s.timer != nil && s.timerRound == r.Number {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	id, number := s.ID, r.Number
	s.timerRound = number
	s.timer = time.AfterFunc(e.rules.MoveTimeout, func() {
		e.forceResolve(id, number)
	})
}

func (e *Engine) stopTimerLocked(s *State, roundNumber int) {
	if s.timer != nil && s.timerRound == roundNumber {
		s.timer.Stop()
		s.timer = nil
	}
}

// forceResolve fires when a round stalled past the move timeout. Missing
// moves are filled uniformly at random; the round's resolution flag,
// checked under the duel lock, makes a late fire a no-op.
func (e *Engine) forceResolve(duelID int64, roundNumber int) {
	var outcome *RoundOutcome
	err := e.dir.WithDuel(duelID, func(s *State) error {
		if s.Phase != PhaseInDuel {
			return nil
		}
		if roundNumber < 1 || roundNumber > len(s.Rounds) {
			return nil
		}
		r := s.Rounds[roundNumber-1]
		if r.Resolved {
			return nil
		}
		filled := 0
		for _, addr := range []string{s.Creator, s.Acceptor} {
			if r.MoveOf(addr) == nil {
				r.Moves = append(r.Moves, Move{Owner: addr, Choice: e.rules.RandomChoice(), SubmittedAt: time.Now()})
				filled++
			}
		}
		obslog.L().Info("duel_round_forced",
			zap.Int64("duel_id", duelID),
			zap.Int("round", roundNumber),
			zap.Int("filled", filled),
		)
		outcome = e.resolveLocked(s, r)
		return nil
	})
	if err != nil && err != ErrNotFound {
		obslog.L().Warn("duel_force_resolve_error", zap.Int64("duel_id", duelID), zap.Int("round", roundNumber), zap.Error(err))
	}
	if outcome != nil {
		e.notifier.RoundResolved(*outcome)
	}
}

// Log returns a copy of the duel's round log for display. Taken under the
// lock so a resolution in flight is never half-visible.
func (e *Engine) Log(duelID int64) ([]Round, error) {
	var out []Round
	err := e.dir.WithDuel(duelID, func(s *State) error {
		out = make([]Round, 0, len(s.Rounds))
		for _, r := range s.Rounds {
			cp := *r
			cp.Moves = make([]Move, len(r.Moves))
			copy(cp.Moves, r.Moves)
			out = append(out, cp)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}
