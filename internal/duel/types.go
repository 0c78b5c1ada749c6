package duel

import (
	"errors"
	"time"
)

// Choice is one side's pick for a round. The valid set comes from the
// active Ruleset, not from this type.
type Choice string

const (
	ChoiceAttack Choice = "attack"
	ChoiceBlock  Choice = "block"
	ChoiceTrick  Choice = "trick"
)

// Phase is the duel lifecycle. LISTED → IN_DUEL → ENDED, each transition
// taken exactly once.
type Phase string

const (
	PhaseListed Phase = "LISTED"
	PhaseInDuel Phase = "IN_DUEL"
	PhaseEnded  Phase = "ENDED"
)

// WinnerDraw marks a resolved round with no winner.
const WinnerDraw = "draw"

var (
	ErrNotFound       = errors.New("duel not found")
	ErrNotStarted     = errors.New("duel not started")
	ErrEnded          = errors.New("duel already ended")
	ErrNotParticipant = errors.New("address does not participate in this duel")
	ErrMoveExists     = errors.New("move already submitted for this round")
	ErrBadChoice      = errors.New("choice is not part of the rule set")
	ErrLockTimeout    = errors.New("duel lock not acquired within bound")
)

type Move struct {
	Owner       string    `json:"owner"`
	Choice      Choice    `json:"choice"`
	SubmittedAt time.Time `json:"submitted_at"`
}

// Round collects up to two moves and resolves exactly once.
type Round struct {
	Number   int    `json:"number"`
	Moves    []Move `json:"moves"`
	Winner   string `json:"winner,omitempty"`
	Resolved bool   `json:"resolved"`
}

// MoveOf returns the move owned by addr, or nil.
func (r *Round) MoveOf(addr string) *Move {
	for i := range r.Moves {
		if r.Moves[i].Owner == addr {
			return &r.Moves[i]
		}
	}
	return nil
}

// State is the live, in-memory authority for one duel. Every mutable
// field is written only under the Directory's per-duel lock.
type State struct {
	ID       int64
	Creator  string
	Acceptor string

	CreatorHealth  int
	AcceptorHealth int

	Phase  Phase
	Rounds []*Round

	// lock serializes all mutation; channel-based so acquisition can be
	// bounded (see Directory.WithDuel).
	lock chan struct{}

	// timer is the forced-resolution timer for the currently open round,
	// nil when none is armed. timerRound is the round it belongs to.
	timer      *time.Timer
	timerRound int

	// left tracks participants that disconnected, used to decide when an
	// ended duel can leave the directory.
	left map[string]bool
}

func newState(id int64, creator string, maxHealth int) *State {
	s := &State{
		ID:             id,
		Creator:        creator,
		CreatorHealth:  maxHealth,
		AcceptorHealth: maxHealth,
		Phase:          PhaseListed,
		lock:           make(chan struct{}, 1),
		left:           make(map[string]bool),
	}
	s.lock <- struct{}{}
	return s
}

// IsParticipant reports whether addr is one of the two bound players.
func (s *State) IsParticipant(addr string) bool {
	return addr != "" && (addr == s.Creator || addr == s.Acceptor)
}

// Opponent returns the other participant, or "" for a non-participant.
func (s *State) Opponent(addr string) string {
	switch addr {
	case s.Creator:
		return s.Acceptor
	case s.Acceptor:
		return s.Creator
	}
	return ""
}

// HealthOf returns the current health of addr.
func (s *State) HealthOf(addr string) int {
	if addr == s.Creator {
		return s.CreatorHealth
	}
	return s.AcceptorHealth
}

// currentOpenRound returns the last round when it is still open, nil
// otherwise.
func (s *State) currentOpenRound() *Round {
	if len(s.Rounds) == 0 {
		return nil
	}
	last := s.Rounds[len(s.Rounds)-1]
	if last.Resolved {
		return nil
	}
	return last
}
