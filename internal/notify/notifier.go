// Package notify fans duel events out to the affected players. Delivery
// is best-effort by contract: a peer that is gone never rolls back the
// state change that produced the event.
package notify

import (
	"github.com/varekhin/chainduel/internal/duel"
	"github.com/varekhin/chainduel/internal/match"
	"github.com/varekhin/chainduel/internal/obslog"
	"github.com/varekhin/chainduel/internal/session"
	"github.com/varekhin/chainduel/pkg/dueldto"
	"go.uber.org/zap"
)

// Sender writes one event frame to one live connection.
type Sender interface {
	Send(id session.ConnID, event string, data any) error
}

// Notifier resolves addresses to connections through the Registry and
// pushes perspective-flipped payloads. It implements both the engine's
// and the matchmaker's notifier contracts.
type Notifier struct {
	reg  *session.Registry
	send Sender
}

func New(reg *session.Registry, send Sender) *Notifier {
	return &Notifier{reg: reg, send: send}
}

// RoundResolved delivers round_ended to both players, or duel_ended when
// the round finished the duel. Each player sees themselves as "left".
func (n *Notifier) RoundResolved(out duel.RoundOutcome) {
	if out.Final {
		n.reg.ReleaseDuel(out.Creator)
		n.reg.ReleaseDuel(out.Acceptor)
		n.emit(out.Creator, dueldto.EvDuelEnded, dueldto.DuelEndedPayload{
			DuelID:      out.DuelID,
			Winner:      out.Winner,
			LeftHealth:  out.CreatorHealth,
			RightHealth: out.AcceptorHealth,
		})
		n.emit(out.Acceptor, dueldto.EvDuelEnded, dueldto.DuelEndedPayload{
			DuelID:      out.DuelID,
			Winner:      out.Winner,
			LeftHealth:  out.AcceptorHealth,
			RightHealth: out.CreatorHealth,
		})
		return
	}
	n.emit(out.Creator, dueldto.EvRoundEnded, dueldto.RoundEndedPayload{
		DuelID:      out.DuelID,
		Round:       out.Round,
		LeftChoice:  string(out.CreatorChoice),
		RightChoice: string(out.AcceptorChoice),
		LeftHealth:  out.CreatorHealth,
		RightHealth: out.AcceptorHealth,
	})
	n.emit(out.Acceptor, dueldto.EvRoundEnded, dueldto.RoundEndedPayload{
		DuelID:      out.DuelID,
		Round:       out.Round,
		LeftChoice:  string(out.AcceptorChoice),
		RightChoice: string(out.CreatorChoice),
		LeftHealth:  out.AcceptorHealth,
		RightHealth: out.CreatorHealth,
	})
}

// OfferAccepted tells the offer's creator a counter-stake arrived.
func (n *Notifier) OfferAccepted(o match.Offer, a match.Accept) {
	n.emit(o.Creator, dueldto.EvOfferAccepted, dueldto.AcceptPayload{
		ID:        a.ID,
		OfferID:   a.OfferID,
		Acceptor:  a.Acceptor,
		AssetID:   a.Asset.ID,
		AssetType: a.Asset.Type,
		AssetURI:  a.Asset.URI,
		Bet:       o.Bet,
	})
}

// DuelStarted tells the matched acceptor their accept was promoted.
func (n *Notifier) DuelStarted(duelID int64, creator, acceptor string, health int) {
	n.emit(acceptor, dueldto.EvDuelStarted, dueldto.DuelStartedPayload{
		DuelID:   duelID,
		Creator:  creator,
		Acceptor: acceptor,
		Health:   health,
	})
}

// DuelCancelled tells a passed-over acceptor the offer went elsewhere.
func (n *Notifier) DuelCancelled(duelID int64, addr string) {
	n.emit(addr, dueldto.EvDuelCancelled, dueldto.DuelCancelledPayload{DuelID: duelID})
}

func (n *Notifier) emit(addr, event string, data any) {
	id, ok := n.reg.ConnByAddress(addr)
	if !ok {
		obslog.L().Debug("notify_peer_gone", zap.String("address", addr), zap.String("event", event))
		return
	}
	if err := n.send.Send(id, event, data); err != nil {
		obslog.L().Warn("notify_send_error",
			zap.String("address", addr),
			zap.String("event", event),
			zap.Error(err),
		)
	}
}
