package server

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/varekhin/chainduel/internal/duel"
	"github.com/varekhin/chainduel/internal/match"
	"github.com/varekhin/chainduel/internal/obslog"
	"github.com/varekhin/chainduel/internal/session"
	"github.com/varekhin/chainduel/pkg/dueldto"
	"go.uber.org/zap"
)

const assetLookupTimeout = 3 * time.Second

// dispatch routes one inbound frame. Everything except verify_signature
// requires a verified session.
func (s *Server) dispatch(ctx context.Context, id session.ConnID, env dueldto.Envelope) {
	sess, err := s.registry.Lookup(id)
	if err != nil {
		return
	}

	if env.Event != dueldto.EvVerifySignature && sess.State == session.StateUnverified {
		s.sendError(id, dueldto.CodeAuthRequired, "verify your wallet first")
		return
	}

	switch env.Event {
	case dueldto.EvVerifySignature:
		s.handleVerify(ctx, id, env.Data)
	case dueldto.EvCreateOffer:
		s.handleCreateOffer(ctx, id, sess, env.Data)
	case dueldto.EvListOffers:
		s.handleListOffers(id, env.Data)
	case dueldto.EvRecommendedOffers:
		s.handleRecommended(id, sess)
	case dueldto.EvAcceptOffer:
		s.handleAcceptOffer(ctx, id, sess, env.Data)
	case dueldto.EvListAccepts:
		s.handleListAccepts(id, env.Data)
	case dueldto.EvStartDuel:
		s.handleStartDuel(id, sess, env.Data)
	case dueldto.EvSubmitMove:
		s.handleSubmitMove(id, sess, env.Data)
	case dueldto.EvDuelLog:
		s.handleDuelLog(id, sess, env.Data)
	default:
		s.sendError(id, dueldto.CodeWrongInput, "unknown event "+env.Event)
	}
}

func (s *Server) handleVerify(ctx context.Context, id session.ConnID, raw json.RawMessage) {
	var req dueldto.VerifySignatureRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.reply(id, dueldto.EvVerificationError, dueldto.ErrorPayload{Code: dueldto.CodeWrongInput, Message: "malformed request"})
		return
	}
	sess, err := s.registry.Authenticate(ctx, id, req.Address, req.Signature)
	if err != nil {
		obslog.L().Info("verification_rejected",
			zap.String("conn_id", string(id)),
			zap.String("claimed", req.Address),
			zap.Error(err),
		)
		s.reply(id, dueldto.EvVerificationError, dueldto.ErrorPayload{Code: dueldto.CodeWrongInput, Message: err.Error()})
		return
	}
	s.reply(id, dueldto.EvVerificationCompleted, dueldto.VerificationPayload{Address: sess.Address})
}

func (s *Server) handleCreateOffer(ctx context.Context, id session.ConnID, sess session.Session, raw json.RawMessage) {
	var req dueldto.CreateOfferRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.sendError(id, dueldto.CodeWrongInput, "malformed request")
		return
	}
	asset := match.Asset{ID: req.AssetID, Type: req.AssetType}
	asset.URI = s.lookupURI(ctx, sess.Address, req.AssetID)
	o, err := s.matches.CreateOffer(sess.Address, asset, req.Bet)
	if err != nil {
		s.sendDomainError(id, err)
		return
	}
	s.reply(id, dueldto.EvOfferCreated, offerPayload(o))
}

func (s *Server) handleListOffers(id session.ConnID, raw json.RawMessage) {
	var req dueldto.ListOffersRequest
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			s.sendError(id, dueldto.CodeWrongInput, "malformed request")
			return
		}
	}
	offers := s.matches.ListOffers(req.Address)
	out := make([]dueldto.OfferPayload, 0, len(offers))
	for _, o := range offers {
		out = append(out, offerPayload(o))
	}
	s.reply(id, dueldto.EvOfferList, out)
}

func (s *Server) handleRecommended(id session.ConnID, sess session.Session) {
	offers := s.matches.Recommend(sess.Address)
	out := make([]dueldto.OfferPayload, 0, len(offers))
	for _, o := range offers {
		out = append(out, offerPayload(o))
	}
	s.reply(id, dueldto.EvOfferList, out)
}

func (s *Server) handleAcceptOffer(ctx context.Context, id session.ConnID, sess session.Session, raw json.RawMessage) {
	var req dueldto.AcceptOfferRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.sendError(id, dueldto.CodeWrongInput, "malformed request")
		return
	}
	asset := match.Asset{ID: req.AssetID, Type: req.AssetType}
	asset.URI = s.lookupURI(ctx, sess.Address, req.AssetID)
	a, err := s.matches.AcceptOffer(sess.Address, req.OfferID, asset)
	if err != nil {
		s.sendDomainError(id, err)
		return
	}
	o, _ := s.matches.GetOffer(req.OfferID)
	s.reply(id, dueldto.EvOfferAccepted, acceptPayload(a, o.Bet))
}

func (s *Server) handleListAccepts(id session.ConnID, raw json.RawMessage) {
	var req dueldto.ListAcceptsRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.sendError(id, dueldto.CodeWrongInput, "malformed request")
		return
	}
	o, err := s.matches.GetOffer(req.OfferID)
	if err != nil {
		s.sendDomainError(id, err)
		return
	}
	accepts := s.matches.Accepts(req.OfferID)
	out := make([]dueldto.AcceptPayload, 0, len(accepts))
	for _, a := range accepts {
		out = append(out, acceptPayload(a, o.Bet))
	}
	s.reply(id, dueldto.EvAcceptList, out)
}

// handleStartDuel lets the offer's creator promote one accept. The
// acceptor and any passed-over acceptors are told by the notifier; the
// creator gets the duel_started frame here.
func (s *Server) handleStartDuel(id session.ConnID, sess session.Session, raw json.RawMessage) {
	var req dueldto.StartDuelRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.sendError(id, dueldto.CodeWrongInput, "malformed request")
		return
	}
	o, err := s.matches.GetOffer(req.OfferID)
	if err != nil {
		s.sendDomainError(id, err)
		return
	}
	if o.Creator != sess.Address {
		s.sendError(id, dueldto.CodeNotParticipant, "only the offer creator can start the duel")
		return
	}
	duelID, err := s.matches.StartDuel(req.OfferID, req.AcceptID)
	if err != nil {
		s.sendDomainError(id, err)
		return
	}
	st, err := s.dir.Get(duelID)
	if err != nil {
		s.sendDomainError(id, err)
		return
	}
	s.registry.BindDuel(st.Creator, duelID)
	s.registry.BindDuel(st.Acceptor, duelID)
	s.reply(id, dueldto.EvDuelStarted, dueldto.DuelStartedPayload{
		DuelID:   duelID,
		Creator:  st.Creator,
		Acceptor: st.Acceptor,
		Health:   s.engine.Rules().MaxHealth,
	})
}

func (s *Server) handleSubmitMove(id session.ConnID, sess session.Session, raw json.RawMessage) {
	var req dueldto.SubmitMoveRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		s.sendError(id, dueldto.CodeWrongInput, "malformed request")
		return
	}
	if sess.DuelID == 0 {
		s.sendError(id, dueldto.CodeWrongInput, "not in a duel")
		return
	}
	c, err := s.engine.Rules().ParseChoice(req.Choice)
	if err != nil {
		s.sendDomainError(id, err)
		return
	}
	round, err := s.engine.SubmitMove(sess.DuelID, sess.Address, c)
	if err != nil {
		s.sendDomainError(id, err)
		return
	}
	s.reply(id, dueldto.EvMoveRegistered, dueldto.MoveRegisteredPayload{DuelID: sess.DuelID, Round: round})
}

func (s *Server) handleDuelLog(id session.ConnID, sess session.Session, raw json.RawMessage) {
	var req dueldto.DuelLogRequest
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &req); err != nil {
			s.sendError(id, dueldto.CodeWrongInput, "malformed request")
			return
		}
	}
	duelID := req.DuelID
	if duelID == 0 {
		duelID = sess.DuelID
	}
	if duelID == 0 {
		s.sendError(id, dueldto.CodeWrongInput, "no duel to show")
		return
	}
	rounds, err := s.engine.Log(duelID)
	if err != nil {
		s.sendDomainError(id, err)
		return
	}
	payload := dueldto.DuelLogPayload{DuelID: duelID, Rounds: make([]dueldto.RoundLogPayload, 0, len(rounds))}
	for _, r := range rounds {
		rp := dueldto.RoundLogPayload{Number: r.Number, Winner: r.Winner, Resolved: r.Resolved}
		for _, m := range r.Moves {
			rp.Moves = append(rp.Moves, dueldto.MoveLogPayload{Owner: m.Owner, Choice: string(m.Choice)})
		}
		payload.Rounds = append(payload.Rounds, rp)
	}
	s.reply(id, dueldto.EvDuelLogResult, payload)
}

// lookupURI is display enrichment only; failures degrade to no URI.
func (s *Server) lookupURI(ctx context.Context, address string, assetID int64) string {
	if s.assets == nil {
		return ""
	}
	lctx, cancel := context.WithTimeout(ctx, assetLookupTimeout)
	defer cancel()
	uri, err := s.assets.AssetURI(lctx, address, assetID)
	if err != nil {
		obslog.L().Debug("asset_uri_error", zap.String("address", address), zap.Int64("asset_id", assetID), zap.Error(err))
		return ""
	}
	return uri
}

func (s *Server) reply(id session.ConnID, event string, data any) {
	if err := s.out.Send(id, event, data); err != nil {
		obslog.L().Debug("reply_send_error", zap.String("conn_id", string(id)), zap.String("event", event), zap.Error(err))
	}
}

func (s *Server) sendError(id session.ConnID, code dueldto.ErrorCode, msg string) {
	s.reply(id, dueldto.EvError, dueldto.ErrorPayload{Code: code, Message: msg})
}

func (s *Server) sendDomainError(id session.ConnID, err error) {
	s.sendError(id, codeFor(err), err.Error())
}

func codeFor(err error) dueldto.ErrorCode {
	switch {
	case errors.Is(err, match.ErrOfferNotFound),
		errors.Is(err, match.ErrAcceptNotFound),
		errors.Is(err, duel.ErrNotFound):
		return dueldto.CodeNotFound
	case errors.Is(err, match.ErrSelfMatch):
		return dueldto.CodeSelfMatch
	case errors.Is(err, match.ErrAlreadyStarted),
		errors.Is(err, match.ErrNotListed),
		errors.Is(err, duel.ErrNotStarted):
		return dueldto.CodeAlreadyStarted
	case errors.Is(err, duel.ErrEnded),
		errors.Is(err, duel.ErrMoveExists):
		return dueldto.CodeAlreadyResolved
	case errors.Is(err, duel.ErrNotParticipant):
		return dueldto.CodeNotParticipant
	case errors.Is(err, match.ErrInvalidArgs),
		errors.Is(err, duel.ErrBadChoice):
		return dueldto.CodeWrongInput
	case errors.Is(err, duel.ErrLockTimeout):
		return dueldto.CodeInternal
	default:
		return dueldto.CodeInternal
	}
}

func offerPayload(o match.Offer) dueldto.OfferPayload {
	return dueldto.OfferPayload{
		ID:        o.ID,
		Creator:   o.Creator,
		AssetID:   o.Asset.ID,
		AssetType: o.Asset.Type,
		AssetURI:  o.Asset.URI,
		Bet:       o.Bet,
		State:     string(o.State),
	}
}

func acceptPayload(a match.Accept, bet string) dueldto.AcceptPayload {
	return dueldto.AcceptPayload{
		ID:        a.ID,
		OfferID:   a.OfferID,
		Acceptor:  a.Acceptor,
		AssetID:   a.Asset.ID,
		AssetType: a.Asset.Type,
		AssetURI:  a.Asset.URI,
		Bet:       bet,
	}
}
