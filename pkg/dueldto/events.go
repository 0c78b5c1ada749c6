package dueldto

import "encoding/json"

// Envelope is the frame every WebSocket message travels in, both directions.
// Data holds the event-specific payload, decoded into one of the tagged
// variants below only after the event name is known.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Inbound event names.
const (
	EvVerifySignature   = "verify_signature"
	EvCreateOffer       = "create_offer"
	EvListOffers        = "list_offers"
	EvRecommendedOffers = "get_recommended_offers"
	EvAcceptOffer       = "accept_offer"
	EvListAccepts       = "list_accepts"
	EvStartDuel         = "start_duel"
	EvSubmitMove        = "submit_move"
	EvDuelLog           = "get_duel_log"
)

// Outbound event names.
const (
	EvSessionKey            = "session_key"
	EvVerificationCompleted = "verification_completed"
	EvVerificationError     = "verification_error"
	EvOfferCreated          = "offer_created"
	EvOfferList             = "offer_list"
	EvAcceptList            = "accept_list"
	EvOfferAccepted         = "offer_accepted"
	EvDuelStarted           = "duel_started"
	EvDuelCancelled         = "duel_cancelled"
	EvMoveRegistered        = "move_registered"
	EvRoundEnded            = "round_ended"
	EvDuelEnded             = "duel_ended"
	EvDuelLogResult         = "duel_log"
	EvError                 = "error"
)

type VerifySignatureRequest struct {
	Address   string `json:"address"`
	Signature string `json:"signature"`
}

type CreateOfferRequest struct {
	AssetID   int64  `json:"asset_id"`
	AssetType int    `json:"asset_type"`
	Bet       string `json:"bet"`
}

type ListOffersRequest struct {
	Address string `json:"address,omitempty"`
}

type AcceptOfferRequest struct {
	OfferID   int64 `json:"offer_id"`
	AssetID   int64 `json:"asset_id"`
	AssetType int   `json:"asset_type"`
}

type ListAcceptsRequest struct {
	OfferID int64 `json:"offer_id"`
}

type StartDuelRequest struct {
	OfferID  int64 `json:"offer_id"`
	AcceptID int64 `json:"accept_id"`
}

type SubmitMoveRequest struct {
	Choice string `json:"choice"`
}

type DuelLogRequest struct {
	DuelID int64 `json:"duel_id"`
}

type SessionKeyPayload struct {
	SessionKey string `json:"session_key"`
}

type VerificationPayload struct {
	Address string `json:"address"`
}

type OfferPayload struct {
	ID        int64  `json:"id"`
	Creator   string `json:"creator"`
	AssetID   int64  `json:"asset_id"`
	AssetType int    `json:"asset_type"`
	AssetURI  string `json:"asset_uri,omitempty"`
	Bet       string `json:"bet"`
	State     string `json:"state"`
}

type AcceptPayload struct {
	ID        int64  `json:"id"`
	OfferID   int64  `json:"offer_id"`
	Acceptor  string `json:"acceptor"`
	AssetID   int64  `json:"asset_id"`
	AssetType int    `json:"asset_type"`
	AssetURI  string `json:"asset_uri,omitempty"`
	Bet       string `json:"bet"`
}

type DuelStartedPayload struct {
	DuelID   int64  `json:"duel_id"`
	Creator  string `json:"creator"`
	Acceptor string `json:"acceptor"`
	Health   int    `json:"health"`
}

type DuelCancelledPayload struct {
	DuelID int64 `json:"duel_id"`
}

type MoveRegisteredPayload struct {
	DuelID int64 `json:"duel_id"`
	Round  int   `json:"round"`
}

// RoundEndedPayload is perspective-flipped per recipient: Left is always
// the receiving player, Right the opponent.
type RoundEndedPayload struct {
	DuelID      int64  `json:"duel_id"`
	Round       int    `json:"round"`
	LeftChoice  string `json:"left_choice"`
	RightChoice string `json:"right_choice"`
	LeftHealth  int    `json:"left_health"`
	RightHealth int    `json:"right_health"`
}

type DuelEndedPayload struct {
	DuelID      int64  `json:"duel_id"`
	Winner      string `json:"winner"`
	LeftHealth  int    `json:"left_health"`
	RightHealth int    `json:"right_health"`
}

type RoundLogPayload struct {
	Number   int              `json:"number"`
	Moves    []MoveLogPayload `json:"moves"`
	Winner   string           `json:"winner,omitempty"`
	Resolved bool             `json:"resolved"`
}

type MoveLogPayload struct {
	Owner  string `json:"owner"`
	Choice string `json:"choice"`
}

type DuelLogPayload struct {
	DuelID int64             `json:"duel_id"`
	Rounds []RoundLogPayload `json:"rounds"`
}

type ErrorPayload struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}
