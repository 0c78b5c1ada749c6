package match

import (
	"errors"
	"time"
)

// OfferState is the offer lifecycle. Exactly one accept can be promoted
// while LISTED; everything else ends in CANCELLED.
type OfferState string

const (
	OfferListed    OfferState = "LISTED"
	OfferMatched   OfferState = "MATCHED"
	OfferCancelled OfferState = "CANCELLED"
)

// Asset is the staked NFT reference.
type Asset struct {
	ID   int64
	Type int
	URI  string
}

type Offer struct {
	ID        int64
	Creator   string
	Asset     Asset
	Bet       string
	State     OfferState
	CreatedAt time.Time
}

// Accept is immutable once created except for the promoted marker set
// when its offer starts a duel.
type Accept struct {
	ID        int64
	OfferID   int64
	Acceptor  string
	Asset     Asset
	Promoted  bool
	CreatedAt time.Time
}

var (
	ErrInvalidArgs    = errors.New("invalid arguments")
	ErrOfferNotFound  = errors.New("offer not found")
	ErrAcceptNotFound = errors.New("accept not found")
	ErrSelfMatch      = errors.New("cannot fight yourself")
	ErrAlreadyStarted = errors.New("offer already matched")
	ErrNotListed      = errors.New("offer is not listed")
)
