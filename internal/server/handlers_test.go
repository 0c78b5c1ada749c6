package server

import (
	"fmt"
	"testing"

	"github.com/varekhin/chainduel/internal/duel"
	"github.com/varekhin/chainduel/internal/match"
	"github.com/varekhin/chainduel/pkg/dueldto"
)

func TestCodeFor(t *testing.T) {
	cases := []struct {
		err  error
		want dueldto.ErrorCode
	}{
		{match.ErrOfferNotFound, dueldto.CodeNotFound},
		{match.ErrAcceptNotFound, dueldto.CodeNotFound},
		{duel.ErrNotFound, dueldto.CodeNotFound},
		{match.ErrSelfMatch, dueldto.CodeSelfMatch},
		{match.ErrAlreadyStarted, dueldto.CodeAlreadyStarted},
		{match.ErrNotListed, dueldto.CodeAlreadyStarted},
		{duel.ErrNotStarted, dueldto.CodeAlreadyStarted},
		{duel.ErrEnded, dueldto.CodeAlreadyResolved},
		{duel.ErrMoveExists, dueldto.CodeAlreadyResolved},
		{duel.ErrNotParticipant, dueldto.CodeNotParticipant},
		{match.ErrInvalidArgs, dueldto.CodeWrongInput},
		{duel.ErrBadChoice, dueldto.CodeWrongInput},
		{duel.ErrLockTimeout, dueldto.CodeInternal},
		{fmt.Errorf("surprise"), dueldto.CodeInternal},
	}
	for _, tc := range cases {
		if got := codeFor(tc.err); got != tc.want {
			t.Fatalf("codeFor(%v) = %s, want %s", tc.err, got, tc.want)
		}
	}
	// wrapped sentinels still map
	if got := codeFor(fmt.Errorf("ctx: %w", match.ErrSelfMatch)); got != dueldto.CodeSelfMatch {
		t.Fatalf("wrapped sentinel lost: %s", got)
	}
}

func TestOfferPayloadMapping(t *testing.T) {
	o := match.Offer{
		ID:      3,
		Creator: "0xAlice",
		Asset:   match.Asset{ID: 7, Type: 2, URI: "ipfs://x"},
		Bet:     "1.25",
		State:   match.OfferListed,
	}
	p := offerPayload(o)
	if p.ID != 3 || p.Creator != "0xAlice" || p.AssetID != 7 || p.AssetType != 2 ||
		p.AssetURI != "ipfs://x" || p.Bet != "1.25" || p.State != "LISTED" {
		t.Fatalf("unexpected payload: %+v", p)
	}
}

func TestAcceptPayloadMapping(t *testing.T) {
	a := match.Accept{ID: 4, OfferID: 3, Acceptor: "0xBob", Asset: match.Asset{ID: 8, Type: 1}}
	p := acceptPayload(a, "0.5")
	if p.ID != 4 || p.OfferID != 3 || p.Acceptor != "0xBob" || p.AssetID != 8 || p.Bet != "0.5" {
		t.Fatalf("unexpected payload: %+v", p)
	}
}
