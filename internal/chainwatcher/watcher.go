// Package chainwatcher mirrors on-chain offer/accept events of the
// battle contract into store rows. It runs as its own process and shares
// nothing with the duel server but the database.
package chainwatcher

import (
	"context"
	"fmt"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"

	"github.com/varekhin/chainduel/internal/match"
	"github.com/varekhin/chainduel/internal/obslog"
	"go.uber.org/zap"
)

// battleABI covers only the events the scanner consumes.
const battleABI = `[
  {"anonymous":false,"inputs":[
    {"indexed":false,"internalType":"address","name":"creator","type":"address"},
    {"indexed":false,"internalType":"uint256","name":"offerId","type":"uint256"},
    {"indexed":false,"internalType":"uint256","name":"nft","type":"uint256"}],
   "name":"Offer","type":"event"},
  {"anonymous":false,"inputs":[
    {"indexed":false,"internalType":"uint256","name":"offerId","type":"uint256"},
    {"indexed":false,"internalType":"uint256","name":"acceptId","type":"uint256"},
    {"indexed":false,"internalType":"address","name":"acceptor","type":"address"},
    {"indexed":false,"internalType":"uint256","name":"nft","type":"uint256"}],
   "name":"Accept","type":"event"},
  {"anonymous":false,"inputs":[
    {"indexed":false,"internalType":"address","name":"creator","type":"address"},
    {"indexed":false,"internalType":"uint256","name":"offerId","type":"uint256"}],
   "name":"OfferCancel","type":"event"},
  {"anonymous":false,"inputs":[
    {"indexed":false,"internalType":"uint256","name":"offerId","type":"uint256"},
    {"indexed":false,"internalType":"uint256","name":"acceptId","type":"uint256"}],
   "name":"AcceptCancel","type":"event"}
]`

// ChainClient is the slice of ethclient the watcher needs.
type ChainClient interface {
	BlockNumber(ctx context.Context) (uint64, error)
	FilterLogs(ctx context.Context, q ethereum.FilterQuery) ([]types.Log, error)
}

// Store receives the mirrored rows and owns the scan cursor.
type Store interface {
	SaveOffer(ctx context.Context, o *match.Offer) error
	DeleteOffer(ctx context.Context, id int64) error
	SaveAccept(ctx context.Context, a *match.Accept) error
	DeleteAccept(ctx context.Context, id int64) error
	LastScannedBlock(ctx context.Context) (uint64, error)
	SetLastScannedBlock(ctx context.Context, n uint64) error
}

type Watcher struct {
	eth      ChainClient
	store    Store
	contract common.Address
	abi      abi.ABI

	chunk    uint64
	interval time.Duration
}

func New(eth ChainClient, store Store, contract common.Address, chunk uint64, interval time.Duration) (*Watcher, error) {
	parsed, err := abi.JSON(strings.NewReader(battleABI))
	if err != nil {
		return nil, fmt.Errorf("parse battle abi: %w", err)
	}
	if chunk == 0 {
		chunk = 2500
	}
	if interval <= 0 {
		interval = 750 * time.Millisecond
	}
	return &Watcher{
		eth:      eth,
		store:    store,
		contract: contract,
		abi:      parsed,
		chunk:    chunk,
		interval: interval,
	}, nil
}

// Run polls until ctx is cancelled. Scan errors are logged and retried
// on the next tick; the cursor only advances after a chunk applied.
func (w *Watcher) Run(ctx context.Context) error {
	t := time.NewTicker(w.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
		}
		synced, err := w.ScanOnce(ctx)
		if err != nil {
			obslog.L().Warn("chain_scan_error", zap.Error(err))
			continue
		}
		if synced {
			obslog.L().Debug("chain_synced")
		}
	}
}

// ScanOnce processes at most one block chunk. It reports true when the
// cursor already matches the chain head.
func (w *Watcher) ScanOnce(ctx context.Context) (synced bool, err error) {
	latest, err := w.eth.BlockNumber(ctx)
	if err != nil {
		return false, fmt.Errorf("block number: %w", err)
	}
	cursor, err := w.store.LastScannedBlock(ctx)
	if err != nil {
		return false, fmt.Errorf("load cursor: %w", err)
	}
	from, to, ok := chunkRange(cursor, latest, w.chunk)
	if !ok {
		return true, nil
	}

	logs, err := w.eth.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: new(big.Int).SetUint64(from),
		ToBlock:   new(big.Int).SetUint64(to),
		Addresses: []common.Address{w.contract},
	})
	if err != nil {
		return false, fmt.Errorf("filter logs %d-%d: %w", from, to, err)
	}
	for _, lg := range logs {
		if err := w.apply(ctx, lg); err != nil {
			return false, err
		}
	}
	if err := w.store.SetLastScannedBlock(ctx, to); err != nil {
		return false, fmt.Errorf("advance cursor: %w", err)
	}
	obslog.L().Info("chain_chunk_scanned",
		zap.Uint64("from", from),
		zap.Uint64("to", to),
		zap.Int("logs", len(logs)),
	)
	return false, nil
}

func (w *Watcher) apply(ctx context.Context, lg types.Log) error {
	if len(lg.Topics) == 0 {
		return nil
	}
	ev, err := w.abi.EventByID(lg.Topics[0])
	if err != nil {
		// not one of ours
		return nil
	}
	vals, err := w.abi.Unpack(ev.Name, lg.Data)
	if err != nil {
		return fmt.Errorf("unpack %s: %w", ev.Name, err)
	}
	switch ev.Name {
	case "Offer":
		creator, _ := vals[0].(common.Address)
		offerID, _ := vals[1].(*big.Int)
		nft, _ := vals[2].(*big.Int)
		if offerID == nil || nft == nil {
			return fmt.Errorf("offer event with missing fields")
		}
		return w.store.SaveOffer(ctx, &match.Offer{
			ID:        offerID.Int64(),
			Creator:   creator.Hex(),
			Asset:     match.Asset{ID: nft.Int64()},
			State:     match.OfferListed,
			CreatedAt: time.Now(),
		})
	case "Accept":
		offerID, _ := vals[0].(*big.Int)
		acceptID, _ := vals[1].(*big.Int)
		acceptor, _ := vals[2].(common.Address)
		nft, _ := vals[3].(*big.Int)
		if offerID == nil || acceptID == nil || nft == nil {
			return fmt.Errorf("accept event with missing fields")
		}
		return w.store.SaveAccept(ctx, &match.Accept{
			ID:        acceptID.Int64(),
			OfferID:   offerID.Int64(),
			Acceptor:  acceptor.Hex(),
			Asset:     match.Asset{ID: nft.Int64()},
			CreatedAt: time.Now(),
		})
	case "OfferCancel":
		offerID, _ := vals[1].(*big.Int)
		if offerID == nil {
			return fmt.Errorf("offer cancel event with missing fields")
		}
		return w.store.DeleteOffer(ctx, offerID.Int64())
	case "AcceptCancel":
		acceptID, _ := vals[1].(*big.Int)
		if acceptID == nil {
			return fmt.Errorf("accept cancel event with missing fields")
		}
		return w.store.DeleteAccept(ctx, acceptID.Int64())
	}
	return nil
}

// chunkRange computes the next inclusive block range to scan. ok is
// false when the cursor already covers the chain head.
func chunkRange(lastScanned, latest, chunk uint64) (from, to uint64, ok bool) {
	if latest == 0 || lastScanned >= latest {
		return 0, 0, false
	}
	from = lastScanned + 1
	to = latest
	if to-from+1 > chunk {
		to = from + chunk - 1
	}
	return from, to, true
}
