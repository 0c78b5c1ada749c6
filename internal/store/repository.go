// Package store is the durable mirror of live duel state. Writes happen
// at duel/round boundaries and are best-effort by contract; during an
// active duel the in-memory state is authoritative.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"

	"github.com/varekhin/chainduel/internal/duel"
	"github.com/varekhin/chainduel/internal/match"
)

type Repository struct {
	db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
	if strings.TrimSpace(databaseURL) == "" {
		return nil, fmt.Errorf("DATABASE_URL is required")
	}
	db, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(16)
	db.SetMaxIdleConns(8)
	db.SetConnMaxLifetime(30 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
	if r == nil || r.db == nil {
		return nil
	}
	return r.db.Close()
}

// EnsureSchema creates the mirror tables when they do not exist yet.
func (r *Repository) EnsureSchema(ctx context.Context) error {
	if r == nil || r.db == nil {
		return nil
	}
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS offers (
			id BIGINT PRIMARY KEY,
			creator TEXT NOT NULL,
			asset_id BIGINT NOT NULL DEFAULT 0,
			asset_type INT NOT NULL DEFAULT 0,
			asset_uri TEXT NOT NULL DEFAULT '',
			bet TEXT NOT NULL DEFAULT '',
			state TEXT NOT NULL DEFAULT 'LISTED',
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS accepts (
			id BIGINT PRIMARY KEY,
			offer_id BIGINT NOT NULL,
			acceptor TEXT NOT NULL,
			asset_id BIGINT NOT NULL DEFAULT 0,
			asset_type INT NOT NULL DEFAULT 0,
			promoted BOOLEAN NOT NULL DEFAULT FALSE,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS rounds (
			duel_id BIGINT NOT NULL,
			number INT NOT NULL,
			winner TEXT NOT NULL DEFAULT '',
			resolved_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (duel_id, number)
		)`,
		`CREATE TABLE IF NOT EXISTS moves (
			duel_id BIGINT NOT NULL,
			round_number INT NOT NULL,
			owner TEXT NOT NULL,
			choice TEXT NOT NULL,
			submitted_at TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (duel_id, round_number, owner)
		)`,
		`CREATE TABLE IF NOT EXISTS duel_results (
			duel_id BIGINT PRIMARY KEY,
			winner TEXT NOT NULL,
			ended_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`,
		`CREATE TABLE IF NOT EXISTS chain_cursor (
			id INT PRIMARY KEY,
			last_scanned_block BIGINT NOT NULL
		)`,
	}
	for _, q := range stmts {
		if _, err := r.db.ExecContext(ctx, q); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	return nil
}

func (r *Repository) SaveOffer(ctx context.Context, o *match.Offer) error {
	if r == nil || r.db == nil || o == nil {
		return nil
	}
	q := `INSERT INTO offers (id, creator, asset_id, asset_type, asset_uri, bet, state, created_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7,$8)
	      ON CONFLICT (id) DO UPDATE SET
	        creator=EXCLUDED.creator,
	        asset_id=EXCLUDED.asset_id,
	        asset_type=EXCLUDED.asset_type,
	        asset_uri=EXCLUDED.asset_uri,
	        bet=EXCLUDED.bet,
	        state=EXCLUDED.state`
	_, err := r.db.ExecContext(ctx, q, o.ID, o.Creator, o.Asset.ID, o.Asset.Type, o.Asset.URI, o.Bet, string(o.State), o.CreatedAt)
	return err
}

// DeleteOffer removes an offer row and its accepts.
func (r *Repository) DeleteOffer(ctx context.Context, id int64) error {
	if r == nil || r.db == nil {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, `DELETE FROM accepts WHERE offer_id=$1`, id); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM offers WHERE id=$1`, id)
	return err
}

func (r *Repository) SaveAccept(ctx context.Context, a *match.Accept) error {
	if r == nil || r.db == nil || a == nil {
		return nil
	}
	q := `INSERT INTO accepts (id, offer_id, acceptor, asset_id, asset_type, promoted, created_at)
	      VALUES ($1,$2,$3,$4,$5,$6,$7)
	      ON CONFLICT (id) DO UPDATE SET
	        offer_id=EXCLUDED.offer_id,
	        acceptor=EXCLUDED.acceptor,
	        asset_id=EXCLUDED.asset_id,
	        asset_type=EXCLUDED.asset_type,
	        promoted=EXCLUDED.promoted`
	_, err := r.db.ExecContext(ctx, q, a.ID, a.OfferID, a.Acceptor, a.Asset.ID, a.Asset.Type, a.Promoted, a.CreatedAt)
	return err
}

func (r *Repository) DeleteAccept(ctx context.Context, id int64) error {
	if r == nil || r.db == nil {
		return nil
	}
	_, err := r.db.ExecContext(ctx, `DELETE FROM accepts WHERE id=$1`, id)
	return err
}

func (r *Repository) MarkOfferMatched(ctx context.Context, offerID, acceptID int64) error {
	if r == nil || r.db == nil {
		return nil
	}
	if _, err := r.db.ExecContext(ctx, `UPDATE offers SET state=$2 WHERE id=$1`, offerID, string(match.OfferMatched)); err != nil {
		return err
	}
	_, err := r.db.ExecContext(ctx, `UPDATE accepts SET promoted=TRUE WHERE id=$1`, acceptID)
	return err
}

func (r *Repository) SaveRound(ctx context.Context, duelID int64, number int, winner string, moves []duel.Move) error {
	if r == nil || r.db == nil {
		return nil
	}
	q := `INSERT INTO rounds (duel_id, number, winner) VALUES ($1,$2,$3)
	      ON CONFLICT (duel_id, number) DO UPDATE SET winner=EXCLUDED.winner`
	if _, err := r.db.ExecContext(ctx, q, duelID, number, winner); err != nil {
		return err
	}
	for _, m := range moves {
		mq := `INSERT INTO moves (duel_id, round_number, owner, choice, submitted_at)
		       VALUES ($1,$2,$3,$4,$5) ON CONFLICT DO NOTHING`
		if _, err := r.db.ExecContext(ctx, mq, duelID, number, m.Owner, string(m.Choice), m.SubmittedAt); err != nil {
			return err
		}
	}
	return nil
}

func (r *Repository) FinishDuel(ctx context.Context, duelID int64, winner string) error {
	if r == nil || r.db == nil {
		return nil
	}
	q := `INSERT INTO duel_results (duel_id, winner) VALUES ($1,$2)
	      ON CONFLICT (duel_id) DO UPDATE SET winner=EXCLUDED.winner`
	_, err := r.db.ExecContext(ctx, q, duelID, winner)
	return err
}

// LastScannedBlock returns the chain ingestion cursor, zero when the
// scanner has never run.
func (r *Repository) LastScannedBlock(ctx context.Context) (uint64, error) {
	if r == nil || r.db == nil {
		return 0, nil
	}
	var n int64
	err := r.db.QueryRowContext(ctx, `SELECT last_scanned_block FROM chain_cursor WHERE id=1`).Scan(&n)
	if err == sql.ErrNoRows {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return uint64(n), nil
}

func (r *Repository) SetLastScannedBlock(ctx context.Context, n uint64) error {
	if r == nil || r.db == nil {
		return nil
	}
	q := `INSERT INTO chain_cursor (id, last_scanned_block) VALUES (1, $1)
	      ON CONFLICT (id) DO UPDATE SET last_scanned_block=EXCLUDED.last_scanned_block`
	_, err := r.db.ExecContext(ctx, q, int64(n))
	return err
}
