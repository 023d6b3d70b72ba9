package ledger

import (
	"context"
	"database/sql"
	"fmt"
)

const ledgerSchema = `
CREATE TABLE IF NOT EXISTS dao_ledger (
	envelope_id  UUID PRIMARY KEY,
	seq          BIGINT NOT NULL UNIQUE,
	tx_hash      TEXT NOT NULL,
	tx_type      TEXT NOT NULL,
	tx_status    TEXT NOT NULL,
	from_addr    TEXT NOT NULL,
	to_addr      TEXT NOT NULL,
	proposal_id  TEXT,
	value        TEXT,
	gas_used     TEXT,
	tx_ts        TIMESTAMPTZ NOT NULL,
	prev_hash    TEXT,
	hash         TEXT NOT NULL,
	recorded_at  TIMESTAMPTZ NOT NULL
)`

// PGArchive mirrors exported envelopes into the dao_ledger table. It is an
// export target only; the service never reads state back from it.
type PGArchive struct {
	db *sql.DB
}

func NewPGArchive(db *sql.DB) *PGArchive {
	return &PGArchive{db: db}
}

func (p *PGArchive) Name() string { return "postgres:dao_ledger" }

// EnsureSchema creates the dao_ledger table when missing.
func (p *PGArchive) EnsureSchema(ctx context.Context) error {
	if _, err := p.db.ExecContext(ctx, ledgerSchema); err != nil {
		return fmt.Errorf("create dao_ledger: %w", err)
	}
	return nil
}

func (p *PGArchive) Ping(ctx context.Context) error {
	return p.db.PingContext(ctx)
}

func (p *PGArchive) Publish(ctx context.Context, env Envelope) error {
	tx := env.Transaction
	q := `
		INSERT INTO dao_ledger
		  (envelope_id, seq, tx_hash, tx_type, tx_status, from_addr, to_addr, proposal_id, value, gas_used, tx_ts, prev_hash, hash, recorded_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14)
		ON CONFLICT (envelope_id) DO NOTHING
	`
	_, err := p.db.ExecContext(ctx, q,
		env.ID,
		env.Seq,
		tx.Hash,
		string(tx.Type),
		string(tx.Status),
		tx.From,
		tx.To,
		nullString(tx.ProposalID),
		nullString(tx.Value),
		nullString(tx.GasUsed),
		tx.Timestamp,
		nullString(env.PrevHash),
		env.Hash,
		env.RecordedAt,
	)
	if err != nil {
		return fmt.Errorf("insert dao_ledger: %w", err)
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
