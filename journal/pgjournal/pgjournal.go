// Package pgjournal stores deployment journals in PostgreSQL so several
// operators can share resumption state.
package pgjournal

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	deployer "github.com/branched-services/go-deployer"
)

// DefaultTable is the table used when none is configured.
const DefaultTable = "deployer_journal"

// DB is the subset of *pgxpool.Pool the journal uses.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Journal is a deployer.Journal backed by a PostgreSQL table keyed by
// (plan_id, future_id).
type Journal struct {
	db    DB
	table string
}

var (
	_ deployer.Journal = (*Journal)(nil)
	_ deployer.Lister  = (*Journal)(nil)
	_ deployer.Wiper   = (*Journal)(nil)
)

// Option configures a Journal.
type Option func(*Journal)

// WithTable overrides DefaultTable.
func WithTable(name string) Option {
	return func(j *Journal) {
		if name != "" {
			j.table = pgx.Identifier{name}.Sanitize()
		}
	}
}

// New creates a Journal on an existing pool.
func New(db DB, opts ...Option) *Journal {
	j := &Journal{db: db, table: pgx.Identifier{DefaultTable}.Sanitize()}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Connect opens a pool for dsn, verifies it and ensures the schema.
// The caller closes the returned pool.
func Connect(ctx context.Context, dsn string, opts ...Option) (*Journal, *pgxpool.Pool, error) {
	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, nil, fmt.Errorf("pgjournal: parse config: %w", err)
	}
	cfg.MaxConns = 4

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("pgjournal: create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("pgjournal: ping: %w", err)
	}

	j := New(pool, opts...)
	if err := j.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, nil, err
	}
	return j, pool, nil
}

// EnsureSchema creates the journal table if it does not exist.
func (j *Journal) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			plan_id     TEXT        NOT NULL,
			future_id   TEXT        NOT NULL,
			state       TEXT        NOT NULL,
			tx_hash     TEXT,
			record      JSONB       NOT NULL,
			updated_at  TIMESTAMPTZ NOT NULL,
			PRIMARY KEY (plan_id, future_id)
		)`, j.table)
	if _, err := j.db.Exec(ctx, query); err != nil {
		return fmt.Errorf("pgjournal: create table: %w", err)
	}
	return nil
}

// Record implements deployer.Journal. The upsert is a single statement, so
// a record is either fully replaced or untouched.
func (j *Journal) Record(ctx context.Context, planID, futureID string, rec deployer.ExecutionRecord) error {
	data, err := deployer.MarshalRecord(rec)
	if err != nil {
		return fmt.Errorf("pgjournal: encode %s: %w", futureID, err)
	}

	var txHash *string
	if rec.HasTx() {
		h := rec.TxHash.Hex()
		txHash = &h
	}
	updatedAt := rec.UpdatedAt
	if updatedAt.IsZero() {
		updatedAt = time.Now().UTC()
	}

	query := fmt.Sprintf(`
		INSERT INTO %s (plan_id, future_id, state, tx_hash, record, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (plan_id, future_id) DO UPDATE SET
			state = EXCLUDED.state,
			tx_hash = EXCLUDED.tx_hash,
			record = EXCLUDED.record,
			updated_at = EXCLUDED.updated_at`, j.table)

	if _, err := j.db.Exec(ctx, query, planID, futureID, rec.State.String(), txHash, data, updatedAt); err != nil {
		return fmt.Errorf("pgjournal: write %s: %w", futureID, err)
	}
	return nil
}

// Lookup implements deployer.Journal.
func (j *Journal) Lookup(ctx context.Context, planID, futureID string) (*deployer.ExecutionRecord, bool, error) {
	query := fmt.Sprintf(`SELECT record FROM %s WHERE plan_id = $1 AND future_id = $2`, j.table)

	var data []byte
	err := j.db.QueryRow(ctx, query, planID, futureID).Scan(&data)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("pgjournal: read %s: %w", futureID, err)
	}

	rec, err := deployer.UnmarshalRecord(data)
	if err != nil {
		return nil, false, fmt.Errorf("pgjournal: decode %s: %w", futureID, err)
	}
	return rec, true, nil
}

// Records implements deployer.Lister.
func (j *Journal) Records(ctx context.Context, planID string) ([]deployer.ExecutionRecord, error) {
	query := fmt.Sprintf(`SELECT record FROM %s WHERE plan_id = $1 ORDER BY updated_at, future_id`, j.table)

	rows, err := j.db.Query(ctx, query, planID)
	if err != nil {
		return nil, fmt.Errorf("pgjournal: list %s: %w", planID, err)
	}
	defer rows.Close()

	var recs []deployer.ExecutionRecord
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, fmt.Errorf("pgjournal: scan: %w", err)
		}
		rec, err := deployer.UnmarshalRecord(data)
		if err != nil {
			return nil, fmt.Errorf("pgjournal: decode: %w", err)
		}
		recs = append(recs, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("pgjournal: list %s: %w", planID, err)
	}
	return recs, nil
}

// Wipe implements deployer.Wiper.
func (j *Journal) Wipe(ctx context.Context, planID, futureID string) error {
	query := fmt.Sprintf(`DELETE FROM %s WHERE plan_id = $1 AND future_id = $2`, j.table)
	if _, err := j.db.Exec(ctx, query, planID, futureID); err != nil {
		return fmt.Errorf("pgjournal: wipe %s: %w", futureID, err)
	}
	return nil
}
