package history

import (
	"context"
	"fmt"
	"net/netip"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/tablextract/internal/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS extraction_runs (
	id          BIGSERIAL PRIMARY KEY,
	kind        TEXT        NOT NULL,
	ref         TEXT        NOT NULL,
	document    TEXT        NOT NULL,
	mode        TEXT        NOT NULL,
	selection   TEXT        NOT NULL,
	table_count INTEGER     NOT NULL,
	artifacts   TEXT[]      NOT NULL DEFAULT '{}',
	success     BOOLEAN     NOT NULL,
	error       TEXT,
	ip_address  INET,
	user_agent  TEXT,
	started_at  TIMESTAMPTZ NOT NULL,
	duration_ms BIGINT      NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS extraction_runs_started_at_idx ON extraction_runs (started_at DESC);
`

const insertRecord = `
INSERT INTO extraction_runs
	(kind, ref, document, mode, selection, table_count, artifacts, success, error, ip_address, user_agent, started_at, duration_ms)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`

const selectRecent = `
SELECT kind, ref, document, mode, selection, table_count, artifacts, success, error, ip_address, user_agent, started_at, duration_ms
FROM extraction_runs
ORDER BY started_at DESC, id DESC
LIMIT $1`

// PostgresStore keeps run history in the extraction_runs table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a store over pool and ensures the table exists.
func NewPostgresStore(ctx context.Context, pool *pgxpool.Pool) (*PostgresStore, error) {
	if _, err := pool.Exec(ctx, schema); err != nil {
		return nil, fmt.Errorf("create extraction_runs: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// RecordRun implements core.RunRecorder.
func (p *PostgresStore) RecordRun(ctx context.Context, run core.RunSummary) error {
	return p.insert(ctx, FromRun(run))
}

// RecordBatch implements core.RunRecorder.
func (p *PostgresStore) RecordBatch(ctx context.Context, job core.BatchSummary) error {
	return p.insert(ctx, FromBatch(job))
}

func (p *PostgresStore) insert(ctx context.Context, r Record) error {
	artifacts := r.Artifacts
	if artifacts == nil {
		artifacts = []string{}
	}

	_, err := p.pool.Exec(ctx, insertRecord,
		string(r.Kind), r.Ref, r.Document, string(r.Mode), r.Selection,
		r.TableCount, artifacts, r.Success,
		nullText(r.Error), parseIP(r.ClientIP), nullText(r.UserAgent),
		r.StartedAt, r.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert %s %s: %w", r.Kind, r.Ref, err)
	}
	return nil
}

// Recent implements Store.
func (p *PostgresStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = DefaultRecentLimit
	}

	rows, err := p.pool.Query(ctx, selectRecent, limit)
	if err != nil {
		return nil, fmt.Errorf("query history: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan history: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func scanRecord(rows pgx.Rows) (Record, error) {
	var (
		kind, ref, document, mode, selection string
		tableCount                           int32
		artifacts                            []string
		success                              bool
		errText                              pgtype.Text
		ipAddress                            *netip.Addr
		userAgent                            pgtype.Text
		startedAt                            pgtype.Timestamptz
		durationMS                           int64
	)

	err := rows.Scan(
		&kind, &ref, &document, &mode, &selection,
		&tableCount, &artifacts, &success,
		&errText, &ipAddress, &userAgent,
		&startedAt, &durationMS,
	)
	if err != nil {
		return Record{}, err
	}

	r := Record{
		Kind:       Kind(kind),
		Ref:        ref,
		Document:   document,
		Mode:       core.DetectionMode(mode),
		Selection:  selection,
		TableCount: int(tableCount),
		Artifacts:  artifacts,
		Success:    success,
		Error:      errText.String,
		UserAgent:  userAgent.String,
		StartedAt:  startedAt.Time,
		Duration:   time.Duration(durationMS) * time.Millisecond,
	}
	if ipAddress != nil {
		r.ClientIP = ipAddress.String()
	}
	return r, nil
}

func nullText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

// parseIP returns nil for addresses Postgres' INET type would reject.
func parseIP(s string) *netip.Addr {
	addr, err := netip.ParseAddr(s)
	if err != nil {
		return nil
	}
	return &addr
}
