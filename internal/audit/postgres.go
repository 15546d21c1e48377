package audit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

const auditSchema = `
CREATE TABLE IF NOT EXISTS audit_entries (
	seq           BIGINT PRIMARY KEY,
	id            TEXT NOT NULL,
	occurred_at   TIMESTAMPTZ NOT NULL,
	action        TEXT NOT NULL,
	actor         TEXT NOT NULL,
	resource      TEXT NOT NULL,
	detail        JSONB NOT NULL DEFAULT '{}',
	previous_hash TEXT NOT NULL,
	entry_hash    TEXT NOT NULL,
	signature     TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_resource ON audit_entries (resource);
CREATE INDEX IF NOT EXISTS idx_audit_actor ON audit_entries (actor);
`

// PostgresStore persists the audit trail in Postgres. The sequence
// number is the primary key, so concurrent writers cannot fork the
// chain silently.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the audit table if it does not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, auditSchema); err != nil {
		return fmt.Errorf("failed to create audit schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Append(ctx context.Context, e *Entry) error {
	detail, err := json.Marshal(e.Detail)
	if err != nil {
		return fmt.Errorf("failed to marshal entry detail: %w", err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO audit_entries
			(seq, id, occurred_at, action, actor, resource, detail, previous_hash, entry_hash, signature)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		e.Sequence, e.ID, e.Timestamp, string(e.Action), e.Actor, e.Resource,
		detail, e.PreviousHash, e.EntryHash, e.Signature)
	if err != nil {
		return fmt.Errorf("failed to insert audit entry: %w", err)
	}
	return nil
}

func (s *PostgresStore) Entries(ctx context.Context, q Query) ([]Entry, error) {
	sql, args := buildEntriesQuery(q)

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query audit entries: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Last(ctx context.Context) (*Entry, bool, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT seq, id, occurred_at, action, actor, resource, detail, previous_hash, entry_hash, signature
		FROM audit_entries ORDER BY seq DESC LIMIT 1`)

	e, err := scanEntry(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return &e, true, nil
}

func buildEntriesQuery(q Query) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT seq, id, occurred_at, action, actor, resource, detail, previous_hash, entry_hash, signature
		FROM audit_entries`)

	var conds []string
	var args []any
	arg := func(v any) string {
		args = append(args, v)
		return "$" + strconv.Itoa(len(args))
	}

	if q.Actor != "" {
		conds = append(conds, "actor = "+arg(q.Actor))
	}
	if q.Resource != "" {
		conds = append(conds, "resource = "+arg(q.Resource))
	}
	if q.Action != "" {
		conds = append(conds, "action = "+arg(string(q.Action)))
	}
	if !q.Since.IsZero() {
		conds = append(conds, "occurred_at >= "+arg(q.Since))
	}

	if len(conds) > 0 {
		sb.WriteString(" WHERE " + strings.Join(conds, " AND "))
	}
	sb.WriteString(" ORDER BY seq ASC")
	if q.Limit > 0 {
		sb.WriteString(" LIMIT " + arg(q.Limit))
	}

	return sb.String(), args
}

func scanEntry(row pgx.Row) (Entry, error) {
	var (
		e      Entry
		action string
		detail []byte
	)
	err := row.Scan(&e.Sequence, &e.ID, &e.Timestamp, &action, &e.Actor,
		&e.Resource, &detail, &e.PreviousHash, &e.EntryHash, &e.Signature)
	if err != nil {
		return Entry{}, err
	}
	e.Action = Action(action)

	if len(detail) > 0 {
		if err := json.Unmarshal(detail, &e.Detail); err != nil {
			return Entry{}, fmt.Errorf("failed to unmarshal entry detail: %w", err)
		}
	}
	// Hashes were computed over UTC timestamps.
	e.Timestamp = e.Timestamp.UTC()

	return e, nil
}
