package suggestion

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"rulegate/internal/dryrun"
	"rulegate/internal/overlap"
	"rulegate/internal/rules"
)

const suggestionSchema = `
CREATE TABLE IF NOT EXISTS suggestions (
	id                 TEXT PRIMARY KEY,
	status             TEXT NOT NULL,
	instruction        TEXT NOT NULL,
	author             TEXT NOT NULL,
	rule               JSONB NOT NULL,
	violations         JSONB,
	impact             JSONB,
	impact_unavailable TEXT NOT NULL DEFAULT '',
	overlap            JSONB,
	approver           TEXT NOT NULL DEFAULT '',
	notes              TEXT NOT NULL DEFAULT '',
	ack_impact         BOOLEAN NOT NULL DEFAULT FALSE,
	created_at         TIMESTAMPTZ NOT NULL,
	decided_at         TIMESTAMPTZ,
	expires_at         TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_suggestions_status ON suggestions (status);
CREATE INDEX IF NOT EXISTS idx_suggestions_author ON suggestions (author);

CREATE TABLE IF NOT EXISTS rule_versions (
	name          TEXT NOT NULL,
	version       INT NOT NULL,
	rule          JSONB NOT NULL,
	suggestion_id TEXT NOT NULL,
	approved_by   TEXT NOT NULL,
	impact        JSONB,
	overlap       JSONB,
	promoted_at   TIMESTAMPTZ NOT NULL,
	enabled       BOOLEAN NOT NULL DEFAULT TRUE,
	PRIMARY KEY (name, version)
);
`

const suggestionColumns = `id, status, instruction, author, rule, violations, impact,
	impact_unavailable, overlap, approver, notes, ack_impact, created_at, decided_at, expires_at`

// Connect opens a pgx pool and verifies connectivity.
func Connect(ctx context.Context, dsn string) (*pgxpool.Pool, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("suggestion: failed to create pool: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(pingCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("suggestion: failed to ping postgres: %w", err)
	}

	return pool, nil
}

// PostgresStore persists suggestions and rule versions in Postgres.
// The decision race is settled by the database: the status-guarded
// UPDATE applies at most once no matter how many instances race.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

// EnsureSchema creates the suggestion tables if they do not exist.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.pool.Exec(ctx, suggestionSchema); err != nil {
		return fmt.Errorf("suggestion: failed to create schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) Create(ctx context.Context, sg *Suggestion) error {
	rule, err := json.Marshal(sg.Rule)
	if err != nil {
		return fmt.Errorf("suggestion: failed to marshal rule: %w", err)
	}
	violations, err := marshalOrNil(sg.Violations)
	if err != nil {
		return err
	}
	impact, err := marshalOrNil(sg.Impact)
	if err != nil {
		return err
	}
	ov, err := marshalOrNil(sg.Overlap)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO suggestions
			(id, status, instruction, author, rule, violations, impact,
			 impact_unavailable, overlap, approver, notes, ack_impact,
			 created_at, decided_at, expires_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		sg.ID, string(sg.Status), sg.Instruction, sg.Author, rule, violations, impact,
		sg.ImpactUnavailable, ov, sg.Approver, sg.Notes, sg.AckImpact,
		sg.CreatedAt, sg.DecidedAt, sg.ExpiresAt)
	if err != nil {
		return fmt.Errorf("suggestion: failed to insert: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Suggestion, error) {
	row := s.pool.QueryRow(ctx,
		`SELECT `+suggestionColumns+` FROM suggestions WHERE id = $1`, id)

	sg, err := scanSuggestion(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return sg, nil
}

func (s *PostgresStore) List(ctx context.Context, q ListQuery) ([]Suggestion, error) {
	sql := `SELECT ` + suggestionColumns + ` FROM suggestions`
	var conds []string
	var args []any

	if q.Status != "" {
		args = append(args, string(q.Status))
		conds = append(conds, fmt.Sprintf("status = $%d", len(args)))
	}
	if q.Author != "" {
		args = append(args, q.Author)
		conds = append(conds, fmt.Sprintf("author = $%d", len(args)))
	}
	for i, c := range conds {
		if i == 0 {
			sql += " WHERE " + c
		} else {
			sql += " AND " + c
		}
	}
	sql += " ORDER BY created_at DESC"
	if q.Limit > 0 {
		args = append(args, q.Limit)
		sql += fmt.Sprintf(" LIMIT $%d", len(args))
	}

	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("suggestion: failed to list: %w", err)
	}
	defer rows.Close()

	var out []Suggestion
	for rows.Next() {
		sg, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *sg)
	}
	return out, rows.Err()
}

func (s *PostgresStore) Decide(ctx context.Context, id string, r Resolution) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE suggestions
		SET status = $2, approver = $3, notes = $4, ack_impact = $5, decided_at = $6
		WHERE id = $1 AND status = 'pending'`,
		id, string(r.Status), r.Reviewer, r.Notes, r.AckImpact, r.DecidedAt)
	if err != nil {
		return fmt.Errorf("suggestion: failed to apply transition: %w", err)
	}

	if tag.RowsAffected() == 0 {
		var status string
		err := s.pool.QueryRow(ctx,
			`SELECT status FROM suggestions WHERE id = $1`, id).Scan(&status)
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return fmt.Errorf("suggestion: failed to inspect status: %w", err)
		}
		return ErrAlreadyDecided
	}
	return nil
}

func (s *PostgresStore) ExpireBefore(ctx context.Context, cutoff time.Time) ([]Suggestion, error) {
	rows, err := s.pool.Query(ctx, `
		UPDATE suggestions
		SET status = 'expired', decided_at = $1
		WHERE status = 'pending' AND expires_at <= $1
		RETURNING `+suggestionColumns, cutoff)
	if err != nil {
		return nil, fmt.Errorf("suggestion: failed to expire: %w", err)
	}
	defer rows.Close()

	var expired []Suggestion
	for rows.Next() {
		sg, err := scanSuggestion(rows)
		if err != nil {
			return nil, err
		}
		expired = append(expired, *sg)
	}
	return expired, rows.Err()
}

func (s *PostgresStore) AppendVersion(ctx context.Context, v *RuleVersion) error {
	rule, err := json.Marshal(v.Rule)
	if err != nil {
		return fmt.Errorf("suggestion: failed to marshal rule version: %w", err)
	}
	impact, err := marshalOrNil(v.Impact)
	if err != nil {
		return err
	}
	ov, err := marshalOrNil(v.Overlap)
	if err != nil {
		return err
	}

	// The primary key on (name, version) turns a promotion race into a
	// constraint violation instead of a silently duplicated version.
	err = s.pool.QueryRow(ctx, `
		INSERT INTO rule_versions
			(name, version, rule, suggestion_id, approved_by, impact, overlap, promoted_at, enabled)
		VALUES ($1,
			(SELECT COALESCE(MAX(version), 0) + 1 FROM rule_versions WHERE name = $1),
			$2, $3, $4, $5, $6, $7, $8)
		RETURNING version`,
		v.Name, rule, v.SuggestionID, v.ApprovedBy, impact, ov, v.PromotedAt, v.Enabled).Scan(&v.Version)
	if err != nil {
		return fmt.Errorf("suggestion: failed to append rule version: %w", err)
	}
	return nil
}

func (s *PostgresStore) ActiveRules(ctx context.Context) ([]*rules.Rule, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT rule FROM (
			SELECT DISTINCT ON (name) rule, enabled
			FROM rule_versions
			ORDER BY name, version DESC
		) latest
		WHERE enabled`)
	if err != nil {
		return nil, fmt.Errorf("suggestion: failed to load active rules: %w", err)
	}
	defer rows.Close()

	var out []*rules.Rule
	for rows.Next() {
		var data []byte
		if err := rows.Scan(&data); err != nil {
			return nil, err
		}
		var rule rules.Rule
		if err := json.Unmarshal(data, &rule); err != nil {
			return nil, fmt.Errorf("suggestion: failed to unmarshal active rule: %w", err)
		}
		out = append(out, &rule)
	}
	return out, rows.Err()
}

func scanSuggestion(row pgx.Row) (*Suggestion, error) {
	var (
		sg         Suggestion
		status     string
		rule       []byte
		violations []byte
		impact     []byte
		ov         []byte
	)
	err := row.Scan(&sg.ID, &status, &sg.Instruction, &sg.Author, &rule, &violations,
		&impact, &sg.ImpactUnavailable, &ov, &sg.Approver, &sg.Notes, &sg.AckImpact,
		&sg.CreatedAt, &sg.DecidedAt, &sg.ExpiresAt)
	if err != nil {
		return nil, err
	}
	sg.Status = Status(status)

	if err := json.Unmarshal(rule, &sg.Rule); err != nil {
		return nil, fmt.Errorf("suggestion: failed to unmarshal rule: %w", err)
	}
	if err := unmarshalIfSet(violations, &sg.Violations); err != nil {
		return nil, err
	}
	if err := unmarshalIfSet(impact, &sg.Impact); err != nil {
		return nil, err
	}
	if err := unmarshalIfSet(ov, &sg.Overlap); err != nil {
		return nil, err
	}

	return &sg, nil
}

func marshalOrNil(v any) ([]byte, error) {
	switch val := v.(type) {
	case []rules.Violation:
		if len(val) == 0 {
			return nil, nil
		}
	case []overlap.Entry:
		if len(val) == 0 {
			return nil, nil
		}
	case *dryrun.ImpactReport:
		if val == nil {
			return nil, nil
		}
	}

	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("suggestion: failed to marshal field: %w", err)
	}
	return data, nil
}

func unmarshalIfSet(data []byte, out any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("suggestion: failed to unmarshal field: %w", err)
	}
	return nil
}
