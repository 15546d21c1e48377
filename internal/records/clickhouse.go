package records

import (
	"context"
	"crypto/tls"
	"fmt"
	"strings"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"

	"rulegate/internal/rules"
)

// ClickHouseConfig holds the configuration for the analytical record store.
type ClickHouseConfig struct {
	Hosts           []string      `yaml:"hosts"`
	Database        string        `yaml:"database"`
	Table           string        `yaml:"table"`
	Username        string        `yaml:"username"`
	Password        string        `yaml:"password"`
	MaxOpenConns    int           `yaml:"max_open_conns"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime"`
	TLSEnabled      bool          `yaml:"tls_enabled"`
	DialTimeout     time.Duration `yaml:"dial_timeout"`
	Debug           bool          `yaml:"debug"`
}

// DefaultClickHouseConfig returns the default record store configuration.
func DefaultClickHouseConfig() ClickHouseConfig {
	return ClickHouseConfig{
		Hosts:           []string{"localhost:9000"},
		Database:        "rulegate",
		Table:           "transactions",
		Username:        "default",
		Password:        "",
		MaxOpenConns:    10,
		MaxIdleConns:    5,
		ConnMaxLifetime: time.Hour,
		TLSEnabled:      false,
		DialTimeout:     10 * time.Second,
		Debug:           false,
	}
}

// ClickHouseStore serves pre-projected transactions from ClickHouse.
type ClickHouseStore struct {
	conn   driver.Conn
	config ClickHouseConfig
}

// NewClickHouseStore connects to ClickHouse and verifies the connection.
func NewClickHouseStore(cfg ClickHouseConfig) (*ClickHouseStore, error) {
	opts := &clickhouse.Options{
		Addr: cfg.Hosts,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		Settings: clickhouse.Settings{
			"max_execution_time": 60,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionZSTD,
		},
		DialTimeout:     cfg.DialTimeout,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		Debug:           cfg.Debug,
	}

	if cfg.TLSEnabled {
		opts.TLS = &tls.Config{
			InsecureSkipVerify: false,
		}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, WrapConnectionError("Open", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := conn.Ping(ctx); err != nil {
		return nil, WrapConnectionError("Ping", err)
	}

	return &ClickHouseStore{conn: conn, config: cfg}, nil
}

// Close closes the ClickHouse connection.
func (s *ClickHouseStore) Close() error {
	return s.conn.Close()
}

// Ping checks if the connection is alive.
func (s *ClickHouseStore) Ping(ctx context.Context) error {
	return s.conn.Ping(ctx)
}

// EnsureSchema creates the transactions table if it doesn't exist.
func (s *ClickHouseStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
		CREATE TABLE IF NOT EXISTS %s (
			id String,
			occurred_at DateTime,
			amount Float64,
			currency LowCardinality(String),
			device LowCardinality(String),
			hour UInt8,
			country LowCardinality(String),
			merchant_category LowCardinality(String),
			is_international Bool,
			account_age_days UInt32,
			tx_count_24h UInt32,
			agent_id String,
			email String,
			ip_address String,
			card_bin String,
			baseline_decision LowCardinality(String),
			flagged Bool,
			disputed Bool
		)
		ENGINE = MergeTree()
		ORDER BY (occurred_at, id)
	`, s.config.Table)

	if err := s.conn.Exec(ctx, query); err != nil {
		return WrapQueryError("EnsureSchema", err)
	}
	return nil
}

// QueryRecords returns up to q.Limit transactions matching the predicates.
func (s *ClickHouseStore) QueryRecords(ctx context.Context, q Query) ([]TransactionRecord, error) {
	where, args := buildWhere(q)

	order := "ORDER BY occurred_at DESC"
	if q.Random {
		order = "ORDER BY rand()"
	}

	limit := q.Limit
	if limit <= 0 {
		limit = 100
	}

	query := fmt.Sprintf(`
		SELECT id, occurred_at, amount, currency, device, hour, country,
		       merchant_category, is_international, account_age_days,
		       tx_count_24h, agent_id, email, ip_address, card_bin,
		       baseline_decision, flagged, disputed
		FROM %s
		%s
		%s
		LIMIT %d
	`, s.config.Table, where, order, limit)

	rows, err := s.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, WrapQueryError("QueryRecords", err)
	}
	defer rows.Close()

	var out []TransactionRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, WrapQueryError("QueryRecords", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, WrapQueryError("QueryRecords", err)
	}
	return out, nil
}

// buildWhere assembles the WHERE clause for the supported predicates.
func buildWhere(q Query) (string, []any) {
	var clauses []string
	var args []any

	if q.Since != nil {
		clauses = append(clauses, "occurred_at >= ?")
		args = append(args, *q.Since)
	}
	if q.WeekendOrOffHours {
		clauses = append(clauses,
			"(toDayOfWeek(occurred_at) >= 6 OR toHour(occurred_at) < 6 OR toHour(occurred_at) >= 22)")
	}
	if q.FlaggedOrDisputed {
		clauses = append(clauses, "(flagged = true OR disputed = true)")
	}
	if q.MinAmount != nil {
		clauses = append(clauses, "amount >= ?")
		args = append(args, *q.MinAmount)
	}
	if q.IDFrom != "" {
		clauses = append(clauses, "id >= ?")
		args = append(args, q.IDFrom)
	}
	if q.IDTo != "" {
		clauses = append(clauses, "id <= ?")
		args = append(args, q.IDTo)
	}

	if len(clauses) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func scanRecord(rows driver.Rows) (TransactionRecord, error) {
	var (
		rec              TransactionRecord
		hour             uint8
		accountAgeDays   uint32
		txCount24h       uint32
		baselineDecision string
	)

	err := rows.Scan(
		&rec.ID, &rec.OccurredAt, &rec.Amount, &rec.Currency, &rec.Device,
		&hour, &rec.Country, &rec.MerchantCategory, &rec.IsInternational,
		&accountAgeDays, &txCount24h, &rec.AgentID, &rec.Email,
		&rec.IPAddress, &rec.CardBIN, &baselineDecision,
		&rec.Flagged, &rec.Disputed,
	)
	if err != nil {
		return rec, err
	}

	rec.Hour = int(hour)
	rec.AccountAgeDays = int(accountAgeDays)
	rec.TxCount24h = int(txCount24h)
	rec.BaselineDecision = rules.Decision(baselineDecision)
	if !rec.BaselineDecision.IsValid() {
		rec.BaselineDecision = rules.DecisionAllow
	}
	return rec, nil
}
