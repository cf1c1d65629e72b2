package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	otelmetric "go.opentelemetry.io/otel/metric"

	"github.com/homescout/homescout/config"
)

// Store is the optional Postgres archive. It keeps a durable record of chat
// turns and delivered responses and backs the idempotency ledger; live
// aggregation state never lives here.
type Store struct {
	DB *sql.DB
}

// Turn roles persisted in the chat archive.
const (
	TurnRoleUser      = "user"
	TurnRoleAssistant = "assistant"
)

// TurnRecord is one archived chat message.
type TurnRecord struct {
	ID        int64
	SessionID string
	Turn      int
	Role      string
	Content   string
	CreatedAt time.Time
}

// ResponseRecord is one archived assistant response with its assembled payload.
type ResponseRecord struct {
	SessionID   string
	Turn        int
	Partial     bool
	ListingURLs []string
	Payload     json.RawMessage
	CreatedAt   time.Time
}

var (
	metricsOnce    sync.Once
	turnCounter    otelmetric.Int64Counter
	metricsInitErr error
)

func initStoreMetrics() {
	meter := otel.Meter("store")
	var err error
	turnCounter, err = meter.Int64Counter("archived_turns_total")
	if err != nil {
		metricsInitErr = err
	}
}

// New constructs the Store from configuration.
func New(ctx context.Context, cfg config.PostgresConfig) (*Store, error) {
	return NewWithDSN(ctx, DSN(cfg))
}

// NewWithDSN constructs the Store using an explicit Postgres DSN
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, err
	}
	return &Store{DB: db}, nil
}

// DSN composes a Postgres connection string from configuration.
func DSN(cfg config.PostgresConfig) string {
	if strings.TrimSpace(cfg.URL) != "" {
		return cfg.URL
	}
	host := cfg.Host
	if host == "" {
		host = "localhost"
	}
	port := cfg.Port
	if port == "" {
		port = "5432"
	}
	ssl := cfg.SSLMode
	if ssl == "" {
		ssl = "disable"
	}
	return fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", cfg.User, cfg.Password, host, port, cfg.DBName, ssl)
}

// ClaimIdempotency attempts to register a processed event. It returns false if the key already exists.
func (s *Store) ClaimIdempotency(ctx context.Context, scope, key string) (bool, error) {
	if scope == "" || key == "" {
		return false, fmt.Errorf("scope and key must be provided")
	}
	var inserted bool
	err := s.DB.QueryRowContext(ctx, `INSERT INTO idempotency_keys (scope, key) VALUES ($1,$2) ON CONFLICT DO NOTHING RETURNING true`, scope, key).Scan(&inserted)
	if err == sql.ErrNoRows {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return inserted, nil
}

// PruneIdempotency removes idempotency claims older than the cutoff. Returns
// the number of rows deleted.
func (s *Store) PruneIdempotency(ctx context.Context, cutoff time.Time) (int64, error) {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

// InsertTurn archives one chat message.
func (s *Store) InsertTurn(ctx context.Context, rec TurnRecord) error {
	if rec.SessionID == "" || rec.Role == "" {
		return fmt.Errorf("session_id and role are required")
	}
	_, err := s.DB.ExecContext(ctx,
		`INSERT INTO chat_turns (session_id, turn, role, content) VALUES ($1,$2,$3,$4)`,
		rec.SessionID, rec.Turn, rec.Role, rec.Content)
	if err != nil {
		return err
	}

	metricsOnce.Do(initStoreMetrics)
	if metricsInitErr == nil && turnCounter != nil {
		attrs := []attribute.KeyValue{
			attribute.String("role", rec.Role),
		}
		turnCounter.Add(ctx, 1, otelmetric.WithAttributes(attrs...))
	}
	return nil
}

// ListTurns returns archived messages for a session in chronological order.
func (s *Store) ListTurns(ctx context.Context, sessionID string, limit int) ([]TurnRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, session_id, turn, role, content, created_at FROM chat_turns WHERE session_id=$1 ORDER BY id ASC LIMIT $2`,
		sessionID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []TurnRecord
	for rows.Next() {
		var rec TurnRecord
		if err := rows.Scan(&rec.ID, &rec.SessionID, &rec.Turn, &rec.Role, &rec.Content, &rec.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// InsertResponse archives a delivered assistant response. Replays of the same
// (session, turn) pair are ignored so late duplicates never overwrite the
// first delivery.
func (s *Store) InsertResponse(ctx context.Context, rec ResponseRecord) error {
	if rec.SessionID == "" {
		return fmt.Errorf("session_id is required")
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO final_responses (session_id, turn, partial, listing_urls, payload)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (session_id, turn) DO NOTHING`,
		rec.SessionID, rec.Turn, rec.Partial, pq.Array(rec.ListingURLs), []byte(rec.Payload))
	return err
}

// GetResponse retrieves an archived response. The bool indicates whether a record was found.
func (s *Store) GetResponse(ctx context.Context, sessionID string, turn int) (ResponseRecord, bool, error) {
	var (
		rec  ResponseRecord
		urls pq.StringArray
	)
	row := s.DB.QueryRowContext(ctx,
		`SELECT session_id, turn, partial, listing_urls, payload, created_at FROM final_responses WHERE session_id=$1 AND turn=$2`,
		sessionID, turn)
	if err := row.Scan(&rec.SessionID, &rec.Turn, &rec.Partial, &urls, (*[]byte)(&rec.Payload), &rec.CreatedAt); err != nil {
		if err == sql.ErrNoRows {
			return ResponseRecord{}, false, nil
		}
		return ResponseRecord{}, false, err
	}
	rec.ListingURLs = []string(urls)
	return rec, true, nil
}
