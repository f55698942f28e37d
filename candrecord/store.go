// Package candrecord implements the Candidate Record Store (§4.13): one row
// per attempt slot, transitioning available → pending → (streaming →
// success) | success | failed | skipped.
//
// Grounded on internal/admin/sql_store.go's dialect-branching pattern
// (SQLite/Postgres behind one struct, schema created on Ping) and
// internal/requestlog/store.go's entry-persistence shape.
package candrecord

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/ferro-labs/llm-gateway-core/candidates"
)

// Status is a Candidate Record's lifecycle state.
type Status string

const (
	StatusAvailable Status = "available"
	StatusPending   Status = "pending"
	StatusStreaming Status = "streaming"
	StatusSuccess   Status = "success"
	StatusFailed    Status = "failed"
	StatusSkipped   Status = "skipped"
)

type sqlDialect string

const (
	dialectSQLite   sqlDialect = "sqlite"
	dialectPostgres sqlDialect = "postgres"
)

// SQLStore persists Candidate Record rows to SQLite or Postgres,
// implementing orchestrator.RecordStore.
type SQLStore struct {
	db      *sql.DB
	dialect sqlDialect
}

// NewSQLiteStore opens (creating if absent) a SQLite-backed record store.
func NewSQLiteStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "ferrogw-candidate-records.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite candidate record store: %w", err)
	}
	s := &SQLStore{db: db, dialect: dialectSQLite}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewPostgresStore opens a Postgres-backed record store.
func NewPostgresStore(dsn string) (*SQLStore, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres candidate record store: %w", err)
	}
	s := &SQLStore{db: db, dialect: dialectPostgres}
	if err := s.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *SQLStore) init() error {
	if err := s.db.Ping(); err != nil {
		return fmt.Errorf("ping %s candidate record store: %w", s.dialect, err)
	}

	var ddl string
	switch s.dialect {
	case dialectPostgres:
		ddl = `
CREATE TABLE IF NOT EXISTS candidate_records (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	provider_id TEXT NOT NULL,
	endpoint_id TEXT NOT NULL,
	credential_id TEXT NOT NULL,
	required_capabilities TEXT,
	status_code INTEGER NOT NULL DEFAULT 0,
	latency_ms BIGINT NOT NULL DEFAULT 0,
	observed_in_flight INTEGER NOT NULL DEFAULT 0,
	error_kind TEXT,
	error_message TEXT,
	skip_reason TEXT,
	extra TEXT,
	updated_at TIMESTAMPTZ NOT NULL
);`
	default:
		ddl = `
CREATE TABLE IF NOT EXISTS candidate_records (
	id TEXT PRIMARY KEY,
	status TEXT NOT NULL,
	provider_id TEXT NOT NULL,
	endpoint_id TEXT NOT NULL,
	credential_id TEXT NOT NULL,
	required_capabilities TEXT,
	status_code INTEGER NOT NULL DEFAULT 0,
	latency_ms INTEGER NOT NULL DEFAULT 0,
	observed_in_flight INTEGER NOT NULL DEFAULT 0,
	error_kind TEXT,
	error_message TEXT,
	skip_reason TEXT,
	extra TEXT,
	updated_at DATETIME NOT NULL
);`
	}

	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize %s candidate record schema: %w", s.dialect, err)
	}
	return nil
}

func (s *SQLStore) upsertQuery() string {
	q := `INSERT INTO candidate_records(id, status, provider_id, endpoint_id, credential_id, required_capabilities, status_code, latency_ms, observed_in_flight, error_kind, error_message, skip_reason, extra, updated_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(id) DO UPDATE SET
		status = excluded.status,
		status_code = excluded.status_code,
		latency_ms = excluded.latency_ms,
		observed_in_flight = excluded.observed_in_flight,
		error_kind = excluded.error_kind,
		error_message = excluded.error_message,
		skip_reason = excluded.skip_reason,
		updated_at = excluded.updated_at`
	if s.dialect == dialectPostgres {
		return bindPostgres(q)
	}
	return q
}

func (s *SQLStore) upsert(id candidates.RecordID, status Status, providerID, endpointID, credentialID string, capabilities map[string]bool, statusCode int, latency time.Duration, observedInFlight int, errKind, errMessage, skipReason string) {
	capsJSON, _ := json.Marshal(capabilities)
	_, _ = s.db.ExecContext(context.Background(), s.upsertQuery(),
		string(id), string(status), providerID, endpointID, credentialID, string(capsJSON),
		statusCode, latency.Milliseconds(), observedInFlight, errKind, errMessage, skipReason,
		time.Now().UTC(),
	)
}

// MarkAvailable pre-creates a row for an attempt slot before any dispatch
// happens.
func (s *SQLStore) MarkAvailable(id candidates.RecordID, cand candidates.Candidate, requiredCapabilities map[string]bool) {
	s.upsert(id, StatusAvailable, cand.Provider.ID, cand.Endpoint.ID, cand.Credential.ID, requiredCapabilities, 0, 0, 0, "", "", "")
}

// MarkPending transitions a row to "pending" right before the dispatch call
// for that attempt is made.
func (s *SQLStore) MarkPending(id candidates.RecordID) {
	_, _ = s.db.ExecContext(context.Background(), s.statusOnlyQuery(), string(StatusPending), time.Now().UTC(), string(id))
}

// MarkSkipped transitions a row to "skipped" with the resolver's reason,
// re-supplying the provider, endpoint and credential ids of the candidate
// it was allocated for; the capability snapshot written by MarkAvailable
// is kept.
func (s *SQLStore) MarkSkipped(id candidates.RecordID, cand candidates.Candidate, reason string) {
	s.upsert(id, StatusSkipped, cand.Provider.ID, cand.Endpoint.ID, cand.Credential.ID, nil, 0, 0, 0, "", "", reason)
}

// MarkStreaming transitions a row to "streaming" once headers are in and the
// body is being handed to the caller without buffering the rest.
func (s *SQLStore) MarkStreaming(id candidates.RecordID) {
	_, _ = s.db.ExecContext(context.Background(), s.statusOnlyQuery(), string(StatusStreaming), time.Now().UTC(), string(id))
}

// MarkSuccess transitions a row to its terminal "success" state.
func (s *SQLStore) MarkSuccess(id candidates.RecordID, statusCode int, latency time.Duration, observedInFlight int) {
	q := `UPDATE candidate_records SET status = ?, status_code = ?, latency_ms = ?, observed_in_flight = ?, updated_at = ? WHERE id = ?`
	if s.dialect == dialectPostgres {
		q = bindPostgres(q)
	}
	_, _ = s.db.ExecContext(context.Background(), q, string(StatusSuccess), statusCode, latency.Milliseconds(), observedInFlight, time.Now().UTC(), string(id))
}

// MarkFailed transitions a row to its terminal "failed" state.
func (s *SQLStore) MarkFailed(id candidates.RecordID, statusCode int, latency time.Duration, observedInFlight int, errKind, errMessage string) {
	q := `UPDATE candidate_records SET status = ?, status_code = ?, latency_ms = ?, observed_in_flight = ?, error_kind = ?, error_message = ?, updated_at = ? WHERE id = ?`
	if s.dialect == dialectPostgres {
		q = bindPostgres(q)
	}
	_, _ = s.db.ExecContext(context.Background(), q, string(StatusFailed), statusCode, latency.Milliseconds(), observedInFlight, errKind, errMessage, time.Now().UTC(), string(id))
}

func (s *SQLStore) statusOnlyQuery() string {
	q := `UPDATE candidate_records SET status = ?, updated_at = ? WHERE id = ?`
	if s.dialect == dialectPostgres {
		return bindPostgres(q)
	}
	return q
}

func bindPostgres(query string) string {
	var (
		builder strings.Builder
		index   = 1
	)
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			builder.WriteString(fmt.Sprintf("$%d", index))
			index++
			continue
		}
		builder.WriteByte(query[i])
	}
	return builder.String()
}

func (s *SQLStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}
