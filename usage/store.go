// Package usage implements the Usage Recorder (§4.12): one ledger row per
// inbound request, written exactly once regardless of how many candidates
// were attempted.
//
// Grounded on internal/requestlog/store.go: same SQLite/Postgres dialect
// split, same sql.Open/Ping/init DDL shape, same NullString handling for
// optional columns.
package usage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"github.com/ferro-labs/llm-gateway-core/catalog"
	"github.com/ferro-labs/llm-gateway-core/orchestrator"
)

// Query filters a ledger listing.
type Query struct {
	Limit    int
	Offset   int
	CallerID string
	Provider string
	Since    *time.Time
}

// ListResult is a paginated ledger query response.
type ListResult struct {
	Data  []orchestrator.UsageRecord
	Total int
}

// Reader loads ledger rows back out, for the admin surface and for offline
// cost/usage analysis. The core never reads its own writes.
type Reader interface {
	List(ctx context.Context, query Query) (ListResult, error)
}

// NoopRecorder discards every row. Useful when usage metering is disabled.
type NoopRecorder struct{}

func (NoopRecorder) Record(context.Context, orchestrator.UsageRecord) {}

// SQLRecorder persists UsageRecord rows to SQLite or Postgres, implementing
// orchestrator.UsageRecorder.
type SQLRecorder struct {
	db      *sql.DB
	dialect string
}

// NewSQLiteRecorder opens (creating if absent) a SQLite-backed ledger.
func NewSQLiteRecorder(dsn string) (*SQLRecorder, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		dsn = "ferrogw-usage.db"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite usage ledger: %w", err)
	}
	w := &SQLRecorder{db: db, dialect: "sqlite"}
	if err := w.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

// NewPostgresRecorder opens a Postgres-backed ledger.
func NewPostgresRecorder(dsn string) (*SQLRecorder, error) {
	dsn = strings.TrimSpace(dsn)
	if dsn == "" {
		return nil, fmt.Errorf("postgres dsn is required")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres usage ledger: %w", err)
	}
	w := &SQLRecorder{db: db, dialect: "postgres"}
	if err := w.init(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return w, nil
}

func (w *SQLRecorder) init() error {
	if err := w.db.Ping(); err != nil {
		return fmt.Errorf("ping %s usage ledger: %w", w.dialect, err)
	}

	ddl := `
CREATE TABLE IF NOT EXISTS usage_ledger (
	id INTEGER PRIMARY KEY,
	caller_id TEXT NOT NULL,
	client_format TEXT NOT NULL,
	canonical_model_id TEXT,
	provider TEXT NOT NULL,
	endpoint_id TEXT,
	credential_id TEXT,
	stream BOOLEAN NOT NULL,
	success BOOLEAN NOT NULL,
	status_code INTEGER NOT NULL,
	error_kind TEXT,
	ttfb_ms INTEGER NOT NULL,
	total_time_ms INTEGER NOT NULL,
	request_header TEXT,
	request_body TEXT,
	extra TEXT,
	created_at TIMESTAMP NOT NULL
);`
	if w.dialect == "postgres" {
		ddl = `
CREATE TABLE IF NOT EXISTS usage_ledger (
	id BIGSERIAL PRIMARY KEY,
	caller_id TEXT NOT NULL,
	client_format TEXT NOT NULL,
	canonical_model_id TEXT,
	provider TEXT NOT NULL,
	endpoint_id TEXT,
	credential_id TEXT,
	stream BOOLEAN NOT NULL,
	success BOOLEAN NOT NULL,
	status_code INTEGER NOT NULL,
	error_kind TEXT,
	ttfb_ms BIGINT NOT NULL,
	total_time_ms BIGINT NOT NULL,
	request_header TEXT,
	request_body TEXT,
	extra TEXT,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_usage_ledger_caller ON usage_ledger(caller_id);`
	}

	if _, err := w.db.Exec(ddl); err != nil {
		return fmt.Errorf("initialize usage ledger schema: %w", err)
	}
	return nil
}

// Record writes one ledger row. It never returns an error to the caller: a
// write failure here must not fail the request it is reporting on, so the
// insert error is discarded; it is neither logged nor retried.
func (w *SQLRecorder) Record(ctx context.Context, rec orchestrator.UsageRecord) {
	_ = w.insert(ctx, rec)
}

func (w *SQLRecorder) insert(ctx context.Context, rec orchestrator.UsageRecord) error {
	headerJSON, _ := json.Marshal(rec.RequestHeader)
	extraJSON, _ := json.Marshal(rec.Extra)

	query := `INSERT INTO usage_ledger(caller_id, client_format, canonical_model_id, provider, endpoint_id, credential_id, stream, success, status_code, error_kind, ttfb_ms, total_time_ms, request_header, request_body, extra, created_at)
	VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`
	if w.dialect == "postgres" {
		query = `INSERT INTO usage_ledger(caller_id, client_format, canonical_model_id, provider, endpoint_id, credential_id, stream, success, status_code, error_kind, ttfb_ms, total_time_ms, request_header, request_body, extra, created_at)
		VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16)`
	}

	_, err := w.db.ExecContext(ctx, query,
		rec.CallerID,
		string(rec.ClientFormat),
		rec.CanonicalModelID,
		rec.Provider,
		rec.EndpointID,
		rec.CredentialID,
		rec.Stream,
		rec.Success,
		rec.StatusCode,
		rec.ErrorKind,
		rec.TTFB.Milliseconds(),
		rec.TotalTime.Milliseconds(),
		string(headerJSON),
		string(rec.RequestBody),
		string(extraJSON),
		time.Now().UTC(),
	)
	if err != nil {
		return fmt.Errorf("write usage ledger row: %w", err)
	}
	return nil
}

// List returns paginated ledger rows with optional filters.
func (w *SQLRecorder) List(ctx context.Context, query Query) (ListResult, error) {
	if query.Limit <= 0 {
		query.Limit = 50
	}
	if query.Limit > 200 {
		query.Limit = 200
	}
	if query.Offset < 0 {
		query.Offset = 0
	}

	whereClauses := make([]string, 0)
	args := make([]interface{}, 0)

	if query.CallerID != "" {
		whereClauses = append(whereClauses, "caller_id = ?")
		args = append(args, query.CallerID)
	}
	if query.Provider != "" {
		whereClauses = append(whereClauses, "provider = ?")
		args = append(args, query.Provider)
	}
	if query.Since != nil {
		whereClauses = append(whereClauses, "created_at >= ?")
		args = append(args, query.Since.UTC())
	}

	whereSQL := ""
	if len(whereClauses) > 0 {
		whereSQL = " WHERE " + strings.Join(whereClauses, " AND ")
	}

	countQuery := "SELECT COUNT(*) FROM usage_ledger" + whereSQL
	if w.dialect == "postgres" {
		countQuery = bindPostgres(countQuery)
	}

	var total int
	if err := w.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return ListResult{}, fmt.Errorf("count usage ledger rows: %w", err)
	}

	listQuery := "SELECT caller_id, client_format, canonical_model_id, provider, endpoint_id, credential_id, stream, success, status_code, error_kind, ttfb_ms, total_time_ms FROM usage_ledger" + whereSQL + " ORDER BY created_at DESC LIMIT ? OFFSET ?"
	listArgs := append(args, query.Limit, query.Offset)
	if w.dialect == "postgres" {
		listQuery = bindPostgres(listQuery)
	}

	rows, err := w.db.QueryContext(ctx, listQuery, listArgs...)
	if err != nil {
		return ListResult{}, fmt.Errorf("list usage ledger rows: %w", err)
	}
	defer rows.Close()

	entries := make([]orchestrator.UsageRecord, 0)
	for rows.Next() {
		var (
			rec              orchestrator.UsageRecord
			clientFormat     string
			canonicalModelID sql.NullString
			endpointID       sql.NullString
			credentialID     sql.NullString
			errorKind        sql.NullString
			ttfbMS           int64
			totalMS          int64
		)
		if err := rows.Scan(&rec.CallerID, &clientFormat, &canonicalModelID, &rec.Provider, &endpointID, &credentialID, &rec.Stream, &rec.Success, &rec.StatusCode, &errorKind, &ttfbMS, &totalMS); err != nil {
			return ListResult{}, fmt.Errorf("scan usage ledger row: %w", err)
		}
		rec.ClientFormat = catalog.APIFormat(clientFormat)
		if canonicalModelID.Valid {
			rec.CanonicalModelID = canonicalModelID.String
		}
		if endpointID.Valid {
			rec.EndpointID = endpointID.String
		}
		if credentialID.Valid {
			rec.CredentialID = credentialID.String
		}
		if errorKind.Valid {
			rec.ErrorKind = errorKind.String
		}
		rec.TTFB = time.Duration(ttfbMS) * time.Millisecond
		rec.TotalTime = time.Duration(totalMS) * time.Millisecond
		entries = append(entries, rec)
	}

	if err := rows.Err(); err != nil {
		return ListResult{}, fmt.Errorf("iterate usage ledger rows: %w", err)
	}

	return ListResult{Data: entries, Total: total}, nil
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

func (w *SQLRecorder) Close() error {
	if w == nil || w.db == nil {
		return nil
	}
	return w.db.Close()
}
