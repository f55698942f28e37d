package candrecord

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ferro-labs/llm-gateway-core/candidates"
	"github.com/ferro-labs/llm-gateway-core/catalog"
)

func testCandidate() candidates.Candidate {
	return candidates.Candidate{
		Provider:   catalog.Provider{ID: "p1", Name: "p1"},
		Endpoint:   catalog.Endpoint{ID: "e1", ProviderID: "p1"},
		Credential: catalog.Credential{ID: "c1", EndpointID: "e1"},
	}
}

func (s *SQLStore) status(t *testing.T, id candidates.RecordID) string {
	t.Helper()
	q := "SELECT status FROM candidate_records WHERE id = ?"
	if s.dialect == dialectPostgres {
		q = bindPostgres(q)
	}
	var status string
	if err := s.db.QueryRow(q, string(id)).Scan(&status); err != nil {
		t.Fatalf("query status: %v", err)
	}
	return status
}

func TestSQLiteStoreLifecycleTransitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cand := testCandidate()
	id := candidates.RecordID("rec-1")

	store.MarkAvailable(id, cand, map[string]bool{"vision": true})
	if got := store.status(t, id); got != string(StatusAvailable) {
		t.Fatalf("expected available, got %s", got)
	}

	store.MarkPending(id)
	if got := store.status(t, id); got != string(StatusPending) {
		t.Fatalf("expected pending, got %s", got)
	}

	store.MarkSuccess(id, 200, 150*time.Millisecond, 3)
	if got := store.status(t, id); got != string(StatusSuccess) {
		t.Fatalf("expected success, got %s", got)
	}
}

func TestSQLiteStoreFailedAndSkippedTransitions(t *testing.T) {
	path := filepath.Join(t.TempDir(), "records2.db")
	store, err := NewSQLiteStore(path)
	if err != nil {
		t.Fatalf("new sqlite store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })

	cand := testCandidate()

	failedID := candidates.RecordID("rec-failed")
	store.MarkAvailable(failedID, cand, nil)
	store.MarkPending(failedID)
	store.MarkFailed(failedID, 401, 40*time.Millisecond, 1, "upstream_auth", "bad key")
	if got := store.status(t, failedID); got != string(StatusFailed) {
		t.Fatalf("expected failed, got %s", got)
	}

	skippedID := candidates.RecordID("rec-skipped")
	store.MarkSkipped(skippedID, cand, "unhealthy")
	if got := store.status(t, skippedID); got != string(StatusSkipped) {
		t.Fatalf("expected skipped, got %s", got)
	}
}

func TestPostgresStoreContract(t *testing.T) {
	dsn := os.Getenv("FERROGW_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("set FERROGW_TEST_POSTGRES_DSN to run Postgres candidate record integration tests")
	}

	store, err := NewPostgresStore(dsn)
	if err != nil {
		t.Fatalf("new postgres store: %v", err)
	}
	t.Cleanup(func() {
		_, _ = store.db.Exec("DELETE FROM candidate_records")
		_ = store.Close()
	})
	_, _ = store.db.Exec("DELETE FROM candidate_records")

	id := candidates.RecordID("pg-rec-1")
	store.MarkAvailable(id, testCandidate(), nil)
	if got := store.status(t, id); got != string(StatusAvailable) {
		t.Fatalf("expected available, got %s", got)
	}
}
