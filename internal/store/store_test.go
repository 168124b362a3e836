package store

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	path := filepath.Join(t.TempDir(), "access.db")
	s, err := Open(path, 4, func(op string, err error) {
		t.Logf("store error sink: %s: %v", op, err)
	})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func unitVector(t *testing.T, raw ...float32) []float32 {
	t.Helper()
	var sumSq float64
	for _, f := range raw {
		sumSq += float64(f) * float64(f)
	}
	norm := math.Sqrt(sumSq)
	out := make([]float32, len(raw))
	for i, f := range raw {
		out[i] = float32(float64(f) / norm)
	}
	return out
}

func TestUpsertEmployeeRejectsBadWindow(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Now()
	end := start.Add(-time.Hour)
	if err := s.UpsertEmployee(ctx, "E1", "Alice", start, end, true); err == nil {
		t.Fatal("expected error for end <= start")
	}
}

func TestAddEmbeddingRequiresExistingEmployee(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	v := unitVector(t, 1, 0, 0, 0)
	if _, err := s.AddEmbedding(ctx, "ghost", v, ""); err == nil {
		t.Fatal("expected error for unknown employee")
	}
}

func TestAddEmbeddingRejectsNonUnitNorm(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.UpsertEmployee(ctx, "E1", "Alice", time.Now(), time.Now().Add(time.Hour), true); err != nil {
		t.Fatalf("UpsertEmployee: %v", err)
	}
	if _, err := s.AddEmbedding(ctx, "E1", []float32{2, 0, 0, 0}, ""); err == nil {
		t.Fatal("expected error for non-unit-norm embedding")
	}
}

// P1: embedding round-trip is byte-identical modulo normalization tolerance.
func TestEmbeddingRoundTripIsExact(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Now().Add(-time.Hour)
	end := time.Now().Add(time.Hour)
	if err := s.UpsertEmployee(ctx, "E1", "Alice", start, end, true); err != nil {
		t.Fatalf("UpsertEmployee: %v", err)
	}

	v := unitVector(t, 0.3, 0.1, -0.7, 0.2)
	if _, err := s.AddEmbedding(ctx, "E1", v, "deadbeef"); err != nil {
		t.Fatalf("AddEmbedding: %v", err)
	}

	active, err := s.GetActiveEmployeesWithEmbeddings(ctx)
	if err != nil {
		t.Fatalf("GetActiveEmployeesWithEmbeddings: %v", err)
	}
	if len(active) != 1 || len(active[0].Embeddings) != 1 {
		t.Fatalf("expected one employee with one embedding, got %+v", active)
	}
	got := active[0].Embeddings[0]
	for i := range v {
		if got[i] != v[i] {
			t.Errorf("component %d: want %v, got %v", i, v[i], got[i])
		}
	}
}

func TestGetActiveEmployeesWithEmbeddingsOmitsEmptyAndInactive(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	start := time.Now().Add(-time.Hour)
	end := time.Now().Add(time.Hour)

	if err := s.UpsertEmployee(ctx, "has-embedding", "A", start, end, true); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddEmbedding(ctx, "has-embedding", unitVector(t, 1, 0, 0, 0), ""); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertEmployee(ctx, "no-embedding", "B", start, end, true); err != nil {
		t.Fatal(err)
	}
	if err := s.UpsertEmployee(ctx, "inactive", "C", start, end, false); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddEmbedding(ctx, "inactive", unitVector(t, 0, 1, 0, 0), ""); err != nil {
		t.Fatal(err)
	}

	active, err := s.GetActiveEmployeesWithEmbeddings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 1 || active[0].Employee.ID != "has-embedding" {
		t.Fatalf("expected only has-embedding, got %+v", active)
	}
}

func TestDeleteEmployeeCascadesEmbeddings(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.UpsertEmployee(ctx, "E1", "Alice", time.Now(), time.Now().Add(time.Hour), true); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddEmbedding(ctx, "E1", unitVector(t, 1, 0, 0, 0), ""); err != nil {
		t.Fatal(err)
	}

	ok, err := s.DeleteEmployee(ctx, "E1")
	if err != nil || !ok {
		t.Fatalf("DeleteEmployee: ok=%v err=%v", ok, err)
	}

	active, err := s.GetActiveEmployeesWithEmbeddings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(active) != 0 {
		t.Fatalf("expected no active employees after delete, got %+v", active)
	}

	ok, err = s.DeleteEmployee(ctx, "E1")
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("expected second delete to report no row changed")
	}
}

func TestAuditLogRoundTrip(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	score := 0.92
	s.LogAccessAttempt(ctx, AuditRecord{
		EventType:       "face_recognition",
		EmployeeID:      "E1",
		SimilarityScore: &score,
		Result:          "granted",
		Reason:          "matched",
		Metadata:        map[string]any{"similarity_threshold": 0.5},
	})

	logs, err := s.GetAuditLogs(ctx, nil, nil, nil, 10)
	if err != nil {
		t.Fatalf("GetAuditLogs: %v", err)
	}
	if len(logs) != 1 {
		t.Fatalf("expected 1 log, got %d", len(logs))
	}
	if logs[0].Result != "granted" || logs[0].EmployeeID != "E1" {
		t.Errorf("unexpected record: %+v", logs[0])
	}
	if logs[0].Metadata["similarity_threshold"] != 0.5 {
		t.Errorf("expected metadata to round-trip, got %+v", logs[0].Metadata)
	}
}

func TestGetSystemStatusCounts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	if err := s.UpsertEmployee(ctx, "E1", "Alice", time.Now(), time.Now().Add(time.Hour), true); err != nil {
		t.Fatal(err)
	}
	s.LogAccessAttempt(ctx, AuditRecord{EventType: "face_recognition", Result: "denied", Reason: "no match"})

	status, err := s.GetSystemStatus(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if status.TotalEmployees != 1 || status.ActiveEmployees != 1 {
		t.Errorf("unexpected status: %+v", status)
	}
	if status.AttemptsLastHour != 1 {
		t.Errorf("expected 1 recent attempt, got %d", status.AttemptsLastHour)
	}
}
