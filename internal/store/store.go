// Package store implements the durable identity and audit store: a single
// local SQLite file holding employees, their face embeddings, and an
// append-only audit log.
package store

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kestrel-systems/faceaccess/internal/faulterr"
)

// Employee mirrors the employees table.
type Employee struct {
	ID          string
	DisplayName string
	AccessStart time.Time
	AccessEnd   time.Time
	Active      bool
	CreatedAt   time.Time
	UpdatedAt   time.Time
}

// EmployeeWithEmbeddings pairs an employee with its stored face vectors.
type EmployeeWithEmbeddings struct {
	Employee   Employee
	Embeddings [][]float32
}

// AuditRecord mirrors one row of the append-only audit_log table.
type AuditRecord struct {
	ID                int64
	Timestamp         time.Time
	EventType         string
	EmployeeID        string
	MatchedEmployeeID string
	SimilarityScore   *float64
	Result            string
	Reason            string
	Metadata          map[string]any
}

// SystemStatus is a snapshot of store-wide counters.
type SystemStatus struct {
	ActiveEmployees     int
	TotalEmployees      int
	TotalEmbeddings     int
	AttemptsLastHour    int
}

// ErrorSink receives best-effort failures that must not reach the hot path,
// e.g. a failed audit write. It is never invoked from a user-returning path.
type ErrorSink func(op string, err error)

// Store owns the single local database file.
type Store struct {
	db  *sql.DB
	dim int

	mu sync.RWMutex // serializes writes; reads may proceed concurrently

	onError ErrorSink
}

// Open creates (or reuses) a SQLite database at path and migrates its schema.
// dim is the expected embedding vector length.
func Open(path string, dim int, onError ErrorSink) (*Store, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, faulterr.New(faulterr.StorePersistence, "store.Open", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(ON)", path)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, faulterr.New(faulterr.StorePersistence, "store.Open", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, faulterr.New(faulterr.StorePersistence, "store.Open", err)
	}

	if onError == nil {
		onError = func(string, error) {}
	}

	s := &Store{db: db, dim: dim, onError: onError}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) migrate() error {
	const schema = `
CREATE TABLE IF NOT EXISTS employees (
	employee_id  TEXT PRIMARY KEY,
	display_name TEXT,
	access_start TEXT NOT NULL,
	access_end   TEXT NOT NULL,
	is_active    INTEGER NOT NULL DEFAULT 1,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS embeddings (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	employee_id TEXT NOT NULL REFERENCES employees(employee_id) ON DELETE CASCADE,
	embedding   BLOB NOT NULL,
	photo_hash  TEXT,
	created_at  TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_embeddings_employee_id ON embeddings(employee_id);

CREATE TABLE IF NOT EXISTS audit_log (
	id                  INTEGER PRIMARY KEY AUTOINCREMENT,
	timestamp           TEXT NOT NULL,
	event_type          TEXT NOT NULL,
	employee_id         TEXT,
	matched_employee_id TEXT,
	similarity_score    REAL,
	result              TEXT NOT NULL,
	reason              TEXT,
	metadata            TEXT
);
CREATE INDEX IF NOT EXISTS idx_audit_log_timestamp ON audit_log(timestamp);
CREATE INDEX IF NOT EXISTS idx_audit_log_employee_id ON audit_log(employee_id);
`
	if _, err := s.db.Exec(schema); err != nil {
		return faulterr.New(faulterr.StorePersistence, "store.migrate", err)
	}
	return nil
}

const isoLayout = time.RFC3339

func formatTime(t time.Time) string {
	return t.UTC().Format(isoLayout)
}

// parseTime tolerates legacy rows lacking a timezone by assuming UTC.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC(), nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t.UTC(), nil
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// UpsertEmployee inserts or replaces an employee row. Fails when end <= start.
func (s *Store) UpsertEmployee(ctx context.Context, id, displayName string, start, end time.Time, active bool) error {
	if !end.After(start) {
		return faulterr.New(faulterr.BusinessRuleViolation, "store.UpsertEmployee", fmt.Errorf("access_end must be after access_start"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := formatTime(time.Now())
	_, err := s.db.ExecContext(ctx, `
INSERT INTO employees (employee_id, display_name, access_start, access_end, is_active, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(employee_id) DO UPDATE SET
	display_name = excluded.display_name,
	access_start = excluded.access_start,
	access_end   = excluded.access_end,
	is_active    = excluded.is_active,
	updated_at   = excluded.updated_at
`, id, displayName, formatTime(start), formatTime(end), boolToInt(active), now, now)
	if err != nil {
		return faulterr.New(faulterr.StorePersistence, "store.UpsertEmployee", err)
	}
	return nil
}

// AddEmbedding appends a new embedding for an existing employee. Rejects
// vectors whose L2 norm deviates from 1 by more than EmbeddingNormTolerance.
func (s *Store) AddEmbedding(ctx context.Context, employeeID string, vector []float32, photoHash string) (int64, error) {
	if len(vector) != s.dim {
		return 0, faulterr.New(faulterr.BusinessRuleViolation, "store.AddEmbedding", fmt.Errorf("expected dimension %d, got %d", s.dim, len(vector)))
	}
	if !isApproximatelyUnitNorm(vector) {
		return 0, faulterr.New(faulterr.BusinessRuleViolation, "store.AddEmbedding", fmt.Errorf("embedding is not L2-normalized"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var exists int
	if err := s.db.QueryRowContext(ctx, `SELECT 1 FROM employees WHERE employee_id = ?`, employeeID).Scan(&exists); err != nil {
		if err == sql.ErrNoRows {
			return 0, faulterr.New(faulterr.BusinessRuleViolation, "store.AddEmbedding", fmt.Errorf("unknown employee %q", employeeID))
		}
		return 0, faulterr.New(faulterr.StorePersistence, "store.AddEmbedding", err)
	}

	blob := encodeVector(vector)
	res, err := s.db.ExecContext(ctx, `
INSERT INTO embeddings (employee_id, embedding, photo_hash, created_at) VALUES (?, ?, ?, ?)
`, employeeID, blob, nullableString(photoHash), formatTime(time.Now()))
	if err != nil {
		return 0, faulterr.New(faulterr.StorePersistence, "store.AddEmbedding", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, faulterr.New(faulterr.StorePersistence, "store.AddEmbedding", err)
	}
	return id, nil
}

// DeleteEmbeddings bulk-removes all embeddings owned by employeeID. Idempotent.
func (s *Store) DeleteEmbeddings(ctx context.Context, employeeID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM embeddings WHERE employee_id = ?`, employeeID); err != nil {
		return faulterr.New(faulterr.StorePersistence, "store.DeleteEmbeddings", err)
	}
	return nil
}

// UpdateEmployeePeriod rewrites the access window. Returns whether a row changed.
func (s *Store) UpdateEmployeePeriod(ctx context.Context, id string, start, end time.Time) (bool, error) {
	if !end.After(start) {
		return false, faulterr.New(faulterr.BusinessRuleViolation, "store.UpdateEmployeePeriod", fmt.Errorf("access_end must be after access_start"))
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
UPDATE employees SET access_start = ?, access_end = ?, updated_at = ? WHERE employee_id = ?
`, formatTime(start), formatTime(end), formatTime(time.Now()), id)
	if err != nil {
		return false, faulterr.New(faulterr.StorePersistence, "store.UpdateEmployeePeriod", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, faulterr.New(faulterr.StorePersistence, "store.UpdateEmployeePeriod", err)
	}
	return n > 0, nil
}

// DeactivateEmployee clears the active flag. Returns whether a row changed.
func (s *Store) DeactivateEmployee(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `
UPDATE employees SET is_active = 0, updated_at = ? WHERE employee_id = ?
`, formatTime(time.Now()), id)
	if err != nil {
		return false, faulterr.New(faulterr.StorePersistence, "store.DeactivateEmployee", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, faulterr.New(faulterr.StorePersistence, "store.DeactivateEmployee", err)
	}
	return n > 0, nil
}

// DeleteEmployee removes the employee row and all owned embeddings.
func (s *Store) DeleteEmployee(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, err := s.db.ExecContext(ctx, `DELETE FROM employees WHERE employee_id = ?`, id)
	if err != nil {
		return false, faulterr.New(faulterr.StorePersistence, "store.DeleteEmployee", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, faulterr.New(faulterr.StorePersistence, "store.DeleteEmployee", err)
	}
	return n > 0, nil
}

// GetEmployee returns the row, or nil if absent.
func (s *Store) GetEmployee(ctx context.Context, id string) (*Employee, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx, `
SELECT employee_id, display_name, access_start, access_end, is_active, created_at, updated_at
FROM employees WHERE employee_id = ?`, id)

	emp, err := scanEmployee(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, faulterr.New(faulterr.StorePersistence, "store.GetEmployee", err)
	}
	return emp, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEmployee(row rowScanner) (*Employee, error) {
	var e Employee
	var displayName sql.NullString
	var start, end, created, updated string
	var active int
	if err := row.Scan(&e.ID, &displayName, &start, &end, &active, &created, &updated); err != nil {
		return nil, err
	}
	e.DisplayName = displayName.String
	e.Active = active != 0
	var err error
	if e.AccessStart, err = parseTime(start); err != nil {
		return nil, err
	}
	if e.AccessEnd, err = parseTime(end); err != nil {
		return nil, err
	}
	if e.CreatedAt, err = parseTime(created); err != nil {
		return nil, err
	}
	if e.UpdatedAt, err = parseTime(updated); err != nil {
		return nil, err
	}
	return &e, nil
}

// GetActiveEmployeesWithEmbeddings returns every employee whose active flag
// is set AND who owns at least one embedding.
func (s *Store) GetActiveEmployeesWithEmbeddings(ctx context.Context) ([]EmployeeWithEmbeddings, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
SELECT e.employee_id, e.display_name, e.access_start, e.access_end, e.is_active, e.created_at, e.updated_at,
       v.embedding
FROM employees e
JOIN embeddings v ON v.employee_id = e.employee_id
WHERE e.is_active = 1
ORDER BY e.employee_id, v.id
`)
	if err != nil {
		return nil, faulterr.New(faulterr.StorePersistence, "store.GetActiveEmployeesWithEmbeddings", err)
	}
	defer rows.Close()

	order := []string{}
	byID := map[string]*EmployeeWithEmbeddings{}
	for rows.Next() {
		var id string
		var displayName sql.NullString
		var start, end, created, updated string
		var active int
		var blob []byte
		if err := rows.Scan(&id, &displayName, &start, &end, &active, &created, &updated, &blob); err != nil {
			return nil, faulterr.New(faulterr.StorePersistence, "store.GetActiveEmployeesWithEmbeddings", err)
		}
		entry, ok := byID[id]
		if !ok {
			startT, _ := parseTime(start)
			endT, _ := parseTime(end)
			createdT, _ := parseTime(created)
			updatedT, _ := parseTime(updated)
			entry = &EmployeeWithEmbeddings{Employee: Employee{
				ID:          id,
				DisplayName: displayName.String,
				AccessStart: startT,
				AccessEnd:   endT,
				Active:      active != 0,
				CreatedAt:   createdT,
				UpdatedAt:   updatedT,
			}}
			byID[id] = entry
			order = append(order, id)
		}
		entry.Embeddings = append(entry.Embeddings, decodeVector(blob, s.dim))
	}
	if err := rows.Err(); err != nil {
		return nil, faulterr.New(faulterr.StorePersistence, "store.GetActiveEmployeesWithEmbeddings", err)
	}

	out := make([]EmployeeWithEmbeddings, 0, len(order))
	for _, id := range order {
		out = append(out, *byID[id])
	}
	return out, nil
}

// LogAccessAttempt appends an audit record. It never fails the caller:
// failures are routed to the store's ErrorSink instead.
func (s *Store) LogAccessAttempt(ctx context.Context, rec AuditRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var metadataJSON []byte
	if rec.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(rec.Metadata)
		if err != nil {
			s.onError("store.LogAccessAttempt", err)
			return
		}
	}

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	_, err := s.db.ExecContext(ctx, `
INSERT INTO audit_log (timestamp, event_type, employee_id, matched_employee_id, similarity_score, result, reason, metadata)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)
`, formatTime(ts), rec.EventType, nullableString(rec.EmployeeID), nullableString(rec.MatchedEmployeeID),
		nullableFloat(rec.SimilarityScore), rec.Result, nullableString(rec.Reason), nullableBytes(metadataJSON))
	if err != nil {
		s.onError("store.LogAccessAttempt", err)
	}
}

// GetAuditLogs returns records descending by timestamp, optionally filtered.
func (s *Store) GetAuditLogs(ctx context.Context, start, end *time.Time, employeeID *string, limit int) ([]AuditRecord, error) {
	if limit <= 0 {
		return nil, faulterr.New(faulterr.BusinessRuleViolation, "store.GetAuditLogs", fmt.Errorf("limit is required"))
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	query := `SELECT id, timestamp, event_type, employee_id, matched_employee_id, similarity_score, result, reason, metadata FROM audit_log WHERE 1=1`
	var args []any
	if start != nil {
		query += ` AND timestamp >= ?`
		args = append(args, formatTime(*start))
	}
	if end != nil {
		query += ` AND timestamp <= ?`
		args = append(args, formatTime(*end))
	}
	if employeeID != nil {
		query += ` AND employee_id = ?`
		args = append(args, *employeeID)
	}
	query += ` ORDER BY timestamp DESC LIMIT ?`
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, faulterr.New(faulterr.StorePersistence, "store.GetAuditLogs", err)
	}
	defer rows.Close()

	var out []AuditRecord
	for rows.Next() {
		var rec AuditRecord
		var ts string
		var employeeID, matchedID, reason sql.NullString
		var score sql.NullFloat64
		var metadata sql.NullString
		if err := rows.Scan(&rec.ID, &ts, &rec.EventType, &employeeID, &matchedID, &score, &rec.Result, &reason, &metadata); err != nil {
			return nil, faulterr.New(faulterr.StorePersistence, "store.GetAuditLogs", err)
		}
		rec.Timestamp, _ = parseTime(ts)
		rec.EmployeeID = employeeID.String
		rec.MatchedEmployeeID = matchedID.String
		rec.Reason = reason.String
		if score.Valid {
			v := score.Float64
			rec.SimilarityScore = &v
		}
		if metadata.Valid && metadata.String != "" {
			_ = json.Unmarshal([]byte(metadata.String), &rec.Metadata)
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

// GetSystemStatus returns store-wide counters.
func (s *Store) GetSystemStatus(ctx context.Context) (SystemStatus, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var status SystemStatus
	row := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM employees WHERE is_active = 1`)
	if err := row.Scan(&status.ActiveEmployees); err != nil {
		return status, faulterr.New(faulterr.StorePersistence, "store.GetSystemStatus", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM employees`).Scan(&status.TotalEmployees); err != nil {
		return status, faulterr.New(faulterr.StorePersistence, "store.GetSystemStatus", err)
	}
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM embeddings`).Scan(&status.TotalEmbeddings); err != nil {
		return status, faulterr.New(faulterr.StorePersistence, "store.GetSystemStatus", err)
	}
	cutoff := formatTime(time.Now().Add(-1 * time.Hour))
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM audit_log WHERE timestamp >= ?`, cutoff).Scan(&status.AttemptsLastHour); err != nil {
		return status, faulterr.New(faulterr.StorePersistence, "store.GetSystemStatus", err)
	}
	return status, nil
}

func encodeVector(v []float32) []byte {
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeVector(buf []byte, dim int) []float32 {
	v := make([]float32, dim)
	for i := 0; i < dim && (i+1)*4 <= len(buf); i++ {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return v
}

func isApproximatelyUnitNorm(v []float32) bool {
	var sumSq float64
	for _, f := range v {
		sumSq += float64(f) * float64(f)
	}
	norm := math.Sqrt(sumSq)
	const tolerance = 1e-5
	return math.Abs(norm-1.0) <= tolerance || norm == 0 && len(v) == 0
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullableBytes(b []byte) any {
	if len(b) == 0 {
		return nil
	}
	return string(b)
}

func nullableFloat(f *float64) any {
	if f == nil {
		return nil
	}
	return *f
}
