package store

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

// Sentinel errors
var (
	ErrNotFound = errors.New("not found")
	// ErrActiveExists is returned when an insert collides with an instance
	// already in starting/running for the same (owner_id, lab_id) pair.
	// The losing caller should re-read and return the winner's record.
	ErrActiveExists = errors.New("active instance exists")
	// ErrInvalidTransition is returned when a status update targets a record
	// no longer in the expected state, e.g. stopped while still provisioning.
	// Terminal records are never resurrected.
	ErrInvalidTransition = errors.New("invalid status transition")
)

// Instance lifecycle states. Stopped and Failed are terminal; records are
// never deleted, only transitioned, so the table doubles as audit history.
const (
	StatusStarting = "starting"
	StatusRunning  = "running"
	StatusStopped  = "stopped"
	StatusFailed   = "failed"
)

// Backing kinds: a single container or a compose stack.
const (
	BackingContainer = "container"
	BackingStack     = "stack"
)

type Instance struct {
	ID          string    `json:"id"`
	OwnerID     string    `json:"owner_id"`
	LabID       string    `json:"lab_id"`
	BackingRef  string    `json:"backing_ref,omitempty"`
	BackingKind string    `json:"backing_kind"`
	Status      string    `json:"status"`
	LastError   string    `json:"last_error,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	ExpiresAt   time.Time `json:"expires_at"`
}

// Active reports whether the instance holds a concurrency slot.
func (i *Instance) Active() bool {
	return i.Status == StatusStarting || i.Status == StatusRunning
}

// Terminal reports whether the instance has reached a final state.
func (i *Instance) Terminal() bool {
	return i.Status == StatusStopped || i.Status == StatusFailed
}

type Store struct {
	db *sql.DB
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS instances (
	id           TEXT PRIMARY KEY,
	owner_id     TEXT NOT NULL,
	lab_id       TEXT NOT NULL,
	backing_ref  TEXT,
	backing_kind TEXT NOT NULL DEFAULT 'container',
	status       TEXT NOT NULL DEFAULT 'starting',
	last_error   TEXT NOT NULL DEFAULT '',
	created_at   DATETIME NOT NULL,
	expires_at   DATETIME NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_instances_status ON instances(status);
CREATE INDEX IF NOT EXISTS idx_instances_owner ON instances(owner_id);
CREATE INDEX IF NOT EXISTS idx_instances_expires_at ON instances(expires_at);
CREATE UNIQUE INDEX IF NOT EXISTS idx_instances_active
	ON instances(owner_id, lab_id)
	WHERE status IN ('starting', 'running');
`

// isBusyLock reports whether err indicates SQLite database lock (SQLITE_BUSY).
// Handles wrapped errors from database/sql.
func isBusyLock(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "database is locked") || strings.Contains(s, "SQLITE_BUSY")
}

func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	s := err.Error()
	return strings.Contains(s, "UNIQUE constraint failed") || strings.Contains(s, "SQLITE_CONSTRAINT")
}

// retryOnBusy runs fn and retries on SQLITE_BUSY with exponential backoff.
func retryOnBusy(fn func() error) error {
	const maxAttempts = 4
	backoff := 25 * time.Millisecond
	var lastErr error
	for attempt := 0; attempt < maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil || !isBusyLock(lastErr) {
			return lastErr
		}
		if attempt < maxAttempts-1 {
			time.Sleep(backoff)
			backoff *= 2
		}
	}
	return lastErr
}

// DefaultMaxOpenConns is the default connection pool size for concurrent reads.
// WAL mode allows multiple readers + 1 writer; more conns improve read throughput.
const DefaultMaxOpenConns = 4

// dsnWithPragmas returns a connection string with WAL, busy_timeout, and perf
// pragmas applied to every new connection. PRAGMAs in DSN are applied
// per-connection by the driver.
func dsnWithPragmas(dbPath string) string {
	return dbPath + "?_pragma=busy_timeout(15000)" +
		"&_pragma=journal_mode(WAL)" +
		"&_pragma=synchronous(NORMAL)" +
		"&_pragma=cache_size(-64000)" +
		"&_pragma=temp_store(MEMORY)"
}

func New(dbPath string) (*Store, error) {
	dsn := dsnWithPragmas(dbPath)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(DefaultMaxOpenConns)
	db.SetMaxIdleConns(DefaultMaxOpenConns)

	if _, err := db.Exec(createTableSQL); err != nil {
		db.Close()
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// CreateInstance inserts a reservation record. The partial unique index on
// (owner_id, lab_id) for active rows makes the reservation atomic: a second
// concurrent insert for the same pair gets ErrActiveExists instead of a
// duplicate reservation.
func (s *Store) CreateInstance(inst *Instance) error {
	err := retryOnBusy(func() error {
		_, e := s.db.Exec(
			`INSERT INTO instances (id, owner_id, lab_id, backing_ref, backing_kind, status, last_error, created_at, expires_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			inst.ID, inst.OwnerID, inst.LabID, nullable(inst.BackingRef), inst.BackingKind,
			inst.Status, inst.LastError, inst.CreatedAt.UTC(), inst.ExpiresAt.UTC(),
		)
		return e
	})
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: owner %s lab %s", ErrActiveExists, inst.OwnerID, inst.LabID)
		}
		return fmt.Errorf("inserting instance: %w", err)
	}
	return nil
}

func (s *Store) GetInstance(id string) (*Instance, error) {
	row := s.db.QueryRow(
		`SELECT id, owner_id, lab_id, backing_ref, backing_kind, status, last_error, created_at, expires_at
		 FROM instances WHERE id = ?`, id,
	)
	return scanInstance(row)
}

// GetActiveInstance returns the starting/running instance for an
// (owner, lab) pair, or nil if none.
func (s *Store) GetActiveInstance(ownerID, labID string) (*Instance, error) {
	row := s.db.QueryRow(
		`SELECT id, owner_id, lab_id, backing_ref, backing_kind, status, last_error, created_at, expires_at
		 FROM instances
		 WHERE owner_id = ? AND lab_id = ? AND status IN ('starting', 'running')`,
		ownerID, labID,
	)
	return scanInstance(row)
}

// CountActiveByOwner counts an owner's starting/running instances across all labs.
func (s *Store) CountActiveByOwner(ownerID string) (int, error) {
	var n int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM instances WHERE owner_id = ? AND status IN ('starting', 'running')`,
		ownerID,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("counting active instances: %w", err)
	}
	return n, nil
}

func (s *Store) ListByOwner(ownerID string) ([]*Instance, error) {
	rows, err := s.db.Query(
		`SELECT id, owner_id, lab_id, backing_ref, backing_kind, status, last_error, created_at, expires_at
		 FROM instances WHERE owner_id = ? ORDER BY created_at DESC`, ownerID,
	)
	if err != nil {
		return nil, fmt.Errorf("listing instances: %w", err)
	}
	defer rows.Close()
	return scanInstances(rows)
}

// MarkRunning commits a successful provision: backing_ref set, status
// running. Conditional on the record still being Starting, so a stop that
// landed during provisioning wins: the commit is reported lost via
// ErrInvalidTransition instead of resurrecting the terminal record.
func (s *Store) MarkRunning(id, backingRef string, expiresAt time.Time) error {
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.Exec(
			`UPDATE instances SET backing_ref = ?, status = 'running', expires_at = ?
			 WHERE id = ? AND status = 'starting'`,
			backingRef, expiresAt.UTC(), id,
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("marking instance running: %w", err)
	}
	return s.checkTransition(result, id)
}

func (s *Store) MarkStopped(id string) error {
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.Exec(
			`UPDATE instances SET status = 'stopped' WHERE id = ?`, id,
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("marking instance stopped: %w", err)
	}
	return checkRowAffected(result, id)
}

// MarkFailed records a provisioning failure. last_error is the only audit
// trail for why a lab failed to start, so it is preserved verbatim. Like
// MarkRunning, conditional on Starting: a record stopped mid-provision
// stays Stopped.
func (s *Store) MarkFailed(id, lastError string) error {
	var result sql.Result
	err := retryOnBusy(func() error {
		var e error
		result, e = s.db.Exec(
			`UPDATE instances SET status = 'failed', last_error = ?
			 WHERE id = ? AND status = 'starting'`,
			lastError, id,
		)
		return e
	})
	if err != nil {
		return fmt.Errorf("marking instance failed: %w", err)
	}
	return s.checkTransition(result, id)
}

// ListExpiredInstances returns running instances past their expiry deadline.
func (s *Store) ListExpiredInstances() ([]*Instance, error) {
	rows, err := s.db.Query(
		`SELECT id, owner_id, lab_id, backing_ref, backing_kind, status, last_error, created_at, expires_at
		 FROM instances WHERE status = 'running' AND expires_at <= ?`,
		time.Now().UTC(),
	)
	if err != nil {
		return nil, fmt.Errorf("listing expired instances: %w", err)
	}
	defer rows.Close()
	return scanInstances(rows)
}

func (s *Store) ListRunningInstances() ([]*Instance, error) {
	rows, err := s.db.Query(
		`SELECT id, owner_id, lab_id, backing_ref, backing_kind, status, last_error, created_at, expires_at
		 FROM instances WHERE status = 'running'`,
	)
	if err != nil {
		return nil, fmt.Errorf("listing running instances: %w", err)
	}
	defer rows.Close()
	return scanInstances(rows)
}

type scannable interface {
	Scan(dest ...any) error
}

func scanInstance(row scannable) (*Instance, error) {
	var inst Instance
	var backingRef sql.NullString
	err := row.Scan(
		&inst.ID, &inst.OwnerID, &inst.LabID, &backingRef, &inst.BackingKind,
		&inst.Status, &inst.LastError, &inst.CreatedAt, &inst.ExpiresAt,
	)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scanning instance: %w", err)
	}
	if backingRef.Valid {
		inst.BackingRef = backingRef.String
	}
	return &inst, nil
}

func scanInstances(rows *sql.Rows) ([]*Instance, error) {
	var instances []*Instance
	for rows.Next() {
		inst, err := scanInstance(rows)
		if err != nil {
			return nil, err
		}
		instances = append(instances, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating instances: %w", err)
	}
	return instances, nil
}

func checkRowAffected(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// checkTransition resolves a zero-row conditional update into missing record
// vs. record in the wrong state.
func (s *Store) checkTransition(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("checking rows affected: %w", err)
	}
	if n > 0 {
		return nil
	}
	inst, err := s.GetInstance(id)
	if err != nil {
		return err
	}
	if inst == nil {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return fmt.Errorf("%w: %s is %s", ErrInvalidTransition, id, inst.Status)
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}
