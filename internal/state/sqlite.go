package state

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"git.home.luguber.info/inful/pkgbuild/internal/descriptor"
)

// SQLiteStore implements Store using SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens or creates the record database at dbPath. Use
// ":memory:" for a throwaway database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	dsn := dbPath
	if dbPath != ":memory:" {
		dsn = "file:" + dbPath + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	db.SetMaxOpenConns(1)

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS build_records (
		name TEXT NOT NULL,
		version TEXT NOT NULL,
		fingerprint TEXT NOT NULL,
		status TEXT NOT NULL,
		timestamp INTEGER NOT NULL,
		exit_code INTEGER NOT NULL DEFAULT 0,
		run_id TEXT,
		error TEXT,
		PRIMARY KEY (name, version)
	);
	CREATE INDEX IF NOT EXISTS idx_records_status ON build_records(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Get implements Store.
func (s *SQLiteStore) Get(ctx context.Context, id descriptor.PackageID) (*BuildRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		"SELECT name, version, fingerprint, status, timestamp, exit_code, run_id, error FROM build_records WHERE name = ? AND version = ?",
		id.Name, id.Version,
	)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("query record %s: %w", id, err)
	}
	return rec, nil
}

// Put implements Store.
func (s *SQLiteStore) Put(ctx context.Context, rec *BuildRecord) error {
	if rec == nil || rec.PackageID.IsZero() {
		return fmt.Errorf("record without package id")
	}
	if !rec.Status.Valid() {
		return fmt.Errorf("record %s: invalid status %q", rec.PackageID, rec.Status)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO build_records (name, version, fingerprint, status, timestamp, exit_code, run_id, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(name, version) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			status = excluded.status,
			timestamp = excluded.timestamp,
			exit_code = excluded.exit_code,
			run_id = excluded.run_id,
			error = excluded.error`,
		rec.PackageID.Name, rec.PackageID.Version, rec.Fingerprint, string(rec.Status),
		ts.UnixNano(), rec.ExitCode, rec.RunID, rec.Error,
	)
	if err != nil {
		return fmt.Errorf("upsert record %s: %w", rec.PackageID, err)
	}
	return nil
}

// PutPending implements Store.
func (s *SQLiteStore) PutPending(ctx context.Context, rec *BuildRecord) (bool, error) {
	if rec == nil || rec.PackageID.IsZero() {
		return false, fmt.Errorf("record without package id")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ts := rec.Timestamp
	if ts.IsZero() {
		ts = time.Now()
	}
	res, err := s.db.ExecContext(ctx, `
		INSERT INTO build_records (name, version, fingerprint, status, timestamp, exit_code, run_id, error)
		VALUES (?, ?, ?, ?, ?, 0, ?, '')
		ON CONFLICT(name, version) DO UPDATE SET
			fingerprint = excluded.fingerprint,
			status = excluded.status,
			timestamp = excluded.timestamp,
			exit_code = 0,
			run_id = excluded.run_id,
			error = ''
		WHERE build_records.status != ?
			AND NOT (build_records.status = ? AND build_records.fingerprint = excluded.fingerprint)`,
		rec.PackageID.Name, rec.PackageID.Version, rec.Fingerprint, string(StatusPending),
		ts.UnixNano(), rec.RunID,
		string(StatusBuilding), string(StatusSuccess),
	)
	if err != nil {
		return false, fmt.Errorf("queue record %s: %w", rec.PackageID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("queue record %s: %w", rec.PackageID, err)
	}
	return n > 0, nil
}

// Delete implements Store.
func (s *SQLiteStore) Delete(ctx context.Context, id descriptor.PackageID) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := s.db.ExecContext(ctx,
		"DELETE FROM build_records WHERE name = ? AND version = ?", id.Name, id.Version,
	); err != nil {
		return fmt.Errorf("delete record %s: %w", id, err)
	}
	return nil
}

// List implements Store.
func (s *SQLiteStore) List(ctx context.Context) ([]BuildRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx,
		"SELECT name, version, fingerprint, status, timestamp, exit_code, run_id, error FROM build_records ORDER BY name, version",
	)
	if err != nil {
		return nil, fmt.Errorf("query records: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []BuildRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, *rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*BuildRecord, error) {
	var (
		rec    BuildRecord
		status string
		ts     int64
		runID  sql.NullString
		errMsg sql.NullString
	)
	if err := row.Scan(&rec.PackageID.Name, &rec.PackageID.Version, &rec.Fingerprint, &status, &ts, &rec.ExitCode, &runID, &errMsg); err != nil {
		return nil, err
	}
	rec.Status = Status(status)
	rec.Timestamp = time.Unix(0, ts)
	rec.RunID = runID.String
	rec.Error = errMsg.String
	return &rec, nil
}
