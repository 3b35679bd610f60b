package model

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

const modelsSchema = `
CREATE TABLE IF NOT EXISTS models (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	name       TEXT NOT NULL,
	type       TEXT NOT NULL,
	accuracy   REAL NOT NULL,
	status     TEXT NOT NULL,
	size_mb    INTEGER NOT NULL DEFAULT 0,
	job_id     TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL,
	updated_at TEXT NOT NULL
);
`

const modelColumns = `id, name, type, accuracy, status, size_mb, job_id, created_at, updated_at`

// SQLiteStore persists the catalogue in a local SQLite database.
type SQLiteStore struct {
	db  *sql.DB
	now func() time.Time
}

// OpenSQLite opens (creating if needed) the model database at path.
// ":memory:" opens a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}
	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create model store dir: %w", err)
		}
		dsn = "file:" + path + "?_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open model store: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if _, err := db.ExecContext(ctx, modelsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate model store: %w", err)
	}
	return &SQLiteStore{db: db, now: time.Now}, nil
}

// Seed adds every model whose id is not stored yet.
func (s *SQLiteStore) Seed(ctx context.Context, models []Model) error {
	for _, m := range models {
		if err := s.Add(ctx, m); err != nil && !errors.Is(err, ErrDuplicate) {
			return err
		}
	}
	return nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Add(ctx context.Context, m Model) error {
	if err := m.Validate(); err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO models (`+modelColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?) ON CONFLICT(id) DO NOTHING`,
		m.ID, m.Name, m.Type, m.Accuracy, string(m.Status), m.SizeMB, m.JobID,
		formatTime(m.CreatedAt), formatTime(m.UpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("%w: %s", ErrDuplicate, m.ID)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context) ([]Model, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+modelColumns+` FROM models ORDER BY seq`)
	if err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []Model{}
	for rows.Next() {
		m, err := scanModel(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Model, error) {
	m, err := scanModel(s.db.QueryRowContext(ctx, `SELECT `+modelColumns+` FROM models WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Model{}, fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	return m, err
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status Status) (Model, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return Model{}, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE models SET status = ?, updated_at = ? WHERE id = ?`,
		string(status), formatTime(s.now()), id)
	if err != nil {
		return Model{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Model{}, fmt.Errorf("%w: %s", ErrModelNotFound, id)
	}
	return s.Get(ctx, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanModel(r rowScanner) (Model, error) {
	var (
		m                    Model
		status               string
		createdAt, updatedAt string
	)
	if err := r.Scan(&m.ID, &m.Name, &m.Type, &m.Accuracy, &status, &m.SizeMB, &m.JobID, &createdAt, &updatedAt); err != nil {
		return Model{}, err
	}
	var err error
	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return Model{}, fmt.Errorf("parse model %s created_at: %w", m.ID, err)
	}
	if m.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Model{}, fmt.Errorf("parse model %s updated_at: %w", m.ID, err)
	}
	m.Status = Status(status)
	return m, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(time.RFC3339Nano, strings.TrimSpace(s))
}

var _ Store = (*SQLiteStore)(nil)
