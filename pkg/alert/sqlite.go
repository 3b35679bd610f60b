package alert

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

const alertsSchema = `
CREATE TABLE IF NOT EXISTS alerts (
	seq        INTEGER PRIMARY KEY AUTOINCREMENT,
	id         TEXT NOT NULL UNIQUE,
	source     TEXT NOT NULL,
	confidence REAL NOT NULL,
	created_at TEXT NOT NULL,
	status     TEXT NOT NULL,
	has_video  INTEGER NOT NULL DEFAULT 0,
	video_url  TEXT NOT NULL DEFAULT ''
);
CREATE INDEX IF NOT EXISTS idx_alerts_created_at ON alerts(created_at);
`

const alertColumns = `id, source, confidence, created_at, status, has_video, video_url`

// SQLiteStore persists alerts in a local SQLite database.
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLite opens (creating if needed) the alert database at path.
// ":memory:" opens a private in-memory database.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	if path == "" {
		return nil, errors.New("sqlite path is required")
	}

	dsn := path
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("create alert store dir: %w", err)
		}
		dsn = "file:" + path
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open alert store: %w", err)
	}
	// A single connection keeps ":memory:" databases shared and avoids
	// writer lock contention on files.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping alert store: %w", err)
	}
	if path != ":memory:" {
		var journalMode string
		if err := db.QueryRowContext(ctx, "PRAGMA journal_mode=WAL").Scan(&journalMode); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("enable WAL mode: %w", err)
		}
		var busyTimeout int
		if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout=5000").Scan(&busyTimeout); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("set busy timeout: %w", err)
		}
	}
	if _, err := db.ExecContext(ctx, alertsSchema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate alert store: %w", err)
	}

	return &SQLiteStore{db: db}, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

// Ping checks the database connection.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *SQLiteStore) Append(ctx context.Context, a Alert) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO alerts (`+alertColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Source, a.Confidence, a.CreatedAt.UTC().Format(time.RFC3339Nano), string(a.Status), boolToInt(a.HasVideo), a.VideoURL,
	)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

func (s *SQLiteStore) List(ctx context.Context, limit int) ([]Alert, error) {
	query := `SELECT ` + alertColumns + ` FROM alerts ORDER BY seq DESC`
	args := []any{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list alerts: %w", err)
	}
	defer func() { _ = rows.Close() }()

	out := []Alert{}
	for rows.Next() {
		a, err := scanAlert(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Get(ctx context.Context, id string) (Alert, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+alertColumns+` FROM alerts WHERE id = ?`, id)
	a, err := scanAlert(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Alert{}, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	return a, err
}

func (s *SQLiteStore) UpdateStatus(ctx context.Context, id string, status Status) (Alert, error) {
	if _, err := ParseStatus(string(status)); err != nil {
		return Alert{}, err
	}
	res, err := s.db.ExecContext(ctx, `UPDATE alerts SET status = ? WHERE id = ?`, string(status), id)
	if err != nil {
		return Alert{}, fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return Alert{}, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	return s.Get(ctx, id)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAlert(r rowScanner) (Alert, error) {
	var (
		a         Alert
		createdAt string
		status    string
		hasVideo  int
	)
	if err := r.Scan(&a.ID, &a.Source, &a.Confidence, &createdAt, &status, &hasVideo, &a.VideoURL); err != nil {
		return Alert{}, err
	}
	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return Alert{}, fmt.Errorf("parse alert %s created_at: %w", a.ID, err)
	}
	a.CreatedAt = t
	a.Status = Status(status)
	a.HasVideo = hasVideo != 0
	return a, nil
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
