package history

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/cjeanneret/oscsync/internal/debug"
)

// Outcome of a successful capture. Failures store the osc.Kind name.
const OutcomeOK = "ok"

// ErrNotFound is returned by Get for an unknown id.
var ErrNotFound = errors.New("capture not found")

// Capture is one recorded picture attempt.
type Capture struct {
	ID         string    `json:"id"`
	Network    string    `json:"network"`
	Host       string    `json:"host"`
	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`
	Outcome    string    `json:"outcome"`
	Step       string    `json:"step,omitempty"`
	FileURI    string    `json:"file_uri,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// Duration returns how long the capture took.
func (c *Capture) Duration() time.Duration {
	return c.FinishedAt.Sub(c.StartedAt)
}

// Store keeps the capture history in SQLite.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	// WAL lets the web UI read while a capture is being recorded
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable WAL mode: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=5000"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to set busy timeout: %w", err)
	}

	s := &Store{db: db}
	if err := s.Migrate(); err != nil {
		db.Close()
		return nil, err
	}
	debug.Verbose("History database ready: %s", path)
	return s, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the schema when missing.
func (s *Store) Migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS captures (
			id TEXT PRIMARY KEY,
			network TEXT NOT NULL DEFAULT '',
			host TEXT NOT NULL DEFAULT '',
			started_at INTEGER NOT NULL,
			finished_at INTEGER NOT NULL,
			outcome TEXT NOT NULL,
			step TEXT NOT NULL DEFAULT '',
			file_uri TEXT NOT NULL DEFAULT '',
			error TEXT NOT NULL DEFAULT ''
		)`,
		`CREATE INDEX IF NOT EXISTS idx_captures_started ON captures(started_at DESC)`,
	}
	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("history migration failed: %w", err)
		}
	}
	return nil
}

// Record stores c, assigning a new id when c.ID is empty.
func (s *Store) Record(ctx context.Context, c *Capture) error {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO captures (id, network, host, started_at, finished_at, outcome, step, file_uri, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		c.ID, c.Network, c.Host, c.StartedAt.UnixMilli(), c.FinishedAt.UnixMilli(),
		c.Outcome, c.Step, c.FileURI, c.Error)
	if err != nil {
		return fmt.Errorf("failed to record capture: %w", err)
	}
	debug.Trace("History: recorded %s (%s)", c.ID, c.Outcome)
	return nil
}

const selectCapture = `SELECT id, network, host, started_at, finished_at, outcome, step, file_uri, error FROM captures`

// Get returns one capture by id.
func (s *Store) Get(ctx context.Context, id string) (*Capture, error) {
	row := s.db.QueryRowContext(ctx, selectCapture+` WHERE id = ?`, id)
	c, err := scanCapture(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return c, err
}

// Recent returns the latest captures, newest first. limit <= 0 means all.
func (s *Store) Recent(ctx context.Context, limit int) ([]*Capture, error) {
	query := selectCapture + ` ORDER BY started_at DESC, rowid DESC`
	var args []interface{}
	if limit > 0 {
		query += ` LIMIT ?`
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list captures: %w", err)
	}
	defer rows.Close()

	captures := []*Capture{}
	for rows.Next() {
		c, err := scanCapture(rows)
		if err != nil {
			return nil, err
		}
		captures = append(captures, c)
	}
	return captures, rows.Err()
}

// DeleteBefore removes captures started before t and returns how many went.
func (s *Store) DeleteBefore(ctx context.Context, t time.Time) (int64, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM captures WHERE started_at < ?`, t.UnixMilli())
	if err != nil {
		return 0, fmt.Errorf("failed to delete old captures: %w", err)
	}
	return res.RowsAffected()
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanCapture(r scanner) (*Capture, error) {
	var c Capture
	var started, finished int64
	if err := r.Scan(&c.ID, &c.Network, &c.Host, &started, &finished, &c.Outcome, &c.Step, &c.FileURI, &c.Error); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan capture: %w", err)
	}
	c.StartedAt = time.UnixMilli(started)
	c.FinishedAt = time.UnixMilli(finished)
	return &c, nil
}
