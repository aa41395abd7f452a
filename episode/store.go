package episode

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/multierr"
	// sqlite driver.
	_ "modernc.org/sqlite"
)

// A Record summarizes one episode.
type Record struct {
	ID      uuid.UUID `json:"id"`
	Task    string    `json:"task"`
	Start   time.Time `json:"start"`
	End     time.Time `json:"end"`
	Steps   int       `json:"steps"`
	Success bool      `json:"success"`
	Reward  float64   `json:"reward"`
	Error   string    `json:"error,omitempty"`
}

// ErrNotFound is returned for unknown episode ids.
var ErrNotFound = errors.New("episode not found")

// Store keeps episode records in SQLite.
type Store struct {
	db *sql.DB
}

// OpenStore opens or creates the database at path. ":memory:" keeps it in memory.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrapf(err, "opening episode store %s", path)
	}
	// a single connection keeps ":memory:" databases shared.
	db.SetMaxOpenConns(1)
	_, err = db.Exec(`
		CREATE TABLE IF NOT EXISTS episodes (
			id TEXT PRIMARY KEY,
			task TEXT NOT NULL,
			start_ns INTEGER NOT NULL,
			end_ns INTEGER NOT NULL,
			steps INTEGER NOT NULL,
			success INTEGER NOT NULL,
			reward DOUBLE NOT NULL,
			error TEXT NOT NULL DEFAULT ''
		);
		CREATE INDEX IF NOT EXISTS episodes_start ON episodes(start_ns);
	`)
	if err != nil {
		return nil, multierr.Combine(errors.Wrap(err, "creating episode table"), db.Close())
	}
	return &Store{db: db}, nil
}

// Save inserts or replaces a record.
func (s *Store) Save(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO episodes (id, task, start_ns, end_ns, steps, success, reward, error)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID.String(), r.Task, r.Start.UnixNano(), r.End.UnixNano(), r.Steps, r.Success, r.Reward, r.Error)
	return errors.Wrapf(err, "saving episode %s", r.ID)
}

const selectRecord = `SELECT id, task, start_ns, end_ns, steps, success, reward, error FROM episodes`

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanRecord(row scanner) (Record, error) {
	var (
		r          Record
		id         string
		start, end int64
	)
	if err := row.Scan(&id, &r.Task, &start, &end, &r.Steps, &r.Success, &r.Reward, &r.Error); err != nil {
		return Record{}, err
	}
	parsed, err := uuid.Parse(id)
	if err != nil {
		return Record{}, errors.Wrapf(err, "bad episode id %q", id)
	}
	r.ID = parsed
	r.Start = time.Unix(0, start)
	r.End = time.Unix(0, end)
	return r, nil
}

// Get returns the record with id.
func (s *Store) Get(ctx context.Context, id uuid.UUID) (Record, error) {
	r, err := scanRecord(s.db.QueryRowContext(ctx, selectRecord+" WHERE id = ?", id.String()))
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, errors.Wrapf(ErrNotFound, "%s", id)
	}
	return r, err
}

// Recent returns up to limit records, newest first.
func (s *Store) Recent(ctx context.Context, limit int) ([]Record, error) {
	rows, err := s.db.QueryContext(ctx, selectRecord+" ORDER BY start_ns DESC LIMIT ?", limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		//nolint:errcheck
		rows.Close()
	}()

	var records []Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, r)
	}
	return records, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}
