package sqlite

import (
	"context"
	"database/sql"
	"errors"

	_ "modernc.org/sqlite"
)

type Sqlite struct {
	Db *sql.DB
}

func New(dsn string) (*Sqlite, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	// Single connection for SQLite
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	_, _ = db.Exec(`PRAGMA journal_mode=WAL;`)
	_, _ = db.Exec(`PRAGMA busy_timeout = 5000;`)

	return &Sqlite{
		Db: db,
	}, nil
}

func (s *Sqlite) Ping(ctx context.Context) error {
	return s.Db.PingContext(ctx)
}

func (s *Sqlite) Close() error {
	return s.Db.Close()
}

// GetLabel returns the stored label of a user. ok is false when none is
// stored.
func (s *Sqlite) GetLabel(ctx context.Context, userID string) (label string, ok bool, err error) {
	err = s.Db.QueryRowContext(ctx, `SELECT label FROM user_labels WHERE user_id=?`, userID).Scan(&label)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return label, true, nil
}

func (s *Sqlite) PutLabel(ctx context.Context, userID, label string) error {
	_, err := s.Db.ExecContext(ctx,
		`INSERT INTO user_labels (user_id, label, updated_at)
		 VALUES (?, ?, CURRENT_TIMESTAMP)
		 ON CONFLICT(user_id) DO UPDATE SET label=excluded.label, updated_at=excluded.updated_at`,
		userID, label,
	)
	return err
}
