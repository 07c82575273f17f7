package postgres

import (
	"context"
	"database/sql"
	"errors"

	_ "github.com/lib/pq"
)

type Postgres struct {
	Db *sql.DB
}

func New(dsn string) (*Postgres, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, err
	}
	// Verify connection
	if err := db.Ping(); err != nil {
		return nil, err
	}
	return &Postgres{
		Db: db,
	}, nil
}

func (s *Postgres) Ping(ctx context.Context) error {
	return s.Db.PingContext(ctx)
}

func (s *Postgres) Close() error {
	return s.Db.Close()
}

func (s *Postgres) GetLabel(ctx context.Context, userID string) (label string, ok bool, err error) {
	err = s.Db.QueryRowContext(ctx, `SELECT label FROM user_labels WHERE user_id=$1`, userID).Scan(&label)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return label, true, nil
}

func (s *Postgres) PutLabel(ctx context.Context, userID, label string) error {
	_, err := s.Db.ExecContext(ctx,
		`INSERT INTO user_labels (user_id, label, updated_at)
		 VALUES ($1, $2, NOW())
		 ON CONFLICT (user_id) DO UPDATE SET label=EXCLUDED.label, updated_at=EXCLUDED.updated_at`,
		userID, label,
	)
	return err
}
