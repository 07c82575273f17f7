package sqlite

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
)

//go:embed schema.sql
var schema string

// Migrate applies schema.sql in one transaction. Every statement is
// idempotent, so it is safe to run on each start.
func (s *Sqlite) Migrate(ctx context.Context) error {
	tx, err := s.Db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	for i, stmt := range strings.Split(schema, ";") {
		st := strings.TrimSpace(stmt)
		if st == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, st); err != nil {
			return fmt.Errorf("sqlite: migrate statement %d: %w", i+1, err)
		}
	}
	return tx.Commit()
}
