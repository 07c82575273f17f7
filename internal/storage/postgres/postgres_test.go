package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLabels(t *testing.T) {
	dsn := os.Getenv("POSTGRES_TEST_DSN")
	if dsn == "" {
		t.Skip("POSTGRES_TEST_DSN not set")
	}
	s, err := New(dsn)
	require.NoError(t, err)
	defer s.Close()
	require.NoError(t, s.Migrate(context.Background()))

	ctx := context.Background()
	require.NoError(t, s.PutLabel(ctx, "test-7", "Juan Dela Cruz"))
	label, ok, err := s.GetLabel(ctx, "test-7")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "Juan Dela Cruz", label)

	_, err = s.Db.ExecContext(ctx, `DELETE FROM user_labels WHERE user_id=$1`, "test-7")
	require.NoError(t, err)
}
