package postgres

import (
	"context"
	"os"
	"testing"

	"github.com/okian/kudos/internal/adapters/repository"
	"github.com/okian/kudos/internal/adapters/repository/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testURLEnv = "KUDOS_TEST_POSTGRES_URL"

func openTestStore(t *testing.T) *Store {
	t.Helper()
	url := os.Getenv(testURLEnv)
	if url == "" {
		t.Skipf("%s not set", testURLEnv)
	}
	ctx := context.Background()
	s, err := Open(ctx, url, WithMaxAttempts(100))
	require.NoError(t, err)
	_, err = s.pool.Exec(ctx, `TRUNCATE events, users, teams, ledger, achievements`)
	require.NoError(t, err)
	return s
}

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.Store { return openTestStore(t) })
}

func TestMigrateIsIdempotent(t *testing.T) {
	s := openTestStore(t)
	defer func() { _ = s.Close() }()

	require.NoError(t, Migrate(context.Background(), s.pool))
	var n int
	require.NoError(t, s.pool.QueryRow(context.Background(), `SELECT COUNT(1) FROM schema_migrations`).Scan(&n))
	assert.Equal(t, len(migrations), n)
}

func TestOpenRequiresURL(t *testing.T) {
	_, err := Open(context.Background(), "")
	assert.ErrorIs(t, err, ErrConnect)
}

func TestIsRetryable(t *testing.T) {
	assert.False(t, isRetryable(assert.AnError))
	assert.Equal(t, "", sqlState(nil))
}
