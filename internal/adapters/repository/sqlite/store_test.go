package sqlite

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/okian/kudos/internal/adapters/repository"
	"github.com/okian/kudos/internal/adapters/repository/storetest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStoreConformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) repository.Store {
		s, err := Open(context.Background(), filepath.Join(t.TempDir(), "kudos.db"), WithMaxAttempts(100))
		require.NoError(t, err)
		return s
	})
}

func TestOpenRequiresPath(t *testing.T) {
	_, err := Open(context.Background(), "  ")
	assert.Error(t, err)
}

func TestMigrationsAreIdempotent(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "kudos.db")

	s, err := Open(ctx, path)
	require.NoError(t, err)
	_, err = s.UpsertTeam(ctx, "t1", "Saints")
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(ctx, path)
	require.NoError(t, err)
	defer func() { _ = s.Close() }()

	team, err := s.Team(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, "Saints", team.Name)

	var applied int
	require.NoError(t, s.db.QueryRowContext(ctx, `SELECT COUNT(1) FROM schema_migrations`).Scan(&applied))
	assert.Equal(t, 1, applied)
}

func TestUpSection(t *testing.T) {
	got := upSection("-- +migrate Up\nCREATE TABLE a (x);\n-- +migrate Down\nDROP TABLE a;")
	assert.Equal(t, "\nCREATE TABLE a (x);\n", got)
	assert.Equal(t, "SELECT 1;", upSection("SELECT 1;"))
}
