package postgres_test

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kestrel-games/arena/internal/storage/postgres"
	"github.com/kestrel-games/arena/internal/testutil"
)

func uniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func setupPlayerRepo(t *testing.T) *postgres.PlayerRepository {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping container-backed test in short mode")
	}
	pc := testutil.NewPostgresContainer(t)
	pc.ApplyMigrations(t)
	return postgres.NewPlayerRepository(pc.Pool)
}

func TestEnsurePlayer_CreatesRecord(t *testing.T) {
	repo := setupPlayerRepo(t)
	ctx := context.Background()
	id := uniqueID("player")

	require.NoError(t, repo.EnsurePlayer(ctx, id))

	p, err := repo.GetPlayer(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, id, p.ID)
	assert.False(t, p.FirstSeen.IsZero())
	assert.Equal(t, p.FirstSeen, p.LastSeen)
}

func TestEnsurePlayer_BumpsLastSeen(t *testing.T) {
	repo := setupPlayerRepo(t)
	ctx := context.Background()
	id := uniqueID("player")

	require.NoError(t, repo.EnsurePlayer(ctx, id))
	first, err := repo.GetPlayer(ctx, id)
	require.NoError(t, err)

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, repo.EnsurePlayer(ctx, id))

	second, err := repo.GetPlayer(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, first.FirstSeen, second.FirstSeen)
	assert.True(t, second.LastSeen.After(first.LastSeen))
}

func TestEnsurePlayer_EmptyID(t *testing.T) {
	repo := setupPlayerRepo(t)
	assert.Error(t, repo.EnsurePlayer(context.Background(), ""))
}

func TestGetPlayer_NotFound(t *testing.T) {
	repo := setupPlayerRepo(t)

	_, err := repo.GetPlayer(context.Background(), uniqueID("missing"))
	assert.ErrorIs(t, err, postgres.ErrPlayerNotFound)
}
