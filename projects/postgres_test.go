package projects

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) (*pgxpool.Pool, string) {
	t.Helper()
	if testing.Short() {
		t.Skip("skipping postgres integration test in short mode")
	}
	ctx := context.Background()
	container, err := tcpostgres.Run(ctx,
		"docker.io/postgres:16-alpine",
		tcpostgres.WithDatabase("webforge"),
		tcpostgres.WithUsername("webforge"),
		tcpostgres.WithPassword("webforge"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(2*time.Minute),
		),
	)
	if err != nil {
		t.Skipf("postgres container unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = testcontainers.TerminateContainer(container)
	})

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)
	pool, err := NewPostgresPool(ctx, PostgresConfig{DSN: dsn, MaxConns: 4}, nil)
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	return pool, dsn
}

func TestPostgresStore_Integration(t *testing.T) {
	pool, dsn := startPostgres(t)
	// Re-running migrations is a no-op.
	require.NoError(t, Migrate(dsn))

	store := NewPostgresStore(pool, "app", nil)
	other := NewPostgresStore(pool, "other-app", nil)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	ch, err := store.SubscribeAll(ctx, "alice")
	require.NoError(t, err)
	first := <-ch
	require.NoError(t, first.Err)
	assert.Empty(t, first.Projects)

	a, err := store.Create(ctx, "alice", Project{Name: "a", PromptText: "p", HTML: "<html>a</html>"})
	require.NoError(t, err)
	assert.NotEmpty(t, a.ID)
	assert.False(t, a.CreatedAt.IsZero())
	assert.True(t, a.UpdatedAt.IsZero())
	b, err := store.Create(ctx, "alice", Project{Name: "b", HTML: "<html>b</html>"})
	require.NoError(t, err)
	_, err = store.Create(ctx, "bob", Project{Name: "other user"})
	require.NoError(t, err)
	_, err = other.Create(ctx, "alice", Project{Name: "other app"})
	require.NoError(t, err)

	waitFor := func(cond func([]Project) bool) []Project {
		t.Helper()
		for {
			select {
			case snap, ok := <-ch:
				require.True(t, ok)
				require.NoError(t, snap.Err)
				if cond(snap.Projects) {
					return snap.Projects
				}
			case <-ctx.Done():
				t.Fatal("timed out waiting for snapshot")
				return nil
			}
		}
	}

	list := waitFor(func(ps []Project) bool { return len(ps) == 2 })
	assert.Equal(t, b.ID, list[0].ID, "newest first")
	assert.Equal(t, a.ID, list[1].ID)

	a.HTML = "<html>a2</html>"
	updated, err := store.Update(ctx, "alice", a)
	require.NoError(t, err)
	assert.True(t, a.CreatedAt.Equal(updated.CreatedAt))
	assert.False(t, updated.UpdatedAt.IsZero())
	waitFor(func(ps []Project) bool { return len(ps) == 2 && ps[1].HTML == "<html>a2</html>" })

	_, err = store.Update(ctx, "alice", Project{ID: "nope"})
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = store.Update(ctx, "bob", a)
	assert.ErrorIs(t, err, ErrNotFound, "projects are scoped to their owner")

	require.NoError(t, store.Delete(ctx, "alice", b.ID))
	list = waitFor(func(ps []Project) bool { return len(ps) == 1 })
	assert.Equal(t, a.ID, list[0].ID)

	cancel()
	for range ch {
	}
}
