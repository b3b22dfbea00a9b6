package stats

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/ory/dockertest/v3"
	"github.com/ory/dockertest/v3/docker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/park285/tictactoe-telegram-bot/internal/tictactoe"
)

const (
	pgImage         = "postgres"
	pgTag           = "16-alpine"
	pgExpireSeconds = 120
	pgMaxWait       = 120 * time.Second
)

// newPostgres starts a throwaway Postgres container. Opt in with TTT_DOCKER_TESTS=1.
func newPostgres(t *testing.T) Repository {
	t.Helper()
	if os.Getenv("TTT_DOCKER_TESTS") != "1" {
		t.Skip("set TTT_DOCKER_TESTS=1 to run docker-backed tests")
	}

	pool, err := dockertest.NewPool("")
	require.NoError(t, err, "could not connect to docker")

	resource, err := pool.RunWithOptions(&dockertest.RunOptions{
		Repository: pgImage,
		Tag:        pgTag,
		Env:        []string{"POSTGRES_PASSWORD=secret", "POSTGRES_USER=ttt", "POSTGRES_DB=ttt"},
	}, func(config *docker.HostConfig) {
		config.AutoRemove = true
		config.RestartPolicy = docker.RestartPolicy{Name: "no"}
	})
	require.NoError(t, err, "could not start postgres")
	_ = resource.Expire(pgExpireSeconds)
	t.Cleanup(func() { _ = pool.Purge(resource) })

	dsn := fmt.Sprintf("postgres://ttt:secret@%s/ttt?sslmode=disable", resource.GetHostPort("5432/tcp"))
	pool.MaxWait = pgMaxWait

	var repo Repository
	err = pool.Retry(func() error {
		r, err := OpenPostgres(context.Background(), dsn)
		if err != nil {
			return err
		}
		repo = r
		return nil
	})
	require.NoError(t, err, "could not connect to postgres")
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func TestPostgresRecordResult(t *testing.T) {
	repo := newPostgres(t)
	ctx := context.Background()

	require.NoError(t, repo.SaveUser(ctx, &User{UserID: "c", FirstName: "Cleo"}))
	res := tictactoe.Result{GameID: "pg1", Round: 1, Type: tictactoe.TypeGroupBattle, CreatorID: "c", OtherUserID: "o", Draw: true, EndedAt: time.Now()}
	require.NoError(t, repo.RecordResult(ctx, res))
	assert.ErrorIs(t, repo.RecordResult(ctx, res), tictactoe.ErrDuplicateResult)

	for _, id := range []string{"c", "o"} {
		u, err := repo.GetUser(ctx, id)
		require.NoError(t, err)
		require.NotNil(t, u)
		assert.Equal(t, 1, u.BattleDraw, id)
	}
	page, err := repo.ListUsersAfter(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, page, 2)
}
