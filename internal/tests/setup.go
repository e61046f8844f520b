// Package tests holds end-to-end tests that need a real Postgres. They skip
// unless DATABASE_URL points at a disposable database.
package tests

import (
	"context"
	"fmt"
	"os"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/jackc/pgx/v5/pgxpool"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/phoneauth/server/internal/db"
	"github.com/phoneauth/server/internal/kv"
)

// Env holds the external resources of one test
type Env struct {
	Pool  *pgxpool.Pool
	Redis *miniredis.Miniredis
	Store kv.Store
}

// NewEnv migrates the database named by DATABASE_URL, truncates users and
// starts an in-process Redis
func NewEnv(t *testing.T) *Env {
	t.Helper()
	dsn := os.Getenv("DATABASE_URL")
	if dsn == "" {
		t.Skip("DATABASE_URL not set; skipping database test")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	sqlDB, err := db.Open(ctx, dsn, zerolog.Nop())
	require.NoError(t, err, "database open must succeed; check DATABASE_URL and that test DB exists")
	require.NoError(t, db.Migrate(ctx, sqlDB), "migrations must run successfully")
	require.NoError(t, sqlDB.Close())

	pool, err := db.NewPool(ctx, dsn, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(pool.Close)
	require.NoError(t, TruncateUsers(ctx, pool))

	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	return &Env{Pool: pool, Redis: mr, Store: kv.NewRedisStore(client)}
}

// TruncateUsers empties the users table for a clean test state
func TruncateUsers(ctx context.Context, pool *pgxpool.Pool) error {
	if _, err := pool.Exec(ctx, "TRUNCATE TABLE users"); err != nil {
		return fmt.Errorf("truncate users: %w", err)
	}
	return nil
}
