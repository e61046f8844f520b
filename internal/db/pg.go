package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog"
)

// redactDSN returns a copy of the DSN with password replaced by **** for logging.
func redactDSN(databaseURL string) string {
	u, err := url.Parse(databaseURL)
	if err != nil {
		return "(invalid DATABASE_URL)"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "****")
	}
	return u.String()
}

// extractDBName returns the database name from URL path ("/phoneauth" -> "phoneauth").
func extractDBName(u *url.URL) string {
	if u == nil {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(u.Path, "/"))
}

func isDatabaseDoesNotExist(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "database") && strings.Contains(msg, "does not exist")
}

type target struct {
	host, port, name, user string
}

func parseTarget(databaseURL string) (*url.URL, target, error) {
	databaseURL = strings.TrimSpace(databaseURL)
	if databaseURL == "" {
		return nil, target{}, errors.New("DATABASE_URL is empty")
	}
	u, err := url.Parse(databaseURL)
	if err != nil {
		return nil, target{}, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	t := target{host: u.Hostname(), port: u.Port(), name: extractDBName(u)}
	if t.host == "" {
		t.host = "localhost"
	}
	if t.port == "" {
		t.port = "5432"
	}
	if u.User != nil {
		t.user = u.User.Username()
	}
	return u, t, nil
}

func pingErr(t target, err error) error {
	if isDatabaseDoesNotExist(err) {
		return fmt.Errorf("database %q not found on host=%s port=%s: %w", t.name, t.host, t.port, err)
	}
	return fmt.Errorf("failed to ping database: %w", err)
}

// Open returns a database/sql handle over lib/pq. It is used for schema
// migrations; queries go through the pgx pool.
func Open(ctx context.Context, databaseURL string, log zerolog.Logger) (*sql.DB, error) {
	_, t, err := parseTarget(databaseURL)
	if err != nil {
		return nil, err
	}
	log.Info().
		Str("host", t.host).
		Str("port", t.port).
		Str("db", t.name).
		Str("user", t.user).
		Str("dsn", redactDSN(databaseURL)).
		Msg("connecting to postgres")

	db, err := sql.Open("postgres", strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("failed to open database connection: %w", err)
	}

	db.SetMaxOpenConns(2)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(5 * time.Minute)

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := db.PingContext(connectCtx); err != nil {
		_ = db.Close()
		return nil, pingErr(t, err)
	}
	return db, nil
}

// NewPool creates the pgx connection pool used by the repositories
func NewPool(ctx context.Context, databaseURL string, log zerolog.Logger) (*pgxpool.Pool, error) {
	_, t, err := parseTarget(databaseURL)
	if err != nil {
		return nil, err
	}

	cfg, err := pgxpool.ParseConfig(strings.TrimSpace(databaseURL))
	if err != nil {
		return nil, fmt.Errorf("invalid DATABASE_URL: %w", err)
	}
	cfg.MaxConns = 25
	cfg.MinConns = 2
	cfg.MaxConnLifetime = 5 * time.Minute
	cfg.MaxConnIdleTime = 10 * time.Minute

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, pingErr(t, err)
	}

	log.Info().Str("db", t.name).Int32("max_conns", cfg.MaxConns).Msg("postgres pool ready")
	return pool, nil
}
