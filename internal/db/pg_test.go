package db

import (
	"errors"
	"net/url"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedactDSN(t *testing.T) {
	got := redactDSN("postgres://auth:s3cret@db:5432/phoneauth?sslmode=disable")
	assert.NotContains(t, got, "s3cret")
	assert.Contains(t, got, "@db:5432/phoneauth")
	assert.Contains(t, got, "auth:")

	assert.Equal(t, "(invalid DATABASE_URL)", redactDSN("postgres://%zz"))
}

func TestParseTarget(t *testing.T) {
	_, tg, err := parseTarget(" postgres://auth@/phoneauth ")
	require.NoError(t, err)
	assert.Equal(t, target{host: "localhost", port: "5432", name: "phoneauth", user: "auth"}, tg)

	_, _, err = parseTarget("   ")
	require.Error(t, err)
}

func TestExtractDBName(t *testing.T) {
	u, err := url.Parse("postgres://localhost/phoneauth?sslmode=disable")
	require.NoError(t, err)
	assert.Equal(t, "phoneauth", extractDBName(u))
	assert.Equal(t, "", extractDBName(nil))
}

func TestPingErr(t *testing.T) {
	tg := target{host: "db", port: "5432", name: "missing"}
	err := pingErr(tg, errors.New(`pq: database "missing" does not exist`))
	assert.Contains(t, err.Error(), `database "missing" not found on host=db`)

	err = pingErr(tg, errors.New("connection refused"))
	assert.Contains(t, err.Error(), "failed to ping database")
}
