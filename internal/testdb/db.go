//go:build integration

package testdb

import (
	"context"
	"io"
	"log/slog"
	"net/url"
	"os"
	"testing"

	"github.com/jmoiron/sqlx"
	"github.com/lin-1259/ai-xiutu/internal/platform/sqlstore"
	"github.com/stretchr/testify/require"
)

// Environment variables consulted for the test database, in order.
const (
	EnvTestDBURL   = "XIUTU_TEST_DB_URL"
	EnvDatabaseURL = "DATABASE_URL"
)

// GetTestDatabaseURL returns the first configured database URL, or an empty
// string when none is set.
func GetTestDatabaseURL() string {
	for _, name := range []string{EnvTestDBURL, EnvDatabaseURL} {
		if v := os.Getenv(name); v != "" {
			return v
		}
	}
	return ""
}

// ShouldSkipDatabaseTest reports whether no test database is configured.
func ShouldSkipDatabaseTest() bool {
	return GetTestDatabaseURL() == ""
}

// GetTestDBWithT opens a migrated PostgreSQL connection with an empty jobs
// table. The test is skipped when no database URL is set. The connection is
// closed and the table truncated when the test completes.
func GetTestDBWithT(t *testing.T) *sqlx.DB {
	t.Helper()
	if ShouldSkipDatabaseTest() {
		t.Skip(EnvTestDBURL + " not set - skipping integration test")
	}

	ctx := context.Background()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	db, err := sqlstore.Open(ctx, sqlstore.DriverPostgres, GetTestDatabaseURL(), logger)
	require.NoError(t, err, "failed to connect to %s", maskDatabaseURL(GetTestDatabaseURL()))
	require.NoError(t, sqlstore.Migrate(ctx, db, "up", logger))

	truncate(t, db)
	t.Cleanup(func() {
		truncate(t, db)
		if err := db.Close(); err != nil {
			t.Logf("failed to close test database: %v", err)
		}
	})
	return db
}

func truncate(t *testing.T, db *sqlx.DB) {
	t.Helper()
	_, err := db.ExecContext(context.Background(), "TRUNCATE TABLE jobs")
	require.NoError(t, err)
}

// maskDatabaseURL hides the password of a connection URL for logging.
func maskDatabaseURL(dbURL string) string {
	u, err := url.Parse(dbURL)
	if err != nil {
		return "invalid-url"
	}
	if _, has := u.User.Password(); has {
		u.User = url.UserPassword(u.User.Username(), "****")
	}
	return u.String()
}
