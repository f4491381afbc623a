// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package satellitedbtest

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"testing"

	"github.com/zeebo/errs"
	"go.uber.org/zap/zaptest"

	"github.com/StorXNetwork/StorXPush/satellite/satellitedb"
	"storj.io/common/testcontext"
	"storj.io/common/testrand"
)

// PostgresEnv names the environment variable holding a postgres url for tests.
// When it is empty or "omit" only sqlite is tested.
const PostgresEnv = "STORJ_TEST_POSTGRES"

// Database describes a test database.
type Database struct {
	Name string
	URL  string
}

// Databases returns the databases tests run against.
func Databases(t testing.TB) []Database {
	databases := []Database{
		{Name: "sqlite", URL: "sqlite3://" + filepath.Join(t.TempDir(), "push.db")},
	}
	if pg := os.Getenv(PostgresEnv); pg != "" && pg != "omit" {
		databases = append(databases, Database{Name: "postgres", URL: pg})
	}
	return databases
}

// Run runs the test against every configured database, each with a fresh schema.
func Run(t *testing.T, test func(ctx *testcontext.Context, t *testing.T, db *satellitedb.DB)) {
	for _, database := range Databases(t) {
		database := database
		t.Run(database.Name, func(t *testing.T) {
			ctx := testcontext.New(t)
			log := zaptest.NewLogger(t)

			databaseURL := database.URL
			if database.Name == "postgres" {
				var err error
				databaseURL, err = isolatedSchema(ctx, t, database.URL)
				if err != nil {
					t.Fatal(err)
				}
			}

			db, err := satellitedb.Open(ctx, log.Named("db"), databaseURL)
			if err != nil {
				t.Fatal(err)
			}
			defer ctx.Check(db.Close)

			if err := db.MigrateToLatest(ctx); err != nil {
				t.Fatal(err)
			}

			test(ctx, t, db)
		})
	}
}

// isolatedSchema creates a uniquely named schema, drops it when the test
// finishes and returns a url that uses it.
func isolatedSchema(ctx context.Context, t *testing.T, databaseURL string) (string, error) {
	schema := fmt.Sprintf("pushtest_%x", testrand.BytesInt(6))

	admin, err := satellitedb.Open(ctx, zaptest.NewLogger(t), databaseURL)
	if err != nil {
		return "", err
	}
	if err := admin.Exec(ctx, "CREATE SCHEMA "+schema); err != nil {
		return "", errs.Combine(err, admin.Close())
	}

	t.Cleanup(func() {
		defer func() { _ = admin.Close() }()
		if err := admin.Exec(context.Background(), "DROP SCHEMA "+schema+" CASCADE"); err != nil {
			t.Logf("failed to drop schema %s: %v", schema, err)
		}
	})

	parsed, err := url.Parse(databaseURL)
	if err != nil {
		return "", err
	}
	query := parsed.Query()
	query.Set("search_path", schema)
	parsed.RawQuery = query.Encode()
	return parsed.String(), nil
}
