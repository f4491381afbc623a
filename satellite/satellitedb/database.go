// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package satellitedb

import (
	"context"
	"errors"
	"strings"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the pgx database/sql driver.
	"github.com/jmoiron/sqlx"
	"github.com/mattn/go-sqlite3"
	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
	"go.uber.org/zap"

	"github.com/StorXNetwork/StorXPush/satellite/console/pushnotifications"
)

var (
	mon = monkit.Package()

	// Error is the default satellitedb errs class.
	Error = errs.Class("satellitedb")
)

// Implementation is a supported database backend.
type Implementation int

const (
	// Postgres is served by the pgx driver.
	Postgres Implementation = iota + 1
	// SQLite is served by the go-sqlite3 driver.
	SQLite
)

// String implements fmt.Stringer.
func (impl Implementation) String() string {
	switch impl {
	case Postgres:
		return "postgres"
	case SQLite:
		return "sqlite3"
	}
	return "unknown"
}

// DB is the database of the push notifications pipeline.
type DB struct {
	log  *zap.Logger
	db   *sqlx.DB
	impl Implementation
}

// ParseURL returns the implementation, driver name and data source of a database url.
func ParseURL(databaseURL string) (impl Implementation, driver, source string, err error) {
	switch {
	case strings.HasPrefix(databaseURL, "postgres://"), strings.HasPrefix(databaseURL, "postgresql://"):
		return Postgres, "pgx", databaseURL, nil
	case strings.HasPrefix(databaseURL, "sqlite3://"):
		source = strings.TrimPrefix(databaseURL, "sqlite3://")
		if source == "" {
			return 0, "", "", Error.New("sqlite3 url %q has no path", databaseURL)
		}
		return SQLite, "sqlite3", source, nil
	}
	return 0, "", "", Error.New("unsupported database url %q", databaseURL)
}

// Open connects to the database at databaseURL.
func Open(ctx context.Context, log *zap.Logger, databaseURL string) (_ *DB, err error) {
	defer mon.Task()(&ctx)(&err)

	impl, driver, source, err := ParseURL(databaseURL)
	if err != nil {
		return nil, err
	}

	db, err := sqlx.Open(driver, source)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if impl == SQLite {
		// sqlite allows a single writer.
		db.SetMaxOpenConns(1)
	}

	if err := db.PingContext(ctx); err != nil {
		return nil, errs.Combine(Error.Wrap(err), db.Close())
	}

	log.Debug("connected", zap.Stringer("implementation", impl))
	return &DB{log: log, db: db, impl: impl}, nil
}

// Implementation returns the backend of the database.
func (db *DB) Implementation() Implementation { return db.impl }

// PushNotifications returns the push notifications stores.
func (db *DB) PushNotifications() pushnotifications.DB {
	return &pushNotificationsDB{db: db}
}

// Exec runs a statement that returns no rows.
func (db *DB) Exec(ctx context.Context, query string, args ...interface{}) (err error) {
	defer mon.Task()(&ctx)(&err)

	_, err = db.db.ExecContext(ctx, db.db.Rebind(query), args...)
	return Error.Wrap(err)
}

// Close closes the underlying connections.
func (db *DB) Close() error {
	return Error.Wrap(db.db.Close())
}

type pushNotificationsDB struct {
	db *DB
}

// Subscriptions implements pushnotifications.DB.
func (p *pushNotificationsDB) Subscriptions() pushnotifications.Subscriptions {
	return &pushSubscriptions{db: p.db}
}

// Records implements pushnotifications.DB.
func (p *pushNotificationsDB) Records() pushnotifications.Records {
	return &pushNotifications{db: p.db}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgerrcode.UniqueViolation
	}
	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
			liteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
	}
	return false
}
