// Copyright (C) 2024 Storj Labs, Inc.
// See LICENSE for copying information.

package satellitedb

import (
	"context"
	"strings"
)

// columnTypes holds the column types that differ between backends.
type columnTypes struct {
	bytes     string
	timestamp string
}

func (db *DB) columnTypes() columnTypes {
	if db.impl == Postgres {
		return columnTypes{bytes: "bytea", timestamp: "timestamp with time zone"}
	}
	// go-sqlite3 only parses columns declared exactly as timestamp back into time.Time.
	return columnTypes{bytes: "BLOB", timestamp: "timestamp"}
}

const schema = `
CREATE TABLE IF NOT EXISTS push_subscriptions (
	id {bytes} NOT NULL,
	user_id {bytes} NOT NULL,
	endpoint text NOT NULL,
	public_key text NOT NULL DEFAULT '',
	auth_secret text NOT NULL DEFAULT '',
	platform text NOT NULL DEFAULT 'web',
	user_agent text NOT NULL DEFAULT '',
	is_active boolean NOT NULL DEFAULT true,
	failure_count integer NOT NULL DEFAULT 0,
	last_success_at {timestamp},
	last_failure_at {timestamp},
	last_error text NOT NULL DEFAULT '',
	created_at {timestamp} NOT NULL,
	updated_at {timestamp} NOT NULL,
	PRIMARY KEY ( id )
);
CREATE UNIQUE INDEX IF NOT EXISTS push_subscriptions_active_user_endpoint_index
	ON push_subscriptions ( user_id, endpoint ) WHERE is_active;
CREATE INDEX IF NOT EXISTS push_subscriptions_user_id_index ON push_subscriptions ( user_id );
CREATE TABLE IF NOT EXISTS push_notifications (
	id {bytes} NOT NULL,
	user_id {bytes} NOT NULL,
	subscription_id {bytes} NOT NULL,
	title text NOT NULL,
	body text NOT NULL,
	icon text NOT NULL DEFAULT '',
	image text NOT NULL DEFAULT '',
	url text NOT NULL DEFAULT '',
	tag text NOT NULL DEFAULT '',
	data text NOT NULL DEFAULT '{}',
	priority text NOT NULL,
	category text NOT NULL,
	status text NOT NULL,
	retry_count integer NOT NULL DEFAULT 0,
	permanent boolean NOT NULL DEFAULT false,
	last_error text NOT NULL DEFAULT '',
	created_at {timestamp} NOT NULL,
	sent_at {timestamp},
	delivered_at {timestamp},
	failed_at {timestamp},
	clicked_at {timestamp},
	PRIMARY KEY ( id )
);
CREATE INDEX IF NOT EXISTS push_notifications_status_retry_index ON push_notifications ( status, retry_count, created_at );
CREATE INDEX IF NOT EXISTS push_notifications_subscription_id_index ON push_notifications ( subscription_id );
CREATE INDEX IF NOT EXISTS push_notifications_created_at_index ON push_notifications ( created_at );
`

// MigrateToLatest creates the tables and indexes that do not exist yet.
func (db *DB) MigrateToLatest(ctx context.Context) (err error) {
	defer mon.Task()(&ctx)(&err)

	types := db.columnTypes()
	ddl := strings.NewReplacer("{bytes}", types.bytes, "{timestamp}", types.timestamp).Replace(schema)

	tx, err := db.db.BeginTxx(ctx, nil)
	if err != nil {
		return Error.Wrap(err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	for _, statement := range strings.Split(ddl, ";") {
		if strings.TrimSpace(statement) == "" {
			continue
		}
		if _, err := tx.ExecContext(ctx, statement); err != nil {
			return Error.Wrap(err)
		}
	}

	return Error.Wrap(tx.Commit())
}
