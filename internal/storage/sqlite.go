package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "modernc.org/sqlite"
)

type sqliteStore struct {
	baseStore
}

func NewSQLite(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "file:sentra.db?_pragma=busy_timeout(5000)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}
	return &sqliteStore{baseStore{db: db}}, nil
}

func (s *sqliteStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			tenant_id INTEGER NOT NULL,
			ts TIMESTAMP NOT NULL,
			tenant TEXT NOT NULL DEFAULT '',
			source TEXT NOT NULL,
			vendor TEXT NOT NULL DEFAULT '',
			product TEXT NOT NULL DEFAULT '',
			event_type TEXT NOT NULL,
			severity INTEGER,
			action TEXT NOT NULL DEFAULT '',
			src_ip TEXT NOT NULL DEFAULT '',
			src_port INTEGER,
			dst_ip TEXT NOT NULL DEFAULT '',
			dst_port INTEGER,
			protocol TEXT NOT NULL DEFAULT '',
			user_name TEXT NOT NULL DEFAULT '',
			host TEXT NOT NULL DEFAULT '',
			process TEXT NOT NULL DEFAULT '',
			url TEXT NOT NULL DEFAULT '',
			rule_name TEXT NOT NULL DEFAULT '',
			rule_id TEXT NOT NULL DEFAULT '',
			cloud_account_id TEXT NOT NULL DEFAULT '',
			cloud_region TEXT NOT NULL DEFAULT '',
			cloud_service TEXT NOT NULL DEFAULT '',
			tags_json TEXT,
			raw_json TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_tenant_ts ON events(tenant, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_events_source ON events(source)`,
		`CREATE TABLE IF NOT EXISTS tenants (
			tenant_id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			name TEXT NOT NULL UNIQUE,
			ts TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS admins (
			admin_id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			name TEXT NOT NULL UNIQUE,
			ts TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			alert_id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			event_id INTEGER NOT NULL REFERENCES events(id),
			message TEXT NOT NULL,
			ts TIMESTAMP NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_alerts_user ON alerts(user_id)`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
