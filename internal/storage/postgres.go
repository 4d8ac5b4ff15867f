package storage

import (
	"context"
	"database/sql"
	"strings"

	_ "github.com/jackc/pgx/v5/stdlib"
)

type postgresStore struct {
	baseStore
}

func NewPostgres(dsn string) (Store, error) {
	if strings.TrimSpace(dsn) == "" {
		dsn = "postgres://localhost:5432/sentra?sslmode=disable"
	}
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	return &postgresStore{baseStore{db: db, numbered: true, returning: true}}, nil
}

func (s *postgresStore) Init(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS events (
			id BIGSERIAL PRIMARY KEY,
			tenant_id BIGINT NOT NULL,
			ts TIMESTAMPTZ NOT NULL,
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
			tags_json JSONB,
			raw_json JSONB
		)`,
		`CREATE INDEX IF NOT EXISTS idx_events_tenant_ts ON events(tenant, ts)`,
		`CREATE INDEX IF NOT EXISTS idx_events_source ON events(source)`,
		`CREATE TABLE IF NOT EXISTS tenants (
			tenant_id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			name TEXT NOT NULL UNIQUE,
			ts TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS admins (
			admin_id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			name TEXT NOT NULL UNIQUE,
			ts TIMESTAMPTZ
		)`,
		`CREATE TABLE IF NOT EXISTS alerts (
			alert_id BIGSERIAL PRIMARY KEY,
			user_id BIGINT NOT NULL,
			event_id BIGINT NOT NULL REFERENCES events(id),
			message TEXT NOT NULL,
			ts TIMESTAMPTZ NOT NULL
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
