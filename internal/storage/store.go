// Package storage persists canonical events, tenant identities, and
// alerts behind one Store interface with sqlite and postgres drivers.
package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"sentra/internal/config"
	"sentra/internal/model"
)

// ErrNotFound is returned when a lookup matches no row.
var ErrNotFound = errors.New("storage: not found")

// EventFilter scopes an event query. Zero-value fields are unfiltered.
type EventFilter struct {
	TenantName string
	Source     string
	Start      *time.Time
	End        *time.Time
}

type PurgeResult struct {
	EventsDeleted int64 `json:"logs_deleted"`
	AlertsDeleted int64 `json:"alerts_deleted"`
}

type Store interface {
	Init(ctx context.Context) error
	Close() error

	InsertEvent(ctx context.Context, ev model.Event) (int64, error)
	ListEvents(ctx context.Context, filter EventFilter) ([]model.Event, error)
	DistinctTenantNames(ctx context.Context) ([]string, error)

	RegisterIdentity(ctx context.Context, role model.Role, name string, ownerUserID int64) (int64, error)
	TenantIDByName(ctx context.Context, name string) (int64, error)
	TenantNameForUser(ctx context.Context, userID int64) (string, error)
	AdminIDForUser(ctx context.Context, userID int64) (int64, error)
	TenantIDForUser(ctx context.Context, userID int64) (int64, error)

	CreateAlert(ctx context.Context, ev model.Event, alert model.Alert) (model.Alert, error)
	ListAlerts(ctx context.Context, viewer model.Identity) ([]model.AlertRecord, error)

	PurgeOlderThan(ctx context.Context, cutoff time.Time) (PurgeResult, error)
}

func NewStore(cfg config.StorageConfig) (Store, error) {
	switch strings.ToLower(cfg.Driver) {
	case "sqlite":
		return NewSQLite(cfg.DSN)
	case "postgres", "postgresql":
		return NewPostgres(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported storage driver %q", cfg.Driver)
	}
}

// baseStore carries the shared SQL; drivers differ only in DDL, the
// placeholder style, and how an inserted id is read back.
type baseStore struct {
	db        *sql.DB
	numbered  bool // $1..$n placeholders instead of ?
	returning bool // INSERT ... RETURNING id instead of LastInsertId
}

func (b *baseStore) Close() error {
	if b.db != nil {
		return b.db.Close()
	}
	return nil
}

// rebind rewrites ? placeholders to $1..$n for drivers that need it.
func (b *baseStore) rebind(query string) string {
	if !b.numbered {
		return query
	}
	var sb strings.Builder
	n := 0
	for _, ch := range query {
		if ch == '?' {
			n++
			fmt.Fprintf(&sb, "$%d", n)
			continue
		}
		sb.WriteRune(ch)
	}
	return sb.String()
}

const eventColumns = `id, tenant_id, ts, tenant, source, vendor, product, event_type,
	severity, action, src_ip, src_port, dst_ip, dst_port, protocol, user_name, host,
	process, url, rule_name, rule_id, cloud_account_id, cloud_region, cloud_service,
	tags_json, raw_json`

const insertEventSQL = `INSERT INTO events (tenant_id, ts, tenant, source, vendor, product,
	event_type, severity, action, src_ip, src_port, dst_ip, dst_port, protocol, user_name,
	host, process, url, rule_name, rule_id, cloud_account_id, cloud_region, cloud_service,
	tags_json, raw_json)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

func eventArgs(ev model.Event) []any {
	return []any{
		ev.TenantID,
		ev.Timestamp.UTC(),
		ev.TenantName,
		ev.Source,
		ev.Vendor,
		ev.Product,
		ev.EventType,
		nullableInt(ev.Severity),
		ev.Action,
		ev.SrcIP,
		nullableInt(ev.SrcPort),
		ev.DstIP,
		nullableInt(ev.DstPort),
		ev.Protocol,
		ev.User,
		ev.Host,
		ev.Process,
		ev.URL,
		ev.RuleName,
		ev.RuleID,
		ev.CloudAccountID,
		ev.CloudRegion,
		ev.CloudService,
		encodeJSON(ev.Tags),
		encodeJSON(ev.Raw),
	}
}

func (b *baseStore) InsertEvent(ctx context.Context, ev model.Event) (int64, error) {
	return b.insertEventTx(ctx, b.db, ev)
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (b *baseStore) insertEventTx(ctx context.Context, db execer, ev model.Event) (int64, error) {
	if ev.TenantID == 0 {
		return 0, errors.New("storage: event has no resolved tenant id")
	}
	args := eventArgs(ev)
	if b.returning {
		var id int64
		err := db.QueryRowContext(ctx, b.rebind(insertEventSQL)+" RETURNING id", args...).Scan(&id)
		return id, err
	}
	res, err := db.ExecContext(ctx, insertEventSQL, args...)
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (b *baseStore) ListEvents(ctx context.Context, filter EventFilter) ([]model.Event, error) {
	query := `SELECT ` + eventColumns + ` FROM events`
	where, args := buildEventWhere(filter)
	if where != "" {
		query += " WHERE " + where
	}
	query += " ORDER BY id ASC"
	rows, err := b.db.QueryContext(ctx, b.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.Event, 0)
	for rows.Next() {
		ev, err := scanEvent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

func buildEventWhere(filter EventFilter) (string, []any) {
	clauses := make([]string, 0, 4)
	args := make([]any, 0, 4)
	if filter.TenantName != "" {
		clauses = append(clauses, "tenant = ?")
		args = append(args, filter.TenantName)
	}
	if filter.Source != "" {
		clauses = append(clauses, "source = ?")
		args = append(args, filter.Source)
	}
	if filter.Start != nil {
		clauses = append(clauses, "ts >= ?")
		args = append(args, filter.Start.UTC())
	}
	if filter.End != nil {
		clauses = append(clauses, "ts <= ?")
		args = append(args, filter.End.UTC())
	}
	return strings.Join(clauses, " AND "), args
}

func (b *baseStore) DistinctTenantNames(ctx context.Context) ([]string, error) {
	rows, err := b.db.QueryContext(ctx,
		`SELECT DISTINCT tenant FROM events WHERE tenant <> '' ORDER BY tenant ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]string, 0)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, err
		}
		out = append(out, name)
	}
	return out, rows.Err()
}

// RegisterIdentity creates the admin or tenant identity row for a user.
// The external auth layer calls this when it provisions an account; the
// service itself only reads these rows.
func (b *baseStore) RegisterIdentity(ctx context.Context, role model.Role, name string, ownerUserID int64) (int64, error) {
	table := "tenants"
	if role == model.RoleAdmin {
		table = "admins"
	}
	query := `INSERT INTO ` + table + ` (user_id, name, ts) VALUES (?, ?, ?)`
	if b.returning {
		idCol := "tenant_id"
		if role == model.RoleAdmin {
			idCol = "admin_id"
		}
		var id int64
		err := b.db.QueryRowContext(ctx, b.rebind(query)+" RETURNING "+idCol,
			ownerUserID, name, time.Now().UTC()).Scan(&id)
		return id, err
	}
	res, err := b.db.ExecContext(ctx, query, ownerUserID, name, time.Now().UTC())
	if err != nil {
		return 0, err
	}
	return res.LastInsertId()
}

func (b *baseStore) TenantIDByName(ctx context.Context, name string) (int64, error) {
	return b.queryID(ctx, `SELECT tenant_id FROM tenants WHERE name = ?`, name)
}

func (b *baseStore) TenantNameForUser(ctx context.Context, userID int64) (string, error) {
	var name string
	err := b.db.QueryRowContext(ctx, b.rebind(`SELECT name FROM tenants WHERE user_id = ?`), userID).Scan(&name)
	if errors.Is(err, sql.ErrNoRows) {
		return "", ErrNotFound
	}
	return name, err
}

func (b *baseStore) AdminIDForUser(ctx context.Context, userID int64) (int64, error) {
	return b.queryID(ctx, `SELECT admin_id FROM admins WHERE user_id = ?`, userID)
}

func (b *baseStore) TenantIDForUser(ctx context.Context, userID int64) (int64, error) {
	return b.queryID(ctx, `SELECT tenant_id FROM tenants WHERE user_id = ?`, userID)
}

func (b *baseStore) queryID(ctx context.Context, query string, arg any) (int64, error) {
	var id int64
	err := b.db.QueryRowContext(ctx, b.rebind(query), arg).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, ErrNotFound
	}
	return id, err
}

// CreateAlert writes the synthetic event and the alert referencing it in
// one transaction: either both persist or neither does.
func (b *baseStore) CreateAlert(ctx context.Context, ev model.Event, alert model.Alert) (model.Alert, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return model.Alert{}, err
	}
	eventID, err := b.insertEventTx(ctx, tx, ev)
	if err != nil {
		_ = tx.Rollback()
		return model.Alert{}, err
	}
	alert.EventID = eventID
	if alert.Timestamp.IsZero() {
		alert.Timestamp = ev.Timestamp
	}
	query := `INSERT INTO alerts (user_id, event_id, message, ts) VALUES (?, ?, ?, ?)`
	if b.returning {
		err = tx.QueryRowContext(ctx, b.rebind(query)+" RETURNING alert_id",
			alert.UserID, alert.EventID, alert.Message, alert.Timestamp.UTC()).Scan(&alert.ID)
	} else {
		var res sql.Result
		res, err = tx.ExecContext(ctx, query,
			alert.UserID, alert.EventID, alert.Message, alert.Timestamp.UTC())
		if err == nil {
			alert.ID, err = res.LastInsertId()
		}
	}
	if err != nil {
		_ = tx.Rollback()
		return model.Alert{}, err
	}
	if err := tx.Commit(); err != nil {
		return model.Alert{}, err
	}
	return alert, nil
}

func (b *baseStore) ListAlerts(ctx context.Context, viewer model.Identity) ([]model.AlertRecord, error) {
	query := `SELECT a.alert_id, a.user_id, a.event_id, a.message, a.ts, ` +
		prefixColumns(eventColumns, "e.") +
		` FROM alerts a JOIN events e ON a.event_id = e.id`
	args := []any{}
	if !viewer.IsAdmin() {
		query += ` WHERE a.user_id = ?`
		args = append(args, viewer.UserID)
	}
	query += ` ORDER BY a.alert_id DESC`
	rows, err := b.db.QueryContext(ctx, b.rebind(query), args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := make([]model.AlertRecord, 0)
	for rows.Next() {
		rec, err := scanAlertRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (b *baseStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (PurgeResult, error) {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return PurgeResult{}, err
	}
	var result PurgeResult
	res, err := tx.ExecContext(ctx, b.rebind(`DELETE FROM alerts WHERE ts < ?`), cutoff.UTC())
	if err != nil {
		_ = tx.Rollback()
		return PurgeResult{}, err
	}
	result.AlertsDeleted, _ = res.RowsAffected()
	res, err = tx.ExecContext(ctx, b.rebind(`DELETE FROM events WHERE ts < ?`), cutoff.UTC())
	if err != nil {
		_ = tx.Rollback()
		return PurgeResult{}, err
	}
	result.EventsDeleted, _ = res.RowsAffected()
	return result, tx.Commit()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEvent(rows rowScanner) (model.Event, error) {
	var ev model.Event
	var severity, srcPort, dstPort sql.NullInt64
	var tagsJSON, rawJSON sql.NullString
	err := rows.Scan(
		&ev.ID, &ev.TenantID, &ev.Timestamp, &ev.TenantName, &ev.Source, &ev.Vendor,
		&ev.Product, &ev.EventType, &severity, &ev.Action, &ev.SrcIP, &srcPort,
		&ev.DstIP, &dstPort, &ev.Protocol, &ev.User, &ev.Host, &ev.Process, &ev.URL,
		&ev.RuleName, &ev.RuleID, &ev.CloudAccountID, &ev.CloudRegion, &ev.CloudService,
		&tagsJSON, &rawJSON,
	)
	if err != nil {
		return model.Event{}, err
	}
	ev.Timestamp = ev.Timestamp.UTC()
	ev.Severity = fromNullInt(severity)
	ev.SrcPort = fromNullInt(srcPort)
	ev.DstPort = fromNullInt(dstPort)
	if tagsJSON.Valid && tagsJSON.String != "" && tagsJSON.String != "null" {
		_ = json.Unmarshal([]byte(tagsJSON.String), &ev.Tags)
	}
	if rawJSON.Valid && rawJSON.String != "" && rawJSON.String != "null" {
		_ = json.Unmarshal([]byte(rawJSON.String), &ev.Raw)
	}
	return ev, nil
}

func scanAlertRecord(rows *sql.Rows) (model.AlertRecord, error) {
	var rec model.AlertRecord
	var severity, srcPort, dstPort sql.NullInt64
	var tagsJSON, rawJSON sql.NullString
	ev := &rec.Event
	err := rows.Scan(
		&rec.Alert.ID, &rec.Alert.UserID, &rec.Alert.EventID, &rec.Alert.Message, &rec.Alert.Timestamp,
		&ev.ID, &ev.TenantID, &ev.Timestamp, &ev.TenantName, &ev.Source, &ev.Vendor,
		&ev.Product, &ev.EventType, &severity, &ev.Action, &ev.SrcIP, &srcPort,
		&ev.DstIP, &dstPort, &ev.Protocol, &ev.User, &ev.Host, &ev.Process, &ev.URL,
		&ev.RuleName, &ev.RuleID, &ev.CloudAccountID, &ev.CloudRegion, &ev.CloudService,
		&tagsJSON, &rawJSON,
	)
	if err != nil {
		return model.AlertRecord{}, err
	}
	rec.Alert.Timestamp = rec.Alert.Timestamp.UTC()
	ev.Timestamp = ev.Timestamp.UTC()
	ev.Severity = fromNullInt(severity)
	ev.SrcPort = fromNullInt(srcPort)
	ev.DstPort = fromNullInt(dstPort)
	if tagsJSON.Valid && tagsJSON.String != "" && tagsJSON.String != "null" {
		_ = json.Unmarshal([]byte(tagsJSON.String), &ev.Tags)
	}
	if rawJSON.Valid && rawJSON.String != "" && rawJSON.String != "null" {
		_ = json.Unmarshal([]byte(rawJSON.String), &ev.Raw)
	}
	return rec, nil
}

func prefixColumns(columns, prefix string) string {
	parts := strings.Split(columns, ",")
	for i, p := range parts {
		parts[i] = prefix + strings.TrimSpace(p)
	}
	return strings.Join(parts, ", ")
}

func nullableInt(v *int) any {
	if v == nil {
		return nil
	}
	return *v
}

func fromNullInt(v sql.NullInt64) *int {
	if !v.Valid {
		return nil
	}
	i := int(v.Int64)
	return &i
}

func encodeJSON(value any) string {
	data, _ := json.Marshal(value)
	return string(data)
}
