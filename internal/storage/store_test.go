package storage

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"sentra/internal/model"
)

func openTestStore(t *testing.T) Store {
	t.Helper()
	store, err := NewSQLite("file:" + filepath.Join(t.TempDir(), "sentra_test.db"))
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	if err := store.Init(context.Background()); err != nil {
		t.Fatalf("init: %v", err)
	}
	return store
}

func intPtr(v int) *int { return &v }

func sampleEvent(tenantID int64, tenantName string, offset time.Duration) model.Event {
	return model.Event{
		TenantID:   tenantID,
		Timestamp:  time.Date(2025, 8, 20, 15, 31, 0, 0, time.UTC).Add(offset),
		TenantName: tenantName,
		Source:     "firewall",
		EventType:  "deny",
		Severity:   intPtr(3),
		Action:     "drop",
		SrcIP:      "10.0.0.8",
		SrcPort:    intPtr(51515),
		DstIP:      "192.168.1.1",
		DstPort:    intPtr(443),
		Protocol:   "tcp",
		RuleName:   "deny-outbound",
		Tags:       []string{"edge", "blocked"},
		Raw:        map[string]any{"msg": "denied"},
	}
}

func TestInsertEventRoundTrip(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	want := sampleEvent(1, "acme", 0)
	id, err := store.InsertEvent(ctx, want)
	if err != nil {
		t.Fatalf("insert: %v", err)
	}
	if id == 0 {
		t.Fatalf("insert returned zero id")
	}

	events, err := store.ListEvents(ctx, EventFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 {
		t.Fatalf("got %d events, want 1", len(events))
	}
	got := events[0]
	if got.ID != id || got.TenantID != 1 || got.TenantName != "acme" {
		t.Fatalf("identity fields wrong: %+v", got)
	}
	if !got.Timestamp.Equal(want.Timestamp) {
		t.Fatalf("timestamp = %v, want %v", got.Timestamp, want.Timestamp)
	}
	if got.Severity == nil || *got.Severity != 3 || got.SrcPort == nil || *got.SrcPort != 51515 {
		t.Fatalf("nullable ints wrong: %+v", got)
	}
	if len(got.Tags) != 2 || got.Tags[1] != "blocked" {
		t.Fatalf("tags round-trip wrong: %v", got.Tags)
	}
	if got.Raw["msg"] != "denied" {
		t.Fatalf("raw round-trip wrong: %v", got.Raw)
	}
}

func TestInsertEventRequiresTenantID(t *testing.T) {
	store := openTestStore(t)
	ev := sampleEvent(0, "acme", 0)
	if _, err := store.InsertEvent(context.Background(), ev); err == nil {
		t.Fatalf("event without a resolved tenant id must be rejected")
	}
}

func TestListEventsFilters(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	mustInsert := func(ev model.Event) {
		t.Helper()
		if _, err := store.InsertEvent(ctx, ev); err != nil {
			t.Fatalf("insert: %v", err)
		}
	}
	acmeFW := sampleEvent(1, "acme", 0)
	mustInsert(acmeFW)
	acmeAPI := sampleEvent(1, "acme", time.Hour)
	acmeAPI.Source = "api"
	mustInsert(acmeAPI)
	mustInsert(sampleEvent(2, "globex", 2*time.Hour))

	byTenant, err := store.ListEvents(ctx, EventFilter{TenantName: "acme"})
	if err != nil {
		t.Fatalf("list by tenant: %v", err)
	}
	if len(byTenant) != 2 {
		t.Fatalf("tenant filter matched %d, want 2", len(byTenant))
	}

	bySource, err := store.ListEvents(ctx, EventFilter{TenantName: "acme", Source: "api"})
	if err != nil {
		t.Fatalf("list by source: %v", err)
	}
	if len(bySource) != 1 || bySource[0].Source != "api" {
		t.Fatalf("source filter wrong: %+v", bySource)
	}

	start := acmeAPI.Timestamp
	end := acmeAPI.Timestamp
	byRange, err := store.ListEvents(ctx, EventFilter{Start: &start, End: &end})
	if err != nil {
		t.Fatalf("list by range: %v", err)
	}
	if len(byRange) != 1 || byRange[0].Source != "api" {
		t.Fatalf("inclusive range filter wrong: %+v", byRange)
	}

	names, err := store.DistinctTenantNames(ctx)
	if err != nil {
		t.Fatalf("distinct tenants: %v", err)
	}
	if len(names) != 2 || names[0] != "acme" || names[1] != "globex" {
		t.Fatalf("distinct tenants = %v", names)
	}
}

func TestIdentityRegistrationAndLookup(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	tenantID, err := store.RegisterIdentity(ctx, model.RoleTenant, "acme", 9)
	if err != nil {
		t.Fatalf("register tenant: %v", err)
	}
	adminID, err := store.RegisterIdentity(ctx, model.RoleAdmin, "root", 1)
	if err != nil {
		t.Fatalf("register admin: %v", err)
	}

	if id, err := store.TenantIDByName(ctx, "acme"); err != nil || id != tenantID {
		t.Fatalf("TenantIDByName = %d, %v", id, err)
	}
	if name, err := store.TenantNameForUser(ctx, 9); err != nil || name != "acme" {
		t.Fatalf("TenantNameForUser = %q, %v", name, err)
	}
	if id, err := store.TenantIDForUser(ctx, 9); err != nil || id != tenantID {
		t.Fatalf("TenantIDForUser = %d, %v", id, err)
	}
	if id, err := store.AdminIDForUser(ctx, 1); err != nil || id != adminID {
		t.Fatalf("AdminIDForUser = %d, %v", id, err)
	}

	if _, err := store.TenantIDByName(ctx, "ghost"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing tenant should be ErrNotFound, got %v", err)
	}
	if _, err := store.AdminIDForUser(ctx, 404); !errors.Is(err, ErrNotFound) {
		t.Fatalf("missing admin should be ErrNotFound, got %v", err)
	}
}

func TestCreateAlertLinksEvent(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	ev := sampleEvent(1, "acme", 0)
	ev.Source = "security"
	ev.EventType = "alert"
	alert, err := store.CreateAlert(ctx, ev, model.Alert{
		UserID:    9,
		Message:   "Multiple failed login attempts from IP 203.0.113.5 for user acme",
		Timestamp: ev.Timestamp,
	})
	if err != nil {
		t.Fatalf("create alert: %v", err)
	}
	if alert.ID == 0 || alert.EventID == 0 {
		t.Fatalf("created alert missing ids: %+v", alert)
	}

	events, err := store.ListEvents(ctx, EventFilter{})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 1 || events[0].ID != alert.EventID {
		t.Fatalf("alert should reference the event written with it: %+v", events)
	}
}

func TestCreateAlertAtomic(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	// An event with no tenant id fails inside the transaction; the alert
	// must not be written either.
	_, err := store.CreateAlert(ctx, sampleEvent(0, "acme", 0), model.Alert{UserID: 9, Message: "x"})
	if err == nil {
		t.Fatalf("expected creation to fail")
	}
	records, err := store.ListAlerts(ctx, model.Identity{UserID: 1, Role: model.RoleAdmin})
	if err != nil {
		t.Fatalf("list alerts: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("failed creation leaked %d alert rows", len(records))
	}
	events, err := store.ListEvents(ctx, EventFilter{})
	if err != nil {
		t.Fatalf("list events: %v", err)
	}
	if len(events) != 0 {
		t.Fatalf("failed creation leaked %d event rows", len(events))
	}
}

func TestListAlertsScopingAndOrder(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2025, 8, 20, 15, 31, 0, 0, time.UTC)
	for i, userID := range []int64{9, 10, 9} {
		ev := sampleEvent(1, "acme", time.Duration(i)*time.Minute)
		_, err := store.CreateAlert(ctx, ev, model.Alert{
			UserID:    userID,
			Message:   "alert",
			Timestamp: base.Add(time.Duration(i) * time.Minute),
		})
		if err != nil {
			t.Fatalf("create alert: %v", err)
		}
	}

	all, err := store.ListAlerts(ctx, model.Identity{UserID: 1, Role: model.RoleAdmin})
	if err != nil {
		t.Fatalf("list as admin: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("admin sees %d alerts, want 3", len(all))
	}
	if all[0].Alert.ID < all[1].Alert.ID || all[1].Alert.ID < all[2].Alert.ID {
		t.Fatalf("alerts must come back newest first: %+v", all)
	}
	if all[0].Event.ID != all[0].Alert.EventID {
		t.Fatalf("joined event mismatch: %+v", all[0])
	}

	mine, err := store.ListAlerts(ctx, model.Identity{UserID: 9, Role: model.RoleTenant})
	if err != nil {
		t.Fatalf("list as tenant: %v", err)
	}
	if len(mine) != 2 {
		t.Fatalf("tenant viewer sees %d alerts, want 2", len(mine))
	}
	for _, rec := range mine {
		if rec.Alert.UserID != 9 {
			t.Fatalf("foreign alert leaked: %+v", rec.Alert)
		}
	}
}

func TestPurgeOlderThan(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	old := sampleEvent(1, "acme", -10*24*time.Hour)
	if _, err := store.InsertEvent(ctx, old); err != nil {
		t.Fatalf("insert old: %v", err)
	}
	if _, err := store.CreateAlert(ctx, sampleEvent(1, "acme", -9*24*time.Hour), model.Alert{
		UserID: 9, Message: "stale", Timestamp: old.Timestamp,
	}); err != nil {
		t.Fatalf("create old alert: %v", err)
	}
	fresh := sampleEvent(1, "acme", 0)
	if _, err := store.InsertEvent(ctx, fresh); err != nil {
		t.Fatalf("insert fresh: %v", err)
	}

	cutoff := fresh.Timestamp.Add(-7 * 24 * time.Hour)
	result, err := store.PurgeOlderThan(ctx, cutoff)
	if err != nil {
		t.Fatalf("purge: %v", err)
	}
	if result.EventsDeleted != 2 || result.AlertsDeleted != 1 {
		t.Fatalf("purge result = %+v", result)
	}

	events, err := store.ListEvents(ctx, EventFilter{})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(events) != 1 || !events[0].Timestamp.Equal(fresh.Timestamp) {
		t.Fatalf("only the fresh event should survive: %+v", events)
	}
}
