// Package alerting converts brute-force detector trips into persisted
// alert records and serves role-scoped alert listings.
package alerting

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"sentra/internal/model"
)

// AttributionError means the subject's role-to-identity mapping is
// missing. It is surfaced, never swallowed: an alert that cannot be
// attributed is a correctness gap.
type AttributionError struct {
	UserID int64
	Role   model.Role
	Err    error
}

func (e *AttributionError) Error() string {
	return fmt.Sprintf("cannot attribute alert for %s user %d: %v", e.Role, e.UserID, e.Err)
}

func (e *AttributionError) Unwrap() error { return e.Err }

type Store interface {
	CreateAlert(ctx context.Context, ev model.Event, alert model.Alert) (model.Alert, error)
	ListAlerts(ctx context.Context, viewer model.Identity) ([]model.AlertRecord, error)
	AdminIDForUser(ctx context.Context, userID int64) (int64, error)
	TenantIDForUser(ctx context.Context, userID int64) (int64, error)
}

type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, logger *slog.Logger) *Service {
	return &Service{
		store:  store,
		logger: logger,
		now:    func() time.Time { return time.Now().UTC() },
	}
}

// RaiseBruteForce writes the synthetic security event and the alert
// referencing it in one transaction. The subject's tenant-scoping id is
// resolved by role; a missing mapping fails the whole creation.
func (s *Service) RaiseBruteForce(ctx context.Context, ip string, subject model.Identity) (model.Alert, error) {
	var scopeID int64
	var err error
	if subject.IsAdmin() {
		scopeID, err = s.store.AdminIDForUser(ctx, subject.UserID)
	} else {
		scopeID, err = s.store.TenantIDForUser(ctx, subject.UserID)
	}
	if err != nil {
		return model.Alert{}, &AttributionError{UserID: subject.UserID, Role: subject.Role, Err: err}
	}

	severity := 5
	now := s.now()
	ev := model.Event{
		TenantID:   scopeID,
		Timestamp:  now,
		TenantName: subject.Username,
		Source:     "security",
		EventType:  "alert",
		Severity:   &severity,
		Action:     "blocked",
		Tags:       []string{"brute_force", "login_failure"},
		SrcIP:      ip,
		Host:       "system",
	}
	alert := model.Alert{
		UserID:    subject.UserID,
		Message:   fmt.Sprintf("Multiple failed login attempts from IP %s for user %s", ip, subject.Username),
		Timestamp: now,
	}
	created, err := s.store.CreateAlert(ctx, ev, alert)
	if err != nil {
		return model.Alert{}, err
	}
	if s.logger != nil {
		s.logger.Warn("brute force alert raised",
			"ip", ip,
			"user", subject.Username,
			"role", subject.Role,
			"alert_id", created.ID,
		)
	}
	return created, nil
}

type AlertView struct {
	AlertID    int64        `json:"alert_id"`
	UserID     int64        `json:"user_id"`
	Alert      string       `json:"alert"`
	OccurredAt string       `json:"occurred_at"`
	Log        *model.Event `json:"log"`
}

type Listing struct {
	User        string      `json:"user"`
	Role        model.Role  `json:"role"`
	TotalAlerts int         `json:"total_alerts"`
	Alerts      []AlertView `json:"alerts"`
}

// List returns alerts newest first; admins see all, tenants only their
// own.
func (s *Service) List(ctx context.Context, viewer model.Identity) (Listing, error) {
	records, err := s.store.ListAlerts(ctx, viewer)
	if err != nil {
		return Listing{}, err
	}
	views := make([]AlertView, 0, len(records))
	for _, rec := range records {
		ev := rec.Event
		views = append(views, AlertView{
			AlertID:    rec.Alert.ID,
			UserID:     rec.Alert.UserID,
			Alert:      rec.Alert.Message,
			OccurredAt: model.FormatTime(ev.Timestamp),
			Log:        &ev,
		})
	}
	return Listing{
		User:        viewer.Username,
		Role:        viewer.Role,
		TotalAlerts: len(views),
		Alerts:      views,
	}, nil
}
