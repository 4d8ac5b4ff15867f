package model

import "time"

type Role string

const (
	RoleAdmin  Role = "admin"
	RoleTenant Role = "tenant"
)

// Identity is a viewer resolved at the boundary by the external auth layer.
// The role decides which identity table supplies the tenant-scoping id.
type Identity struct {
	UserID   int64  `json:"id"`
	Username string `json:"username"`
	Role     Role   `json:"role"`
}

func (i Identity) IsAdmin() bool { return i.Role == RoleAdmin }

// Event is the canonical record every source shape normalizes into.
// Immutable once stored; TenantID must be resolved before persistence.
type Event struct {
	ID             int64          `json:"id"`
	TenantID       int64          `json:"-"`
	Timestamp      time.Time      `json:"timestamp"`
	TenantName     string         `json:"tenant,omitempty"`
	Source         string         `json:"source"`
	Vendor         string         `json:"vendor,omitempty"`
	Product        string         `json:"product,omitempty"`
	EventType      string         `json:"event_type"`
	Severity       *int           `json:"severity,omitempty"`
	Action         string         `json:"action,omitempty"`
	SrcIP          string         `json:"src_ip,omitempty"`
	SrcPort        *int           `json:"src_port,omitempty"`
	DstIP          string         `json:"dst_ip,omitempty"`
	DstPort        *int           `json:"dst_port,omitempty"`
	Protocol       string         `json:"protocol,omitempty"`
	User           string         `json:"user,omitempty"`
	Host           string         `json:"host,omitempty"`
	Process        string         `json:"process,omitempty"`
	URL            string         `json:"url,omitempty"`
	RuleName       string         `json:"rule_name,omitempty"`
	RuleID         string         `json:"rule_id,omitempty"`
	CloudAccountID string         `json:"cloud_account_id,omitempty"`
	CloudRegion    string         `json:"cloud_region,omitempty"`
	CloudService   string         `json:"cloud_service,omitempty"`
	Tags           []string       `json:"tags,omitempty"`
	Raw            map[string]any `json:"raw,omitempty"`
}

// Tenant maps a display name to the stable id events are scoped by.
type Tenant struct {
	ID          int64     `json:"tenant_id"`
	Name        string    `json:"name"`
	OwnerUserID int64     `json:"user_id"`
	CreatedAt   time.Time `json:"created_at"`
}

// Alert references exactly one stored Event; both are written in the
// same transaction.
type Alert struct {
	ID        int64     `json:"alert_id"`
	UserID    int64     `json:"user_id"`
	EventID   int64     `json:"event_id"`
	Message   string    `json:"alert"`
	Timestamp time.Time `json:"timestamp"`
}

// AlertRecord is an alert joined with the event it references.
type AlertRecord struct {
	Alert Alert
	Event Event
}

const timeLayout = "2006-01-02T15:04:05Z"

// FormatTime renders a timestamp the way it crosses the API boundary:
// UTC ISO-8601 with a literal Z suffix.
func FormatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}
