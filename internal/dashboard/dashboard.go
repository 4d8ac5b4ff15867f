// Package dashboard computes role-and-filter-scoped summaries over the
// event store: counts, top-N rankings, and an hourly timeline.
package dashboard

import (
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"sentra/internal/model"
	"sentra/internal/storage"
	"sentra/internal/tenant"
)

// InvalidTimeRangeError rejects a query whose end precedes its start,
// before anything is executed.
type InvalidTimeRangeError struct {
	Start time.Time
	End   time.Time
}

func (e *InvalidTimeRangeError) Error() string {
	return "end must be after start"
}

// AllSentinel means unfiltered; matched case-insensitively.
const AllSentinel = "all"

type Store interface {
	ListEvents(ctx context.Context, filter storage.EventFilter) ([]model.Event, error)
	DistinctTenantNames(ctx context.Context) ([]string, error)
	TenantNameForUser(ctx context.Context, userID int64) (string, error)
}

type Query struct {
	Tenant string
	Source string
	Start  *time.Time
	End    *time.Time
}

type Filters struct {
	Tenant string  `json:"tenant"`
	Source string  `json:"source"`
	Start  *string `json:"start"`
	End    *string `json:"end"`
}

type Summary struct {
	TotalEvents int `json:"total_events"`
	UniqueUsers int `json:"unique_users"`
	UniqueIPs   int `json:"unique_ips"`
	Errors      int `json:"errors"`
}

type Bucket struct {
	Bucket string `json:"bucket"`
	Count  int    `json:"count"`
}

type Ranked struct {
	Label string `json:"label"`
	Count int    `json:"count"`
}

type Top struct {
	IPAddresses []Ranked `json:"ip_addresses"`
	Users       []Ranked `json:"users"`
	EventTypes  []Ranked `json:"event_types"`
}

type Response struct {
	Filters  Filters       `json:"filters"`
	Summary  Summary       `json:"summary"`
	Timeline []Bucket      `json:"timeline"`
	Top      Top           `json:"top"`
	Logs     []model.Event `json:"logs"`
	Tenants  []string      `json:"tenants"`
}

type Service struct {
	store Store
	topN  int
}

func NewService(store Store, topN int) *Service {
	if topN <= 0 {
		topN = 5
	}
	return &Service{store: store, topN: topN}
}

// Build validates the query, scopes it to the viewer, and aggregates in a
// single pass over the query snapshot. A tenant-role viewer is always
// constrained to their own tenant; the requested tenant filter is
// accepted but overridden.
func (s *Service) Build(ctx context.Context, viewer model.Identity, q Query) (Response, error) {
	if q.Start != nil && q.End != nil && q.End.Before(*q.Start) {
		return Response{}, &InvalidTimeRangeError{Start: *q.Start, End: *q.End}
	}

	filter := storage.EventFilter{Start: q.Start, End: q.End}
	if viewer.IsAdmin() {
		if !isAll(q.Tenant) {
			filter.TenantName = q.Tenant
		}
	} else {
		name, err := s.store.TenantNameForUser(ctx, viewer.UserID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return Response{}, &tenant.NotFoundError{Name: viewer.Username}
			}
			return Response{}, err
		}
		filter.TenantName = name
	}
	if !isAll(q.Source) {
		filter.Source = q.Source
	}

	events, err := s.store.ListEvents(ctx, filter)
	if err != nil {
		return Response{}, err
	}

	summary := Summary{TotalEvents: len(events)}
	users := map[string]struct{}{}
	ips := map[string]struct{}{}
	ipCounts := newCounter()
	userCounts := newCounter()
	typeCounts := newCounter()
	timeline := map[string]int{}
	for _, ev := range events {
		if ev.User != "" {
			users[ev.User] = struct{}{}
			userCounts.add(ev.User)
		}
		if ev.SrcIP != "" {
			ips[ev.SrcIP] = struct{}{}
			ipCounts.add(ev.SrcIP)
		}
		if strings.EqualFold(ev.EventType, "error") {
			summary.Errors++
		}
		if ev.EventType != "" {
			typeCounts.add(ev.EventType)
		}
		bucket := model.FormatTime(ev.Timestamp.UTC().Truncate(time.Hour))
		timeline[bucket]++
	}
	summary.UniqueUsers = len(users)
	summary.UniqueIPs = len(ips)

	logs := make([]model.Event, len(events))
	copy(logs, events)
	sort.SliceStable(logs, func(i, j int) bool {
		return logs[i].Timestamp.After(logs[j].Timestamp)
	})

	resp := Response{
		Filters: Filters{
			Tenant: orAll(q.Tenant),
			Source: orAll(q.Source),
			Start:  formatOptional(q.Start),
			End:    formatOptional(q.End),
		},
		Summary:  summary,
		Timeline: sortTimeline(timeline),
		Top: Top{
			IPAddresses: ipCounts.top(s.topN),
			Users:       userCounts.top(s.topN),
			EventTypes:  typeCounts.top(s.topN),
		},
		Logs: logs,
	}

	if viewer.IsAdmin() {
		names, err := s.store.DistinctTenantNames(ctx)
		if err != nil {
			return Response{}, err
		}
		sort.Strings(names)
		resp.Tenants = names
	}
	return resp, nil
}

// counter tracks occurrence counts plus first-seen order so top-N ties
// break deterministically.
type counter struct {
	counts map[string]int
	order  []string
}

func newCounter() *counter {
	return &counter{counts: map[string]int{}}
}

func (c *counter) add(label string) {
	if _, seen := c.counts[label]; !seen {
		c.order = append(c.order, label)
	}
	c.counts[label]++
}

func (c *counter) top(n int) []Ranked {
	ranked := make([]Ranked, 0, len(c.order))
	for _, label := range c.order {
		ranked = append(ranked, Ranked{Label: label, Count: c.counts[label]})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		return ranked[i].Count > ranked[j].Count
	})
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

func sortTimeline(timeline map[string]int) []Bucket {
	out := make([]Bucket, 0, len(timeline))
	for bucket, count := range timeline {
		out = append(out, Bucket{Bucket: bucket, Count: count})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Bucket < out[j].Bucket })
	return out
}

func isAll(v string) bool {
	return v == "" || strings.EqualFold(v, AllSentinel)
}

func orAll(v string) string {
	if v == "" {
		return AllSentinel
	}
	return v
}

func formatOptional(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := model.FormatTime(*t)
	return &s
}
