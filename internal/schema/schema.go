// Package schema declares the closed set of source shapes the platform
// accepts and normalizes them onto the canonical event record. Adding a
// source means registering one new variant; existing ones never change.
package schema

import (
	"fmt"
	"strconv"
	"strings"

	"sentra/internal/model"
)

// RawEvent is one inbound payload as decoded from the wire.
type RawEvent map[string]any

// Schema is one tagged variant: its discriminator literal, the fields it
// must carry beyond the base contract, and the mapping of its own field
// names onto the canonical extension fields.
type Schema struct {
	Source   string
	Required []string
	Extract  func(raw RawEvent, ev *model.Event)
}

type Registry struct {
	schemas map[string]Schema
}

// NewRegistry returns a registry with every built-in source registered.
func NewRegistry() *Registry {
	r := &Registry{schemas: make(map[string]Schema)}
	for _, s := range builtinSchemas() {
		r.MustRegister(s)
	}
	return r
}

// MustRegister adds a variant keyed by its declared source literal.
// A duplicate or empty literal is a programming error, not runtime input.
func (r *Registry) MustRegister(s Schema) {
	if s.Source == "" {
		panic("schema: empty source literal")
	}
	if _, exists := r.schemas[s.Source]; exists {
		panic(fmt.Sprintf("schema: duplicate source %q", s.Source))
	}
	r.schemas[s.Source] = s
}

func (r *Registry) Sources() []string {
	out := make([]string, 0, len(r.schemas))
	for src := range r.schemas {
		out = append(out, src)
	}
	return out
}

// Normalize validates raw against the schema selected by its source
// discriminator and produces the canonical event. The match is exact and
// case-sensitive.
func (r *Registry) Normalize(raw RawEvent) (model.Event, error) {
	source := stringField(raw, "source")
	sc, ok := r.schemas[source]
	if !ok {
		return model.Event{}, &UnknownSourceError{Source: source}
	}

	tsValue := stringField(raw, "@timestamp")
	if tsValue == "" {
		tsValue = stringField(raw, "timestamp")
	}
	if tsValue == "" {
		return model.Event{}, &MissingFieldError{Source: source, Field: "@timestamp"}
	}
	ts, err := ParseTimestamp(tsValue)
	if err != nil {
		return model.Event{}, err
	}

	eventType := stringField(raw, "event_type")
	if eventType == "" {
		return model.Event{}, &MissingFieldError{Source: source, Field: "event_type"}
	}
	for _, field := range sc.Required {
		if stringField(raw, field) == "" {
			return model.Event{}, &MissingFieldError{Source: source, Field: field}
		}
	}

	ev := model.Event{
		Timestamp:  ts,
		TenantName: stringField(raw, "tenant"),
		Source:     source,
		EventType:  eventType,
		Severity:   intField(raw, "severity"),
		Action:     stringField(raw, "action"),
		Tags:       stringsField(raw, "tags"),
		Raw:        mapField(raw, "raw"),
	}
	sc.Extract(raw, &ev)
	return ev, nil
}

func builtinSchemas() []Schema {
	return []Schema{
		{
			Source:   "firewall",
			Required: []string{"source_ip", "dest_ip"},
			Extract: func(raw RawEvent, ev *model.Event) {
				ev.Vendor = stringField(raw, "vendor")
				ev.Product = stringField(raw, "product")
				ev.SrcIP = stringField(raw, "source_ip")
				ev.SrcPort = intField(raw, "source_port")
				ev.DstIP = stringField(raw, "dest_ip")
				ev.DstPort = intField(raw, "dest_port")
				ev.Protocol = stringField(raw, "protocol")
				ev.RuleName = stringField(raw, "policy")
				ev.RuleID = stringField(raw, "rule_id")
				ev.Host = stringField(raw, "host")
			},
		},
		{
			Source: "network",
			Extract: func(raw RawEvent, ev *model.Event) {
				ev.Host = stringField(raw, "host")
				ev.SrcIP = stringField(raw, "source_ip")
				ev.Protocol = stringField(raw, "protocol")
			},
		},
		{
			Source:   "api",
			Required: []string{"user", "ip"},
			Extract: func(raw RawEvent, ev *model.Event) {
				ev.User = stringField(raw, "user")
				ev.SrcIP = stringField(raw, "ip")
				ev.URL = stringField(raw, "url")
			},
		},
		{
			Source:   "m365",
			Required: []string{"user"},
			Extract: func(raw RawEvent, ev *model.Event) {
				ev.User = stringField(raw, "user")
				ev.SrcIP = stringField(raw, "ip")
			},
		},
		{
			Source:   "crowdstrike",
			Required: []string{"host", "process"},
			Extract: func(raw RawEvent, ev *model.Event) {
				ev.Host = stringField(raw, "host")
				ev.Process = stringField(raw, "process")
			},
		},
		{
			Source:   "aws",
			Required: []string{"user", "service", "account_id"},
			Extract: func(raw RawEvent, ev *model.Event) {
				ev.User = stringField(raw, "user")
				ev.CloudService = stringField(raw, "service")
				ev.CloudAccountID = stringField(raw, "account_id")
				ev.CloudRegion = stringField(raw, "region")
			},
		},
		{
			Source:   "ad",
			Required: []string{"user"},
			Extract: func(raw RawEvent, ev *model.Event) {
				ev.User = stringField(raw, "user")
				ev.Host = stringField(raw, "host")
				ev.SrcIP = stringField(raw, "ip")
			},
		},
	}
}

func stringField(raw RawEvent, key string) string {
	v, ok := raw[key]
	if !ok || v == nil {
		return ""
	}
	switch s := v.(type) {
	case string:
		return strings.TrimSpace(s)
	case fmt.Stringer:
		return strings.TrimSpace(s.String())
	default:
		return ""
	}
}

func intField(raw RawEvent, key string) *int {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil
	}
	switch n := v.(type) {
	case int:
		return &n
	case int64:
		i := int(n)
		return &i
	case float64:
		i := int(n)
		return &i
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(n)); err == nil {
			return &i
		}
	}
	return nil
}

func stringsField(raw RawEvent, key string) []string {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil
	}
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	}
	return nil
}

func mapField(raw RawEvent, key string) map[string]any {
	v, ok := raw[key]
	if !ok || v == nil {
		return nil
	}
	if m, ok := v.(map[string]any); ok {
		return m
	}
	return nil
}
