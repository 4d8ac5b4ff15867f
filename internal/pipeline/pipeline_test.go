package pipeline

import (
	"context"
	"errors"
	"testing"

	"github.com/segmentio/kafka-go"

	"sentra/internal/metrics"
	"sentra/internal/model"
	"sentra/internal/schema"
)

type fakeWriter struct {
	events  []model.Event
	failOn  string
	nextID  int64
	lastErr error
}

func (w *fakeWriter) InsertEvent(_ context.Context, ev model.Event) (int64, error) {
	if w.failOn != "" && ev.EventType == w.failOn {
		w.lastErr = errors.New("disk full")
		return 0, w.lastErr
	}
	w.nextID++
	w.events = append(w.events, ev)
	return w.nextID, nil
}

type fakeResolver struct {
	ids map[string]int64
}

func (r *fakeResolver) ResolveID(_ context.Context, name string) (int64, error) {
	id, ok := r.ids[name]
	if !ok {
		return 0, errors.New("no such tenant")
	}
	return id, nil
}

func rawFirewall(tenant, eventType string) schema.RawEvent {
	return schema.RawEvent{
		"source":     "firewall",
		"@timestamp": "2025-08-20T15:31:00Z",
		"tenant":     tenant,
		"event_type": eventType,
		"source_ip":  "10.0.0.8",
		"dest_ip":    "192.168.1.1",
	}
}

func TestIngestBatchCounts(t *testing.T) {
	writer := &fakeWriter{}
	pipe := New(schema.NewRegistry(), &fakeResolver{ids: map[string]int64{"acme": 1}}, writer, metrics.NewStore(), nil, 0)

	summary, err := pipe.Ingest(context.Background(), []schema.RawEvent{
		rawFirewall("acme", "deny"),
		rawFirewall("acme", "allow"),
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if summary.Processed != 2 || summary.Saved != 2 || summary.Failed != 0 {
		t.Fatalf("summary = %+v", summary)
	}
	if summary.BatchID == "" {
		t.Fatalf("summary missing batch id")
	}
	if len(writer.events) != 2 || writer.events[0].TenantID != 1 {
		t.Fatalf("events not persisted with resolved tenant: %+v", writer.events)
	}
}

func TestIngestIsolatesFailures(t *testing.T) {
	writer := &fakeWriter{failOn: "flaky"}
	stats := metrics.NewStore()
	pipe := New(schema.NewRegistry(), &fakeResolver{ids: map[string]int64{"acme": 1}}, writer, stats, nil, 0)

	summary, err := pipe.Ingest(context.Background(), []schema.RawEvent{
		rawFirewall("acme", "deny"),
		{"source": "telepathy", "@timestamp": "2025-08-20T15:31:00Z", "event_type": "x"},
		rawFirewall("ghost-corp", "deny"),
		rawFirewall("acme", "flaky"),
		rawFirewall("acme", "allow"),
	})
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	if summary.Processed != 5 || summary.Saved != 2 || summary.Failed != 3 {
		t.Fatalf("summary = %+v", summary)
	}
	fw, ok := stats.Get("firewall")
	if !ok || fw.Saved != 2 || fw.Failed != 2 {
		t.Fatalf("firewall stats = %+v", fw)
	}
}

func TestIngestRejectsOversizedBatch(t *testing.T) {
	pipe := New(schema.NewRegistry(), &fakeResolver{}, &fakeWriter{}, nil, nil, 2)
	_, err := pipe.Ingest(context.Background(), []schema.RawEvent{
		rawFirewall("acme", "a"), rawFirewall("acme", "b"), rawFirewall("acme", "c"),
	})
	if err == nil {
		t.Fatalf("oversized batch should be rejected outright")
	}
}

type fakeTopicWriter struct {
	msgs []kafka.Message
	err  error
}

func (w *fakeTopicWriter) WriteMessages(_ context.Context, msgs ...kafka.Message) error {
	if w.err != nil {
		return w.err
	}
	w.msgs = append(w.msgs, msgs...)
	return nil
}

func TestDispatcherRoutesBySource(t *testing.T) {
	writer := &fakeTopicWriter{}
	d := NewDispatcherWith(writer, map[string]string{"aws": "raw.aws", "api": "raw.api"}, nil)

	payload := []byte(`{"source":"aws","event_type":"api_call","extra":1}`)
	topic, err := d.Route(context.Background(), payload)
	if err != nil {
		t.Fatalf("route: %v", err)
	}
	if topic != "raw.aws" {
		t.Fatalf("topic = %q, want raw.aws", topic)
	}
	if len(writer.msgs) != 1 {
		t.Fatalf("expected one message, got %d", len(writer.msgs))
	}
	msg := writer.msgs[0]
	if msg.Topic != "raw.aws" || string(msg.Key) != "aws" {
		t.Fatalf("message routing wrong: topic=%q key=%q", msg.Topic, msg.Key)
	}
	if string(msg.Value) != string(payload) {
		t.Fatalf("payload must be forwarded verbatim")
	}
}

func TestDispatcherUnknownSource(t *testing.T) {
	d := NewDispatcherWith(&fakeTopicWriter{}, map[string]string{"aws": "raw.aws"}, nil)
	_, err := d.Route(context.Background(), []byte(`{"source":"fax"}`))
	var unknown *schema.UnknownSourceError
	if !errors.As(err, &unknown) {
		t.Fatalf("expected UnknownSourceError, got %v", err)
	}
}

func TestDispatcherTransportError(t *testing.T) {
	d := NewDispatcherWith(&fakeTopicWriter{err: errors.New("broker down")}, map[string]string{"aws": "raw.aws"}, nil)
	if _, err := d.Route(context.Background(), []byte(`{"source":"aws"}`)); err == nil {
		t.Fatalf("transport failure should surface")
	}
}
