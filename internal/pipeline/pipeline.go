// Package pipeline turns batches of raw source payloads into persisted
// canonical events, isolating failures per item.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"sentra/internal/metrics"
	"sentra/internal/model"
	"sentra/internal/schema"
)

type EventWriter interface {
	InsertEvent(ctx context.Context, ev model.Event) (int64, error)
}

type TenantResolver interface {
	ResolveID(ctx context.Context, name string) (int64, error)
}

type Summary struct {
	BatchID   string `json:"batch_id"`
	Processed int    `json:"processed"`
	Saved     int    `json:"saved"`
	Failed    int    `json:"failed"`
}

type Pipeline struct {
	registry *schema.Registry
	tenants  TenantResolver
	events   EventWriter
	stats    *metrics.Store
	logger   *slog.Logger
	maxBatch int
}

func New(registry *schema.Registry, tenants TenantResolver, events EventWriter, stats *metrics.Store, logger *slog.Logger, maxBatch int) *Pipeline {
	if maxBatch <= 0 {
		maxBatch = 1000
	}
	return &Pipeline{
		registry: registry,
		tenants:  tenants,
		events:   events,
		stats:    stats,
		logger:   logger,
		maxBatch: maxBatch,
	}
}

// Ingest processes the batch in order. One item failing to normalize,
// resolve its tenant, or persist never aborts the rest; the summary always
// comes back with processed, saved, and failed counts.
func (p *Pipeline) Ingest(ctx context.Context, batch []schema.RawEvent) (Summary, error) {
	if len(batch) > p.maxBatch {
		return Summary{}, fmt.Errorf("batch of %d exceeds limit %d", len(batch), p.maxBatch)
	}
	summary := Summary{BatchID: uuid.NewString(), Processed: len(batch)}
	for _, raw := range batch {
		if err := p.ingestOne(ctx, raw); err != nil {
			summary.Failed++
			continue
		}
		summary.Saved++
	}
	if p.logger != nil {
		p.logger.Info("batch ingested",
			"batch_id", summary.BatchID,
			"processed", summary.Processed,
			"saved", summary.Saved,
			"failed", summary.Failed,
		)
	}
	return summary, nil
}

func (p *Pipeline) ingestOne(ctx context.Context, raw schema.RawEvent) error {
	ev, err := p.registry.Normalize(raw)
	if err != nil {
		p.record(ev.Source, false)
		if p.logger != nil {
			p.logger.Warn("normalize failed", "err", err)
		}
		return err
	}
	tenantID, err := p.tenants.ResolveID(ctx, ev.TenantName)
	if err != nil {
		p.record(ev.Source, false)
		if p.logger != nil {
			p.logger.Warn("tenant unresolved, skipping event",
				"tenant", ev.TenantName, "source", ev.Source)
		}
		return err
	}
	ev.TenantID = tenantID
	if _, err := p.events.InsertEvent(ctx, ev); err != nil {
		p.record(ev.Source, false)
		if p.logger != nil {
			p.logger.Error("persist failed", "source", ev.Source, "err", err)
		}
		return err
	}
	p.record(ev.Source, true)
	return nil
}

func (p *Pipeline) record(source string, saved bool) {
	if p.stats != nil {
		p.stats.Record(source, saved)
	}
}
