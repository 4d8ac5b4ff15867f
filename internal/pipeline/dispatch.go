package pipeline

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/segmentio/kafka-go"

	"sentra/internal/config"
	"sentra/internal/schema"
)

// TopicWriter is the slice of kafka.Writer the dispatcher needs.
type TopicWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
}

// Dispatcher forwards one raw payload at a time to the transport topic
// selected by its source tag. The payload is not validated here; that is
// the external collector's concern.
type Dispatcher struct {
	writer TopicWriter
	topics map[string]string
	logger *slog.Logger
}

func NewDispatcher(cfg config.DispatchConfig, logger *slog.Logger) *Dispatcher {
	writer := &kafka.Writer{
		Addr:     kafka.TCP(cfg.Brokers...),
		Balancer: &kafka.LeastBytes{},
	}
	return NewDispatcherWith(writer, cfg.Topics, logger)
}

func NewDispatcherWith(writer TopicWriter, topics map[string]string, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{writer: writer, topics: topics, logger: logger}
}

// Route reads the source discriminator and forwards the payload verbatim.
// An unmapped source fails with UnknownSourceError.
func (d *Dispatcher) Route(ctx context.Context, payload []byte) (string, error) {
	var probe struct {
		Source string `json:"source"`
	}
	if err := json.Unmarshal(payload, &probe); err != nil {
		return "", err
	}
	topic, ok := d.topics[probe.Source]
	if !ok {
		return "", &schema.UnknownSourceError{Source: probe.Source}
	}
	err := d.writer.WriteMessages(ctx, kafka.Message{
		Topic: topic,
		Key:   []byte(probe.Source),
		Value: payload,
	})
	if err != nil {
		return "", err
	}
	if d.logger != nil {
		d.logger.Info("payload routed", "source", probe.Source, "topic", topic)
	}
	return topic, nil
}

// Close releases the underlying transport if it is closable.
func (d *Dispatcher) Close() error {
	if c, ok := d.writer.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
