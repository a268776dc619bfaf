package risk

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"aeroinsight/internal/platform/kafka/consumer"
	"aeroinsight/internal/report/models"
	dErrors "aeroinsight/pkg/domain-errors"
)

// Producer writes one keyed record.
type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// KafkaPublisher publishes report created events as JSON keyed by report id,
// so every event for a report lands on the same partition.
type KafkaPublisher struct {
	producer Producer
	topic    string
}

func NewKafkaPublisher(producer Producer, topic string) *KafkaPublisher {
	return &KafkaPublisher{producer: producer, topic: topic}
}

func (p *KafkaPublisher) PublishReportCreated(ctx context.Context, event models.ReportCreated) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode report created event: %w", err)
	}
	if err := p.producer.Publish(ctx, p.topic, []byte(event.ReportID), value); err != nil {
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "event bus unavailable")
	}
	return nil
}

// ConsumerHandler adapts an EventHandler to the Kafka consumer. Malformed
// records fail permanently; pair it with consumer.WithRetryable(Retryable).
func ConsumerHandler(handler EventHandler, logger *slog.Logger) consumer.Handler {
	return consumer.HandlerFunc(func(ctx context.Context, msg *consumer.Message) error {
		var event models.ReportCreated
		if err := json.Unmarshal(msg.Value, &event); err != nil || event.ReportID == "" {
			logger.ErrorContext(ctx, "malformed report created record",
				"topic", msg.Topic,
				"partition", msg.Partition,
				"offset", msg.Offset,
			)
			return dErrors.New(dErrors.CodeBadRequest, "malformed report created record")
		}
		return handler.Handle(ctx, event)
	})
}

// Retryable reports whether a handler error should rewind the partition.
func Retryable(err error) bool {
	return dErrors.Retryable(err)
}
