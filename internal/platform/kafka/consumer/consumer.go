// Package consumer runs an at-least-once consumer group loop: offsets are
// committed only for records the handler accepted, and a partition is rewound
// to the failing record when the handler reports a retryable error.
package consumer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

// Message is the transport-neutral view of one consumed record.
type Message struct {
	Topic     string
	Partition int32
	Offset    int64
	Key       []byte
	Value     []byte
	Timestamp time.Time
}

// Handler processes one message. Returning an error that the consumer's
// retry classifier accepts causes redelivery; any other error is logged and
// the record is committed.
type Handler interface {
	Handle(ctx context.Context, msg *Message) error
}

// HandlerFunc adapts a function to Handler.
type HandlerFunc func(ctx context.Context, msg *Message) error

func (f HandlerFunc) Handle(ctx context.Context, msg *Message) error { return f(ctx, msg) }

// Config identifies the consumer group and its subscription.
type Config struct {
	Brokers []string
	Group   string
	Topics  []string
	// Backoff is the pause after a rewind before polling again.
	Backoff time.Duration
}

// Consumer owns a franz-go group client.
type Consumer struct {
	client    *kgo.Client
	handler   Handler
	logger    *slog.Logger
	retryable func(error) bool
	backoff   time.Duration
}

// Option configures a Consumer.
type Option func(*Consumer)

// WithRetryable sets the classifier deciding which handler errors rewind the
// partition. The default treats every error as retryable.
func WithRetryable(fn func(error) bool) Option {
	return func(c *Consumer) {
		if fn != nil {
			c.retryable = fn
		}
	}
}

// New creates a group consumer. Auto-commit is disabled; the loop commits.
func New(cfg Config, handler Handler, logger *slog.Logger, opts ...Option) (*Consumer, error) {
	if len(cfg.Brokers) == 0 || cfg.Group == "" || len(cfg.Topics) == 0 {
		return nil, errors.New("kafka consumer requires brokers, group and topics")
	}
	client, err := kgo.NewClient(
		kgo.SeedBrokers(cfg.Brokers...),
		kgo.ConsumerGroup(cfg.Group),
		kgo.ConsumeTopics(cfg.Topics...),
		kgo.DisableAutoCommit(),
		kgo.BlockRebalanceOnPoll(),
		kgo.ConsumeResetOffset(kgo.NewOffset().AtStart()),
	)
	if err != nil {
		return nil, fmt.Errorf("create kafka consumer: %w", err)
	}
	c := &Consumer{
		client:    client,
		handler:   handler,
		logger:    logger,
		retryable: func(error) bool { return true },
		backoff:   cfg.Backoff,
	}
	if c.backoff <= 0 {
		c.backoff = 2 * time.Second
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run polls until ctx is cancelled or the client is closed.
func (c *Consumer) Run(ctx context.Context) error {
	defer c.client.Close()
	for {
		fetches := c.client.PollFetches(ctx)
		if fetches.IsClientClosed() || ctx.Err() != nil {
			return nil
		}
		fetches.EachError(func(topic string, partition int32, err error) {
			c.logger.WarnContext(ctx, "kafka fetch error",
				"topic", topic,
				"partition", partition,
				"error", err,
			)
		})

		result := c.process(ctx, fetches)

		if len(result.commit) > 0 {
			if err := c.client.CommitRecords(ctx, result.commit...); err != nil && ctx.Err() == nil {
				c.logger.ErrorContext(ctx, "kafka commit failed", "error", err)
			}
		}
		if len(result.rewind) > 0 {
			c.client.SetOffsets(result.rewind)
		}
		c.client.AllowRebalance()

		if len(result.rewind) > 0 {
			select {
			case <-ctx.Done():
				return nil
			case <-time.After(c.backoff):
			}
		}
	}
}

type pollResult struct {
	commit []*kgo.Record
	rewind map[string]map[int32]kgo.EpochOffset
}

// process hands each record to the handler in partition order. The first
// retryable failure on a partition stops that partition and records the
// offset to resume from; later records on it are left for redelivery.
func (c *Consumer) process(ctx context.Context, fetches kgo.Fetches) pollResult {
	var res pollResult
	fetches.EachPartition(func(p kgo.FetchTopicPartition) {
		for _, rec := range p.Records {
			msg := &Message{
				Topic:     rec.Topic,
				Partition: rec.Partition,
				Offset:    rec.Offset,
				Key:       rec.Key,
				Value:     rec.Value,
				Timestamp: rec.Timestamp,
			}
			err := c.handler.Handle(ctx, msg)
			if err == nil {
				res.commit = append(res.commit, rec)
				continue
			}
			if c.retryable(err) {
				c.logger.WarnContext(ctx, "kafka handler failed, rewinding partition",
					"topic", rec.Topic,
					"partition", rec.Partition,
					"offset", rec.Offset,
					"error", err,
				)
				if res.rewind == nil {
					res.rewind = make(map[string]map[int32]kgo.EpochOffset)
				}
				if res.rewind[rec.Topic] == nil {
					res.rewind[rec.Topic] = make(map[int32]kgo.EpochOffset)
				}
				res.rewind[rec.Topic][rec.Partition] = kgo.EpochOffset{Epoch: rec.LeaderEpoch, Offset: rec.Offset}
				return
			}
			c.logger.ErrorContext(ctx, "kafka handler failed permanently, skipping record",
				"topic", rec.Topic,
				"partition", rec.Partition,
				"offset", rec.Offset,
				"error", err,
			)
			res.commit = append(res.commit, rec)
		}
	})
	return res
}
