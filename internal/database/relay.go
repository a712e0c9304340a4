package database

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/maltedev/catalog-ingest/internal/events"
	"github.com/redis/go-redis/v9"
)

// StreamWriter is the part of redis.Client the relay publishes through.
type StreamWriter interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
}

// OutboxSource hands out due events and records delivery outcomes.
type OutboxSource interface {
	Due(ctx context.Context, limit int) ([]*OutboxEvent, error)
	Ack(ctx context.Context, id uuid.UUID) error
	Nack(ctx context.Context, id uuid.UUID, cause error) (string, error)
}

// Relay delivers recorded product changes to the catalog stream.
type Relay struct {
	stream    StreamWriter
	outbox    OutboxSource
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	maxLen    int64
}

type RelayConfig struct {
	PollInterval time.Duration
	BatchSize    int
	// StreamMaxLen approximately caps the stream; 0 keeps every entry.
	StreamMaxLen int64
}

func NewRelay(outbox OutboxSource, stream StreamWriter, logger *slog.Logger, config RelayConfig) *Relay {
	if config.PollInterval <= 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}

	return &Relay{
		stream:    stream,
		outbox:    outbox,
		logger:    logger.With("component", "relay"),
		interval:  config.PollInterval,
		batchSize: config.BatchSize,
		maxLen:    config.StreamMaxLen,
	}
}

// Start drains the outbox, then sleeps for the poll interval, until ctx is
// cancelled.
func (r *Relay) Start(ctx context.Context) error {
	r.logger.Info("starting relay", "interval", r.interval, "batch_size", r.batchSize)

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			r.logger.Info("relay stopped")
			return ctx.Err()
		case <-timer.C:
		}

		delivered, err := r.drain(ctx)
		if err != nil {
			r.logger.Error("outbox drain failed", "delivered", delivered, "error", err)
		} else if delivered > 0 {
			r.logger.Debug("outbox drained", "delivered", delivered)
		}
		timer.Reset(r.interval)
	}
}

// drain delivers due events batch by batch. It stops after a short batch or
// a batch in which nothing could be delivered.
func (r *Relay) drain(ctx context.Context) (int, error) {
	delivered := 0
	for {
		if err := ctx.Err(); err != nil {
			return delivered, err
		}

		batch, err := r.outbox.Due(ctx, r.batchSize)
		if err != nil {
			return delivered, fmt.Errorf("failed to read outbox: %w", err)
		}

		progress := 0
		for _, event := range batch {
			if r.deliver(ctx, event) {
				progress++
			}
		}
		delivered += progress

		if len(batch) < r.batchSize || progress == 0 {
			return delivered, nil
		}
	}
}

// deliver publishes one event and acks or nacks it. It reports whether the
// event reached the stream and was acked.
func (r *Relay) deliver(ctx context.Context, event *OutboxEvent) bool {
	logger := r.logger.With("outbox_id", event.ID, "product_id", event.AggregateID)

	if err := r.publish(ctx, event); err != nil {
		status, nackErr := r.outbox.Nack(ctx, event.ID, err)
		switch {
		case nackErr != nil:
			logger.Error("failed to record delivery failure", "error", err, "nack_error", nackErr)
		case status == OutboxStatusDeadLetter:
			logger.Error("event moved to dead letter", "attempts", event.RetryCount+1, "error", err)
		default:
			logger.Warn("event delivery failed, will retry", "attempts", event.RetryCount+1, "error", err)
		}
		return false
	}

	if err := r.outbox.Ack(ctx, event.ID); err != nil {
		// published but not acked: the next drain publishes it again
		logger.Error("failed to ack event", "error", err)
		return false
	}

	logger.Debug("event delivered", "event_type", event.EventType, "stream", event.TargetStream)
	return true
}

func (r *Relay) publish(ctx context.Context, event *OutboxEvent) error {
	if event.AggregateType != events.AggregateProduct {
		return fmt.Errorf("unsupported aggregate type %q", event.AggregateType)
	}

	change, err := events.DecodeProductChanged(event.Payload)
	if err != nil {
		return err
	}

	fields, err := change.StreamEntry(event.ID.String(), event.RetryCount+1)
	if err != nil {
		return err
	}

	stream := event.TargetStream
	if stream == "" {
		stream = events.StreamCatalog
	}
	args := &redis.XAddArgs{Stream: stream, Values: fields}
	if r.maxLen > 0 {
		args.MaxLen = r.maxLen
		args.Approx = true
	}

	if err := r.stream.XAdd(ctx, args).Err(); err != nil {
		return fmt.Errorf("failed to publish to redis: %w", err)
	}
	return nil
}
