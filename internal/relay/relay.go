// Package relay moves committed outbox rows onto the message bus.
package relay

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/angelmondragon/prepmarket-backend/pkg/config"
	"github.com/angelmondragon/prepmarket-backend/pkg/db/models"
	"github.com/angelmondragon/prepmarket-backend/pkg/enums"
	"github.com/angelmondragon/prepmarket-backend/pkg/logger"
	"github.com/angelmondragon/prepmarket-backend/pkg/metrics"
	"github.com/angelmondragon/prepmarket-backend/pkg/outbox/registry"
)

const (
	defaultBatchSize      = 50
	defaultPollInterval   = 500 * time.Millisecond
	defaultMaxAttempts    = 10
	defaultPublishTimeout = 15 * time.Second
	maxBackoff            = 10 * time.Second
	jitterWindow          = 250 * time.Millisecond
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

type outboxStore interface {
	FetchUnpublishedForPublish(tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(tx *gorm.DB, id uuid.UUID) error
	MarkFailedTx(tx *gorm.DB, id uuid.UUID, err error) error
	MarkTerminalTx(tx *gorm.DB, id uuid.UUID, err error, terminalAttempts int) error
}

type deadLetters interface {
	InsertTx(tx *gorm.DB, entry models.OutboxDLQ) error
}

type resolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// Publisher delivers one message to a topic and returns the broker's id.
type Publisher interface {
	Publish(ctx context.Context, topic string, data []byte, attrs map[string]string) (string, error)
}

type Params struct {
	Transactions txRunner
	Store        outboxStore
	DeadLetters  deadLetters
	Registry     resolver
	Publisher    Publisher
	Metrics      *metrics.MarketplaceMetrics
	Outbox       config.OutboxConfig
	Logger       *logger.Logger
}

// Relay polls the outbox and publishes rows in commit order. Rows that can
// never be delivered go to the dead-letter table.
type Relay struct {
	tx          txRunner
	store       outboxStore
	dlq         deadLetters
	registry    resolver
	publisher   Publisher
	metrics     *metrics.MarketplaceMetrics
	logg        *logger.Logger
	batchSize   int
	maxAttempts int
	poll        time.Duration
	jitter      func(time.Duration) time.Duration
}

func New(params Params) (*Relay, error) {
	switch {
	case params.Transactions == nil:
		return nil, errors.New("transaction runner is required")
	case params.Store == nil:
		return nil, errors.New("outbox store is required")
	case params.DeadLetters == nil:
		return nil, errors.New("dead letter store is required")
	case params.Registry == nil:
		return nil, errors.New("event registry is required")
	case params.Publisher == nil:
		return nil, errors.New("publisher is required")
	}
	logg := params.Logger
	if logg == nil {
		logg = logger.Nop()
	}
	r := &Relay{
		tx:          params.Transactions,
		store:       params.Store,
		dlq:         params.DeadLetters,
		registry:    params.Registry,
		publisher:   params.Publisher,
		metrics:     params.Metrics,
		logg:        logg,
		batchSize:   params.Outbox.BatchSize,
		maxAttempts: params.Outbox.MaxAttempts,
		poll:        time.Duration(params.Outbox.PollIntervalMS) * time.Millisecond,
		jitter:      withJitter,
	}
	if r.batchSize <= 0 {
		r.batchSize = defaultBatchSize
	}
	if r.maxAttempts <= 0 {
		r.maxAttempts = defaultMaxAttempts
	}
	if r.poll <= 0 {
		r.poll = defaultPollInterval
	}
	return r, nil
}

// Run drains the outbox until ctx is cancelled. A full batch is followed
// immediately by another; an empty one waits a poll interval; a failed one
// backs off exponentially.
func (r *Relay) Run(ctx context.Context) error {
	backoff := r.poll
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		handled, err := r.Drain(ctx)
		wait := r.poll
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox relay batch failed", err)
			backoff = min(backoff*2, maxBackoff)
			wait = backoff
		case handled > 0:
			backoff = r.poll
			continue
		default:
			backoff = r.poll
		}

		timer := time.NewTimer(r.jitter(wait))
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}
	}
}

// Drain handles one batch inside a single transaction and reports how many
// rows it touched.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	handled := 0
	err := r.tx.WithTx(ctx, func(tx *gorm.DB) error {
		events, err := r.store.FetchUnpublishedForPublish(tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("fetch outbox batch: %w", err)
		}
		for _, event := range events {
			if err := r.handle(ctx, tx, event); err != nil {
				return err
			}
			handled++
		}
		return nil
	})
	return handled, err
}

// handle publishes one row and records the outcome. Only bookkeeping
// failures are returned; publish failures are recorded on the row.
func (r *Relay) handle(ctx context.Context, tx *gorm.DB, event models.OutboxEvent) error {
	logCtx := r.logg.WithFields(ctx, map[string]any{
		"outbox_id":      event.ID.String(),
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"attempt_count":  event.AttemptCount,
	})

	resolved, err := r.registry.Resolve(event)
	if err != nil {
		return r.deadLetter(logCtx, tx, event, enums.OutboxDLQReasonNonRetryable, err)
	}

	topic := resolved.Descriptor.Topic
	logCtx = r.logg.WithFields(logCtx, map[string]any{"topic": topic, "event_id": resolved.Envelope.EventID})
	if err := r.publish(ctx, topic, event, resolved); err != nil {
		var nonRetry registry.NonRetryableError
		if errors.As(err, &nonRetry) {
			return r.deadLetter(logCtx, tx, event, enums.OutboxDLQReasonNonRetryable, err)
		}
		if event.AttemptCount+1 >= r.maxAttempts {
			return r.deadLetter(logCtx, tx, event, enums.OutboxDLQReasonMaxAttempts,
				fmt.Errorf("max publish attempts reached: %w", err))
		}
		r.logg.Warn(r.logg.WithField(logCtx, "error", err.Error()), "outbox publish failed; will retry")
		r.metrics.IncOutbox("retry")
		if err := r.store.MarkFailedTx(tx, event.ID, err); err != nil {
			return fmt.Errorf("mark failure %s: %w", event.ID, err)
		}
		return nil
	}

	if err := r.store.MarkPublishedTx(tx, event.ID); err != nil {
		return fmt.Errorf("mark published %s: %w", event.ID, err)
	}
	r.metrics.IncOutbox("published")
	r.logg.Info(logCtx, "outbox event published")
	return nil
}

func (r *Relay) publish(ctx context.Context, topic string, event models.OutboxEvent, resolved *registry.ResolvedEvent) error {
	attrs := map[string]string{
		"event_id":       resolved.Envelope.EventID,
		"event_type":     string(event.EventType),
		"aggregate_type": string(event.AggregateType),
		"aggregate_id":   event.AggregateID.String(),
		"created_at":     event.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
	publishCtx, cancel := context.WithTimeout(ctx, defaultPublishTimeout)
	defer cancel()
	_, err := r.publisher.Publish(publishCtx, topic, event.Payload, attrs)
	return err
}

func (r *Relay) deadLetter(ctx context.Context, tx *gorm.DB, event models.OutboxEvent, reason enums.OutboxDLQErrorReason, cause error) error {
	r.logg.Warn(r.logg.WithFields(ctx, map[string]any{
		"error_reason": string(reason),
		"error":        cause.Error(),
	}), "outbox event moved to dead letters")

	msg := cause.Error()
	entry := models.OutboxDLQ{
		EventID:       event.ID,
		EventType:     event.EventType,
		AggregateType: event.AggregateType,
		AggregateID:   event.AggregateID,
		Payload:       event.Payload,
		ErrorReason:   reason,
		ErrorMessage:  &msg,
		AttemptCount:  event.AttemptCount,
		FailedAt:      time.Now().UTC(),
	}
	if err := r.dlq.InsertTx(tx, entry); err != nil {
		return fmt.Errorf("insert dlq %s: %w", event.ID, err)
	}
	if err := r.store.MarkTerminalTx(tx, event.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("mark terminal %s: %w", event.ID, err)
	}
	r.metrics.IncOutbox("dead_letter")
	return nil
}

func withJitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	return d + time.Duration(rand.Int63n(int64(jitterWindow)))
}
