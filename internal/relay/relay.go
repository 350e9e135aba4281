// Package relay moves committed outbox rows onto Pub/Sub. Each batch is
// claimed inside a transaction with SKIP LOCKED, so any number of relay
// processes can run against the same table.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub/v2"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/parkez/parkez-backend/pkg/config"
	"github.com/parkez/parkez-backend/pkg/db/models"
	"github.com/parkez/parkez-backend/pkg/logger"
	"github.com/parkez/parkez-backend/pkg/metrics"
	"github.com/parkez/parkez-backend/pkg/outbox/registry"
)

const (
	fallbackBatchSize   = 50
	fallbackPoll        = 500 * time.Millisecond
	fallbackMaxAttempts = 10
	publishTimeout      = 15 * time.Second
	backoffCeiling      = 10 * time.Second
	pollJitter          = 250 * time.Millisecond
)

type txRunner interface {
	WithTx(context.Context, func(tx *gorm.DB) error) error
}

type rowStore interface {
	FetchForPublish(ctx context.Context, tx *gorm.DB, limit, maxAttempts int) ([]models.OutboxEvent, error)
	MarkPublishedTx(ctx context.Context, tx *gorm.DB, id uuid.UUID, at time.Time) error
	MarkFailedTx(ctx context.Context, tx *gorm.DB, id uuid.UUID, cause error) error
	MarkTerminalTx(ctx context.Context, tx *gorm.DB, id uuid.UUID, cause error, attempts int) error
}

type resolver interface {
	Resolve(models.OutboxEvent) (*registry.ResolvedEvent, error)
}

// Publisher sends to one topic. Messages sharing an ordering key are
// delivered in publish order; after a failure the key stays paused until
// ResumePublish is called.
type Publisher interface {
	Publish(ctx context.Context, msg *pubsub.Message) Result
	ResumePublish(orderingKey string)
}

type Result interface {
	Get(ctx context.Context) (string, error)
}

// Topics hands out a publisher per topic, or nil when none is configured.
type Topics func(topic string) Publisher

type Params struct {
	Outbox   config.OutboxConfig
	Logger   *logger.Logger
	DB       txRunner
	Rows     rowStore
	Registry resolver
	Topics   Topics
	Metrics  *metrics.RelayMetrics
	// Ready is checked once before the loop starts.
	Ready map[string]func(context.Context) error
	Now   func() time.Time
}

type Relay struct {
	logg        *logger.Logger
	db          txRunner
	rows        rowStore
	registry    resolver
	topics      Topics
	metrics     *metrics.RelayMetrics
	ready       map[string]func(context.Context) error
	now         func() time.Time
	batchSize   int
	maxAttempts int
	poll        time.Duration
}

func New(p Params) (*Relay, error) {
	switch {
	case p.Logger == nil:
		return nil, errors.New("relay: logger is required")
	case p.DB == nil:
		return nil, errors.New("relay: database is required")
	case p.Rows == nil:
		return nil, errors.New("relay: outbox repository is required")
	case p.Registry == nil:
		return nil, errors.New("relay: event registry is required")
	case p.Topics == nil:
		return nil, errors.New("relay: topic publishers are required")
	}
	if p.Now == nil {
		p.Now = time.Now
	}
	return &Relay{
		logg:        p.Logger,
		db:          p.DB,
		rows:        p.Rows,
		registry:    p.Registry,
		topics:      p.Topics,
		metrics:     p.Metrics,
		ready:       p.Ready,
		now:         p.Now,
		batchSize:   positiveOr(p.Outbox.BatchSize, fallbackBatchSize),
		maxAttempts: positiveOr(p.Outbox.MaxAttempts, fallbackMaxAttempts),
		poll:        time.Duration(positiveOr(p.Outbox.PollIntervalMS, int(fallbackPoll/time.Millisecond))) * time.Millisecond,
	}, nil
}

// Run relays until ctx ends. A full batch is followed immediately by the
// next one; an empty poll waits one interval; a failed batch backs off.
func (r *Relay) Run(ctx context.Context) error {
	for name, check := range r.ready {
		if err := check(ctx); err != nil {
			return fmt.Errorf("%s not ready: %w", name, err)
		}
	}

	wait := newBackoff(r.poll, backoffCeiling, pollJitter)
	for {
		if err := ctx.Err(); err != nil {
			r.logg.Info(ctx, "outbox relay stopping")
			return err
		}

		claimed, err := r.Drain(ctx)
		var delay time.Duration
		switch {
		case err != nil:
			r.logg.Error(ctx, "outbox relay batch failed", err)
			delay = wait.fail()
		case claimed == 0:
			delay = wait.idle()
		default:
			wait.reset()
			continue
		}
		if err := sleep(ctx, delay); err != nil {
			return err
		}
	}
}

// pending is a row whose message has been handed to Pub/Sub but not yet acknowledged.
type pending struct {
	row    models.OutboxEvent
	topic  string
	key    string
	pub    Publisher
	result Result
}

// Drain claims one batch, publishes every row concurrently and records each
// outcome in the same transaction. It returns how many rows were claimed.
func (r *Relay) Drain(ctx context.Context) (int, error) {
	claimed := 0
	err := r.db.WithTx(ctx, func(tx *gorm.DB) error {
		rows, err := r.rows.FetchForPublish(ctx, tx, r.batchSize, r.maxAttempts)
		if err != nil {
			return fmt.Errorf("claim outbox rows: %w", err)
		}
		claimed = len(rows)
		r.metrics.ObserveBatch(claimed)

		sendCtx, cancel := context.WithTimeout(ctx, publishTimeout)
		defer cancel()

		inflight := make([]pending, 0, len(rows))
		for _, row := range rows {
			p, err := r.send(sendCtx, row)
			if err != nil {
				if err := r.park(ctx, tx, row, err); err != nil {
					return err
				}
				continue
			}
			inflight = append(inflight, p)
		}

		for _, p := range inflight {
			if err := r.settle(ctx, sendCtx, tx, p); err != nil {
				return err
			}
		}
		return nil
	})
	return claimed, err
}

// send resolves the row and starts its publish. Errors returned here are
// never retryable.
func (r *Relay) send(ctx context.Context, row models.OutboxEvent) (pending, error) {
	resolved, err := r.registry.Resolve(row)
	if err != nil {
		return pending{}, err
	}
	topic := resolved.Descriptor.Topic
	pub := r.topics(topic)
	if pub == nil {
		return pending{}, fmt.Errorf("no publisher for topic %s", topic)
	}
	key := string(row.AggregateType) + ":" + row.AggregateID
	msg := &pubsub.Message{
		Data:        row.Payload,
		OrderingKey: key,
		Attributes: map[string]string{
			"event_id":       resolved.Envelope.EventID,
			"event_type":     string(row.EventType),
			"aggregate_type": string(row.AggregateType),
			"aggregate_id":   row.AggregateID,
			"created_at":     row.CreatedAt.UTC().Format(time.RFC3339Nano),
		},
	}
	result := pub.Publish(ctx, msg)
	if result == nil {
		return pending{}, fmt.Errorf("publisher for %s returned no result", topic)
	}
	return pending{row: row, topic: topic, key: key, pub: pub, result: result}, nil
}

func (r *Relay) settle(ctx, sendCtx context.Context, tx *gorm.DB, p pending) error {
	_, pubErr := p.result.Get(sendCtx)
	logCtx := r.logg.WithFields(ctx, rowFields(p.row, p.topic))
	if pubErr == nil {
		if err := r.rows.MarkPublishedTx(ctx, tx, p.row.ID, r.now().UTC()); err != nil {
			return fmt.Errorf("mark %s published: %w", p.row.ID, err)
		}
		r.metrics.ObserveRow(string(p.row.EventType), metrics.RelayPublished)
		r.logg.Debug(logCtx, "outbox row published")
		return nil
	}

	p.pub.ResumePublish(p.key)
	attempt := p.row.AttemptCount + 1
	if attempt >= r.maxAttempts {
		return r.park(ctx, tx, p.row, fmt.Errorf("gave up after %d attempts: %w", attempt, pubErr))
	}
	r.logg.Warn(r.logg.WithFields(logCtx, map[string]any{"attempt": attempt, "error": pubErr.Error()}), "outbox publish will be retried")
	if err := r.rows.MarkFailedTx(ctx, tx, p.row.ID, pubErr); err != nil {
		return fmt.Errorf("mark %s failed: %w", p.row.ID, err)
	}
	r.metrics.ObserveRow(string(p.row.EventType), metrics.RelayRetry)
	return nil
}

// park sets the row's attempts to the maximum so it is never claimed again;
// the retention job deletes it later.
func (r *Relay) park(ctx context.Context, tx *gorm.DB, row models.OutboxEvent, cause error) error {
	logCtx := r.logg.WithFields(ctx, rowFields(row, ""))
	r.logg.Warn(r.logg.WithField(logCtx, "error", cause.Error()), "outbox row parked")
	if err := r.rows.MarkTerminalTx(ctx, tx, row.ID, cause, r.maxAttempts); err != nil {
		return fmt.Errorf("park %s: %w", row.ID, err)
	}
	r.metrics.ObserveRow(string(row.EventType), metrics.RelayParked)
	return nil
}

func rowFields(row models.OutboxEvent, topic string) map[string]any {
	f := map[string]any{
		"outbox_id":     row.ID.String(),
		"event_type":    row.EventType,
		"aggregate":     string(row.AggregateType) + ":" + row.AggregateID,
		"prev_attempts": row.AttemptCount,
	}
	if topic != "" {
		f["topic"] = topic
	}
	return f
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func positiveOr(v, fallback int) int {
	if v > 0 {
		return v
	}
	return fallback
}
