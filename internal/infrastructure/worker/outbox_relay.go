package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/garyjia/approval-engine/internal/application/dispatcher"
	"github.com/garyjia/approval-engine/internal/application/port"
	"github.com/garyjia/approval-engine/internal/domain/entity"
	"github.com/garyjia/approval-engine/internal/domain/event"
	"github.com/garyjia/approval-engine/internal/metrics"
)

// OutboxRelay polls the event outbox and hands committed events to the dispatcher.
// Delivery is at-least-once: an entry stays pending until every handler accepts it.
type OutboxRelay struct {
	outbox     port.OutboxRepository
	dispatcher dispatcher.Dispatcher
	logger     *zap.Logger

	pollInterval time.Duration
	batchSize    int
	maxAttempts  int
	now          func() time.Time

	mu        sync.Mutex
	isRunning bool
	cancel    context.CancelFunc
	done      chan struct{}
}

// RelayOption configures the relay
type RelayOption func(*OutboxRelay)

// WithPollInterval sets how often the outbox is polled
func WithPollInterval(d time.Duration) RelayOption {
	return func(r *OutboxRelay) {
		if d > 0 {
			r.pollInterval = d
		}
	}
}

// WithBatchSize sets how many entries are relayed per poll
func WithBatchSize(n int) RelayOption {
	return func(r *OutboxRelay) {
		if n > 0 {
			r.batchSize = n
		}
	}
}

// WithMaxAttempts sets after how many failed attempts an entry is dead-lettered.
// Zero keeps failing entries pending forever.
func WithMaxAttempts(n int) RelayOption {
	return func(r *OutboxRelay) {
		if n >= 0 {
			r.maxAttempts = n
		}
	}
}

// NewOutboxRelay creates a new outbox relay
func NewOutboxRelay(outbox port.OutboxRepository, disp dispatcher.Dispatcher, logger *zap.Logger, opts ...RelayOption) *OutboxRelay {
	r := &OutboxRelay{
		outbox:       outbox,
		dispatcher:   disp,
		logger:       logger,
		pollInterval: time.Second,
		batchSize:    100,
		maxAttempts:  10,
		now:          time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Start starts the relay loop
func (r *OutboxRelay) Start(ctx context.Context) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.isRunning {
		return fmt.Errorf("outbox relay is already running")
	}

	loopCtx, cancel := context.WithCancel(ctx)
	r.cancel = cancel
	r.done = make(chan struct{})
	r.isRunning = true

	r.logger.Info("OutboxRelay started",
		zap.Duration("poll_interval", r.pollInterval),
		zap.Int("batch_size", r.batchSize),
		zap.Int("max_attempts", r.maxAttempts))

	go r.pollLoop(loopCtx, r.done)

	return nil
}

// Stop stops the relay and waits for the current batch to finish
func (r *OutboxRelay) Stop() error {
	r.mu.Lock()
	if !r.isRunning {
		r.mu.Unlock()
		return nil
	}
	r.isRunning = false
	r.cancel()
	done := r.done
	r.mu.Unlock()

	<-done
	r.logger.Info("OutboxRelay stopped")
	return nil
}

// Name returns the worker name for identification
func (r *OutboxRelay) Name() string {
	return "OutboxRelay"
}

func (r *OutboxRelay) pollLoop(ctx context.Context, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(r.pollInterval)
	defer ticker.Stop()

	// Relay immediately on start
	r.RelayOnce(ctx)

	for {
		select {
		case <-ctx.Done():
			r.logger.Debug("Relay loop context cancelled")
			return
		case <-ticker.C:
			r.RelayOnce(ctx)
		}
	}
}

// RelayOnce dispatches one batch of pending entries in commit order and
// returns how many were delivered.
func (r *OutboxRelay) RelayOnce(ctx context.Context) int {
	entries, err := r.outbox.FetchPending(ctx, r.batchSize)
	if err != nil {
		r.logger.Error("Failed to fetch pending events", zap.Error(err))
		return 0
	}
	metrics.OutboxPending.Set(float64(len(entries)))
	if len(entries) == 0 {
		return 0
	}

	delivered := 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			break
		}

		var evt event.Event
		if err := json.Unmarshal(entry.Payload, &evt); err != nil {
			r.logger.Error("Undecodable outbox entry",
				zap.Int64("outbox_id", entry.ID),
				zap.String("event_id", entry.EventID),
				zap.Error(err))
			r.markFailed(ctx, entry, err)
			continue
		}

		if err := r.dispatcher.Dispatch(ctx, &evt); err != nil {
			r.logger.Warn("Event dispatch failed, will retry",
				zap.Int64("outbox_id", entry.ID),
				zap.String("event_id", entry.EventID),
				zap.String("event_type", entry.EventType),
				zap.Int("attempts", entry.Attempts+1),
				zap.Error(err))
			r.markFailed(ctx, entry, err)
			continue
		}

		if err := r.outbox.MarkDispatched(ctx, entry.ID, r.now().UTC()); err != nil {
			r.logger.Error("Failed to mark event dispatched",
				zap.Int64("outbox_id", entry.ID),
				zap.Error(err))
			continue
		}
		metrics.OutboxDispatchedTotal.WithLabelValues(entry.EventType, "ok").Inc()
		delivered++
	}

	r.logger.Debug("Outbox batch relayed",
		zap.Int("fetched", len(entries)),
		zap.Int("delivered", delivered))
	return delivered
}

func (r *OutboxRelay) markFailed(ctx context.Context, entry *entity.OutboxEntry, cause error) {
	if err := r.outbox.MarkFailed(ctx, entry.ID, cause.Error(), r.maxAttempts, r.now().UTC()); err != nil {
		r.logger.Error("Failed to record dispatch failure", zap.Int64("outbox_id", entry.ID), zap.Error(err))
		metrics.OutboxDispatchedTotal.WithLabelValues(entry.EventType, "error").Inc()
		return
	}

	if r.maxAttempts > 0 && entry.Attempts+1 >= r.maxAttempts {
		r.logger.Error("Outbox entry dead-lettered",
			zap.String("audit_priority", "high"),
			zap.Int64("outbox_id", entry.ID),
			zap.String("event_id", entry.EventID),
			zap.String("event_type", entry.EventType),
			zap.Int("attempts", entry.Attempts+1),
			zap.Error(cause))
		metrics.OutboxDispatchedTotal.WithLabelValues(entry.EventType, "dead_letter").Inc()
		return
	}
	metrics.OutboxDispatchedTotal.WithLabelValues(entry.EventType, "error").Inc()
}
