// Package logwriter drains the log event bus into the queryable log store.
package logwriter

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/parkerv/shipyard/internal/domain"
	"github.com/parkerv/shipyard/internal/logbus"
)

// Appender persists one log event durably. Implementations must tolerate
// duplicate event IDs: the bus is at-least-once and redelivery is routine.
type Appender interface {
	Append(ctx context.Context, event domain.LogEvent) error
}

// Writer consumes deliveries sequentially and persists them. One Writer per
// queue; parallelism within a queue would break ordering and per-message
// settlement.
type Writer struct {
	bus          *logbus.Client
	appender     Appender
	group        string
	batchSize    int
	maxRetryWait time.Duration
	logger       *slog.Logger
}

// New constructs a Writer. The group names the consumer on the broker;
// maxRetryWait caps the reconnect backoff.
func New(bus *logbus.Client, appender Appender, group string, batchSize int, maxRetryWait time.Duration, logger *slog.Logger) *Writer {
	if batchSize <= 0 {
		batchSize = 64
	}
	return &Writer{
		bus:          bus,
		appender:     appender,
		group:        group,
		batchSize:    batchSize,
		maxRetryWait: maxRetryWait,
		logger:       logger,
	}
}

// Run consumes until the context is canceled, reconnecting with backoff when
// the broker session drops.
func (w *Writer) Run(ctx context.Context) error {
	retries := 0
	for {
		err := w.consume(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		w.logger.Error("log consumer session ended", "error", err, "retries", retries)

		select {
		case <-time.After(w.retryWait(retries)):
		case <-ctx.Done():
			return ctx.Err()
		}
		retries++
	}
}

func (w *Writer) retryWait(retries int) time.Duration {
	d := logbus.RetryWait(retries)
	if w.maxRetryWait > 0 && d > w.maxRetryWait {
		d = w.maxRetryWait
	}
	return d
}

func (w *Writer) consume(ctx context.Context) error {
	session, err := w.bus.Consume(ctx, w.group, w.batchSize)
	if err != nil {
		return err
	}
	defer session.Close()

	w.logger.Info("log consumer started", "group", w.group, "batch_size", w.batchSize)
	for d := range session.Deliveries() {
		w.process(ctx, d)
	}
	return context.Cause(ctx)
}

// process settles exactly one delivery. Persistence failure nacks with
// requeue so the broker redelivers; the writer itself never dies on a bad
// message.
func (w *Writer) process(ctx context.Context, d logbus.Delivery) {
	m, err := logbus.Decode(d.Body())
	if err != nil {
		w.logger.Warn("dropping malformed log message", "error", err)
		_ = d.Nack(false)
		return
	}
	if strings.TrimSpace(m.ProjectID) == "" {
		w.logger.Warn("dropping log message without deployment id")
		_ = d.Nack(false)
		return
	}

	eventID := m.EventID
	if uuid.Validate(eventID) != nil {
		// Producer did not assign an id; redelivery of this message can
		// produce a duplicate row.
		eventID = uuid.NewString()
	}

	event := domain.LogEvent{
		EventID:      eventID,
		DeploymentID: m.ProjectID,
		Log:          m.Log,
		Timestamp:    time.Now().UTC(),
	}
	if err := w.appender.Append(ctx, event); err != nil {
		w.logger.Error("log persistence failed", "deployment_id", m.ProjectID, "error", err)
		_ = d.Nack(true)
		return
	}
	_ = d.Ack()

	if err := d.Extend(ctx); err != nil {
		w.logger.Warn("lease extension failed", "error", err)
	}
}
