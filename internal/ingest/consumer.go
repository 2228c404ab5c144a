package ingest

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/example/court-matching/internal/apperr"
	"github.com/example/court-matching/internal/logging"
	"github.com/example/court-matching/internal/models"
	"github.com/example/court-matching/internal/observability"
)

// Reader is the subset of *kafka.Reader the consumer needs.
type Reader interface {
	FetchMessage(ctx context.Context) (kafka.Message, error)
	CommitMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type PaymentHandler interface {
	HandlePaymentEvent(ctx context.Context, evt models.PaymentEvent) error
}

func NewKafkaReader(brokers []string, topic, group string) *kafka.Reader {
	return kafka.NewReader(kafka.ReaderConfig{Brokers: brokers, Topic: topic, GroupID: group, MinBytes: 1, MaxBytes: 10e6})
}

// PaymentConsumer feeds payment gateway events to the proposal workflow.
// Messages are committed once handled, rejected or given up on, so a poison
// message never blocks its partition.
type PaymentConsumer struct {
	reader  Reader
	handler PaymentHandler
	logger  *slog.Logger

	// Attempts and Delay govern handler retries; Backoff and MaxBackoff
	// govern fetch retries.
	Attempts   int
	Delay      time.Duration
	Backoff    time.Duration
	MaxBackoff time.Duration
}

func NewPaymentConsumer(r Reader, h PaymentHandler, logger *slog.Logger) *PaymentConsumer {
	return &PaymentConsumer{
		reader:     r,
		handler:    h,
		logger:     logging.OrDiscard(logger),
		Attempts:   3,
		Delay:      200 * time.Millisecond,
		Backoff:    time.Second,
		MaxBackoff: 30 * time.Second,
	}
}

// Run consumes until ctx is done.
func (c *PaymentConsumer) Run(ctx context.Context) error {
	backoff := c.Backoff
	for {
		m, err := c.reader.FetchMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				c.logger.Info("payment consumer stopping")
				return nil
			}
			c.logger.Warn("kafka fetch failed", "error", err, "backoff", backoff)
			if !sleep(ctx, backoff) {
				return nil
			}
			backoff *= 2
			if backoff > c.MaxBackoff {
				backoff = c.MaxBackoff
			}
			continue
		}
		backoff = c.Backoff

		result := c.handle(ctx, m)
		observability.ConsumerMessages.WithLabelValues(result).Inc()
		if err := c.reader.CommitMessages(ctx, m); err != nil && ctx.Err() == nil {
			c.logger.Warn("kafka commit failed", "offset", m.Offset, "partition", m.Partition, "error", err)
		}
	}
}

func (c *PaymentConsumer) handle(ctx context.Context, m kafka.Message) string {
	var evt models.PaymentEvent
	if err := json.Unmarshal(m.Value, &evt); err != nil {
		c.logger.Warn("invalid payment event", "offset", m.Offset, "error", err)
		return "invalid"
	}
	err := c.handleWithRetry(ctx, evt)
	result := Classify(err)
	switch result {
	case "failed":
		c.logger.Error("payment event dropped", "event_id", evt.ID, "booking_id", evt.BookingID, "type", evt.Type, "error", err)
	case "rejected":
		c.logger.Warn("payment event rejected", "event_id", evt.ID, "booking_id", evt.BookingID, "error", err)
	}
	return result
}

// handleWithRetry retries only errors that may clear up on their own.
func (c *PaymentConsumer) handleWithRetry(ctx context.Context, evt models.PaymentEvent) error {
	delay := c.Delay
	var err error
	for i := 0; i < c.Attempts; i++ {
		err = c.handler.HandlePaymentEvent(ctx, evt)
		if err == nil || !retryable(err) || i == c.Attempts-1 {
			return err
		}
		if !sleep(ctx, delay) {
			return err
		}
		delay *= 2
	}
	return err
}

func retryable(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindDependency, apperr.KindUnknown:
		return !errors.Is(err, context.Canceled)
	}
	return false
}

// Classify labels the outcome of handling one payment event. A Conflict is
// a redelivery of an event already applied.
func Classify(err error) string {
	switch {
	case err == nil:
		return "handled"
	case errors.Is(err, apperr.Conflict):
		return "duplicate"
	case errors.Is(err, apperr.Validation), errors.Is(err, apperr.NotFound):
		return "rejected"
	}
	return "failed"
}

func sleep(ctx context.Context, d time.Duration) bool {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}
