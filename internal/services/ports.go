// Package services provides business logic and orchestration services.
package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"fintrack/internal/amqp"
	"fintrack/internal/core"
	"fintrack/internal/metrics"
	"fintrack/internal/storage"
)

var tracer = otel.Tracer("fintrack/services")

// Ledger is the store the services run against: owner-scoped reads on the
// pool plus the atomic unit of work.
type Ledger interface {
	storage.LedgerTx
	WithinTx(ctx context.Context, fn func(storage.LedgerTx) error) error
}

// EventPublisher publishes committed transaction mutations.
type EventPublisher interface {
	PublishTransactionEvent(ctx context.Context, event *amqp.TransactionEvent) error
}

// Option configures the services.
type Option func(*options)

type options struct {
	timeout time.Duration
	now     func() time.Time
	newID   func() string
	metrics *metrics.Metrics
}

func newOptions(opts []Option) options {
	o := options{
		now:   time.Now,
		newID: uuid.NewString,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithOperationTimeout bounds every service entry point. Zero disables it.
func WithOperationTimeout(d time.Duration) Option {
	return func(o *options) { o.timeout = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// WithIDGenerator replaces uuid.NewString.
func WithIDGenerator(newID func() string) Option {
	return func(o *options) { o.newID = newID }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// begin starts a span and applies the operation timeout.
func (o options) begin(ctx context.Context, name, ownerID string) (context.Context, trace.Span, context.CancelFunc) {
	ctx, span := tracer.Start(ctx, name)
	if ownerID != "" {
		span.SetAttributes(attribute.String("owner.id", ownerID))
	}
	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		return ctx, span, cancel
	}
	return ctx, span, func() {}
}

// finish records err on the span and maps an expired deadline to core.ErrTimeout.
func finish(ctx context.Context, span trace.Span, err error) error {
	defer span.End()
	if err == nil {
		return nil
	}
	if errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, core.ErrTimeout) {
		err = fmt.Errorf("%w: %v", core.ErrTimeout, err)
	}
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}

func requireOwner(ownerID string) error {
	if ownerID == "" {
		return core.NewValidationError("owner_id", "required")
	}
	return nil
}
