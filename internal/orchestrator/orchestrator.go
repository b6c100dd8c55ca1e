// Package orchestrator sequences multi-step operations against the cloud
// capabilities: lifecycle transitions with bounded waits, container drains,
// paged log reads, batched classification, cost reports and deployments.
//
// An Orchestrator holds no per-call state and is safe for concurrent use.
package orchestrator

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/yairfalse/nimbus/internal/guard"
	"github.com/yairfalse/nimbus/internal/opserr"
	"github.com/yairfalse/nimbus/internal/provider"
	"github.com/yairfalse/nimbus/internal/waiter"
	"github.com/yairfalse/nimbus/pkg/resource"
)

const (
	defaultLogLimit        = 100
	defaultMaxCostBuckets  = 1000
	defaultMaxDrainObjects = 100000
)

// Clients are the capability implementations an Orchestrator drives. A nil
// capability makes the operations that need it fail with ErrInvalidInput.
type Clients struct {
	Compute    provider.Compute
	Storage    provider.ObjectStore
	Logs       provider.LogStore
	Billing    provider.Billing
	Classifier provider.Classifier
	Deployer   provider.Deployer
}

// Guard vets destructive operations before they are issued.
type Guard interface {
	Check(ctx context.Context, req guard.Request) error
}

// Recorder receives operation metrics.
type Recorder interface {
	RecordOperation(ctx context.Context, op, status string, d time.Duration)
	RecordWaitAttempts(ctx context.Context, op, target string, attempts int)
	RecordBatchFailures(ctx context.Context, op string, n int)
}

// CostDefaults fill unset fields of a CostRequest.
type CostDefaults struct {
	Granularity string
	GroupBy     string
	Metric      string
}

// Options tune the orchestration. Zero values select defaults.
type Options struct {
	// Wait is the budget for lifecycle waits; Target is set per operation.
	Wait             waiter.Spec
	BatchConcurrency int
	DefaultLogLimit  int
	LogPageSize      int
	MaxCostBuckets   int
	MaxDrainObjects  int
	Cost             CostDefaults
}

// Orchestrator is the entry point for every nimbus operation.
type Orchestrator struct {
	clients Clients
	opts    Options
	guard   Guard
	metrics Recorder
	tracer  trace.Tracer
	now     func() time.Time
}

// New creates an orchestrator over clients.
func New(clients Clients, opts Options) *Orchestrator {
	applyDefaults(&opts)
	return &Orchestrator{
		clients: clients,
		opts:    opts,
		guard:   guard.AllowAll{},
		metrics: nopRecorder{},
		tracer:  otel.Tracer("nimbus/orchestrator"),
		now:     time.Now,
	}
}

// WithGuard sets the guard consulted before destructive operations.
func (o *Orchestrator) WithGuard(g Guard) *Orchestrator {
	if g != nil {
		o.guard = g
	}
	return o
}

// WithRecorder sets the metrics recorder.
func (o *Orchestrator) WithRecorder(r Recorder) *Orchestrator {
	if r != nil {
		o.metrics = r
	}
	return o
}

// WithTracer sets the tracer that spans each operation.
func (o *Orchestrator) WithTracer(t trace.Tracer) *Orchestrator {
	if t != nil {
		o.tracer = t
	}
	return o
}

func applyDefaults(opts *Options) {
	if opts.Wait.PollInterval <= 0 {
		opts.Wait.PollInterval = 5 * time.Second
	}
	if opts.Wait.MaxAttempts <= 0 && opts.Wait.MaxElapsed <= 0 {
		opts.Wait.MaxAttempts = 40
	}
	if opts.BatchConcurrency < 1 {
		opts.BatchConcurrency = 1
	}
	if opts.DefaultLogLimit <= 0 {
		opts.DefaultLogLimit = defaultLogLimit
	}
	if opts.MaxCostBuckets <= 0 {
		opts.MaxCostBuckets = defaultMaxCostBuckets
	}
	if opts.MaxDrainObjects <= 0 {
		opts.MaxDrainObjects = defaultMaxDrainObjects
	}
}

// track wraps one operation in a span, an outcome metric and a log line.
func track[T any](ctx context.Context, o *Orchestrator, op string, handle resource.Handle, fn func(context.Context) (T, error)) (T, error) {
	opID := uuid.NewString()
	ctx, span := o.tracer.Start(ctx, "orchestrator."+op,
		trace.WithAttributes(
			attribute.String("nimbus.operation", op),
			attribute.String("nimbus.operation_id", opID),
			attribute.String("nimbus.handle", handle.String())))
	defer span.End()

	start := time.Now()
	v, err := fn(ctx)
	elapsed := time.Since(start)
	status := statusOf(err)
	o.metrics.RecordOperation(ctx, op, status, elapsed)

	logger := log.With().Ctx(ctx).Str("op_id", opID).Logger()
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		logger.Warn().
			Err(err).
			Str("operation", op).
			Str("handle", handle.String()).
			Str("status", status).
			Dur("elapsed", elapsed).
			Msg("operation failed")
		return v, err
	}

	logger.Debug().
		Str("operation", op).
		Str("handle", handle.String()).
		Dur("elapsed", elapsed).
		Msg("operation complete")
	return v, nil
}

// statusOf classifies an operation outcome for metrics.
func statusOf(err error) string {
	var (
		invalid  *opserr.InvalidTransitionError
		timeout  *opserr.TimeoutError
		denied   *opserr.PolicyDeniedError
		partial  *opserr.PartialBatchError
		notEmpty *opserr.ContainerNotEmptyError
	)
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, opserr.ErrCancelled):
		return "cancelled"
	case errors.As(err, &timeout):
		return "timeout"
	case errors.As(err, &invalid), errors.Is(err, opserr.ErrInvalidInput):
		return "rejected"
	case errors.As(err, &denied):
		return "denied"
	case errors.As(err, &partial), errors.As(err, &notEmpty):
		return "partial"
	default:
		return "error"
	}
}

type nopRecorder struct{}

func (nopRecorder) RecordOperation(context.Context, string, string, time.Duration) {}
func (nopRecorder) RecordWaitAttempts(context.Context, string, string, int) {}
func (nopRecorder) RecordBatchFailures(context.Context, string, int) {}
