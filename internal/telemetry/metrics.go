package telemetry

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metrics bundles the instruments the trading loop records against,
// including chain outcomes reported when a chain finishes: one struct of pre-created instruments, built once at
// startup from the process meter.
type Metrics struct {
	solverAttempts   metric.Int64Counter
	solverFound      metric.Int64Counter
	solverDuration   metric.Float64Histogram
	chainOutcomes    metric.Int64Counter
	bookStaleness    metric.Float64Histogram
}

// NewMetrics creates every instrument from the named meter. Instrument
// creation errors are ignored: a nil instrument silently no-ops on
// Record/Add, since a missing metric must never block trading.
func NewMetrics(meter metric.Meter) *Metrics {
	m := &Metrics{}
	m.solverAttempts, _ = meter.Int64Counter("triarb_solver_attempts",
		metric.WithDescription("Cycle solver invocations"), metric.WithUnit("{attempt}"))
	m.solverFound, _ = meter.Int64Counter("triarb_solver_solutions_found",
		metric.WithDescription("Admissible cycles found by the solver"), metric.WithUnit("{solution}"))
	m.solverDuration, _ = meter.Float64Histogram("triarb_solver_duration",
		metric.WithDescription("Cycle solver wall-clock duration"), metric.WithUnit("ms"))
	m.chainOutcomes, _ = meter.Int64Counter("triarb_chain_outcomes",
		metric.WithDescription("Order chain terminal outcomes"), metric.WithUnit("{chain}"))
	m.bookStaleness, _ = meter.Float64Histogram("triarb_book_staleness",
		metric.WithDescription("Age of the book snapshot at solve time"), metric.WithUnit("ms"))
	return m
}

// RecordSolve records one solver invocation's duration and outcome.
func (m *Metrics) RecordSolve(ctx context.Context, d time.Duration, found bool) {
	if m == nil {
		return
	}
	env := attribute.String("environment", Environment())
	if m.solverAttempts != nil {
		m.solverAttempts.Add(ctx, 1, metric.WithAttributes(env))
	}
	if m.solverDuration != nil {
		m.solverDuration.Record(ctx, float64(d.Milliseconds()), metric.WithAttributes(env))
	}
	if found && m.solverFound != nil {
		m.solverFound.Add(ctx, 1, metric.WithAttributes(env))
	}
}

// RecordChainOutcome records a chain's terminal state.
func (m *Metrics) RecordChainOutcome(ctx context.Context, outcome string) {
	if m == nil || m.chainOutcomes == nil {
		return
	}
	m.chainOutcomes.Add(ctx, 1, metric.WithAttributes(
		attribute.String("environment", Environment()),
		attribute.String("outcome", outcome),
	))
}

// RecordBookStaleness records how old a snapshot was when the solver
// consumed it, for operator visibility into stale-book risk.
func (m *Metrics) RecordBookStaleness(ctx context.Context, age time.Duration) {
	if m == nil || m.bookStaleness == nil {
		return
	}
	m.bookStaleness.Record(ctx, float64(age.Milliseconds()), metric.WithAttributes(
		attribute.String("environment", Environment()),
	))
}

// NopMeter returns a no-op meter suitable for tests that do not care about
// telemetry wiring.
func NopMeter() metric.Meter {
	return otel.Meter("triarb-nop")
}
