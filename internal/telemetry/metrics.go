package telemetry

import (
	"context"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/stocktake/stocktake/internal/domain/txlog"
)

// Metrics holds the instrument set for the update pipeline. A nil *Metrics is
// safe to use; every method no-ops.
type Metrics struct {
	attempts  metric.Int64Counter
	connTests metric.Int64Counter
	logins    metric.Int64Counter
}

// NewMetrics creates the instrument set on the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	attempts, err := meter.Int64Counter("stocktake_update_attempts_total",
		metric.WithDescription("Quantity update attempts by terminal status"))
	if err != nil {
		return nil, fmt.Errorf("create attempts counter: %w", err)
	}
	connTests, err := meter.Int64Counter("stocktake_connection_tests_total",
		metric.WithDescription("Connection tests by result"))
	if err != nil {
		return nil, fmt.Errorf("create connection tests counter: %w", err)
	}
	logins, err := meter.Int64Counter("stocktake_logins_total",
		metric.WithDescription("Login attempts by result"))
	if err != nil {
		return nil, fmt.Errorf("create logins counter: %w", err)
	}
	return &Metrics{attempts: attempts, connTests: connTests, logins: logins}, nil
}

// RecordAttempt counts one terminal update attempt outcome.
func (m *Metrics) RecordAttempt(ctx context.Context, status txlog.Status, storeNickname string) {
	if m == nil || m.attempts == nil {
		return
	}
	m.attempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("status", string(status)),
		attribute.String("store", storeNickname),
	))
}

// RecordConnectionTest counts one connection probe.
func (m *Metrics) RecordConnectionTest(ctx context.Context, ok bool) {
	if m == nil || m.connTests == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.connTests.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}

// RecordLogin counts one login attempt.
func (m *Metrics) RecordLogin(ctx context.Context, ok bool) {
	if m == nil || m.logins == nil {
		return
	}
	result := "failure"
	if ok {
		result = "success"
	}
	m.logins.Add(ctx, 1, metric.WithAttributes(attribute.String("result", result)))
}
