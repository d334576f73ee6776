package telemetry

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.uber.org/zap"
)

// CashMetrics are the business metrics of the cashbox engine.
// A nil *CashMetrics is valid and records nothing.
type CashMetrics struct {
	logger *zap.Logger

	entriesTotal       *Counter
	rejectionsTotal    *Counter
	retriesTotal       *Counter
	transitionsTotal   *Counter
	eventsDroppedTotal *Counter
	operationDuration  *Histogram
	balance            *FloatGauge
	drift              *FloatGauge
}

// ErrMeterNil is returned when no meter is supplied.
var ErrMeterNil = &MetricsError{Op: "NewCashMetrics", Err: "meter cannot be nil"}

// MetricsError is a metrics setup error.
type MetricsError struct {
	Op  string
	Err string
}

func (e *MetricsError) Error() string {
	return e.Op + ": " + e.Err
}

// NewCashMetrics creates every instrument on meter.
func NewCashMetrics(meter metric.Meter, logger *zap.Logger) (*CashMetrics, error) {
	if meter == nil {
		return nil, ErrMeterNil
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	m := &CashMetrics{logger: logger}

	var err error
	if m.entriesTotal, err = NewCounter(meter, "cashbox_ledger_entries_total",
		"Ledger entries appended", "{entries}"); err != nil {
		return nil, err
	}
	if m.rejectionsTotal, err = NewCounter(meter, "cashbox_operations_rejected_total",
		"Operations rejected with a domain error", "{operations}"); err != nil {
		return nil, err
	}
	if m.retriesTotal, err = NewCounter(meter, "cashbox_concurrency_retries_total",
		"Operations retried after a concurrency conflict", "{retries}"); err != nil {
		return nil, err
	}
	if m.transitionsTotal, err = NewCounter(meter, "cashbox_order_transitions_total",
		"Order transitions evaluated", "{transitions}"); err != nil {
		return nil, err
	}
	if m.eventsDroppedTotal, err = NewCounter(meter, "cashbox_events_dropped_total",
		"Post-commit notifications dropped", "{events}"); err != nil {
		return nil, err
	}
	if m.operationDuration, err = NewHistogram(meter, HistogramOpts{
		Name:        "cashbox_operation_duration_seconds",
		Description: "Duration of cashbox operations including retries",
		Unit:        "s",
		Boundaries:  OperationDurationBuckets,
	}); err != nil {
		return nil, err
	}
	if m.balance, err = NewFloatGauge(meter, "cashbox_balance",
		"Current cashbox balance per currency", "{currency_unit}"); err != nil {
		return nil, err
	}
	if m.drift, err = NewFloatGauge(meter, "cashbox_reconciliation_drift",
		"Cached minus computed balance at the last reconciliation", "{currency_unit}"); err != nil {
		return nil, err
	}
	return m, nil
}

// RecordEntry counts an appended entry
func (m *CashMetrics) RecordEntry(ctx context.Context, kind, direction, category string) {
	if m == nil {
		return
	}
	m.entriesTotal.Inc(ctx, AttrEntryKind.String(kind), AttrDirection.String(direction), AttrCategory.String(category))
}

// RecordRejection counts an operation refused with a domain error code
func (m *CashMetrics) RecordRejection(ctx context.Context, operation, code string) {
	if m == nil || code == "" {
		return
	}
	m.rejectionsTotal.Inc(ctx, AttrOperation.String(operation), AttrCode.String(code))
}

// RecordRetry counts a retried attempt
func (m *CashMetrics) RecordRetry(ctx context.Context, operation string) {
	if m == nil {
		return
	}
	m.retriesTotal.Inc(ctx, AttrOperation.String(operation))
}

// RecordTransition counts an evaluated transition by the rule that matched and its outcome
func (m *CashMetrics) RecordTransition(ctx context.Context, rule, outcome string) {
	if m == nil {
		return
	}
	m.transitionsTotal.Inc(ctx, attribute.String("rule", rule), AttrOutcome.String(outcome))
}

// RecordDroppedEvent counts a notification the bus could not queue
func (m *CashMetrics) RecordDroppedEvent(eventType string) {
	if m == nil {
		return
	}
	m.eventsDroppedTotal.Inc(context.Background(), AttrEventType.String(eventType))
	m.logger.Debug("Counted dropped event", zap.String("event_type", eventType))
}

// RecordDuration records how long an operation took
func (m *CashMetrics) RecordDuration(ctx context.Context, operation string, d time.Duration, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.operationDuration.RecordDuration(ctx, d, AttrOperation.String(operation), AttrOutcome.String(outcome))
}

// RecordBalance sets the balance gauges
func (m *CashMetrics) RecordBalance(ctx context.Context, usd, lbp decimal.Decimal) {
	if m == nil {
		return
	}
	m.balance.Record(ctx, usd.InexactFloat64(), AttrCurrency.String("USD"))
	m.balance.Record(ctx, lbp.InexactFloat64(), AttrCurrency.String("LBP"))
}

// RecordDrift sets the reconciliation drift gauges
func (m *CashMetrics) RecordDrift(ctx context.Context, usd, lbp decimal.Decimal) {
	if m == nil {
		return
	}
	m.drift.Record(ctx, usd.InexactFloat64(), AttrCurrency.String("USD"))
	m.drift.Record(ctx, lbp.InexactFloat64(), AttrCurrency.String("LBP"))
}
