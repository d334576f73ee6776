package telemetry

import (
	"context"
	"runtime/pprof"
	"sort"
	"strings"

	"github.com/grafana/pyroscope-go"
)

// Profiling label keys
const (
	ProfilingLabelOperation = "operation"
	ProfilingLabelEntryKind = "entry_kind"
	ProfilingLabelRegion    = "region"
	ProfilingLabelSource    = "source"
)

// MaxLabelValueLength bounds label values
const MaxLabelValueLength = 128

// highCardinalityLabels are dropped before reaching the profiler
var highCardinalityLabels = map[string]bool{
	"entry_id":   true,
	"order_id":   true,
	"actor_id":   true,
	"message_id": true,
	"trace_id":   true,
	"span_id":    true,
}

// WithProfilingLabels runs fn with Pyroscope labels attached to its samples.
func WithProfilingLabels(ctx context.Context, labels map[string]string, fn func(context.Context)) {
	pairs := sanitizeLabels(labels)
	if len(pairs) == 0 {
		fn(ctx)
		return
	}
	pyroscope.TagWrapper(ctx, pyroscope.Labels(pairs...), fn)
}

// WithPprofLabels is WithProfilingLabels on the native pprof API.
func WithPprofLabels(ctx context.Context, labels map[string]string, fn func(context.Context)) {
	pairs := sanitizeLabels(labels)
	if len(pairs) == 0 {
		fn(ctx)
		return
	}
	pprof.Do(ctx, pprof.Labels(pairs...), fn)
}

// CashOperationLabels labels a cashbox operation
func CashOperationLabels(operation, entryKind string) map[string]string {
	labels := map[string]string{ProfilingLabelOperation: operation}
	if entryKind != "" {
		labels[ProfilingLabelEntryKind] = entryKind
	}
	return labels
}

// RegionLabels labels a code region such as "ledger_append" or "rate_lookup"
func RegionLabels(region string) map[string]string {
	return map[string]string{ProfilingLabelRegion: region}
}

// sanitizeLabels returns key/value pairs sorted by key, without empty or
// high-cardinality entries, and with values truncated.
func sanitizeLabels(labels map[string]string) []string {
	keys := make([]string, 0, len(labels))
	for k, v := range labels {
		if k == "" || v == "" || highCardinalityLabels[k] {
			continue
		}
		keys = append(keys, k)
	}
	sort.Strings(keys)

	pairs := make([]string, 0, len(keys)*2)
	for _, k := range keys {
		v := strings.TrimSpace(labels[k])
		if len(v) > MaxLabelValueLength {
			v = v[:MaxLabelValueLength]
		}
		if v == "" {
			continue
		}
		pairs = append(pairs, k, v)
	}
	return pairs
}
