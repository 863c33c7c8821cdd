package observability

import (
	"context"
	"log/slog"
	"math/big"
	"sort"
	"sync"

	"github.com/holiman/uint256"
	"github.com/prometheus/client_golang/prometheus"

	"peerlend/core/events"
	"peerlend/core/types"
)

type eventMetrics struct {
	emitted *prometheus.CounterVec
}

var (
	eventMetricsOnce sync.Once
	eventRegistry    *eventMetrics
)

// Events returns the metrics registry tracking structured engine events.
func Events() *eventMetrics {
	eventMetricsOnce.Do(func() {
		eventRegistry = &eventMetrics{
			emitted: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "events",
				Name:      "emitted_total",
				Help:      "Count of engine events segmented by type.",
			}, []string{"type"}),
		}
		prometheus.MustRegister(eventRegistry.emitted)
	})
	return eventRegistry
}

// Record increments the counter for the event type.
func (m *eventMetrics) Record(eventType string) {
	if m == nil {
		return
	}
	if eventType == "" {
		eventType = "unknown"
	}
	m.emitted.WithLabelValues(eventType).Inc()
}

// MetricsEmitter counts every event, mirrors delta updates into gauges and
// forwards the event to Next.
type MetricsEmitter struct {
	Next    events.Emitter
	Lending *LendingMetrics
	Events  *eventMetrics
}

// NewMetricsEmitter wraps next with the process-wide registries.
func NewMetricsEmitter(next events.Emitter) *MetricsEmitter {
	if next == nil {
		next = events.NoopEmitter{}
	}
	return &MetricsEmitter{Next: next, Lending: Lending(), Events: Events()}
}

func (m *MetricsEmitter) Emit(evt events.Event) {
	if m == nil || evt == nil {
		return
	}
	m.Events.Record(evt.EventType())
	if e, ok := evt.(events.LendingDeltaUpdated); ok {
		m.Lending.SetDelta(e.Market, "supply", toFloat(e.P2PSupplyDelta))
		m.Lending.SetDelta(e.Market, "borrow", toFloat(e.P2PBorrowDelta))
	}
	if m.Next != nil {
		m.Next.Emit(evt)
	}
}

// LogEmitter writes every event to a structured logger at debug level.
type LogEmitter struct {
	logger *slog.Logger
}

func NewLogEmitter(logger *slog.Logger) *LogEmitter {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogEmitter{logger: logger}
}

func (l *LogEmitter) Emit(evt events.Event) {
	if l == nil || evt == nil || !l.logger.Enabled(context.Background(), slog.LevelDebug) {
		return
	}
	args := []any{slog.String("type", evt.EventType())}
	if typed, ok := evt.(interface{ Event() *types.Event }); ok {
		if payload := typed.Event(); payload != nil {
			keys := make([]string, 0, len(payload.Attributes))
			for k := range payload.Attributes {
				keys = append(keys, k)
			}
			sort.Strings(keys)
			attrs := make([]any, 0, len(keys))
			for _, k := range keys {
				attrs = append(attrs, slog.String(k, payload.Attributes[k]))
			}
			args = append(args, slog.Group("attributes", attrs...))
		}
	}
	l.logger.Debug("engine event", args...)
}

func toFloat(v *uint256.Int) float64 {
	if v == nil {
		return 0
	}
	f, _ := new(big.Float).SetInt(v.ToBig()).Float64()
	return f
}
