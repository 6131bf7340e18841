package metrics

import (
	"errors"
	"strconv"
	"time"

	"loyalty-ledger/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ledgerEntries = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loyalty",
		Name:      "ledger_entries_total",
		Help:      "Ledger entries appended, by currency and reason.",
	}, []string{"currency", "reason"})

	ledgerVolume = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loyalty",
		Name:      "ledger_volume_total",
		Help:      "Absolute value moved through the ledger, by currency and reason.",
	}, []string{"currency", "reason"})

	operations = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loyalty",
		Name:      "operations_total",
		Help:      "Core operations by name and outcome.",
	}, []string{"operation", "outcome"})

	httpDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "loyalty",
		Name:      "http_request_duration_seconds",
		Help:      "HTTP request latency by route and status code.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"route", "code"})

	eventsConsumed = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "loyalty",
		Name:      "worker_events_total",
		Help:      "Wallet events handled by the event worker, by type and outcome.",
	}, []string{"type", "outcome"})
)

// RecordLedger counts committed ledger entries.
func RecordLedger(entries []models.LedgerEntry) {
	for _, e := range entries {
		ledgerEntries.WithLabelValues(string(e.Currency), string(e.Reason)).Inc()
		amount, _ := e.Change.Abs().Float64()
		ledgerVolume.WithLabelValues(string(e.Currency), string(e.Reason)).Add(amount)
	}
}

// ObserveOperation records the outcome of a core operation.
func ObserveOperation(name string, err error) {
	operations.WithLabelValues(name, Outcome(err)).Inc()
}

// ObserveHTTP records the latency of one request.
func ObserveHTTP(route string, code int, elapsed time.Duration) {
	httpDuration.WithLabelValues(route, strconv.Itoa(code)).Observe(elapsed.Seconds())
}

// ObserveEvent records one consumed worker event.
func ObserveEvent(eventType string, err error) {
	eventsConsumed.WithLabelValues(eventType, Outcome(err)).Inc()
}

// Outcome maps an error to a low-cardinality label.
func Outcome(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, models.ErrContention):
		return "contention"
	case errors.Is(err, models.ErrInsufficientFunds):
		return "insufficient_funds"
	case errors.Is(err, models.ErrInvalidState), errors.Is(err, models.ErrListingAlreadySold):
		return "invalid_state"
	case errors.Is(err, models.ErrNotFound):
		return "not_found"
	case errors.Is(err, models.ErrValidation), errors.Is(err, models.ErrInvalidAmount):
		return "rejected"
	case errors.Is(err, models.ErrExternalService), errors.Is(err, models.ErrPaymentVerificationFailed):
		return "external"
	default:
		return "error"
	}
}
