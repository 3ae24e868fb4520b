package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpDurationHistogram *prometheus.HistogramVec
	exchangeCounter       *prometheus.CounterVec
	cardAuthCounter       *prometheus.CounterVec
	escrowPendingGauge    *prometheus.GaugeVec
	ledgerDivergence      *prometheus.CounterVec
	idempotencyCounter    *prometheus.CounterVec
	intentTransitionCount *prometheus.CounterVec
	workerRunCounter      *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		exchangeCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "exchange_executions_total",
			Help: "Currency exchange executions by currency pair and result",
		}, []string{"pair", "result"})

		cardAuthCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "card_authorizations_total",
			Help: "Card authorization outcomes by decline code; approved uses code OK",
		}, []string{"code"})

		escrowPendingGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "refund_escrow_pending_micros",
			Help: "Funds currently held in refund escrow per currency",
		}, []string{"currency"})

		ledgerDivergence = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "ledger_divergence_total",
			Help: "Number of times wallet totals diverged from the completed ledger net",
		}, []string{"currency"})

		idempotencyCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "idempotency_events_total",
			Help: "Idempotency middleware outcomes",
		}, []string{"outcome"})

		intentTransitionCount = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "payment_intent_transitions_total",
			Help: "Payment intent state transitions by destination state",
		}, []string{"status"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			exchangeCounter,
			cardAuthCounter,
			escrowPendingGauge,
			ledgerDivergence,
			idempotencyCounter,
			intentTransitionCount,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func IncrementExchange(pair, result string) {
	if exchangeCounter == nil {
		return
	}
	exchangeCounter.WithLabelValues(pair, result).Inc()
}

func IncrementCardAuthorization(code string) {
	if cardAuthCounter == nil {
		return
	}
	if code == "" {
		code = "OK"
	}
	cardAuthCounter.WithLabelValues(code).Inc()
}

func SetEscrowPending(currency string, micros int64) {
	if escrowPendingGauge == nil {
		return
	}
	escrowPendingGauge.WithLabelValues(currency).Set(float64(micros))
}

func IncrementLedgerDivergence(currency string) {
	if ledgerDivergence == nil {
		return
	}
	ledgerDivergence.WithLabelValues(currency).Inc()
}

func IncrementIdempotencyEvent(outcome string) {
	if idempotencyCounter == nil {
		return
	}
	idempotencyCounter.WithLabelValues(outcome).Inc()
}

func IncrementIntentTransition(status string) {
	if intentTransitionCount == nil {
		return
	}
	intentTransitionCount.WithLabelValues(status).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
