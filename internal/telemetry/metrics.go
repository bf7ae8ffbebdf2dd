package telemetry

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Фазы выполнения шага для меток метрик.
const (
	PhaseExecute    = "execute"
	PhaseCompensate = "compensate"
)

// Метрики саг. Регистрируются в prometheus.DefaultRegisterer.
var (
	SagasStarted = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_saga_started_total",
		Help: "Sagas created",
	}, []string{"saga_type"})

	SagasFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_saga_finished_total",
		Help: "Sagas that reached a terminal status",
	}, []string{"saga_type", "status"})

	StepOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_saga_step_total",
		Help: "Step executions and compensations by outcome",
	}, []string{"step", "phase", "outcome"})

	StepRetries = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_saga_step_retries_total",
		Help: "Retries of steps after transient storage errors",
	}, []string{"step", "phase"})

	StepDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wallet_saga_step_duration_seconds",
		Help:    "Step duration including retries",
		Buckets: prometheus.DefBuckets,
	}, []string{"step", "phase"})

	DeadLetters = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_saga_dead_letters_total",
		Help: "Sagas moved to the dead-letter store",
	}, []string{"saga_type"})

	RecoverySweeps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wallet_recovery_sweeps_total",
		Help: "Recovery sweeps executed",
	})

	RecoveryActions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_recovery_recovered_total",
		Help: "Stalled sagas handled by the recovery sweep",
	}, []string{"action"})

	HTTPRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wallet_api_http_requests_total",
		Help: "HTTP requests handled by wallet-api",
	}, []string{"method", "status"})
)
