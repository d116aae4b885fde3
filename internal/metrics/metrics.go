package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	// HTTP метрики
	HTTPRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)
	HTTPRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "http_request_duration_seconds",
			Help: "Duration of HTTP requests in seconds",
		},
		[]string{"method", "path"},
	)
	HTTPRequestsInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Current number of HTTP requests in flight",
		},
	)

	// Метрики биржевых API
	ExchangeAPIRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "exchange_api_requests_total",
			Help: "Total number of exchange API requests",
		},
		[]string{"exchange", "endpoint", "status"},
	)
	ExchangeAPIRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "exchange_api_request_duration_seconds",
			Help: "Duration of exchange API requests in seconds",
		},
		[]string{"exchange", "endpoint"},
	)

	// Метрики обучения и решений
	TrainDuration = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name: "pattern_train_duration_seconds",
			Help: "Duration of pattern training passes in seconds",
		},
	)
	DecisionsGenerated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decisions_generated_total",
			Help: "Total number of generated trade suggestions",
		},
		[]string{"type"},
	)
	ExecutionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "decision_executions_total",
			Help: "Total number of decision execution attempts",
		},
		[]string{"result"},
	)

	// Метрики риск-контура
	RiskBlockedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "risk_blocked_total",
			Help: "Total number of executions blocked by risk gates",
		},
		[]string{"gate"},
	)
	KillSwitchActivations = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "kill_switch_activations_total",
			Help: "Total number of kill switch activations",
		},
	)
)

func InitMetrics() {
	// Регистрация HTTP метрик
	prometheus.MustRegister(HTTPRequestsTotal)
	prometheus.MustRegister(HTTPRequestDuration)
	prometheus.MustRegister(HTTPRequestsInFlight)

	// Регистрация биржевых метрик
	prometheus.MustRegister(ExchangeAPIRequestsTotal)
	prometheus.MustRegister(ExchangeAPIRequestDuration)

	// Регистрация метрик обучения и исполнения
	prometheus.MustRegister(TrainDuration)
	prometheus.MustRegister(DecisionsGenerated)
	prometheus.MustRegister(ExecutionsTotal)

	// Регистрация риск-метрик
	prometheus.MustRegister(RiskBlockedTotal)
	prometheus.MustRegister(KillSwitchActivations)

	// Стандартные метрики Go
	prometheus.MustRegister(prometheus.NewGoCollector())
	prometheus.MustRegister(prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}))
}
