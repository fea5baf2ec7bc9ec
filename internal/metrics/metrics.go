package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Cycles = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flatseek_cycles_total",
		Help: "Total bot cycles",
	})
	CycleErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flatseek_cycle_errors_total",
		Help: "Total cycles that ended with an error",
	})
	CycleDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "flatseek_cycle_duration_seconds",
		Help:    "Cycle duration seconds",
		Buckets: prometheus.DefBuckets,
	})
	MessagesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flatseek_messages_sent_total",
		Help: "Total messages dispatched",
	})
	SendErrors = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "flatseek_send_errors_total",
		Help: "Total failed message sends",
	})
	Logins = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flatseek_logins_total",
		Help: "Login attempts by strategy and outcome",
	}, []string{"strategy", "outcome"})
	APIRetries = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flatseek_api_retries_total",
		Help: "Total API retry attempts",
	}, []string{"endpoint"})
	CommandRuns = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flatseek_command_runs_total",
		Help: "CLI command invocations",
	}, []string{"command"})
	CommandErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "flatseek_command_errors_total",
		Help: "CLI command failures",
	}, []string{"command"})
)

func init() {
	prometheus.MustRegister(
		Cycles, CycleErrors, CycleDuration,
		MessagesSent, SendErrors,
		Logins, APIRetries,
		CommandRuns, CommandErrors,
	)
}

// StartServer starts a metrics HTTP server on addr when non-empty.
func StartServer(addr string) {
	if addr == "" {
		return
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusOK) })
	go func() { _ = http.ListenAndServe(addr, mux) }()
}

// ObserveCycleDuration records one cycle duration.
func ObserveCycleDuration(start time.Time) {
	CycleDuration.Observe(time.Since(start).Seconds())
}

// IncAPIRetry increments the retry counter for an endpoint.
func IncAPIRetry(endpoint string) { APIRetries.WithLabelValues(endpoint).Inc() }

// IncLogin records a login attempt outcome for a strategy.
func IncLogin(strategy, outcome string) { Logins.WithLabelValues(strategy, outcome).Inc() }

// IncCommandRun counts a CLI command invocation.
func IncCommandRun(cmd string) { CommandRuns.WithLabelValues(cmd).Inc() }

// IncCommandError counts a CLI command failure.
func IncCommandError(cmd string) { CommandErrors.WithLabelValues(cmd).Inc() }
