package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eligibility_http_requests_total",
			Help: "Total HTTP requests by route and code",
		}, []string{"route", "code"},
	)
	Latency = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "eligibility_http_request_duration_seconds",
		Help:    "Request latency seconds",
		Buckets: prometheus.DefBuckets,
	}, []string{"route"})
	InFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "eligibility_http_in_flight",
		Help: "In-flight HTTP requests",
	})

	PassDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "eligibility_pass_duration_seconds",
		Help:    "Duration of one eligibility pass over a batch of creatives",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 1},
	})
	CreativesEvaluated = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eligibility_creatives_evaluated_total",
			Help: "Creatives evaluated by outcome",
		}, []string{"outcome"},
	)
	SnapshotEvents = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "eligibility_snapshot_events",
		Help: "Events in the currently published snapshot",
	})
	RefreshErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "eligibility_refresh_errors_total",
			Help: "Failed snapshot or catalog refreshes",
		}, []string{"source"},
	)
)

func init() {
	prometheus.MustRegister(RequestsTotal, Latency, InFlight, PassDuration, CreativesEvaluated, SnapshotEvents, RefreshErrors)
}

func MetricsHandler() http.Handler { return promhttp.Handler() }

// ObservePass records one pass: its duration and how many creatives were eligible.
func ObservePass(d time.Duration, eligible, excluded int) {
	PassDuration.Observe(d.Seconds())
	CreativesEvaluated.WithLabelValues("eligible").Add(float64(eligible))
	CreativesEvaluated.WithLabelValues("excluded").Add(float64(excluded))
}

type rec struct {
	http.ResponseWriter
	code int
}

func (r *rec) WriteHeader(code int) {
	r.code = code
	r.ResponseWriter.WriteHeader(code)
}

func Measure(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		InFlight.Inc()
		defer InFlight.Dec()

		rr := &rec{ResponseWriter: w, code: http.StatusOK}
		next.ServeHTTP(rr, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil && rc.RoutePattern() != "" {
			route = rc.RoutePattern()
		}
		Latency.WithLabelValues(route).Observe(time.Since(start).Seconds())
		RequestsTotal.WithLabelValues(route, strconv.Itoa(rr.code)).Inc()
	})
}
