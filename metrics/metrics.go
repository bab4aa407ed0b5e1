package metrics

import (
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	Requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghome_http_requests_total",
			Help: "Total HTTP requests by endpoint, method and status.",
		},
		[]string{"endpoint", "method", "status"},
	)
	Intents = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghome_intents_total",
			Help: "Fulfillment intents handled, by intent.",
		},
		[]string{"intent"},
	)
	Executions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghome_executions_total",
			Help: "Device command executions by command and status.",
		},
		[]string{"command", "status"},
	)
	StateReports = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ghome_state_reports_total",
			Help: "State reports pushed to the notification sinks, by result.",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(Requests, Intents, Executions, StateReports)
}

func Handler() http.Handler {
	return promhttp.Handler()
}

// Middleware counts every request except scrapes of the metrics endpoint itself.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		Requests.WithLabelValues(r.URL.Path, r.Method, strconv.Itoa(status)).Inc()
	})
}
