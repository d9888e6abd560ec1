package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP-wide metrics.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Authorization subsystem metrics.
var (
	authzDenials = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "authz_denials_total",
			Help: "Requests denied by the authorization guard.",
		},
		[]string{"reason"},
	)

	tokenRefreshes = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "auth_token_refresh_total",
			Help: "Refresh token exchanges by result.",
		},
		[]string{"result"},
	)

	tokensRevoked = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "auth_tokens_revoked_total",
		Help: "Token identifiers added to the revocation registry.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		authzDenials, tokenRefreshes, tokensRevoked,
	)
}

// Handler exposes the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// AuthzDenied counts a guard denial. Reason is one of
// "unauthenticated", "revoked", "forbidden".
func AuthzDenied(reason string) {
	authzDenials.WithLabelValues(reason).Inc()
}

// TokenRefresh counts a refresh exchange with result "ok" or "rejected".
func TokenRefresh(result string) {
	tokenRefreshes.WithLabelValues(result).Inc()
}

// TokenRevoked counts a revocation registry insert.
func TokenRevoked() {
	tokensRevoked.Inc()
}

// RegisterBlacklistGauge exposes the revocation registry size via a callback,
// so sampling happens at scrape time.
func RegisterBlacklistGauge(size func() int) {
	prometheus.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
		Name: "auth_blacklist_entries",
		Help: "Entries currently held by the revocation registry.",
	}, func() float64 {
		return float64(size())
	}))
}

// CanonicalPath collapses identifier segments so metric label cardinality
// stays bounded.
func CanonicalPath(path string) string {
	if path == "" {
		return "/"
	}
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	for _, prefix := range []string{"/v1/roles/", "/v1/permission-templates/"} {
		if rest, ok := strings.CutPrefix(path, prefix); ok && rest != "" {
			switch {
			case !strings.Contains(rest, "/"):
				return prefix + ":id"
			case strings.HasSuffix(rest, "/permissions") && strings.Count(rest, "/") == 1:
				return prefix + ":id/permissions"
			}
		}
	}
	if rest, ok := strings.CutPrefix(path, "/v1/users/"); ok && rest != "" {
		if i := strings.IndexByte(rest, '/'); i > 0 {
			switch tail := rest[i:]; {
			case tail == "/permissions" || tail == "/assignments":
				return "/v1/users/:id" + tail
			case strings.HasPrefix(tail, "/assignments/") && strings.Count(tail, "/") == 2:
				return "/v1/users/:id/assignments/:roleID"
			}
		}
	}
	return path
}

// Instrument wraps next with RPS, latency and in-flight accounting.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response code for labeling.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}
