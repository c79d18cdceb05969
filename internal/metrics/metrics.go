package metrics

import (
	"context"
	"errors"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Collection outcomes used as the "outcome" label.
const (
	OutcomeExhausted = "exhausted"
	OutcomeCapped    = "capped"
	OutcomeError     = "error"
)

var (
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gleaner_upstream_requests_total",
			Help: "Total number of upstream API requests executed",
		},
		[]string{"source", "status", "detected", "detection_src"},
	)

	UpstreamDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "gleaner_upstream_duration_seconds",
			Help:    "Duration of upstream API requests in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		},
		[]string{"source"},
	)

	UpstreamBytesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gleaner_upstream_bytes_total",
			Help: "Total response bytes read from upstream APIs",
		},
		[]string{"source"},
	)

	ProxyFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gleaner_proxy_failures_total",
			Help: "Total number of proxy failures during upstream requests",
		},
		[]string{"proxy_url"},
	)

	ItemsCollected = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gleaner_items_collected_total",
			Help: "Total number of items accumulated by paginated collections",
		},
		[]string{"source"},
	)

	CollectionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gleaner_collections_total",
			Help: "Paginated collections by how they ended",
		},
		[]string{"source", "outcome"},
	)
)

// RecordUpstream updates the request metrics for one upstream call. A non-nil
// err is recorded under status "error".
func RecordUpstream(source string, status int, err error, detectionSrc string, d time.Duration, bytes int) {
	statusStr := strconv.Itoa(status)
	if err != nil && status == 0 {
		statusStr = "error"
	}
	detected := "false"
	if detectionSrc != "" {
		detected = "true"
	}

	UpstreamRequestsTotal.WithLabelValues(source, statusStr, detected, detectionSrc).Inc()
	UpstreamDuration.WithLabelValues(source).Observe(d.Seconds())
	UpstreamBytesTotal.WithLabelValues(source).Add(float64(bytes))
}

// RecordCollection records the end of one paginated collection.
func RecordCollection(source string, items int, outcome string) {
	ItemsCollected.WithLabelValues(source).Add(float64(items))
	CollectionsTotal.WithLabelValues(source, outcome).Inc()
}

// Handler returns the /metrics mux.
func Handler() http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	return mux
}

// Serve exposes /metrics on addr until ctx is cancelled, then shuts the
// server down gracefully.
func Serve(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return serve(ctx, ln)
}

func serve(ctx context.Context, ln net.Listener) error {
	srv := &http.Server{
		Handler:           Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.Serve(ln)
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}
