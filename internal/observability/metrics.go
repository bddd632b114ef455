package observability

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"

	"github.com/lmux/antenna-coverage/core"
)

// Run outcomes reported on coverage_runs_total.
const (
	OutcomeOK        = "ok"
	OutcomeInvalid   = "invalid"
	OutcomeCancelled = "cancelled"
	OutcomeError     = "error"
)

// CoverageCollector bundles Prometheus metrics for coverage runs and the RPC
// surface and provides helpers to wire them into gRPC servers and HTTP
// handlers.
type CoverageCollector struct {
	gatherer prometheus.Gatherer

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec

	Runs         *prometheus.CounterVec
	RunDurations prometheus.Histogram
	Samples      *prometheus.CounterVec
	Sites        prometheus.Gauge
}

// NewCoverageCollector registers coverage Prometheus metrics against the
// provided registerer, defaulting to the global Prometheus registry when nil.
func NewCoverageCollector(reg prometheus.Registerer) (*CoverageCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	requests, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coverage_rpc_requests_total",
		Help: "Total number of handled coverage RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "coverage_rpc_requests_total")
	if err != nil {
		return nil, err
	}

	durations, err := registerHistogramVec(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "coverage_rpc_duration_seconds",
		Help:    "Coverage RPC latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10, 30, 60},
	}, []string{"service", "method"}), "coverage_rpc_duration_seconds")
	if err != nil {
		return nil, err
	}

	runs, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coverage_runs_total",
		Help: "Coverage computations, labeled by outcome.",
	}, []string{"outcome"}), "coverage_runs_total")
	if err != nil {
		return nil, err
	}

	runDurations, err := registerHistogram(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "coverage_run_duration_seconds",
		Help:    "Wall time of coverage computations in seconds.",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 14),
	}), "coverage_run_duration_seconds")
	if err != nil {
		return nil, err
	}

	samples, err := registerCounterVec(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "coverage_samples_total",
		Help: "Terrain samples walked by coverage computations, labeled by class.",
	}, []string{"class"}), "coverage_samples_total")
	if err != nil {
		return nil, err
	}

	sites, err := registerGauge(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "coverage_sites",
		Help: "Current number of registered antenna sites.",
	}), "coverage_sites")
	if err != nil {
		return nil, err
	}

	return &CoverageCollector{
		gatherer:     gatherer,
		RPCRequests:  requests,
		RPCDurations: durations,
		Runs:         runs,
		RunDurations: runDurations,
		Samples:      samples,
		Sites:        sites,
	}, nil
}

// ObserveCoverage satisfies core.MetricsRecorder.
func (c *CoverageCollector) ObserveCoverage(stats core.CoverageStats, elapsed time.Duration, err error) {
	if c == nil {
		return
	}
	if c.Runs != nil {
		c.Runs.WithLabelValues(RunOutcome(err)).Inc()
	}
	if c.RunDurations != nil {
		c.RunDurations.Observe(elapsed.Seconds())
	}
	if c.Samples != nil {
		c.Samples.WithLabelValues("good").Add(float64(stats.Good))
		c.Samples.WithLabelValues("okay").Add(float64(stats.Okay))
		c.Samples.WithLabelValues("bad").Add(float64(stats.Bad))
		c.Samples.WithLabelValues("obstructed").Add(float64(stats.Obstructed))
		c.Samples.WithLabelValues("unavailable").Add(float64(stats.Unavailable))
	}
}

// RunOutcome maps a ComputeCoverage error to its outcome label.
func RunOutcome(err error) string {
	switch {
	case err == nil:
		return OutcomeOK
	case core.IsConfigError(err):
		return OutcomeInvalid
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return OutcomeCancelled
	default:
		return OutcomeError
	}
}

// SetSites updates the registered-site gauge.
func (c *CoverageCollector) SetSites(n int) {
	if c == nil || c.Sites == nil {
		return
	}
	c.Sites.Set(float64(n))
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *CoverageCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		c.observeRPC(fullMethod, start, err)
		return resp, err
	}
}

// StreamServerInterceptor records request counts and whole-stream durations
// for streaming RPCs.
func (c *CoverageCollector) StreamServerInterceptor() grpc.StreamServerInterceptor {
	return func(srv interface{}, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		start := time.Now()
		err := handler(srv, ss)

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		c.observeRPC(fullMethod, start, err)
		return err
	}
}

func (c *CoverageCollector) observeRPC(fullMethod string, start time.Time, err error) {
	if c == nil {
		return
	}
	service, method := SplitMethod(fullMethod)
	code := status.Code(err).String()

	if c.RPCRequests != nil {
		c.RPCRequests.WithLabelValues(service, method, code).Inc()
	}
	if c.RPCDurations != nil {
		c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *CoverageCollector) Handler() http.Handler {
	gatherer := c.gatherer
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *CoverageCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components. It tolerates empty strings and partial paths, returning
// "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	if fullMethod == "" {
		return "unknown", "unknown"
	}
	fullMethod = strings.TrimPrefix(fullMethod, "/")
	parts := strings.Split(fullMethod, "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service := parts[len(parts)-2]
	method := parts[len(parts)-1]
	if dot := strings.LastIndex(service, "."); dot >= 0 && dot+1 < len(service) {
		service = service[dot+1:]
	}
	if service == "" {
		service = "unknown"
	}
	if method == "" {
		method = "unknown"
	}
	return service, method
}

func registerCounterVec(reg prometheus.Registerer, vec *prometheus.CounterVec, name string) (*prometheus.CounterVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogramVec(reg prometheus.Registerer, vec *prometheus.HistogramVec, name string) (*prometheus.HistogramVec, error) {
	if err := reg.Register(vec); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return vec, nil
}

func registerHistogram(reg prometheus.Registerer, hist prometheus.Histogram, name string) (prometheus.Histogram, error) {
	if err := reg.Register(hist); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Histogram); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return hist, nil
}

func registerGauge(reg prometheus.Registerer, gauge prometheus.Gauge, name string) (prometheus.Gauge, error) {
	if err := reg.Register(gauge); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(prometheus.Gauge); ok {
				return existing, nil
			}
			return nil, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		return nil, err
	}
	return gauge, nil
}
