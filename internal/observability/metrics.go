package observability

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"google.golang.org/grpc"
	"google.golang.org/grpc/status"
)

// SimCollector bundles Prometheus metrics for simulation runs and the status
// server. It satisfies core.StepRecorder so a Network can feed it directly.
type SimCollector struct {
	gatherer prometheus.Gatherer

	Steps        prometheus.Counter
	StepDuration prometheus.Histogram
	Events       *prometheus.CounterVec
	Objects      prometheus.Gauge
	Runs         *prometheus.CounterVec

	RPCRequests  *prometheus.CounterVec
	RPCDurations *prometheus.HistogramVec
}

// NewSimCollector registers simulation metrics against the provided
// registerer, defaulting to the global Prometheus registry when nil.
// Collectors already registered under the same name are reused.
func NewSimCollector(reg prometheus.Registerer) (*SimCollector, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	gatherer := prometheus.DefaultGatherer
	if g, ok := reg.(prometheus.Gatherer); ok {
		gatherer = g
	}

	c := &SimCollector{gatherer: gatherer}
	var err error

	if c.Steps, err = register(reg, prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sim_steps_total",
		Help: "Total number of completed simulation steps.",
	}), "sim_steps_total"); err != nil {
		return nil, err
	}
	if c.StepDuration, err = register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sim_step_duration_seconds",
		Help:    "Wall-clock time spent updating every object for one step.",
		Buckets: []float64{1e-6, 5e-6, 1e-5, 5e-5, 1e-4, 5e-4, 1e-3, 5e-3, 0.01, 0.05, 0.1},
	}), "sim_step_duration_seconds"); err != nil {
		return nil, err
	}
	if c.Events, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_events_total",
		Help: "Total number of events emitted, labeled by the emitting object.",
	}, []string{"object"}), "sim_events_total"); err != nil {
		return nil, err
	}
	if c.Objects, err = register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sim_objects",
		Help: "Number of objects registered with the network.",
	}), "sim_objects"); err != nil {
		return nil, err
	}
	if c.Runs, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "sim_runs_total",
		Help: "Total number of runs, labeled by outcome (ok or error).",
	}, []string{"outcome"}), "sim_runs_total"); err != nil {
		return nil, err
	}
	if c.RPCRequests, err = register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "monitor_requests_total",
		Help: "Total number of handled status RPCs, labeled by service, method, and gRPC status code.",
	}, []string{"service", "method", "code"}), "monitor_requests_total"); err != nil {
		return nil, err
	}
	if c.RPCDurations, err = register(reg, prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "monitor_request_duration_seconds",
		Help:    "Status RPC latency in seconds.",
		Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"service", "method"}), "monitor_request_duration_seconds"); err != nil {
		return nil, err
	}
	return c, nil
}

// ObserveStep records one completed step and how long it took.
func (c *SimCollector) ObserveStep(d time.Duration) {
	if c == nil {
		return
	}
	if c.Steps != nil {
		c.Steps.Inc()
	}
	if c.StepDuration != nil {
		c.StepDuration.Observe(d.Seconds())
	}
}

// AddEvents adds n events emitted by object on the current step.
func (c *SimCollector) AddEvents(object string, n int) {
	if c == nil || c.Events == nil || n <= 0 {
		return
	}
	c.Events.WithLabelValues(object).Add(float64(n))
}

// SetObjects updates the registered object gauge.
func (c *SimCollector) SetObjects(n int) {
	if c == nil || c.Objects == nil {
		return
	}
	c.Objects.Set(float64(n))
}

// RecordRun counts a finished run by outcome.
func (c *SimCollector) RecordRun(err error) {
	if c == nil || c.Runs == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	c.Runs.WithLabelValues(outcome).Inc()
}

// Gatherer returns the Prometheus gatherer associated with the collector.
func (c *SimCollector) Gatherer() prometheus.Gatherer {
	if c == nil {
		return nil
	}
	return c.gatherer
}

// UnaryServerInterceptor records request counts and durations for unary RPCs.
func (c *SimCollector) UnaryServerInterceptor() grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		if c == nil {
			return resp, err
		}

		fullMethod := ""
		if info != nil {
			fullMethod = info.FullMethod
		}
		service, method := SplitMethod(fullMethod)
		if c.RPCRequests != nil {
			c.RPCRequests.WithLabelValues(service, method, status.Code(err).String()).Inc()
		}
		if c.RPCDurations != nil {
			c.RPCDurations.WithLabelValues(service, method).Observe(time.Since(start).Seconds())
		}
		return resp, err
	}
}

// Handler exposes a ready-to-use /metrics handler.
func (c *SimCollector) Handler() http.Handler {
	gatherer := c.Gatherer()
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}

// SplitMethod parses a fully-qualified gRPC method name into service and method
// components, returning "unknown"/"unknown" when parsing fails.
func SplitMethod(fullMethod string) (string, string) {
	parts := strings.Split(strings.TrimPrefix(fullMethod, "/"), "/")
	if len(parts) < 2 {
		return "unknown", "unknown"
	}
	service, method := parts[len(parts)-2], parts[len(parts)-1]
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

// register adds col to reg, or returns the collector already registered
// under the same descriptor when it has the same type.
func register[C prometheus.Collector](reg prometheus.Registerer, col C, name string) (C, error) {
	if err := reg.Register(col); err != nil {
		if are, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
			var zero C
			return zero, fmt.Errorf("collector %s already registered with incompatible type", name)
		}
		var zero C
		return zero, err
	}
	return col, nil
}
