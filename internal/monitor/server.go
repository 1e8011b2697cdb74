// Package monitor exposes the state of a simulation run over gRPC using the
// standard health service. Its status is NOT_SERVING until a run starts,
// SERVING while it runs and NOT_SERVING again once it finishes. Every
// response carries the run ID, the last completed step and the outcome of the
// most recent run as headers.
package monitor

import (
	"context"
	"errors"
	"math"
	"net"
	"sync"
	"sync/atomic"

	"github.com/signalsfoundry/spikesim/core"
	"github.com/signalsfoundry/spikesim/internal/logging"
	"github.com/signalsfoundry/spikesim/internal/observability"
	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// ServiceName is the health service name reporting run status. The empty
// service name reports the same status.
const ServiceName = "spikesim.Simulation"

// Progress is a snapshot of the most recently completed step. Outcome is nil
// while a run is in flight or once it succeeded, and holds the run's failure
// mapped with ToStatusError otherwise.
type Progress struct {
	RunID   string
	Step    int64
	Time    float64
	Outcome *status.Status
}

// Server serves run status over gRPC.
type Server struct {
	grpc   *grpc.Server
	health *health.Server
	log    logging.Logger

	mu      sync.RWMutex
	runID   string
	outcome *status.Status

	step  atomic.Int64
	tbits atomic.Uint64
}

// NewServer builds a status server. collector may be nil.
func NewServer(log logging.Logger, collector *observability.SimCollector) *Server {
	if log == nil {
		log = logging.Noop()
	}
	s := &Server{
		health: health.NewServer(),
		log:    log,
	}
	s.step.Store(-1)

	interceptors := []grpc.UnaryServerInterceptor{
		RunInfoUnaryServerInterceptor(log, s.Progress),
		TracingUnaryServerInterceptor(),
	}
	if collector != nil {
		interceptors = append(interceptors, collector.UnaryServerInterceptor())
	}
	interceptors = append(interceptors, StatusErrorUnaryServerInterceptor())

	s.grpc = grpc.NewServer(
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(interceptors...),
	)
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

// Track registers a step listener on n that publishes progress.
func (s *Server) Track(n *core.Network) {
	n.RegisterStepListener(func(step int64, t float64) {
		s.step.Store(step)
		s.tbits.Store(math.Float64bits(t))
	})
}

// MarkRunning flips the status to SERVING for run runID.
func (s *Server) MarkRunning(ctx context.Context, runID string) {
	s.mu.Lock()
	s.runID = runID
	s.outcome = nil
	s.mu.Unlock()
	s.step.Store(-1)
	s.tbits.Store(0)
	s.setStatus(healthpb.HealthCheckResponse_SERVING)
	s.log.Debug(ctx, "status serving", logging.String("run_id", runID))
}

// MarkFinished flips the status back to NOT_SERVING and records the run's
// outcome.
func (s *Server) MarkFinished(ctx context.Context, err error) {
	s.mu.Lock()
	if err != nil {
		s.outcome = status.Convert(ToStatusError(err))
	} else {
		s.outcome = nil
	}
	s.mu.Unlock()
	s.setStatus(healthpb.HealthCheckResponse_NOT_SERVING)
	fields := []logging.Field{logging.String("run_id", s.RunID())}
	if err != nil {
		fields = append(fields, logging.Error(err))
	}
	s.log.Debug(ctx, "status not serving", fields...)
}

// RunID returns the ID of the current or most recent run.
func (s *Server) RunID() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.runID
}

// Progress returns the last completed step. Step is -1 before the first
// step of a run completes.
func (s *Server) Progress() Progress {
	s.mu.RLock()
	p := Progress{RunID: s.runID, Outcome: s.outcome}
	s.mu.RUnlock()
	p.Step = s.step.Load()
	p.Time = math.Float64frombits(s.tbits.Load())
	return p
}

// Serve accepts connections on lis until Stop is called.
func (s *Server) Serve(lis net.Listener) error {
	if err := s.grpc.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return err
	}
	return nil
}

// Stop marks every service as not serving and drains in-flight RPCs.
func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}

func (s *Server) setStatus(st healthpb.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}
