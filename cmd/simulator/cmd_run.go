package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/signal"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/signalsfoundry/spikesim/core"
	"github.com/signalsfoundry/spikesim/internal/config"
	"github.com/signalsfoundry/spikesim/internal/logging"
	"github.com/signalsfoundry/spikesim/internal/monitor"
	"github.com/signalsfoundry/spikesim/internal/observability"
	"github.com/signalsfoundry/spikesim/internal/spikestore"
	"github.com/spf13/cobra"
)

func newRunCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run a scenario once",
		Long: `Run builds the scenario, simulates [0, duration) and prints a summary.

Settings are layered: scenario file, then SIM_* and LOG_* environment
variables, then flags.

Examples:
  simulator run --config configs/ifcurve.yaml
  simulator run --config configs/ifcurve.yaml --duration 1 --spike-db out/spikes.db
  simulator run --config configs/ifcurve.yaml --metrics-addr :9090 --hold`,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := loadScenario(cmd)
			if err != nil {
				return err
			}
			jsonOut, _ := cmd.Flags().GetBool("json")
			hold, _ := cmd.Flags().GetBool("hold")

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			log := logging.New(logging.Config{
				Level:  s.Logging.Level,
				Format: s.Logging.Format,
				Output: cmd.ErrOrStderr(),
			})
			shutdown, err := observability.InitTracing(ctx, observability.TracingConfigFromEnv(), log)
			if err != nil {
				return fmt.Errorf("init tracing: %w", err)
			}
			defer observability.ShutdownWithTimeout(context.Background(), shutdown, log)

			sum, err := runScenario(ctx, s, log, runOptions{hold: hold})
			if sum != nil {
				if perr := printSummary(cmd.OutOrStdout(), sum, jsonOut); perr != nil && err == nil {
					err = perr
				}
			}
			return err
		},
	}

	cmd.Flags().Float64("duration", 0, "Simulated duration in seconds (overrides the scenario)")
	cmd.Flags().Float64("dt", 0, "Clock step in seconds (overrides the scenario)")
	cmd.Flags().String("spike-db", "", "SQLite file to persist spike monitors to")
	cmd.Flags().String("metrics-addr", "", "HTTP address for Prometheus /metrics")
	cmd.Flags().String("status-addr", "", "TCP address for the gRPC health/status service")
	cmd.Flags().Bool("hold", false, "Keep metrics and status surfaces up after the run until interrupted")
	return cmd
}

// loadScenario layers the scenario file, the environment and explicitly set
// flags, then validates the result.
func loadScenario(cmd *cobra.Command) (*config.Scenario, error) {
	path, _ := cmd.Flags().GetString("config")
	s := config.Default()
	if path != "" {
		var err error
		if s, err = config.Load(path); err != nil {
			return nil, err
		}
	}
	if err := s.ApplyEnv(); err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if flags.Changed("duration") {
		s.Duration, _ = flags.GetFloat64("duration")
	}
	if flags.Changed("dt") {
		s.DT, _ = flags.GetFloat64("dt")
	}
	if flags.Changed("spike-db") {
		s.SpikeDB, _ = flags.GetString("spike-db")
	}
	if flags.Changed("metrics-addr") {
		s.Server.MetricsAddr, _ = flags.GetString("metrics-addr")
	}
	if flags.Changed("status-addr") {
		s.Server.StatusAddr, _ = flags.GetString("status-addr")
	}

	if err := s.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

type runOptions struct {
	hold bool
	// registry replaces the per-run Prometheus registry in tests.
	registry *prometheus.Registry
}

type runSummary struct {
	RunID    string           `json:"run_id"`
	Scenario string           `json:"scenario"`
	DT       float64          `json:"dt"`
	Duration float64          `json:"duration"`
	Steps    int64            `json:"steps"`
	Events   int64            `json:"events"`
	Wall     time.Duration    `json:"wall_ns"`
	Monitors []monitorSummary `json:"monitors,omitempty"`
	SpikeDB  string           `json:"spike_db,omitempty"`
	Error    string           `json:"error,omitempty"`
}

type monitorSummary struct {
	Name   string `json:"name"`
	Source string `json:"source"`
	Spikes int    `json:"spikes"`
}

// runScenario builds and runs s with metrics, status and persistence wired
// according to its settings. The summary is returned even when the run
// fails part-way.
func runScenario(ctx context.Context, s *config.Scenario, log logging.Logger, opts runOptions) (*runSummary, error) {
	reg := opts.registry
	if reg == nil {
		reg = prometheus.NewRegistry()
		reg.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	collector, err := observability.NewSimCollector(reg)
	if err != nil {
		return nil, fmt.Errorf("init metrics collector: %w", err)
	}

	sim, err := build(s, core.WithLogger(log), core.WithRecorder(collector))
	if err != nil {
		return nil, err
	}
	defer sim.close()

	metricsSrv := serveMetrics(ctx, s.Server.MetricsAddr, collector, log)
	defer shutdownHTTP(metricsSrv)

	var status *monitor.Server
	if s.Server.StatusAddr != "" {
		lis, err := net.Listen("tcp", s.Server.StatusAddr)
		if err != nil {
			return nil, fmt.Errorf("listen for status service on %s: %w", s.Server.StatusAddr, err)
		}
		status = monitor.NewServer(log, collector)
		status.Track(sim.net)
		go func() {
			if err := status.Serve(lis); err != nil {
				log.Error(ctx, "status server exited", logging.Error(err))
			}
		}()
		log.Info(ctx, "serving run status", logging.String("addr", lis.Addr().String()))
		defer status.Stop()
	}

	ctx, runID := logging.EnsureRunID(ctx)
	if status != nil {
		status.MarkRunning(ctx, runID)
	}
	started := time.Now()
	stats, runErr := sim.net.Run(ctx, s.Duration)
	collector.RecordRun(runErr)
	if status != nil {
		status.MarkFinished(ctx, runErr)
	}

	sum := &runSummary{
		RunID:    runID,
		Scenario: s.Name,
		DT:       sim.clock.DT(),
		Duration: s.Duration,
		Steps:    stats.Steps,
		Events:   stats.Events,
		Wall:     stats.Wall,
	}
	for _, m := range sim.spikes {
		sum.Monitors = append(sum.Monitors, monitorSummary{Name: m.Name(), Source: m.Source().Name(), Spikes: m.Total()})
	}
	if runErr != nil {
		sum.Error = runErr.Error()
		return sum, runErr
	}

	if s.SpikeDB != "" {
		if err := persist(ctx, s, sim, runID, started, stats); err != nil {
			return sum, err
		}
		sum.SpikeDB = s.SpikeDB
		log.Info(ctx, "spikes persisted", logging.String("path", s.SpikeDB), logging.Int("monitors", len(sim.spikes)))
	}

	if opts.hold && (metricsSrv != nil || status != nil) {
		log.Info(ctx, "run complete; holding surfaces until interrupted")
		stopCtx, stop := signal.NotifyContext(ctx, os.Interrupt)
		defer stop()
		<-stopCtx.Done()
	}
	return sum, nil
}

func persist(ctx context.Context, s *config.Scenario, sim *simulation, runID string, started time.Time, stats core.RunStats) error {
	store, err := spikestore.Open(ctx, s.SpikeDB)
	if err != nil {
		return err
	}
	defer store.Close()

	recs := make([]spikestore.Recording, 0, len(sim.spikes))
	for _, m := range sim.spikes {
		recs = append(recs, spikestore.Recording{Monitor: m.Name(), Source: m.Source().Name(), Spikes: m.Spikes()})
	}
	run := spikestore.RunFromStats(runID, s.Name, sim.clock.DT(), s.Duration, started, stats)
	return store.SaveRun(ctx, run, recs)
}

func serveMetrics(ctx context.Context, addr string, collector *observability.SimCollector, log logging.Logger) *http.Server {
	if addr == "" || collector == nil {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", collector.Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Warn(ctx, "metrics server exited", logging.Error(err))
		}
	}()

	log.Info(ctx, "serving Prometheus metrics", logging.String("addr", addr))
	return srv
}

func shutdownHTTP(srv *http.Server) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(ctx)
}

func printSummary(w io.Writer, sum *runSummary, jsonOut bool) error {
	if jsonOut {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(sum)
	}
	fmt.Fprintf(w, "run %s (%s): %d steps, %d events, wall %s\n", sum.RunID, sum.Scenario, sum.Steps, sum.Events, sum.Wall)
	for _, m := range sum.Monitors {
		fmt.Fprintf(w, "  %-16s %-16s %d spikes\n", m.Name, m.Source, m.Spikes)
	}
	if sum.SpikeDB != "" {
		fmt.Fprintf(w, "spikes written to %s\n", sum.SpikeDB)
	}
	if sum.Error != "" {
		fmt.Fprintf(w, "error: %s\n", sum.Error)
	}
	return nil
}
