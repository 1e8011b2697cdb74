package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/signalsfoundry/spikesim/core"
)

const sampleScenario = `
name: if-curve
dt: 0.0001
duration: 0.5
generators:
  - name: input
    n: 2
    indices: [0, 1, 0]
    times: [0.001, 0.002, 0.003]
    period: 0.01
groups:
  - name: neurons
    model: ifcurve
    n: 100
    params:
      v0_max: 0.03
    refractory: 0.005
monitors:
  - name: spikes
    kind: spike
    source: neurons
  - name: membrane
    kind: state
    source: neurons
    variable: v
    indices: [0, 50, 99]
logging:
  level: debug
  format: json
server:
  metrics_addr: ":9090"
spike_db: spikes.db
`

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write scenario: %v", err)
	}
	return path
}

func TestDefault(t *testing.T) {
	s := Default()
	if s.DT != 1e-4 {
		t.Errorf("expected DT 1e-4, got %v", s.DT)
	}
	if s.Duration != 0.1 {
		t.Errorf("expected Duration 0.1, got %v", s.Duration)
	}
	if s.Logging.Level != "info" || s.Logging.Format != "text" {
		t.Errorf("unexpected logging defaults: %+v", s.Logging)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("expected default scenario to be valid, got %v", err)
	}
}

func TestLoad(t *testing.T) {
	s, err := Load(writeScenario(t, sampleScenario))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Name != "if-curve" || s.DT != 0.0001 || s.Duration != 0.5 {
		t.Errorf("unexpected header: %+v", s)
	}
	if len(s.Groups) != 1 || s.Groups[0].N != 100 || s.Groups[0].Params["v0_max"] != 0.03 {
		t.Errorf("unexpected groups: %+v", s.Groups)
	}
	if s.Groups[0].Refractory != 0.005 {
		t.Errorf("expected refractory 0.005, got %v", s.Groups[0].Refractory)
	}
	if len(s.Generators) != 1 || s.Generators[0].Period != 0.01 || len(s.Generators[0].Times) != 3 {
		t.Errorf("unexpected generators: %+v", s.Generators)
	}
	if len(s.Monitors) != 2 || s.Monitors[1].Variable != "v" || len(s.Monitors[1].Indices) != 3 {
		t.Errorf("unexpected monitors: %+v", s.Monitors)
	}
	if s.Logging.Format != "json" || s.Server.MetricsAddr != ":9090" || s.SpikeDB != "spikes.db" {
		t.Errorf("unexpected surfaces: %+v %+v %q", s.Logging, s.Server, s.SpikeDB)
	}
	if err := s.Validate(); err != nil {
		t.Errorf("expected sample scenario to be valid, got %v", err)
	}
}

func TestLoadKeepsDefaultsForMissingKeys(t *testing.T) {
	s, err := Load(writeScenario(t, "name: tiny\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.DT != 1e-4 || s.Logging.Level != "info" {
		t.Errorf("defaults lost: %+v", s)
	}
}

func TestLoadEmptyFile(t *testing.T) {
	s, err := Load(writeScenario(t, ""))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if s.Name != "scenario" {
		t.Errorf("expected default name, got %q", s.Name)
	}
}

func TestLoadRejectsUnknownKeys(t *testing.T) {
	_, err := Load(writeScenario(t, "dt: 0.1\ntimestep: 0.2\n"))
	if err == nil || !strings.Contains(err.Error(), "timestep") {
		t.Fatalf("expected unknown key error, got %v", err)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Fatal("expected error for missing file")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Setenv("SIM_DT", "0.5")
	t.Setenv("SIM_DURATION", "2")
	t.Setenv("SIM_METRICS_ADDR", ":9100")
	t.Setenv("SIM_STATUS_ADDR", ":9101")
	t.Setenv("SIM_SPIKE_DB", "/tmp/out.db")
	t.Setenv("LOG_LEVEL", "warn")
	t.Setenv("LOG_FORMAT", "json")

	s := Default()
	if err := s.ApplyEnv(); err != nil {
		t.Fatalf("ApplyEnv: %v", err)
	}
	if s.DT != 0.5 || s.Duration != 2 {
		t.Errorf("clock overrides not applied: dt=%v duration=%v", s.DT, s.Duration)
	}
	if s.Server.MetricsAddr != ":9100" || s.Server.StatusAddr != ":9101" {
		t.Errorf("server overrides not applied: %+v", s.Server)
	}
	if s.SpikeDB != "/tmp/out.db" || s.Logging.Level != "warn" || s.Logging.Format != "json" {
		t.Errorf("overrides not applied: %+v", s)
	}
}

func TestApplyEnvRejectsBadNumbers(t *testing.T) {
	t.Setenv("SIM_DT", "fast")
	if err := Default().ApplyEnv(); err == nil || !strings.Contains(err.Error(), "SIM_DT") {
		t.Fatalf("expected SIM_DT error, got %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(s *Scenario)
		want   string
	}{
		{"zero dt", func(s *Scenario) { s.DT = 0 }, "dt must be positive"},
		{"negative duration", func(s *Scenario) { s.Duration = -1 }, "duration"},
		{"unknown model", func(s *Scenario) {
			s.Groups = []GroupConfig{{Name: "g", Model: "izhikevich", N: 1}}
		}, "izhikevich"},
		{"duplicate names", func(s *Scenario) {
			s.Groups = []GroupConfig{{Name: "g", Model: "lif", N: 1}}
			s.Generators = []GeneratorConfig{{Name: "g", N: 1}}
		}, "reuses the name"},
		{"empty name", func(s *Scenario) {
			s.Groups = []GroupConfig{{Model: "lif", N: 1}}
		}, "empty name"},
		{"generator length mismatch", func(s *Scenario) {
			s.Generators = []GeneratorConfig{{Name: "in", N: 1, Indices: []int{0}}}
		}, "1 indices but 0 times"},
		{"monitor without source", func(s *Scenario) {
			s.Monitors = []MonitorConfig{{Name: "m", Kind: MonitorSpike, Source: "ghost"}}
		}, "not a group or generator"},
		{"state monitor on generator", func(s *Scenario) {
			s.Generators = []GeneratorConfig{{Name: "in", N: 1}}
			s.Monitors = []MonitorConfig{{Name: "m", Kind: MonitorState, Source: "in", Variable: "v"}}
		}, "is not a group"},
		{"unknown monitor kind", func(s *Scenario) {
			s.Groups = []GroupConfig{{Name: "g", Model: "lif", N: 1}}
			s.Monitors = []MonitorConfig{{Name: "m", Kind: "rate", Source: "g"}}
		}, "kind \"rate\""},
		{"bad log level", func(s *Scenario) { s.Logging.Level = "trace" }, "invalid log level"},
		{"bad log format", func(s *Scenario) { s.Logging.Format = "xml" }, "invalid log format"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s := Default()
			tt.mutate(s)
			err := s.Validate()
			if !errors.Is(err, core.ErrInvalidConfiguration) {
				t.Fatalf("expected ErrInvalidConfiguration, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}
