package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/signalsfoundry/spikesim/core"
	"github.com/signalsfoundry/spikesim/internal/config"
	"github.com/signalsfoundry/spikesim/internal/logging"
	"github.com/signalsfoundry/spikesim/internal/spikestore"
)

const counterScenario = `
name: counter
dt: 0.1
duration: 0.4
groups:
  - name: counters
    model: counter
    n: 5
monitors:
  - name: spikes
    kind: spike
    source: counters
`

// executeCmd runs the root command with args and returns stdout.
func executeCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	for _, k := range []string{"SIM_DT", "SIM_DURATION", "SIM_METRICS_ADDR", "SIM_STATUS_ADDR", "SIM_SPIKE_DB", "LOG_LEVEL", "LOG_FORMAT"} {
		t.Setenv(k, "")
	}
	var out bytes.Buffer
	root := newRootCmd()
	root.SetArgs(args)
	root.SetOut(&out)
	root.SetErr(io.Discard)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("failed to write scenario: %v", err)
	}
	return path
}

func TestVersionCmd(t *testing.T) {
	out, err := executeCmd(t, "version")
	if err != nil {
		t.Fatalf("version: %v", err)
	}
	if !strings.Contains(out, "simulator version "+version) {
		t.Fatalf("unexpected output: %q", out)
	}

	out, err = executeCmd(t, "version", "--json")
	if err != nil {
		t.Fatalf("version --json: %v", err)
	}
	var v map[string]string
	if err := json.Unmarshal([]byte(out), &v); err != nil {
		t.Fatalf("version --json output %q: %v", out, err)
	}
	if v["version"] != version {
		t.Fatalf("version = %q", v["version"])
	}
}

func TestRunCounterScenario(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "db", "spikes.db")
	out, err := executeCmd(t, "run", "--json",
		"--config", writeScenario(t, counterScenario),
		"--spike-db", dbPath,
	)
	if err != nil {
		t.Fatalf("run: %v", err)
	}

	var sum runSummary
	if err := json.Unmarshal([]byte(out), &sum); err != nil {
		t.Fatalf("run --json output %q: %v", out, err)
	}
	if sum.Steps != 4 || sum.Events != 5 {
		t.Fatalf("summary = %+v, want 4 steps and 5 events", sum)
	}
	if len(sum.Monitors) != 1 || sum.Monitors[0].Spikes != 5 || sum.Monitors[0].Source != "counters" {
		t.Fatalf("monitors = %+v", sum.Monitors)
	}
	if sum.RunID == "" || sum.SpikeDB != dbPath {
		t.Fatalf("summary = %+v", sum)
	}

	store, err := spikestore.Open(context.Background(), dbPath)
	if err != nil {
		t.Fatalf("spikestore.Open: %v", err)
	}
	defer store.Close()
	run, err := store.GetRun(context.Background(), sum.RunID)
	if err != nil {
		t.Fatalf("GetRun: %v", err)
	}
	if run.Scenario != "counter" || run.Steps != 4 {
		t.Fatalf("stored run = %+v", run)
	}
	spikes, err := store.Spikes(context.Background(), sum.RunID, "spikes")
	if err != nil {
		t.Fatalf("Spikes: %v", err)
	}
	if len(spikes) != 5 {
		t.Fatalf("stored %d spikes, want 5", len(spikes))
	}
	for i, sp := range spikes {
		if sp.Index != i || sp.Step != 3 {
			t.Fatalf("spike %d = %+v, want index %d on step 3", i, sp, i)
		}
	}
}

func TestRunFlagsOverrideScenario(t *testing.T) {
	out, err := executeCmd(t, "run",
		"--config", writeScenario(t, counterScenario),
		"--duration", "0.8",
	)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !strings.Contains(out, "8 steps, 10 events") {
		t.Fatalf("unexpected summary: %q", out)
	}
}

func TestRunRejectsInvalidScenario(t *testing.T) {
	_, err := executeCmd(t, "run", "--config", writeScenario(t, "dt: -1\n"))
	if !errors.Is(err, core.ErrInvalidConfiguration) {
		t.Fatalf("error = %v, want ErrInvalidConfiguration", err)
	}
}

func TestValidateCmd(t *testing.T) {
	out, err := executeCmd(t, "validate", "--config", filepath.Join("..", "..", "configs", "ifcurve.yaml"))
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !strings.Contains(out, `scenario "ifcurve" is valid: 3 objects, 10000 steps`) {
		t.Fatalf("unexpected output: %q", out)
	}

	bad := `
dt: 0.1
generators:
  - name: input
    n: 1
    indices: [0]
    times: [0.5]
    period: 0.5
`
	if _, err := executeCmd(t, "validate", "--config", writeScenario(t, bad)); !errors.Is(err, core.ErrInvalidArgument) {
		t.Fatalf("validate error = %v, want ErrInvalidArgument", err)
	}
}

func TestBuildRegistersGeneratorsGroupsMonitors(t *testing.T) {
	s, err := config.Load(filepath.Join("..", "..", "configs", "generator.yaml"))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	sim, err := build(s)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer sim.close()

	var names []string
	for _, obj := range sim.net.Objects() {
		names = append(names, obj.Name())
	}
	want := "input,counters,input_spikes,counter_spikes"
	if got := strings.Join(names, ","); got != want {
		t.Fatalf("registration order = %s, want %s", got, want)
	}
}

func TestBuildAppliesInitialOverrides(t *testing.T) {
	s := config.Default()
	s.Groups = []config.GroupConfig{{Name: "g", Model: "lif", N: 3, Initial: map[string]float64{"v0": -0.01}}}
	sim, err := build(s)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	defer sim.close()
	v0, err := sim.groups[0].Array("v0")
	if err != nil {
		t.Fatalf("Array: %v", err)
	}
	for i, v := range v0 {
		if v != -0.01 {
			t.Fatalf("v0[%d] = %v, want -0.01", i, v)
		}
	}
	if err := sim.net.Reinit(); err != nil {
		t.Fatalf("Reinit: %v", err)
	}
	for i, v := range v0 {
		if v != -0.01 {
			t.Fatalf("v0[%d] after Reinit = %v, want -0.01", i, v)
		}
	}

	s.Groups[0].Initial = map[string]float64{"w": 1}
	if _, err := build(s); !errors.Is(err, core.ErrInvalidArgument) {
		t.Fatalf("unknown initial variable error = %v", err)
	}
}

func TestRunScenarioServesStatus(t *testing.T) {
	s, err := config.Parse([]byte(counterScenario))
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	s.Server.StatusAddr = "127.0.0.1:0"
	sum, err := runScenario(context.Background(), s, logging.Noop(), runOptions{registry: prometheus.NewRegistry()})
	if err != nil {
		t.Fatalf("runScenario: %v", err)
	}
	if sum.Events != 5 {
		t.Fatalf("events = %d, want 5", sum.Events)
	}
}
