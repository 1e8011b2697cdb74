// Package config loads simulation scenarios from YAML files and
// environment variables.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"slices"
	"strconv"
	"strings"

	"github.com/signalsfoundry/spikesim/core"
	"github.com/signalsfoundry/spikesim/model"
	"gopkg.in/yaml.v3"
)

// Scenario is a complete simulation description: the clock, the objects to
// register and the surfaces around the run.
type Scenario struct {
	// Name labels the run in logs and the spike store.
	Name string `yaml:"name"`

	// DT is the clock step in seconds.
	DT float64 `yaml:"dt"`

	// Duration is the simulated interval in seconds.
	Duration float64 `yaml:"duration"`

	// Objects are registered generators first, then groups, then monitors,
	// each in file order.
	Generators []GeneratorConfig `yaml:"generators"`
	Groups     []GroupConfig     `yaml:"groups"`
	Monitors   []MonitorConfig   `yaml:"monitors"`

	Logging LoggingConfig `yaml:"logging"`
	Server  ServerConfig  `yaml:"server"`

	// SpikeDB is the SQLite file spike monitors are persisted to. Empty
	// disables persistence.
	SpikeDB string `yaml:"spike_db,omitempty"`
}

// GroupConfig describes one element group built from the model catalog.
type GroupConfig struct {
	Name       string             `yaml:"name"`
	Model      string             `yaml:"model"`
	N          int                `yaml:"n"`
	Params     map[string]float64 `yaml:"params,omitempty"`
	Refractory float64            `yaml:"refractory,omitempty"`
	// Initial overrides the model's initial values.
	Initial map[string]float64 `yaml:"initial,omitempty"`
	When    string             `yaml:"when,omitempty"`
	Order   float64            `yaml:"order,omitempty"`
}

// GeneratorConfig describes a spike generator emitting a fixed schedule.
type GeneratorConfig struct {
	Name    string    `yaml:"name"`
	N       int       `yaml:"n"`
	Indices []int     `yaml:"indices"`
	Times   []float64 `yaml:"times"`
	Period  float64   `yaml:"period,omitempty"`
}

// MonitorConfig describes a spike or state monitor attached to a source.
type MonitorConfig struct {
	Name   string `yaml:"name"`
	Kind   string `yaml:"kind"` // spike | state
	Source string `yaml:"source"`
	// Variable and Indices apply to state monitors. Empty Indices records
	// every element.
	Variable string `yaml:"variable,omitempty"`
	Indices  []int  `yaml:"indices,omitempty"`
}

// LoggingConfig mirrors the LOG_LEVEL and LOG_FORMAT settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // debug, info, warn, error
	Format string `yaml:"format"` // text or json
}

// ServerConfig holds the listen addresses of the optional surfaces. An empty
// address disables the surface.
type ServerConfig struct {
	MetricsAddr string `yaml:"metrics_addr,omitempty"`
	StatusAddr  string `yaml:"status_addr,omitempty"`
}

// Monitor kinds.
const (
	MonitorSpike = "spike"
	MonitorState = "state"
)

// Default returns a Scenario with sensible defaults and no objects.
func Default() *Scenario {
	return &Scenario{
		Name:     "scenario",
		DT:       1e-4,
		Duration: 0.1,
		Logging: LoggingConfig{
			Level:  "info",
			Format: "text",
		},
	}
}

// Load reads a scenario from a YAML file on top of the defaults. Unknown keys
// are rejected.
func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading scenario file: %w", err)
	}
	return Parse(data)
}

// Parse decodes a YAML scenario on top of the defaults.
func Parse(data []byte) (*Scenario, error) {
	s := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(s); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parsing scenario file: %w", err)
	}
	return s, nil
}

// ApplyEnv applies environment variable overrides. Unparseable numbers are
// reported rather than ignored.
func (s *Scenario) ApplyEnv() error {
	if v := os.Getenv("SIM_DT"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("SIM_DT: %w", err)
		}
		s.DT = f
	}
	if v := os.Getenv("SIM_DURATION"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("SIM_DURATION: %w", err)
		}
		s.Duration = f
	}
	if v := os.Getenv("SIM_METRICS_ADDR"); v != "" {
		s.Server.MetricsAddr = v
	}
	if v := os.Getenv("SIM_STATUS_ADDR"); v != "" {
		s.Server.StatusAddr = v
	}
	if v := os.Getenv("SIM_SPIKE_DB"); v != "" {
		s.SpikeDB = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		s.Logging.Level = v
	}
	if v := os.Getenv("LOG_FORMAT"); v != "" {
		s.Logging.Format = v
	}
	return nil
}

// Validate checks the scenario for errors that would otherwise surface only
// while building or running it. Every failure wraps
// core.ErrInvalidConfiguration.
func (s *Scenario) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{core.ErrInvalidConfiguration}, args...)...))
	}

	if !(s.DT > 0) || math.IsInf(s.DT, 0) {
		add("dt must be positive and finite, got %v", s.DT)
	}
	if !(s.Duration >= 0) || math.IsInf(s.Duration, 0) {
		add("duration must be non-negative and finite, got %v", s.Duration)
	}

	names := map[string]string{}
	claim := func(kind, name string) {
		if name == "" {
			add("%s with empty name", kind)
			return
		}
		if prev, ok := names[name]; ok {
			add("%s %q reuses the name of a %s", kind, name, prev)
			return
		}
		names[name] = kind
	}

	for _, g := range s.Generators {
		claim("generator", g.Name)
		if g.N < 1 {
			add("generator %q needs at least one element, got %d", g.Name, g.N)
		}
		if len(g.Indices) != len(g.Times) {
			add("generator %q has %d indices but %d times", g.Name, len(g.Indices), len(g.Times))
		}
	}
	for _, g := range s.Groups {
		claim("group", g.Name)
		if g.N < 0 {
			add("group %q element count %d is negative", g.Name, g.N)
		}
		if !slices.Contains(model.Kinds(), g.Model) {
			add("group %q model %q (known: %s)", g.Name, g.Model, strings.Join(model.Kinds(), ", "))
		}
		if g.Refractory < 0 {
			add("group %q refractory period %v is negative", g.Name, g.Refractory)
		}
	}
	for _, m := range s.Monitors {
		claim("monitor", m.Name)
		src, ok := names[m.Source]
		switch {
		case !ok || src == "monitor":
			add("monitor %q source %q is not a group or generator", m.Name, m.Source)
		case m.Kind == MonitorSpike:
		case m.Kind == MonitorState:
			if src != "group" {
				add("state monitor %q source %q is not a group", m.Name, m.Source)
			}
			if m.Variable == "" {
				add("state monitor %q has no variable", m.Name)
			}
		default:
			add("monitor %q kind %q (valid: spike, state)", m.Name, m.Kind)
		}
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true}
	if s.Logging.Level != "" && !validLevels[strings.ToLower(s.Logging.Level)] {
		add("invalid log level: %s (valid: debug, info, warn, error)", s.Logging.Level)
	}
	if f := strings.ToLower(s.Logging.Format); f != "" && f != "text" && f != "json" {
		add("invalid log format: %s (valid: text, json)", s.Logging.Format)
	}
	return errors.Join(errs...)
}
