package main

import (
	"fmt"

	"github.com/signalsfoundry/spikesim/core"
	"github.com/signalsfoundry/spikesim/internal/config"
	"github.com/signalsfoundry/spikesim/model"
	"github.com/signalsfoundry/spikesim/timectrl"
)

// simulation is a scenario turned into live objects registered on one
// network.
type simulation struct {
	clock  *timectrl.Clock
	net    *core.Network
	groups []*core.ElementGroup
	spikes []*core.SpikeMonitor
	states []*core.StateMonitor
}

// build constructs every object of s and registers generators, groups and
// monitors in that order. On failure every group allocated so far is closed.
func build(s *config.Scenario, opts ...core.NetworkOption) (sim *simulation, err error) {
	clock, err := timectrl.NewClock(s.DT)
	if err != nil {
		return nil, err
	}
	sim = &simulation{clock: clock, net: core.NewNetwork(opts...)}
	defer func() {
		if err != nil {
			sim.close()
			sim = nil
		}
	}()

	sources := make(map[string]core.MonitoredSource)
	groups := make(map[string]*core.ElementGroup)

	for _, gc := range s.Generators {
		gen, err := core.NewSpikeGeneratorGroup(gc.Name, gc.N, gc.Indices, gc.Times, clock, core.WithPeriod(gc.Period))
		if err != nil {
			return sim, err
		}
		if err := sim.net.Add(gen); err != nil {
			return sim, err
		}
		sources[gc.Name] = gen
	}

	for _, gc := range s.Groups {
		g, err := model.NewGroup(gc.Name, gc.N, clock, gc.Model, gc.Params, groupOptions(gc)...)
		if err != nil {
			return sim, err
		}
		sim.groups = append(sim.groups, g)
		if err := sim.net.Add(g); err != nil {
			return sim, err
		}
		sources[gc.Name] = g
		groups[gc.Name] = g
	}

	for _, mc := range s.Monitors {
		var obj core.SimulationObject
		switch mc.Kind {
		case config.MonitorSpike:
			src, ok := sources[mc.Source]
			if !ok {
				return sim, fmt.Errorf("%w: monitor %q source %q", core.ErrInvalidConfiguration, mc.Name, mc.Source)
			}
			m, err := core.NewSpikeMonitor(mc.Name, src)
			if err != nil {
				return sim, err
			}
			sim.spikes = append(sim.spikes, m)
			obj = m
		case config.MonitorState:
			g, ok := groups[mc.Source]
			if !ok {
				return sim, fmt.Errorf("%w: state monitor %q source %q", core.ErrInvalidConfiguration, mc.Name, mc.Source)
			}
			m, err := core.NewStateMonitor(mc.Name, g, mc.Variable, mc.Indices)
			if err != nil {
				return sim, err
			}
			sim.states = append(sim.states, m)
			obj = m
		default:
			return sim, fmt.Errorf("%w: monitor %q kind %q", core.ErrInvalidConfiguration, mc.Name, mc.Kind)
		}
		if err := sim.net.Add(obj); err != nil {
			return sim, err
		}
	}
	return sim, nil
}

func groupOptions(gc config.GroupConfig) []core.GroupOption {
	opts := []core.GroupOption{core.WithOrder(gc.Order)}
	if gc.Refractory > 0 {
		opts = append(opts, core.WithRefractory(gc.Refractory))
	}
	if gc.When != "" {
		opts = append(opts, core.WithWhen(gc.When))
	}
	if len(gc.Initial) > 0 {
		opts = append(opts, core.WithInitialValues(gc.Initial))
	}
	return opts
}

// close releases every group's arrays.
func (s *simulation) close() {
	if s == nil {
		return
	}
	for _, g := range s.groups {
		_ = g.Close()
	}
}
