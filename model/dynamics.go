package model

import (
	"fmt"

	"github.com/signalsfoundry/spikesim/core"
)

var counterDefaults = map[string]float64{
	"increment": 1,
	"limit":     3,
	"reset":     0,
}

// counter adds increment to value every step, fires when value exceeds limit
// and resets it.
func counter(p map[string]float64) (Model, error) {
	inc, limit, reset := p["increment"], p["limit"], p["reset"]
	return Model{
		Dynamics: core.Dynamics{
			Variables: []string{"value"},
			StateUpdate: func(s *core.State, _ float64) error {
				v := s.Var("value")
				for i := range v {
					v[i] += inc
				}
				return nil
			},
			Threshold: func(s *core.State, i int) bool { return s.Var("value")[i] > limit },
			Reset:     func(s *core.State, i int) { s.Var("value")[i] = reset },
		},
	}, nil
}

// Membrane values are plain volts.
var lifDefaults = map[string]float64{
	"tau":     0.010,
	"v0":      -0.049,
	"v_rest":  -0.060,
	"v_th":    -0.050,
	"v_reset": -0.060,
}

// lif is a leaky integrate-and-fire membrane relaxing towards v0 with time
// constant tau, integrated with forward Euler. Refractory elements hold
// their membrane potential.
func lif(p map[string]float64) (Model, error) {
	tau, vth, vreset := p["tau"], p["v_th"], p["v_reset"]
	if !(tau > 0) {
		return Model{}, fmt.Errorf("%w: tau must be positive, got %v", core.ErrInvalidConfiguration, tau)
	}
	return Model{
		Dynamics: core.Dynamics{
			Variables: []string{"v", "v0"},
			StateUpdate: func(s *core.State, dt float64) error {
				v, v0 := s.Var("v"), s.Var("v0")
				k := dt / tau
				for i := range v {
					if !s.NotRefractory(i) {
						continue
					}
					v[i] += (v0[i] - v[i]) * k
				}
				return nil
			},
			Threshold: func(s *core.State, i int) bool { return s.Var("v")[i] > vth },
			Reset:     func(s *core.State, i int) { s.Var("v")[i] = vreset },
		},
		Initial: map[string]float64{"v": p["v_rest"], "v0": p["v0"]},
	}, nil
}

var ifCurveDefaults = map[string]float64{
	"tau":     0.010,
	"v0_max":  0.020,
	"v_th":    0.010,
	"v_reset": 0,
}

// ifCurve is the input/firing-rate sweep: a lif population whose drive v0
// ramps linearly from 0 to v0_max across the elements.
func ifCurve(p map[string]float64) (Model, error) {
	m, err := lif(map[string]float64{
		"tau":     p["tau"],
		"v_th":    p["v_th"],
		"v_reset": p["v_reset"],
	})
	if err != nil {
		return Model{}, err
	}
	vmax := p["v0_max"]
	m.Initial = nil
	m.Init = func(g *core.ElementGroup) error {
		n := g.N()
		return g.SetStateFunc("v0", func(i int) float64 {
			if n < 2 {
				return vmax
			}
			return vmax * float64(i) / float64(n-1)
		})
	}
	return m, nil
}
