package core

import (
	"fmt"
	"math"
	"slices"
	"sort"

	"github.com/signalsfoundry/spikesim/timectrl"
)

// SpikeGeneratorGroup emits events at prescribed times instead of deriving
// them from state. A spike at time ts fires on the step the clock maps ts to.
// With a positive period the whole pattern repeats every period seconds.
type SpikeGeneratorGroup struct {
	Object

	n           int
	indices     []int
	times       []float64
	steps       []int64
	periodSteps int64
	events      []int
}

// GeneratorOption customises a SpikeGeneratorGroup.
type GeneratorOption func(*generatorOptions)

type generatorOptions struct {
	period float64
	when   string
	order  float64
}

// WithPeriod repeats the spike pattern every period seconds.
func WithPeriod(period float64) GeneratorOption {
	return func(o *generatorOptions) { o.period = period }
}

// WithGeneratorSchedule sets the scheduling tag and order.
func WithGeneratorSchedule(when string, order float64) GeneratorOption {
	return func(o *generatorOptions) {
		o.when = when
		o.order = order
	}
}

// NewSpikeGeneratorGroup builds a generator of n elements where element
// indices[k] fires at times[k].
func NewSpikeGeneratorGroup(name string, n int, indices []int, times []float64, clock *timectrl.Clock, opts ...GeneratorOption) (*SpikeGeneratorGroup, error) {
	if clock == nil {
		return nil, fmt.Errorf("%w: generator %q has no clock", ErrInvalidConfiguration, name)
	}
	if n < 1 {
		return nil, fmt.Errorf("%w: generator %q needs at least one element, got %d", ErrInvalidArgument, name, n)
	}
	if len(indices) != len(times) {
		return nil, fmt.Errorf("%w: generator %q has %d indices but %d times", ErrInvalidArgument, name, len(indices), len(times))
	}

	var o generatorOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.period < 0 || math.IsNaN(o.period) {
		return nil, fmt.Errorf("%w: generator %q period %v is negative", ErrInvalidArgument, name, o.period)
	}

	type spike struct {
		t float64
		i int
	}
	spikes := make([]spike, len(times))
	maxT := math.Inf(-1)
	for k := range times {
		if indices[k] < 0 || indices[k] >= n {
			return nil, fmt.Errorf("%w: generator %q index %d outside [0, %d)", ErrInvalidArgument, name, indices[k], n)
		}
		if times[k] < 0 || math.IsNaN(times[k]) || math.IsInf(times[k], 0) {
			return nil, fmt.Errorf("%w: generator %q spike time %v", ErrInvalidArgument, name, times[k])
		}
		spikes[k] = spike{t: times[k], i: indices[k]}
		maxT = math.Max(maxT, times[k])
	}
	if o.period > 0 && len(times) > 0 && o.period <= maxT {
		return nil, fmt.Errorf("%w: generator %q period %v must exceed the last spike time %v", ErrInvalidArgument, name, o.period, maxT)
	}
	sort.SliceStable(spikes, func(a, b int) bool {
		if spikes[a].t != spikes[b].t {
			return spikes[a].t < spikes[b].t
		}
		return spikes[a].i < spikes[b].i
	})

	g := &SpikeGeneratorGroup{
		Object:  NewObject(name, clock),
		n:       n,
		indices: make([]int, len(spikes)),
		times:   make([]float64, len(spikes)),
		steps:   make([]int64, len(spikes)),
		events:  make([]int, 0, n),
	}
	g.setSchedule(o.when, o.order)
	for k, s := range spikes {
		g.indices[k] = s.i
		g.times[k] = s.t
		g.steps[k] = clock.StepFor(s.t)
	}
	if o.period > 0 {
		g.periodSteps = clock.StepFor(o.period)
		if n := len(g.steps); n > 0 && g.steps[n-1] >= g.periodSteps {
			return nil, fmt.Errorf("%w: generator %q period %v does not span the last spike at dt=%v", ErrInvalidArgument, name, o.period, clock.DT())
		}
	}
	return g, nil
}

// N returns the element count.
func (g *SpikeGeneratorGroup) N() int { return g.n }

// Schedule returns the spike indices and times sorted by time, then index.
func (g *SpikeGeneratorGroup) Schedule() ([]int, []float64) {
	return slices.Clone(g.indices), slices.Clone(g.times)
}

// Events returns the elements firing on the current step in ascending order.
func (g *SpikeGeneratorGroup) Events() []int { return slices.Clone(g.events) }

// EventCount returns the number of elements firing on the current step.
func (g *SpikeGeneratorGroup) EventCount() int { return len(g.events) }

// Update collects the spikes scheduled for the current step. An element
// scheduled more than once within one step fires once.
func (g *SpikeGeneratorGroup) Update() error {
	g.events = g.events[:0]
	step := g.Clock().Step()
	if g.periodSteps > 0 {
		step %= g.periodSteps
	}
	lo := sort.Search(len(g.steps), func(k int) bool { return g.steps[k] >= step })
	for k := lo; k < len(g.steps) && g.steps[k] == step; k++ {
		g.events = append(g.events, g.indices[k])
	}
	slices.Sort(g.events)
	g.events = slices.Compact(g.events)
	return nil
}

// Reinit clears the current event list.
func (g *SpikeGeneratorGroup) Reinit() error {
	g.events = g.events[:0]
	return nil
}

var _ MonitoredSource = (*SpikeGeneratorGroup)(nil)
