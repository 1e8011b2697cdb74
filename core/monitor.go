package core

import "fmt"

// MonitoredSource is a simulation object whose events can be recorded.
type MonitoredSource interface {
	SimulationObject
	EventSource
}

// Spike is one recorded event.
type Spike struct {
	Index int
	Step  int64
	Time  float64
}

// SpikeMonitor records every event of a source. It shares the source's
// clock and must be added to the network after the source so that it sees
// the source's events for the current step.
type SpikeMonitor struct {
	Object

	source MonitoredSource
	spikes []Spike
	counts []int
}

// NewSpikeMonitor returns a monitor recording source's events.
func NewSpikeMonitor(name string, source MonitoredSource) (*SpikeMonitor, error) {
	if source == nil {
		return nil, fmt.Errorf("%w: spike monitor %q has no source", ErrInvalidArgument, name)
	}
	return &SpikeMonitor{
		Object: NewObject(name, source.Clock()),
		source: source,
		counts: make([]int, source.N()),
	}, nil
}

// Source returns the monitored object.
func (m *SpikeMonitor) Source() MonitoredSource { return m.source }

// Update appends the source's current events.
func (m *SpikeMonitor) Update() error {
	clock := m.Clock()
	for _, i := range m.source.Events() {
		m.spikes = append(m.spikes, Spike{Index: i, Step: clock.Step(), Time: clock.T()})
		m.counts[i]++
	}
	return nil
}

// Spikes returns a copy of every recorded spike in recording order.
func (m *SpikeMonitor) Spikes() []Spike {
	out := make([]Spike, len(m.spikes))
	copy(out, m.spikes)
	return out
}

// Count returns the number of spikes recorded per element.
func (m *SpikeMonitor) Count() []int {
	out := make([]int, len(m.counts))
	copy(out, m.counts)
	return out
}

// Total returns the number of recorded spikes.
func (m *SpikeMonitor) Total() int { return len(m.spikes) }

// Reinit drops all recorded spikes.
func (m *SpikeMonitor) Reinit() error {
	m.spikes = m.spikes[:0]
	clear(m.counts)
	return nil
}

// StateMonitor samples one variable of a group for selected elements on
// every step.
type StateMonitor struct {
	Object

	group    *ElementGroup
	variable string
	indices  []int
	times    []float64
	values   map[int][]float64
}

// NewStateMonitor records variable of group for the given element indices.
// A nil indices slice records every element.
func NewStateMonitor(name string, group *ElementGroup, variable string, indices []int) (*StateMonitor, error) {
	if group == nil {
		return nil, fmt.Errorf("%w: state monitor %q has no group", ErrInvalidArgument, name)
	}
	if _, err := group.Array(variable); err != nil {
		return nil, fmt.Errorf("state monitor %q: %w", name, err)
	}
	if indices == nil {
		indices = make([]int, group.N())
		for i := range indices {
			indices[i] = i
		}
	}
	values := make(map[int][]float64, len(indices))
	recorded := make([]int, 0, len(indices))
	for _, i := range indices {
		if i < 0 || i >= group.N() {
			return nil, fmt.Errorf("%w: state monitor %q index %d outside [0, %d)", ErrInvalidArgument, name, i, group.N())
		}
		if _, dup := values[i]; dup {
			continue
		}
		values[i] = nil
		recorded = append(recorded, i)
	}
	return &StateMonitor{
		Object:   NewObject(name, group.Clock()),
		group:    group,
		variable: variable,
		indices:  recorded,
		values:   values,
	}, nil
}

// Update samples the variable at the current time.
func (m *StateMonitor) Update() error {
	arr, err := m.group.Array(m.variable)
	if err != nil {
		return err
	}
	m.times = append(m.times, m.Clock().T())
	for _, i := range m.indices {
		m.values[i] = append(m.values[i], arr[i])
	}
	return nil
}

// Variable returns the recorded variable name.
func (m *StateMonitor) Variable() string { return m.variable }

// Times returns the sample times.
func (m *StateMonitor) Times() []float64 {
	return append([]float64(nil), m.times...)
}

// Values returns the samples recorded for element i.
func (m *StateMonitor) Values(i int) ([]float64, error) {
	v, ok := m.values[i]
	if !ok {
		return nil, fmt.Errorf("%w: element %d is not recorded", ErrInvalidArgument, i)
	}
	return append([]float64(nil), v...), nil
}

// Reinit drops all samples.
func (m *StateMonitor) Reinit() error {
	m.times = m.times[:0]
	for i := range m.values {
		m.values[i] = nil
	}
	return nil
}

var (
	_ SimulationObject = (*SpikeMonitor)(nil)
	_ SimulationObject = (*StateMonitor)(nil)
	_ MonitoredSource  = (*ElementGroup)(nil)
)
