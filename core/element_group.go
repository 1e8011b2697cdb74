package core

import (
	"fmt"
	"maps"
	"math"
	"slices"

	"github.com/signalsfoundry/spikesim/timectrl"
)

// Names of the arrays a group adds for itself when refractoriness is enabled.
const (
	VarLastSpike     = "lastspike"
	VarNotRefractory = "not_refractory"
)

// neverSpiked is the lastspike value of an element that has not fired.
const neverSpiked = -1e4

// StateUpdateFunc advances every element of a group by one step of dt. It
// must only touch the group's own arrays.
type StateUpdateFunc func(s *State, dt float64) error

// ThresholdFunc reports whether element i fires on the current step.
type ThresholdFunc func(s *State, i int) bool

// ResetFunc mutates element i after it fired.
type ResetFunc func(s *State, i int)

// Dynamics is the pluggable behaviour of a group: the variables it owns and
// the three per-step procedures that operate on them.
type Dynamics struct {
	Variables   []string
	StateUpdate StateUpdateFunc
	Threshold   ThresholdFunc
	Reset       ResetFunc
}

// GroupOption customises an ElementGroup at construction.
type GroupOption func(*groupOptions)

type groupOptions struct {
	when       string
	order      float64
	refractory float64
	init       []initStep
}

// initStep is one entry of a group's initial state, replayed in option order
// at construction and on every Reinit.
type initStep struct {
	values map[string]float64
	fn     func(*ElementGroup) error
}

// WithWhen sets the group's scheduling tag.
func WithWhen(when string) GroupOption {
	return func(o *groupOptions) { o.when = when }
}

// WithOrder sets the group's scheduling order.
func WithOrder(order float64) GroupOption {
	return func(o *groupOptions) { o.order = order }
}

// WithRefractory keeps an element from firing again until period seconds
// have passed since its last spike.
func WithRefractory(period float64) GroupOption {
	return func(o *groupOptions) { o.refractory = period }
}

// WithInitialValues broadcasts the given values into the named arrays at
// construction and on every Reinit. Later options override earlier ones.
func WithInitialValues(values map[string]float64) GroupOption {
	return func(o *groupOptions) {
		if len(values) > 0 {
			o.init = append(o.init, initStep{values: maps.Clone(values)})
		}
	}
}

// WithInitializer runs fn at construction and on every Reinit, after the
// arrays are zeroed and in order with the other initial-state options.
func WithInitializer(fn func(*ElementGroup) error) GroupOption {
	return func(o *groupOptions) {
		if fn != nil {
			o.init = append(o.init, initStep{fn: fn})
		}
	}
}

// ElementGroup is a population of N elements sharing one set of state
// variables. Each step it integrates its state, detects which elements cross
// threshold and resets exactly those elements.
//
// The group exclusively owns its arrays. Close releases them; every later
// call fails with ErrGroupClosed.
type ElementGroup struct {
	Object

	n        int
	dyn      Dynamics
	names    []string
	arena    *arena
	events   []int
	state    *State
	closed   bool
	init     []initStep
	refrac   float64
	refSteps int64
}

// NewElementGroup allocates a group of n elements driven by clock.
func NewElementGroup(name string, n int, clock *timectrl.Clock, dyn Dynamics, opts ...GroupOption) (*ElementGroup, error) {
	if clock == nil {
		return nil, fmt.Errorf("%w: group %q has no clock", ErrInvalidConfiguration, name)
	}
	if dyn.StateUpdate == nil {
		return nil, fmt.Errorf("%w: group %q has no state update", ErrInvalidConfiguration, name)
	}
	if n < 0 {
		return nil, fmt.Errorf("%w: group %q element count %d is negative", ErrInvalidArgument, name, n)
	}

	var o groupOptions
	for _, opt := range opts {
		opt(&o)
	}
	if o.refractory < 0 || math.IsNaN(o.refractory) || math.IsInf(o.refractory, 0) {
		return nil, fmt.Errorf("%w: group %q refractory period %v", ErrInvalidConfiguration, name, o.refractory)
	}

	names, err := variableNames(dyn.Variables, o.refractory > 0)
	if err != nil {
		return nil, fmt.Errorf("group %q: %w", name, err)
	}
	for _, st := range o.init {
		for v := range st.values {
			if !slices.Contains(names, v) {
				return nil, fmt.Errorf("%w: group %q initial value for unknown variable %q", ErrInvalidArgument, name, v)
			}
		}
	}

	a, err := newArena(n, names)
	if err != nil {
		return nil, fmt.Errorf("group %q: %w", name, err)
	}

	g := &ElementGroup{
		Object: NewObject(name, clock),
		n:      n,
		dyn:    dyn,
		names:  names,
		arena:  a,
		events: make([]int, 0, n),
		init:   o.init,
		refrac: o.refractory,
	}
	g.setSchedule(o.when, o.order)
	if g.refrac > 0 {
		g.refSteps = clock.StepFor(g.refrac)
	}
	g.state = &State{g: g}
	if err := g.restore(); err != nil {
		_ = g.Close()
		return nil, fmt.Errorf("group %q: init: %w", name, err)
	}
	return g, nil
}

func variableNames(vars []string, refractory bool) ([]string, error) {
	names := make([]string, 0, len(vars)+2)
	seen := make(map[string]struct{}, len(vars)+2)
	for _, v := range vars {
		if v == "" {
			return nil, fmt.Errorf("%w: empty variable name", ErrInvalidArgument)
		}
		if _, dup := seen[v]; dup {
			return nil, fmt.Errorf("%w: duplicate variable %q", ErrInvalidArgument, v)
		}
		seen[v] = struct{}{}
		names = append(names, v)
	}
	if refractory {
		for _, v := range []string{VarLastSpike, VarNotRefractory} {
			if _, ok := seen[v]; !ok {
				names = append(names, v)
			}
		}
	}
	return names, nil
}

// restore puts every array back to its initial contents.
func (g *ElementGroup) restore() error {
	g.arena.zero()
	g.events = g.events[:0]
	if g.refrac > 0 {
		g.arena.fill(VarLastSpike, neverSpiked)
		g.arena.fill(VarNotRefractory, 1)
	}
	for _, st := range g.init {
		for name, v := range st.values {
			g.arena.fill(name, v)
		}
		if st.fn != nil {
			if err := st.fn(g); err != nil {
				return err
			}
		}
	}
	return nil
}

// N returns the element count.
func (g *ElementGroup) N() int { return g.n }

// Refractory returns the refractory period in seconds, or 0 when disabled.
func (g *ElementGroup) Refractory() float64 { return g.refrac }

// Variables returns the managed array names in sorted order.
func (g *ElementGroup) Variables() []string {
	out := slices.Clone(g.names)
	slices.Sort(out)
	return out
}

// Array returns the live array for name. Writes through the returned slice
// change the group's state.
func (g *ElementGroup) Array(name string) ([]float64, error) {
	if g.closed {
		return nil, fmt.Errorf("%w: %q", ErrGroupClosed, g.Name())
	}
	arr, ok := g.arena.arrays[name]
	if !ok {
		return nil, fmt.Errorf("%w: group %q has no variable %q", ErrInvalidArgument, g.Name(), name)
	}
	return arr, nil
}

// SetState broadcasts value into every element of the named array.
func (g *ElementGroup) SetState(name string, value float64) error {
	if _, err := g.Array(name); err != nil {
		return err
	}
	g.arena.fill(name, value)
	return nil
}

// SetStateFunc sets element i of the named array to fn(i) for every i.
func (g *ElementGroup) SetStateFunc(name string, fn func(i int) float64) error {
	arr, err := g.Array(name)
	if err != nil {
		return err
	}
	if fn == nil {
		return fmt.Errorf("%w: nil initialiser for %q", ErrInvalidArgument, name)
	}
	for i := range arr {
		arr[i] = fn(i)
	}
	return nil
}

// Events returns a copy of the indices that fired on the most recent step,
// in ascending order.
func (g *ElementGroup) Events() []int {
	return slices.Clone(g.events)
}

// EventCount returns the number of elements that fired on the most recent step.
func (g *ElementGroup) EventCount() int { return len(g.events) }

// Update runs one step: state update, then event detection, then reset.
func (g *ElementGroup) Update() error {
	if g.closed {
		return fmt.Errorf("%w: %q", ErrGroupClosed, g.Name())
	}
	if err := g.StateUpdate(); err != nil {
		return err
	}
	if err := g.DetectEvents(); err != nil {
		return err
	}
	return g.ApplyReset()
}

// StateUpdate advances every element by one dt without detecting events.
func (g *ElementGroup) StateUpdate() error {
	if g.closed {
		return fmt.Errorf("%w: %q", ErrGroupClosed, g.Name())
	}
	if g.refrac > 0 {
		g.updateRefractory()
	}
	if err := g.dyn.StateUpdate(g.state, g.Clock().DT()); err != nil {
		return fmt.Errorf("state update: %w", err)
	}
	return nil
}

func (g *ElementGroup) updateRefractory() {
	t, dt := g.Clock().T(), g.Clock().DT()
	last := g.arena.arrays[VarLastSpike]
	notRef := g.arena.arrays[VarNotRefractory]
	for i := range notRef {
		elapsed := int64(math.Floor((t-last[i])/dt + 0.5))
		if elapsed >= g.refSteps {
			notRef[i] = 1
		} else {
			notRef[i] = 0
		}
	}
}

// DetectEvents rebuilds the event list from the threshold predicate. With
// refractoriness enabled only non-refractory elements can fire, and each
// firing element records the current time as its last spike.
func (g *ElementGroup) DetectEvents() error {
	if g.closed {
		return fmt.Errorf("%w: %q", ErrGroupClosed, g.Name())
	}
	g.events = g.events[:0]
	if g.dyn.Threshold == nil {
		return nil
	}

	var last, notRef []float64
	if g.refrac > 0 {
		last = g.arena.arrays[VarLastSpike]
		notRef = g.arena.arrays[VarNotRefractory]
	}
	t := g.Clock().T()
	for i := 0; i < g.n; i++ {
		if notRef != nil && notRef[i] == 0 {
			continue
		}
		if !g.dyn.Threshold(g.state, i) {
			continue
		}
		g.events = append(g.events, i)
		if notRef != nil {
			notRef[i] = 0
			last[i] = t
		}
	}
	return nil
}

// ApplyReset applies the reset to every element in the event list, in list
// order. Other elements are untouched.
func (g *ElementGroup) ApplyReset() error {
	if g.closed {
		return fmt.Errorf("%w: %q", ErrGroupClosed, g.Name())
	}
	if g.dyn.Reset == nil {
		return nil
	}
	for _, i := range g.events {
		g.dyn.Reset(g.state, i)
	}
	return nil
}

// Reinit zeroes every array, replays the initial-state options and clears
// events.
func (g *ElementGroup) Reinit() error {
	if g.closed {
		return fmt.Errorf("%w: %q", ErrGroupClosed, g.Name())
	}
	if err := g.restore(); err != nil {
		return fmt.Errorf("group %q: reinit: %w", g.Name(), err)
	}
	return nil
}

// Close releases the group's arrays. It is safe to call more than once.
func (g *ElementGroup) Close() error {
	if g.closed {
		return nil
	}
	g.closed = true
	g.arena = nil
	g.events = nil
	return nil
}

// State is the view of a group handed to its dynamics.
type State struct {
	g *ElementGroup
}

// Var returns the live array for name. It panics on an unknown name, since
// dynamics are written against the variables they declare.
func (s *State) Var(name string) []float64 {
	arr, ok := s.g.arena.arrays[name]
	if !ok {
		panic(fmt.Sprintf("group %q has no variable %q", s.g.Name(), name))
	}
	return arr
}

// N returns the element count.
func (s *State) N() int { return s.g.n }

// T returns the current simulation time.
func (s *State) T() float64 { return s.g.Clock().T() }

// NotRefractory reports whether element i may integrate and fire on this
// step. It is always true when refractoriness is disabled.
func (s *State) NotRefractory(i int) bool {
	if s.g.refrac <= 0 {
		return true
	}
	return s.g.arena.arrays[VarNotRefractory][i] != 0
}
