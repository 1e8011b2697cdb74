// Package model is the catalog of built-in element dynamics. Each entry
// supplies the variables, state update, threshold and reset of a group kind,
// parameterised by a flat map of named scalars.
package model

import (
	"errors"
	"fmt"
	"sort"

	"github.com/signalsfoundry/spikesim/core"
	"github.com/signalsfoundry/spikesim/timectrl"
)

var (
	// ErrUnknownModel is returned for a kind that is not in the catalog.
	ErrUnknownModel = errors.New("unknown model")
	// ErrUnknownParameter is returned for a parameter the kind does not take.
	ErrUnknownParameter = errors.New("unknown parameter")
)

// Model is a resolved catalog entry.
type Model struct {
	Kind     string
	Dynamics core.Dynamics
	// Initial values broadcast into each variable at construction.
	Initial map[string]float64
	// Init, when set, runs after the group is allocated and on every Reinit.
	Init func(g *core.ElementGroup) error
}

type entry struct {
	defaults map[string]float64
	build    func(p map[string]float64) (Model, error)
}

var catalog = map[string]entry{
	"counter": {defaults: counterDefaults, build: counter},
	"lif":     {defaults: lifDefaults, build: lif},
	"ifcurve": {defaults: ifCurveDefaults, build: ifCurve},
}

// Kinds returns the catalog's model names in sorted order.
func Kinds() []string {
	out := make([]string, 0, len(catalog))
	for k := range catalog {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

// Defaults returns the default parameters of kind.
func Defaults(kind string) (map[string]float64, error) {
	e, ok := catalog[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q (known: %v)", ErrUnknownModel, kind, Kinds())
	}
	out := make(map[string]float64, len(e.defaults))
	for k, v := range e.defaults {
		out[k] = v
	}
	return out, nil
}

// Lookup resolves kind with params layered over the kind's defaults.
func Lookup(kind string, params map[string]float64) (Model, error) {
	e, ok := catalog[kind]
	if !ok {
		return Model{}, fmt.Errorf("%w: %q (known: %v)", ErrUnknownModel, kind, Kinds())
	}
	merged, err := merge(e.defaults, params)
	if err != nil {
		return Model{}, fmt.Errorf("model %q: %w", kind, err)
	}
	m, err := e.build(merged)
	if err != nil {
		return Model{}, fmt.Errorf("model %q: %w", kind, err)
	}
	m.Kind = kind
	return m, nil
}

// NewGroup allocates an element group of kind and applies its initial state.
// Initial-state options in opts run after the model's own.
func NewGroup(name string, n int, clock *timectrl.Clock, kind string, params map[string]float64, opts ...core.GroupOption) (*core.ElementGroup, error) {
	m, err := Lookup(kind, params)
	if err != nil {
		return nil, err
	}
	all := make([]core.GroupOption, 0, len(opts)+2)
	all = append(all, core.WithInitialValues(m.Initial), core.WithInitializer(m.Init))
	all = append(all, opts...)
	return core.NewElementGroup(name, n, clock, m.Dynamics, all...)
}

func merge(defaults, params map[string]float64) (map[string]float64, error) {
	out := make(map[string]float64, len(defaults))
	for k, v := range defaults {
		out[k] = v
	}
	for k, v := range params {
		if _, ok := defaults[k]; !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownParameter, k)
		}
		out[k] = v
	}
	return out, nil
}
