package core

import "github.com/signalsfoundry/spikesim/timectrl"

// Default scheduling tags. The kernel records them but runs every object in
// a single phase, in registration order.
const (
	DefaultWhen  = "groups"
	DefaultOrder = 0.0
)

// SimulationObject is anything a Network can step.
type SimulationObject interface {
	Name() string
	When() string
	Order() float64
	// Clock returns the clock driving this object. Objects never own it.
	Clock() *timectrl.Clock
	// Prepare is called once at the start of every run.
	Prepare() error
	// Reinit restores the object to its post-construction state.
	Reinit() error
	// Update advances the object by one step of its clock.
	Update() error
}

// Object carries the identity and scheduling fields shared by every
// SimulationObject. Embed it and implement Update.
type Object struct {
	name  string
	when  string
	order float64
	clock *timectrl.Clock
}

// NewObject returns an Object with the default scheduling tags.
func NewObject(name string, clock *timectrl.Clock) Object {
	return Object{name: name, when: DefaultWhen, order: DefaultOrder, clock: clock}
}

func (o *Object) Name() string           { return o.name }
func (o *Object) When() string           { return o.when }
func (o *Object) Order() float64         { return o.order }
func (o *Object) Clock() *timectrl.Clock { return o.clock }
func (o *Object) Prepare() error         { return nil }
func (o *Object) Reinit() error          { return nil }

func (o *Object) setSchedule(when string, order float64) {
	if when != "" {
		o.when = when
	}
	o.order = order
}
