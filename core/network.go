package core

import (
	"context"
	"fmt"
	"math"
	"reflect"
	"time"

	"github.com/signalsfoundry/spikesim/internal/logging"
	"github.com/signalsfoundry/spikesim/timectrl"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/signalsfoundry/spikesim/core"

// EventSource is an object that produces a per-step event list.
type EventSource interface {
	Name() string
	N() int
	Events() []int
	EventCount() int
}

// StepRecorder receives per-step measurements from a Network.
type StepRecorder interface {
	ObserveStep(d time.Duration)
	AddEvents(object string, n int)
	SetObjects(n int)
}

// RunStats summarises one call to Run or Continue.
type RunStats struct {
	StartStep int64
	EndStep   int64
	Steps     int64
	Events    int64
	Wall      time.Duration
}

// NetworkOption configures a Network.
type NetworkOption func(*Network)

// WithLogger sets the logger used for run lifecycle messages.
func WithLogger(log logging.Logger) NetworkOption {
	return func(n *Network) {
		if log != nil {
			n.log = log
		}
	}
}

// WithRecorder sets the sink for per-step metrics.
func WithRecorder(r StepRecorder) NetworkOption {
	return func(n *Network) { n.recorder = r }
}

// WithTracer overrides the tracer used for run spans.
func WithTracer(t trace.Tracer) NetworkOption {
	return func(n *Network) {
		if t != nil {
			n.tracer = t
		}
	}
}

// Network steps an ordered set of simulation objects on one shared clock.
//
// Objects are updated in the order they were added, so an object observes
// the post-update state of every object added before it within the same
// step. The first object added fixes the network's clock; objects driven by
// any other clock are rejected.
type Network struct {
	objects   []SimulationObject
	clock     *timectrl.Clock
	listeners []func(step int64, t float64)

	log      logging.Logger
	recorder StepRecorder
	tracer   trace.Tracer
}

// NewNetwork returns an empty network.
func NewNetwork(opts ...NetworkOption) *Network {
	n := &Network{
		log:    logging.Noop(),
		tracer: otel.Tracer(tracerName),
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Add appends objects in order. It fails without modifying the network if
// any object is nil, already registered, or driven by a different clock.
func (n *Network) Add(objs ...SimulationObject) error {
	clock := n.clock
	seen := make(map[any]struct{}, len(n.objects)+len(objs))
	for _, obj := range n.objects {
		if key, ok := identity(obj); ok {
			seen[key] = struct{}{}
		}
	}
	for _, obj := range objs {
		if obj == nil {
			return fmt.Errorf("%w: nil object", ErrInvalidArgument)
		}
		if obj.Clock() == nil {
			return fmt.Errorf("%w: object %q has no clock", ErrInvalidConfiguration, obj.Name())
		}
		key, keyed := identity(obj)
		if _, dup := seen[key]; keyed && dup {
			return fmt.Errorf("%w: %q", ErrDuplicateObject, obj.Name())
		}
		if clock == nil {
			clock = obj.Clock()
		} else if obj.Clock() != clock {
			return fmt.Errorf("%w: %q", ErrClockMismatch, obj.Name())
		}
		if keyed {
			seen[key] = struct{}{}
		}
	}

	n.objects = append(n.objects, objs...)
	n.clock = clock
	if n.recorder != nil {
		n.recorder.SetObjects(len(n.objects))
	}
	return nil
}

type pointerKey struct {
	typ reflect.Type
	ptr uintptr
}

// identity returns a map key that is equal for two registrations of the same
// object. Values whose type is not comparable have no identity and are never
// reported as duplicates.
func identity(obj SimulationObject) (any, bool) {
	v := reflect.ValueOf(obj)
	switch v.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.Func, reflect.UnsafePointer:
		return pointerKey{typ: v.Type(), ptr: v.Pointer()}, true
	}
	if !v.Comparable() {
		return nil, false
	}
	return obj, true
}

// RegisterStepListener registers a callback invoked after every completed
// step, before the clock ticks.
func (n *Network) RegisterStepListener(fn func(step int64, t float64)) {
	n.listeners = append(n.listeners, fn)
}

// Objects returns the registered objects in update order.
func (n *Network) Objects() []SimulationObject {
	out := make([]SimulationObject, len(n.objects))
	copy(out, n.objects)
	return out
}

// Len returns the number of registered objects.
func (n *Network) Len() int { return len(n.objects) }

// Clock returns the shared clock, or nil for an empty network.
func (n *Network) Clock() *timectrl.Clock { return n.clock }

// Run simulates the interval [0, duration). An empty network returns
// immediately. The first failing update ends the run with a *StepError.
//
// ctx carries the logger and trace span only; a run cannot be cancelled
// part-way and always ends by exhausting its interval or by an error.
func (n *Network) Run(ctx context.Context, duration float64) (RunStats, error) {
	if len(n.objects) == 0 {
		return RunStats{}, nil
	}
	return n.run(ctx, 0, duration)
}

// Continue simulates [t, t+duration) where t is the clock's current time,
// resuming where a previous run stopped.
func (n *Network) Continue(ctx context.Context, duration float64) (RunStats, error) {
	if len(n.objects) == 0 {
		return RunStats{}, nil
	}
	start := n.clock.T()
	return n.run(ctx, start, start+duration)
}

// Reinit reinitialises every object in order.
func (n *Network) Reinit() error {
	for _, obj := range n.objects {
		if err := obj.Reinit(); err != nil {
			return fmt.Errorf("reinit %q: %w", obj.Name(), err)
		}
	}
	return nil
}

func (n *Network) run(ctx context.Context, start, end float64) (RunStats, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	if math.IsNaN(end) || end < start || !n.clock.InRange(start) || !n.clock.InRange(end) {
		return RunStats{}, fmt.Errorf("%w: run interval [%g, %g)", ErrInvalidArgument, start, end)
	}

	ctx, log := logging.WithRunLogger(ctx, n.logger(ctx))
	ctx, span := n.tracer.Start(ctx, "Network.Run", trace.WithAttributes(
		attribute.Float64("sim.start", start),
		attribute.Float64("sim.end", end),
		attribute.Float64("sim.dt", n.clock.DT()),
		attribute.Int("sim.objects", len(n.objects)),
	))
	defer span.End()

	for _, obj := range n.objects {
		if err := obj.Prepare(); err != nil {
			err = fmt.Errorf("prepare %q: %w", obj.Name(), err)
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
			return RunStats{}, err
		}
	}

	clock := n.clock
	clock.SetInterval(start, end)
	stats := RunStats{StartStep: clock.Step(), EndStep: clock.EndStep()}
	log.Info(ctx, "run starting",
		logging.Float("start", start),
		logging.Float("end", end),
		logging.Float("dt", clock.DT()),
		logging.Int64("start_step", stats.StartStep),
		logging.Int64("end_step", stats.EndStep),
		logging.Int("objects", len(n.objects)),
	)

	began := time.Now()
	for clock.Running() {
		stepBegan := time.Now()
		for _, obj := range n.objects {
			if err := obj.Update(); err != nil {
				serr := &StepError{Step: clock.Step(), Time: clock.T(), Object: obj.Name(), Err: err}
				stats.Wall = time.Since(began)
				span.RecordError(serr)
				span.SetStatus(codes.Error, serr.Error())
				log.Error(ctx, "run aborted",
					logging.Step(serr.Step),
					logging.String("object", serr.Object),
					logging.Error(err),
				)
				return stats, serr
			}
		}
		events := n.countEvents()
		stats.Events += events
		if n.recorder != nil {
			n.recorder.ObserveStep(time.Since(stepBegan))
		}
		log.Debug(ctx, "step complete",
			logging.Step(clock.Step()),
			logging.SimTime(clock.T()),
			logging.Int64("events", events),
		)
		for _, fn := range n.listeners {
			fn(clock.Step(), clock.T())
		}
		clock.Tick()
		stats.Steps++
	}
	stats.Wall = time.Since(began)

	span.SetAttributes(
		attribute.Int64("sim.steps", stats.Steps),
		attribute.Int64("sim.events", stats.Events),
	)
	log.Info(ctx, "run finished",
		logging.Int64("steps", stats.Steps),
		logging.Int64("events", stats.Events),
		logging.Duration("wall", stats.Wall),
	)
	return stats, nil
}

func (n *Network) countEvents() int64 {
	var total int64
	for _, obj := range n.objects {
		src, ok := obj.(EventSource)
		if !ok {
			continue
		}
		count := src.EventCount()
		total += int64(count)
		if n.recorder != nil && count > 0 {
			n.recorder.AddEvents(src.Name(), count)
		}
	}
	return total
}

func (n *Network) logger(ctx context.Context) logging.Logger {
	return logging.FromContext(ctx, n.log)
}
