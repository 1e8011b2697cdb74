package timectrl

import (
	"errors"
	"fmt"
	"math"
)

// Epsilon is the relative tolerance used when deciding whether a continuous
// time falls on a multiple of dt.
const Epsilon = 1e-14

// ErrInvalidConfiguration is returned when a clock is constructed with a
// non-positive or non-finite step size.
var ErrInvalidConfiguration = errors.New("invalid configuration")

// SimClock is the read-only view of a Clock. Simulation objects that only
// need to observe time depend on this rather than on *Clock.
type SimClock interface {
	// T returns the current simulation time in seconds.
	T() float64
	// DT returns the step size in seconds.
	DT() float64
	// Step returns the current integer step.
	Step() int64
	// Running reports whether the current step is before the end step.
	Running() bool
}

// Clock discretises simulation time into integer steps of a fixed size.
//
// A Clock is not safe for concurrent mutation. It is advanced only by the
// Network loop that owns the run; everything else reads it.
type Clock struct {
	dt   float64
	i    int64
	iEnd int64
}

var _ SimClock = (*Clock)(nil)

// NewClock constructs a clock with step size dt seconds, positioned at step 0
// with an end step of 0.
func NewClock(dt float64) (*Clock, error) {
	if !(dt > 0) || math.IsInf(dt, 0) {
		return nil, fmt.Errorf("%w: clock dt must be a positive finite number, got %v", ErrInvalidConfiguration, dt)
	}
	return &Clock{dt: dt}, nil
}

// DT returns the step size in seconds.
func (c *Clock) DT() float64 { return c.dt }

// Step returns the current integer step.
func (c *Clock) Step() int64 { return c.i }

// EndStep returns the terminal step of the current interval.
func (c *Clock) EndStep() int64 { return c.iEnd }

// T returns the current time, i*dt.
func (c *Clock) T() float64 { return float64(c.i) * c.dt }

// TEnd returns the end time, i_end*dt.
func (c *Clock) TEnd() float64 { return float64(c.iEnd) * c.dt }

// Running reports whether i < i_end.
func (c *Clock) Running() bool { return c.i < c.iEnd }

// Tick advances the clock by one step. It does not check the end step;
// callers stop once Running reports false.
func (c *Clock) Tick() { c.i++ }

// SetInterval positions the clock for a run covering [start, end).
//
// Each bound is snapped to the nearest step when that step reconstructs the
// bound exactly or within Epsilon relative error, and rounded up otherwise.
// This keeps a follow-up run from repeating the last step of a previous run
// while never under-covering an interval whose bound falls inside a step.
//
// Both bounds must be non-negative. Negative times are outside the domain of
// the half-up rounding and are not corrected.
func (c *Clock) SetInterval(start, end float64) {
	c.i = c.StepFor(start)
	c.iEnd = c.StepFor(end)
}

// StepFor converts a non-negative continuous time into a step index using the
// same rounding rule as SetInterval.
// Times beyond the last representable step saturate at math.MaxInt64.
func (c *Clock) StepFor(t float64) int64 {
	step := roundHalfUp(t / c.dt)
	recon := float64(step) * c.dt
	if recon == t || math.Abs(recon-t) <= Epsilon*math.Abs(recon) {
		return step
	}
	return toStep(math.Ceil(t / c.dt))
}

// InRange reports whether t is a finite, non-negative time whose step fits
// in an int64.
func (c *Clock) InRange(t float64) bool {
	return t >= 0 && math.Ceil(t/c.dt) < maxStep
}

// SetT forces the current step to floor(t/dt), bypassing the tolerant
// rounding of SetInterval.
func (c *Clock) SetT(t float64) { c.i = toStep(math.Floor(t / c.dt)) }

// SetTEnd forces the end step to floor(t/dt), bypassing the tolerant
// rounding of SetInterval.
func (c *Clock) SetTEnd(t float64) { c.iEnd = toStep(math.Floor(t / c.dt)) }

// String renders the clock state for logs.
func (c *Clock) String() string {
	return fmt.Sprintf("Clock{dt=%g, i=%d, i_end=%d}", c.dt, c.i, c.iEnd)
}

// maxStep is 2^63, the first float64 past math.MaxInt64.
const maxStep = float64(1 << 63)

// roundHalfUp truncates x+0.5, which rounds half up for x >= 0 only.
func roundHalfUp(x float64) int64 {
	return toStep(x + 0.5)
}

// toStep converts x to an int64, saturating instead of overflowing. NaN
// maps to 0.
func toStep(x float64) int64 {
	switch {
	case math.IsNaN(x):
		return 0
	case x >= maxStep:
		return math.MaxInt64
	case x < -maxStep:
		return math.MinInt64
	}
	return int64(x)
}
