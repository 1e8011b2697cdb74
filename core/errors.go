package core

import (
	"errors"
	"fmt"

	"github.com/signalsfoundry/spikesim/timectrl"
)

var (
	// ErrInvalidConfiguration is returned for unusable construction
	// parameters such as a non-positive dt or a missing state update.
	ErrInvalidConfiguration = timectrl.ErrInvalidConfiguration
	// ErrInvalidArgument is returned for bad call arguments such as an
	// unknown state variable name.
	ErrInvalidArgument = errors.New("invalid argument")
	// ErrAllocationFailure is returned when a group's arrays cannot be
	// allocated for the requested element count.
	ErrAllocationFailure = errors.New("allocation failure")
	// ErrClockMismatch is returned when an object driven by a different clock
	// is added to a network.
	ErrClockMismatch = errors.New("object clock does not match network clock")
	// ErrDuplicateObject is returned when the same object is added to a
	// network twice.
	ErrDuplicateObject = errors.New("object already registered")
	// ErrGroupClosed is returned by every operation on a closed group.
	ErrGroupClosed = errors.New("group closed")
)

// StepError reports a failure inside one object's update. It terminates the
// run that produced it; the clock is left on the failed step.
type StepError struct {
	Step   int64
	Time   float64
	Object string
	Err    error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %d (t=%gs): object %q: %v", e.Step, e.Time, e.Object, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
