package monitor

import (
	"errors"

	"github.com/signalsfoundry/spikesim/core"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// ToStatusError maps the errors a run can end with onto gRPC status codes.
// Errors that already carry a status pass through unchanged.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	var stepErr *core.StepError
	switch {
	case errors.As(err, &stepErr):
		return status.Error(codes.Aborted, err.Error())

	case errors.Is(err, core.ErrInvalidArgument),
		errors.Is(err, core.ErrInvalidConfiguration):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, core.ErrGroupClosed):
		return status.Error(codes.FailedPrecondition, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
