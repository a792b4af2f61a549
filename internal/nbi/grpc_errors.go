package nbi

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/orbit-simulator/core"
	sim "github.com/signalsfoundry/orbit-simulator/internal/sim/state"
	"github.com/signalsfoundry/orbit-simulator/kb"
)

var (
	// ErrNotFound is a package-level sentinel used when an entity cannot be located.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest is a package-level sentinel used for client-side validation failures.
	ErrInvalidRequest = errors.New("invalid request")
)

// ToStatusError maps simulator errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrNotFound),
		errors.Is(err, core.ErrBodyNotFound),
		errors.Is(err, core.ErrTemplateNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, ErrInvalidRequest),
		errors.Is(err, core.ErrInvalidBody),
		errors.Is(err, core.ErrInvalidTimestep):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, core.ErrNoPrimary),
		errors.Is(err, core.ErrAssetNotReady),
		errors.Is(err, kb.ErrAssetPending),
		errors.Is(err, kb.ErrAssetUnknown):
		return status.Error(codes.FailedPrecondition, err.Error())

	case errors.Is(err, sim.ErrNameInUse),
		errors.Is(err, kb.ErrTemplateExists):
		return status.Error(codes.AlreadyExists, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
