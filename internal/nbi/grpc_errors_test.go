package nbi

import (
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/signalsfoundry/orbit-simulator/core"
	sim "github.com/signalsfoundry/orbit-simulator/internal/sim/state"
	"github.com/signalsfoundry/orbit-simulator/kb"
)

func TestToStatusError(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		err     error
		code    codes.Code
		wantNil bool
	}{
		{name: "nil", err: nil, wantNil: true},
		{name: "status passthrough", err: status.Error(codes.PermissionDenied, "denied"), code: codes.PermissionDenied},
		{name: "invalid request sentinel", err: fmt.Errorf("%w: bad field", ErrInvalidRequest), code: codes.InvalidArgument},
		{name: "invalid body", err: fmt.Errorf("create: %w", core.ErrInvalidBody), code: codes.InvalidArgument},
		{name: "invalid timestep", err: core.ErrInvalidTimestep, code: codes.InvalidArgument},
		{name: "body not found", err: core.ErrBodyNotFound, code: codes.NotFound},
		{name: "template not found", err: kb.ErrTemplateNotFound, code: codes.NotFound},
		{name: "asset not ready", err: core.ErrAssetNotReady, code: codes.FailedPrecondition},
		{name: "no primary", err: core.ErrNoPrimary, code: codes.FailedPrecondition},
		{name: "name in use", err: sim.ErrNameInUse, code: codes.AlreadyExists},
		{name: "fallback", err: errors.New("boom"), code: codes.Internal},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			got := ToStatusError(tc.err)
			if tc.wantNil {
				if got != nil {
					t.Fatalf("ToStatusError(nil) = %v, want nil", got)
				}
				return
			}

			if got == nil {
				t.Fatalf("ToStatusError(%v) = nil, want error", tc.err)
			}
			if code := status.Code(got); code != tc.code {
				t.Fatalf("ToStatusError(%v) code = %v, want %v", tc.err, code, tc.code)
			}
		})
	}
}
