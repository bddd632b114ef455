package api

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/lmux/antenna-coverage/core"
	"github.com/lmux/antenna-coverage/internal/archive"
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
		{name: "invalid request", err: fmt.Errorf("%w: missing site", ErrInvalidRequest), code: codes.InvalidArgument},
		{name: "invalid configuration", err: fmt.Errorf("site: %w", core.ErrInvalidConfiguration), code: codes.InvalidArgument},
		{name: "invalid parameter", err: core.ErrInvalidParameter, code: codes.InvalidArgument},
		{name: "unknown site", err: fmt.Errorf("%w: site x", ErrNotFound), code: codes.NotFound},
		{name: "unknown run", err: archive.ErrNotFound, code: codes.NotFound},
		{name: "cancelled", err: context.Canceled, code: codes.Canceled},
		{name: "deadline", err: fmt.Errorf("compute: %w", context.DeadlineExceeded), code: codes.DeadlineExceeded},
		{name: "terrain", err: fmt.Errorf("%w: tile 12/1/2", core.ErrTerrainFailure), code: codes.Unavailable},
		{name: "fallback", err: errors.New("boom"), code: codes.Internal},
	}

	for _, tc := range tests {
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
