package api

import (
	"context"
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/lmux/antenna-coverage/core"
	"github.com/lmux/antenna-coverage/internal/archive"
)

var (
	// ErrNotFound is returned when a request names an unknown site.
	ErrNotFound = errors.New("not found")
	// ErrInvalidRequest is returned for malformed request messages.
	ErrInvalidRequest = errors.New("invalid request")
)

// ToStatusError maps coverage errors onto gRPC status codes.
func ToStatusError(err error) error {
	if err == nil {
		return nil
	}
	if _, ok := status.FromError(err); ok {
		return err
	}

	switch {
	case errors.Is(err, ErrInvalidRequest), core.IsConfigError(err):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, ErrNotFound), errors.Is(err, archive.ErrNotFound):
		return status.Error(codes.NotFound, err.Error())

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	case errors.Is(err, core.ErrTerrainFailure):
		return status.Error(codes.Unavailable, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
