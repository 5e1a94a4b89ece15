package server

import (
	"context"
	"errors"

	"github.com/pixperk/tabsession/pkg/types"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// converts domain errors to gRPC status errors
func toGRPCError(err error) error {
	if err == nil {
		return nil
	}

	switch {
	case errors.Is(err, types.ErrKeyRequired), errors.Is(err, types.ErrContextRequired):
		return status.Error(codes.InvalidArgument, err.Error())

	case errors.Is(err, types.ErrNotLeader), errors.Is(err, types.ErrStoreUnavailable),
		errors.Is(err, types.ErrStoreClosed):
		//callers treat this as a transient medium failure
		return status.Error(codes.Unavailable, err.Error())

	case errors.Is(err, context.Canceled):
		return status.Error(codes.Canceled, err.Error())

	case errors.Is(err, context.DeadlineExceeded):
		return status.Error(codes.DeadlineExceeded, err.Error())

	default:
		return status.Error(codes.Internal, err.Error())
	}
}
