package grpcobj

import (
	"errors"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"xdao.co/keycircle/kcerr"
	"xdao.co/keycircle/storage"
)

// mapErr converts a store error into a gRPC status on the server side.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	switch {
	case errors.Is(err, storage.ErrNotFound):
		return status.Error(codes.NotFound, storage.ErrNotFound.Error())
	case errors.Is(err, storage.ErrInvalidDigest):
		return status.Error(codes.InvalidArgument, storage.ErrInvalidDigest.Error())
	case errors.Is(err, storage.ErrDigestMismatch):
		return status.Error(codes.DataLoss, storage.ErrDigestMismatch.Error())
	case errors.Is(err, storage.ErrImmutable):
		return status.Error(codes.AlreadyExists, storage.ErrImmutable.Error())
	case kcerr.IsKind(err, kcerr.KindDigest):
		return status.Error(codes.FailedPrecondition, err.Error())
	default:
		return status.Error(codes.Internal, err.Error())
	}
}

// mapRPC converts a gRPC status back into the storage sentinel errors.
func mapRPC(err error) error {
	if err == nil {
		return nil
	}
	st, ok := status.FromError(err)
	if !ok {
		return err
	}
	switch st.Code() {
	case codes.NotFound:
		return storage.ErrNotFound
	case codes.InvalidArgument:
		return storage.ErrInvalidDigest
	case codes.DataLoss:
		return storage.ErrDigestMismatch
	case codes.AlreadyExists:
		return storage.ErrImmutable
	default:
		return err
	}
}
