package grpcobj

import (
	"context"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/keycircle/digest"
	"xdao.co/keycircle/internal/metrics"
	"xdao.co/keycircle/item"
	"xdao.co/keycircle/storage"
)

// Server exposes a storage.ObjectStore over the Objects gRPC service.
type Server struct {
	UnimplementedObjectsServer
	Store storage.ObjectStore

	// Metrics is optional.
	Metrics *metrics.Metrics
}

func (s *Server) Put(ctx context.Context, in *wrapperspb.BytesValue) (*wrapperspb.StringValue, error) {
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing object store")
	}
	defer s.Metrics.ObserveRPC("Put", time.Now())
	obj, err := item.Decode(in.GetValue())
	if err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	d, err := s.Store.Put(obj)
	if err != nil {
		return nil, mapErr(err)
	}
	if d != obj.Digest() {
		return nil, status.Error(codes.DataLoss, storage.ErrDigestMismatch.Error())
	}
	return wrapperspb.String(d.CID().String()), nil
}

func (s *Server) Get(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BytesValue, error) {
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing object store")
	}
	defer s.Metrics.ObserveRPC("Get", time.Now())
	d, err := digest.Parse(in.GetValue())
	if err != nil || !d.Defined() {
		return nil, status.Error(codes.InvalidArgument, storage.ErrInvalidDigest.Error())
	}
	obj, err := s.Store.Get(d)
	if err != nil {
		return nil, mapErr(err)
	}
	if obj.Digest() != d {
		return nil, status.Error(codes.DataLoss, storage.ErrDigestMismatch.Error())
	}
	der, err := obj.Encode()
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return wrapperspb.Bytes(der), nil
}

func (s *Server) Has(ctx context.Context, in *wrapperspb.StringValue) (*wrapperspb.BoolValue, error) {
	if s == nil || s.Store == nil {
		return nil, status.Error(codes.FailedPrecondition, "missing object store")
	}
	defer s.Metrics.ObserveRPC("Has", time.Now())
	d, err := digest.Parse(in.GetValue())
	if err != nil || !d.Defined() {
		return nil, status.Error(codes.InvalidArgument, storage.ErrInvalidDigest.Error())
	}
	return wrapperspb.Bool(s.Store.Has(d)), nil
}
