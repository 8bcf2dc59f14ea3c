package grpcobj

import (
	"context"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/wrapperspb"

	"xdao.co/keycircle/digest"
	"xdao.co/keycircle/item"
	"xdao.co/keycircle/storage"
)

// Client implements storage.ObjectStore over the Objects gRPC service.
//
// Every reply is re-verified locally: a Get whose bytes do not hash to the
// requested digest is reported as storage.ErrDigestMismatch.
type Client struct {
	cc     *grpc.ClientConn
	client ObjectsClient

	// Timeout applies per RPC when non-zero.
	Timeout time.Duration
}

var _ storage.ObjectStore = (*Client)(nil)

type DialOptions struct {
	// Timeout applies to the initial dial when non-zero.
	Timeout time.Duration

	// MaxMsgBytes sets both send/recv max sizes when non-zero.
	MaxMsgBytes int
}

func Dial(target string, opts DialOptions) (*Client, error) {
	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	}
	if opts.MaxMsgBytes > 0 {
		dialOpts = append(dialOpts,
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(opts.MaxMsgBytes),
				grpc.MaxCallSendMsgSize(opts.MaxMsgBytes),
			),
		)
	}

	ctx := context.Background()
	if opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.Timeout)
		defer cancel()
	}

	cc, err := grpc.DialContext(ctx, target, dialOpts...)
	if err != nil {
		return nil, err
	}
	return NewClient(cc), nil
}

// NewClient wraps an existing connection. The caller keeps ownership of cc
// unless it calls Close.
func NewClient(cc *grpc.ClientConn) *Client {
	return &Client{cc: cc, client: NewObjectsClient(cc)}
}

func (c *Client) Close() error {
	if c == nil || c.cc == nil {
		return nil
	}
	return c.cc.Close()
}

func (c *Client) Put(obj item.Object) (digest.Digest, error) {
	if obj.IsZero() {
		return digest.Digest{}, storage.ErrInvalidDigest
	}
	der, err := obj.Encode()
	if err != nil {
		return digest.Digest{}, err
	}

	ctx, cancel := c.ctx()
	defer cancel()

	reply, err := c.client.Put(ctx, wrapperspb.Bytes(der))
	if err != nil {
		return digest.Digest{}, mapRPC(err)
	}
	d, err := digest.Parse(reply.GetValue())
	if err != nil || !d.Defined() {
		return digest.Digest{}, storage.ErrInvalidDigest
	}
	if d != obj.Digest() {
		return digest.Digest{}, storage.ErrDigestMismatch
	}
	return d, nil
}

func (c *Client) Get(d digest.Digest) (item.Object, error) {
	if !d.Defined() {
		return item.Object{}, storage.ErrInvalidDigest
	}
	ctx, cancel := c.ctx()
	defer cancel()

	reply, err := c.client.Get(ctx, wrapperspb.String(d.CID().String()))
	if err != nil {
		return item.Object{}, mapRPC(err)
	}
	obj, err := item.Decode(reply.GetValue())
	if err != nil || obj.Digest() != d {
		return item.Object{}, storage.ErrDigestMismatch
	}
	return obj, nil
}

func (c *Client) Has(d digest.Digest) bool {
	if !d.Defined() {
		return false
	}
	ctx, cancel := c.ctx()
	defer cancel()

	reply, err := c.client.Has(ctx, wrapperspb.String(d.CID().String()))
	if err != nil {
		return false
	}
	return reply.GetValue()
}

func (c *Client) ctx() (context.Context, context.CancelFunc) {
	if c.Timeout <= 0 {
		return context.WithCancel(context.Background())
	}
	return context.WithTimeout(context.Background(), c.Timeout)
}
