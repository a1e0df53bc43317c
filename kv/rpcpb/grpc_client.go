package rpcpb

import (
	"context"

	"google.golang.org/grpc"
)

// The constructors below are what a schema compiler would normally emit
// from the store's .proto service definitions (KV, Watch, Lease, Auth).
// They are hand-written here only because that codegen step is outside
// this module's scope; the wire method names follow the store's real
// RPC naming. The request/response shapes are plain Go structs, not
// protobuf messages, so gRPC's default proto codec cannot encode them.

type kvClient struct{ cc *grpc.ClientConn }

func NewKVClient(cc *grpc.ClientConn) KVClient { return &kvClient{cc: cc} }

func (c *kvClient) Range(ctx context.Context, in *RangeRequest) (*RangeResponse, error) {
	out := new(RangeResponse)
	if err := c.cc.Invoke(ctx, "/storepb.KV/Range", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *kvClient) Put(ctx context.Context, in *PutRequest) (*PutResponse, error) {
	out := new(PutResponse)
	if err := c.cc.Invoke(ctx, "/storepb.KV/Put", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *kvClient) DeleteRange(ctx context.Context, in *DeleteRangeRequest) (*DeleteRangeResponse, error) {
	out := new(DeleteRangeResponse)
	if err := c.cc.Invoke(ctx, "/storepb.KV/DeleteRange", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *kvClient) Txn(ctx context.Context, in *TxnRequest) (*TxnResponse, error) {
	out := new(TxnResponse)
	if err := c.cc.Invoke(ctx, "/storepb.KV/Txn", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

type watchClient struct{ cc *grpc.ClientConn }

func NewWatchClient(cc *grpc.ClientConn) WatchClient { return &watchClient{cc: cc} }

var watchStreamDesc = &grpc.StreamDesc{
	StreamName:    "Watch",
	ServerStreams: true,
	ClientStreams: true,
}

func (c *watchClient) Watch(ctx context.Context) (WatchStream, error) {
	stream, err := c.cc.NewStream(ctx, watchStreamDesc, "/storepb.Watch/Watch")
	if err != nil {
		return nil, err
	}
	return &watchStream{stream: stream}, nil
}

type watchStream struct{ stream grpc.ClientStream }

func (s *watchStream) Send(req *WatchRequest) error   { return s.stream.SendMsg(req) }
func (s *watchStream) Recv() (*WatchResponse, error) {
	out := new(WatchResponse)
	if err := s.stream.RecvMsg(out); err != nil {
		return nil, err
	}
	return out, nil
}
func (s *watchStream) CloseSend() error { return s.stream.CloseSend() }

type leaseClient struct{ cc *grpc.ClientConn }

func NewLeaseClient(cc *grpc.ClientConn) LeaseClient { return &leaseClient{cc: cc} }

func (c *leaseClient) LeaseGrant(ctx context.Context, in *LeaseGrantRequest) (*LeaseGrantResponse, error) {
	out := new(LeaseGrantResponse)
	if err := c.cc.Invoke(ctx, "/storepb.Lease/LeaseGrant", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *leaseClient) LeaseRevoke(ctx context.Context, in *LeaseRevokeRequest) (*LeaseRevokeResponse, error) {
	out := new(LeaseRevokeResponse)
	if err := c.cc.Invoke(ctx, "/storepb.Lease/LeaseRevoke", in, out); err != nil {
		return nil, err
	}
	return out, nil
}

var leaseKeepAliveStreamDesc = &grpc.StreamDesc{
	StreamName:    "LeaseKeepAlive",
	ServerStreams: true,
	ClientStreams: true,
}

func (c *leaseClient) LeaseKeepAlive(ctx context.Context) (LeaseKeepAliveStream, error) {
	stream, err := c.cc.NewStream(ctx, leaseKeepAliveStreamDesc, "/storepb.Lease/LeaseKeepAlive")
	if err != nil {
		return nil, err
	}
	return &leaseKeepAliveStream{stream: stream}, nil
}

type leaseKeepAliveStream struct{ stream grpc.ClientStream }

func (s *leaseKeepAliveStream) Send(req *LeaseKeepAliveRequest) error { return s.stream.SendMsg(req) }
func (s *leaseKeepAliveStream) Recv() (*LeaseKeepAliveResponse, error) {
	out := new(LeaseKeepAliveResponse)
	if err := s.stream.RecvMsg(out); err != nil {
		return nil, err
	}
	return out, nil
}
func (s *leaseKeepAliveStream) CloseSend() error { return s.stream.CloseSend() }

type authClient struct{ cc *grpc.ClientConn }

func NewAuthClient(cc *grpc.ClientConn) AuthClient { return &authClient{cc: cc} }

func (c *authClient) Authenticate(ctx context.Context, in *AuthenticateRequest) (*AuthenticateResponse, error) {
	out := new(AuthenticateResponse)
	if err := c.cc.Invoke(ctx, "/storepb.Auth/Authenticate", in, out); err != nil {
		return nil, err
	}
	return out, nil
}
