package rpcpb

import "context"

type LeaseGrantRequest struct {
	TTL int64
	ID  string
}

type LeaseGrantResponse struct {
	Header ResponseHeader
	ID     string
	TTL    int64
	Error  string
}

type LeaseRevokeRequest struct {
	ID string
}

type LeaseRevokeResponse struct {
	Header ResponseHeader
}

// LeaseKeepAliveRequest is the client->server frame on the duplex
// keepalive stream.
type LeaseKeepAliveRequest struct {
	ID string
}

// LeaseKeepAliveResponse is the server->client frame. TTL == 0 signals
// the server no longer knows this lease.
type LeaseKeepAliveResponse struct {
	Header ResponseHeader
	ID     string
	TTL    int64
}

type LeaseKeepAliveStream interface {
	Send(*LeaseKeepAliveRequest) error
	Recv() (*LeaseKeepAliveResponse, error)
	CloseSend() error
}

type LeaseClient interface {
	LeaseGrant(ctx context.Context, in *LeaseGrantRequest) (*LeaseGrantResponse, error)
	LeaseRevoke(ctx context.Context, in *LeaseRevokeRequest) (*LeaseRevokeResponse, error)
	LeaseKeepAlive(ctx context.Context) (LeaseKeepAliveStream, error)
}
