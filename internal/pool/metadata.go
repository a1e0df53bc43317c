package pool

import (
	"context"

	"github.com/ocx/kvcoord/internal/authn"
	"google.golang.org/grpc/metadata"
)

// withMetadata attaches the authenticator's metadata to ctx as outgoing
// gRPC metadata, the way a real interceptor would.
func withMetadata(ctx context.Context, md authn.Metadata) context.Context {
	if len(md) == 0 {
		return ctx
	}
	pairs := make([]string, 0, len(md)*2)
	for k, v := range md {
		pairs = append(pairs, k, v)
	}
	return metadata.AppendToOutgoingContext(ctx, pairs...)
}
