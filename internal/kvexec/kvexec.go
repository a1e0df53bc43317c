// Package kvexec holds the thin per-RPC wrappers shared by every CORE
// package that needs to issue a plain Range/Put/DeleteRange/Txn call
// through the pool (STM, election, lock, and the root kv client). Each
// wrapper is nothing more than a pool.Exec call bound to the right
// service method and a Classify on the error, so those packages don't
// each re-derive the same boilerplate.
package kvexec

import (
	"context"

	"github.com/ocx/kvcoord/internal/peer"
	"github.com/ocx/kvcoord/internal/pool"
	"github.com/ocx/kvcoord/internal/xerr"
	"github.com/ocx/kvcoord/kv/rpcpb"
)

func Range(ctx context.Context, p *pool.Pool, req *rpcpb.RangeRequest) (*rpcpb.RangeResponse, error) {
	return pool.Exec(ctx, p, pool.CallContext{Service: "KV", Method: "Range"},
		func(ctx context.Context, h *peer.Host) (*rpcpb.RangeResponse, error) {
			client, err := h.KV()
			if err != nil {
				return nil, err
			}
			resp, err := client.Range(ctx, req)
			if err != nil {
				return nil, xerr.Classify(err)
			}
			return resp, nil
		})
}

func Put(ctx context.Context, p *pool.Pool, req *rpcpb.PutRequest) (*rpcpb.PutResponse, error) {
	return pool.Exec(ctx, p, pool.CallContext{Service: "KV", Method: "Put"},
		func(ctx context.Context, h *peer.Host) (*rpcpb.PutResponse, error) {
			client, err := h.KV()
			if err != nil {
				return nil, err
			}
			resp, err := client.Put(ctx, req)
			if err != nil {
				return nil, xerr.Classify(err)
			}
			return resp, nil
		})
}

func DeleteRange(ctx context.Context, p *pool.Pool, req *rpcpb.DeleteRangeRequest) (*rpcpb.DeleteRangeResponse, error) {
	return pool.Exec(ctx, p, pool.CallContext{Service: "KV", Method: "DeleteRange"},
		func(ctx context.Context, h *peer.Host) (*rpcpb.DeleteRangeResponse, error) {
			client, err := h.KV()
			if err != nil {
				return nil, err
			}
			resp, err := client.DeleteRange(ctx, req)
			if err != nil {
				return nil, xerr.Classify(err)
			}
			return resp, nil
		})
}

func Txn(ctx context.Context, p *pool.Pool, req *rpcpb.TxnRequest) (*rpcpb.TxnResponse, error) {
	return pool.Exec(ctx, p, pool.CallContext{Service: "KV", Method: "Txn"},
		func(ctx context.Context, h *peer.Host) (*rpcpb.TxnResponse, error) {
			client, err := h.KV()
			if err != nil {
				return nil, err
			}
			resp, err := client.Txn(ctx, req)
			if err != nil {
				return nil, xerr.Classify(err)
			}
			return resp, nil
		})
}
