package kv

import (
	"context"

	"github.com/ocx/kvcoord/internal/kvexec"
	"github.com/ocx/kvcoord/kv/rpcpb"
)

// TxnBuilder accumulates a conditional atomic transaction's compare,
// success, and failure clauses until Commit is invoked.
type TxnBuilder struct {
	c       *Client
	compare []*rpcpb.Compare
	success []*rpcpb.RequestOp
	failure []*rpcpb.RequestOp
}

// Txn starts a new conditional transaction scoped to this client's
// namespace.
func (c *Client) Txn() *TxnBuilder {
	return &TxnBuilder{c: c}
}

// If adds one or more guard comparisons, ANDed together server-side.
func (b *TxnBuilder) If(cmps ...*rpcpb.Compare) *TxnBuilder {
	b.compare = append(b.compare, cmps...)
	return b
}

// Then adds the ops run when every comparison holds.
func (b *TxnBuilder) Then(ops ...*rpcpb.RequestOp) *TxnBuilder {
	b.success = append(b.success, ops...)
	return b
}

// Else adds the ops run when any comparison fails.
func (b *TxnBuilder) Else(ops ...*rpcpb.RequestOp) *TxnBuilder {
	b.failure = append(b.failure, ops...)
	return b
}

// Commit issues the transaction.
func (b *TxnBuilder) Commit(ctx context.Context) (*rpcpb.TxnResponse, error) {
	req := &rpcpb.TxnRequest{Compare: b.compare, Success: b.success, Failure: b.failure}
	return kvexec.Txn(ctx, b.c.pool, req)
}

// CompareValue builds an Equal/Greater/Less/NotEqual guard on a key's
// value (namespace-qualified).
func (c *Client) CompareValue(key string, result rpcpb.CompareResult, value []byte) *rpcpb.Compare {
	return &rpcpb.Compare{Key: c.qualify(key), Target: rpcpb.CompareValue, Result: result, Value: value}
}

// CompareVersion builds a guard on a key's version.
func (c *Client) CompareVersion(key string, result rpcpb.CompareResult, version int64) *rpcpb.Compare {
	return &rpcpb.Compare{Key: c.qualify(key), Target: rpcpb.CompareVersion, Result: result, Version: version}
}

// CompareCreateRevision builds a guard on a key's create_revision — the
// idiom behind "create if absent" (`CreateRevision: "0"`, Result Equal).
func (c *Client) CompareCreateRevision(key string, result rpcpb.CompareResult, rev string) *rpcpb.Compare {
	return &rpcpb.Compare{Key: c.qualify(key), Target: rpcpb.CompareCreate, Result: result, CreateRevision: rev}
}

// CompareModRevision builds a guard on a key's mod_revision.
func (c *Client) CompareModRevision(key string, result rpcpb.CompareResult, rev string) *rpcpb.Compare {
	return &rpcpb.Compare{Key: c.qualify(key), Target: rpcpb.CompareMod, Result: result, ModRevision: rev}
}

// OpPut builds a Put request-op.
func (c *Client) OpPut(key string, value []byte, opts ...PutOption) *rpcpb.RequestOp {
	req := &rpcpb.PutRequest{Key: c.qualify(key), Value: value}
	for _, o := range opts {
		o(req)
	}
	return &rpcpb.RequestOp{Put: req}
}

// OpGet builds a Range request-op reading a single key.
func (c *Client) OpGet(key string, opts ...GetOption) *rpcpb.RequestOp {
	req := &rpcpb.RangeRequest{Key: c.qualify(key)}
	for _, o := range opts {
		o(req)
	}
	return &rpcpb.RequestOp{Range: req}
}

// OpDelete builds a DeleteRange request-op removing a single key.
func (c *Client) OpDelete(key string, opts ...DeleteOption) *rpcpb.RequestOp {
	req := &rpcpb.DeleteRangeRequest{Key: c.qualify(key)}
	for _, o := range opts {
		o(req)
	}
	return &rpcpb.RequestOp{DeleteRange: req}
}
