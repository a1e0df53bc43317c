// Package stm implements the software-transactional-memory engine: a
// client-side read/write buffer, governed by one of four isolation
// levels, compiled into a single conditional atomic transaction and
// retried on conflict.
package stm

import (
	"bytes"
	"context"

	"github.com/ocx/kvcoord/internal/kvexec"
	"github.com/ocx/kvcoord/internal/metrics"
	"github.com/ocx/kvcoord/internal/pool"
	"github.com/ocx/kvcoord/internal/revision"
	"github.com/ocx/kvcoord/internal/xerr"
	"github.com/ocx/kvcoord/kv/rpcpb"
)

// Isolation selects the read/write and conflict-check rules a
// transaction commits under.
type Isolation int

const (
	ReadCommitted Isolation = iota
	RepeatableReads
	Serializable
	SerializableSnapshot
)

type opKind int

const (
	opPut opKind = iota
	opDeleteKey
	opDeleteRange
)

type writeEntry struct {
	kind     opKind
	key      []byte
	rangeEnd []byte
	value    []byte
}

func (w writeEntry) toRequestOp() *rpcpb.RequestOp {
	switch w.kind {
	case opPut:
		return &rpcpb.RequestOp{Put: &rpcpb.PutRequest{Key: w.key, Value: w.value}}
	default:
		return &rpcpb.RequestOp{DeleteRange: &rpcpb.DeleteRangeRequest{Key: w.key, RangeEnd: w.rangeEnd}}
	}
}

type readEntry struct {
	resp        *rpcpb.RangeResponse
	modRevision string
}

// Tx is the read/write buffer for one attempt of a transaction. It is
// not safe for concurrent use; the function passed to Transact runs to
// completion before commit is attempted.
type Tx struct {
	p         *pool.Pool
	isolation Isolation

	readOrder      []string
	reads          map[string]readEntry
	pinnedRevision string
	earliestMod    string

	writes []writeEntry
}

func newTx(p *pool.Pool, isolation Isolation) *Tx {
	return &Tx{
		p:         p,
		isolation: isolation,
		reads:     make(map[string]readEntry),
	}
}

// Get reads a single key, synthesising the answer from the write set if
// it was already written in this transaction, otherwise consulting the
// read cache (for RepeatableReads/Serializable/SerializableSnapshot) or
// the server. A missing key returns (nil, nil).
func (tx *Tx) Get(ctx context.Context, key []byte) (*rpcpb.KeyValue, error) {
	if kv, shadowed := tx.writeShadow(key); shadowed {
		return kv, nil
	}

	ks := string(key)
	if tx.isolation != ReadCommitted {
		if cached, ok := tx.reads[ks]; ok {
			return firstKV(cached.resp), nil
		}
	}

	req := &rpcpb.RangeRequest{Key: key}
	if (tx.isolation == Serializable || tx.isolation == SerializableSnapshot) && tx.pinnedRevision != "" {
		req.Revision = tx.pinnedRevision
		req.Serializable = true
	}

	resp, err := kvexec.Range(ctx, tx.p, req)
	if err != nil {
		return nil, err
	}

	if tx.isolation != ReadCommitted {
		tx.recordRead(ks, resp)
	}
	return firstKV(resp), nil
}

// writeShadow answers a read from the buffered write set without
// touching the server: a Put returns its written value, a delete (key or
// range) covering key returns "not found".
func (tx *Tx) writeShadow(key []byte) (*rpcpb.KeyValue, bool) {
	for i := len(tx.writes) - 1; i >= 0; i-- {
		w := tx.writes[i]
		switch w.kind {
		case opPut:
			if bytes.Equal(w.key, key) {
				return &rpcpb.KeyValue{Key: key, Value: w.value}, true
			}
		case opDeleteKey:
			if bytes.Equal(w.key, key) {
				return nil, true
			}
		case opDeleteRange:
			if inRange(key, w.key, w.rangeEnd) {
				return nil, true
			}
		}
	}
	return nil, false
}

func (tx *Tx) recordRead(ks string, resp *rpcpb.RangeResponse) {
	mod := modRevisionOf(resp)
	tx.readOrder = append(tx.readOrder, ks)
	tx.reads[ks] = readEntry{resp: resp, modRevision: mod}

	if (tx.isolation == Serializable || tx.isolation == SerializableSnapshot) && tx.pinnedRevision == "" {
		tx.pinnedRevision = resp.Header.Revision
	}
	if tx.earliestMod == "" || revision.Compare(mod, tx.earliestMod) < 0 {
		tx.earliestMod = mod
	}
}

// Put buffers a write; a later Put/DeleteKey against the same key purges
// this one (last write wins).
func (tx *Tx) Put(key, value []byte) {
	tx.purgeKey(key)
	tx.writes = append(tx.writes, writeEntry{kind: opPut, key: append([]byte{}, key...), value: append([]byte{}, value...)})
}

// DeleteKey buffers the deletion of a single key.
func (tx *Tx) DeleteKey(key []byte) {
	tx.purgeKey(key)
	tx.writes = append(tx.writes, writeEntry{kind: opDeleteKey, key: append([]byte{}, key...)})
}

// DeleteRange buffers the deletion of a [key, rangeEnd) range. Illegal
// under SerializableSnapshot.
func (tx *Tx) DeleteRange(key, rangeEnd []byte) error {
	if tx.isolation == SerializableSnapshot {
		return xerr.New(xerr.InvalidArgument, "stm: DeleteRange is not permitted under SerializableSnapshot isolation")
	}
	tx.writes = append(tx.writes, writeEntry{kind: opDeleteRange, key: append([]byte{}, key...), rangeEnd: append([]byte{}, rangeEnd...)})
	return nil
}

// purgeKey removes any earlier Put/DeleteKey against key; DeleteRange
// entries are never purged.
func (tx *Tx) purgeKey(key []byte) {
	out := tx.writes[:0]
	for _, w := range tx.writes {
		if (w.kind == opPut || w.kind == opDeleteKey) && bytes.Equal(w.key, key) {
			continue
		}
		out = append(out, w)
	}
	tx.writes = out
}

// commit compiles the buffered reads/writes into a single conditional
// transaction under the chosen isolation level and issues it.
func (tx *Tx) commit(ctx context.Context) (*rpcpb.TxnResponse, error) {
	req := &rpcpb.TxnRequest{}

	if tx.isolation == RepeatableReads || tx.isolation == Serializable || tx.isolation == SerializableSnapshot {
		for _, ks := range tx.readOrder {
			entry := tx.reads[ks]
			req.Compare = append(req.Compare, &rpcpb.Compare{
				Key: []byte(ks), Target: rpcpb.CompareMod, Result: rpcpb.CompareEqual, ModRevision: entry.modRevision,
			})
		}
	}

	if tx.isolation == SerializableSnapshot && tx.earliestMod != "" {
		bound := revision.Add(tx.earliestMod, 1)
		seen := make(map[string]bool)
		for _, w := range tx.writes {
			if w.kind == opDeleteRange {
				continue // rejected at DeleteRange() time; defensive skip
			}
			ks := string(w.key)
			if seen[ks] {
				continue
			}
			seen[ks] = true
			req.Compare = append(req.Compare, &rpcpb.Compare{
				Key: w.key, Target: rpcpb.CompareMod, Result: rpcpb.CompareLess, ModRevision: bound,
			})
		}
	}

	for _, w := range tx.writes {
		req.Success = append(req.Success, w.toRequestOp())
	}

	resp, err := kvexec.Txn(ctx, tx.p, req)
	if err != nil {
		return nil, err
	}
	if !resp.Succeeded {
		metrics.STMConflictsTotal.Inc()
		return nil, xerr.New(xerr.STMConflict, "stm: transaction conflict, comparisons failed")
	}
	return resp, nil
}

// Transact runs fn against a fresh Tx and commits it as a single
// conditional transaction, retrying on STMConflict up to retries times.
// Any other error aborts immediately.
func Transact(ctx context.Context, p *pool.Pool, isolation Isolation, retries int, fn func(tx *Tx) error) (*rpcpb.TxnResponse, error) {
	if retries < 0 {
		retries = 0
	}
	var lastErr error
	for attempt := 0; attempt <= retries; attempt++ {
		tx := newTx(p, isolation)
		if err := fn(tx); err != nil {
			return nil, err
		}
		resp, err := tx.commit(ctx)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if xerr.KindOf(err) != xerr.STMConflict {
			return nil, err
		}
	}
	return nil, lastErr
}

func firstKV(resp *rpcpb.RangeResponse) *rpcpb.KeyValue {
	if resp == nil || len(resp.Kvs) == 0 {
		return nil
	}
	return resp.Kvs[0]
}

func modRevisionOf(resp *rpcpb.RangeResponse) string {
	if kv := firstKV(resp); kv != nil {
		return kv.ModRevision
	}
	// Key did not exist: the comparison target is "this key has never
	// been modified", expressed as mod_revision 0.
	return revision.Zero
}

func inRange(key, start, end []byte) bool {
	if bytes.Compare(key, start) < 0 {
		return false
	}
	if len(end) == 0 {
		return bytes.Equal(key, start)
	}
	return bytes.Compare(key, end) < 0
}
