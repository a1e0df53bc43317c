package stm

import (
	"context"
	"testing"

	"github.com/ocx/kvcoord/internal/pool"
	"github.com/ocx/kvcoord/internal/xerr"
	"github.com/ocx/kvcoord/kv/rpcpb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func poolReturningTxn(resp *rpcpb.TxnResponse, err error) *pool.Pool {
	p := pool.New(nil, nil, pool.Config{})
	p.Override = func(ctx context.Context, call pool.CallContext) (any, error) {
		if err != nil {
			return nil, err
		}
		return resp, nil
	}
	return p
}

func TestWriteShadowReadsOwnPut(t *testing.T) {
	tx := newTx(nil, ReadCommitted)
	tx.Put([]byte("a"), []byte("1"))
	kv, err := tx.Get(context.Background(), []byte("a"))
	require.NoError(t, err)
	assert.Equal(t, []byte("1"), kv.Value)
}

func TestWriteShadowHidesDeletedKey(t *testing.T) {
	tx := newTx(nil, ReadCommitted)
	tx.Put([]byte("a"), []byte("1"))
	tx.DeleteKey([]byte("a"))
	kv, err := tx.Get(context.Background(), []byte("a"))
	require.NoError(t, err)
	assert.Nil(t, kv)
}

func TestPutPurgesEarlierWriteToSameKey(t *testing.T) {
	tx := newTx(nil, ReadCommitted)
	tx.Put([]byte("a"), []byte("1"))
	tx.Put([]byte("a"), []byte("2"))
	assert.Len(t, tx.writes, 1)
	assert.Equal(t, []byte("2"), tx.writes[0].value)
}

func TestDeleteRangeRejectedUnderSerializableSnapshot(t *testing.T) {
	tx := newTx(nil, SerializableSnapshot)
	err := tx.DeleteRange([]byte("a"), []byte("z"))
	assert.Equal(t, xerr.InvalidArgument, xerr.KindOf(err))
	assert.Empty(t, tx.writes)
}

func TestDeleteRangeAllowedUnderSerializable(t *testing.T) {
	tx := newTx(nil, Serializable)
	require.NoError(t, tx.DeleteRange([]byte("a"), []byte("z")))
	assert.Len(t, tx.writes, 1)
}

func TestCommitSucceeds(t *testing.T) {
	p := poolReturningTxn(&rpcpb.TxnResponse{Succeeded: true}, nil)
	resp, err := Transact(context.Background(), p, ReadCommitted, 3, func(tx *Tx) error {
		tx.Put([]byte("a"), []byte("1"))
		return nil
	})
	require.NoError(t, err)
	assert.True(t, resp.Succeeded)
}

func TestCommitRetriesOnConflictThenGivesUp(t *testing.T) {
	p := poolReturningTxn(&rpcpb.TxnResponse{Succeeded: false}, nil)
	attempts := 0
	_, err := Transact(context.Background(), p, ReadCommitted, 2, func(tx *Tx) error {
		attempts++
		tx.Put([]byte("a"), []byte("1"))
		return nil
	})
	assert.Equal(t, xerr.STMConflict, xerr.KindOf(err))
	assert.Equal(t, 3, attempts) // initial attempt + 2 retries
}

func TestCommitAbortsImmediatelyOnBodyError(t *testing.T) {
	boom := xerr.New(xerr.Internal, "boom")
	p := poolReturningTxn(nil, nil)
	_, err := Transact(context.Background(), p, ReadCommitted, 3, func(tx *Tx) error {
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestRepeatableReadsReadThenCommitSucceeds(t *testing.T) {
	p := pool.New(nil, nil, pool.Config{})
	p.Override = func(ctx context.Context, call pool.CallContext) (any, error) {
		if call.Method == "Range" {
			return &rpcpb.RangeResponse{Kvs: []*rpcpb.KeyValue{{Key: []byte("a"), ModRevision: "7"}}}, nil
		}
		return &rpcpb.TxnResponse{Succeeded: true}, nil
	}
	_, err := Transact(context.Background(), p, RepeatableReads, 0, func(tx *Tx) error {
		_, err := tx.Get(context.Background(), []byte("a"))
		return err
	})
	require.NoError(t, err)
}
