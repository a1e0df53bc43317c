// Package rpcpb holds the request/response shapes and service client
// interfaces for the store's wire protocol. In production these would be
// generated by the RPC framework's schema compiler from the store's
// public .proto definitions; until that codegen step is wired into the
// build, the shapes below are hand-written to match the fields the
// calling packages actually read and write.
package rpcpb

import "context"

// SortOrder mirrors the store's RangeRequest sort_order enum.
type SortOrder int32

const (
	SortNone SortOrder = iota
	SortAscend
	SortDescend
)

// SortTarget mirrors the store's RangeRequest sort_target enum.
type SortTarget int32

const (
	SortByKey SortTarget = iota
	SortByVersion
	SortByCreate
	SortByMod
	SortByValue
)

// ResponseHeader is attached to every RPC response.
type ResponseHeader struct {
	ClusterID uint64
	MemberID  uint64
	// Revision is the cluster revision as of this response, carried as a
	// decimal string because it may exceed 2^53 and must never be narrowed
	// to a float64 or native int32.
	Revision string
	RaftTerm uint64
}

// KeyValue is a single stored key/value entry.
type KeyValue struct {
	Key            []byte
	Value          []byte
	CreateRevision string
	ModRevision    string
	Version        int64
	Lease          string
}

// RangeRequest requests a [Key, RangeEnd) scan, or a single key when
// RangeEnd is empty.
type RangeRequest struct {
	Key              []byte
	RangeEnd         []byte
	Revision         string
	Limit            int64
	SortOrder        SortOrder
	SortTarget       SortTarget
	Serializable     bool
	KeysOnly         bool
	CountOnly        bool
	MinModRevision   string
	MaxModRevision   string
	MinCreateRevision string
	MaxCreateRevision string
}

type RangeResponse struct {
	Header ResponseHeader
	Kvs    []*KeyValue
	More   bool
	Count  int64
}

// PutRequest writes a single key.
type PutRequest struct {
	Key         []byte
	Value       []byte
	Lease       string
	PrevKv      bool
	IgnoreValue bool
	IgnoreLease bool
}

type PutResponse struct {
	Header ResponseHeader
	PrevKv *KeyValue
}

type DeleteRangeRequest struct {
	Key      []byte
	RangeEnd []byte
	PrevKv   bool
}

type DeleteRangeResponse struct {
	Header  ResponseHeader
	Deleted int64
	PrevKvs []*KeyValue
}

// CompareResult mirrors Compare.result.
type CompareResult int32

const (
	CompareEqual CompareResult = iota
	CompareGreater
	CompareLess
	CompareNotEqual
)

// CompareTarget mirrors Compare.target.
type CompareTarget int32

const (
	CompareValue CompareTarget = iota
	CompareVersion
	CompareCreate
	CompareMod
	CompareLease
)

// Compare is one guard clause of a TxnRequest.
type Compare struct {
	Key    []byte
	Result CompareResult
	Target CompareTarget

	// Exactly one of the following is read, selected by Target.
	Value          []byte
	Version        int64
	CreateRevision string
	ModRevision    string
	Lease          string
}

// RequestOp is a tagged union of {Range, Put, DeleteRange}; exactly one
// field is non-nil.
type RequestOp struct {
	Range       *RangeRequest
	Put         *PutRequest
	DeleteRange *DeleteRangeRequest
}

// ResponseOp is the corresponding tagged union of responses.
type ResponseOp struct {
	Range       *RangeResponse
	Put         *PutResponse
	DeleteRange *DeleteRangeResponse
}

type TxnRequest struct {
	Compare []*Compare
	Success []*RequestOp
	Failure []*RequestOp
}

type TxnResponse struct {
	Header    ResponseHeader
	Succeeded bool
	Responses []*ResponseOp
}

// KVClient is the store's key/value service, as a user of this package
// would obtain it from a dialed Host.
type KVClient interface {
	Range(ctx context.Context, in *RangeRequest) (*RangeResponse, error)
	Put(ctx context.Context, in *PutRequest) (*PutResponse, error)
	DeleteRange(ctx context.Context, in *DeleteRangeRequest) (*DeleteRangeResponse, error)
	Txn(ctx context.Context, in *TxnRequest) (*TxnResponse, error)
}
