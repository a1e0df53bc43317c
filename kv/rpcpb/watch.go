package rpcpb

import "context"

// EventType mirrors mvccpb.Event_EventType.
type EventType int32

const (
	EventPut EventType = iota
	EventDelete
)

type Event struct {
	Type   EventType
	Kv     *KeyValue
	PrevKv *KeyValue
}

// WatchFilter mirrors WatchCreateRequest.FilterType values.
type WatchFilter int32

const (
	FilterNoPut WatchFilter = iota
	FilterNoDelete
)

type WatchCreateRequest struct {
	Key            []byte
	RangeEnd       []byte
	StartRevision  string
	ProgressNotify bool
	Filters        []WatchFilter
	PrevKv         bool
}

type WatchCancelRequest struct {
	WatchID int64
}

// WatchRequest is the client->server frame on the duplex watch stream;
// exactly one field is set.
type WatchRequest struct {
	CreateRequest *WatchCreateRequest
	CancelRequest *WatchCancelRequest
}

// WatchResponse is the server->client frame on the duplex watch stream.
type WatchResponse struct {
	Header       ResponseHeader
	WatchID      int64
	Created      bool
	Canceled     bool
	CancelReason string
	// CompactRevision is set on Canceled responses caused by compaction.
	CompactRevision string
	Events         []*Event
}

// WatchStream is the client side of the bidirectional Watch RPC.
type WatchStream interface {
	Send(*WatchRequest) error
	Recv() (*WatchResponse, error)
	CloseSend() error
}

type WatchClient interface {
	Watch(ctx context.Context) (WatchStream, error)
}
