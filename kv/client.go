package kv

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ocx/kvcoord/internal/authn"
	"github.com/ocx/kvcoord/internal/election"
	"github.com/ocx/kvcoord/internal/kvexec"
	"github.com/ocx/kvcoord/internal/lease"
	"github.com/ocx/kvcoord/internal/lock"
	"github.com/ocx/kvcoord/internal/metrics"
	"github.com/ocx/kvcoord/internal/peer"
	"github.com/ocx/kvcoord/internal/policy"
	"github.com/ocx/kvcoord/internal/pool"
	"github.com/ocx/kvcoord/internal/stm"
	"github.com/ocx/kvcoord/internal/watch"
	"github.com/ocx/kvcoord/kv/rpcpb"
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollectors returns every prometheus.Collector this library
// maintains, for the caller to register with their own registry (this
// library never registers against the default registry itself).
func MetricsCollectors() []prometheus.Collector {
	return metrics.All()
}

// Client is the coordination client's external surface: a connection
// pool plus a watch multiplexer, and the CRUD/txn/STM/election/lock
// convenience constructors layered over them.
type Client struct {
	cfg    Config
	logger *slog.Logger

	pool  *pool.Pool
	watch *watch.Multiplexer
}

// NewClient assembles the pool and watch multiplexer for the configured
// hosts. Dialing itself is lazy (per internal/peer.Host); NewClient
// only parses configuration and wires the CORE packages together.
func NewClient(cfg Config) (*Client, error) {
	cfg = cfg.withDefaults()

	endpoints, err := peer.ParseEndpoints(cfg.Hosts)
	if err != nil {
		return nil, err
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	hosts := make([]*peer.Host, 0, len(endpoints))
	for _, ep := range endpoints {
		hosts = append(hosts, peer.NewHost(ep, peer.Credentials{TLS: cfg.Credentials.TLS}, cfg.DialOptions, cfg.FaultHandling.Host, logger))
	}

	var auth *authn.Authenticator
	if cfg.Auth.Username != "" {
		auth = authn.New(authn.Credentials{Username: cfg.Auth.Username, Password: cfg.Auth.Password}, logger)
	}

	p := pool.New(hosts, auth, pool.Config{
		Deterministic: cfg.Deterministic,
		GlobalRetry:   cfg.FaultHandling.Global,
		Logger:        logger,
	})

	mux := watch.New(watch.Config{
		Pool:         p,
		Backoff:      policy.NewDecorrelatedJitter(cfg.FaultHandling.WatchBackoffBase, cfg.FaultHandling.WatchBackoffCap),
		Logger:       logger,
		Checkpointer: cfg.WatchCheckpointer,
	})

	return &Client{cfg: cfg, logger: logger, pool: p, watch: mux}, nil
}

// Close tears down the watch multiplexer and every pooled host.
func (c *Client) Close() error {
	_ = c.watch.Close()
	return c.pool.Close()
}

func (c *Client) qualify(key string) []byte {
	return []byte(c.cfg.Namespace + key)
}

// PutResult is the namespace-agnostic view of a PutResponse.
type PutResult struct {
	Revision string
	PrevKV   *rpcpb.KeyValue
}

// PutOption mutates the outgoing PutRequest before it is sent.
type PutOption func(*rpcpb.PutRequest)

func WithLease(leaseID string) PutOption { return func(r *rpcpb.PutRequest) { r.Lease = leaseID } }
func WithPrevKV() PutOption              { return func(r *rpcpb.PutRequest) { r.PrevKv = true } }

// Put writes key=value.
func (c *Client) Put(ctx context.Context, key string, value []byte, opts ...PutOption) (*PutResult, error) {
	req := &rpcpb.PutRequest{Key: c.qualify(key), Value: value}
	for _, o := range opts {
		o(req)
	}
	resp, err := kvexec.Put(ctx, c.pool, req)
	if err != nil {
		return nil, err
	}
	return &PutResult{Revision: resp.Header.Revision, PrevKV: resp.PrevKv}, nil
}

// GetResult is one key/value read, with Found distinguishing a present
// empty value from a missing key.
type GetResult struct {
	KV    *rpcpb.KeyValue
	Found bool
}

// GetAllResult is a range read.
type GetAllResult struct {
	Kvs   []*rpcpb.KeyValue
	Count int64
}

// Strings returns the result as a key->string(value) map.
func (r *GetAllResult) Strings() map[string]string {
	out := make(map[string]string, len(r.Kvs))
	for _, kv := range r.Kvs {
		out[string(kv.Key)] = string(kv.Value)
	}
	return out
}

// Keys returns just the keys, in server order.
func (r *GetAllResult) Keys() []string {
	out := make([]string, len(r.Kvs))
	for i, kv := range r.Kvs {
		out[i] = string(kv.Key)
	}
	return out
}

// GetOption mutates the outgoing RangeRequest before it is sent.
type GetOption func(*rpcpb.RangeRequest)

func WithRevision(rev string) GetOption { return func(r *rpcpb.RangeRequest) { r.Revision = rev } }
func WithSerializable() GetOption       { return func(r *rpcpb.RangeRequest) { r.Serializable = true } }

// Get reads a single key.
func (c *Client) Get(ctx context.Context, key string, opts ...GetOption) (*GetResult, error) {
	req := &rpcpb.RangeRequest{Key: c.qualify(key)}
	for _, o := range opts {
		o(req)
	}
	resp, err := kvexec.Range(ctx, c.pool, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Kvs) == 0 {
		return &GetResult{Found: false}, nil
	}
	return &GetResult{KV: resp.Kvs[0], Found: true}, nil
}

// GetAll reads a range; with no options it is the full keyspace scoped
// to this client's namespace.
func (c *Client) GetAll(ctx context.Context, opts ...GetOption) (*GetAllResult, error) {
	start := c.qualify("")
	end := PrefixRangeEnd(start)
	if len(start) == 0 {
		// No namespace: {0x00, 0x00} is the full-keyspace range.
		start = []byte{0x00}
	}
	req := &rpcpb.RangeRequest{Key: start, RangeEnd: end}
	for _, o := range opts {
		o(req)
	}
	resp, err := kvexec.Range(ctx, c.pool, req)
	if err != nil {
		return nil, err
	}
	return &GetAllResult{Kvs: resp.Kvs, Count: resp.Count}, nil
}

// Prefix scopes a GetAll call to keys beginning with prefix (relative to
// the client's namespace).
func (c *Client) Prefix(ctx context.Context, prefix string, opts ...GetOption) (*GetAllResult, error) {
	start := c.qualify(prefix)
	req := &rpcpb.RangeRequest{Key: start, RangeEnd: PrefixRangeEnd(start)}
	for _, o := range opts {
		o(req)
	}
	resp, err := kvexec.Range(ctx, c.pool, req)
	if err != nil {
		return nil, err
	}
	return &GetAllResult{Kvs: resp.Kvs, Count: resp.Count}, nil
}

// DeleteResult reports how many keys were removed.
type DeleteResult struct {
	Deleted int64
	PrevKvs []*rpcpb.KeyValue
}

// DeleteOption mutates the outgoing DeleteRangeRequest before it is sent.
type DeleteOption func(*rpcpb.DeleteRangeRequest)

func WithDeletePrevKV() DeleteOption { return func(r *rpcpb.DeleteRangeRequest) { r.PrevKv = true } }

// Delete removes a single key.
func (c *Client) Delete(ctx context.Context, key string, opts ...DeleteOption) (*DeleteResult, error) {
	req := &rpcpb.DeleteRangeRequest{Key: c.qualify(key)}
	for _, o := range opts {
		o(req)
	}
	resp, err := kvexec.DeleteRange(ctx, c.pool, req)
	if err != nil {
		return nil, err
	}
	return &DeleteResult{Deleted: resp.Deleted, PrevKvs: resp.PrevKvs}, nil
}

// Grant grants a new lease with the given TTL (seconds) and starts its
// background keep-alive loop.
func (c *Client) Grant(ctx context.Context, ttl int64, h lease.Handler) *lease.Lease {
	return lease.Grant(ctx, lease.Config{Pool: c.pool, TTL: ttl, Logger: c.logger}, h)
}

// WatchOption mutates the outgoing watch.Request before it is attached.
type WatchOption func(*watch.Request)

// WithCheckpointName enables checkpointing for this watcher under name,
// provided the client was configured with a WatchCheckpointer. If
// startRevision is unset, the watcher resumes from the last saved
// checkpoint for name, if any.
func WithCheckpointName(name string) WatchOption {
	return func(r *watch.Request) { r.Name = name }
}

// Watch attaches a new watcher on key (or [key,rangeEnd) if rangeEnd is
// non-empty), namespace-qualified.
func (c *Client) Watch(ctx context.Context, key, rangeEnd string, startRevision string, h watch.Handler, opts ...WatchOption) (*watch.Watcher, error) {
	req := watch.Request{Key: c.qualify(key), StartRevision: startRevision}
	if rangeEnd != "" {
		req.RangeEnd = c.qualify(rangeEnd)
	}
	for _, o := range opts {
		o(&req)
	}
	return c.watch.Attach(ctx, req, h)
}

// Unwatch detaches a previously attached watcher.
func (c *Client) Unwatch(ctx context.Context, w *watch.Watcher) error {
	return c.watch.Detach(ctx, w)
}

// STM runs fn inside a single client-side transaction under isolation,
// retrying on conflict up to retries times.
func (c *Client) STM(ctx context.Context, isolation stm.Isolation, retries int, fn func(tx *stm.Tx) error) (*rpcpb.TxnResponse, error) {
	return stm.Transact(ctx, c.pool, isolation, retries, fn)
}

// Campaign starts a leader-election campaign under election/<name>/.
func (c *Client) Campaign(ctx context.Context, name string, leaseTTL int64, value []byte, h election.Handler) *election.Campaign {
	prefix := c.qualify(electionPrefix(name))
	return election.New(ctx, election.Config{Pool: c.pool, Watch: c.watch, Prefix: string(prefix), LeaseTTL: leaseTTL, Logger: c.logger}, value, h)
}

// Observe starts an ElectionObserver tracking the current leader under
// election/<name>/ without campaigning.
func (c *Client) Observe(ctx context.Context, name string, h election.ObserverHandler) *election.Observer {
	prefix := c.qualify(electionPrefix(name))
	return election.NewObserver(ctx, election.Config{Pool: c.pool, Watch: c.watch, Prefix: string(prefix), Logger: c.logger}, h)
}

func electionPrefix(name string) string { return fmt.Sprintf("election/%s/", name) }

// NewLock prepares a distributed lock over a single key.
func (c *Client) NewLock(key string, ttl int64) *lock.Locker {
	return lock.New(lock.Config{Pool: c.pool, Key: string(c.qualify(key)), TTL: ttl, Logger: c.logger})
}

// DoLocked acquires the named lock, runs fn, and releases it on both the
// success and error path.
func (c *Client) DoLocked(ctx context.Context, key string, ttl int64, fn func(ctx context.Context) error) error {
	return lock.Do(ctx, lock.Config{Pool: c.pool, Key: string(c.qualify(key)), TTL: ttl, Logger: c.logger}, fn)
}
