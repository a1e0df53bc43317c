package kv

// NewNamespacedClient returns a Client sharing the same pool and watch
// multiplexer as c but scoping every key operation under prefix.
// Closing either client closes both, since they share the same
// underlying connections.
func NewNamespacedClient(c *Client, prefix string) *Client {
	ns := *c
	ns.cfg.Namespace = c.cfg.Namespace + prefix
	return &ns
}
