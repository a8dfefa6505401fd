package server

import "sync"

// connState is the authentication state for one QUIC connection,
// shared by every stream task spawned on it. Spec §9 flags that the
// original source authenticates on one stream but serves fetches on
// another without re-checking; this rewrite attaches auth state to
// the connection instead of the stream so every stream task sees it.
type connState struct {
	mu            sync.RWMutex
	authenticated bool
	clientID      string
	namespaces    map[string]struct{}
}

func newConnState() *connState {
	return &connState{namespaces: make(map[string]struct{})}
}

// authenticate marks the connection authenticated for namespaces.
func (c *connState) authenticate(clientID string, namespaces []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.authenticated = true
	c.clientID = clientID
	for _, ns := range namespaces {
		c.namespaces[ns] = struct{}{}
	}
}

// isAuthenticated reports whether Auth has succeeded on this connection.
func (c *connState) isAuthenticated() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.authenticated
}

// allowed reports whether this connection may publish to or fetch
// from namespace ns.
func (c *connState) allowed(ns string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.namespaces[ns]
	return ok
}

// allowedNamespaces intersects requested with the connection's
// authenticated set.
func (c *connState) allowedNamespaces(requested []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for _, ns := range requested {
		if _, ok := c.namespaces[ns]; ok {
			out = append(out, ns)
		}
	}
	return out
}
