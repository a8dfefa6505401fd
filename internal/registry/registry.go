// Package registry holds the process-wide client_id -> ClientCredential
// map described in spec §4.7: populated at startup, read-mostly, and
// shared by every connection's Auth handler.
package registry

import (
	"sync"

	"github.com/awnumar/memguard"
)

// Credential is an entry in the authentication registry. The shared
// secret is held in a memguard.LockedBuffer rather than a plain
// string — the teacher's ratchet.go locks ratchet key material the
// same way; here the thing worth keeping out of swap and compared in
// constant time is the client's bearer token instead of a Double
// Ratchet key.
type Credential struct {
	ClientID   string
	Namespaces map[string]struct{}

	token *memguard.LockedBuffer
}

// NewCredential constructs a Credential, copying token into locked
// memory. The caller's token string is not zeroed (Go strings are
// immutable) but the registry's own copy is guarded.
func NewCredential(clientID, token string, namespaces []string) *Credential {
	set := make(map[string]struct{}, len(namespaces))
	for _, ns := range namespaces {
		set[ns] = struct{}{}
	}
	return &Credential{
		ClientID:   clientID,
		Namespaces: set,
		token:      memguard.NewBufferFromBytes([]byte(token)),
	}
}

// TokenMatches reports whether candidate equals the stored token,
// compared in constant time.
func (c *Credential) TokenMatches(candidate string) bool {
	ok, err := c.token.EqualTo([]byte(candidate))
	return err == nil && ok
}

// AllowedNamespaces intersects requested with the credential's own
// permitted set, per spec §4.4 Auth: "intersected with whatever the
// credential allows".
func (c *Credential) AllowedNamespaces(requested []string) []string {
	var out []string
	for _, ns := range requested {
		if _, ok := c.Namespaces[ns]; ok {
			out = append(out, ns)
		}
	}
	return out
}

// Registry is the in-memory client_id -> Credential map, guarded by
// an RWMutex since reads (one per Auth) dominate writes (admitting a
// new client, which the core protocol never requires at runtime).
type Registry struct {
	mu    sync.RWMutex
	creds map[string]*Credential
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{creds: make(map[string]*Credential)}
}

// Put inserts or replaces a credential. Safe to call concurrently with
// Lookup.
func (r *Registry) Put(c *Credential) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creds[c.ClientID] = c
}

// Lookup returns the credential for clientID, or nil if unknown.
func (r *Registry) Lookup(clientID string) *Credential {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.creds[clientID]
}
