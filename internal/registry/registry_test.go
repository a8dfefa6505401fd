package registry

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestTokenMatches(t *testing.T) {
	cred := NewCredential("client_id:a", "s3cret", []string{"ns1"})
	require.True(t, cred.TokenMatches("s3cret"))
	require.False(t, cred.TokenMatches("wrong"))
	require.False(t, cred.TokenMatches(""))
}

func TestAllowedNamespacesIntersects(t *testing.T) {
	cred := NewCredential("client_id:a", "s3cret", []string{"ns1", "ns2"})
	got := cred.AllowedNamespaces([]string{"ns2", "ns3"})
	require.Equal(t, []string{"ns2"}, got)
}

func TestRegistryLookup(t *testing.T) {
	r := New()
	require.Nil(t, r.Lookup("client_id:a"))

	cred := NewCredential("client_id:a", "s3cret", []string{"ns1"})
	r.Put(cred)
	require.Same(t, cred, r.Lookup("client_id:a"))
}

func TestRegistryPutReplaces(t *testing.T) {
	r := New()
	r.Put(NewCredential("client_id:a", "old", []string{"ns1"}))
	r.Put(NewCredential("client_id:a", "new", []string{"ns1"}))

	cred := r.Lookup("client_id:a")
	require.True(t, cred.TokenMatches("new"))
	require.False(t, cred.TokenMatches("old"))
}
