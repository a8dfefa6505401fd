package client

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewConfigRequiresNamespace(t *testing.T) {
	_, err := NewConfig(WithToken("t"))
	require.Error(t, err)
}

func TestNewConfigRequiresToken(t *testing.T) {
	_, err := NewConfig(WithNamespace("ns1"))
	require.Error(t, err)
}

func TestNewConfigAppliesOptions(t *testing.T) {
	cfg, err := NewConfig(
		WithClientID("client_id:test"),
		WithNamespaces([]string{"ns1", "ns2"}),
		WithToken("s3cret"),
		WithServerAddr("127.0.0.1:9000"),
	)
	require.NoError(t, err)
	require.Equal(t, "client_id:test", cfg.ClientID)
	require.Equal(t, []string{"ns1", "ns2"}, cfg.Namespaces)
	require.Equal(t, "s3cret", cfg.Token)
	require.Equal(t, "127.0.0.1:9000", cfg.ServerAddr)
}
