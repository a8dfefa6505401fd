package client

import (
	"errors"

	"github.com/DLiSWE/H3X/internal/config"
)

// Option configures a Config built by NewConfig. Grounded on the
// original source's ClientBuilder (client_id/namespace/token setters
// chained into a single build() call); Go idiom expresses the same
// shape as functional options over config.Client rather than a
// consuming builder struct.
type Option func(*config.Client)

// WithClientID overrides the default client_id.
func WithClientID(id string) Option {
	return func(c *config.Client) { c.ClientID = id }
}

// WithNamespace restricts the session to a single namespace.
func WithNamespace(ns string) Option {
	return func(c *config.Client) { c.Namespaces = []string{ns} }
}

// WithNamespaces restricts the session to the given namespaces.
func WithNamespaces(namespaces []string) Option {
	return func(c *config.Client) { c.Namespaces = namespaces }
}

// WithToken sets the bearer token presented during Auth.
func WithToken(token string) Option {
	return func(c *config.Client) { c.Token = token }
}

// WithServerAddr overrides the address to dial.
func WithServerAddr(addr string) Option {
	return func(c *config.Client) { c.ServerAddr = addr }
}

// NewConfig builds a config.Client from config.DefaultClient with its
// default namespace list cleared, applying opts in order. It rejects
// what the original source's
// ClientBuilder.build rejected: no namespaces, or no token.
func NewConfig(opts ...Option) (config.Client, error) {
	cfg := config.DefaultClient()
	cfg.Namespaces = nil
	for _, opt := range opts {
		opt(&cfg)
	}

	if len(cfg.Namespaces) == 0 {
		return config.Client{}, errors.New("client: at least one namespace is required")
	}
	if cfg.Token == "" {
		return config.Client{}, errors.New("client: token must be provided")
	}
	return cfg, nil
}
