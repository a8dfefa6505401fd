// Package config loads server and client configuration from an
// optional TOML file (github.com/BurntSushi/toml, already present in
// the teacher's go.mod) with environment variables as the final
// override, matching spec §6's CLI surface.
package config

import (
	"os"
	"strconv"

	"github.com/BurntSushi/toml"
)

// DefaultFetchCap bounds a FetchEvents whose Limit field is 0 ("no
// limit" requested) — spec §9 open question (a), resolved here.
const DefaultFetchCap = 1000

// Server holds everything the broker process needs to start.
type Server struct {
	ListenAddr string `toml:"listen_addr"`
	DBPath     string `toml:"db_path"`
	CertPath   string `toml:"cert_path"`
	KeyPath    string `toml:"key_path"`
	FetchCap   int    `toml:"fetch_cap"`
	MetricsAddr string `toml:"metrics_addr"`

	// Clients seeds the registry at startup. In production this would
	// usually come from a secrets store; TOML is fine for a broker run
	// by one operator on one box.
	Clients []ClientEntry `toml:"clients"`
}

// ClientEntry is one registry seed entry.
type ClientEntry struct {
	ClientID   string   `toml:"client_id"`
	Token      string   `toml:"token"`
	Namespaces []string `toml:"namespaces"`
}

// Client holds what a client session needs to dial and authenticate.
type Client struct {
	ServerAddr string   `toml:"server_addr"`
	ServerName string   `toml:"server_name"`
	CertPath   string   `toml:"cert_path"`
	ClientID   string   `toml:"client_id"`
	Token      string   `toml:"token"`
	Namespaces []string `toml:"namespaces"`
}

// DefaultServer returns the spec-mandated defaults (§6).
func DefaultServer() Server {
	return Server{
		ListenAddr:  "127.0.0.1:5000",
		DBPath:      "data/event_queue.db",
		CertPath:    "cert.der",
		KeyPath:     "key.der",
		FetchCap:    DefaultFetchCap,
		MetricsAddr: "",
	}
}

// DefaultClient returns the spec-mandated defaults (§6).
func DefaultClient() Client {
	return Client{
		ServerAddr: "127.0.0.1:5000",
		ServerName: "localhost",
		CertPath:   "cert.der",
		ClientID:   "client_id:default",
		Token:      "",
		Namespaces: []string{"default"},
	}
}

// LoadServer starts from DefaultServer, applies path (if non-empty),
// then environment overrides.
func LoadServer(path string) (Server, error) {
	cfg := DefaultServer()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if v := os.Getenv("H3X_LISTEN_ADDR"); v != "" {
		cfg.ListenAddr = v
	}
	if v := os.Getenv("H3X_DB_PATH"); v != "" {
		cfg.DBPath = v
	}
	if v := os.Getenv("H3X_CERT_PATH"); v != "" {
		cfg.CertPath = v
	}
	if v := os.Getenv("H3X_KEY_PATH"); v != "" {
		cfg.KeyPath = v
	}
	if v := os.Getenv("H3X_FETCH_CAP"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.FetchCap = n
		}
	}
	if v := os.Getenv("H3X_METRICS_ADDR"); v != "" {
		cfg.MetricsAddr = v
	}
	return cfg, nil
}

// LoadClient starts from DefaultClient, applies path (if non-empty),
// then the H3X_CLIENT_* environment variables named in spec §6.
func LoadClient(path string) (Client, error) {
	cfg := DefaultClient()
	if path != "" {
		if _, err := toml.DecodeFile(path, &cfg); err != nil {
			return cfg, err
		}
	}
	if v := os.Getenv("H3X_CLIENT_ID"); v != "" {
		cfg.ClientID = v
	}
	if v := os.Getenv("H3X_CLIENT_TOKEN"); v != "" {
		cfg.Token = v
	}
	if v := os.Getenv("H3X_CLIENT_NAMESPACE"); v != "" {
		cfg.Namespaces = []string{v}
	}
	if v := os.Getenv("H3X_SERVER_ADDR"); v != "" {
		cfg.ServerAddr = v
	}
	return cfg, nil
}
