// Command h3x-inject publishes a single synthetic event to a running
// broker, for manual testing. The original source's inject_event.rs
// wrote directly into its sled database, bypassing the wire protocol
// entirely; this version goes through the real client publish path
// instead, which exercises Auth and the wire codec the way a genuine
// producer would and never touches the queue's storage format.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/charmbracelet/log"

	"github.com/DLiSWE/H3X/internal/client"
	"github.com/DLiSWE/H3X/internal/config"
	"github.com/DLiSWE/H3X/internal/protocol"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintln(os.Stderr, "h3x-inject:", err)
		os.Exit(1)
	}
}

func run() error {
	namespace := flag.String("namespace", "default", "namespace to publish into")
	eventType := flag.String("type", "Test", "event type")
	message := flag.String("message", "synthetic test event", "event message")
	clientID := flag.String("client-id", "", "client_id (overrides config)")
	token := flag.String("token", "", "auth token (overrides config)")
	serverAddr := flag.String("server", "", "server address (overrides config)")
	certPath := flag.String("cert", "", "path to the server's pinned certificate (overrides config)")
	configPath := flag.String("config", "", "path to a TOML client config")
	flag.Parse()

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *clientID != "" {
		cfg.ClientID = *clientID
	}
	if *token != "" {
		cfg.Token = *token
	}
	if *serverAddr != "" {
		cfg.ServerAddr = *serverAddr
	}
	if *certPath != "" {
		cfg.CertPath = *certPath
	}
	cfg.Namespaces = []string{*namespace}

	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "h3x-inject"})

	certDER, err := os.ReadFile(cfg.CertPath)
	if err != nil {
		return fmt.Errorf("reading pinned certificate: %w", err)
	}

	sess, err := client.New(cfg, certDER, logger, nil)
	if err != nil {
		return fmt.Errorf("building session: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	conn, err := sess.Connect(ctx)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer conn.CloseWithError(0, "")

	ev := &protocol.Event{
		ID:        protocol.NewEventID(),
		Namespace: *namespace,
		Type:      *eventType,
		Message:   *message,
		Timestamp: time.Now().Unix(),
		Metadata:  map[string]string{"source": "h3x-inject"},
	}

	if err := sess.Publish(ctx, conn, ev); err != nil {
		return fmt.Errorf("publishing: %w", err)
	}

	logger.Infof("injected event %s into namespace %s", ev.ID, ev.Namespace)
	return nil
}
