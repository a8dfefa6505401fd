// Command h3x runs the broker (server subcommand) or a subscriber
// client (client subcommand). CLI shape follows the teacher's
// talek/frontend and talek/replica commands: stdlib flag, a signal
// channel for graceful shutdown, no cobra/urfave-cli, since the
// teacher itself never reaches for one.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charmbracelet/log"
	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/carlmjohnson/versioninfo"

	"github.com/DLiSWE/H3X/internal/certutil"
	"github.com/DLiSWE/H3X/internal/client"
	"github.com/DLiSWE/H3X/internal/config"
	"github.com/DLiSWE/H3X/internal/metrics"
	"github.com/DLiSWE/H3X/internal/protocol"
	"github.com/DLiSWE/H3X/internal/queue"
	"github.com/DLiSWE/H3X/internal/server"
)

func main() {
	_ = godotenv.Load()

	if len(os.Args) < 2 {
		usage()
		os.Exit(1)
	}

	var err error
	switch os.Args[1] {
	case "server":
		err = runServer(os.Args[2:])
	case "client":
		err = runClient(os.Args[2:])
	case "version":
		fmt.Println(versioninfo.Short())
		return
	default:
		usage()
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, "h3x:", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: h3x <server|client|version> [flags]")
}

func runServer(args []string) error {
	fs := flag.NewFlagSet("server", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a TOML server config")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadServer(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "h3x-server"})
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	}

	cert, _, err := certutil.LoadOrGenerate(cfg.CertPath, cfg.KeyPath)
	if err != nil {
		return fmt.Errorf("loading TLS certificate: %w", err)
	}

	q, err := queue.Open(cfg.DBPath, logger.WithPrefix("queue"))
	if err != nil {
		return fmt.Errorf("opening queue: %w", err)
	}
	defer q.Close()

	reg := prometheus.NewRegistry()
	srv := server.New(cfg, cert, q, reg, logger)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		cancel()
	}()

	if cfg.MetricsAddr != "" {
		go func() {
			if err := metrics.Serve(cfg.MetricsAddr, reg); err != nil {
				logger.Errorf("metrics server: %v", err)
			}
		}()
	}

	err = srv.Run(ctx, cfg.ListenAddr, cert)
	srv.Halt()
	return err
}

func runClient(args []string) error {
	fs := flag.NewFlagSet("client", flag.ExitOnError)
	configPath := fs.String("config", "", "path to a TOML client config")
	certPath := fs.String("cert", "", "path to the server's pinned certificate (overrides config)")
	verbose := fs.Bool("verbose", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return err
	}

	cfg, err := config.LoadClient(*configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	if *certPath != "" {
		cfg.CertPath = *certPath
	}

	logger := log.NewWithOptions(os.Stderr, log.Options{Prefix: "h3x-client"})
	if *verbose {
		logger.SetLevel(log.DebugLevel)
	}

	certDER, err := os.ReadFile(cfg.CertPath)
	if err != nil {
		return fmt.Errorf("reading pinned certificate: %w", err)
	}

	sess, err := client.New(cfg, certDER, logger, func(ev *protocol.Event) {
		logger.Infof("received event [%s] %s: %s", ev.Namespace, ev.Type, ev.Message)
	})
	if err != nil {
		return fmt.Errorf("building session: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down")
		sess.Halt()
		cancel()
	}()

	return sess.Run(ctx)
}
