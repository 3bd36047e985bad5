package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/judgenet/judgewire"
)

func main() {
	configPath := flag.String("config", "", "path to the YAML configuration file")
	dumpConfig := flag.Bool("dump-config", false, "print the effective configuration and exit")
	flag.Parse()

	cfg, err := judgewire.LoadConfig(*configPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	if *dumpConfig {
		out, err := cfg.YAML()
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		os.Stdout.Write(out)
		return
	}

	// Initialize logger and set as default
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: parseLevel(cfg.LogLevel)}))
	slog.SetDefault(logger)
	slog.Info("Starting judge worker...", "listen", cfg.ListenAddr)

	if err := run(cfg); err != nil {
		slog.Error("Fatal error", "error", err)
		os.Exit(1)
	}
}

func run(cfg *judgewire.Config) error {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	var credentials judgewire.CredentialStore = judgewire.StaticCredentials(cfg.Password)
	if cfg.PostgresDSN != "" {
		pg, err := judgewire.NewPostgresCredentials(cfg.PostgresDSN, cfg.CredentialName)
		if err != nil {
			return fmt.Errorf("failed to open credential store: %w", err)
		}
		defer pg.Close()
		credentials = pg
		slog.Info("Using database credentials", "name", cfg.CredentialName)
	}

	var tokens judgewire.TokenVerifier
	if cfg.TokenAPIURL != "" {
		tokens = judgewire.NewHTTPTokenVerifier(cfg.TokenAPIURL)
	}

	langs, err := cfg.LanguageIDs()
	if err != nil {
		return err
	}

	worker, err := judgewire.NewWorker(judgewire.WorkerOptions{
		Credentials:      credentials,
		Executor:         judgewire.NewProcessExecutor(cfg.ExecutorCommand, cfg.ExecutorArgs, langs),
		Tokens:           tokens,
		MaxPacketSize:    cfg.MaxPacketSize,
		HandshakeTimeout: cfg.HandshakeTimeout,
		IdleTimeout:      cfg.IdleTimeout,
		OutboundQueue:    cfg.OutboundQueue,
	})
	if err != nil {
		return err
	}

	server := judgewire.NewServer(worker)
	if err := createListener(server, cfg); err != nil {
		return err
	}
	defer server.Close()

	if cfg.StatsAddr != "" {
		stats := judgewire.NewStatsServer(worker, server)
		stats.AllowedOrigins = cfg.StatsAllowedOrigins
		go func() {
			if err := stats.ListenAndServe(ctx, cfg.StatsAddr); err != nil {
				slog.Error("Stats server stopped", "error", err)
			}
		}()
	}

	// Setup error channel for fatal errors
	errChan := make(chan error, 1)

	// Start accepting connections
	go func() {
		if err := server.Start(ctx); err != nil {
			errChan <- err
		}
	}()

	select {
	case err := <-errChan:
		return err
	case <-ctx.Done():
		slog.Info("Received signal, shutting down...")
		return nil
	}
}

func createListener(server *judgewire.Server, cfg *judgewire.Config) error {
	if !cfg.TLS {
		return server.CreateListener(cfg.ListenAddr, nil)
	}

	tlsConfig, err := judgewire.ServerTLSConfig(cfg.TLSCommonName)
	if err != nil {
		return fmt.Errorf("failed to create TLS certificate: %w", err)
	}
	if cfg.CertPEMPath != "" {
		// Continue despite the error, as this is not critical for operation
		if err := judgewire.WriteCertificatePEM(cfg.CertPEMPath, tlsConfig.Certificates[0]); err != nil {
			slog.Warn("Failed to write certificate to PEM file", "error", err)
		} else {
			slog.Info("Certificate written to PEM file", "path", cfg.CertPEMPath)
		}
	}
	return server.CreateListener(cfg.ListenAddr, tlsConfig)
}

func parseLevel(s string) slog.Level {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo
	}
	return l
}
