// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/ManuGH/playd/internal/config"
	"github.com/ManuGH/playd/internal/daemon"
	"github.com/ManuGH/playd/internal/health"
	playdlog "github.com/ManuGH/playd/internal/log"
	"github.com/ManuGH/playd/internal/version"
)

// envConfigPath names the config file when -config is not given.
const envConfigPath = "PLAYD_CONFIG"

// maskURL removes user info from a URL string for safe logging.
func maskURL(rawURL string) string {
	parsedURL, err := url.Parse(rawURL)
	if err != nil {
		return "invalid-url-redacted"
	}
	parsedURL.User = nil
	return parsedURL.String()
}

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "config":
			os.Exit(runConfigCLI(os.Args[2:]))
		case "healthcheck":
			os.Exit(runHealthcheckCLI(os.Args[2:]))
		}
	}

	showVersion := flag.Bool("version", false, "print version and exit")
	configPath := flag.String("config", "", "path to config file (YAML); defaults to $"+envConfigPath)
	listen := flag.String("listen", "", "listen address, overrides server.listen")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.String())
		os.Exit(0)
	}

	// Safe defaults until the config is loaded.
	playdlog.Configure(playdlog.Config{
		Level:   "info",
		Service: "playd",
		Version: version.Version,
	})
	logger := playdlog.WithComponent("daemon")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	path := strings.TrimSpace(*configPath)
	if path == "" {
		path = strings.TrimSpace(os.Getenv(envConfigPath))
	}

	// Precedence: ENV > file > defaults.
	loader := config.NewLoader(path, version.Version)
	cfg, err := loader.Load()
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(playdlog.FieldEvent, "config.load_failed").
			Str("config_path", path).
			Msg("failed to load configuration")
	}
	if *listen != "" {
		cfg.Server.Listen = *listen
	}

	playdlog.Reconfigure(playdlog.Config{
		Level:   cfg.Log.Level,
		Service: "playd",
		Version: cfg.Version,
	})
	logger = playdlog.WithComponent("daemon")

	source := "defaults+env"
	if path != "" {
		source = "file"
	}
	logger.Info().
		Str(playdlog.FieldEvent, "config.loaded").
		Str("source", source).
		Str(playdlog.FieldPath, path).
		Str("catalog", maskURL(cfg.Catalog.BaseURL)).
		Str("nats", maskURL(cfg.Events.NATSURL)).
		Msg("configuration loaded")

	if err := health.PerformStartupChecks(ctx, cfg); err != nil {
		logger.Fatal().
			Err(err).
			Str(playdlog.FieldEvent, "startup.checks_failed").
			Msg("startup checks failed")
	}

	holder := config.NewHolder(cfg, loader)
	app, err := daemon.Bootstrap(ctx, cfg, holder, daemon.Collaborators{})
	if err != nil {
		logger.Fatal().
			Err(err).
			Str(playdlog.FieldEvent, "bootstrap.failed").
			Msg("failed to build daemon")
	}

	logger.Info().
		Str("version", version.Version).
		Str("commit", version.Commit).
		Str("listen", cfg.Server.Listen).
		Msg("starting playd")

	if err := app.Run(ctx); err != nil {
		logger.Error().Err(err).Str(playdlog.FieldEvent, "daemon.failed").Msg("daemon stopped with error")
		os.Exit(1)
	}
	logger.Info().Msg("server exiting")
}
