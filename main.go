package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"welfare/internal/config"
	"welfare/internal/logging"
	"welfare/internal/server"
)

var version = "dev"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	envFile := flag.String("env", ".env", "Optional dotenv file with secrets")
	flag.Parse()

	cfg, err := config.Load(*configPath, *envFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger, flush := logging.New(cfg.Logging, version)
	defer flush()

	logger.Info("welfare registry starting",
		"version", version,
		"listen", fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		"database", cfg.Database.Driver,
		"mail", cfg.Mail.Provider,
		"timezone", cfg.Reminders.Timezone,
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx, cfg, version, logger); err != nil {
		logger.Error("server error", "error", err)
		flush()
		os.Exit(1)
	}
}
