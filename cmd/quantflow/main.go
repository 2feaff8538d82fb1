// Trading engine entrypoint. Loads configuration, builds the component
// graph and runs it until SIGINT/SIGTERM.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"

	"github.com/quantflow/quantflow/internal/config"
	"github.com/quantflow/quantflow/internal/supervisor"
)

var (
	configPath  = flag.String("config", "", "Path to config file (optional, env vars override)")
	validateCfg = flag.Bool("validate", false, "Validate configuration and exit")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}
	config.InitLogger(cfg.App.LogLevel, cfg.App.LogFormat)

	if *validateCfg {
		log.Info().Str("mode", cfg.Trading.Mode).Msg("Configuration valid")
		return
	}

	sup, err := supervisor.New(cfg)
	if err != nil {
		log.Fatal().Err(err).Msg("Startup failed")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sup.Run(ctx); err != nil {
		log.Error().Err(err).Msg("Engine exited with error")
		os.Exit(1)
	}
}
