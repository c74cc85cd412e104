package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/danmuck/entslink/internal/admin"
	"github.com/danmuck/entslink/internal/bus/loopback"
	"github.com/danmuck/entslink/internal/config"
	"github.com/danmuck/entslink/internal/controller"
	"github.com/danmuck/entslink/internal/logging"
	"github.com/danmuck/entslink/internal/modules/power"
	"github.com/danmuck/entslink/internal/node"
	"github.com/rs/zerolog/log"
)

func main() {
	logging.ConfigureRuntime()
	configPath := flag.String("config", "cmd/nodesim/config.toml", "node config path (.toml or .yaml)")
	useDefaults := flag.Bool("defaults", false, "ignore -config and run with built-in defaults")
	sleepCheck := flag.Duration("sleep-check", 100*time.Millisecond, "interval for honoring sleep requests")
	flag.Parse()

	cfg := config.Default()
	if !*useDefaults {
		loaded, err := config.Load(*configPath)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to load node config")
		}
		cfg = loaded
		log.Info().Str("path", *configPath).Msg("loaded node config")
	}
	if cfg.Bus.Kind != config.BusLoopback {
		log.Fatal().Str("bus", cfg.Bus.Kind).Msg("nodesim runs on the loopback bus only")
	}

	if err := os.MkdirAll(cfg.Peripheral.StorageRoot, 0o755); err != nil {
		log.Fatal().Err(err).Str("root", cfg.Peripheral.StorageRoot).Msg("failed to prepare storage root")
	}

	var opts node.Options
	if len(cfg.Peripheral.SleepCommand) == 0 {
		opts.Sleeper = power.SleeperFunc(func() error {
			log.Info().Msg("simulated sleep; node stays up")
			return nil
		})
	}
	p, err := node.NewPeripheral(cfg, opts)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build peripheral")
	}

	b := loopback.New()
	defer b.Close()
	if err := b.Attach(cfg.Bus.Address, p.Dispatcher); err != nil {
		log.Fatal().Err(err).Msg("failed to attach peripheral")
	}
	tx, err := controller.New(b, node.ControllerOptions(cfg, log.Logger)...)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build controller")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 2)
	workers := 1
	go func() { errCh <- p.Run(ctx, *sleepCheck) }()
	if cfg.Admin.Enabled {
		srv := admin.New(admin.Config{
			ID:          cfg.Name,
			Addr:        cfg.Admin.Addr,
			CorsOrigins: cfg.Admin.CorsOrigins,
			Token:       cfg.Admin.Token,
			Dispatcher:  p.Dispatcher,
			Actuator:    p.Actuator.Source(),
			UserConfig:  p.UserConfig,
			Persist:     p.Persist,
			Transactor:  tx,
		})
		workers++
		go func() { errCh <- srv.Serve(ctx) }()
	}

	log.Info().
		Str("node", p.NodeID()).
		Uint16("addr", cfg.Bus.Address).
		Int("transfer_size", cfg.Bus.TransferSize).
		Bool("deferred", cfg.Peripheral.QueueDepth > 0).
		Msg("nodesim started")
	for i := 0; i < workers; i++ {
		if err := <-errCh; err != nil {
			log.Error().Err(err).Msg("nodesim component failed")
			stop()
		}
	}
	log.Info().Msg("nodesim stopped")
}
