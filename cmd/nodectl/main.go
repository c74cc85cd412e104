package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/danmuck/entslink/internal/bus"
	"github.com/danmuck/entslink/internal/bus/i2cdev"
	"github.com/danmuck/entslink/internal/bus/loopback"
	"github.com/danmuck/entslink/internal/config"
	"github.com/danmuck/entslink/internal/controller"
	"github.com/danmuck/entslink/internal/logging"
	"github.com/danmuck/entslink/internal/node"
	"github.com/danmuck/entslink/internal/protocol"
	"github.com/rs/zerolog/log"
)

const defaultConfigPath = "cmd/nodectl/config.toml"

// errUsage marks argument mistakes so main can print usage.
var errUsage = errors.New("usage")

func main() {
	logging.ConfigureRuntime()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		if errors.Is(err, errUsage) {
			fmt.Fprintln(os.Stderr, err)
			fmt.Fprint(os.Stderr, usage)
			os.Exit(2)
		}
		log.Error().Err(err).Str("class", protocol.ClassName(err)).Msg("nodectl failed")
		os.Exit(1)
	}
}

const usage = `nodectl [flags] <module> <action> [args]

  power sleep | wakeup
  storage save <file> <data> | size <file> | userconfig <file> <userconfig.toml>
  connectivity connect <ssid> <passwd> | disconnect | link | api <url> <port>
               post <body> | check | time | ntp | host <ssid> <passwd> | stophost | hostinfo
  actuator check | set <open|closed>
  config request | send <userconfig.toml>
`

func run(ctx context.Context, args []string, out io.Writer) error {
	fs := flag.NewFlagSet("nodectl", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	configPath := fs.String("config", defaultConfigPath, "node config path (.toml or .yaml)")
	useDefaults := fs.Bool("defaults", false, "ignore -config and use built-in defaults")
	timeout := fs.Duration("timeout", 0, "per-transaction timeout (0 uses the config value)")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("%w: %v", errUsage, err)
	}
	if fs.NArg() < 2 {
		return fmt.Errorf("%w: module and action required", errUsage)
	}

	cfg := config.Default()
	if !*useDefaults {
		loaded, err := config.Load(*configPath)
		if err != nil {
			return err
		}
		cfg = loaded
	}
	if *timeout > 0 {
		cfg.Controller.Timeout = config.Duration(*timeout)
	}

	master, closeBus, err := openBus(cfg)
	if err != nil {
		return err
	}
	defer closeBus()

	tx, err := controller.New(master, node.ControllerOptions(cfg, log.Logger)...)
	if err != nil {
		return err
	}
	result, err := execute(ctx, tx, fs.Arg(0), fs.Arg(1), fs.Args()[2:])
	if err != nil {
		return err
	}
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// openBus returns the configured master. A loopback bus gets an in-process
// peripheral so every command can be tried without hardware.
func openBus(cfg config.NodeConfig) (bus.Master, func(), error) {
	switch cfg.Bus.Kind {
	case config.BusI2CDev:
		a, err := i2cdev.Open(cfg.Bus.Device)
		if err != nil {
			return nil, nil, err
		}
		return a, func() { _ = a.Close() }, nil
	case config.BusLoopback:
		p, err := node.NewPeripheral(cfg, node.Options{})
		if err != nil {
			return nil, nil, err
		}
		b := loopback.New()
		if err := b.Attach(cfg.Bus.Address, p.Dispatcher); err != nil {
			_ = b.Close()
			return nil, nil, err
		}
		return b, func() { _ = b.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown bus kind %q", cfg.Bus.Kind)
	}
}
