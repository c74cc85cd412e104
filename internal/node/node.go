// Package node assembles a complete peripheral and the matching controller
// settings from one NodeConfig.
package node

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/danmuck/entslink/internal/config"
	"github.com/danmuck/entslink/internal/controller"
	"github.com/danmuck/entslink/internal/modules/actuator"
	"github.com/danmuck/entslink/internal/modules/connectivity"
	"github.com/danmuck/entslink/internal/modules/power"
	"github.com/danmuck/entslink/internal/modules/storage"
	"github.com/danmuck/entslink/internal/modules/userconfig"
	"github.com/danmuck/entslink/internal/peripheral"
	"github.com/danmuck/entslink/internal/protocol/schema"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	KindPeripheral = "peripheral"
	KindController = "controller"
)

// Node is a named participant on the bus.
type Node interface {
	NodeID() string
	Kind() string
}

// Peripheral is the target side with every built-in module registered.
type Peripheral struct {
	id           string
	cfg          config.NodeConfig
	logger       zerolog.Logger
	Dispatcher   *peripheral.Dispatcher
	Power        *power.Module
	Storage      *storage.Module
	Connectivity *connectivity.Module
	Actuator     *actuator.Module
	UserConfig   *userconfig.Module
}

var _ Node = (*Peripheral)(nil)

// Options carries the collaborators that cannot come from a file.
type Options struct {
	Sleeper  power.Sleeper
	Link     connectivity.Link
	Relay    connectivity.Relay
	Clock    connectivity.Clock
	Actuator actuator.StateSource
	// Observer sees every configuration the controller sends.
	Observer userconfig.Observer
	Logger   *zerolog.Logger
}

// NewPeripheral builds a dispatcher for cfg and registers all modules.
func NewPeripheral(cfg config.NodeConfig, opts Options) (*Peripheral, error) {
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	logger := log.Logger
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	logger = logger.With().Str("node", cfg.Name).Str("role", KindPeripheral).Logger()

	popts := []peripheral.Option{
		peripheral.WithTransferSize(cfg.Bus.TransferSize),
		peripheral.WithBufferSizes(cfg.Peripheral.ReceiveBuffer, cfg.Peripheral.ResponseBuffer),
		peripheral.WithLogger(logger),
	}
	if cfg.Bus.LengthPreamble {
		popts = append(popts, peripheral.WithLengthPreamble())
	}
	if cfg.Peripheral.QueueDepth > 0 {
		popts = append(popts, peripheral.WithDeferredHandling(cfg.Peripheral.QueueDepth))
	}
	d, err := peripheral.NewDispatcher(nil, popts...)
	if err != nil {
		return nil, err
	}

	relay := opts.Relay
	if relay == nil && cfg.Peripheral.RelayURL != "" {
		r := connectivity.NewHTTPRelay(nil)
		r.SetEndpoint(cfg.Peripheral.RelayURL, 0)
		relay = r
	}
	sleeper := opts.Sleeper
	if sleeper == nil && len(cfg.Peripheral.SleepCommand) > 0 {
		sleeper = power.CommandSleeper{Command: cfg.Peripheral.SleepCommand}
	}
	state := opts.Actuator
	if state == nil {
		state = actuator.NewMemoryState(schema.ActuatorClosed)
	}

	var initial *schema.UserConfig
	if cfg.UserConfigPath != "" {
		initial, err = config.LoadUserConfig(cfg.UserConfigPath)
		if err != nil {
			return nil, err
		}
	}

	p := &Peripheral{
		id:     cfg.Name,
		cfg:    cfg,
		logger: logger,
		Power: power.New(power.Config{
			Sleeper:   sleeper,
			BootCount: cfg.Peripheral.BootCount,
		}),
		Storage: storage.New(cfg.Peripheral.StorageRoot),
		Connectivity: connectivity.New(connectivity.Config{
			Link:  opts.Link,
			Relay: relay,
			Clock: opts.Clock,
		}),
		Actuator:   actuator.New(state),
		Dispatcher: d,
	}
	p.UserConfig = userconfig.New(initial, p.observe(opts.Observer))

	for _, m := range []peripheral.Module{p.Power, p.Storage, p.Connectivity, p.Actuator, p.UserConfig} {
		if err := d.Register(m); err != nil {
			return nil, fmt.Errorf("node: register %s: %w", m.Kind(), err)
		}
	}
	return p, nil
}

func (p *Peripheral) NodeID() string { return p.id }
func (p *Peripheral) Kind() string   { return KindPeripheral }

// Persist writes uc to the configured user config path.
func (p *Peripheral) Persist(uc schema.UserConfig) error {
	if p.cfg.UserConfigPath == "" {
		return nil
	}
	return config.SaveUserConfig(p.cfg.UserConfigPath, uc)
}

func (p *Peripheral) observe(next userconfig.Observer) userconfig.Observer {
	return func(uc schema.UserConfig) {
		if err := p.Persist(uc); err != nil {
			p.logger.Warn().Err(err).Str("path", p.cfg.UserConfigPath).Msg("user config not persisted")
		} else {
			p.logger.Info().Uint32("sensors", uint32(len(uc.Sensors))).Msg("user config received")
		}
		if next != nil {
			next(uc)
		}
	}
}

// Run drives the deferred worker, if any, and checks for pending sleep
// requests until ctx ends.
func (p *Peripheral) Run(ctx context.Context, sleepCheck time.Duration) error {
	errCh := make(chan error, 1)
	if p.Dispatcher.Config().QueueDepth > 0 {
		go func() { errCh <- p.Dispatcher.Run(ctx) }()
	}
	if sleepCheck <= 0 {
		sleepCheck = 100 * time.Millisecond
	}
	ticker := time.NewTicker(sleepCheck)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case err := <-errCh:
			if err != nil && !errors.Is(err, context.Canceled) {
				return err
			}
		case <-ticker.C:
			attempted, err := p.Power.EnterSleep()
			if !attempted {
				continue
			}
			if err != nil {
				p.logger.Warn().Err(err).Msg("sleep request not honored")
			}
		}
	}
}

// ControllerOptions maps cfg onto transactor options.
func ControllerOptions(cfg config.NodeConfig, logger zerolog.Logger) []controller.Option {
	opts := []controller.Option{
		controller.WithAddress(cfg.Bus.Address),
		controller.WithTransferSize(cfg.Bus.TransferSize),
		controller.WithMaxResponse(cfg.Controller.MaxResponse),
		controller.WithLogger(logger.With().Str("node", cfg.Name).Str("role", KindController).Logger()),
	}
	if d := cfg.Controller.Timeout.Std(); d > 0 {
		opts = append(opts, controller.WithTimeout(d))
	}
	if d := cfg.Controller.PollInterval.Std(); d > 0 {
		opts = append(opts, controller.WithPollInterval(d))
	}
	if cfg.Bus.LengthPreamble {
		opts = append(opts, controller.WithLengthPreamble())
	}
	return opts
}
