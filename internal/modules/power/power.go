package power

import (
	"errors"
	"sync"

	"github.com/danmuck/entslink/internal/peripheral"
	"github.com/danmuck/entslink/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

// ErrNoSleeper is returned by EnterSleep when a sleep was requested but no
// Sleeper is wired.
var ErrNoSleeper = errors.New("power: no sleeper configured")

// Sleeper suspends the node. It normally does not return on hardware.
type Sleeper interface {
	Sleep() error
}

// SleeperFunc adapts a function to Sleeper.
type SleeperFunc func() error

func (f SleeperFunc) Sleep() error { return f() }

// Config wires the module's collaborators.
type Config struct {
	Sleeper Sleeper
	// WakeReason reports why the node last resumed.
	WakeReason func() uint32
	// BootCount is the number of boots including this one.
	BootCount uint32
}

// Module answers power commands.
type Module struct {
	mu        sync.Mutex
	cfg       Config
	sleepFlag bool
	reply     peripheral.Reply
}

var _ peripheral.Module = (*Module)(nil)

func New(cfg Config) *Module {
	return &Module{cfg: cfg}
}

func (m *Module) Kind() schema.Kind { return schema.KindPower }

func (m *Module) Handle(cmd schema.Command) {
	p, ok := cmd.Payload.(schema.PowerCommand)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var resp schema.PowerCommand
	switch p.Type {
	case schema.PowerSleep:
		log.Info().Msg("power: sleep requested")
		m.sleepFlag = true
		resp = schema.PowerCommand{Type: schema.PowerSleep}
	case schema.PowerWakeup:
		resp = schema.PowerCommand{Type: schema.PowerWakeup, BootCount: m.cfg.BootCount}
		if m.cfg.WakeReason != nil {
			resp.Reason = m.cfg.WakeReason()
		}
	default:
		log.Warn().Uint32("type", uint32(p.Type)).Msg("power: unknown command type")
		m.reply.RejectType(schema.KindPower, uint32(p.Type))
		return
	}
	if err := m.reply.Set(schema.Response{Payload: resp}); err != nil {
		log.Error().Err(err).Msg("power: encode reply")
	}
}

func (m *Module) ProduceResponse(buf []byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reply.CopyTo(buf)
}

// Reset clears the reply. A pending sleep request survives.
func (m *Module) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reply.Clear()
}

// SleepRequested reports whether a Sleep command is waiting for EnterSleep.
func (m *Module) SleepRequested() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sleepFlag
}

// EnterSleep suspends through the Sleeper if a Sleep command was handled.
// It reports whether a sleep was attempted.
func (m *Module) EnterSleep() (bool, error) {
	m.mu.Lock()
	if !m.sleepFlag {
		m.mu.Unlock()
		return false, nil
	}
	m.sleepFlag = false
	sleeper := m.cfg.Sleeper
	m.mu.Unlock()

	if sleeper == nil {
		return true, ErrNoSleeper
	}
	log.Info().Msg("power: entering sleep")
	return true, sleeper.Sleep()
}
