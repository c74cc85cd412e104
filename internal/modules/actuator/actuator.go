package actuator

import (
	"sync"

	"github.com/danmuck/entslink/internal/peripheral"
	"github.com/danmuck/entslink/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

// StateSource holds the actuator's binary state. The admin API and the
// actuator module share one.
type StateSource interface {
	State() schema.ActuatorState
	SetState(schema.ActuatorState) error
}

// MemoryState is a StateSource without hardware behind it.
type MemoryState struct {
	mu    sync.RWMutex
	state schema.ActuatorState
}

func NewMemoryState(initial schema.ActuatorState) *MemoryState {
	return &MemoryState{state: initial}
}

func (s *MemoryState) State() schema.ActuatorState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state
}

func (s *MemoryState) SetState(st schema.ActuatorState) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.state = st
	return nil
}

// Module answers actuator commands.
type Module struct {
	mu     sync.Mutex
	source StateSource
	reply  peripheral.Reply
}

var _ peripheral.Module = (*Module)(nil)

func New(source StateSource) *Module {
	if source == nil {
		source = NewMemoryState(schema.ActuatorClosed)
	}
	return &Module{source: source}
}

func (m *Module) Kind() schema.Kind { return schema.KindActuator }

func (m *Module) Source() StateSource {
	return m.source
}

func (m *Module) Handle(cmd schema.Command) {
	a, ok := cmd.Payload.(schema.ActuatorCommand)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	switch a.Type {
	case schema.ActuatorCheck:
	case schema.ActuatorSet:
		if err := m.source.SetState(a.State); err != nil {
			log.Error().Err(err).Stringer("state", a.State).Msg("actuator: set state")
		}
	default:
		log.Warn().Uint32("type", uint32(a.Type)).Msg("actuator: unknown command type")
		m.reply.RejectType(schema.KindActuator, uint32(a.Type))
		return
	}
	st := m.source.State()
	log.Debug().Stringer("state", st).Msg("actuator: responding")
	if err := m.reply.Set(schema.Response{Payload: schema.ActuatorCommand{Type: a.Type, State: st}}); err != nil {
		log.Error().Err(err).Msg("actuator: encode reply")
	}
}

func (m *Module) ProduceResponse(buf []byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reply.CopyTo(buf)
}

func (m *Module) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reply.Clear()
}
