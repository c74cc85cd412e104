package userconfig

import (
	"sync"

	"github.com/danmuck/entslink/internal/peripheral"
	"github.com/danmuck/entslink/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

// Observer is told about every configuration received from the controller.
type Observer func(schema.UserConfig)

// Module holds the node settings record and exchanges it with the
// controller.
type Module struct {
	mu       sync.Mutex
	current  *schema.UserConfig
	observer Observer
	reply    peripheral.Reply
}

var _ peripheral.Module = (*Module)(nil)

func New(initial *schema.UserConfig, observer Observer) *Module {
	m := &Module{observer: observer}
	if initial != nil {
		m.current = clone(initial)
	}
	return m
}

func (m *Module) Kind() schema.Kind { return schema.KindConfig }

// Current returns a copy of the stored configuration, if any.
func (m *Module) Current() (schema.UserConfig, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.current == nil {
		return schema.UserConfig{}, false
	}
	return *clone(m.current), true
}

// Store replaces the configuration locally, as the admin API does. The
// observer is not called.
func (m *Module) Store(uc schema.UserConfig) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.current = clone(&uc)
}

func (m *Module) Handle(cmd schema.Command) {
	c, ok := cmd.Payload.(schema.ConfigCommand)
	if !ok {
		return
	}
	m.mu.Lock()
	var notify *schema.UserConfig
	switch c.Type {
	case schema.ConfigRequest:
		log.Info().Bool("has_config", m.current != nil).Msg("userconfig: controller requested configuration")
		resp := schema.ConfigCommand{Type: schema.ConfigResponse}
		if m.current != nil {
			resp.Config = clone(m.current)
		}
		m.setReply(resp)
	case schema.ConfigResponse:
		if c.Config == nil {
			log.Warn().Msg("userconfig: response without configuration")
			m.setReply(schema.ConfigCommand{Type: schema.ConfigResponse})
			break
		}
		m.current = clone(c.Config)
		notify = clone(c.Config)
		log.Info().Uint32("logger_id", c.Config.LoggerID).Uint32("cell_id", c.Config.CellID).Msg("userconfig: configuration received")
		m.setReply(schema.ConfigCommand{Type: schema.ConfigResponse})
	default:
		log.Warn().Uint32("type", uint32(c.Type)).Msg("userconfig: unknown command type")
		m.reply.RejectType(schema.KindConfig, uint32(c.Type))
	}
	observer := m.observer
	m.mu.Unlock()

	if notify != nil && observer != nil {
		observer(*notify)
	}
}

func (m *Module) setReply(c schema.ConfigCommand) {
	if err := m.reply.Set(schema.Response{Payload: c}); err != nil {
		log.Error().Err(err).Msg("userconfig: encode reply")
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

func clone(uc *schema.UserConfig) *schema.UserConfig {
	out := *uc
	out.Sensors = append([]string(nil), uc.Sensors...)
	return &out
}
