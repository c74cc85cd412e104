package connectivity

import (
	"context"
	"sync"
	"time"

	"github.com/danmuck/entslink/internal/peripheral"
	"github.com/danmuck/entslink/internal/protocol/schema"
	"github.com/rs/zerolog/log"
)

// Link status codes reported in the reply Code field.
const (
	LinkIdle          uint32 = 0
	LinkConnected     uint32 = 3
	LinkConnectFailed uint32 = 4
	LinkDisconnected  uint32 = 6
)

// DefaultTimeout bounds one network call made while handling a command.
const DefaultTimeout = 10 * time.Second

// HostInfo describes the access point hosted by the node.
type HostInfo struct {
	SSID string
	Addr string
	MAC  string
}

// Link associates the node with a network or hosts its own.
type Link interface {
	Connect(ctx context.Context, ssid, passwd string) (uint32, error)
	Disconnect(ctx context.Context) error
	Status(ctx context.Context) uint32
	Host(ctx context.Context, ssid, passwd string) error
	StopHost(ctx context.Context) error
	HostInfo(ctx context.Context) (HostInfo, error)
}

// Relay forwards measurement payloads to the upstream API.
type Relay interface {
	SetEndpoint(url string, port uint32)
	Post(ctx context.Context, body []byte) (uint32, []byte, error)
	Check(ctx context.Context) (uint32, error)
}

// Clock reports network time.
type Clock interface {
	Now() (uint32, bool)
	Sync(ctx context.Context) error
}

type Config struct {
	Link    Link
	Relay   Relay
	Clock   Clock
	Timeout time.Duration
}

// Module answers connectivity commands.
type Module struct {
	mu       sync.Mutex
	cfg      Config
	lastCode uint32
	lastBody []byte
	reply    peripheral.Reply
}

var _ peripheral.Module = (*Module)(nil)

// New fills any missing collaborator with an in-memory default.
func New(cfg Config) *Module {
	if cfg.Link == nil {
		cfg.Link = NewMemoryLink("")
	}
	if cfg.Relay == nil {
		cfg.Relay = NewHTTPRelay(nil)
	}
	if cfg.Clock == nil {
		cfg.Clock = NewSystemClock()
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Module{cfg: cfg}
}

func (m *Module) Kind() schema.Kind { return schema.KindConnectivity }

func (m *Module) Handle(cmd schema.Command) {
	c, ok := cmd.Payload.(schema.ConnectivityCommand)
	if !ok {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), m.cfg.Timeout)
	defer cancel()

	resp := schema.ConnectivityCommand{Type: c.Type}
	switch c.Type {
	case schema.ConnConnect:
		status, err := m.cfg.Link.Connect(ctx, c.SSID, c.Passwd)
		if err != nil {
			log.Warn().Err(err).Str("ssid", c.SSID).Msg("connectivity: connect failed")
		}
		resp.Code = status
	case schema.ConnDisconnect:
		if err := m.cfg.Link.Disconnect(ctx); err != nil {
			log.Warn().Err(err).Msg("connectivity: disconnect failed")
		}
	case schema.ConnCheckLink:
		resp.Code = m.cfg.Link.Status(ctx)
	case schema.ConnPost:
		code, body, err := m.cfg.Relay.Post(ctx, c.Resp)
		if err != nil {
			log.Warn().Err(err).Msg("connectivity: relay post failed")
		}
		m.lastCode = code
		m.lastBody = append(m.lastBody[:0], body...)
	case schema.ConnCheck:
		resp.Code = m.lastCode
		if len(m.lastBody) > 0 {
			resp.Resp = append([]byte(nil), m.lastBody...)
		}
	case schema.ConnCheckAPI:
		if c.URL != "" {
			m.cfg.Relay.SetEndpoint(c.URL, c.Port)
		}
		code, err := m.cfg.Relay.Check(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("connectivity: api check failed")
		}
		resp.Code = code
	case schema.ConnTime:
		if ts, ok := m.cfg.Clock.Now(); ok {
			resp.Time = ts
		} else {
			log.Error().Msg("connectivity: time not set")
		}
	case schema.ConnNTPSync:
		if err := m.cfg.Clock.Sync(ctx); err != nil {
			log.Warn().Err(err).Msg("connectivity: time sync failed")
		}
	case schema.ConnHost:
		if err := m.cfg.Link.Host(ctx, c.SSID, c.Passwd); err != nil {
			log.Warn().Err(err).Msg("connectivity: host failed")
		}
	case schema.ConnStopHost:
		if err := m.cfg.Link.StopHost(ctx); err != nil {
			log.Warn().Err(err).Msg("connectivity: stop host failed")
		}
	case schema.ConnHostInfo:
		info, err := m.cfg.Link.HostInfo(ctx)
		if err != nil {
			log.Warn().Err(err).Msg("connectivity: host info failed")
		}
		resp.SSID = info.SSID
		resp.URL = info.Addr
		resp.MAC = info.MAC
	default:
		log.Warn().Uint32("type", uint32(c.Type)).Msg("connectivity: unknown command type")
		m.reply.RejectType(schema.KindConnectivity, uint32(c.Type))
		return
	}
	if err := m.reply.Set(schema.Response{Payload: resp}); err != nil {
		log.Error().Err(err).Msg("connectivity: encode reply")
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
	m.lastCode = 0
	m.lastBody = m.lastBody[:0]
}
