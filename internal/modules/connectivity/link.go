package connectivity

import (
	"context"
	"errors"
	"sync"
)

var ErrNotHosting = errors.New("connectivity: no access point hosted")

// MemoryLink is a Link without a radio. Any non-empty SSID associates.
type MemoryLink struct {
	mu      sync.Mutex
	mac     string
	ssid    string
	status  uint32
	hosting *HostInfo
}

func NewMemoryLink(mac string) *MemoryLink {
	if mac == "" {
		mac = "02:00:00:00:00:01"
	}
	return &MemoryLink{mac: mac, status: LinkIdle}
}

func (l *MemoryLink) Connect(_ context.Context, ssid, _ string) (uint32, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if ssid == "" {
		l.status = LinkConnectFailed
		return l.status, nil
	}
	l.ssid = ssid
	l.status = LinkConnected
	return l.status, nil
}

func (l *MemoryLink) Disconnect(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.ssid = ""
	l.status = LinkDisconnected
	return nil
}

func (l *MemoryLink) Status(context.Context) uint32 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.status
}

func (l *MemoryLink) Host(_ context.Context, ssid, _ string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hosting = &HostInfo{SSID: ssid, Addr: "192.168.4.1", MAC: l.mac}
	return nil
}

func (l *MemoryLink) StopHost(context.Context) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.hosting = nil
	return nil
}

func (l *MemoryLink) HostInfo(context.Context) (HostInfo, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hosting == nil {
		return HostInfo{}, ErrNotHosting
	}
	return *l.hosting, nil
}
