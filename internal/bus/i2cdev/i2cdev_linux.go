//go:build linux

package i2cdev

import (
	"context"
	"fmt"
	"sync"

	"github.com/danmuck/entslink/internal/bus"
	"golang.org/x/sys/unix"
)

// i2cSlave is I2C_SLAVE from linux/i2c-dev.h; x/sys/unix does not export it.
const i2cSlave = 0x0703

// Adapter is one open i2c-dev character device.
type Adapter struct {
	mu   sync.Mutex
	path string
	fd   int
	addr int
}

var _ bus.Master = (*Adapter)(nil)

// Open opens the adapter at path.
func Open(path string) (*Adapter, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CLOEXEC, 0)
	if err != nil {
		return nil, pathError(path, err)
	}
	return &Adapter{path: path, fd: fd, addr: -1}, nil
}

func (a *Adapter) Close() error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fd < 0 {
		return nil
	}
	err := unix.Close(a.fd)
	a.fd = -1
	return err
}

func (a *Adapter) Write(ctx context.Context, addr uint16, p []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.selectLocked(addr); err != nil {
		return err
	}
	n, err := unix.Write(a.fd, p)
	if err != nil {
		return pathError(a.path, err)
	}
	if n != len(p) {
		return pathError(a.path, fmt.Errorf("short write %d/%d", n, len(p)))
	}
	return nil
}

func (a *Adapter) Read(ctx context.Context, addr uint16, maxLen int) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	if err := a.selectLocked(addr); err != nil {
		return nil, err
	}
	buf := make([]byte, maxLen)
	n, err := unix.Read(a.fd, buf)
	if err != nil {
		return nil, pathError(a.path, err)
	}
	return buf[:n], nil
}

func (a *Adapter) selectLocked(addr uint16) error {
	if a.fd < 0 {
		return bus.ErrClosed
	}
	if !bus.ValidAddress(addr) {
		return fmt.Errorf("%w: 0x%02X", bus.ErrAddress, addr)
	}
	if a.addr == int(addr) {
		return nil
	}
	if err := unix.IoctlSetInt(a.fd, i2cSlave, int(addr)); err != nil {
		return pathError(a.path, err)
	}
	a.addr = int(addr)
	return nil
}
