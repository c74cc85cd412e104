//go:build linux

package i2cdev

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/danmuck/entslink/internal/bus"
	"github.com/danmuck/entslink/internal/testutil/testlog"
	"golang.org/x/sys/unix"
)

func TestOpenMissingAdapter(t *testing.T) {
	testlog.Start(t)

	_, err := Open(filepath.Join(t.TempDir(), "i2c-9"))
	if err == nil {
		t.Fatalf("expected open error for missing adapter")
	}
}

func TestClosedAdapterRejectsTransfers(t *testing.T) {
	testlog.Start(t)

	a := &Adapter{path: "test", fd: -1, addr: -1}
	if err := a.Write(context.Background(), 0x20, []byte{1}); !errors.Is(err, bus.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if _, err := a.Read(context.Background(), 0x20, 4); !errors.Is(err, bus.ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("close closed adapter: %v", err)
	}
}

func TestSelectTargetOnNonAdapterDevice(t *testing.T) {
	testlog.Start(t)

	a, err := Open("/dev/null")
	if err != nil {
		t.Skipf("open /dev/null: %v", err)
	}
	defer a.Close()

	if err := a.Write(context.Background(), 0x02, []byte{1}); !errors.Is(err, bus.ErrAddress) {
		t.Fatalf("reserved address: got %v want %v", err, bus.ErrAddress)
	}
	// /dev/null has no I2C_SLAVE ioctl, so selecting a target must fail and
	// leave the adapter unbound.
	err = a.Write(context.Background(), 0x20, []byte{1})
	if !errors.Is(err, unix.ENOTTY) {
		t.Fatalf("select on /dev/null: got %v want %v", err, unix.ENOTTY)
	}
	if a.addr != -1 {
		t.Fatalf("bound address got=%d want=-1", a.addr)
	}
	if i2cSlave != 0x0703 {
		t.Fatalf("i2cSlave got=0x%04X want=0x0703", i2cSlave)
	}
}
