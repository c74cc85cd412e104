//go:build !linux

package i2cdev

import (
	"context"

	"github.com/danmuck/entslink/internal/bus"
)

type Adapter struct{}

var _ bus.Master = (*Adapter)(nil)

func Open(path string) (*Adapter, error) {
	return nil, pathError(path, ErrUnsupported)
}

func (a *Adapter) Close() error { return nil }

func (a *Adapter) Write(ctx context.Context, addr uint16, p []byte) error {
	return ErrUnsupported
}

func (a *Adapter) Read(ctx context.Context, addr uint16, maxLen int) ([]byte, error) {
	return nil, ErrUnsupported
}
