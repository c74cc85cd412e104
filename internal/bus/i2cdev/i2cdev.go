// Package i2cdev drives a Linux /dev/i2c-N adapter as bus master.
//
// i2c-dev reads always return the requested byte count; a target that
// answers with fewer bytes leaves the remainder as bus padding. Controllers
// on this bus should enable the length preamble so the padding is trimmed.
package i2cdev

import (
	"errors"
	"fmt"
)

var ErrUnsupported = errors.New("i2cdev: not supported on this platform")

// DefaultPath is the adapter most single-board computers expose.
const DefaultPath = "/dev/i2c-1"

func pathError(path string, err error) error {
	return fmt.Errorf("i2cdev: %s: %w", path, err)
}
