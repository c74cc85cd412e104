package controller

import (
	"time"

	"github.com/danmuck/entslink/internal/protocol/frame"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

const (
	DefaultAddress      uint16 = 0x20
	DefaultTimeout             = 2 * time.Second
	DefaultPollInterval        = 2 * time.Millisecond
	DefaultMaxResponse         = 2048
)

// Config holds transactor settings.
type Config struct {
	// Address is the peripheral's bus address.
	Address uint16

	// TransferSize is the bus limit per operation, flag byte included.
	TransferSize int

	// Timeout applies when Transact is called with a zero timeout.
	Timeout time.Duration

	// PollInterval is the wait after a read that returned nothing.
	PollInterval time.Duration

	// LengthPreamble expects a 2-byte total length before the reply frames.
	// Required on buses that pad every read to the requested length.
	LengthPreamble bool

	// MaxResponse bounds one reassembled reply.
	MaxResponse int

	Logger zerolog.Logger
}

func defaultConfig() Config {
	return Config{
		Address:      DefaultAddress,
		TransferSize: frame.DefaultTransferSize,
		Timeout:      DefaultTimeout,
		PollInterval: DefaultPollInterval,
		MaxResponse:  DefaultMaxResponse,
		Logger:       log.Logger,
	}
}

// Option configures a Transactor.
type Option func(*Config)

func WithAddress(addr uint16) Option {
	return func(c *Config) {
		c.Address = addr
	}
}

func WithTransferSize(n int) Option {
	return func(c *Config) {
		c.TransferSize = n
	}
}

// WithTimeout sets the default transaction timeout.
func WithTimeout(d time.Duration) Option {
	return func(c *Config) {
		c.Timeout = d
	}
}

func WithPollInterval(d time.Duration) Option {
	return func(c *Config) {
		c.PollInterval = d
	}
}

func WithLengthPreamble() Option {
	return func(c *Config) {
		c.LengthPreamble = true
	}
}

func WithMaxResponse(n int) Option {
	return func(c *Config) {
		c.MaxResponse = n
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}
