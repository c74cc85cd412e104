package peripheral

import (
	"github.com/danmuck/entslink/internal/protocol/frame"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// DefaultBufferSize bounds one serialized command or response.
const DefaultBufferSize = 2048

// Config holds dispatcher settings.
type Config struct {
	// TransferSize is the bus limit per operation, flag byte included.
	TransferSize int

	// ReceiveCapacity bounds one reassembled command.
	ReceiveCapacity int

	// ResponseCapacity bounds one staged response.
	ResponseCapacity int

	// LengthPreamble serves a 2-byte total length before the data frames of
	// each response.
	LengthPreamble bool

	// QueueDepth > 0 hands decoded commands to Run instead of handling them
	// in the receive callback.
	QueueDepth int

	Logger zerolog.Logger
}

func defaultConfig() Config {
	return Config{
		TransferSize:     frame.DefaultTransferSize,
		ReceiveCapacity:  DefaultBufferSize,
		ResponseCapacity: DefaultBufferSize,
		Logger:           log.Logger,
	}
}

// Option configures a Dispatcher.
type Option func(*Config)

func WithTransferSize(n int) Option {
	return func(c *Config) {
		c.TransferSize = n
	}
}

func WithBufferSizes(receive, response int) Option {
	return func(c *Config) {
		c.ReceiveCapacity = receive
		c.ResponseCapacity = response
	}
}

func WithLengthPreamble() Option {
	return func(c *Config) {
		c.LengthPreamble = true
	}
}

// WithDeferredHandling queues up to depth decoded commands for Run, keeping
// the receive callback limited to framing and enqueue.
func WithDeferredHandling(depth int) Option {
	return func(c *Config) {
		c.QueueDepth = depth
	}
}

func WithLogger(l zerolog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}
