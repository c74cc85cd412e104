package controller

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/danmuck/entslink/internal/bus"
	"github.com/danmuck/entslink/internal/observability"
	"github.com/danmuck/entslink/internal/protocol"
	"github.com/danmuck/entslink/internal/protocol/frame"
	"github.com/danmuck/entslink/internal/protocol/schema"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Transactor runs command/response exchanges against one peripheral.
// Concurrent Transact calls are serialized.
type Transactor struct {
	mu     sync.Mutex
	master bus.Master
	cfg    Config
	log    zerolog.Logger
	// partial is set while the peripheral may hold an unterminated message
	// from a write that failed midway.
	partial bool
}

func New(master bus.Master, opts ...Option) (*Transactor, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if !bus.ValidAddress(cfg.Address) {
		return nil, fmt.Errorf("%w: 0x%02X", ErrInvalidAddress, cfg.Address)
	}
	if cfg.TransferSize < frame.MinTransferSize {
		return nil, frame.ErrTransferSize
	}
	if cfg.MaxResponse <= 0 {
		cfg.MaxResponse = DefaultMaxResponse
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	return &Transactor{
		master: master,
		cfg:    cfg,
		log:    cfg.Logger.With().Str("component", "controller").Uint16("addr", cfg.Address).Logger(),
	}, nil
}

func (t *Transactor) Config() Config {
	return t.cfg
}

// Transact sends cmd and returns the peripheral's reply. A zero timeout
// uses the configured default.
func (t *Transactor) Transact(ctx context.Context, cmd schema.Command, timeout time.Duration) (schema.Response, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if timeout <= 0 {
		timeout = t.cfg.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	kind := cmd.Kind()
	start := time.Now()
	txlog := t.log.With().Str("tx", uuid.NewString()).Stringer("kind", kind).Logger()

	resp, err := t.transact(ctx, cmd, txlog)
	outcome := "ok"
	var remote *RemoteError
	switch {
	case errors.As(err, &remote):
		outcome = "remote_" + remote.Code.String()
	case err != nil:
		outcome = protocol.ClassName(err)
	}
	elapsed := time.Since(start)
	observability.RecordTransaction(kind.String(), outcome, elapsed)
	if err != nil {
		txlog.Warn().Err(err).Dur("elapsed", elapsed).Msg("transaction failed")
		return schema.Response{}, err
	}
	txlog.Debug().Dur("elapsed", elapsed).Msg("transaction complete")
	return resp, nil
}

func (t *Transactor) transact(ctx context.Context, cmd schema.Command, txlog zerolog.Logger) (schema.Response, error) {
	kind := cmd.Kind().String()
	msg, err := schema.MarshalCommand(cmd)
	if err != nil {
		return schema.Response{}, fmt.Errorf("controller: encode command: %w", err)
	}
	frames, err := frame.Split(msg, t.cfg.TransferSize)
	if err != nil {
		return schema.Response{}, err
	}
	if t.partial {
		if err := t.terminate(ctx, txlog); err != nil {
			return schema.Response{}, t.busError(ctx, "write", kind, err)
		}
	}
	for i, f := range frames {
		if err := t.master.Write(ctx, t.cfg.Address, frame.Encode(f)); err != nil {
			if i > 0 {
				t.partial = true
				if terr := t.terminate(context.WithoutCancel(ctx), txlog); terr != nil {
					txlog.Debug().Err(terr).Msg("terminating frame not delivered; retrying on next transaction")
				}
			}
			return schema.Response{}, t.busError(ctx, "write", kind, err)
		}
		observability.RecordFrame("controller", "tx")
	}
	txlog.Debug().Int("bytes", len(msg)).Int("frames", len(frames)).Msg("command sent")

	raw, err := t.receive(ctx, kind)
	if err != nil {
		return schema.Response{}, err
	}

	resp, err := schema.UnmarshalResponse(raw)
	if err != nil {
		return schema.Response{}, protocol.Wrap(protocol.ErrDecode, "transact", kind, err)
	}
	if reply, ok := resp.Payload.(schema.ErrorReply); ok {
		return schema.Response{}, &RemoteError{Code: reply.Code, For: reply.For, Detail: reply.Detail}
	}
	if resp.Kind() != cmd.Kind() {
		return schema.Response{}, protocol.Wrap(protocol.ErrIntegrity, "transact", kind,
			fmt.Errorf("reply kind %s", resp.Kind()))
	}
	return resp, nil
}

// terminate closes a message cut short by a failed write with a lone final
// frame. The peripheral rejects the truncated bytes and its error reply is
// replaced by the next dispatch.
func (t *Transactor) terminate(ctx context.Context, txlog zerolog.Logger) error {
	ctx, cancel := context.WithTimeout(ctx, t.cfg.Timeout)
	defer cancel()
	if err := t.master.Write(ctx, t.cfg.Address, frame.Encode(frame.Frame{Final: true})); err != nil {
		return err
	}
	t.partial = false
	observability.RecordFrame("controller", "tx")
	txlog.Debug().Msg("partial command terminated")
	return nil
}

// receive polls until a final frame. Reads returning nothing mean the reply
// is not staged yet.
func (t *Transactor) receive(ctx context.Context, kind string) ([]byte, error) {
	acc, err := frame.NewAccumulator(t.cfg.MaxResponse)
	if err != nil {
		return nil, err
	}
	total := -1
	for {
		readLen := t.cfg.TransferSize
		if t.cfg.LengthPreamble && total < 0 {
			readLen = frame.LengthPreambleLen
		}
		chunk, err := t.master.Read(ctx, t.cfg.Address, readLen)
		if err != nil {
			return nil, t.busError(ctx, "read", kind, err)
		}

		if t.cfg.LengthPreamble && total < 0 {
			n, err := frame.DecodeLength(chunk)
			if err != nil || n == 0 {
				if err := t.wait(ctx, kind); err != nil {
					return nil, err
				}
				continue
			}
			if n > acc.Cap() {
				return nil, protocol.Wrap(protocol.ErrFraming, "transact", kind, frame.ErrOverflow)
			}
			total = n
			continue
		}

		if len(chunk) == 0 {
			if err := t.wait(ctx, kind); err != nil {
				return nil, err
			}
			continue
		}
		f, err := frame.Decode(chunk, t.cfg.TransferSize)
		if err != nil {
			return nil, protocol.Wrap(protocol.ErrFraming, "transact", kind, err)
		}
		observability.RecordFrame("controller", "rx")
		if total >= 0 {
			// Padded reads carry trailing bytes past the message end.
			if rest := total - acc.Len(); len(f.Data) > rest {
				f.Data = f.Data[:rest]
			}
		}
		done, err := acc.Append(f)
		if err != nil {
			return nil, protocol.Wrap(protocol.ErrFraming, "transact", kind, err)
		}
		if done {
			break
		}
	}
	if total >= 0 && acc.Len() != total {
		return nil, protocol.Wrap(protocol.ErrIntegrity, "transact", kind,
			fmt.Errorf("reply length %d, preamble said %d", acc.Len(), total))
	}
	out := make([]byte, acc.Len())
	copy(out, acc.Bytes())
	return out, nil
}

func (t *Transactor) wait(ctx context.Context, kind string) error {
	timer := time.NewTimer(t.cfg.PollInterval)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return protocol.Wrap(protocol.ErrTimeout, "transact", kind, ctx.Err())
	case <-timer.C:
		return nil
	}
}

func (t *Transactor) busError(ctx context.Context, op, kind string, err error) error {
	if ctx.Err() != nil {
		return protocol.Wrap(protocol.ErrTimeout, op, kind, ctx.Err())
	}
	return protocol.Wrap(protocol.ErrTransport, op, kind, err)
}
