package peripheral

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/danmuck/entslink/internal/bus"
	"github.com/danmuck/entslink/internal/observability"
	"github.com/danmuck/entslink/internal/protocol"
	"github.com/danmuck/entslink/internal/protocol/frame"
	"github.com/danmuck/entslink/internal/protocol/schema"
	"github.com/rs/zerolog"
)

var (
	ErrNoDispatch    = errors.New("peripheral: poll before any dispatch")
	ErrEmptyResponse = errors.New("peripheral: module produced an empty response")
	ErrNotReady      = errors.New("peripheral: response not ready")
	ErrQueueFull     = errors.New("peripheral: command queue full")
	ErrNotDeferred   = errors.New("peripheral: dispatcher is not in deferred mode")
)

// State is the receive-side state.
type State int

const (
	StateIdle State = iota
	StateAccumulating
	StateDiscarding
)

func (s State) String() string {
	switch s {
	case StateAccumulating:
		return "accumulating"
	case StateDiscarding:
		return "discarding"
	default:
		return "idle"
	}
}

type job struct {
	seq    uint64
	cmd    schema.Command
	module Module
}

// Dispatcher turns bus events into dispatched commands and framed replies.
// It is safe to call from any goroutine; every event runs to completion
// under one lock.
type Dispatcher struct {
	mu       sync.Mutex
	cfg      Config
	registry *Registry
	acc      *frame.Accumulator
	stage    *frame.Stage
	state    State
	log      zerolog.Logger

	last     Module
	lastKind schema.Kind
	seq      uint64
	pending  int
	queue    chan job
}

var _ bus.Target = (*Dispatcher)(nil)

// NewDispatcher builds a dispatcher routing through registry. A nil
// registry gets a fresh one.
func NewDispatcher(registry *Registry, opts ...Option) (*Dispatcher, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.TransferSize < frame.MinTransferSize {
		return nil, frame.ErrTransferSize
	}
	acc, err := frame.NewAccumulator(cfg.ReceiveCapacity)
	if err != nil {
		return nil, fmt.Errorf("peripheral: receive buffer: %w", err)
	}
	stage, err := frame.NewStage(cfg.ResponseCapacity)
	if err != nil {
		return nil, fmt.Errorf("peripheral: response buffer: %w", err)
	}
	if registry == nil {
		registry = NewRegistry()
	}
	d := &Dispatcher{
		cfg:      cfg,
		registry: registry,
		acc:      acc,
		stage:    stage,
		log:      cfg.Logger.With().Str("component", "dispatcher").Logger(),
	}
	if cfg.QueueDepth > 0 {
		d.queue = make(chan job, cfg.QueueDepth)
	}
	return d, nil
}

// Register adds m to the dispatcher's registry.
func (d *Dispatcher) Register(m Module) error {
	return d.registry.Register(m)
}

func (d *Dispatcher) Registry() *Registry {
	return d.registry
}

func (d *Dispatcher) Config() Config {
	return d.cfg
}

// OnReceive consumes the bytes of one bus write.
func (d *Dispatcher) OnReceive(chunk []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	f, err := frame.Decode(chunk, d.cfg.TransferSize)
	if err != nil {
		// Without a valid flag the message boundary is lost; drop what was
		// gathered so far and answer with a framing error.
		d.acc.Reset()
		d.state = StateIdle
		d.stageErrorLocked(schema.CodeFraming, schema.KindUnknown, err)
		return d.fail("receive", "", err)
	}
	observability.RecordFrame("peripheral", "rx")

	done, err := d.acc.Append(f)
	if err != nil {
		if done {
			d.acc.Reset()
			d.state = StateIdle
			d.stageErrorLocked(schema.CodeFraming, schema.KindUnknown, err)
		} else {
			d.state = StateDiscarding
			d.invalidateLocked()
		}
		return d.fail("receive", "", err)
	}
	if !done {
		if d.state == StateIdle {
			// First frame of a new message; whatever was staged belongs to
			// an earlier exchange.
			d.invalidateLocked()
		}
		if !d.acc.Discarding() {
			d.state = StateAccumulating
		}
		return nil
	}

	return d.dispatchLocked()
}

func (d *Dispatcher) dispatchLocked() error {
	cmd, err := schema.UnmarshalCommand(d.acc.Bytes())
	d.acc.Reset()
	d.state = StateIdle
	if err != nil {
		d.stageErrorLocked(schema.CodeDecode, schema.KindUnknown, err)
		return d.fail("dispatch", "", err)
	}

	kind := cmd.Kind()
	module, ok := d.registry.Lookup(kind)
	if !ok {
		err := protocol.Wrap(protocol.ErrRouting, "dispatch", kind.String(), nil)
		d.stageErrorLocked(schema.CodeRouting, kind, err)
		observability.RecordDispatch(kind.String(), "unrouted")
		return d.fail("dispatch", kind.String(), err)
	}

	d.invalidateLocked()
	d.seq++
	d.lastKind = kind

	if d.queue != nil {
		select {
		case d.queue <- job{seq: d.seq, cmd: cmd, module: module}:
			d.pending++
			observability.RecordDispatch(kind.String(), "queued")
			d.log.Debug().Stringer("kind", kind).Uint64("seq", d.seq).Msg("command queued")
			return nil
		default:
			d.stageErrorLocked(schema.CodeInternal, kind, ErrQueueFull)
			observability.RecordDispatch(kind.String(), "dropped")
			return fmt.Errorf("peripheral: dispatch %s: %w", kind, ErrQueueFull)
		}
	}

	module.Handle(cmd)
	d.last = module
	observability.RecordDispatch(kind.String(), "handled")
	d.log.Debug().Stringer("kind", kind).Uint64("seq", d.seq).Msg("command handled")
	return nil
}

// OnRequest answers one bus read. An empty chunk with a nil error never
// occurs; when nothing can be served the chunk is empty and the error says
// why.
func (d *Dispatcher) OnRequest() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.stage.Empty() {
		if d.pending > 0 {
			return nil, ErrNotReady
		}
		if d.last == nil {
			return nil, ErrNoDispatch
		}
		n := d.last.ProduceResponse(d.stage.Buffer())
		if n <= 0 {
			return nil, fmt.Errorf("%w (kind=%s)", ErrEmptyResponse, d.last.Kind())
		}
		if err := d.stage.Commit(n, d.cfg.LengthPreamble); err != nil {
			return nil, d.fail("request", d.last.Kind().String(), err)
		}
	}

	chunk, err := d.stage.Next(d.cfg.TransferSize)
	if err != nil {
		return nil, err
	}
	observability.RecordFrame("peripheral", "tx")
	if d.stage.Empty() {
		// Final frame served; the exchange is complete.
		d.last = nil
	}
	return chunk, nil
}

// Run handles queued commands until ctx is done. Only valid with
// WithDeferredHandling.
func (d *Dispatcher) Run(ctx context.Context) error {
	if d.queue == nil {
		return ErrNotDeferred
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case j := <-d.queue:
			j.module.Handle(j.cmd)
			d.mu.Lock()
			d.pending--
			if j.seq == d.seq {
				d.last = j.module
			}
			d.mu.Unlock()
			observability.RecordDispatch(j.cmd.Kind().String(), "handled")
			d.log.Debug().Stringer("kind", j.cmd.Kind()).Uint64("seq", j.seq).Msg("queued command handled")
		}
	}
}

// Reset clears every module and all transport state.
func (d *Dispatcher) Reset() {
	d.registry.ResetAll()
	d.mu.Lock()
	defer d.mu.Unlock()
	d.acc.Reset()
	d.stage.Reset()
	d.state = StateIdle
	d.last = nil
	d.lastKind = schema.KindUnknown
}

// Status is a point-in-time view for diagnostics.
type Status struct {
	State        string   `json:"state"`
	Buffered     int      `json:"buffered"`
	Staged       int      `json:"staged"`
	Pending      int      `json:"pending"`
	LastKind     string   `json:"last_kind"`
	Dispatches   uint64   `json:"dispatches"`
	Modules      []string `json:"modules"`
	Preamble     bool     `json:"length_preamble"`
	Transfer     int      `json:"transfer_size"`
	AwaitingPoll bool     `json:"awaiting_poll"`
}

func (d *Dispatcher) Status() Status {
	d.mu.Lock()
	defer d.mu.Unlock()
	kinds := d.registry.Kinds()
	names := make([]string, 0, len(kinds))
	for _, k := range kinds {
		names = append(names, k.String())
	}
	return Status{
		State:        d.state.String(),
		Buffered:     d.acc.Len(),
		Staged:       d.stage.Remaining(),
		Pending:      d.pending,
		LastKind:     d.lastKind.String(),
		Dispatches:   d.seq,
		Modules:      names,
		Preamble:     d.cfg.LengthPreamble,
		Transfer:     d.cfg.TransferSize,
		AwaitingPoll: d.last != nil || !d.stage.Empty(),
	}
}

// invalidateLocked drops any staged or pending reply from an earlier
// exchange.
func (d *Dispatcher) invalidateLocked() {
	d.stage.Reset()
	d.last = nil
}

func (d *Dispatcher) stageErrorLocked(code schema.ErrorCode, kind schema.Kind, cause error) {
	d.last = nil
	reply := schema.Response{Payload: schema.ErrorReply{Code: code, For: kind, Detail: cause.Error()}}
	b, err := schema.MarshalResponse(reply)
	if err == nil {
		err = d.stage.Load(b, d.cfg.LengthPreamble)
	}
	if err != nil {
		d.stage.Reset()
		d.log.Error().Err(err).Msg("stage error reply")
	}
}

func (d *Dispatcher) fail(op, kind string, err error) error {
	observability.RecordPeripheralError(protocol.ClassName(err))
	d.log.Warn().Err(err).Str("op", op).Str("kind", kind).Msg("peripheral transport error")
	return fmt.Errorf("peripheral: %s: %w", op, err)
}
