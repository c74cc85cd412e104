package controller

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/danmuck/entslink/internal/bus"
	"github.com/danmuck/entslink/internal/bus/loopback"
	"github.com/danmuck/entslink/internal/modules/actuator"
	"github.com/danmuck/entslink/internal/modules/power"
	"github.com/danmuck/entslink/internal/modules/storage"
	"github.com/danmuck/entslink/internal/modules/userconfig"
	"github.com/danmuck/entslink/internal/peripheral"
	"github.com/danmuck/entslink/internal/protocol"
	"github.com/danmuck/entslink/internal/protocol/frame"
	"github.com/danmuck/entslink/internal/protocol/schema"
	"github.com/danmuck/entslink/internal/testutil/testlog"
)

type node struct {
	bus        *loopback.Bus
	dispatcher *peripheral.Dispatcher
	power      *power.Module
	storage    *storage.Module
	tx         *Transactor
}

func newNode(t *testing.T, popts []peripheral.Option, copts ...Option) *node {
	t.Helper()
	d, err := peripheral.NewDispatcher(nil, popts...)
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	n := &node{
		bus:        loopback.New(),
		dispatcher: d,
		power:      power.New(power.Config{BootCount: 3}),
		storage:    storage.New(t.TempDir()),
	}
	for _, m := range []peripheral.Module{n.power, n.storage, userconfig.New(nil, nil)} {
		if err := d.Register(m); err != nil {
			t.Fatalf("register: %v", err)
		}
	}
	if err := n.bus.Attach(DefaultAddress, d); err != nil {
		t.Fatalf("attach: %v", err)
	}
	tx, err := New(n.bus, copts...)
	if err != nil {
		t.Fatalf("transactor: %v", err)
	}
	n.tx = tx
	return n
}

// targetFunc is a bus target driven by closures.
type targetFunc struct {
	receive func([]byte) error
	request func() ([]byte, error)
}

func (f targetFunc) OnReceive(p []byte) error {
	if f.receive == nil {
		return nil
	}
	return f.receive(p)
}

func (f targetFunc) OnRequest() ([]byte, error) { return f.request() }

func TestPowerSleepRoundTrip(t *testing.T) {
	testlog.Start(t)

	n := newNode(t, nil)
	start := time.Now()
	if err := n.tx.Power().Sleep(context.Background()); err != nil {
		t.Fatalf("sleep: %v", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Fatalf("sleep took %s", elapsed)
	}
	if !n.power.SleepRequested() {
		t.Fatalf("peripheral did not record sleep request")
	}

	info, err := n.tx.Power().Wakeup(context.Background())
	if err != nil {
		t.Fatalf("wakeup: %v", err)
	}
	if info.BootCount != 3 {
		t.Fatalf("boot count got=%d want=3", info.BootCount)
	}
}

func TestStorageSaveFrameCount(t *testing.T) {
	testlog.Start(t)

	n := newNode(t, nil)
	data := make([]byte, 200)
	for i := range data {
		data[i] = byte('a' + i%26)
	}
	msg, err := schema.MarshalCommand(schema.Command{Payload: schema.StorageCommand{Type: schema.StorageSave, Filename: "a.csv", Data: data}})
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	if err := n.tx.Storage().Save(context.Background(), "a.csv", data); err != nil {
		t.Fatalf("save: %v", err)
	}
	writes, reads := n.bus.Counts()
	if want := frame.Count(len(msg), frame.DefaultTransferSize); writes != want {
		t.Fatalf("writes got=%d want=%d", writes, want)
	}
	if reads != 1 {
		t.Fatalf("reads got=%d want=1", reads)
	}

	size, err := n.tx.Storage().Size(context.Background(), "a.csv")
	if err != nil {
		t.Fatalf("size: %v", err)
	}
	if size != 200 {
		t.Fatalf("size got=%d want=200", size)
	}
}

func TestStorageErrorCode(t *testing.T) {
	testlog.Start(t)

	n := newNode(t, nil)
	_, err := n.tx.Storage().Size(context.Background(), "missing.csv")
	var serr *StorageError
	if !errors.As(err, &serr) || serr.Code != schema.StorageErrFileNotOpened {
		t.Fatalf("err=%v want file-not-opened storage error", err)
	}
}

func TestUnregisteredKindSurfacesRoutingError(t *testing.T) {
	testlog.Start(t)

	n := newNode(t, nil)
	_, err := n.tx.Actuator().Check(context.Background())
	var remote *RemoteError
	if !errors.As(err, &remote) {
		t.Fatalf("err=%v want remote error", err)
	}
	if !errors.Is(err, protocol.ErrRouting) || remote.For != schema.KindActuator {
		t.Fatalf("remote error got=%+v", remote)
	}

	// The link is still usable.
	if err := n.tx.Power().Sleep(context.Background()); err != nil {
		t.Fatalf("sleep after routing error: %v", err)
	}
}

func TestTimeoutWhenPeripheralSilent(t *testing.T) {
	testlog.Start(t)

	b := loopback.New()
	_ = b.Attach(DefaultAddress, targetFunc{request: func() ([]byte, error) { return nil, peripheral.ErrNoDispatch }})
	tx, err := New(b, WithPollInterval(time.Millisecond))
	if err != nil {
		t.Fatalf("new: %v", err)
	}

	start := time.Now()
	_, err = tx.Transact(context.Background(), schema.Command{Payload: schema.PowerCommand{}}, 50*time.Millisecond)
	if !errors.Is(err, protocol.ErrTimeout) {
		t.Fatalf("err=%v want timeout", err)
	}
	if elapsed := time.Since(start); elapsed < 50*time.Millisecond {
		t.Fatalf("returned after %s, before the deadline", elapsed)
	}
}

func TestTransportError(t *testing.T) {
	testlog.Start(t)

	n := newNode(t, nil)
	boom := errors.New("arbitration lost")
	n.bus.SetFault(func(op string, addr uint16, p []byte) error {
		if op == "write" {
			return boom
		}
		return nil
	})
	err := n.tx.Power().Sleep(context.Background())
	if !errors.Is(err, protocol.ErrTransport) || !errors.Is(err, boom) {
		t.Fatalf("err=%v want transport wrapping cause", err)
	}

	n.bus.SetFault(nil)
	n.bus.Detach(DefaultAddress)
	if err := n.tx.Power().Sleep(context.Background()); !errors.Is(err, bus.ErrNoDevice) {
		t.Fatalf("err=%v want no device", err)
	}
}

func TestKindMismatchIsIntegrityError(t *testing.T) {
	testlog.Start(t)

	reply, _ := schema.MarshalResponse(schema.Response{Payload: schema.ActuatorCommand{State: schema.ActuatorOpen}})
	b := loopback.New()
	_ = b.Attach(DefaultAddress, targetFunc{request: func() ([]byte, error) {
		return frame.Encode(frame.Frame{Final: true, Data: reply}), nil
	}})
	tx, _ := New(b)
	err := tx.Power().Sleep(context.Background())
	if !errors.Is(err, protocol.ErrIntegrity) {
		t.Fatalf("err=%v want integrity", err)
	}
}

func TestUndecodableReplyIsDecodeError(t *testing.T) {
	testlog.Start(t)

	b := loopback.New()
	_ = b.Attach(DefaultAddress, targetFunc{request: func() ([]byte, error) {
		return []byte{frame.FlagFinal, 0xff, 0xff}, nil
	}})
	tx, _ := New(b)
	_, err := tx.Transact(context.Background(), schema.Command{Payload: schema.PowerCommand{}}, 0)
	if !errors.Is(err, protocol.ErrDecode) {
		t.Fatalf("err=%v want decode", err)
	}
}

func TestMalformedReplyFrameIsFramingError(t *testing.T) {
	testlog.Start(t)

	b := loopback.New()
	_ = b.Attach(DefaultAddress, targetFunc{request: func() ([]byte, error) {
		return []byte{0x09, 0x01}, nil
	}})
	tx, _ := New(b)
	_, err := tx.Transact(context.Background(), schema.Command{Payload: schema.PowerCommand{}}, 0)
	if !errors.Is(err, protocol.ErrFraming) {
		t.Fatalf("err=%v want framing", err)
	}
}

// paddedBus pads every read to the requested length, as an i2c-dev read
// does.
type paddedBus struct {
	*loopback.Bus
}

func (p paddedBus) Read(ctx context.Context, addr uint16, maxLen int) ([]byte, error) {
	out, err := p.Bus.Read(ctx, addr, maxLen)
	if err != nil {
		return nil, err
	}
	padded := make([]byte, maxLen)
	copy(padded, out)
	return padded, nil
}

func TestLengthPreambleOverPaddedBus(t *testing.T) {
	testlog.Start(t)

	d, err := peripheral.NewDispatcher(nil, peripheral.WithLengthPreamble())
	if err != nil {
		t.Fatalf("dispatcher: %v", err)
	}
	src := actuator.NewMemoryState(schema.ActuatorClosed)
	_ = d.Register(actuator.New(src))
	lb := loopback.New()
	_ = lb.Attach(DefaultAddress, d)

	tx, err := New(paddedBus{lb}, WithLengthPreamble())
	if err != nil {
		t.Fatalf("new: %v", err)
	}
	st, err := tx.Actuator().Set(context.Background(), schema.ActuatorOpen)
	if err != nil {
		t.Fatalf("set: %v", err)
	}
	if st != schema.ActuatorOpen || src.State() != schema.ActuatorOpen {
		t.Fatalf("state got=%s source=%s", st, src.State())
	}
}

func TestConcurrentTransactionsAreSerialized(t *testing.T) {
	testlog.Start(t)

	d, _ := peripheral.NewDispatcher(nil)
	_ = d.Register(actuator.New(nil))
	lb := loopback.New()
	_ = lb.Attach(DefaultAddress, d)
	tx, _ := New(lb)

	var wg sync.WaitGroup
	errs := make(chan error, 16)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			want := schema.ActuatorState(i % 2)
			got, err := tx.Actuator().Set(context.Background(), want)
			if err != nil {
				errs <- err
				return
			}
			if got != want {
				errs <- errors.New("reply belongs to another transaction")
			}
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Fatalf("concurrent transact: %v", err)
	}
}

func TestUserConfigExchange(t *testing.T) {
	testlog.Start(t)

	n := newNode(t, nil)
	got, err := n.tx.UserConfig().Request(context.Background())
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	if got != nil {
		t.Fatalf("expected no config, got %+v", got)
	}
	uc := schema.UserConfig{LoggerID: 4, CellID: 8, Sensors: []string{"teros12"}}
	if err := n.tx.UserConfig().Send(context.Background(), uc); err != nil {
		t.Fatalf("send: %v", err)
	}
	got, err = n.tx.UserConfig().Request(context.Background())
	if err != nil || got == nil || got.LoggerID != 4 {
		t.Fatalf("request after send got=%+v err=%v", got, err)
	}
}

func TestDeferredPeripheral(t *testing.T) {
	testlog.Start(t)

	n := newNode(t, []peripheral.Option{peripheral.WithDeferredHandling(2)})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = n.dispatcher.Run(ctx) }()

	if _, err := n.tx.Power().Wakeup(context.Background()); err != nil {
		t.Fatalf("wakeup: %v", err)
	}
}

func TestNewValidatesConfig(t *testing.T) {
	testlog.Start(t)

	if _, err := New(loopback.New(), WithAddress(0x03)); !errors.Is(err, ErrInvalidAddress) {
		t.Fatalf("address err=%v", err)
	}
	if _, err := New(loopback.New(), WithTransferSize(1)); !errors.Is(err, frame.ErrTransferSize) {
		t.Fatalf("transfer size err=%v", err)
	}
}

func failWritesFrom(n int, cause error) loopback.Fault {
	var mu sync.Mutex
	count := 0
	return func(op string, addr uint16, p []byte) error {
		if op != "write" {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		count++
		if count >= n {
			return cause
		}
		return nil
	}
}

func failWriteNumber(n int, cause error) loopback.Fault {
	var mu sync.Mutex
	count := 0
	return func(op string, addr uint16, p []byte) error {
		if op != "write" {
			return nil
		}
		mu.Lock()
		defer mu.Unlock()
		count++
		if count == n {
			return cause
		}
		return nil
	}
}

func TestRetryAfterWriteFailsMidMessage(t *testing.T) {
	testlog.Start(t)

	n := newNode(t, nil)
	boom := errors.New("nack")
	n.bus.SetFault(failWriteNumber(2, boom))

	err := n.tx.Storage().Save(context.Background(), "a.csv", make([]byte, 200))
	if !errors.Is(err, protocol.ErrTransport) || !errors.Is(err, boom) {
		t.Fatalf("save err=%v want transport wrapping cause", err)
	}
	if st := n.dispatcher.Status(); st.State != peripheral.StateIdle.String() || st.Buffered != 0 {
		t.Fatalf("peripheral left holding a partial message: %+v", st)
	}

	n.bus.SetFault(nil)
	if err := n.tx.Power().Sleep(context.Background()); err != nil {
		t.Fatalf("sleep after failed save: %v", err)
	}
	if !n.power.SleepRequested() {
		t.Fatalf("sleep not dispatched")
	}
	if _, err := n.tx.Storage().Size(context.Background(), "a.csv"); err == nil {
		t.Fatalf("truncated save was dispatched")
	}
}

func TestPartialMessageTerminatedOnNextTransaction(t *testing.T) {
	testlog.Start(t)

	n := newNode(t, nil)
	boom := errors.New("bus stuck")
	n.bus.SetFault(failWritesFrom(2, boom))

	if err := n.tx.Storage().Save(context.Background(), "a.csv", make([]byte, 200)); !errors.Is(err, protocol.ErrTransport) {
		t.Fatalf("save err=%v want transport", err)
	}
	if err := n.tx.Power().Sleep(context.Background()); !errors.Is(err, protocol.ErrTransport) {
		t.Fatalf("sleep while stuck err=%v want transport", err)
	}
	if n.power.SleepRequested() {
		t.Fatalf("sleep dispatched while the bus was stuck")
	}

	n.bus.SetFault(nil)
	info, err := n.tx.Power().Wakeup(context.Background())
	if err != nil {
		t.Fatalf("wakeup after recovery: %v", err)
	}
	if info.BootCount != 3 {
		t.Fatalf("boot count got=%d want=3", info.BootCount)
	}
}

func TestUnknownSubTypeFailsFast(t *testing.T) {
	testlog.Start(t)

	n := newNode(t, nil)
	start := time.Now()
	cmd := schema.Command{Payload: schema.StorageCommand{Type: schema.StorageType(77)}}
	_, err := n.tx.Transact(context.Background(), cmd, 0)
	var remote *RemoteError
	if !errors.As(err, &remote) || !errors.Is(err, protocol.ErrDecode) {
		t.Fatalf("err=%v want remote decode error", err)
	}
	if remote.For != schema.KindStorage {
		t.Fatalf("remote for got=%s want=%s", remote.For, schema.KindStorage)
	}
	if elapsed := time.Since(start); elapsed >= n.tx.Config().Timeout {
		t.Fatalf("returned after %s, waited out the timeout", elapsed)
	}
}
