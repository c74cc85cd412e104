package peripheral

import (
	"sync"
	"testing"

	"github.com/danmuck/entslink/internal/protocol/frame"
	"github.com/danmuck/entslink/internal/protocol/schema"
)

// recordingModule answers every command with a reply derived from it.
type recordingModule struct {
	mu      sync.Mutex
	kind    schema.Kind
	handled []schema.Command
	resets  int
	respond func(schema.Command) schema.Response
	reply   Reply
}

func newRecordingModule(kind schema.Kind, respond func(schema.Command) schema.Response) *recordingModule {
	return &recordingModule{kind: kind, respond: respond}
}

func (m *recordingModule) Kind() schema.Kind { return m.kind }

func (m *recordingModule) Handle(cmd schema.Command) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cmd.Kind() != m.kind {
		return
	}
	m.handled = append(m.handled, cmd)
	if m.respond == nil {
		m.reply.Clear()
		return
	}
	_ = m.reply.Set(m.respond(cmd))
}

func (m *recordingModule) ProduceResponse(buf []byte) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reply.CopyTo(buf)
}

func (m *recordingModule) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resets++
	m.reply.Clear()
}

func (m *recordingModule) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.handled)
}

func send(t *testing.T, d *Dispatcher, cmd schema.Command) error {
	t.Helper()
	msg, err := schema.MarshalCommand(cmd)
	if err != nil {
		t.Fatalf("marshal command: %v", err)
	}
	return sendRaw(t, d, msg)
}

func sendRaw(t *testing.T, d *Dispatcher, msg []byte) error {
	t.Helper()
	frames, err := frame.Split(msg, d.Config().TransferSize)
	if err != nil {
		t.Fatalf("split: %v", err)
	}
	var last error
	for _, f := range frames {
		if err := d.OnReceive(frame.Encode(f)); err != nil {
			last = err
		}
	}
	return last
}

// drain polls until a final frame and returns the reassembled reply along
// with the number of polls used.
func drain(t *testing.T, d *Dispatcher) ([]byte, int) {
	t.Helper()
	ts := d.Config().TransferSize
	var out []byte
	for polls := 1; polls < 1000; polls++ {
		chunk, err := d.OnRequest()
		if err != nil {
			t.Fatalf("poll %d: %v", polls, err)
		}
		if d.Config().LengthPreamble && polls == 1 {
			if _, err := frame.DecodeLength(chunk); err != nil {
				t.Fatalf("preamble: %v", err)
			}
			continue
		}
		f, err := frame.Decode(chunk, ts)
		if err != nil {
			t.Fatalf("decode poll %d: %v", polls, err)
		}
		out = append(out, f.Data...)
		if f.Final {
			return out, polls
		}
	}
	t.Fatalf("no final frame")
	return nil, 0
}

func drainResponse(t *testing.T, d *Dispatcher) schema.Response {
	t.Helper()
	raw, _ := drain(t, d)
	resp, err := schema.UnmarshalResponse(raw)
	if err != nil {
		t.Fatalf("unmarshal response: %v", err)
	}
	return resp
}

func echoPower(cmd schema.Command) schema.Response {
	p := cmd.Payload.(schema.PowerCommand)
	return schema.Response{Payload: schema.PowerCommand{Type: p.Type, Reason: p.Reason, BootCount: p.BootCount + 1}}
}

func echoStorage(cmd schema.Command) schema.Response {
	s := cmd.Payload.(schema.StorageCommand)
	return schema.Response{Payload: schema.StorageCommand{Type: s.Type, Code: schema.StorageSuccess, Data: s.Data, Size: uint64(len(s.Data))}}
}

func echoActuator(cmd schema.Command) schema.Response {
	a := cmd.Payload.(schema.ActuatorCommand)
	return schema.Response{Payload: schema.ActuatorCommand{Type: a.Type, State: a.State}}
}
