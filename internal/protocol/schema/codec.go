package schema

import (
	"errors"
	"fmt"

	"github.com/danmuck/entslink/internal/protocol"
	"google.golang.org/protobuf/encoding/protowire"
)

var (
	ErrNoPayload       = errors.New("schema: envelope has no payload")
	ErrMultiplePayload = fmt.Errorf("%w: schema: envelope carries more than one payload", protocol.ErrDecode)
	ErrEmptyEnvelope   = fmt.Errorf("%w: schema: envelope carries no payload", protocol.ErrDecode)
	ErrFieldType       = fmt.Errorf("%w: schema: unexpected wire type", protocol.ErrDecode)
	ErrBufferTooSmall  = errors.New("schema: buffer too small for encoded message")
)

// MarshalCommand encodes a command envelope.
func MarshalCommand(c Command) ([]byte, error) {
	return marshalEnvelope(c.Payload)
}

// UnmarshalCommand decodes a command envelope.
func UnmarshalCommand(b []byte) (Command, error) {
	p, err := unmarshalEnvelope(b)
	if err != nil {
		return Command{}, err
	}
	return Command{Payload: p}, nil
}

// MarshalResponse encodes a response envelope.
func MarshalResponse(r Response) ([]byte, error) {
	return marshalEnvelope(r.Payload)
}

// UnmarshalResponse decodes a response envelope.
func UnmarshalResponse(b []byte) (Response, error) {
	p, err := unmarshalEnvelope(b)
	if err != nil {
		return Response{}, err
	}
	return Response{Payload: p}, nil
}

// EncodeResponseInto writes r into buf and returns the encoded length.
func EncodeResponseInto(buf []byte, r Response) (int, error) {
	b, err := MarshalResponse(r)
	if err != nil {
		return 0, err
	}
	if len(b) > len(buf) {
		return 0, fmt.Errorf("%w: need %d have %d", ErrBufferTooSmall, len(b), len(buf))
	}
	return copy(buf, b), nil
}

func marshalEnvelope(p Payload) ([]byte, error) {
	if p == nil {
		return nil, ErrNoPayload
	}
	body := p.appendFields(nil)
	out := protowire.AppendTag(nil, protowire.Number(p.Kind()), protowire.BytesType)
	return protowire.AppendBytes(out, body), nil
}

func unmarshalEnvelope(b []byte) (Payload, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	var out Payload
	for _, f := range fields {
		dec, ok := decoders[Kind(f.num)]
		if !ok {
			continue
		}
		if f.typ != protowire.BytesType {
			return nil, ErrFieldType
		}
		if out != nil {
			return nil, ErrMultiplePayload
		}
		p, err := dec(f.b)
		if err != nil {
			return nil, err
		}
		out = p
	}
	if out == nil {
		return nil, ErrEmptyEnvelope
	}
	return out, nil
}

var decoders = map[Kind]func([]byte) (Payload, error){
	KindPower:        decodePower,
	KindStorage:      decodeStorage,
	KindConnectivity: decodeConnectivity,
	KindActuator:     decodeActuator,
	KindConfig:       decodeConfigCommand,
	KindError:        decodeErrorReply,
}

type field struct {
	num protowire.Number
	typ protowire.Type
	u   uint64
	b   []byte
}

func parseFields(b []byte) ([]field, error) {
	var out []field
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", protocol.ErrDecode, protowire.ParseError(n))
		}
		b = b[n:]
		f := field{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.u, n = protowire.ConsumeVarint(b)
		case protowire.BytesType:
			f.b, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return nil, fmt.Errorf("%w: %v", protocol.ErrDecode, protowire.ParseError(n))
		}
		b = b[n:]
		if typ == protowire.VarintType || typ == protowire.BytesType {
			out = append(out, f)
		}
	}
	return out, nil
}

func (f field) varint() (uint64, error) {
	if f.typ != protowire.VarintType {
		return 0, fmt.Errorf("%w: field %d", ErrFieldType, f.num)
	}
	return f.u, nil
}

func (f field) bytes() ([]byte, error) {
	if f.typ != protowire.BytesType {
		return nil, fmt.Errorf("%w: field %d", ErrFieldType, f.num)
	}
	out := make([]byte, len(f.b))
	copy(out, f.b)
	return out, nil
}

func (f field) uint32() (uint32, error) {
	v, err := f.varint()
	return uint32(v), err
}

func (f field) str() (string, error) {
	if f.typ != protowire.BytesType {
		return "", fmt.Errorf("%w: field %d", ErrFieldType, f.num)
	}
	return string(f.b), nil
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

func appendMessage(b []byte, num protowire.Number, body []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, body)
}

func (p PowerCommand) appendFields(b []byte) []byte {
	b = appendVarint(b, 1, uint64(p.Type))
	b = appendVarint(b, 2, uint64(p.Reason))
	return appendVarint(b, 3, uint64(p.BootCount))
}

func decodePower(b []byte) (Payload, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	var p PowerCommand
	for _, f := range fields {
		var v uint32
		switch f.num {
		case 1:
			v, err = f.uint32()
			p.Type = PowerType(v)
		case 2:
			p.Reason, err = f.uint32()
		case 3:
			p.BootCount, err = f.uint32()
		}
		if err != nil {
			return nil, err
		}
	}
	return p, nil
}

func (s StorageCommand) appendFields(b []byte) []byte {
	b = appendVarint(b, 1, uint64(s.Type))
	b = appendVarint(b, 2, uint64(s.Code))
	b = appendString(b, 3, s.Filename)
	b = appendBytes(b, 4, s.Data)
	if s.Config != nil {
		b = appendMessage(b, 5, s.Config.appendFields(nil))
	}
	return appendVarint(b, 6, s.Size)
}

func decodeStorage(b []byte) (Payload, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	var s StorageCommand
	for _, f := range fields {
		var v uint32
		switch f.num {
		case 1:
			v, err = f.uint32()
			s.Type = StorageType(v)
		case 2:
			v, err = f.uint32()
			s.Code = StorageCode(v)
		case 3:
			s.Filename, err = f.str()
		case 4:
			s.Data, err = f.bytes()
		case 5:
			var raw []byte
			if raw, err = f.bytes(); err == nil {
				s.Config, err = decodeUserConfig(raw)
			}
		case 6:
			s.Size, err = f.varint()
		}
		if err != nil {
			return nil, err
		}
	}
	return s, nil
}

func (c ConnectivityCommand) appendFields(b []byte) []byte {
	b = appendVarint(b, 1, uint64(c.Type))
	b = appendString(b, 2, c.SSID)
	b = appendString(b, 3, c.Passwd)
	b = appendString(b, 4, c.URL)
	b = appendVarint(b, 5, uint64(c.Port))
	b = appendVarint(b, 6, uint64(c.Code))
	b = appendVarint(b, 7, uint64(c.Time))
	b = appendBytes(b, 8, c.Resp)
	return appendString(b, 9, c.MAC)
}

func decodeConnectivity(b []byte) (Payload, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	var c ConnectivityCommand
	for _, f := range fields {
		var v uint32
		switch f.num {
		case 1:
			v, err = f.uint32()
			c.Type = ConnectivityType(v)
		case 2:
			c.SSID, err = f.str()
		case 3:
			c.Passwd, err = f.str()
		case 4:
			c.URL, err = f.str()
		case 5:
			c.Port, err = f.uint32()
		case 6:
			c.Code, err = f.uint32()
		case 7:
			c.Time, err = f.uint32()
		case 8:
			c.Resp, err = f.bytes()
		case 9:
			c.MAC, err = f.str()
		}
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (a ActuatorCommand) appendFields(b []byte) []byte {
	b = appendVarint(b, 1, uint64(a.Type))
	return appendVarint(b, 2, uint64(a.State))
}

func decodeActuator(b []byte) (Payload, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	var a ActuatorCommand
	for _, f := range fields {
		var v uint32
		switch f.num {
		case 1:
			v, err = f.uint32()
			a.Type = ActuatorType(v)
		case 2:
			v, err = f.uint32()
			a.State = ActuatorState(v)
		}
		if err != nil {
			return nil, err
		}
	}
	return a, nil
}

func (c ConfigCommand) appendFields(b []byte) []byte {
	b = appendVarint(b, 1, uint64(c.Type))
	if c.Config != nil {
		b = appendMessage(b, 2, c.Config.appendFields(nil))
	}
	return b
}

func decodeConfigCommand(b []byte) (Payload, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	var c ConfigCommand
	for _, f := range fields {
		var v uint32
		switch f.num {
		case 1:
			v, err = f.uint32()
			c.Type = ConfigType(v)
		case 2:
			var raw []byte
			if raw, err = f.bytes(); err == nil {
				c.Config, err = decodeUserConfig(raw)
			}
		}
		if err != nil {
			return nil, err
		}
	}
	return c, nil
}

func (u *UserConfig) appendFields(b []byte) []byte {
	b = appendVarint(b, 1, uint64(u.LoggerID))
	b = appendVarint(b, 2, uint64(u.CellID))
	b = appendVarint(b, 3, uint64(u.UploadMethod))
	b = appendVarint(b, 4, uint64(u.UploadInterval))
	for _, s := range u.Sensors {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendString(b, s)
	}
	b = appendString(b, 6, u.SSID)
	b = appendString(b, 7, u.Passwd)
	b = appendString(b, 8, u.APIEndpointURL)
	return appendVarint(b, 9, uint64(u.APIPort))
}

func decodeUserConfig(b []byte) (*UserConfig, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	u := &UserConfig{}
	for _, f := range fields {
		var v uint32
		switch f.num {
		case 1:
			u.LoggerID, err = f.uint32()
		case 2:
			u.CellID, err = f.uint32()
		case 3:
			v, err = f.uint32()
			u.UploadMethod = UploadMethod(v)
		case 4:
			u.UploadInterval, err = f.uint32()
		case 5:
			var s string
			if s, err = f.str(); err == nil {
				u.Sensors = append(u.Sensors, s)
			}
		case 6:
			u.SSID, err = f.str()
		case 7:
			u.Passwd, err = f.str()
		case 8:
			u.APIEndpointURL, err = f.str()
		case 9:
			u.APIPort, err = f.uint32()
		}
		if err != nil {
			return nil, err
		}
	}
	return u, nil
}

func (e ErrorReply) appendFields(b []byte) []byte {
	b = appendVarint(b, 1, uint64(e.Code))
	b = appendVarint(b, 2, uint64(e.For))
	return appendString(b, 3, e.Detail)
}

func decodeErrorReply(b []byte) (Payload, error) {
	fields, err := parseFields(b)
	if err != nil {
		return nil, err
	}
	var e ErrorReply
	for _, f := range fields {
		var v uint32
		switch f.num {
		case 1:
			v, err = f.uint32()
			e.Code = ErrorCode(v)
		case 2:
			v, err = f.uint32()
			e.For = Kind(v)
		case 3:
			e.Detail, err = f.str()
		}
		if err != nil {
			return nil, err
		}
	}
	return e, nil
}
