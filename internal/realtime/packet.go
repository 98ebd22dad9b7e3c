package realtime

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strconv"
	"strings"
)

// Engine.IO v4 packet types, sent as the first byte of a text frame.
const (
	engineOpen    = '0'
	engineClose   = '1'
	enginePing    = '2'
	enginePong    = '3'
	engineMessage = '4'
	engineUpgrade = '5'
	engineNoop    = '6'
)

// PacketType is a Socket.IO v5 packet type.
type PacketType byte

const (
	PacketConnect PacketType = iota
	PacketDisconnect
	PacketEvent
	PacketAck
	PacketConnectError
	PacketBinaryEvent
	PacketBinaryAck
)

func (t PacketType) String() string {
	switch t {
	case PacketConnect:
		return "CONNECT"
	case PacketDisconnect:
		return "DISCONNECT"
	case PacketEvent:
		return "EVENT"
	case PacketAck:
		return "ACK"
	case PacketConnectError:
		return "CONNECT_ERROR"
	case PacketBinaryEvent:
		return "BINARY_EVENT"
	case PacketBinaryAck:
		return "BINARY_ACK"
	default:
		return "UNKNOWN(" + strconv.Itoa(int(t)) + ")"
	}
}

func (t PacketType) binary() bool { return t == PacketBinaryEvent || t == PacketBinaryAck }

var errBadPacket = errors.New("realtime: malformed packet")

// Packet is one Socket.IO packet. Binary packets carry their attachments
// in Buffers; Data then holds placeholders in their place.
type Packet struct {
	Type        PacketType
	Namespace   string
	ID          uint64
	HasID       bool
	Data        json.RawMessage
	Attachments int
	Buffers     [][]byte
}

// Encode renders the text part of the packet, without the Engine.IO prefix.
func (p *Packet) Encode() string {
	var b strings.Builder
	b.WriteByte('0' + byte(p.Type))
	if p.Type.binary() {
		b.WriteString(strconv.Itoa(len(p.Buffers)))
		b.WriteByte('-')
	}
	if p.Namespace != "" && p.Namespace != "/" {
		b.WriteString(p.Namespace)
		b.WriteByte(',')
	}
	if p.HasID {
		b.WriteString(strconv.FormatUint(p.ID, 10))
	}
	b.Write(p.Data)
	return b.String()
}

// DecodePacket parses the text part of a Socket.IO packet.
func DecodePacket(s string) (*Packet, error) {
	if s == "" {
		return nil, errBadPacket
	}
	p := &Packet{Type: PacketType(s[0] - '0'), Namespace: "/"}
	if s[0] < '0' || p.Type > PacketBinaryAck {
		return nil, fmt.Errorf("%w: type %q", errBadPacket, s[0])
	}
	i := 1

	if p.Type.binary() {
		j := strings.IndexByte(s[i:], '-')
		if j < 0 {
			return nil, fmt.Errorf("%w: missing attachment count", errBadPacket)
		}
		n, err := strconv.Atoi(s[i : i+j])
		if err != nil || n < 0 {
			return nil, fmt.Errorf("%w: attachment count %q", errBadPacket, s[i:i+j])
		}
		p.Attachments = n
		i += j + 1
	}

	if i < len(s) && s[i] == '/' {
		j := strings.IndexByte(s[i:], ',')
		if j < 0 {
			p.Namespace = s[i:]
			i = len(s)
		} else {
			p.Namespace = s[i : i+j]
			i += j + 1
		}
	}

	start := i
	for i < len(s) && s[i] >= '0' && s[i] <= '9' {
		i++
	}
	if i > start {
		id, err := strconv.ParseUint(s[start:i], 10, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: ack id: %v", errBadPacket, err)
		}
		p.ID, p.HasID = id, true
	}

	if i < len(s) {
		data := json.RawMessage(s[i:])
		if !json.Valid(data) {
			return nil, fmt.Errorf("%w: invalid json payload", errBadPacket)
		}
		p.Data = data
	}
	return p, nil
}

// newEventPacket builds an EVENT, or a BINARY_EVENT when any argument holds bytes.
func newEventPacket(nsp, event string, args []any) (*Packet, error) {
	var bufs [][]byte
	items := make([]any, 0, len(args)+1)
	items = append(items, event)
	for _, a := range args {
		items = append(items, deconstruct(a, &bufs))
	}
	data, err := json.Marshal(items)
	if err != nil {
		return nil, fmt.Errorf("marshal %s args: %w", event, err)
	}
	p := &Packet{Type: PacketEvent, Namespace: nsp, Data: data}
	if len(bufs) > 0 {
		p.Type = PacketBinaryEvent
		p.Buffers = bufs
		p.Attachments = len(bufs)
	}
	return p, nil
}

// Args splits the packet payload into its JSON arguments. Binary
// attachments are substituted back as base64 strings, which decode
// straight into []byte fields.
func (p *Packet) Args() ([]json.RawMessage, error) {
	if len(p.Data) == 0 {
		return nil, nil
	}
	data := p.Data
	if len(p.Buffers) > 0 {
		var v any
		if err := json.Unmarshal(data, &v); err != nil {
			return nil, fmt.Errorf("decode args: %w", err)
		}
		out, err := json.Marshal(reconstruct(v, p.Buffers))
		if err != nil {
			return nil, fmt.Errorf("reconstruct args: %w", err)
		}
		data = out
	}
	var args []json.RawMessage
	if err := json.Unmarshal(data, &args); err != nil {
		return nil, fmt.Errorf("decode args: %w", err)
	}
	return args, nil
}

func placeholder(b []byte, bufs *[][]byte) map[string]any {
	*bufs = append(*bufs, b)
	return map[string]any{"_placeholder": true, "num": len(*bufs) - 1}
}

// deconstruct replaces byte slices with placeholders, descending into
// maps, slices and structs that have []byte fields.
func deconstruct(v any, bufs *[][]byte) any {
	switch x := v.(type) {
	case nil:
		return nil
	case json.RawMessage:
		return x
	case []byte:
		return placeholder(x, bufs)
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = deconstruct(e, bufs)
		}
		return out
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = deconstruct(e, bufs)
		}
		return out
	}

	rv := reflect.ValueOf(v)
	for rv.Kind() == reflect.Pointer {
		if rv.IsNil() {
			return nil
		}
		rv = rv.Elem()
	}
	if rv.Kind() != reflect.Struct || !hasBytesField(rv.Type()) {
		return v
	}

	t := rv.Type()
	out := make(map[string]any, t.NumField())
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)
		if !sf.IsExported() {
			continue
		}
		name, omitEmpty := jsonName(sf)
		if name == "-" {
			continue
		}
		fv := rv.Field(i)
		if omitEmpty && fv.IsZero() {
			continue
		}
		if isBytes(sf.Type) {
			out[name] = placeholder(fv.Bytes(), bufs)
			continue
		}
		out[name] = deconstruct(fv.Interface(), bufs)
	}
	return out
}

func reconstruct(v any, bufs [][]byte) any {
	switch x := v.(type) {
	case map[string]any:
		if ph, _ := x["_placeholder"].(bool); ph {
			if num, ok := x["num"].(float64); ok && int(num) >= 0 && int(num) < len(bufs) {
				return base64.StdEncoding.EncodeToString(bufs[int(num)])
			}
		}
		for k, e := range x {
			x[k] = reconstruct(e, bufs)
		}
		return x
	case []any:
		for i, e := range x {
			x[i] = reconstruct(e, bufs)
		}
		return x
	default:
		return v
	}
}

func isBytes(t reflect.Type) bool {
	return t.Kind() == reflect.Slice && t.Elem().Kind() == reflect.Uint8 && t != reflect.TypeOf(json.RawMessage(nil))
}

func hasBytesField(t reflect.Type) bool {
	for i := 0; i < t.NumField(); i++ {
		if isBytes(t.Field(i).Type) {
			return true
		}
	}
	return false
}

func jsonName(sf reflect.StructField) (string, bool) {
	tag := sf.Tag.Get("json")
	if tag == "" {
		return sf.Name, false
	}
	name, opts, _ := strings.Cut(tag, ",")
	if name == "" {
		name = sf.Name
	}
	return name, strings.Contains(opts, "omitempty")
}
