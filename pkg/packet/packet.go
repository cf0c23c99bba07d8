// Package packet implements the MessagePack encoding of Socket.IO packets used by
// the Skinport real-time feed, including the millisecond timestamp extension.
package packet

import (
	"errors"
	"fmt"
)

// Type is the Socket.IO packet type carried in the "type" field.
type Type uint8

const (
	Connect Type = iota
	Disconnect
	Event
	Ack
	ConnectError
	BinaryEvent
	BinaryAck
)

// DefaultNamespace is used when a packet is built without a namespace.
const DefaultNamespace = "/"

var (
	ErrMissingType      = errors.New("packet: missing type")
	ErrMissingNamespace = errors.New("packet: missing namespace")
	ErrInvalidType      = errors.New("packet: invalid type")
	ErrUnsupportedValue = errors.New("packet: unsupported payload value")
	ErrTimestampRange   = errors.New("packet: timestamp before unix epoch")
	ErrLength           = errors.New("packet: length exceeds input")
)

// Valid reports whether t is one of the seven Socket.IO packet types.
func (t Type) Valid() bool {
	return t <= BinaryAck
}

func (t Type) String() string {
	switch t {
	case Connect:
		return "CONNECT"
	case Disconnect:
		return "DISCONNECT"
	case Event:
		return "EVENT"
	case Ack:
		return "ACK"
	case ConnectError:
		return "CONNECT_ERROR"
	case BinaryEvent:
		return "BINARY_EVENT"
	case BinaryAck:
		return "BINARY_ACK"
	}
	return fmt.Sprintf("UNKNOWN(%d)", uint8(t))
}

// Packet is one Socket.IO frame. ID is only set on frames that request or carry
// an acknowledgement.
//
// Data holds a payload value: nil, bool, int64, uint64, float64, string, []byte,
// []any, map[string]any, Timestamp or Ext. Encode additionally accepts the other
// Go integer widths, float32, time.Time, []string and map[string]string.
type Packet struct {
	Type      Type
	Namespace string
	ID        *uint64
	Data      any
}

// NewEvent builds an EVENT packet on the default namespace with data
// [name, args...].
func NewEvent(name string, args ...any) Packet {
	data := make([]any, 0, len(args)+1)
	data = append(data, name)
	data = append(data, args...)
	return Packet{Type: Event, Namespace: DefaultNamespace, Data: data}
}

// WithID returns a copy of p carrying the acknowledgement id.
func (p Packet) WithID(id uint64) Packet {
	p.ID = &id
	return p
}

// EventName splits an EVENT/BINARY_EVENT payload into its name and arguments.
func (p Packet) EventName() (string, []any, bool) {
	if p.Type != Event && p.Type != BinaryEvent {
		return "", nil, false
	}
	data, ok := p.Data.([]any)
	if !ok || len(data) == 0 {
		return "", nil, false
	}
	name, ok := data[0].(string)
	if !ok {
		return "", nil, false
	}
	return name, data[1:], true
}
