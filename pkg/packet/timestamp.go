package packet

import (
	"encoding/binary"
	"time"
)

// TimestampExtType is the extension type reserved for millisecond timestamps.
const TimestampExtType int8 = 0

// nativeTimestampExtType is MessagePack's own timestamp extension.
const nativeTimestampExtType int8 = -1

// Timestamp is a point in time carried in a payload. On the wire it only keeps
// millisecond precision.
type Timestamp struct {
	Seconds int64
	Nanos   uint32
}

// Ext is an extension value the codec does not interpret.
type Ext struct {
	Type int8
	Data []byte
}

func TimestampFromTime(t time.Time) Timestamp {
	return Timestamp{Seconds: t.Unix(), Nanos: uint32(t.Nanosecond())}
}

// TimestampFromUnixMilli rebuilds a timestamp from milliseconds since the epoch.
func TimestampFromUnixMilli(ms uint64) Timestamp {
	return Timestamp{
		Seconds: int64(ms / 1000),
		Nanos:   uint32(ms%1000) * uint32(time.Millisecond),
	}
}

func (ts Timestamp) Time() time.Time {
	return time.Unix(ts.Seconds, int64(ts.Nanos)).UTC()
}

// UnixMilli floors the timestamp to whole milliseconds.
func (ts Timestamp) UnixMilli() int64 {
	return ts.Seconds*1000 + int64(ts.Nanos/uint32(time.Millisecond))
}

// Truncate drops everything below the millisecond, which is what a trip
// through the codec does.
func (ts Timestamp) Truncate() Timestamp {
	ts.Nanos -= ts.Nanos % uint32(time.Millisecond)
	return ts
}

func (ts Timestamp) String() string {
	return ts.Time().Format(time.RFC3339Nano)
}

// MarshalText renders the timestamp as RFC 3339, so JSON relays of decoded
// payloads carry a readable time.
func (ts Timestamp) MarshalText() ([]byte, error) {
	return []byte(ts.String()), nil
}

func encodeTimestampBody(ts Timestamp) ([]byte, error) {
	ms := ts.UnixMilli()
	if ms < 0 {
		return nil, ErrTimestampRange
	}
	body := make([]byte, 8)
	binary.BigEndian.PutUint64(body, uint64(ms))
	return body, nil
}

// decodeExtValue turns an extension body into a Timestamp when the tag and
// length identify one, and into an opaque Ext otherwise.
func decodeExtValue(extType int8, body []byte) any {
	switch {
	case extType == TimestampExtType && len(body) == 8:
		return TimestampFromUnixMilli(binary.BigEndian.Uint64(body))
	case extType == nativeTimestampExtType:
		if ts, ok := decodeNativeTimestamp(body); ok {
			return ts
		}
	}
	return Ext{Type: extType, Data: body}
}

// decodeNativeTimestamp handles the 32, 64 and 96 bit layouts of MessagePack's
// timestamp extension.
func decodeNativeTimestamp(body []byte) (Timestamp, bool) {
	switch len(body) {
	case 4:
		return Timestamp{Seconds: int64(binary.BigEndian.Uint32(body))}, true
	case 8:
		v := binary.BigEndian.Uint64(body)
		return Timestamp{Seconds: int64(v & 0x3ffffffff), Nanos: uint32(v >> 34)}, true
	case 12:
		return Timestamp{
			Seconds: int64(binary.BigEndian.Uint64(body[4:])),
			Nanos:   binary.BigEndian.Uint32(body[:4]),
		}, true
	}
	return Timestamp{}, false
}
