package packet

import (
	"bytes"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/vmihailenco/msgpack/v5"
	"github.com/vmihailenco/msgpack/v5/msgpcode"
)

// Encode serializes p as a MessagePack map. Keys are written in the fixed order
// type, data, nsp, id and nested maps are written with sorted keys, so the
// output is stable for a given packet.
func Encode(p Packet) ([]byte, error) {
	if !p.Type.Valid() {
		return nil, fmt.Errorf("%w: %d", ErrInvalidType, p.Type)
	}
	nsp := p.Namespace
	if nsp == "" {
		nsp = DefaultNamespace
	}

	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)

	fields := 2
	if p.Data != nil {
		fields++
	}
	if p.ID != nil {
		fields++
	}
	if err := enc.EncodeMapLen(fields); err != nil {
		return nil, err
	}

	if err := enc.EncodeString("type"); err != nil {
		return nil, err
	}
	if err := enc.EncodeUint(uint64(p.Type)); err != nil {
		return nil, err
	}
	if p.Data != nil {
		if err := enc.EncodeString("data"); err != nil {
			return nil, err
		}
		if err := encodeValue(enc, p.Data); err != nil {
			return nil, fmt.Errorf("failed to encode data: %w", err)
		}
	}
	if err := enc.EncodeString("nsp"); err != nil {
		return nil, err
	}
	if err := enc.EncodeString(nsp); err != nil {
		return nil, err
	}
	if p.ID != nil {
		if err := enc.EncodeString("id"); err != nil {
			return nil, err
		}
		if err := enc.EncodeUint(*p.ID); err != nil {
			return nil, err
		}
	}
	return buf.Bytes(), nil
}

func encodeValue(enc *msgpack.Encoder, v any) error {
	switch v := v.(type) {
	case nil:
		return enc.EncodeNil()
	case bool:
		return enc.EncodeBool(v)
	case int:
		return enc.EncodeInt(int64(v))
	case int8:
		return enc.EncodeInt(int64(v))
	case int16:
		return enc.EncodeInt(int64(v))
	case int32:
		return enc.EncodeInt(int64(v))
	case int64:
		return enc.EncodeInt(v)
	case uint:
		return enc.EncodeUint(uint64(v))
	case uint8:
		return enc.EncodeUint(uint64(v))
	case uint16:
		return enc.EncodeUint(uint64(v))
	case uint32:
		return enc.EncodeUint(uint64(v))
	case uint64:
		return enc.EncodeUint(v)
	case float32:
		return enc.EncodeFloat64(float64(v))
	case float64:
		return enc.EncodeFloat64(v)
	case string:
		return enc.EncodeString(v)
	case []byte:
		return enc.EncodeBytes(v)
	case Timestamp:
		return encodeTimestamp(enc, v)
	case time.Time:
		return encodeTimestamp(enc, TimestampFromTime(v))
	case Ext:
		return encodeExt(enc, v.Type, v.Data)
	case []any:
		if err := enc.EncodeArrayLen(len(v)); err != nil {
			return err
		}
		for i, item := range v {
			if err := encodeValue(enc, item); err != nil {
				return fmt.Errorf("index %d: %w", i, err)
			}
		}
		return nil
	case []string:
		if err := enc.EncodeArrayLen(len(v)); err != nil {
			return err
		}
		for _, item := range v {
			if err := enc.EncodeString(item); err != nil {
				return err
			}
		}
		return nil
	case map[string]any:
		keys := sortedKeys(v)
		if err := enc.EncodeMapLen(len(keys)); err != nil {
			return err
		}
		for _, k := range keys {
			if err := enc.EncodeString(k); err != nil {
				return err
			}
			if err := encodeValue(enc, v[k]); err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
		}
		return nil
	case map[string]string:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		if err := enc.EncodeMapLen(len(keys)); err != nil {
			return err
		}
		for _, k := range keys {
			if err := enc.EncodeString(k); err != nil {
				return err
			}
			if err := enc.EncodeString(v[k]); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("%w: %T", ErrUnsupportedValue, v)
}

func encodeTimestamp(enc *msgpack.Encoder, ts Timestamp) error {
	body, err := encodeTimestampBody(ts)
	if err != nil {
		return err
	}
	return encodeExt(enc, TimestampExtType, body)
}

func encodeExt(enc *msgpack.Encoder, extType int8, body []byte) error {
	if err := enc.EncodeExtHeader(extType, len(body)); err != nil {
		return err
	}
	_, err := enc.Writer().Write(body)
	return err
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Decode parses a MessagePack encoded packet. The type and nsp fields are
// required; id and data are optional. Unknown extension values are returned as
// Ext and never cause an error.
func Decode(b []byte) (Packet, error) {
	r := bytes.NewReader(b)
	dec := msgpack.NewDecoder(r)

	n, err := dec.DecodeMapLen()
	if err != nil {
		return Packet{}, fmt.Errorf("failed to decode packet header: %w", err)
	}
	if n < 0 {
		return Packet{}, fmt.Errorf("failed to decode packet header: nil map")
	}

	var (
		p       Packet
		hasType bool
		hasNsp  bool
	)
	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return Packet{}, fmt.Errorf("failed to decode packet key: %w", err)
		}
		switch key {
		case "type":
			t, err := dec.DecodeUint64()
			if err != nil {
				return Packet{}, fmt.Errorf("failed to decode type: %w", err)
			}
			if t > math.MaxUint8 || !Type(t).Valid() {
				return Packet{}, fmt.Errorf("%w: %d", ErrInvalidType, t)
			}
			p.Type = Type(t)
			hasType = true
		case "nsp":
			nsp, err := dec.DecodeString()
			if err != nil {
				return Packet{}, fmt.Errorf("failed to decode nsp: %w", err)
			}
			if nsp == "" {
				return Packet{}, ErrMissingNamespace
			}
			p.Namespace = nsp
			hasNsp = true
		case "id":
			code, err := dec.PeekCode()
			if err != nil {
				return Packet{}, fmt.Errorf("failed to decode id: %w", err)
			}
			if code == msgpcode.Nil {
				if err := dec.DecodeNil(); err != nil {
					return Packet{}, err
				}
				continue
			}
			id, err := dec.DecodeUint64()
			if err != nil {
				return Packet{}, fmt.Errorf("failed to decode id: %w", err)
			}
			p.ID = &id
		case "data":
			data, err := decodeValue(dec, r)
			if err != nil {
				return Packet{}, fmt.Errorf("failed to decode data: %w", err)
			}
			p.Data = data
		default:
			if err := dec.Skip(); err != nil {
				return Packet{}, fmt.Errorf("failed to skip field %q: %w", key, err)
			}
		}
	}

	if !hasType {
		return Packet{}, ErrMissingType
	}
	if !hasNsp {
		return Packet{}, ErrMissingNamespace
	}
	if r.Len() != 0 {
		return Packet{}, fmt.Errorf("packet: %d trailing bytes", r.Len())
	}
	return p, nil
}

// checkLen rejects a length header announcing more than the unread input can
// hold, given the minimum encoded size of one element.
func checkLen(r *bytes.Reader, n, minSize int) error {
	if n > r.Len()/minSize {
		return fmt.Errorf("%w: length %d with %d bytes left", ErrLength, n, r.Len())
	}
	return nil
}

// decodeValue reads one payload value. r is the reader behind dec and bounds
// every length header.
func decodeValue(dec *msgpack.Decoder, r *bytes.Reader) (any, error) {
	c, err := dec.PeekCode()
	if err != nil {
		return nil, err
	}

	switch {
	case c == msgpcode.Nil:
		return nil, dec.DecodeNil()
	case c == msgpcode.False || c == msgpcode.True:
		return dec.DecodeBool()
	case c <= msgpcode.PosFixedNumHigh || c >= msgpcode.NegFixedNumLow,
		c == msgpcode.Int8, c == msgpcode.Int16, c == msgpcode.Int32, c == msgpcode.Int64:
		return dec.DecodeInt64()
	case c == msgpcode.Uint8, c == msgpcode.Uint16, c == msgpcode.Uint32, c == msgpcode.Uint64:
		v, err := dec.DecodeUint64()
		if err != nil {
			return nil, err
		}
		if v > math.MaxInt64 {
			return v, nil
		}
		return int64(v), nil
	case c == msgpcode.Float || c == msgpcode.Double:
		return dec.DecodeFloat64()
	case c >= msgpcode.FixedStrLow && c <= msgpcode.FixedStrHigh,
		c == msgpcode.Str8, c == msgpcode.Str16, c == msgpcode.Str32:
		return dec.DecodeString()
	case c == msgpcode.Bin8, c == msgpcode.Bin16, c == msgpcode.Bin32:
		return dec.DecodeBytes()
	case c >= msgpcode.FixedArrayLow && c <= msgpcode.FixedArrayHigh,
		c == msgpcode.Array16, c == msgpcode.Array32:
		return decodeArray(dec, r)
	case c >= msgpcode.FixedMapLow && c <= msgpcode.FixedMapHigh,
		c == msgpcode.Map16, c == msgpcode.Map32:
		return decodeMap(dec, r)
	case c == msgpcode.FixExt1, c == msgpcode.FixExt2, c == msgpcode.FixExt4,
		c == msgpcode.FixExt8, c == msgpcode.FixExt16,
		c == msgpcode.Ext8, c == msgpcode.Ext16, c == msgpcode.Ext32:
		extType, extLen, err := dec.DecodeExtHeader()
		if err != nil {
			return nil, err
		}
		if err := checkLen(r, extLen, 1); err != nil {
			return nil, err
		}
		body := make([]byte, extLen)
		if err := dec.ReadFull(body); err != nil {
			return nil, err
		}
		return decodeExtValue(extType, body), nil
	}
	return nil, fmt.Errorf("packet: unexpected code 0x%02x", c)
}

func decodeArray(dec *msgpack.Decoder, r *bytes.Reader) (any, error) {
	n, err := dec.DecodeArrayLen()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	if err := checkLen(r, n, 1); err != nil {
		return nil, err
	}
	out := make([]any, n)
	for i := range out {
		if out[i], err = decodeValue(dec, r); err != nil {
			return nil, fmt.Errorf("index %d: %w", i, err)
		}
	}
	return out, nil
}

func decodeMap(dec *msgpack.Decoder, r *bytes.Reader) (any, error) {
	n, err := dec.DecodeMapLen()
	if err != nil {
		return nil, err
	}
	if n < 0 {
		return nil, nil
	}
	if err := checkLen(r, n, 2); err != nil {
		return nil, err
	}
	out := make(map[string]any, n)
	for i := 0; i < n; i++ {
		key, err := dec.DecodeString()
		if err != nil {
			return nil, fmt.Errorf("map key: %w", err)
		}
		if out[key], err = decodeValue(dec, r); err != nil {
			return nil, fmt.Errorf("key %q: %w", key, err)
		}
	}
	return out, nil
}
