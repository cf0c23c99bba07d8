package ws

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	eiopacket "github.com/zishang520/engine.io-go-parser/packet"
	eioparser "github.com/zishang520/engine.io-go-parser/parser"
	"github.com/zishang520/engine.io-go-parser/types"
)

// DefaultURL is the Skinport real-time endpoint, WebSocket transport only.
const DefaultURL = "wss://skinport.com/socket.io/?EIO=4&transport=websocket"

// Text frames carry Engine.IO v4 packets. Binary frames carry a Socket.IO
// packet without any Engine.IO prefix and never go through the parser.
var engineParser = eioparser.Parserv4()

// handshake is the payload of the Engine.IO open packet.
type handshake struct {
	SID          string   `json:"sid"`
	Upgrades     []string `json:"upgrades"`
	PingInterval int64    `json:"pingInterval"`
	PingTimeout  int64    `json:"pingTimeout"`
	MaxPayload   int64    `json:"maxPayload"`
}

// liveness is how long the link may stay silent before it is considered dead.
func (h handshake) liveness() time.Duration {
	return time.Duration(h.PingInterval+h.PingTimeout) * time.Millisecond
}

// decodeEngine parses a text frame and returns the packet type and its data.
func decodeEngine(msg []byte) (eiopacket.Type, []byte, error) {
	p, err := engineParser.DecodePacket(types.NewStringBuffer(msg))
	if err != nil {
		return eiopacket.ERROR, nil, fmt.Errorf("invalid engine.io packet %q: %w", truncate(msg, 16), err)
	}
	if p.Data == nil {
		return p.Type, nil, nil
	}
	data, err := io.ReadAll(p.Data)
	if err != nil {
		return p.Type, nil, fmt.Errorf("failed to read engine.io %s data: %w", p.Type, err)
	}
	return p.Type, data, nil
}

// encodeEngine builds the text frame of a control packet.
func encodeEngine(t eiopacket.Type, data []byte) ([]byte, error) {
	p := &eiopacket.Packet{Type: t}
	if len(data) > 0 {
		p.Data = types.NewStringBuffer(data)
	}
	buf, err := engineParser.EncodePacket(p, false)
	if err != nil {
		return nil, fmt.Errorf("failed to encode engine.io %s: %w", t, err)
	}
	return buf.Bytes(), nil
}

func parseOpen(msg []byte) (handshake, error) {
	var h handshake
	t, data, err := decodeEngine(msg)
	if err != nil {
		return h, err
	}
	if t != eiopacket.OPEN {
		return h, fmt.Errorf("expected engine.io open packet, got %s", t)
	}
	if err := json.Unmarshal(data, &h); err != nil {
		return h, fmt.Errorf("failed to parse engine.io handshake: %w", err)
	}
	if h.SID == "" {
		return h, fmt.Errorf("engine.io handshake without sid")
	}
	if h.PingInterval <= 0 || h.PingTimeout <= 0 {
		return h, fmt.Errorf("engine.io handshake with invalid ping settings %d/%d", h.PingInterval, h.PingTimeout)
	}
	return h, nil
}

func truncate(b []byte, n int) []byte {
	if len(b) > n {
		return b[:n]
	}
	return b
}
