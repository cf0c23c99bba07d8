// Package mocks provides an in-process Socket.IO server speaking the MessagePack
// parser over Engine.IO v4 websockets.
package mocks

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"

	"github.com/alejoacosta74/skinport-go/pkg/packet"
	"github.com/gorilla/websocket"
)

// ConnectMode selects how the server answers the Socket.IO CONNECT packet.
type ConnectMode int

const (
	ConnectAccept ConnectMode = iota
	ConnectReject
	ConnectIgnore
)

// ServerOption configures a MockSocketIOServer.
type ServerOption func(*MockSocketIOServer)

// WithPing sets the pingInterval and pingTimeout announced in the open packet,
// in milliseconds.
func WithPing(intervalMs, timeoutMs int64) ServerOption {
	return func(m *MockSocketIOServer) {
		m.pingInterval = intervalMs
		m.pingTimeout = timeoutMs
	}
}

func WithConnectMode(mode ConnectMode) ServerOption {
	return func(m *MockSocketIOServer) {
		m.connectMode = mode
	}
}

// WithoutJoinAck makes the server ignore the ack ids of saleFeedJoin events.
func WithoutJoinAck() ServerOption {
	return func(m *MockSocketIOServer) {
		m.ackJoins = false
	}
}

// MockSocketIOServer represents a mock Socket.IO server for testing
type MockSocketIOServer struct {
	Server *httptest.Server

	pingInterval int64
	pingTimeout  int64
	connectMode  ConnectMode
	ackJoins     bool

	mu        sync.Mutex
	conns     []*serverConn
	served    int
	accepted  int
	joins     []any
	packets   []packet.Packet
	pongs     int
	afterJoin []packet.Packet
	upgrader  websocket.Upgrader
}

type serverConn struct {
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *serverConn) write(kind int, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteMessage(kind, data)
}

func (c *serverConn) writePacket(p packet.Packet) error {
	b, err := packet.Encode(p)
	if err != nil {
		return err
	}
	return c.write(websocket.BinaryMessage, b)
}

// NewMockSocketIOServer creates and starts a new mock server
func NewMockSocketIOServer(opts ...ServerOption) *MockSocketIOServer {
	m := &MockSocketIOServer{
		pingInterval: 25000,
		pingTimeout:  20000,
		ackJoins:     true,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
	}
	for _, opt := range opts {
		opt(m)
	}
	m.Server = httptest.NewServer(http.HandlerFunc(m.handleWebSocket))
	return m
}

// URL returns the ws:// endpoint including the Engine.IO query.
func (m *MockSocketIOServer) URL() string {
	return "ws" + strings.TrimPrefix(m.Server.URL, "http") + "/socket.io/?EIO=4&transport=websocket"
}

func (m *MockSocketIOServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	ws, err := m.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := &serverConn{ws: ws}

	m.mu.Lock()
	m.conns = append(m.conns, conn)
	m.served++
	sid := fmt.Sprintf("sid-%d", m.served)
	open, _ := json.Marshal(map[string]any{
		"sid":          sid,
		"upgrades":     []string{},
		"pingInterval": m.pingInterval,
		"pingTimeout":  m.pingTimeout,
		"maxPayload":   1000000,
	})
	m.mu.Unlock()

	if err := conn.write(websocket.TextMessage, append([]byte{'0'}, open...)); err != nil {
		ws.Close()
		return
	}
	go m.readMessages(conn, sid)
}

func (m *MockSocketIOServer) readMessages(conn *serverConn, sid string) {
	defer m.remove(conn)
	for {
		kind, data, err := conn.ws.ReadMessage()
		if err != nil {
			return
		}
		if kind == websocket.TextMessage {
			if len(data) > 0 && data[0] == '3' {
				m.mu.Lock()
				m.pongs++
				m.mu.Unlock()
			}
			if len(data) > 0 && data[0] == '1' {
				return
			}
			continue
		}

		p, err := packet.Decode(data)
		if err != nil {
			continue
		}
		m.mu.Lock()
		m.packets = append(m.packets, p)
		m.mu.Unlock()

		if err := m.handlePacket(conn, sid, p); err != nil {
			return
		}
	}
}

func (m *MockSocketIOServer) handlePacket(conn *serverConn, sid string, p packet.Packet) error {
	switch p.Type {
	case packet.Connect:
		switch m.connectMode {
		case ConnectAccept:
			m.mu.Lock()
			m.accepted++
			m.mu.Unlock()
			return conn.writePacket(packet.Packet{Type: packet.Connect, Namespace: p.Namespace, Data: map[string]any{"sid": sid}})
		case ConnectReject:
			return conn.writePacket(packet.Packet{Type: packet.ConnectError, Namespace: p.Namespace, Data: map[string]any{"message": "Not authorized"}})
		}

	case packet.Event:
		name, args, ok := p.EventName()
		if !ok || name != "saleFeedJoin" {
			return nil
		}
		var arg any
		if len(args) > 0 {
			arg = args[0]
		}
		m.mu.Lock()
		m.joins = append(m.joins, arg)
		queued := append([]packet.Packet(nil), m.afterJoin...)
		m.mu.Unlock()

		if m.ackJoins && p.ID != nil {
			if err := conn.writePacket(packet.Packet{Type: packet.Ack, Namespace: p.Namespace, ID: p.ID, Data: []any{}}); err != nil {
				return err
			}
		}
		for _, q := range queued {
			if err := conn.writePacket(q); err != nil {
				return err
			}
		}
	}
	return nil
}

// QueueAfterJoin adds a packet sent right after every saleFeedJoin.
func (m *MockSocketIOServer) QueueAfterJoin(p packet.Packet) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.afterJoin = append(m.afterJoin, p)
}

// Emit sends an EVENT [name, args...] to every open connection.
func (m *MockSocketIOServer) Emit(name string, args ...any) error {
	return m.broadcast(packet.NewEvent(name, args...))
}

// EmitWithID sends an EVENT that requests an acknowledgement.
func (m *MockSocketIOServer) EmitWithID(id uint64, name string, args ...any) error {
	return m.broadcast(packet.NewEvent(name, args...).WithID(id))
}

func (m *MockSocketIOServer) broadcast(p packet.Packet) error {
	for _, c := range m.openConns() {
		if err := c.writePacket(p); err != nil {
			return err
		}
	}
	return nil
}

// SendPing sends an Engine.IO ping to every open connection.
func (m *MockSocketIOServer) SendPing() error {
	for _, c := range m.openConns() {
		if err := c.write(websocket.TextMessage, []byte{'2'}); err != nil {
			return err
		}
	}
	return nil
}

// DropConnections closes every socket without a close handshake.
func (m *MockSocketIOServer) DropConnections() {
	for _, c := range m.openConns() {
		c.ws.Close()
	}
}

func (m *MockSocketIOServer) remove(conn *serverConn) {
	conn.ws.Close()
	m.mu.Lock()
	defer m.mu.Unlock()
	for i, c := range m.conns {
		if c == conn {
			m.conns = append(m.conns[:i], m.conns[i+1:]...)
			return
		}
	}
}

func (m *MockSocketIOServer) openConns() []*serverConn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*serverConn(nil), m.conns...)
}

// Connections returns the number of websocket upgrades served.
func (m *MockSocketIOServer) Connections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.served
}

// OpenConnections returns the number of sockets still open.
func (m *MockSocketIOServer) OpenConnections() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.conns)
}

// Accepted returns the number of Socket.IO CONNECT packets accepted.
func (m *MockSocketIOServer) Accepted() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.accepted
}

// Joins returns the payloads of all saleFeedJoin events received.
func (m *MockSocketIOServer) Joins() []any {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]any(nil), m.joins...)
}

// Packets returns every Socket.IO packet received from clients.
func (m *MockSocketIOServer) Packets() []packet.Packet {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]packet.Packet(nil), m.packets...)
}

// PacketsOfType filters Packets by type.
func (m *MockSocketIOServer) PacketsOfType(t packet.Type) []packet.Packet {
	var out []packet.Packet
	for _, p := range m.Packets() {
		if p.Type == t {
			out = append(out, p)
		}
	}
	return out
}

// Pongs returns the number of Engine.IO pongs received.
func (m *MockSocketIOServer) Pongs() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pongs
}

// Close shuts down the mock server and closes all connections
func (m *MockSocketIOServer) Close() {
	m.DropConnections()
	m.Server.Close()
}
