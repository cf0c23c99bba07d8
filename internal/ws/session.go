package ws

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"time"

	"github.com/alejoacosta74/skinport-go/internal/common"
	"github.com/alejoacosta74/skinport-go/pkg/packet"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	eiopacket "github.com/zishang520/engine.io-go-parser/packet"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// session is one websocket link: Engine.IO open, Socket.IO CONNECT, the feed
// joins and the frame loop. It lives for a single Client.runSession call.
type session struct {
	client     *Client
	dispatcher Dispatcher
	joins      []JoinParams
	id         string
	logger     *logrus.Entry

	conn      *websocket.Conn
	handshake handshake
	writer    *Writer
	reader    *Reader
	stopChan  chan struct{}
	frames    chan frame
	readErr   chan error
	writeErr  chan error

	nextID   uint64
	pending  map[uint64]JoinParams
	joinSpan trace.Span
}

func newSession(c *Client, d Dispatcher, joins []JoinParams) *session {
	id := uuid.NewString()
	return &session{
		client:     c,
		dispatcher: d,
		joins:      joins,
		id:         id,
		logger:     c.logger.WithField("session", id),
		stopChan:   make(chan struct{}),
		frames:     make(chan frame, 100),
		readErr:    make(chan error, 1),
		writeErr:   make(chan error, 1),
		pending:    make(map[uint64]JoinParams),
	}
}

// run returns whether the Socket.IO handshake completed, and the reason the
// session ended. A cancelled ctx ends the session gracefully.
func (s *session) run(ctx context.Context) (bool, error) {
	if err := s.open(ctx); err != nil {
		if s.conn != nil {
			s.conn.Close()
		}
		return false, err
	}

	epoch := s.client.established(s.id)
	s.logger = s.logger.WithField("epoch", epoch)
	s.logger.WithField("sid", s.handshake.SID).Debug("Socket.IO namespace connected")

	s.startPumps()
	err := s.loop(ctx)
	s.teardown(ctx.Err() != nil)
	return true, err
}

// open dials and completes the Engine.IO and Socket.IO handshakes within the
// connect timeout.
func (s *session) open(ctx context.Context) error {
	c := s.client
	connectCtx, cancel := context.WithTimeout(ctx, c.connectTimeout)
	defer cancel()

	dialCtx, span := c.tracer.Start(connectCtx, "ws.dial",
		trace.WithAttributes(attribute.String("ws.url", c.url)))
	defer span.End()

	s.logger.WithField("url", c.url).Debug("Dialing feed endpoint")
	conn, resp, err := c.dialer.DialContext(dialCtx, c.url, c.header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "dial failed")
		return s.connectErr(ctx, connectCtx, fmt.Errorf("dial failed: %w", err))
	}
	s.conn = conn

	// Unblock reads if the connect deadline or ctx ends first.
	stop := context.AfterFunc(connectCtx, func() { conn.Close() })
	defer stop()
	s.writer = NewWriter(conn, s.writeErr, c.writeTimeout)

	_, msg, err := conn.ReadMessage()
	if err != nil {
		return s.connectErr(ctx, connectCtx, fmt.Errorf("failed to read engine.io open: %w", err))
	}
	h, err := parseOpen(msg)
	if err != nil {
		return err
	}
	s.handshake = h
	span.SetAttributes(attribute.String("engineio.sid", h.SID))

	connectPkt, err := packet.Encode(packet.Packet{Type: packet.Connect, Namespace: packet.DefaultNamespace})
	if err != nil {
		return err
	}
	if err := s.writer.WriteNow(websocket.BinaryMessage, connectPkt); err != nil {
		return s.connectErr(ctx, connectCtx, fmt.Errorf("failed to send connect: %w", err))
	}

	for {
		kind, data, err := conn.ReadMessage()
		if err != nil {
			return s.connectErr(ctx, connectCtx, fmt.Errorf("failed waiting for connect: %w", err))
		}
		p, ok, err := s.handleEngineFrame(frame{kind: kind, data: data}, true)
		if err != nil {
			return err
		}
		if !ok {
			continue
		}
		switch p.Type {
		case packet.Connect:
			if !stop() {
				return s.connectErr(ctx, connectCtx, errConnectTimeout)
			}
			return nil
		case packet.ConnectError:
			span.SetStatus(codes.Error, "connect rejected")
			return fmt.Errorf("%w: %v", ErrConnectRejected, p.Data)
		default:
			s.logger.WithField("type", p.Type).Debug("Ignoring packet before connect")
		}
	}
}

// connectErr classifies a handshake failure: the connect deadline wins over
// whatever read or dial error it caused, and socket timeouts count as the
// connect deadline.
func (s *session) connectErr(ctx, connectCtx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(connectCtx.Err(), context.DeadlineExceeded) || isTimeout(err) {
		return fmt.Errorf("%w after %s: %v", errConnectTimeout, s.client.connectTimeout, err)
	}
	return err
}

func isTimeout(err error) bool {
	if errors.Is(err, os.ErrDeadlineExceeded) || errors.Is(err, errConnectTimeout) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

func (s *session) startPumps() {
	s.reader = NewReader(s.conn, s.frames, s.readErr, s.stopChan, s.handshake.liveness())
	go s.reader.Run()
	go s.writer.Run()
}

// loop sends the joins and processes frames until the link ends.
func (s *session) loop(ctx context.Context) error {
	_, s.joinSpan = s.client.tracer.Start(ctx, "ws.join",
		trace.WithAttributes(attribute.Int("skinport.joins", len(s.joins))))
	defer s.endJoin(nil)

	if err := s.sendJoins(); err != nil {
		return err
	}

	joinTimer := time.NewTimer(s.client.joinTimeout)
	defer joinTimer.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Debug("Session cancelled")
			return nil

		case err := <-s.readErr:
			return fmt.Errorf("read failed: %w", err)

		case err := <-s.writeErr:
			return fmt.Errorf("write failed: %w", err)

		case err := <-s.dispatcher.Errors():
			return fmt.Errorf("handler failed: %w", err)

		case <-joinTimer.C:
			if s.client.markLive() {
				s.logger.WithField("pending", len(s.pending)).Warn("Join not acknowledged in time, assuming live")
				s.endJoin(errors.New("join timeout"))
			}

		case f := <-s.frames:
			p, ok, err := s.handleEngineFrame(f, false)
			if err != nil {
				return err
			}
			if ok {
				if err := s.handlePacket(p); err != nil {
					return err
				}
			}
		}
	}
}

func (s *session) sendJoins() error {
	for _, j := range s.joins {
		id := s.nextID
		s.nextID++
		b, err := packet.Encode(packet.NewEvent(string(common.ChannelSaleFeedJoin), j.Payload()).WithID(id))
		if err != nil {
			return fmt.Errorf("failed to encode join: %w", err)
		}
		s.pending[id] = j
		if err := s.writer.Write(websocket.BinaryMessage, b); err != nil {
			return fmt.Errorf("failed to send join: %w", err)
		}
		s.logger.WithFields(logrus.Fields{
			"appid":    j.AppID,
			"currency": j.Currency,
			"locale":   j.Locale,
			"ack_id":   id,
		}).Debug("Sent sale feed join")
	}
	return nil
}

// handleEngineFrame answers Engine.IO control packets and decodes binary
// frames into Socket.IO packets. direct is set before the writer runs.
func (s *session) handleEngineFrame(f frame, direct bool) (packet.Packet, bool, error) {
	if f.kind == websocket.BinaryMessage {
		p, err := packet.Decode(f.data)
		if err != nil {
			s.logger.WithError(err).Warn("Dropping undecodable frame")
			return packet.Packet{}, false, nil
		}
		return p, true, nil
	}
	if len(f.data) == 0 {
		return packet.Packet{}, false, nil
	}

	t, data, err := decodeEngine(f.data)
	if err != nil {
		s.logger.WithError(err).Debug("Dropping text frame")
		return packet.Packet{}, false, nil
	}
	switch t {
	case eiopacket.PING:
		s.logger.Trace("Ping")
		pong, err := encodeEngine(eiopacket.PONG, data)
		if err != nil {
			return packet.Packet{}, false, err
		}
		if direct {
			err = s.writer.WriteNow(websocket.TextMessage, pong)
		} else {
			err = s.writer.Write(websocket.TextMessage, pong)
		}
		if err != nil {
			return packet.Packet{}, false, fmt.Errorf("failed to send pong: %w", err)
		}
	case eiopacket.CLOSE:
		return packet.Packet{}, false, errors.New("server closed the engine.io session")
	case eiopacket.NOOP, eiopacket.PONG, eiopacket.UPGRADE:
	case eiopacket.MESSAGE:
		s.logger.WithField("size", len(data)).Debug("Ignoring text message")
	default:
		s.logger.WithField("type", t).Debug("Unexpected engine.io packet")
	}
	return packet.Packet{}, false, nil
}

func (s *session) handlePacket(p packet.Packet) error {
	switch p.Type {
	case packet.Event, packet.BinaryEvent:
		name, args, ok := p.EventName()
		if !ok {
			s.logger.Debug("Dropping event without a name")
			return nil
		}
		if s.client.markLive() {
			s.logger.Debug("Feed live on first event")
			s.endJoin(nil)
		}
		s.logger.WithField("channel", name).Trace("Event received")
		s.dispatcher.Dispatch(name, eventPayload(args))

		if p.ID != nil {
			ack, err := packet.Encode(packet.Packet{Type: packet.Ack, Namespace: p.Namespace, ID: p.ID, Data: []any{}})
			if err != nil {
				return err
			}
			if err := s.writer.Write(websocket.BinaryMessage, ack); err != nil {
				return fmt.Errorf("failed to ack event: %w", err)
			}
		}

	case packet.Ack, packet.BinaryAck:
		if p.ID == nil {
			return nil
		}
		if _, ok := s.pending[*p.ID]; !ok {
			s.logger.WithField("ack_id", *p.ID).Debug("Unexpected ack")
			return nil
		}
		delete(s.pending, *p.ID)
		if len(s.pending) == 0 && s.client.markLive() {
			s.logger.Debug("Sale feed joined")
			s.endJoin(nil)
		}

	case packet.Disconnect:
		return errors.New("server disconnected the namespace")

	case packet.ConnectError:
		return fmt.Errorf("%w: %v", ErrConnectRejected, p.Data)

	case packet.Connect:
		s.logger.Debug("Duplicate connect packet")
	}
	return nil
}

func (s *session) endJoin(err error) {
	if s.joinSpan == nil {
		return
	}
	if err != nil {
		s.joinSpan.RecordError(err)
	}
	s.joinSpan.End()
	s.joinSpan = nil
}

// teardown stops the pumps and closes the socket. A graceful teardown says
// goodbye on all three protocol layers first.
func (s *session) teardown(graceful bool) {
	close(s.stopChan)
	s.writer.Stop()

	if graceful {
		if b, err := packet.Encode(packet.Packet{Type: packet.Disconnect, Namespace: packet.DefaultNamespace}); err == nil {
			_ = s.writer.WriteNow(websocket.BinaryMessage, b)
		}
		if b, err := encodeEngine(eiopacket.CLOSE, nil); err == nil {
			_ = s.writer.WriteNow(websocket.TextMessage, b)
		}
		_ = s.writer.WriteNow(websocket.CloseMessage, closeFrame())
	}
	s.conn.Close()
	<-s.reader.Done()
	s.logger.WithField("graceful", graceful).Debug("Session closed")
}

// eventPayload flattens the argument list of an event: no argument is nil and a
// single argument is passed as is.
func eventPayload(args []any) any {
	switch len(args) {
	case 0:
		return nil
	case 1:
		return args[0]
	}
	return args
}
