package ws

import (
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// frame is one websocket message: its gorilla message type and body.
type frame struct {
	kind int
	data []byte
}

// Reader handles reading frames from a WebSocket connection.
// It runs in its own goroutine and forwards frames to the session loop.
type Reader struct {
	conn      *websocket.Conn
	frameChan chan<- frame
	errChan   chan<- error
	stopChan  <-chan struct{}
	doneChan  chan struct{}
	liveness  time.Duration
	logger    *logrus.Entry
}

// NewReader creates a reader. Every received frame pushes the read deadline
// liveness into the future; zero disables the deadline.
func NewReader(conn *websocket.Conn, frameChan chan<- frame, errChan chan<- error, stopChan <-chan struct{}, liveness time.Duration) *Reader {
	return &Reader{
		conn:      conn,
		frameChan: frameChan,
		errChan:   errChan,
		stopChan:  stopChan,
		doneChan:  make(chan struct{}),
		liveness:  liveness,
		logger:    logrus.WithField("component", "ws_reader"),
	}
}

// Run reads until the connection fails or the reader is stopped. Read errors
// are reported once on errChan.
func (r *Reader) Run() {
	defer close(r.doneChan)
	r.logger.Trace("Starting reader")

	for {
		if r.liveness > 0 {
			_ = r.conn.SetReadDeadline(time.Now().Add(r.liveness))
		}
		kind, data, err := r.conn.ReadMessage()
		if err != nil {
			select {
			case r.errChan <- err:
			case <-r.stopChan:
			}
			return
		}

		select {
		case r.frameChan <- frame{kind: kind, data: data}:
		case <-r.stopChan:
			return
		}
	}
}

// Done is closed when Run returns.
func (r *Reader) Done() <-chan struct{} {
	return r.doneChan
}
