package ws

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

var errWriterStopped = errors.New("writer stopped")

// Writer serializes all writes to a WebSocket connection. Frames queued with
// Write are sent by Run in order; WriteNow bypasses the queue.
type Writer struct {
	conn         *websocket.Conn
	writeChan    chan frame
	errChan      chan<- error
	stopChan     chan struct{}
	doneChan     chan struct{}
	stopOnce     sync.Once
	writeTimeout time.Duration
	mutex        sync.Mutex
	logger       *logrus.Entry
}

// NewWriter creates a writer with a buffered queue of 100 frames.
func NewWriter(conn *websocket.Conn, errChan chan<- error, writeTimeout time.Duration) *Writer {
	return &Writer{
		conn:         conn,
		writeChan:    make(chan frame, 100),
		errChan:      errChan,
		stopChan:     make(chan struct{}),
		doneChan:     make(chan struct{}),
		writeTimeout: writeTimeout,
		logger:       logrus.WithField("component", "ws_writer"),
	}
}

// Run sends queued frames until Stop is called, then flushes what is left in
// the queue. The first write error is reported on errChan and ends the loop.
func (w *Writer) Run() {
	w.logger.Trace("Starting writer")
	defer close(w.doneChan)

	for {
		select {
		case <-w.stopChan:
			w.flush()
			return
		case f := <-w.writeChan:
			if err := w.WriteNow(f.kind, f.data); err != nil {
				w.logger.WithError(err).Debug("Error writing to WebSocket")
				select {
				case w.errChan <- err:
				default:
				}
				return
			}
		}
	}
}

// Write queues a frame. It fails once the writer has been stopped or Run
// has returned.
func (w *Writer) Write(kind int, data []byte) error {
	select {
	case <-w.stopChan:
		return errWriterStopped
	default:
	}
	select {
	case w.writeChan <- frame{kind: kind, data: data}:
		return nil
	case <-w.stopChan:
		return errWriterStopped
	case <-w.doneChan:
		return errWriterStopped
	}
}

// WriteNow writes a frame directly, holding the write lock.
func (w *Writer) WriteNow(kind int, data []byte) error {
	w.mutex.Lock()
	defer w.mutex.Unlock()

	if w.writeTimeout > 0 {
		_ = w.conn.SetWriteDeadline(time.Now().Add(w.writeTimeout))
	}
	return w.conn.WriteMessage(kind, data)
}

// Stop ends Run and waits for it to flush. Run must have been started.
func (w *Writer) Stop() {
	w.stopOnce.Do(func() { close(w.stopChan) })
	<-w.doneChan
}

func (w *Writer) flush() {
	for {
		select {
		case f := <-w.writeChan:
			if err := w.WriteNow(f.kind, f.data); err != nil {
				w.logger.WithError(err).Debug("Dropping pending frames")
				return
			}
		default:
			return
		}
	}
}

func closeFrame() []byte {
	return websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
}
