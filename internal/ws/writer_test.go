package ws

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// closedConn returns a client connection whose socket is already closed, so
// every write fails.
func closedConn(t *testing.T) *websocket.Conn {
	t.Helper()
	upgrader := websocket.Upgrader{}
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	t.Cleanup(server.Close)

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(server.URL, "http"), nil)
	require.NoError(t, err)
	require.NoError(t, conn.Close())
	return conn
}

func TestWriter_WriteAfterRunExited(t *testing.T) {
	errChan := make(chan error, 1)
	w := NewWriter(closedConn(t), errChan, time.Second)
	go w.Run()

	require.NoError(t, w.Write(websocket.TextMessage, []byte("2")))
	select {
	case err := <-errChan:
		assert.Error(t, err)
	case <-time.After(waitFor):
		t.Fatal("write error not reported")
	}

	// Nobody drains the queue any more; once it is full Write must still
	// return.
	result := make(chan error, 1)
	go func() {
		for i := 0; i <= cap(w.writeChan); i++ {
			if err := w.Write(websocket.TextMessage, []byte("3")); err != nil {
				result <- err
				return
			}
		}
		result <- nil
	}()

	select {
	case err := <-result:
		assert.ErrorIs(t, err, errWriterStopped)
	case <-time.After(waitFor):
		t.Fatal("Write blocked after Run returned")
	}
	w.Stop()
}
