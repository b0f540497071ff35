package transport

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// Upgrader is the shared gorilla/websocket upgrader used by the HTTP API's
// /ws/{client_id} handler. Origin checking is deliberately permissive
// here; callers fronting this with a browser client are expected to
// enforce their own CORS/origin policy at the reverse proxy.
var Upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// WebSocketWriteTimeout bounds how long a single frame write may take
// before the connection is considered dead.
const WebSocketWriteTimeout = 10 * time.Second

// websocketSink adapts a *websocket.Conn to the Sink interface consumed by
// Manager's subscriber send loop.
type websocketSink struct {
	conn *websocket.Conn
}

// NewWebSocketSink wraps conn as a Sink. conn must not be written to or
// closed by any other goroutine once passed here.
func NewWebSocketSink(conn *websocket.Conn) Sink {
	return &websocketSink{conn: conn}
}

func (w *websocketSink) Write(ctx context.Context, frame []byte) error {
	deadline := time.Now().Add(WebSocketWriteTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := w.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return w.conn.WriteMessage(websocket.TextMessage, frame)
}

func (w *websocketSink) Close() error {
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	return w.conn.Close()
}

// ReadClientMessages reads control messages from conn (subscribe/filter
// requests) until the connection closes or ctx is cancelled, dispatching
// each parsed message to onMessage. It runs in its own goroutine alongside
// the subscriber's send loop, since gorilla/websocket requires reads and
// writes to happen from different goroutines than each other but not
// concurrently with themselves.
func ReadClientMessages(ctx context.Context, conn *websocket.Conn, onMessage func(raw []byte)) {
	for {
		if ctx.Err() != nil {
			return
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return
		}
		onMessage(data)
	}
}
