package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"chatrelay/internal/service/relay"

	"github.com/gorilla/websocket"
)

var errBinaryFrame = errors.New("binary frames are not supported")

const (
	maxMessageSize = 64 << 10
	writeWait      = 10 * time.Second
)

func newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		// the chat page is served from the same origin
		CheckOrigin: func(r *http.Request) bool { return true },
	}
}

// wsConn adapts a gorilla connection to relay.Conn.
type wsConn struct {
	conn    *websocket.Conn
	writeMu sync.Mutex
}

func newWSConn(conn *websocket.Conn) *wsConn {
	conn.SetReadLimit(maxMessageSize)
	return &wsConn{conn: conn}
}

func (w *wsConn) ReadText(ctx context.Context) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	msgType, data, err := w.conn.ReadMessage()
	if err != nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived) {
			return "", relay.ErrClientClosed
		}
		return "", err
	}
	if msgType != websocket.TextMessage {
		return "", errBinaryFrame
	}
	return string(data), nil
}

func (w *wsConn) WriteText(text string) error {
	w.writeMu.Lock()
	defer w.writeMu.Unlock()
	_ = w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, []byte(text))
}

func (w *wsConn) Close() error {
	w.writeMu.Lock()
	_ = w.conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		time.Now().Add(time.Second))
	w.writeMu.Unlock()
	return w.conn.Close()
}
