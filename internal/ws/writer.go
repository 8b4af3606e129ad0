package ws

import (
	"context"
	"encoding/json"
	"time"

	"github.com/coder/websocket"
)

const writeTimeout = 10 * time.Second

// Writer is the send side of one connection. Implementations must be safe
// for concurrent use: the output pump, the heartbeat and error replies all
// write through it.
type Writer interface {
	WriteBinary(data []byte) error
	WriteJSON(v any) error
}

type connWriter struct {
	conn *websocket.Conn
}

// NewConnWriter wraps a websocket connection with per-frame write deadlines.
// The deadlines run off a fresh context so the final teardown flush still
// goes out after the connection context is cancelled.
func NewConnWriter(conn *websocket.Conn) Writer {
	return &connWriter{conn: conn}
}

func (w *connWriter) WriteBinary(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return w.conn.Write(ctx, websocket.MessageBinary, data)
}

func (w *connWriter) WriteJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
	defer cancel()
	return w.conn.Write(ctx, websocket.MessageText, data)
}
