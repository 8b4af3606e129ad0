package ws

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/lyehe/porterminal/internal/logger"
	"github.com/lyehe/porterminal/internal/session"
)

const (
	// heartbeatInterval paces server pings. The client answers with pongs,
	// but the receive timeout below is the sole liveness check.
	heartbeatInterval = 30 * time.Second
	// receiveTimeout is how long the socket pump waits for any inbound
	// frame. Five minutes allows for a client that is only reading output.
	receiveTimeout = 300 * time.Second

	maxInputSize  = 4096
	readChunkSize = 4096
	// pollInterval paces PTY reads at ~120Hz, balancing latency and CPU.
	pollInterval = 8 * time.Millisecond

	// DefaultCols and DefaultRows apply when the client omits geometry.
	DefaultCols = 120
	DefaultRows = 30
)

// replayPrefix clears the screen and homes the cursor before a replay, so
// stale cursor positioning from TUI apps cannot smear the snapshot.
var replayPrefix = []byte("\x1b[2J\x1b[H")

// Handler runs the protocol state machine for live connections. One Handler
// serves all connections; per-connection state lives in Handle.
type Handler struct {
	Registry   *session.Registry
	Dispatcher *Dispatcher
	// LogRaw echoes raw input bytes into the log. Debugging aid, off by
	// default since it records everything typed.
	LogRaw bool
}

// Handle drives one connection: session_info, replay, then three pumps until
// the first of them exits. Teardown marks the session disconnected; it is
// never destroyed here, so the client can reconnect.
func (h *Handler) Handle(ctx context.Context, conn *websocket.Conn, sess *session.Session, skipReplay bool) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	w := NewConnWriter(conn)
	out := NewOutputBuffer(w)
	mctx := &Context{
		Writer:   w,
		Session:  sess,
		Limiter:  NewRateLimiter(DefaultRate, DefaultBurst),
		MaxInput: maxInputSize,
		LogRaw:   h.LogRaw,
	}

	logger.Info("websocket session start",
		"session_id", sess.ID, "user_id", sess.UserID, "shell_id", sess.ShellID)

	if err := w.WriteJSON(SessionInfo{Type: TypeSessionInfo, SessionID: sess.ID, ShellID: sess.ShellID}); err != nil {
		logger.Warn("session_info send failed", "session_id", sess.ID, "error", err)
	}

	if skipReplay {
		logger.Info("skipping buffer replay", "session_id", sess.ID)
	} else if snap := sess.Buffer.Snapshot(); len(snap) > 0 {
		logger.Info("replaying buffered output", "session_id", sess.ID, "bytes", len(snap))
		if err := w.WriteBinary(replayPrefix); err == nil {
			_ = w.WriteBinary(snap)
		}
	}

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer cancel()
		h.pumpSocket(ctx, conn, mctx)
	}()
	go func() {
		defer wg.Done()
		h.heartbeat(ctx, sess, w)
	}()

	ptyErr := h.pumpPTY(ctx, conn, sess, out)

	out.Close()
	if ptyErr != nil {
		// The shell is gone. The trailing output is flushed above, and a
		// clean close lets the client render it instead of reconnecting.
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
	cancel()
	wg.Wait()
	h.Registry.Disconnect(sess.ID, conn)
	logger.Info("websocket session end", "session_id", sess.ID)
}

// pumpPTY moves shell output to the client: read, buffer for replay, hand to
// the output batcher. It returns the PTY read error once the terminal is
// gone, or nil when the context ended or another connection claimed the
// session first.
func (h *Handler) pumpPTY(ctx context.Context, conn *websocket.Conn, sess *session.Session, out *OutputBuffer) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		if !sess.BoundTo(conn) {
			logger.Debug("output pump stopped, socket superseded", "session_id", sess.ID)
			return nil
		}

		data, err := sess.PTY.Read(readChunkSize)
		if len(data) > 0 {
			sess.Buffer.Append(data)
			out.Write(data)
			sess.Touch()
		}
		if err != nil {
			if errors.Is(err, io.EOF) {
				logger.Info("pty closed", "session_id", sess.ID)
			} else {
				logger.Error("pty read failed", "session_id", sess.ID, "error", err)
			}
			return err
		}
	}
}

// pumpSocket reads inbound frames. Binary frames are keystrokes; text frames
// are dispatched control messages. The receive timeout doubles as the
// heartbeat liveness check.
func (h *Handler) pumpSocket(ctx context.Context, conn *websocket.Conn, mctx *Context) {
	sess := mctx.Session
	for {
		readCtx, cancel := context.WithTimeout(ctx, receiveTimeout)
		typ, data, err := conn.Read(readCtx)
		cancel()
		if err != nil {
			switch {
			case ctx.Err() != nil:
				logger.Debug("receive loop cancelled", "session_id", sess.ID)
			case errors.Is(err, context.DeadlineExceeded):
				logger.Warn("heartbeat timeout", "session_id", sess.ID)
			case websocket.CloseStatus(err) != -1:
				logger.Info("client disconnected",
					"session_id", sess.ID, "code", websocket.CloseStatus(err))
			default:
				logger.Info("client connection lost", "session_id", sess.ID, "error", err)
			}
			return
		}

		switch typ {
		case websocket.MessageBinary:
			if mctx.LogRaw {
				logger.Info("input received", "session_id", sess.ID, "data", fmt.Sprintf("%q", data))
			} else {
				logger.Debug("input received", "session_id", sess.ID, "bytes", len(data))
			}
			writeInput(mctx, data)
		case websocket.MessageText:
			h.Dispatcher.Dispatch(mctx, data)
		}
	}
}

func (h *Handler) heartbeat(ctx context.Context, sess *session.Session, w Writer) {
	ticker := time.NewTicker(heartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.WriteJSON(PingMsg{Type: TypePing}); err != nil {
				logger.Debug("ping send failed", "session_id", sess.ID, "error", err)
				return
			}
		}
	}
}
