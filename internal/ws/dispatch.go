package ws

import (
	"encoding/json"

	"github.com/lyehe/porterminal/internal/logger"
	"github.com/lyehe/porterminal/internal/session"
)

// Context bundles what message handlers need for one connection.
type Context struct {
	Writer   Writer
	Session  *session.Session
	Limiter  *RateLimiter
	MaxInput int
	LogRaw   bool
}

func (c *Context) sendError(msg string) {
	if err := c.Writer.WriteJSON(ErrorMsg{Type: TypeError, Message: msg}); err != nil {
		logger.Debug("error send failed", "session_id", c.Session.ID, "error", err)
	}
}

// HandlerFunc handles one control message. The raw payload is passed so each
// handler unmarshals its own typed struct.
type HandlerFunc func(ctx *Context, data []byte)

// Dispatcher routes control messages by type. The table is built once at
// startup; new message kinds register a handler instead of growing a
// conditional somewhere.
type Dispatcher struct {
	handlers map[string]HandlerFunc
}

// NewDispatcher returns a dispatcher with the built-in resize, pong and
// input handlers registered.
func NewDispatcher() *Dispatcher {
	d := &Dispatcher{handlers: make(map[string]HandlerFunc)}
	d.Register(TypeResize, handleResize)
	d.Register(TypePong, handlePong)
	d.Register(TypeInput, handleInput)
	return d
}

func (d *Dispatcher) Register(msgType string, h HandlerFunc) {
	d.handlers[msgType] = h
}

// Dispatch routes one JSON control frame. Malformed JSON and unknown types
// are logged and dropped, never escalated, so newer clients stay compatible.
func (d *Dispatcher) Dispatch(ctx *Context, data []byte) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		logger.Warn("malformed control message", "session_id", ctx.Session.ID, "error", err)
		return
	}
	h, ok := d.handlers[env.Type]
	if !ok {
		logger.Warn("unknown message type", "session_id", ctx.Session.ID, "type", env.Type)
		return
	}
	h(ctx, data)
}

func handleResize(ctx *Context, data []byte) {
	msg := ResizeMsg{Cols: DefaultCols, Rows: DefaultRows}
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Warn("bad resize message", "session_id", ctx.Session.ID, "error", err)
		return
	}

	pty := ctx.Session.PTY
	if int(pty.Cols()) == msg.Cols && int(pty.Rows()) == msg.Rows {
		logger.Debug("resize skipped, no change",
			"session_id", ctx.Session.ID, "cols", msg.Cols, "rows", msg.Rows)
	} else {
		logger.Info("resize", "session_id", ctx.Session.ID, "cols", msg.Cols, "rows", msg.Rows)
		if err := pty.Resize(uint16(msg.Rows), uint16(msg.Cols)); err != nil {
			logger.Warn("resize failed", "session_id", ctx.Session.ID, "error", err)
		}
	}
	ctx.Session.Touch()
}

func handlePong(ctx *Context, data []byte) {
	ctx.Session.Touch()
}

func handleInput(ctx *Context, data []byte) {
	var msg InputMsg
	if err := json.Unmarshal(data, &msg); err != nil {
		logger.Warn("bad input message", "session_id", ctx.Session.ID, "error", err)
		return
	}
	if ctx.LogRaw {
		logger.Info("input received", "session_id", ctx.Session.ID, "data", msg.Data)
	} else {
		logger.Debug("input received", "session_id", ctx.Session.ID, "bytes", len(msg.Data))
	}
	if msg.Data == "" {
		return
	}
	writeInput(ctx, []byte(msg.Data))
}

// writeInput validates, admits and writes terminal input. Both the binary
// frame path and the JSON input path run through it, so the size and rate
// rules cannot drift apart.
func writeInput(ctx *Context, data []byte) {
	if len(data) > ctx.MaxInput {
		ctx.sendError("Input too large")
		logger.Warn("input too large",
			"session_id", ctx.Session.ID, "bytes", len(data), "limit", ctx.MaxInput)
		return
	}
	if !ctx.Limiter.Acquire(len(data)) {
		ctx.sendError("Rate limit exceeded")
		logger.Warn("rate limit exceeded", "session_id", ctx.Session.ID, "bytes", len(data))
		return
	}
	if err := ctx.Session.PTY.Write(data); err != nil {
		logger.Warn("pty write failed", "session_id", ctx.Session.ID, "error", err)
		return
	}
	ctx.Session.Touch()
}
