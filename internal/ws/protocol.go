// Package ws implements the terminal WebSocket protocol: raw binary frames
// carry PTY bytes in both directions, JSON text frames carry control
// messages. One Handler drives the pumps for each live connection.
package ws

// Message types for the terminal protocol.
const (
	// Server → client
	TypeSessionInfo = "session_info"
	TypePing        = "ping"
	TypeError       = "error"

	// Client → server
	TypeResize = "resize"
	TypePong   = "pong"
	TypeInput  = "input"
)

// Envelope wraps every control message with a type field for routing.
type Envelope struct {
	Type string `json:"type"`
}

// SessionInfo announces the durable session identity, sent first on every
// connection so the client can reconnect later.
type SessionInfo struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id"`
	ShellID   string `json:"shell_id"`
}

// PingMsg is the server heartbeat. Clients answer with PongMsg.
type PingMsg struct {
	Type string `json:"type"`
}

// PongMsg acknowledges a ping.
type PongMsg struct {
	Type string `json:"type"`
}

// ErrorMsg reports a non-fatal rejection, such as oversized or rate-limited
// input. The connection stays up.
type ErrorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// ResizeMsg updates the PTY geometry.
type ResizeMsg struct {
	Type string `json:"type"`
	Cols int    `json:"cols"`
	Rows int    `json:"rows"`
}

// InputMsg is the JSON counterpart of binary keystroke input, for clients
// that cannot send binary frames.
type InputMsg struct {
	Type string `json:"type"`
	Data string `json:"data"`
}
