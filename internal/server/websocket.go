package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/coder/websocket"

	"github.com/lyehe/porterminal/internal/logger"
	"github.com/lyehe/porterminal/internal/session"
	"github.com/lyehe/porterminal/internal/ws"
)

// Close codes for connection-time failures; the web client keys its retry
// behavior off these.
const (
	closeNotFound websocket.StatusCode = 4004
	closeCapacity websocket.StatusCode = 4005
)

// maxFrameSize bounds a single inbound frame well above the input limit, so
// oversized input is rejected with a protocol error instead of killing the
// connection.
const maxFrameSize = 512 * 1024

// handleWebSocket attaches a terminal to the socket: reconnect when a
// session id is supplied, create otherwise, then hand off to the protocol
// handler until the connection ends.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("session_id")
	shellID := q.Get("shell")
	skipReplay := q.Get("skip_buffer") != ""
	userID := r.Header.Get(identityHeader)
	if userID == "" {
		userID = defaultUser
	}

	logger.Info("websocket connect",
		"remote", r.RemoteAddr, "user_id", userID,
		"session_id", sessionID, "shell_id", shellID, "skip_buffer", skipReplay)

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		logger.Warn("websocket accept failed", "remote", r.RemoteAddr, "error", err)
		return
	}
	conn.SetReadLimit(maxFrameSize)

	sess, err := s.attachSession(conn, sessionID, userID, shellID)
	if err != nil {
		s.reject(conn, userID, err)
		return
	}

	s.Handler.Handle(r.Context(), conn, sess, skipReplay)
	conn.Close(websocket.StatusNormalClosure, "")
}

// attachSession resolves the socket to a session and binds it.
func (s *Server) attachSession(conn *websocket.Conn, sessionID, userID, shellID string) (*session.Session, error) {
	if sessionID != "" {
		return s.Registry.Reconnect(sessionID, userID, conn)
	}

	cfg := s.Config.Current()
	sess, err := s.Registry.Create(userID, shellID, cfg.Terminal.Cols, cfg.Terminal.Rows)
	if err != nil {
		return nil, err
	}
	sess.Bind(conn)
	return sess, nil
}

// reject closes a connection that never got a session. Expected failures
// carry an error frame and a protocol close code; anything else is an
// internal error.
func (s *Server) reject(conn *websocket.Conn, userID string, err error) {
	w := ws.NewConnWriter(conn)
	switch {
	case errors.Is(err, session.ErrNotFound):
		_ = w.WriteJSON(ws.ErrorMsg{
			Type:    ws.TypeError,
			Message: "Session not found or unauthorized",
		})
		_ = conn.Close(closeNotFound, "")
	case errors.Is(err, session.ErrUserLimit):
		logger.Warn("websocket session limit", "user_id", userID, "error", err)
		_ = w.WriteJSON(ws.ErrorMsg{
			Type:    ws.TypeError,
			Message: fmt.Sprintf("Maximum sessions (%d) reached for user", session.MaxSessionsPerUser),
		})
		_ = conn.Close(closeCapacity, "")
	case errors.Is(err, session.ErrServerLimit):
		logger.Warn("websocket session limit", "user_id", userID, "error", err)
		_ = w.WriteJSON(ws.ErrorMsg{
			Type:    ws.TypeError,
			Message: "Server session limit reached",
		})
		_ = conn.Close(closeCapacity, "")
	default:
		logger.Error("session attach failed", "user_id", userID, "error", err)
		_ = conn.Close(websocket.StatusInternalError, "")
	}
}
