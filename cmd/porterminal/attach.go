package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"

	"github.com/coder/websocket"
	"github.com/spf13/cobra"
	"golang.org/x/term"

	"github.com/lyehe/porterminal/internal/config"
	"github.com/lyehe/porterminal/internal/session"
	"github.com/lyehe/porterminal/internal/ws"
)

func attachCmd() *cobra.Command {
	var addrFlag string
	var configFlag string

	cmd := &cobra.Command{
		Use:   "attach <session-id>",
		Short: "Attach this terminal to a running session",
		Long:  "Connects the current terminal to a session by id, replaying its recent\noutput. Session ids are printed by `porterminal history` and shown in the\nweb client. The session ends when its shell exits, not when you detach.",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			base, err := serverURL(addrFlag, configFlag)
			if err != nil {
				return err
			}
			return runAttach(cmd.Context(), base, args[0])
		},
	}

	cmd.Flags().StringVar(&addrFlag, "addr", "", "server address host:port (default: from config)")
	cmd.Flags().StringVar(&configFlag, "config", "", "path to ptn.yaml")
	return cmd
}

// serverURL resolves the base URL of the local server, from --addr or from
// the same config the server reads.
func serverURL(addrFlag, configFlag string) (string, error) {
	if addrFlag != "" {
		host, port, err := net.SplitHostPort(addrFlag)
		if err != nil {
			return "", fmt.Errorf("invalid --addr %q: %w", addrFlag, err)
		}
		return "http://" + net.JoinHostPort(checkHost(host), port), nil
	}

	path := configFlag
	if path == "" {
		path = config.DefaultPath()
	}
	cfg, err := config.Load(path)
	if err != nil {
		return "", err
	}
	return "http://" + net.JoinHostPort(checkHost(cfg.Server.Host), strconv.Itoa(cfg.Server.Port)), nil
}

func runAttach(ctx context.Context, baseURL, sessionID string) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	wsURL := "ws" + strings.TrimPrefix(baseURL, "http") + "/ws?session_id=" + url.QueryEscape(sessionID)
	conn, _, err := websocket.Dial(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("connect to %s: %w", baseURL, err)
	}
	defer conn.Close(websocket.StatusNormalClosure, "")
	// The replay arrives as a single frame and can be the whole buffer.
	conn.SetReadLimit(2 << 20)

	w := ws.NewConnWriter(conn)

	// Size the remote PTY to this terminal and enter raw mode so every
	// keystroke, Ctrl+C included, goes to the remote shell.
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		if cols, rows, err := term.GetSize(fd); err == nil {
			_ = w.WriteJSON(ws.ResizeMsg{Type: ws.TypeResize, Cols: cols, Rows: rows})
		}
		oldState, err := term.MakeRaw(fd)
		if err == nil {
			defer term.Restore(fd, oldState)
		}
	}

	winchCh := make(chan os.Signal, 1)
	notifyWinch(winchCh)
	defer signal.Stop(winchCh)
	go func() {
		for range winchCh {
			if cols, rows, err := term.GetSize(fd); err == nil {
				_ = w.WriteJSON(ws.ResizeMsg{Type: ws.TypeResize, Cols: cols, Rows: rows})
			}
		}
	}()

	// Session output → stdout.
	var lastErrMsg string
	readErr := make(chan error, 1)
	go func() {
		readErr <- pumpOutput(ctx, conn, w, &lastErrMsg)
	}()

	// Stdin → session input.
	go func() {
		buf := make([]byte, 4096)
		for {
			n, err := os.Stdin.Read(buf)
			if n > 0 {
				data := make([]byte, n)
				copy(data, buf[:n])
				if werr := w.WriteBinary(data); werr != nil {
					return
				}
			}
			if err != nil {
				return
			}
		}
	}()

	err = <-readErr
	switch {
	case websocket.CloseStatus(err) == websocket.StatusNormalClosure:
		return nil
	case websocket.CloseStatus(err) == session.CloseSuperseded:
		return errors.New("session attached from another client")
	case lastErrMsg != "":
		return errors.New(lastErrMsg)
	default:
		return err
	}
}

// pumpOutput copies binary frames to stdout and answers protocol control
// frames until the connection drops.
func pumpOutput(ctx context.Context, conn *websocket.Conn, w ws.Writer, lastErrMsg *string) error {
	for {
		typ, data, err := conn.Read(ctx)
		if err != nil {
			return err
		}
		if typ == websocket.MessageBinary {
			os.Stdout.Write(data)
			continue
		}

		var env ws.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			continue
		}
		switch env.Type {
		case ws.TypePing:
			_ = w.WriteJSON(ws.PongMsg{Type: ws.TypePong})
		case ws.TypeError:
			var msg ws.ErrorMsg
			if err := json.Unmarshal(data, &msg); err == nil && msg.Message != "" {
				*lastErrMsg = msg.Message
				fmt.Fprintf(os.Stderr, "\r\n%s\r\n", msg.Message)
			}
		}
	}
}
