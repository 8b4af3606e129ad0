// Package server exposes the HTTP surface: the embedded web client, health
// and config endpoints, and the /ws terminal endpoint.
package server

import (
	"encoding/json"
	"io/fs"
	"net"
	"net/http"
	"time"

	"github.com/lyehe/porterminal/internal/config"
	"github.com/lyehe/porterminal/internal/logger"
	"github.com/lyehe/porterminal/internal/session"
	"github.com/lyehe/porterminal/internal/ws"
	"github.com/lyehe/porterminal/web"
)

// identityHeader carries the authenticated user when the server sits behind
// Cloudflare Access. Everything else is the local user.
const (
	identityHeader = "cf-access-authenticated-user-email"
	defaultUser    = "local-user"
)

// shutdownDelay lets the shutdown response reach the client before the
// listener goes away.
const shutdownDelay = 500 * time.Millisecond

type Server struct {
	Config   *config.Live
	Registry *session.Registry
	Handler  *ws.Handler

	// Shutdown triggers a graceful stop of the process, wired by the command
	// that owns the http.Server. May be nil in tests.
	Shutdown func()

	mux *http.ServeMux
}

func NewServer(cfg *config.Live, registry *session.Registry, handler *ws.Handler, shutdown func()) *Server {
	s := &Server{
		Config:   cfg,
		Registry: registry,
		Handler:  handler,
		Shutdown: shutdown,
		mux:      http.NewServeMux(),
	}
	s.mux.HandleFunc("GET /health", s.handleHealth)
	s.mux.HandleFunc("GET /api/config", s.handleClientConfig)
	s.mux.HandleFunc("POST /api/config/reload", s.handleConfigReload)
	s.mux.HandleFunc("POST /api/shutdown", s.handleShutdown)
	s.mux.HandleFunc("GET /ws", s.handleWebSocket)
	s.registerStaticRoutes()
	return s
}

func (s *Server) registerStaticRoutes() {
	sub, _ := fs.Sub(web.FS, "static")
	fileServer := http.FileServer(http.FS(sub))
	s.mux.Handle("GET /static/", noCache(http.StripPrefix("/static/", fileServer)))
	s.mux.HandleFunc("GET /{$}", s.handleIndex)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.mux.ServeHTTP(w, r)
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data, err := web.FS.ReadFile("static/index.html")
	if err != nil {
		writeError(w, http.StatusNotFound, "index.html not found")
		return
	}
	setNoCache(w)
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(data)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":   "healthy",
		"sessions": s.Registry.Count(),
	})
}

func (s *Server) handleClientConfig(w http.ResponseWriter, r *http.Request) {
	cfg := s.Config.Current()
	shells := make([]map[string]string, 0, len(cfg.Terminal.Shells))
	for _, sh := range cfg.Terminal.Shells {
		shells = append(shells, map[string]string{"id": sh.ID, "name": sh.Name})
	}
	buttons := make([]map[string]any, 0, len(cfg.Buttons))
	for _, b := range cfg.Buttons {
		buttons = append(buttons, map[string]any{"label": b.Label, "send": b.Send})
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"shells":        shells,
		"buttons":       buttons,
		"default_shell": cfg.Terminal.DefaultShell,
	})
}

func (s *Server) handleConfigReload(w http.ResponseWriter, r *http.Request) {
	if _, err := s.Config.Reload(); err != nil {
		logger.Error("config reload failed", "error", err)
		writeJSON(w, http.StatusInternalServerError, map[string]string{
			"status":  "error",
			"message": err.Error(),
		})
		return
	}
	logger.Info("config reloaded via api")
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Configuration reloaded",
	})
}

// handleShutdown stops the server. Only loopback clients or identified users
// may call it; everyone else gets a 403.
func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		host = r.RemoteAddr
	}
	var loopback bool
	if ip := net.ParseIP(host); ip != nil {
		loopback = ip.IsLoopback()
	}
	user := r.Header.Get(identityHeader)

	if !loopback && user == "" {
		logger.Warn("unauthorized shutdown attempt", "remote", host)
		writeError(w, http.StatusForbidden,
			"Unauthorized - must be localhost or authenticated via Cloudflare Access")
		return
	}

	who := user
	if who == "" {
		who = host
	}
	logger.Info("shutdown requested via api", "by", who)
	writeJSON(w, http.StatusOK, map[string]string{
		"status":  "ok",
		"message": "Server shutting down...",
	})

	// Respond first, stop after.
	if s.Shutdown != nil {
		time.AfterFunc(shutdownDelay, s.Shutdown)
	}
}

// Helpers

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func noCache(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		setNoCache(w)
		next.ServeHTTP(w, r)
	})
}

func setNoCache(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-cache, no-store, must-revalidate")
	w.Header().Set("Pragma", "no-cache")
	w.Header().Set("Expires", "0")
}
