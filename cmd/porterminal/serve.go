package main

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/lyehe/porterminal/internal/config"
	"github.com/lyehe/porterminal/internal/history"
	"github.com/lyehe/porterminal/internal/logger"
	"github.com/lyehe/porterminal/internal/pty"
	"github.com/lyehe/porterminal/internal/server"
	"github.com/lyehe/porterminal/internal/session"
	"github.com/lyehe/porterminal/internal/ws"
)

// portProbeLimit bounds the search for a free port when the configured one is
// taken by an earlier instance or an unrelated server.
const portProbeLimit = 10

func rootCmd() *cobra.Command {
	var addrFlag string
	var configFlag string
	var verboseFlag bool
	var backgroundFlag bool
	var logFileFlag string
	var urlFileFlag string

	cmd := &cobra.Command{
		Use:          "porterminal [path]",
		Short:        "Your terminal in the browser",
		Long:         "Serves local shell sessions over HTTP and WebSocket.\nOpen the printed URL in a browser to get a terminal; sessions survive\nreloads and dropped connections until the shell exits.",
		Version:      version,
		SilenceUsage: true,
		Args:         cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ""
			if len(args) == 1 {
				abs, err := filepath.Abs(args[0])
				if err != nil {
					return err
				}
				info, err := os.Stat(abs)
				if err != nil {
					return fmt.Errorf("path does not exist: %s", abs)
				}
				if !info.IsDir() {
					return fmt.Errorf("path is not a directory: %s", abs)
				}
				dir = abs
			}

			if backgroundFlag {
				return daemonize(dir, addrFlag, configFlag, logFileFlag, verboseFlag)
			}
			return runServe(dir, addrFlag, configFlag, logFileFlag, urlFileFlag, verboseFlag)
		},
	}

	cmd.Flags().StringVar(&addrFlag, "addr", "", "listen address host:port (overrides config)")
	cmd.Flags().StringVar(&configFlag, "config", "", "path to ptn.yaml (default: ./.ptn/ptn.yaml, then ~/.ptn/ptn.yaml)")
	cmd.Flags().BoolVarP(&verboseFlag, "verbose", "v", false, "show debug logs")
	cmd.Flags().BoolVarP(&backgroundFlag, "background", "b", false, "run in the background and return once the server is up")
	cmd.Flags().StringVar(&logFileFlag, "log-file", "", "append logs to this file")
	cmd.Flags().StringVar(&urlFileFlag, "url-file", "", "")
	cmd.Flags().MarkHidden("url-file")

	return cmd
}

func runServe(dir, addrFlag, configFlag, logFileFlag, urlFileFlag string, verbose bool) error {
	// Flags become environment overrides so a config reload re-applies them
	// instead of silently reverting to the file.
	if verbose {
		os.Setenv("PORTERMINAL_LOG_LEVEL", "debug")
	}
	if logFileFlag != "" {
		os.Setenv("PORTERMINAL_LOG_FILE", logFileFlag)
	}
	if dir != "" {
		os.Setenv("PORTERMINAL_TERMINAL_CWD", dir)
	}
	if addrFlag != "" {
		host, portStr, err := net.SplitHostPort(addrFlag)
		if err != nil {
			return fmt.Errorf("invalid --addr %q: %w", addrFlag, err)
		}
		if _, err := strconv.Atoi(portStr); err != nil {
			return fmt.Errorf("invalid --addr port %q", portStr)
		}
		if host == "" {
			host = "0.0.0.0"
		}
		os.Setenv("PORTERMINAL_SERVER_HOST", host)
		os.Setenv("PORTERMINAL_SERVER_PORT", portStr)
	}

	cfgPath := configFlag
	if cfgPath == "" {
		cfgPath = config.DefaultPath()
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if err := logger.Init(cfg.Log.Level, cfg.Log.File); err != nil {
		return fmt.Errorf("set up logging: %w", err)
	}

	live := config.NewLive(cfgPath, cfg)

	var journal session.Journal
	if cfg.History.Enabled {
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			logger.Warn("session history disabled", "error", err)
		} else {
			defer store.Close()
			journal = store
		}
	}

	factory := func(shellID string, cols, rows int) (*pty.Manager, string, error) {
		return pty.New(live.Current(), shellID, cols, rows)
	}
	registry := session.NewRegistry(factory, journal,
		cfg.Terminal.SessionMaxAge.Duration(), cfg.Terminal.ReconnectWindow.Duration())
	registry.Start()
	defer registry.Stop()

	handler := &ws.Handler{
		Registry:   registry,
		Dispatcher: ws.NewDispatcher(),
		LogRaw:     cfg.Log.RawInput,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := server.NewServer(live, registry, handler, stop)

	ln, port, err := listen(cfg.Server.Host, cfg.Server.Port)
	if err != nil {
		return err
	}

	localURL := fmt.Sprintf("http://%s", net.JoinHostPort(checkHost(cfg.Server.Host), strconv.Itoa(port)))
	if urlFileFlag != "" {
		if err := os.WriteFile(urlFileFlag, []byte(localURL), 0o644); err != nil {
			logger.Warn("write url file", "path", urlFileFlag, "error", err)
		}
	}

	if err := live.Watch(ctx); err != nil {
		logger.Warn("config watcher unavailable", "path", live.Path(), "error", err)
	}

	printBanner(localURL, port, dir)

	httpSrv := &http.Server{Handler: srv}
	errCh := make(chan error, 1)
	go func() {
		errCh <- httpSrv.Serve(ln)
	}()

	select {
	case <-ctx.Done():
		fmt.Println("shutting down...")
		return httpSrv.Close()
	case err := <-errCh:
		return err
	}
}

// listen binds host:port, probing upward when the preferred port is taken.
func listen(host string, port int) (net.Listener, int, error) {
	for p := port; p < port+portProbeLimit; p++ {
		ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(p)))
		if err == nil {
			if p != port {
				logger.Info("preferred port busy", "wanted", port, "using", p)
			}
			return ln, p, nil
		}
	}
	return nil, 0, fmt.Errorf("no free port between %d and %d on %s", port, port+portProbeLimit-1, host)
}

// checkHost maps wildcard bind addresses to one a browser can actually open.
func checkHost(host string) string {
	if host == "0.0.0.0" || host == "::" || host == "" {
		return "127.0.0.1"
	}
	return host
}

func printBanner(localURL string, port int, dir string) {
	if dir == "" {
		dir, _ = os.Getwd()
	}
	fmt.Printf("porterminal %s\n", version)
	fmt.Printf("  serving: %s\n", dir)
	fmt.Printf("  local:   %s\n", localURL)
	if lan := localIP(); lan != "" {
		fmt.Printf("  network: http://%s\n", net.JoinHostPort(lan, strconv.Itoa(port)))
	}
	fmt.Println()
	fmt.Println("press Ctrl+C to stop")
}

// localIP finds the source address a LAN peer would see. Dialing UDP sends no
// packets; it only asks the kernel for a route.
func localIP() string {
	conn, err := net.Dial("udp", "8.8.8.8:80")
	if err != nil {
		return ""
	}
	defer conn.Close()
	addr, ok := conn.LocalAddr().(*net.UDPAddr)
	if !ok {
		return ""
	}
	return addr.IP.String()
}
