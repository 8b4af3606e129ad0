package main

import (
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

func ptnDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".ptn"
	}
	return filepath.Join(home, ".ptn")
}

func pidPath() string { return filepath.Join(ptnDir(), "ptn.pid") }

func defaultLogPath() string { return filepath.Join(ptnDir(), "server.log") }

// readPid returns the recorded background server pid, verifying the process
// is still alive. Stale files are removed on the way out.
func readPid() (int, error) {
	data, err := os.ReadFile(pidPath())
	if err != nil {
		return 0, err
	}
	pid, err := strconv.Atoi(strings.TrimSpace(string(data)))
	if err != nil {
		return 0, err
	}
	if !processAlive(pid) {
		os.Remove(pidPath())
		return 0, fmt.Errorf("stale pid")
	}
	return pid, nil
}

// daemonize re-execs the server detached from this terminal, waits for it to
// come up, and prints the URL. The child reports its listen address through a
// temp file since port probing can move it off the configured port.
func daemonize(dir, addrFlag, configFlag, logFileFlag string, verbose bool) error {
	if pid, err := readPid(); err == nil {
		return fmt.Errorf("already running (pid %d), stop it with: porterminal stop", pid)
	}

	exe, err := os.Executable()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(ptnDir(), 0o755); err != nil {
		return fmt.Errorf("create %s: %w", ptnDir(), err)
	}

	logPath := logFileFlag
	if logPath == "" {
		logPath = defaultLogPath()
	}

	urlFile, err := os.CreateTemp("", "ptn-url-*")
	if err != nil {
		return err
	}
	urlFile.Close()
	defer os.Remove(urlFile.Name())

	var childArgs []string
	if dir != "" {
		childArgs = append(childArgs, dir)
	}
	if addrFlag != "" {
		childArgs = append(childArgs, "--addr", addrFlag)
	}
	if configFlag != "" {
		childArgs = append(childArgs, "--config", configFlag)
	}
	if verbose {
		childArgs = append(childArgs, "--verbose")
	}
	childArgs = append(childArgs, "--log-file", logPath, "--url-file", urlFile.Name())

	null, err := os.OpenFile(os.DevNull, os.O_RDWR, 0)
	if err != nil {
		return err
	}
	defer null.Close()

	child := exec.Command(exe, childArgs...)
	child.Stdin = null
	child.Stdout = null
	child.Stderr = null
	child.SysProcAttr = detachSysProcAttr()

	if err := child.Start(); err != nil {
		return fmt.Errorf("start server: %w", err)
	}
	pid := child.Process.Pid
	_ = child.Process.Release()

	if err := os.WriteFile(pidPath(), []byte(strconv.Itoa(pid)), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "warning: failed to write PID file: %v\n", err)
	}

	url, err := awaitURL(urlFile.Name(), pid, 15*time.Second)
	if err != nil {
		os.Remove(pidPath())
		return fmt.Errorf("%w (check the log at %s)", err, logPath)
	}

	fmt.Printf("porterminal started in the background (pid %d)\n", pid)
	fmt.Printf("  log: %s\n", logPath)
	fmt.Println()
	fmt.Printf("open %s to start a terminal\n", url)
	return nil
}

// awaitURL polls for the child's listen address, then for a healthy /health.
func awaitURL(path string, pid int, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: time.Second}

	url := ""
	for url == "" {
		if time.Now().After(deadline) {
			return "", fmt.Errorf("server did not start")
		}
		if !processAlive(pid) {
			return "", fmt.Errorf("server exited during startup")
		}
		data, err := os.ReadFile(path)
		if err == nil && len(data) > 0 {
			url = strings.TrimSpace(string(data))
			break
		}
		time.Sleep(100 * time.Millisecond)
	}

	for time.Now().Before(deadline) {
		resp, err := client.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return url, nil
			}
		}
		time.Sleep(200 * time.Millisecond)
	}
	return "", fmt.Errorf("server is not answering on %s", url)
}

func stopCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Stop the background server",
		RunE: func(cmd *cobra.Command, args []string) error {
			pid, err := readPid()
			if err != nil {
				return fmt.Errorf("no background server running")
			}
			if err := terminateProcess(pid); err != nil {
				return fmt.Errorf("kill pid %d: %w", pid, err)
			}
			os.Remove(pidPath())
			fmt.Printf("server stopped (pid %d)\n", pid)
			return nil
		},
	}
}
