package config

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config represents the porterminal configuration, loaded from .ptn/ptn.yaml
// with PORTERMINAL_* environment overrides applied on top.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Terminal TerminalConfig `yaml:"terminal"`
	Buttons  []Button       `yaml:"buttons"`
	History  HistoryConfig  `yaml:"history"`
	Log      LogConfig      `yaml:"log"`
}

type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type TerminalConfig struct {
	DefaultShell string  `yaml:"default_shell" split_words:"true"`
	Cols         int     `yaml:"cols"`
	Rows         int     `yaml:"rows"`
	Shells       []Shell `yaml:"shells" ignored:"true"`
	Cwd          string  `yaml:"cwd"`

	// Sessions live as long as their PTY unless these are set.
	SessionMaxAge   Duration `yaml:"session_max_age" split_words:"true"`
	ReconnectWindow Duration `yaml:"reconnect_window" split_words:"true"`
}

// Shell is one entry of the shell table offered to clients.
type Shell struct {
	ID      string `yaml:"id"`
	Name    string `yaml:"name"`
	Command string `yaml:"command"`
}

// Button is a toolbar shortcut rendered by the web client.
type Button struct {
	Label string    `yaml:"label"`
	Send  SendSteps `yaml:"send"`
}

type HistoryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

type LogConfig struct {
	Level    string `yaml:"level"`
	File     string `yaml:"file"`
	RawInput bool   `yaml:"raw_input" envconfig:"raw_input"`
}

// Duration handles YAML/env values that are either Go duration strings
// ("30m", "24h") or bare integers meaning seconds. Zero means unlimited.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	return d.parse(value.Value)
}

func (d *Duration) UnmarshalText(text []byte) error {
	return d.parse(string(text))
}

func (d *Duration) parse(s string) error {
	s = strings.TrimSpace(s)
	if s == "" {
		*d = 0
		return nil
	}
	if secs, err := strconv.Atoi(s); err == nil {
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	dur, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(dur)
	return nil
}

func (d Duration) Duration() time.Duration { return time.Duration(d) }

// Default returns the built-in configuration: loopback server, shells probed
// from the host, 120x30 terminals, history under ~/.ptn.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "127.0.0.1",
			Port: 8000,
		},
		Terminal: TerminalConfig{
			Cols:   120,
			Rows:   30,
			Shells: DetectShells(),
		},
		History: HistoryConfig{
			Enabled: true,
			Path:    "~/.ptn/history.db",
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// Load reads the config file at path (empty path means defaults only),
// applies PORTERMINAL_* environment overrides, fills fallbacks, validates.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := envconfig.Process("porterminal", cfg); err != nil {
		return nil, fmt.Errorf("apply environment overrides: %w", err)
	}

	cfg.applyFallbacks()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) applyFallbacks() {
	if len(c.Terminal.Shells) == 0 {
		c.Terminal.Shells = DetectShells()
	}
	if c.Terminal.DefaultShell == "" && len(c.Terminal.Shells) > 0 {
		c.Terminal.DefaultShell = c.Terminal.Shells[0].ID
	}

	home, err := os.UserHomeDir()
	if err == nil {
		c.History.Path = expandTilde(c.History.Path, home)
		c.Log.File = expandTilde(c.Log.File, home)
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port must be 1-65535, got %d", c.Server.Port)
	}
	if c.Terminal.Cols < 2 || c.Terminal.Cols > 1000 {
		return fmt.Errorf("terminal.cols must be 2-1000, got %d", c.Terminal.Cols)
	}
	if c.Terminal.Rows < 2 || c.Terminal.Rows > 1000 {
		return fmt.Errorf("terminal.rows must be 2-1000, got %d", c.Terminal.Rows)
	}
	if len(c.Terminal.Shells) == 0 {
		return fmt.Errorf("no shells configured and none detected on this host")
	}
	seen := make(map[string]bool, len(c.Terminal.Shells))
	for i, s := range c.Terminal.Shells {
		if s.ID == "" {
			return fmt.Errorf("terminal.shells[%d]: id is required", i)
		}
		if s.Command == "" {
			return fmt.Errorf("terminal.shells[%d] (%s): command is required", i, s.ID)
		}
		if seen[s.ID] {
			return fmt.Errorf("terminal.shells: duplicate id %q", s.ID)
		}
		seen[s.ID] = true
	}
	for i, b := range c.Buttons {
		if b.Label == "" {
			return fmt.Errorf("buttons[%d]: label is required", i)
		}
		if len(b.Send) == 0 {
			return fmt.Errorf("buttons[%d] (%s): send is required", i, b.Label)
		}
	}
	switch c.Log.Level {
	case "", "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("log.level must be debug, info, warn or error, got %q", c.Log.Level)
	}
	return nil
}

// ResolveShell looks up id in the shell table. A miss falls back to the
// default shell, then to the first configured shell. ok is false only when
// the table is empty.
func (c *Config) ResolveShell(id string) (Shell, bool) {
	if len(c.Terminal.Shells) == 0 {
		return Shell{}, false
	}
	if id == "" {
		id = c.Terminal.DefaultShell
	}
	for _, s := range c.Terminal.Shells {
		if s.ID == id {
			return s, true
		}
	}
	return c.Terminal.Shells[0], true
}

// DetectShells probes the host for usable shells: $SHELL first, then the
// usual suspects on PATH.
func DetectShells() []Shell {
	var shells []Shell
	seen := make(map[string]bool)

	add := func(id, name, command string) {
		if id == "" || command == "" || seen[id] {
			return
		}
		seen[id] = true
		shells = append(shells, Shell{ID: id, Name: name, Command: command})
	}

	if env := os.Getenv("SHELL"); env != "" {
		id := filepath.Base(env)
		add(id, shellDisplayName(id), env)
	}

	if runtime.GOOS == "windows" {
		for _, c := range []struct{ id, name, bin string }{
			{"powershell", "PowerShell", "powershell.exe"},
			{"cmd", "Command Prompt", "cmd.exe"},
		} {
			if path, err := exec.LookPath(c.bin); err == nil {
				add(c.id, c.name, path)
			}
		}
		return shells
	}

	for _, c := range []struct{ id, name, bin string }{
		{"zsh", "Zsh", "zsh"},
		{"bash", "Bash", "bash"},
		{"fish", "Fish", "fish"},
		{"sh", "Sh", "sh"},
	} {
		if path, err := exec.LookPath(c.bin); err == nil {
			add(c.id, c.name, path)
		}
	}
	return shells
}

func shellDisplayName(id string) string {
	if id == "" {
		return id
	}
	return strings.ToUpper(id[:1]) + id[1:]
}

// DefaultPath returns the first config file that exists: ./.ptn/ptn.yaml,
// then ~/.ptn/ptn.yaml, else "".
func DefaultPath() string {
	local := filepath.Join(".ptn", "ptn.yaml")
	if _, err := os.Stat(local); err == nil {
		return local
	}
	if home, err := os.UserHomeDir(); err == nil {
		global := filepath.Join(home, ".ptn", "ptn.yaml")
		if _, err := os.Stat(global); err == nil {
			return global
		}
	}
	return ""
}

func expandTilde(path string, home string) string {
	if strings.HasPrefix(path, "~/") {
		return filepath.Join(home, path[2:])
	}
	if path == "~" {
		return home
	}
	return path
}
