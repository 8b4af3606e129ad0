package config

import "sync/atomic"

// Live holds the active configuration and supports atomic reloads while the
// server runs. New sessions pick up the latest snapshot; running sessions
// keep the shell they were spawned with.
type Live struct {
	path string
	ptr  atomic.Pointer[Config]
}

// NewLive wraps an already-loaded config. path may be empty when running on
// built-in defaults; Reload then re-evaluates defaults and env overrides.
func NewLive(path string, cfg *Config) *Live {
	l := &Live{path: path}
	l.ptr.Store(cfg)
	return l
}

// Current returns the active snapshot. Callers must not mutate it.
func (l *Live) Current() *Config { return l.ptr.Load() }

// Path returns the config file backing this holder, if any.
func (l *Live) Path() string { return l.path }

// Reload re-reads the config file and swaps it in atomically.
func (l *Live) Reload() (*Config, error) {
	cfg, err := Load(l.path)
	if err != nil {
		return nil, err
	}
	l.ptr.Store(cfg)
	return cfg, nil
}
