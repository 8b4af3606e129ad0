package pty

import (
	"os"
	"strings"
)

// safeEnvVars is the explicit allow-list: nothing else from the parent
// environment reaches the child. A remote terminal user can run `env`, so
// the default posture is to forward only what a shell needs to behave.
var safeEnvVars = map[string]bool{
	"HOME":      true,
	"PATH":      true,
	"USER":      true,
	"LOGNAME":   true,
	"SHELL":     true,
	"TERM":      true,
	"LANG":      true,
	"LANGUAGE":  true,
	"LC_ALL":    true,
	"LC_CTYPE":  true,
	"TZ":        true,
	"TMPDIR":    true,
	"COLORTERM": true,
}

// blockedEnvVars is checked before the allow-list, so known-sensitive names
// stay out even if a future allow-list change would admit them.
var blockedEnvVars = map[string]bool{
	"AWS_ACCESS_KEY_ID":     true,
	"AWS_SECRET_ACCESS_KEY": true,
	"AWS_SESSION_TOKEN":     true,
	"GITHUB_TOKEN":          true,
	"GH_TOKEN":              true,
	"GITLAB_TOKEN":          true,
	"NPM_TOKEN":             true,
	"OPENAI_API_KEY":        true,
	"ANTHROPIC_API_KEY":     true,
	"GOOGLE_API_KEY":        true,
	"DATABASE_URL":          true,
	"SSH_AUTH_SOCK":         true,
	"SSH_AGENT_PID":         true,
	"GPG_AGENT_INFO":        true,
}

// injectedEnvVars are always set by BuildEnv, overriding any parent value.
var injectedEnvVars = map[string]bool{
	"TERM":            true,
	"COLORTERM":       true,
	"SHELL":           true,
	"PORTERMINAL_CWD": true,
}

// BuildEnv computes the child environment: allow-listed parent variables
// plus the injected terminal variables.
func BuildEnv(shellPath, workDir string) []string {
	var env []string
	for _, kv := range os.Environ() {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if blockedEnvVars[name] || !safeEnvVars[name] || injectedEnvVars[name] {
			continue
		}
		env = append(env, kv)
	}
	env = append(env,
		"TERM=xterm-256color",
		"COLORTERM=truecolor",
		"SHELL="+shellPath,
		"PORTERMINAL_CWD="+workDir,
	)
	return env
}
