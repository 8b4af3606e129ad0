package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
)

const starterConfig = `# ptn configuration file
# Docs: https://github.com/lyehe/porterminal/blob/master/docs/configuration.md

# Custom buttons (appear in third toolbar row)
buttons:
  - label: "git"
    send: "git status\r"
  - label: "build"
    send: "npm run build\r"
  # Multi-step button with delays (ms):
  # - label: "deploy"
  #   send:
  #     - "npm run build"
  #     - 100
  #     - "\r"

# Terminal settings (optional)
# terminal:
#   default_shell: bash
#   cols: 120
#   rows: 30
`

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create a starter .ptn/ptn.yaml in the current directory",
		RunE: func(cmd *cobra.Command, args []string) error {
			dir := ".ptn"
			file := filepath.Join(dir, "ptn.yaml")

			if _, err := os.Stat(file); err == nil {
				fmt.Printf("Config already exists: %s\n", file)
				return nil
			}
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return fmt.Errorf("create %s: %w", dir, err)
			}
			if err := os.WriteFile(file, []byte(starterConfig), 0o644); err != nil {
				return fmt.Errorf("write %s: %w", file, err)
			}
			fmt.Printf("Created: %s\n", file)
			return nil
		},
	}
}
