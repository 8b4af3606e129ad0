package main

import (
	"os"
)

// version is stamped by the release build via -ldflags.
var version = "dev"

func main() {
	root := rootCmd()
	root.AddCommand(
		initCmd(),
		historyCmd(),
		attachCmd(),
		stopCmd(),
	)

	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}
