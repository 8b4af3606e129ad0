package main

import (
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/lyehe/porterminal/internal/config"
	"github.com/lyehe/porterminal/internal/history"
)

func historyCmd() *cobra.Command {
	var limitFlag int
	var configFlag string

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent terminal sessions",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configFlag
			if path == "" {
				path = config.DefaultPath()
			}
			cfg, err := config.Load(path)
			if err != nil {
				return err
			}
			if !cfg.History.Enabled {
				return fmt.Errorf("session history is disabled in the configuration")
			}

			store, err := history.Open(cfg.History.Path)
			if err != nil {
				return fmt.Errorf("open history: %w", err)
			}
			defer store.Close()

			entries, err := store.Recent(limitFlag)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				fmt.Println("no sessions recorded")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "SESSION\tSHELL\tUSER\tSTARTED\tDURATION\tENDED")
			for _, e := range entries {
				duration := "live"
				ended := ""
				if e.EndedAt != nil {
					duration = e.EndedAt.Sub(e.StartedAt).Round(time.Second).String()
					if e.Reason != nil {
						ended = *e.Reason
					}
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
					shortID(e.SessionID), e.ShellID, e.UserID,
					e.StartedAt.Local().Format("2006-01-02 15:04"), duration, ended)
			}
			w.Flush()
			return nil
		},
	}

	cmd.Flags().IntVarP(&limitFlag, "limit", "n", 20, "number of sessions to show")
	cmd.Flags().StringVar(&configFlag, "config", "", "path to ptn.yaml")
	return cmd
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
