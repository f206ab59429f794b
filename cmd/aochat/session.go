package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/snehjoshi/aochat/internal/session"
)

func newSessionCmd(gf *globalFlags) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "session",
		Short: "Show the persisted session for the configured process",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(gf)
			if err != nil {
				return err
			}
			store, err := session.Open(cfg.State.DataDir)
			if err != nil {
				return err
			}
			defer store.Close()

			st, err := store.Load(cfg.Node.ProcessID)
			if errors.Is(err, session.ErrNotFound) {
				fmt.Fprintf(cmd.OutOrStdout(), "no session for process %s\n", cfg.Node.ProcessID)
				return nil
			}
			if err != nil {
				return err
			}
			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(st)
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List every persisted session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(gf)
			if err != nil {
				return err
			}
			store, err := session.Open(cfg.State.DataDir)
			if err != nil {
				return err
			}
			defer store.Close()

			all, err := store.List()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			for _, st := range all {
				seen := time.UnixMilli(st.LastSeenAt).Format(time.RFC3339)
				fmt.Fprintf(out, "%s  %s  %-16s %-9s last seen %s\n", st.SessionID, st.ProcessID, st.Username, st.AuthMethod, seen)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "reset",
		Short: "Forget the persisted session (a new id is minted on next start)",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(gf)
			if err != nil {
				return err
			}
			store, err := session.Open(cfg.State.DataDir)
			if err != nil {
				return err
			}
			defer store.Close()

			if err := store.Delete(cfg.Node.ProcessID); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "session for %s removed\n", cfg.Node.ProcessID)
			return nil
		},
	})
	return cmd
}
