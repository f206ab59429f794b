package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/snehjoshi/aochat/internal/types"
)

func newHistoryCmd(gf *globalFlags) *cobra.Command {
	var (
		n      int
		index  int64
		asJSON bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print the latest messages of the process",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(gf)
			if err != nil {
				return err
			}
			st, err := openStack(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			var latest []*types.Message
			if index >= 0 {
				raw, err := st.client.FetchMessage(ctx, index)
				if err != nil {
					return fmt.Errorf("fetch message %d: %w", index, err)
				}
				latest = []*types.Message{raw.ToMessage(types.StatusReceived, types.SourceChatHistory)}
			} else {
				latest, err = st.store.GetLatest(ctx, n)
				if err != nil {
					return fmt.Errorf("fetch history: %w", err)
				}
				// GetLatest is newest first; print oldest first.
				for i, j := 0, len(latest)-1; i < j; i, j = i+1, j-1 {
					latest[i], latest[j] = latest[j], latest[i]
				}
			}

			out := cmd.OutOrStdout()
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(latest)
			}
			self := st.identity()
			con := newConsole(out)
			for _, m := range latest {
				m.Own = types.IsOwn(m, self)
			}
			con.RenderFull(latest)
			return nil
		},
	}
	cmd.Flags().IntVarP(&n, "count", "n", 20, "number of messages")
	cmd.Flags().Int64Var(&index, "index", -1, "print only the message at this index")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of lines")
	return cmd
}
