package main

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/snehjoshi/aochat/internal/config"
	"github.com/snehjoshi/aochat/internal/engine"
	"github.com/snehjoshi/aochat/internal/types"
)

func newSendCmd(gf *globalFlags) *cobra.Command {
	var wait bool
	cmd := &cobra.Command{
		Use:   "send <message>",
		Short: "Send one message and wait for it to be confirmed",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(gf)
			if err != nil {
				return err
			}
			st, err := openStack(cfg)
			if err != nil {
				return err
			}
			defer st.Close()

			eng := st.newEngine()
			defer eng.Destroy()
			done := &settled{ch: make(chan *types.Message, 1)}
			eng.Subscribe(done)

			ctx := cmd.Context()
			if ctx == nil {
				ctx = context.Background()
			}
			m, err := eng.Send(ctx, strings.Join(args, " "), "")
			if err != nil {
				return err
			}
			if m.Status == types.StatusPending && wait {
				timeout := config.Duration(cfg.Chat.PendingTimeoutMs) + time.Second
				select {
				case m = <-done.ch:
				case <-time.After(timeout):
				case <-ctx.Done():
				}
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s (%s)\n", m.ID, m.Status, m.Source)
			return nil
		},
	}
	cmd.Flags().BoolVar(&wait, "wait", true, "wait for confirmation or the pending timeout")
	return cmd
}

// settled captures the first rekey that resolves a pending message.
type settled struct {
	engine.NopAdapter
	ch chan *types.Message
}

func (s *settled) Rekey(_, _ string, m *types.Message) {
	if m.Status == types.StatusPending {
		return
	}
	select {
	case s.ch <- m:
	default:
	}
}
