package main

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/agentlink/internal/adapter"
)

type statusOutput struct {
	Identity   string     `json:"identity"`
	Kind       string     `json:"kind"`
	Connected  bool       `json:"connected"`
	AccountID  string     `json:"account_id,omitempty"`
	LastActive *time.Time `json:"last_active,omitempty"`
	Error      string     `json:"error,omitempty"`
}

func newStatusCmd(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Connect and report runtime status",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.withRetry(cmd, func(ctx context.Context, a adapter.Adapter) error {
				st := a.Status(ctx)
				out := statusOutput{
					Identity:  a.Identity().Key(),
					Kind:      string(a.Kind()),
					Connected: st.Connected,
					AccountID: st.AccountID,
					Error:     st.Error,
				}
				if !st.LastActive.IsZero() {
					out.LastActive = &st.LastActive
				}
				if err := printJSON(cmd.OutOrStdout(), out); err != nil {
					return err
				}
				if !st.Connected {
					return errors.New("runtime not connected")
				}
				return nil
			})
		},
	}
}
