package main

import (
	"context"
	"errors"

	"github.com/spf13/cobra"

	"github.com/rickgao/agentlink/internal/adapter"
)

func newExecCmd(c *cli) *cobra.Command {
	var params string

	cmd := &cobra.Command{
		Use:   "exec METHOD",
		Short: "Execute a runtime method",
		Long: `Execute a generic method call on the runtime.

Local connections run the method as a tool. Gateway connections send it
over the persistent connection. Remote connections do not support it.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			p, err := parseObject("params", params)
			if err != nil {
				return err
			}
			action := adapter.Action{Method: args[0], Params: p}

			return c.withRetry(cmd, func(ctx context.Context, a adapter.Adapter) error {
				res := a.Execute(ctx, action)
				if err := printJSON(cmd.OutOrStdout(), res); err != nil {
					return err
				}
				if !res.Success {
					return errors.New(res.Error)
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&params, "params", "p", "", "method parameters as a JSON object")
	return cmd
}
