package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/rickgao/agentlink/internal/adapter"
)

func newInvokeCmd(c *cli) *cobra.Command {
	var (
		rawArgs string
		opts    adapter.ToolOptions
	)

	cmd := &cobra.Command{
		Use:   "invoke TOOL",
		Short: "Invoke a runtime tool",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			toolArgs, err := parseObject("args", rawArgs)
			if err != nil {
				return err
			}

			return c.withRetry(cmd, func(ctx context.Context, a adapter.Adapter) error {
				result, err := a.InvokeTool(ctx, args[0], toolArgs, opts)
				if err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), result)
			})
		},
	}
	cmd.Flags().StringVarP(&rawArgs, "args", "a", "", "tool arguments as a JSON object")
	cmd.Flags().StringVar(&opts.SessionKey, "session", "", "session key")
	cmd.Flags().StringVar(&opts.Action, "action", "", "tool action")
	cmd.Flags().BoolVar(&opts.DryRun, "dry-run", false, "ask the runtime not to apply side effects")
	return cmd
}
