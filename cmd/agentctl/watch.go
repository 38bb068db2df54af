package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/agentlink/internal/adapter"
	"github.com/rickgao/agentlink/internal/connection"
)

func newWatchCmd(c *cli) *cobra.Command {
	var (
		count   int
		timeout time.Duration
		verbose bool
	)

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print events pushed by the runtime",
		Long: `Subscribe to push events on the persistent connection and print them
until interrupted. Only gateway connections carry push events.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return c.once(cmd, func(ctx context.Context, a adapter.Adapter) error {
				if timeout > 0 {
					var cancel context.CancelFunc
					ctx, cancel = context.WithTimeout(ctx, timeout)
					defer cancel()
				}

				sub := a.Subscribe()
				defer sub.Unsubscribe()

				out := cmd.OutOrStdout()
				seen := 0
				for {
					select {
					case <-ctx.Done():
						return nil
					case f, ok := <-sub.Events():
						if !ok {
							return connection.ErrConnectionClosed
						}
						if err := printFrame(out, f, verbose); err != nil {
							return err
						}
						seen++
						if count > 0 && seen >= count {
							return nil
						}
					}
				}
			})
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "stop after N events (0 = unlimited)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "stop after this long (0 = until interrupted)")
	cmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "print full frame JSON")
	return cmd
}

func printFrame(w io.Writer, f connection.Frame, verbose bool) error {
	if verbose {
		data, err := json.Marshal(f)
		if err != nil {
			return fmt.Errorf("encode frame: %w", err)
		}
		_, err = fmt.Fprintln(w, string(data))
		return err
	}
	_, err := fmt.Fprintf(w, "[%s] %s\n", f.Type, f.Text())
	return err
}
