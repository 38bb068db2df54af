package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/rickgao/agentlink/internal/adapter"
	"github.com/rickgao/agentlink/internal/api"
)

func newChatCmd(c *cli) *cobra.Command {
	var (
		stream bool
		system string
		opts   adapter.MessageOptions
	)

	cmd := &cobra.Command{
		Use:   "chat MESSAGE...",
		Short: "Send a message to the runtime agent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			message := strings.Join(args, " ")
			out := cmd.OutOrStdout()

			if !stream && system == "" {
				return c.withRetry(cmd, func(ctx context.Context, a adapter.Adapter) error {
					reply, err := a.SendMessage(ctx, message, opts)
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(out, reply)
					return err
				})
			}

			req := api.ChatRequest{
				Model:   opts.Model,
				AgentID: opts.AgentID,
				User:    opts.SessionKey,
			}
			if system != "" {
				req.Messages = append(req.Messages, api.ChatMessage{Role: api.RoleSystem, Content: system})
			}
			req.Messages = append(req.Messages, api.ChatMessage{Role: api.RoleUser, Content: message})

			if !stream {
				return c.withRetry(cmd, func(ctx context.Context, a adapter.Adapter) error {
					resp, err := a.ChatCompletion(ctx, req)
					if err != nil {
						return err
					}
					_, err = fmt.Fprintln(out, api.CompletionText(resp))
					return err
				})
			}

			return c.once(cmd, func(ctx context.Context, a adapter.Adapter) error {
				_, err := a.StreamChatCompletion(ctx, req, func(chunk string) {
					fmt.Fprint(out, chunk)
				})
				fmt.Fprintln(out)
				return err
			})
		},
	}
	cmd.Flags().BoolVarP(&stream, "stream", "s", false, "stream the reply as it is generated")
	cmd.Flags().StringVar(&system, "system", "", "system prompt")
	cmd.Flags().StringVar(&opts.SessionKey, "session", "", "session key")
	cmd.Flags().StringVar(&opts.AgentID, "agent", "", "agent id (overrides the configured one)")
	cmd.Flags().StringVar(&opts.Model, "model", "", "model id")
	return cmd
}
