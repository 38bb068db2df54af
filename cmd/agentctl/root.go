package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/spf13/cobra"

	"github.com/rickgao/agentlink/internal/adapter"
	"github.com/rickgao/agentlink/internal/config"
	"github.com/rickgao/agentlink/internal/pool"
	"github.com/rickgao/agentlink/internal/version"
)

const shutdownTimeout = 10 * time.Second

// cli carries the persistent flags shared by every subcommand.
type cli struct {
	configPath string
	connection string
}

func newRootCmd() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:           "agentctl",
		Short:         "Operate agent runtime connections",
		Version:       version.String(),
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&c.configPath, "config", "c", "configs/agentlink.yaml", "path to config file")
	root.PersistentFlags().StringVarP(&c.connection, "connection", "n", "", "connection name (optional when only one is configured)")

	root.AddCommand(
		newStatusCmd(c),
		newExecCmd(c),
		newInvokeCmd(c),
		newChatCmd(c),
		newWatchCmd(c),
	)
	return root
}

// session is one command's pool and target connection.
type session struct {
	pool   *pool.Pool
	target adapter.Config
	logger *slog.Logger
}

func (c *cli) open(cmd *cobra.Command) (*session, error) {
	cfg, err := config.LoadAndValidate(c.configPath)
	if err != nil {
		return nil, err
	}
	conn, err := cfg.Connection(c.connection)
	if err != nil {
		return nil, err
	}

	logger := cfg.Log.Logger(cmd.ErrOrStderr())
	logger.Debug("configuration loaded",
		"config", c.configPath,
		"connection", conn.Name,
		"kind", conn.Kind,
	)

	p := pool.New(cfg.Pool.PoolConfig(), pool.WithLogger(logger))
	return &session{pool: p, target: conn.AdapterConfig(), logger: logger}, nil
}

func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := s.pool.Stop(ctx); err != nil {
		s.logger.Warn("pool shutdown incomplete", "err", err)
	}
}

// withRetry runs fn against the configured connection, retrying
// transient failures.
func (c *cli) withRetry(cmd *cobra.Command, fn func(ctx context.Context, a adapter.Adapter) error) error {
	s, err := c.open(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	return s.pool.ExecuteWithRetry(cmd.Context(), s.target, fn)
}

// once runs fn a single time. Streaming output cannot be replayed.
func (c *cli) once(cmd *cobra.Command, fn func(ctx context.Context, a adapter.Adapter) error) error {
	s, err := c.open(cmd)
	if err != nil {
		return err
	}
	defer s.close()

	a, err := s.pool.GetAdapter(cmd.Context(), s.target)
	if err != nil {
		return err
	}
	defer s.pool.ReleaseAdapter(s.target.Identity())

	return fn(cmd.Context(), a)
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("encode output: %w", err)
	}
	_, err = fmt.Fprintln(w, string(data))
	return err
}

// parseObject decodes a JSON object flag. Empty input yields nil.
func parseObject(flag, raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return nil, fmt.Errorf("--%s must be a JSON object: %w", flag, err)
	}
	return m, nil
}
