// Package cli implements the agent-web command line.
package cli

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/PipeOpsHQ/agent-web/internal/config"
)

type rootOptions struct {
	configFile string
	envFiles   []string
}

// Run executes the command line described by args.
func Run(ctx context.Context, args []string, stdout, stderr io.Writer) error {
	cmd := newRootCmd()
	cmd.SetArgs(args)
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	return cmd.ExecuteContext(ctx)
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "agent-web",
		Short: "Serve a conversational agent over HTTP",
		Long: `agent-web accepts a text query over POST, forwards it to one shared
Gemini-backed conversational agent and returns the reply.

Configuration:
  Config is loaded from agent-web.yaml in the current directory or
  $HOME/.agent-web/, or from the file given with --config.

  Environment variables override config values with the AGENT_WEB_ prefix,
  e.g. AGENT_WEB_SERVER_ADDR=127.0.0.1:9000. GEMINI_API_KEY and GEMINI_MODEL
  are honoured as well. A .env file in the working directory is read first.`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringVar(&opts.configFile, "config", "", "config file (default: ./agent-web.yaml)")
	cmd.PersistentFlags().StringSliceVar(&opts.envFiles, "env-file", nil, "dotenv files to load (default: ./.env)")

	cmd.AddCommand(
		newServeCmd(opts),
		newAskCmd(opts),
		newConfigCmd(opts),
		newTracesCmd(opts),
		newVersionCmd(),
	)
	return cmd
}

// load reads .env files and the configuration.
func (o *rootOptions) load() (*config.Config, error) {
	if err := config.LoadDotEnv(o.envFiles...); err != nil {
		return nil, err
	}
	cfg, err := config.Load(o.configFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return cfg, nil
}
