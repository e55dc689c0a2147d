package cli

import (
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"
)

func newAskCmd(root *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ask <text>",
		Short: "Send one query to the agent and print the reply",
		Example: `  agent-web ask "what is the capital of France?"
  echo "summarize this" | agent-web ask -`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			input, err := readInput(args, cmd.InOrStdin())
			if err != nil {
				return err
			}
			cfg, err := root.load()
			if err != nil {
				return err
			}

			logger := newLogger(cfg.Log, cmd.ErrOrStderr())
			rt, err := buildRuntime(cmd.Context(), cfg, logger, cmd.ErrOrStderr())
			defer rt.Close()
			if err != nil {
				return err
			}

			reply, err := rt.agent.Run(cmd.Context(), input)
			if err != nil {
				return fmt.Errorf("run failed: %w", err)
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), reply)
			return err
		},
	}
}

// readInput joins the arguments, or reads stdin when the only argument is "-".
func readInput(args []string, stdin io.Reader) (string, error) {
	if len(args) == 1 && args[0] == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return "", fmt.Errorf("failed to read stdin: %w", err)
		}
		args = []string{string(data)}
	}
	input := strings.TrimSpace(strings.Join(args, " "))
	if input == "" {
		return "", errors.New("input cannot be empty")
	}
	return input, nil
}
