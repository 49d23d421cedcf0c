package main

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"classverify/internal/config"
	"classverify/internal/logger"
)

type rootOptions struct {
	configPath string
	verbose    bool
}

func newRootCmd(out io.Writer) *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:   "verifyctl",
		Short: "Operator tools for class verification tasks",
		Long: `verifyctl runs class verification edits offline and issues access tokens.

Examples:
  # Replay an intent script against a task file and print the saved payload
  verifyctl replay --task task.json --script intents.yaml

  # Same, writing the result back into the task file
  verifyctl replay --task task.json --script intents.yaml --write

  # Issue a reviewer token valid for eight hours
  verifyctl token --name "Avery" --role reviewer --ttl 8h`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			level := "warn"
			if opts.verbose {
				level = "debug"
			}
			return logger.Init(level, true)
		},
	}
	root.SetOut(out)
	root.SetErr(out)
	root.PersistentFlags().StringVarP(&opts.configPath, "config", "c", os.Getenv("VERIFY_CONFIG"), "Path to a YAML config file")
	root.PersistentFlags().BoolVarP(&opts.verbose, "verbose", "v", false, "Log session transitions")

	root.AddCommand(newReplayCmd(opts))
	root.AddCommand(newTokenCmd(opts))
	return root
}

func (o *rootOptions) loadConfig() (config.Config, error) {
	return config.Load(o.configPath)
}

func main() {
	defer logger.Sync()
	if err := newRootCmd(os.Stdout).Execute(); err != nil {
		logger.Get().Debug("command failed", zap.Error(err))
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
