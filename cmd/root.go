package cmd

import (
	"context"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:     "paig-gateway",
		Short:   "Quota-enforcing OpenAI-compatible AI gateway",
		Version: version,
		Long: `paig-gateway accepts OpenAI-style chat completion requests, enforces per-user
token quotas, and dispatches them to OpenAI or Anthropic, streaming the reply
back in the OpenAI chunk format.`,
		Example: `  # Start the HTTP server
  $ paig-gateway serve --config config.yaml

  # Seed default models and a default bucket for every configured owner
  $ paig-gateway seed --config config.yaml`,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(newServeCmd())
	root.AddCommand(newSeedCmd())
	return root
}

// Execute runs the CLI with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	root := newRootCmd()
	root.SetArgs(args)
	return root.ExecuteContext(ctx)
}
