package cmd

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"paig-gateway/internal/store"
)

type seedOptions struct {
	configPath string
	owners     []string
}

func newSeedCmd() *cobra.Command {
	opts := &seedOptions{}
	cmd := &cobra.Command{
		Use:   "seed",
		Short: "Insert default models and default token buckets",
		Long: `seed fills an empty model table with the default descriptors and gives every
owner without a bucket a copy of the configured default bucket. Owners default
to the identities listed under api_keys.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return seed(cmd.Context(), cmd, opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to YAML configuration file (required)")
	cmd.Flags().StringSliceVar(&opts.owners, "owner", nil, "owner to seed a default bucket for (repeatable)")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func seed(ctx context.Context, cmd *cobra.Command, opts *seedOptions) error {
	rt, err := bootstrap(ctx, opts.configPath)
	if err != nil {
		return err
	}
	defer rt.close()

	bucket, err := rt.cfg.Defaults.Bucket()
	if err != nil {
		return err
	}

	owners := opts.owners
	if len(owners) == 0 {
		owners = rt.cfg.Owners()
	}

	result, err := rt.store.Seed(ctx, store.SeedOptions{
		Bucket: bucket,
		Owners: owners,
	})
	if err != nil {
		return err
	}

	fmt.Fprintf(cmd.OutOrStdout(), "seeded %d models and %d token buckets\n", result.ModelsInserted, result.BucketsInserted)
	return nil
}
