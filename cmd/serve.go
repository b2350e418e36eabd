package cmd

import (
	"context"
	"fmt"

	goredis "github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"paig-gateway/internal/gateway"
	providerfactory "paig-gateway/internal/provider/factory"
	"paig-gateway/internal/ratelimit"
	"paig-gateway/internal/registry"
	"paig-gateway/internal/server"
	"paig-gateway/internal/tokenizer"
)

type serveOptions struct {
	configPath string
	port       int
}

func newServeCmd() *cobra.Command {
	opts := &serveOptions{}
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), opts)
		},
	}
	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "path to YAML configuration file (required)")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "override server port from configuration")
	_ = cmd.MarkFlagRequired("config")
	return cmd
}

func serve(ctx context.Context, opts *serveOptions) error {
	if opts.port < 0 || opts.port > 65535 {
		return fmt.Errorf("port override %d must be a valid TCP port", opts.port)
	}

	rt, err := bootstrap(ctx, opts.configPath)
	if err != nil {
		return err
	}
	defer rt.close()

	if opts.port != 0 {
		rt.cfg.Server.Port = opts.port
	}

	counter, err := tokenizer.New()
	if err != nil {
		return err
	}

	adapters, err := providerfactory.BuildTable(rt.cfg.Providers)
	if err != nil {
		return err
	}

	var resolver registry.Resolver = registry.New(rt.store)
	if addr := rt.cfg.Cache.RedisAddr; addr != "" {
		rdb := goredis.NewClient(&goredis.Options{Addr: addr})
		defer rdb.Close()
		if err := rdb.Ping(ctx).Err(); err != nil {
			rt.log.Warn().Err(err).Str("addr", addr).Msg("redis unreachable, model lookups will fall back to the database")
		}
		resolver = cachedResolver(ctx, rt, rdb)
	}

	gw, err := gateway.New(gateway.Deps{
		Counter:  counter,
		Usage:    rt.store,
		Quota:    ratelimit.New(rt.store, rt.log),
		Models:   resolver,
		Adapters: adapters,
		Grants:   rt.store,
	}, rt.log)
	if err != nil {
		return err
	}

	srv, err := server.New(rt.cfg, gw, rt.store, rt.log)
	if err != nil {
		return err
	}
	return srv.Run(ctx)
}

// cachedResolver fronts the store with Redis. Every descriptor bootstrap just
// upserted is evicted first, so edits to the models section take effect on
// restart rather than after the cache TTL.
func cachedResolver(ctx context.Context, rt *runtime, rdb goredis.UniversalClient) *registry.CachedRegistry {
	cached := registry.NewCached(registry.New(rt.store), rdb, rt.cfg.Cache.TTL, rt.log)
	for _, desc := range rt.cfg.Descriptors() {
		if err := cached.Invalidate(ctx, desc.ModelID); err != nil {
			rt.log.Warn().Err(err).Str("model", desc.ModelID).Msg("evict cached model descriptor")
		}
	}
	return cached
}
