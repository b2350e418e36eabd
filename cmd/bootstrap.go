package cmd

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"paig-gateway/internal/config"
	"paig-gateway/internal/logger"
	"paig-gateway/internal/store"
)

// runtime is the state every subcommand starts from.
type runtime struct {
	cfg   config.Config
	log   zerolog.Logger
	store *store.Store
}

func bootstrap(ctx context.Context, cfgPath string) (*runtime, error) {
	if cfgPath == "" {
		return nil, fmt.Errorf("--config <path> is required")
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Logging)
	if err != nil {
		return nil, err
	}

	st, err := store.Open(cfg.Database, log)
	if err != nil {
		return nil, err
	}
	if err := st.Migrate(ctx); err != nil {
		_ = st.Close()
		return nil, err
	}

	for _, desc := range cfg.Descriptors() {
		if err := st.UpsertModel(ctx, desc); err != nil {
			_ = st.Close()
			return nil, err
		}
	}

	return &runtime{cfg: cfg, log: log, store: st}, nil
}

func (r *runtime) close() {
	if err := r.store.Close(); err != nil {
		r.log.Warn().Err(err).Msg("close database")
	}
}
