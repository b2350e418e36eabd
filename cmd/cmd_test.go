package cmd

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paig-gateway/internal/config"
	"paig-gateway/internal/models"
	"paig-gateway/internal/registry"
	"paig-gateway/internal/store"
)

func writeConfig(t *testing.T) (cfgPath, dsn string) {
	t.Helper()
	for _, key := range []string{config.EnvOpenAIKey, config.EnvAnthropicKey, config.EnvDatabaseDSN, config.EnvRedisAddr} {
		t.Setenv(key, "")
	}

	dir := t.TempDir()
	dsn = filepath.Join(dir, "gateway.db")
	cfgPath = filepath.Join(dir, "config.yaml")
	body := fmt.Sprintf(`
logging:
  level: error
database:
  dsn: %q
  log_level: silent
api_keys:
  - key: k1
    owner: alice
  - key: k2
    owner: alice
    access: ui
  - key: k3
    owner: bob
`, dsn)
	require.NoError(t, os.WriteFile(cfgPath, []byte(body), 0o600))
	return cfgPath, dsn
}

func runCmd(t *testing.T, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(&out)
	root.SetArgs(args)
	err := root.ExecuteContext(context.Background())
	return out.String(), err
}

func TestSeed(t *testing.T) {
	cfgPath, dsn := writeConfig(t)

	out, err := runCmd(t, "seed", "--config", cfgPath)
	require.NoError(t, err)
	assert.Contains(t, out, "seeded 2 models and 2 token buckets")

	out, err = runCmd(t, "seed", "--config", cfgPath, "--owner", "carol")
	require.NoError(t, err)
	assert.Contains(t, out, "seeded 0 models and 1 token buckets")

	st, err := store.Open(store.Config{DSN: dsn, LogLevel: "silent"}, zerolog.Nop())
	require.NoError(t, err)
	defer st.Close()

	buckets, err := st.ListBuckets(context.Background(), "")
	require.NoError(t, err)
	require.Len(t, buckets, 3)
	for _, b := range buckets {
		assert.Equal(t, []string{"gpt-4o-mini"}, b.ModelIDs)
		assert.Equal(t, 100000, b.MaxTokensInWindow)
	}
}

func TestServe_RequiresConfig(t *testing.T) {
	_, err := runCmd(t, "serve")
	assert.Error(t, err)

	_, err = runCmd(t, "serve", "--config", "/does/not/exist.yaml")
	assert.Error(t, err)
}

func TestServe_RejectsBadPort(t *testing.T) {
	cfgPath, _ := writeConfig(t)
	_, err := runCmd(t, "serve", "--config", cfgPath, "--port", "70000")
	assert.ErrorContains(t, err, "valid TCP port")
}

func TestCachedResolver_EvictsConfiguredModels(t *testing.T) {
	ctx := context.Background()

	st, err := store.Open(store.Config{DSN: filepath.Join(t.TempDir(), "gateway.db"), LogLevel: "silent"}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Migrate(ctx))
	require.NoError(t, st.UpsertModel(ctx, models.AiModelDescriptor{ModelID: "gpt-4o-mini", Provider: models.ProviderOpenAI}))

	mini := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	// A previous process cached the old descriptor.
	previous := registry.NewCached(registry.New(st), rdb, time.Hour, zerolog.Nop())
	desc, err := previous.Resolve(ctx, "gpt-4o-mini")
	require.NoError(t, err)
	require.Equal(t, models.ProviderOpenAI, desc.Provider)

	limit := 2048
	require.NoError(t, st.UpsertModel(ctx, models.AiModelDescriptor{
		ModelID:         "gpt-4o-mini",
		Provider:        models.ProviderAnthropic,
		MaxOutputTokens: &limit,
	}))
	desc, err = previous.Resolve(ctx, "gpt-4o-mini")
	require.NoError(t, err)
	require.Equal(t, models.ProviderOpenAI, desc.Provider, "cache should still hold the old entry")

	rt := &runtime{
		cfg: config.Config{
			Cache: config.CacheConfig{TTL: time.Hour},
			Models: []config.ModelConfig{
				{ID: "gpt-4o-mini", Provider: string(models.ProviderAnthropic), MaxOutputTokens: &limit},
			},
		},
		log:   zerolog.Nop(),
		store: st,
	}

	desc, err = cachedResolver(ctx, rt, rdb).Resolve(ctx, "gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderAnthropic, desc.Provider)
	require.NotNil(t, desc.MaxOutputTokens)
	assert.Equal(t, 2048, *desc.MaxOutputTokens)
}
