package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paig-gateway/internal/models"
	"paig-gateway/internal/store"
)

type fakeSource struct {
	mu    sync.Mutex
	descs map[string]models.AiModelDescriptor
	gets  int
	err   error
}

func (f *fakeSource) GetModel(_ context.Context, id string) (models.AiModelDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gets++
	if f.err != nil {
		return models.AiModelDescriptor{}, f.err
	}
	d, ok := f.descs[id]
	if !ok {
		return models.AiModelDescriptor{}, fmt.Errorf("model %s: %w", id, store.ErrNotFound)
	}
	return d, nil
}

func (f *fakeSource) ListModels(context.Context) ([]models.AiModelDescriptor, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.AiModelDescriptor, 0, len(f.descs))
	for _, d := range f.descs {
		out = append(out, d)
	}
	return out, nil
}

func newSource() *fakeSource {
	limit := 1024
	return &fakeSource{descs: map[string]models.AiModelDescriptor{
		"gpt-4o-mini": {ModelID: "gpt-4o-mini", Provider: models.ProviderOpenAI},
		"claude-3-5-sonnet-20240620": {
			ModelID:         "claude-3-5-sonnet-20240620",
			Provider:        models.ProviderAnthropic,
			MaxOutputTokens: &limit,
			CreatedAt:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		},
	}}
}

func newRedis(t *testing.T) (*goredis.Client, *miniredis.Miniredis) {
	t.Helper()
	mini := miniredis.RunT(t)
	rdb := goredis.NewClient(&goredis.Options{Addr: mini.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb, mini
}

func TestModelRegistry_Resolve(t *testing.T) {
	r := New(newSource())

	desc, err := r.Resolve(context.Background(), "gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderOpenAI, desc.Provider)

	_, err = r.Resolve(context.Background(), "nope")
	assert.ErrorIs(t, err, ErrUnknownModel)
}

func TestModelRegistry_PropagatesStoreErrors(t *testing.T) {
	src := newSource()
	src.err = errors.New("disk on fire")

	_, err := New(src).Resolve(context.Background(), "gpt-4o-mini")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrUnknownModel)
}

func TestCachedRegistry_ReadThrough(t *testing.T) {
	src := newSource()
	rdb, mini := newRedis(t)
	c := NewCached(New(src), rdb, time.Minute, zerolog.Nop())
	ctx := context.Background()

	first, err := c.Resolve(ctx, "claude-3-5-sonnet-20240620")
	require.NoError(t, err)
	assert.True(t, mini.Exists(cacheKey("claude-3-5-sonnet-20240620")))

	second, err := c.Resolve(ctx, "claude-3-5-sonnet-20240620")
	require.NoError(t, err)
	assert.Equal(t, 1, src.gets)
	assert.Equal(t, first.Provider, second.Provider)
	assert.Equal(t, 1024, second.EffectiveMaxTokens())
	assert.True(t, first.CreatedAt.Equal(second.CreatedAt))
}

func TestCachedRegistry_TTLExpiry(t *testing.T) {
	src := newSource()
	rdb, mini := newRedis(t)
	c := NewCached(New(src), rdb, time.Minute, zerolog.Nop())
	ctx := context.Background()

	_, err := c.Resolve(ctx, "gpt-4o-mini")
	require.NoError(t, err)
	mini.FastForward(2 * time.Minute)

	_, err = c.Resolve(ctx, "gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, 2, src.gets)
}

func TestCachedRegistry_UnknownNotCached(t *testing.T) {
	rdb, mini := newRedis(t)
	c := NewCached(New(newSource()), rdb, time.Minute, zerolog.Nop())

	_, err := c.Resolve(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrUnknownModel)
	assert.False(t, mini.Exists(cacheKey("missing")))
}

func TestCachedRegistry_FallsBackWhenRedisDown(t *testing.T) {
	src := newSource()
	rdb, mini := newRedis(t)
	c := NewCached(New(src), rdb, time.Minute, zerolog.Nop())
	mini.Close()

	desc, err := c.Resolve(context.Background(), "gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, "gpt-4o-mini", desc.ModelID)
}

func TestCachedRegistry_CorruptEntry(t *testing.T) {
	src := newSource()
	rdb, mini := newRedis(t)
	require.NoError(t, mini.Set(cacheKey("gpt-4o-mini"), "{not json"))
	c := NewCached(New(src), rdb, time.Minute, zerolog.Nop())

	desc, err := c.Resolve(context.Background(), "gpt-4o-mini")
	require.NoError(t, err)
	assert.Equal(t, models.ProviderOpenAI, desc.Provider)
	assert.Equal(t, 1, src.gets)
}

func TestCachedRegistry_Invalidate(t *testing.T) {
	src := newSource()
	rdb, mini := newRedis(t)
	c := NewCached(New(src), rdb, time.Minute, zerolog.Nop())
	ctx := context.Background()

	_, err := c.Resolve(ctx, "gpt-4o-mini")
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx, "gpt-4o-mini"))
	assert.False(t, mini.Exists(cacheKey("gpt-4o-mini")))
}

func TestCachedRegistry_ListBypassesCache(t *testing.T) {
	src := newSource()
	rdb, mini := newRedis(t)
	c := NewCached(New(src), rdb, time.Minute, zerolog.Nop())

	descs, err := c.List(context.Background())
	require.NoError(t, err)
	assert.Len(t, descs, 2)
	assert.Empty(t, mini.Keys())
}
