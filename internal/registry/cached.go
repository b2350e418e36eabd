package registry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"paig-gateway/internal/logger"
	"paig-gateway/internal/models"
)

// DefaultCacheTTL bounds how long a descriptor may be served after it changes.
const DefaultCacheTTL = 5 * time.Minute

const keyPrefix = "paig:model"

type cachedDescriptor struct {
	ModelID         string    `json:"model_id"`
	Provider        string    `json:"provider"`
	MaxOutputTokens *int      `json:"max_tokens,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
}

// CachedRegistry fronts a Resolver with Redis. Cache failures are logged and
// the lookup falls through to the underlying resolver.
type CachedRegistry struct {
	next Resolver
	rdb  goredis.UniversalClient
	ttl  time.Duration
	log  zerolog.Logger
}

// NewCached wraps next with a Redis read-through cache.
func NewCached(next Resolver, rdb goredis.UniversalClient, ttl time.Duration, log zerolog.Logger) *CachedRegistry {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &CachedRegistry{
		next: next,
		rdb:  rdb,
		ttl:  ttl,
		log:  logger.Component(log, "registry"),
	}
}

func cacheKey(modelID string) string {
	return keyPrefix + ":" + modelID
}

// Resolve serves from Redis when possible and populates it on a miss.
// Unknown models are not cached.
func (c *CachedRegistry) Resolve(ctx context.Context, modelID string) (models.AiModelDescriptor, error) {
	key := cacheKey(modelID)

	raw, err := c.rdb.Get(ctx, key).Bytes()
	switch {
	case err == nil:
		var cd cachedDescriptor
		jerr := json.Unmarshal(raw, &cd)
		if jerr == nil {
			return models.AiModelDescriptor{
				ModelID:         cd.ModelID,
				Provider:        models.ProviderKind(cd.Provider),
				MaxOutputTokens: cd.MaxOutputTokens,
				CreatedAt:       cd.CreatedAt,
			}, nil
		}
		c.log.Warn().Err(jerr).Str("key", key).Msg("discarding corrupt cache entry")
	case errors.Is(err, goredis.Nil):
	default:
		c.log.Warn().Err(err).Str("model", modelID).Msg("model cache read failed")
	}

	desc, err := c.next.Resolve(ctx, modelID)
	if err != nil {
		return models.AiModelDescriptor{}, err
	}

	data, err := json.Marshal(cachedDescriptor{
		ModelID:         desc.ModelID,
		Provider:        string(desc.Provider),
		MaxOutputTokens: desc.MaxOutputTokens,
		CreatedAt:       desc.CreatedAt,
	})
	if err == nil {
		if serr := c.rdb.Set(ctx, key, data, c.ttl).Err(); serr != nil {
			c.log.Warn().Err(serr).Str("model", modelID).Msg("model cache write failed")
		}
	}
	return desc, nil
}

// List always goes to the underlying resolver.
func (c *CachedRegistry) List(ctx context.Context) ([]models.AiModelDescriptor, error) {
	return c.next.List(ctx)
}

// Invalidate drops a cached descriptor.
func (c *CachedRegistry) Invalidate(ctx context.Context, modelID string) error {
	if err := c.rdb.Del(ctx, cacheKey(modelID)).Err(); err != nil {
		return fmt.Errorf("invalidate model %s: %w", modelID, err)
	}
	return nil
}
