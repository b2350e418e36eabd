package store

import (
	"context"
	"fmt"
	"time"

	"paig-gateway/internal/models"
)

// DefaultModels are inserted when the model table is empty.
func DefaultModels() []models.AiModelDescriptor {
	return []models.AiModelDescriptor{
		{ModelID: "gpt-4o-mini", Provider: models.ProviderOpenAI},
		{ModelID: "claude-3-5-sonnet-20240620", Provider: models.ProviderAnthropic},
	}
}

// DefaultBucket is the policy every seeded owner receives.
func DefaultBucket() models.TokenBucket {
	return models.TokenBucket{
		ModelIDs:          []string{"gpt-4o-mini"},
		Window:            60 * time.Minute,
		MaxTokensInWindow: 100000,
		Access:            models.AccessUI,
	}
}

// SeedOptions controls Seed.
type SeedOptions struct {
	// Models replaces DefaultModels when non-empty.
	Models []models.AiModelDescriptor
	// Bucket is the template copied for each owner; Owner and ID are overwritten.
	Bucket models.TokenBucket
	Owners []string
}

// SeedResult reports what Seed wrote.
type SeedResult struct {
	ModelsInserted  int
	BucketsInserted int
}

// Seed populates an empty model table and gives each owner that has no
// buckets yet a copy of the template bucket.
func (s *Store) Seed(ctx context.Context, opts SeedOptions) (SeedResult, error) {
	var result SeedResult

	count, err := s.CountModels(ctx)
	if err != nil {
		return result, err
	}
	if count == 0 {
		seedModels := opts.Models
		if len(seedModels) == 0 {
			seedModels = DefaultModels()
		}
		for _, desc := range seedModels {
			if err := s.UpsertModel(ctx, desc); err != nil {
				return result, err
			}
			result.ModelsInserted++
		}
		s.log.Info().Int("count", result.ModelsInserted).Msg("initialized models table with default data")
	}

	for _, owner := range opts.Owners {
		existing, err := s.ListBuckets(ctx, owner)
		if err != nil {
			return result, err
		}
		if len(existing) > 0 {
			continue
		}

		bucket := opts.Bucket
		bucket.ID = ""
		bucket.Owner = owner
		bucket.ModelIDs = append([]string(nil), opts.Bucket.ModelIDs...)
		if err := s.InsertBucket(ctx, &bucket); err != nil {
			return result, fmt.Errorf("seed bucket for %s: %w", owner, err)
		}
		result.BucketsInserted++
	}

	return result, nil
}
