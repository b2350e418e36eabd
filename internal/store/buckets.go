package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"paig-gateway/internal/models"
)

type tokenBucketRecord struct {
	ID            string   `gorm:"primaryKey;size:36"`
	ModelIDs      []string `gorm:"column:applicable_ai_model_ids;serializer:json"`
	Owner         string   `gorm:"column:applicable_user_name;index:idx_bucket_owner_type,priority:1"`
	WindowSeconds int64    `gorm:"column:window_duration_secs"`
	MaxTokens     int      `gorm:"column:max_tokens_within_window"`
	Access        string   `gorm:"column:type;index:idx_bucket_owner_type,priority:2"`
	CreatedAt     int64    `gorm:"column:created_at;autoCreateTime:nano"`
	UpdatedAt     int64    `gorm:"column:updated_at;autoUpdateTime:nano"`
}

func (tokenBucketRecord) TableName() string { return "token_buckets" }

func (r tokenBucketRecord) toModel() models.TokenBucket {
	return models.TokenBucket{
		ID:                r.ID,
		ModelIDs:          append([]string(nil), r.ModelIDs...),
		Owner:             r.Owner,
		Window:            time.Duration(r.WindowSeconds) * time.Second,
		MaxTokensInWindow: r.MaxTokens,
		Access:            models.AccessClass(r.Access),
		CreatedAt:         time.Unix(0, r.CreatedAt).UTC(),
	}
}

// InsertBucket stores a new quota policy, assigning an ID when empty.
func (s *Store) InsertBucket(ctx context.Context, bucket *models.TokenBucket) error {
	if err := bucket.Validate(); err != nil {
		return fmt.Errorf("insert token bucket: %w", err)
	}
	if bucket.ID == "" {
		bucket.ID = uuid.NewString()
	}
	if bucket.CreatedAt.IsZero() {
		bucket.CreatedAt = s.now()
	}

	rec := tokenBucketRecord{
		ID:            bucket.ID,
		ModelIDs:      bucket.ModelIDs,
		Owner:         bucket.Owner,
		WindowSeconds: int64(bucket.Window / time.Second),
		MaxTokens:     bucket.MaxTokensInWindow,
		Access:        string(bucket.Access),
		CreatedAt:     bucket.CreatedAt.UnixNano(),
		UpdatedAt:     bucket.CreatedAt.UnixNano(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("insert token bucket: %w", err)
	}
	return nil
}

// FindBucket returns the oldest bucket owned by owner, of the given access
// class, whose model list includes modelID.
func (s *Store) FindBucket(ctx context.Context, owner, modelID string, access models.AccessClass) (models.TokenBucket, error) {
	var recs []tokenBucketRecord
	err := s.db.WithContext(ctx).
		Where("applicable_user_name = ? AND type = ?", owner, string(access)).
		Order("created_at ASC").
		Find(&recs).Error
	if err != nil {
		return models.TokenBucket{}, fmt.Errorf("find token bucket: %w", err)
	}

	for _, rec := range recs {
		bucket := rec.toModel()
		if bucket.Applies(modelID) {
			return bucket, nil
		}
	}
	return models.TokenBucket{}, fmt.Errorf("token bucket for %s/%s/%s: %w", owner, modelID, access, ErrNotFound)
}

// ListBuckets returns every bucket, or only owner's when owner is set.
func (s *Store) ListBuckets(ctx context.Context, owner string) ([]models.TokenBucket, error) {
	q := s.db.WithContext(ctx).Order("created_at ASC")
	if owner != "" {
		q = q.Where("applicable_user_name = ?", owner)
	}

	var recs []tokenBucketRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list token buckets: %w", err)
	}
	out := make([]models.TokenBucket, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.toModel())
	}
	return out, nil
}

// ModelIDsForOwner collects the model ids granted to owner by buckets of one access class.
func (s *Store) ModelIDsForOwner(ctx context.Context, owner string, access models.AccessClass) ([]string, error) {
	buckets, err := s.ListBuckets(ctx, owner)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]struct{})
	var ids []string
	for _, bucket := range buckets {
		if bucket.Access != access {
			continue
		}
		for _, id := range bucket.ModelIDs {
			if _, ok := seen[id]; ok {
				continue
			}
			seen[id] = struct{}{}
			ids = append(ids, id)
		}
	}
	return ids, nil
}
