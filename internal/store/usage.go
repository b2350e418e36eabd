package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"paig-gateway/internal/models"
)

type usageLogRecord struct {
	ID           string `gorm:"primaryKey;size:36"`
	ModelID      string `gorm:"column:ai_model_id;index"`
	BucketID     string `gorm:"column:applicable_token_bucket_id;index:idx_usage_bucket_created,priority:1"`
	TokensInput  int    `gorm:"column:tokens_input"`
	TokensOutput int    `gorm:"column:tokens_output"`
	Completed    bool   `gorm:"column:request_completed"`
	// Unix nanoseconds, so window comparisons are numeric.
	CreatedAt int64 `gorm:"column:created_at;autoCreateTime:nano;index:idx_usage_bucket_created,priority:2"`
	UpdatedAt int64 `gorm:"column:updated_at;autoUpdateTime:nano"`
}

func (usageLogRecord) TableName() string { return "request_usage_logs" }

func (r usageLogRecord) toModel() models.UsageLogEntry {
	return models.UsageLogEntry{
		ID:           r.ID,
		ModelID:      r.ModelID,
		BucketID:     r.BucketID,
		TokensInput:  r.TokensInput,
		TokensOutput: r.TokensOutput,
		Completed:    r.Completed,
		CreatedAt:    time.Unix(0, r.CreatedAt).UTC(),
		UpdatedAt:    time.Unix(0, r.UpdatedAt).UTC(),
	}
}

// InsertUsage creates a usage log. ID and CreatedAt are assigned when empty.
func (s *Store) InsertUsage(ctx context.Context, entry *models.UsageLogEntry) error {
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = s.now()
	}
	entry.UpdatedAt = entry.CreatedAt

	rec := usageLogRecord{
		ID:           entry.ID,
		ModelID:      entry.ModelID,
		BucketID:     entry.BucketID,
		TokensInput:  entry.TokensInput,
		TokensOutput: entry.TokensOutput,
		Completed:    entry.Completed,
		CreatedAt:    entry.CreatedAt.UnixNano(),
		UpdatedAt:    entry.UpdatedAt.UnixNano(),
	}
	if err := s.db.WithContext(ctx).Create(&rec).Error; err != nil {
		return fmt.Errorf("insert usage log: %w", err)
	}
	return nil
}

// FinalizeUsage sets the output token count and marks the log completed.
// A log can be finalized only once.
func (s *Store) FinalizeUsage(ctx context.Context, id string, tokensOutput int) error {
	res := s.db.WithContext(ctx).
		Model(&usageLogRecord{}).
		Where("id = ? AND request_completed = ?", id, false).
		Updates(map[string]any{
			"tokens_output":     tokensOutput,
			"request_completed": true,
			"updated_at":        s.now().UnixNano(),
		})
	if res.Error != nil {
		return fmt.Errorf("finalize usage log %s: %w", id, res.Error)
	}
	if res.RowsAffected == 1 {
		return nil
	}

	if _, err := s.GetUsage(ctx, id); err != nil {
		return err
	}
	return fmt.Errorf("%w: %s", ErrAlreadyFinalized, id)
}

// GetUsage loads a single usage log.
func (s *Store) GetUsage(ctx context.Context, id string) (models.UsageLogEntry, error) {
	var rec usageLogRecord
	err := s.db.WithContext(ctx).Where("id = ?", id).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.UsageLogEntry{}, fmt.Errorf("usage log %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return models.UsageLogEntry{}, fmt.Errorf("get usage log %s: %w", id, err)
	}
	return rec.toModel(), nil
}

// SumWindow totals input+output tokens of logs for bucketID created at or
// after since. Unfinalized logs count with their input tokens. excludeID, when
// set, leaves one log out of the sum.
func (s *Store) SumWindow(ctx context.Context, bucketID string, since time.Time, excludeID string) (int, error) {
	q := s.db.WithContext(ctx).
		Model(&usageLogRecord{}).
		Select("COALESCE(SUM(tokens_input + tokens_output), 0)").
		Where("applicable_token_bucket_id = ? AND created_at >= ?", bucketID, since.UnixNano())
	if excludeID != "" {
		q = q.Where("id <> ?", excludeID)
	}

	var total int64
	if err := q.Row().Scan(&total); err != nil {
		return 0, fmt.Errorf("sum usage window for bucket %s: %w", bucketID, err)
	}
	return int(total), nil
}

// UsageFilter narrows ListUsage.
type UsageFilter struct {
	BucketID string
	ModelID  string
	Limit    int
}

// ListUsage returns logs newest first.
func (s *Store) ListUsage(ctx context.Context, filter UsageFilter) ([]models.UsageLogEntry, error) {
	q := s.db.WithContext(ctx).Order("created_at DESC")
	if filter.BucketID != "" {
		q = q.Where("applicable_token_bucket_id = ?", filter.BucketID)
	}
	if filter.ModelID != "" {
		q = q.Where("ai_model_id = ?", filter.ModelID)
	}
	if filter.Limit > 0 {
		q = q.Limit(filter.Limit)
	}

	var recs []usageLogRecord
	if err := q.Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list usage logs: %w", err)
	}
	out := make([]models.UsageLogEntry, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.toModel())
	}
	return out, nil
}
