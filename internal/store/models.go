package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"paig-gateway/internal/models"
)

type aiModelRecord struct {
	ModelID   string `gorm:"column:provider_id;primaryKey"`
	Provider  string `gorm:"column:provider"`
	MaxTokens *int   `gorm:"column:max_tokens"`
	CreatedAt int64  `gorm:"column:created_at;autoCreateTime:nano"`
	UpdatedAt int64  `gorm:"column:updated_at;autoUpdateTime:nano"`
}

func (aiModelRecord) TableName() string { return "ai_models" }

func (r aiModelRecord) toModel() models.AiModelDescriptor {
	return models.AiModelDescriptor{
		ModelID:         r.ModelID,
		Provider:        models.ProviderKind(r.Provider),
		MaxOutputTokens: r.MaxTokens,
		CreatedAt:       time.Unix(0, r.CreatedAt).UTC(),
	}
}

// GetModel loads the descriptor for modelID.
func (s *Store) GetModel(ctx context.Context, modelID string) (models.AiModelDescriptor, error) {
	var rec aiModelRecord
	err := s.db.WithContext(ctx).Where("provider_id = ?", modelID).Take(&rec).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.AiModelDescriptor{}, fmt.Errorf("model %s: %w", modelID, ErrNotFound)
	}
	if err != nil {
		return models.AiModelDescriptor{}, fmt.Errorf("get model %s: %w", modelID, err)
	}
	return rec.toModel(), nil
}

// ListModels returns every descriptor ordered by id.
func (s *Store) ListModels(ctx context.Context) ([]models.AiModelDescriptor, error) {
	var recs []aiModelRecord
	if err := s.db.WithContext(ctx).Order("provider_id ASC").Find(&recs).Error; err != nil {
		return nil, fmt.Errorf("list models: %w", err)
	}
	out := make([]models.AiModelDescriptor, 0, len(recs))
	for _, rec := range recs {
		out = append(out, rec.toModel())
	}
	return out, nil
}

// CountModels reports how many descriptors exist.
func (s *Store) CountModels(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.WithContext(ctx).Model(&aiModelRecord{}).Count(&n).Error; err != nil {
		return 0, fmt.Errorf("count models: %w", err)
	}
	return n, nil
}

// UpsertModel inserts or replaces a descriptor.
func (s *Store) UpsertModel(ctx context.Context, desc models.AiModelDescriptor) error {
	if desc.CreatedAt.IsZero() {
		desc.CreatedAt = s.now()
	}
	rec := aiModelRecord{
		ModelID:   desc.ModelID,
		Provider:  string(desc.Provider),
		MaxTokens: desc.MaxOutputTokens,
		CreatedAt: desc.CreatedAt.UnixNano(),
		UpdatedAt: s.now().UnixNano(),
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "provider_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"provider", "max_tokens", "updated_at"}),
	}).Create(&rec).Error
	if err != nil {
		return fmt.Errorf("upsert model %s: %w", desc.ModelID, err)
	}
	return nil
}
