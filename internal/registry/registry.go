// Package registry resolves model identifiers to descriptors.
package registry

import (
	"context"
	"errors"
	"fmt"

	"paig-gateway/internal/models"
	"paig-gateway/internal/store"
)

// ErrUnknownModel is returned when no descriptor exists for the id.
var ErrUnknownModel = errors.New("unknown model")

// Resolver looks up model descriptors.
type Resolver interface {
	Resolve(ctx context.Context, modelID string) (models.AiModelDescriptor, error)
	List(ctx context.Context) ([]models.AiModelDescriptor, error)
}

// ModelSource is the part of the store the registry reads.
type ModelSource interface {
	GetModel(ctx context.Context, modelID string) (models.AiModelDescriptor, error)
	ListModels(ctx context.Context) ([]models.AiModelDescriptor, error)
}

// ModelRegistry reads descriptors straight from the store.
type ModelRegistry struct {
	src ModelSource
}

// New builds a ModelRegistry over src.
func New(src ModelSource) *ModelRegistry {
	return &ModelRegistry{src: src}
}

// Resolve returns the descriptor for modelID or ErrUnknownModel.
func (r *ModelRegistry) Resolve(ctx context.Context, modelID string) (models.AiModelDescriptor, error) {
	desc, err := r.src.GetModel(ctx, modelID)
	if errors.Is(err, store.ErrNotFound) {
		return models.AiModelDescriptor{}, fmt.Errorf("%w: %s", ErrUnknownModel, modelID)
	}
	if err != nil {
		return models.AiModelDescriptor{}, err
	}
	return desc, nil
}

// List returns every known descriptor.
func (r *ModelRegistry) List(ctx context.Context) ([]models.AiModelDescriptor, error) {
	return r.src.ListModels(ctx)
}
