package models

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

// DefaultMaxOutputTokens applies when a model descriptor carries no explicit limit.
const DefaultMaxOutputTokens = 2048

// ProviderKind names the upstream wire protocol a model is served through.
type ProviderKind string

const (
	ProviderOpenAI    ProviderKind = "OpenAI"
	ProviderAnthropic ProviderKind = "Anthropic"
	// Recognised in stored descriptors but without an adapter.
	ProviderAzureOpenAI ProviderKind = "AzureOpenAI"
	ProviderGoogle      ProviderKind = "Google"
)

// Known reports whether the kind is one the model table may legitimately hold.
func (k ProviderKind) Known() bool {
	switch k {
	case ProviderOpenAI, ProviderAnthropic, ProviderAzureOpenAI, ProviderGoogle:
		return true
	}
	return false
}

// AccessClass separates interactive and programmatic quota pools.
type AccessClass string

const (
	AccessUI  AccessClass = "ui-access"
	AccessAPI AccessClass = "api-access"
)

// ParseAccessClass accepts both the stored form and the short "ui"/"api" aliases.
func ParseAccessClass(s string) (AccessClass, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ui", string(AccessUI):
		return AccessUI, nil
	case "api", string(AccessAPI):
		return AccessAPI, nil
	}
	return "", fmt.Errorf("unknown access class %q", s)
}

// AiModelDescriptor is the registry view of a model.
type AiModelDescriptor struct {
	ModelID         string
	Provider        ProviderKind
	MaxOutputTokens *int
	CreatedAt       time.Time
}

// EffectiveMaxTokens returns the per-request output cap sent upstream.
func (d AiModelDescriptor) EffectiveMaxTokens() int {
	if d.MaxOutputTokens == nil || *d.MaxOutputTokens <= 0 {
		return DefaultMaxOutputTokens
	}
	return *d.MaxOutputTokens
}

// TokenBucket is a quota policy evaluated against the usage log, not a live counter.
type TokenBucket struct {
	ID                string
	ModelIDs          []string
	Owner             string
	Window            time.Duration
	MaxTokensInWindow int
	Access            AccessClass
	CreatedAt         time.Time
}

// Applies reports whether the bucket covers the given model.
func (b TokenBucket) Applies(modelID string) bool {
	for _, id := range b.ModelIDs {
		if id == modelID {
			return true
		}
	}
	return false
}

// Validate checks the policy fields an admin may submit.
func (b TokenBucket) Validate() error {
	if strings.TrimSpace(b.Owner) == "" {
		return errors.New("bucket owner must not be empty")
	}
	if len(b.ModelIDs) == 0 {
		return errors.New("bucket must apply to at least one model")
	}
	if b.Window <= 0 {
		return errors.New("bucket window must be positive")
	}
	if b.MaxTokensInWindow < 0 {
		return errors.New("bucket max tokens must not be negative")
	}
	if b.Access != AccessUI && b.Access != AccessAPI {
		return fmt.Errorf("bucket access class %q is invalid", b.Access)
	}
	return nil
}

// UsageLogEntry records one accepted chat request.
type UsageLogEntry struct {
	ID           string
	ModelID      string
	BucketID     string
	TokensInput  int
	TokensOutput int
	Completed    bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Total is the amount the entry contributes to a window sum.
func (e UsageLogEntry) Total() int {
	return e.TokensInput + e.TokensOutput
}

// FinishReasonStop marks the end of a content block.
const FinishReasonStop = "stop"

// Chunk is the canonical streaming unit emitted to clients.
type Chunk struct {
	ID           string
	Model        string
	Created      time.Time
	Index        int
	DeltaContent *string
	DeltaRole    *string

	// Tool call fragments are relayed as the upstream sent them.
	DeltaToolCalls    json.RawMessage
	DeltaFunctionCall json.RawMessage
	DeltaRefusal      *string
	FinishReason      *string
	Fingerprint       string
}

// Completion is a whole, non-streamed assistant reply.
type Completion struct {
	ID           string
	Content      string
	FinishReason string
	Created      time.Time
}

// Usage records token accounting information.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

// TotalTokens sums prompt and completion tokens.
func (u Usage) TotalTokens() int {
	return u.PromptTokens + u.CompletionTokens
}
