// Package gateway orchestrates a chat completion: validation, token counting,
// quota admission, model resolution and provider dispatch.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"paig-gateway/internal/apperr"
	"paig-gateway/internal/logger"
	"paig-gateway/internal/models"
	"paig-gateway/internal/provider"
	"paig-gateway/internal/ratelimit"
	"paig-gateway/internal/registry"
	"paig-gateway/internal/translator"
)

// UsageLog is the write side of the usage store.
type UsageLog interface {
	InsertUsage(ctx context.Context, entry *models.UsageLogEntry) error
	FinalizeUsage(ctx context.Context, id string, tokensOutput int) error
}

// Quota decides admission against token buckets.
type Quota interface {
	Bucket(ctx context.Context, owner, modelID string, access models.AccessClass) (models.TokenBucket, error)
	AdmitBucket(ctx context.Context, bucket models.TokenBucket, tokens int, excludeLogID string) (ratelimit.Decision, error)
	Admit(ctx context.Context, req ratelimit.Request) (ratelimit.Decision, error)
	Status(ctx context.Context, owner, modelID string, access models.AccessClass) (ratelimit.Decision, error)
}

// AdapterLookup selects a provider adapter by kind.
type AdapterLookup interface {
	Lookup(kind models.ProviderKind) (provider.Adapter, error)
}

// Grants lists the models an owner's buckets cover.
type Grants interface {
	ModelIDsForOwner(ctx context.Context, owner string, access models.AccessClass) ([]string, error)
}

// Deps are the collaborators a Gateway is built from.
type Deps struct {
	Counter  translator.TokenCounter
	Usage    UsageLog
	Quota    Quota
	Models   registry.Resolver
	Adapters AdapterLookup
	Grants   Grants
}

func (d Deps) validate() error {
	switch {
	case d.Counter == nil:
		return errors.New("token counter must not be nil")
	case d.Usage == nil:
		return errors.New("usage log must not be nil")
	case d.Quota == nil:
		return errors.New("quota must not be nil")
	case d.Models == nil:
		return errors.New("model registry must not be nil")
	case d.Adapters == nil:
		return errors.New("adapter table must not be nil")
	case d.Grants == nil:
		return errors.New("grants must not be nil")
	}
	return nil
}

// Result is the outcome of Chat: exactly one of Stream or Response is set.
type Result struct {
	LogID        string
	PromptTokens int
	Stream       *translator.Stream
	Response     *translator.ChatCompletionResponse
}

// Gateway dispatches chat requests to upstream providers.
type Gateway struct {
	deps Deps
	log  zerolog.Logger
	now  func() time.Time
}

// New constructs a gateway from its collaborators.
func New(deps Deps, log zerolog.Logger) (*Gateway, error) {
	if err := deps.validate(); err != nil {
		return nil, err
	}
	return &Gateway{
		deps: deps,
		log:  logger.Component(log, "gateway"),
		now:  func() time.Time { return time.Now().UTC() },
	}, nil
}

// Chat runs one request through the pipeline. The usage log entry is created
// before admission so concurrent requests see each other's input tokens; a
// denied or failed request leaves its entry uncompleted.
func (g *Gateway) Chat(ctx context.Context, req models.ChatRequest) (*Result, error) {
	if err := req.Validate(); err != nil {
		return nil, apperr.BadRequest(err.Error()).WithCause(err)
	}

	promptTokens := g.deps.Counter.Count(req.Text())

	bucket, err := g.deps.Quota.Bucket(ctx, req.RequesterIdentity, req.ModelID, req.Access)
	if errors.Is(err, ratelimit.ErrNoBucket) {
		return nil, apperr.NotFound("Token bucket not found for user and model").WithCause(err)
	}
	if err != nil {
		return nil, apperr.Internal("resolve token bucket").WithCause(err)
	}

	entry := models.UsageLogEntry{
		ModelID:     req.ModelID,
		BucketID:    bucket.ID,
		TokensInput: promptTokens,
	}
	if err := g.deps.Usage.InsertUsage(ctx, &entry); err != nil {
		return nil, apperr.Internal("record usage").WithCause(err)
	}

	log := g.log.With().
		Str("owner", req.RequesterIdentity).
		Str("model", req.ModelID).
		Str("usage_log_id", entry.ID).
		Logger()

	decision, err := g.deps.Quota.AdmitBucket(ctx, bucket, promptTokens, entry.ID)
	if err != nil {
		return nil, apperr.Internal("check token quota").WithCause(err)
	}
	if !decision.Allowed {
		return nil, apperr.QuotaExceeded("Token limit exceeded").
			WithDetail("used", decision.Used).
			WithDetail("requested", decision.Requested).
			WithDetail("limit", bucket.MaxTokensInWindow)
	}

	desc, err := g.deps.Models.Resolve(ctx, req.ModelID)
	if errors.Is(err, registry.ErrUnknownModel) {
		return nil, apperr.NotFound(fmt.Sprintf("model %s not found", req.ModelID)).WithCause(err)
	}
	if err != nil {
		return nil, apperr.Internal("resolve model").WithCause(err)
	}

	adapter, err := g.deps.Adapters.Lookup(desc.Provider)
	if err != nil {
		return nil, apperr.BadRequest("Unsupported model provider").WithCause(err)
	}

	var framer translator.Framer
	if req.Stream {
		framer, err = translator.FramerFor(desc.Provider, g.deps.Counter)
		if err != nil {
			return nil, apperr.BadRequest("Unsupported model provider").WithCause(err)
		}
	}

	log.Debug().
		Str("provider", string(desc.Provider)).
		Int("prompt_tokens", promptTokens).
		Bool("stream", req.Stream).
		Msg("dispatching chat request")

	resp, err := adapter.Send(ctx, provider.Request{
		Model:    desc,
		Messages: req.Messages,
		Stream:   req.Stream,
	})
	if err != nil {
		log.Warn().Err(err).Msg("upstream call failed")
		return nil, upstreamError(err)
	}

	result := &Result{LogID: entry.ID, PromptTokens: promptTokens}

	if req.Stream {
		if resp.Stream == nil {
			return nil, apperr.Internal("provider returned no stream")
		}
		result.Stream = translator.NewStream(ctx, resp.Stream, framer, translator.StreamConfig{
			ID:      translator.NewCompletionID(),
			Model:   desc.ModelID,
			Created: g.now(),
			LogID:   entry.ID,
			Usage:   g.deps.Usage,
			Logger:  log,
		})
		return result, nil
	}

	if resp.Completion == nil {
		if resp.Stream != nil {
			_ = resp.Stream.Close()
		}
		return nil, apperr.Internal("provider returned no completion")
	}

	completionTokens := g.deps.Counter.Count(resp.Completion.Content)
	if err := g.deps.Usage.FinalizeUsage(ctx, entry.ID, completionTokens); err != nil {
		return nil, apperr.Internal("finalize usage").WithCause(err)
	}

	body := translator.FromCompletion(translator.NewCompletionID(), desc.ModelID, resp.Completion, models.Usage{
		PromptTokens:     promptTokens,
		CompletionTokens: completionTokens,
	})
	result.Response = &body
	return result, nil
}

func upstreamError(err error) error {
	var statusErr *provider.StatusError
	switch {
	case errors.As(err, &statusErr):
		return apperr.Upstream(statusErr.StatusCode, fmt.Sprintf("upstream provider returned status %d", statusErr.StatusCode)).
			WithCause(err).
			WithDetail("upstream_status", statusErr.StatusCode)
	case errors.Is(err, provider.ErrInvalidRequest):
		return apperr.BadRequest(err.Error()).WithCause(err)
	case errors.Is(err, provider.ErrMalformedResponse):
		return apperr.Upstream(http.StatusBadGateway, "upstream provider returned a malformed response").WithCause(err)
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return apperr.Transport("upstream request cancelled").WithCause(err)
	default:
		return apperr.Transport("upstream request failed").WithCause(err)
	}
}

// ListModels returns the descriptors of models the owner's buckets cover for
// the given access class. Ids without a descriptor are skipped.
func (g *Gateway) ListModels(ctx context.Context, owner string, access models.AccessClass) ([]models.AiModelDescriptor, error) {
	ids, err := g.deps.Grants.ModelIDsForOwner(ctx, owner, access)
	if err != nil {
		return nil, apperr.Internal("list granted models").WithCause(err)
	}

	out := make([]models.AiModelDescriptor, 0, len(ids))
	for _, id := range ids {
		desc, err := g.deps.Models.Resolve(ctx, id)
		if errors.Is(err, registry.ErrUnknownModel) {
			g.log.Warn().Str("model", id).Str("owner", owner).Msg("bucket references unknown model")
			continue
		}
		if err != nil {
			return nil, apperr.Internal("resolve model").WithCause(err)
		}
		out = append(out, desc)
	}
	return out, nil
}

// Catalog returns every known descriptor, granted or not.
func (g *Gateway) Catalog(ctx context.Context) ([]models.AiModelDescriptor, error) {
	descs, err := g.deps.Models.List(ctx)
	if err != nil {
		return nil, apperr.Internal("list models").WithCause(err)
	}
	return descs, nil
}

// Usage reports the caller's window usage for a model. A missing bucket is
// NotFound on this path.
func (g *Gateway) Usage(ctx context.Context, owner, modelID string, access models.AccessClass) (ratelimit.Decision, error) {
	if modelID == "" {
		return ratelimit.Decision{}, apperr.BadRequest("model is required")
	}
	d, err := g.deps.Quota.Status(ctx, owner, modelID, access)
	if errors.Is(err, ratelimit.ErrNoBucket) {
		return ratelimit.Decision{}, apperr.NotFound("Token bucket not found for user and model").WithCause(err)
	}
	if err != nil {
		return ratelimit.Decision{}, apperr.Internal("read usage").WithCause(err)
	}
	return d, nil
}

// QuotaCheck is the admin view of an admission decision.
type QuotaCheck struct {
	Unrestricted bool
	Decision     ratelimit.Decision
}

// Allowed reports whether the proposal would be admitted.
func (q QuotaCheck) Allowed() bool {
	return q.Unrestricted || q.Decision.Allowed
}

// CheckQuota evaluates a hypothetical spend without logging it. A missing
// bucket means no limit applies.
func (g *Gateway) CheckQuota(ctx context.Context, owner, modelID string, access models.AccessClass, tokens int) (QuotaCheck, error) {
	if owner == "" || modelID == "" {
		return QuotaCheck{}, apperr.BadRequest("owner and model are required")
	}
	if tokens < 0 {
		return QuotaCheck{}, apperr.BadRequest("tokens must not be negative")
	}

	d, err := g.deps.Quota.Admit(ctx, ratelimit.Request{Owner: owner, ModelID: modelID, Tokens: tokens, Access: access})
	if errors.Is(err, ratelimit.ErrNoBucket) {
		return QuotaCheck{Unrestricted: true, Decision: ratelimit.Decision{Allowed: true, Requested: tokens}}, nil
	}
	if err != nil {
		return QuotaCheck{}, apperr.Internal("check token quota").WithCause(err)
	}
	return QuotaCheck{Decision: d}, nil
}
