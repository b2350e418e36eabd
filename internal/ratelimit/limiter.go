// Package ratelimit enforces token quotas as a sliding-window sum over the
// usage log. Nothing is decremented in place: every decision recomputes the
// window from stored entries.
//
// Reads and decisions take no lock. Two concurrent requests against the same
// bucket may each miss the other's freshly inserted log entry and both be
// admitted; enforcement is approximate under concurrency.
package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"paig-gateway/internal/logger"
	"paig-gateway/internal/models"
	"paig-gateway/internal/store"
)

// ErrNoBucket means no policy covers the owner/model/access triple. Callers
// choose whether that means "unrestricted" or "not found".
var ErrNoBucket = errors.New("no token bucket for owner and model")

// UsageReader is the subset of the store the limiter reads.
type UsageReader interface {
	FindBucket(ctx context.Context, owner, modelID string, access models.AccessClass) (models.TokenBucket, error)
	SumWindow(ctx context.Context, bucketID string, since time.Time, excludeID string) (int, error)
}

// Request is a proposed spend against a quota.
type Request struct {
	Owner   string
	ModelID string
	Tokens  int
	Access  models.AccessClass
	// ExcludeLogID leaves the caller's own, already-logged entry out of the sum.
	ExcludeLogID string
}

// Decision is the outcome of an admission check.
type Decision struct {
	Allowed     bool
	Bucket      models.TokenBucket
	Used        int
	Requested   int
	Remaining   int
	WindowStart time.Time
}

// Limiter evaluates quota decisions.
type Limiter struct {
	usage UsageReader
	now   func() time.Time
	log   zerolog.Logger
}

// Option customises a Limiter.
type Option func(*Limiter)

// WithClock overrides the time source for window computation.
func WithClock(now func() time.Time) Option {
	return func(l *Limiter) { l.now = now }
}

// New constructs a Limiter over usage.
func New(usage UsageReader, log zerolog.Logger, opts ...Option) *Limiter {
	l := &Limiter{
		usage: usage,
		now:   func() time.Time { return time.Now().UTC() },
		log:   logger.Component(log, "ratelimit"),
	}
	for _, opt := range opts {
		opt(l)
	}
	return l
}

// Admit resolves the bucket for req and decides it. Returns ErrNoBucket when
// no policy applies.
func (l *Limiter) Admit(ctx context.Context, req Request) (Decision, error) {
	bucket, err := l.Bucket(ctx, req.Owner, req.ModelID, req.Access)
	if err != nil {
		return Decision{}, err
	}
	return l.AdmitBucket(ctx, bucket, req.Tokens, req.ExcludeLogID)
}

// Bucket looks up the policy for an owner/model/access triple.
func (l *Limiter) Bucket(ctx context.Context, owner, modelID string, access models.AccessClass) (models.TokenBucket, error) {
	bucket, err := l.usage.FindBucket(ctx, owner, modelID, access)
	if errors.Is(err, store.ErrNotFound) {
		return models.TokenBucket{}, fmt.Errorf("%w: owner=%s model=%s access=%s", ErrNoBucket, owner, modelID, access)
	}
	if err != nil {
		return models.TokenBucket{}, err
	}
	return bucket, nil
}

// AdmitBucket decides a proposal of tokens against an already resolved bucket.
// A request that lands exactly on the limit is admitted.
func (l *Limiter) AdmitBucket(ctx context.Context, bucket models.TokenBucket, tokens int, excludeLogID string) (Decision, error) {
	windowStart := l.now().Add(-bucket.Window)

	used, err := l.usage.SumWindow(ctx, bucket.ID, windowStart, excludeLogID)
	if err != nil {
		return Decision{}, fmt.Errorf("compute window usage: %w", err)
	}

	d := Decision{
		Allowed:     used+tokens <= bucket.MaxTokensInWindow,
		Bucket:      bucket,
		Used:        used,
		Requested:   tokens,
		Remaining:   max(bucket.MaxTokensInWindow-used, 0),
		WindowStart: windowStart,
	}

	if !d.Allowed {
		l.log.Info().
			Str("bucket_id", bucket.ID).
			Str("owner", bucket.Owner).
			Int("used", used).
			Int("requested", tokens).
			Int("limit", bucket.MaxTokensInWindow).
			Msg("token quota exceeded")
	}
	return d, nil
}

// Status reports current window usage without proposing a spend.
func (l *Limiter) Status(ctx context.Context, owner, modelID string, access models.AccessClass) (Decision, error) {
	return l.Admit(ctx, Request{Owner: owner, ModelID: modelID, Access: access})
}
