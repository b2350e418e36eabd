package server

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"

	"paig-gateway/internal/apperr"
	"paig-gateway/internal/models"
	"paig-gateway/internal/store"
)

const defaultUsageLogLimit = 100

type usageLogView struct {
	ID           string    `json:"id"`
	ModelID      string    `json:"ai_model_id"`
	BucketID     string    `json:"applicable_token_bucket_id"`
	TokensInput  int       `json:"tokens_input"`
	TokensOutput int       `json:"tokens_output"`
	Completed    bool      `json:"request_completed"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// handleListAllModels lists every registered model, including ones no bucket grants.
func (s *Server) handleListAllModels(c echo.Context) error {
	descs, err := s.gw.Catalog(c.Request().Context())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, toModelList(descs))
}

func toUsageLogView(e models.UsageLogEntry) usageLogView {
	return usageLogView{
		ID:           e.ID,
		ModelID:      e.ModelID,
		BucketID:     e.BucketID,
		TokensInput:  e.TokensInput,
		TokensOutput: e.TokensOutput,
		Completed:    e.Completed,
		CreatedAt:    e.CreatedAt,
		UpdatedAt:    e.UpdatedAt,
	}
}

type bucketView struct {
	ID            string    `json:"id"`
	Owner         string    `json:"applicable_user_name"`
	ModelIDs      []string  `json:"applicable_ai_model_ids"`
	WindowSeconds int64     `json:"window_duration_secs"`
	MaxTokens     int       `json:"max_tokens_within_window"`
	Access        string    `json:"type"`
	CreatedAt     time.Time `json:"created_at"`
}

func toBucketView(b models.TokenBucket) bucketView {
	return bucketView{
		ID:            b.ID,
		Owner:         b.Owner,
		ModelIDs:      b.ModelIDs,
		WindowSeconds: int64(b.Window / time.Second),
		MaxTokens:     b.MaxTokensInWindow,
		Access:        string(b.Access),
		CreatedAt:     b.CreatedAt,
	}
}

func (s *Server) handleListUsageLogs(c echo.Context) error {
	filter := store.UsageFilter{
		BucketID: c.QueryParam("bucket_id"),
		ModelID:  c.QueryParam("model"),
		Limit:    defaultUsageLogLimit,
	}
	if raw := c.QueryParam("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			return apperr.BadRequest("limit must be a positive integer")
		}
		filter.Limit = limit
	}

	entries, err := s.admin.ListUsage(c.Request().Context(), filter)
	if err != nil {
		return apperr.Internal("list usage logs").WithCause(err)
	}

	out := listView[usageLogView]{Object: "list", Data: make([]usageLogView, 0, len(entries))}
	for _, e := range entries {
		out.Data = append(out.Data, toUsageLogView(e))
	}
	return c.JSON(http.StatusOK, out)
}

func (s *Server) handleListBuckets(c echo.Context) error {
	buckets, err := s.admin.ListBuckets(c.Request().Context(), c.QueryParam("owner"))
	if err != nil {
		return apperr.Internal("list token buckets").WithCause(err)
	}

	out := listView[bucketView]{Object: "list", Data: make([]bucketView, 0, len(buckets))}
	for _, b := range buckets {
		out.Data = append(out.Data, toBucketView(b))
	}
	return c.JSON(http.StatusOK, out)
}

type createBucketRequest struct {
	Owner         string   `json:"owner" validate:"required"`
	ModelIDs      []string `json:"model_ids" validate:"required,min=1,dive,required"`
	WindowSeconds int64    `json:"window_seconds" validate:"required,min=1"`
	MaxTokens     int      `json:"max_tokens" validate:"min=0"`
	Access        string   `json:"access" validate:"required"`
}

func (s *Server) handleCreateBucket(c echo.Context) error {
	var req createBucketRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	access, err := models.ParseAccessClass(req.Access)
	if err != nil {
		return apperr.BadRequest(err.Error()).WithCause(err)
	}

	bucket := models.TokenBucket{
		Owner:             req.Owner,
		ModelIDs:          req.ModelIDs,
		Window:            time.Duration(req.WindowSeconds) * time.Second,
		MaxTokensInWindow: req.MaxTokens,
		Access:            access,
	}
	if err := bucket.Validate(); err != nil {
		return apperr.BadRequest(err.Error()).WithCause(err)
	}
	if err := s.admin.InsertBucket(c.Request().Context(), &bucket); err != nil {
		return apperr.Internal("create token bucket").WithCause(err)
	}

	s.log.Info().
		Str("bucket_id", bucket.ID).
		Str("owner", bucket.Owner).
		Str("by", identityFrom(c).Owner).
		Msg("token bucket created")
	return c.JSON(http.StatusCreated, toBucketView(bucket))
}

type quotaCheckRequest struct {
	Owner  string `json:"owner" validate:"required"`
	Model  string `json:"model" validate:"required"`
	Access string `json:"access"`
	Tokens int    `json:"tokens" validate:"min=0"`
}

type quotaCheckView struct {
	Allowed      bool `json:"allowed"`
	Unrestricted bool `json:"unrestricted"`
	Used         int  `json:"used"`
	Requested    int  `json:"requested"`
	Remaining    *int `json:"remaining"`
	Limit        *int `json:"limit"`
}

func (s *Server) handleQuotaCheck(c echo.Context) error {
	var req quotaCheckRequest
	if err := decodeRequestBody(c, &req); err != nil {
		return err
	}
	if err := c.Validate(&req); err != nil {
		return err
	}

	access := models.AccessUI
	if req.Access != "" {
		parsed, err := models.ParseAccessClass(req.Access)
		if err != nil {
			return apperr.BadRequest(err.Error()).WithCause(err)
		}
		access = parsed
	}

	q, err := s.gw.CheckQuota(c.Request().Context(), req.Owner, req.Model, access, req.Tokens)
	if err != nil {
		return err
	}

	out := quotaCheckView{
		Allowed:      q.Allowed(),
		Unrestricted: q.Unrestricted,
		Used:         q.Decision.Used,
		Requested:    q.Decision.Requested,
	}
	if !q.Unrestricted {
		remaining, limit := q.Decision.Remaining, q.Decision.Bucket.MaxTokensInWindow
		out.Remaining = &remaining
		out.Limit = &limit
	}
	return c.JSON(http.StatusOK, out)
}
