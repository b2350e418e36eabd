// Package server exposes the gateway over an OpenAI-compatible HTTP API.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/zerolog"

	"paig-gateway/internal/config"
	"paig-gateway/internal/gateway"
	"paig-gateway/internal/logger"
	"paig-gateway/internal/models"
	"paig-gateway/internal/ratelimit"
	"paig-gateway/internal/store"
)

const (
	maxBodyBytes        = 1 << 20 // 1 MiB
	shutdownGracePeriod = 10 * time.Second
	readTimeout         = 30 * time.Second
	idleTimeout         = 120 * time.Second
)

// Gateway is the dispatch surface the handlers call.
type Gateway interface {
	Chat(ctx context.Context, req models.ChatRequest) (*gateway.Result, error)
	ListModels(ctx context.Context, owner string, access models.AccessClass) ([]models.AiModelDescriptor, error)
	Catalog(ctx context.Context) ([]models.AiModelDescriptor, error)
	Usage(ctx context.Context, owner, modelID string, access models.AccessClass) (ratelimit.Decision, error)
	CheckQuota(ctx context.Context, owner, modelID string, access models.AccessClass, tokens int) (gateway.QuotaCheck, error)
}

// AdminStore backs the audit and bucket management routes.
type AdminStore interface {
	ListUsage(ctx context.Context, filter store.UsageFilter) ([]models.UsageLogEntry, error)
	ListBuckets(ctx context.Context, owner string) ([]models.TokenBucket, error)
	InsertBucket(ctx context.Context, bucket *models.TokenBucket) error
	Ping(ctx context.Context) error
}

// Identity is the verified caller attached to a request by key auth.
type Identity struct {
	Owner  string
	Access models.AccessClass
	Admin  bool
}

type Server struct {
	cfg     config.Config
	gw      Gateway
	admin   AdminStore
	keys    map[string]Identity
	app     *echo.Echo
	log     zerolog.Logger
	address string
}

// New constructs an HTTP server wired with routing and middleware.
func New(cfg config.Config, gw Gateway, admin AdminStore, log zerolog.Logger) (*Server, error) {
	if gw == nil {
		return nil, errors.New("gateway must not be nil")
	}
	if admin == nil {
		return nil, errors.New("admin store must not be nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	keys, err := identities(cfg.APIKeys)
	if err != nil {
		return nil, err
	}

	srv := &Server{
		cfg:     cfg,
		gw:      gw,
		admin:   admin,
		keys:    keys,
		log:     logger.Component(log, "server"),
		address: fmt.Sprintf(":%d", cfg.Server.Port),
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.HTTPErrorHandler = srv.openAIErrorHandler
	e.Validator = newBodyValidator()

	e.Pre(middleware.RemoveTrailingSlash())
	e.Use(middleware.Recover())
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogLatency:  true,
		LogMethod:   true,
		LogURI:      true,
		LogStatus:   true,
		LogError:    true,
		HandleError: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			event := srv.log.Info()
			if v.Error != nil {
				event = srv.log.Warn().Err(v.Error)
			}
			event.
				Str("method", v.Method).
				Str("uri", v.URI).
				Int("status", v.Status).
				Int64("latency_ms", v.Latency.Milliseconds()).
				Msg("request")
			return nil
		},
	}))
	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		HSTSMaxAge:            31536000,
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'; form-action 'none'",
	}))

	srv.app = e
	srv.registerRoutes()

	return srv, nil
}

func identities(keys []config.APIKeyConfig) (map[string]Identity, error) {
	out := make(map[string]Identity, len(keys))
	for _, k := range keys {
		access := models.AccessAPI
		if k.Access != "" {
			parsed, err := models.ParseAccessClass(k.Access)
			if err != nil {
				return nil, fmt.Errorf("api key for %s: %w", k.Owner, err)
			}
			access = parsed
		}
		out[k.Key] = Identity{Owner: k.Owner, Access: access, Admin: k.Admin}
	}
	return out, nil
}

// Handler exposes the routed echo instance.
func (s *Server) Handler() http.Handler { return s.app }

// Run starts the HTTP server and blocks until the context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	printStartupBanner(s.cfg.Server.Port)
	s.log.Info().Str("addr", s.address).Msg("starting server")

	// No write timeout: streamed completions can outlive any fixed deadline.
	httpServer := &http.Server{
		Addr:        s.address,
		Handler:     s.app,
		ReadTimeout: readTimeout,
		IdleTimeout: idleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		if err := s.app.StartServer(httpServer); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownGracePeriod)
		defer cancel()
		if err := s.app.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}
		s.log.Info().Msg("server shutdown complete")
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) registerRoutes() {
	s.app.GET("/health", s.handleHealth)

	v1 := s.app.Group("/v1", s.keyAuth())
	v1.POST("/chat/completions", s.handleChatCompletions)
	v1.GET("/models", s.handleListModels)
	v1.GET("/usage", s.handleUsage)

	admin := v1.Group("/admin", requireAdmin)
	admin.GET("/models", s.handleListAllModels)
	admin.GET("/usage-logs", s.handleListUsageLogs)
	admin.GET("/token-buckets", s.handleListBuckets)
	admin.POST("/token-buckets", s.handleCreateBucket)
	admin.POST("/quota/check", s.handleQuotaCheck)
}

func (s *Server) handleHealth(c echo.Context) error {
	ctx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
	defer cancel()

	if err := s.admin.Ping(ctx); err != nil {
		s.log.Warn().Err(err).Msg("database ping failed")
		return c.JSON(http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
	}
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

func printStartupBanner(port int) {
	host := "127.0.0.1"
	fmt.Println()
	fmt.Println("paig-gateway ready")
	fmt.Printf("Listening on http://%s:%d\n", host, port)
	fmt.Println("Endpoints:")
	fmt.Println("  GET  /health")
	fmt.Println("  POST /v1/chat/completions")
	fmt.Println("  GET  /v1/models")
	fmt.Println("  GET  /v1/usage?model=<id>")
	fmt.Println("  GET  /v1/admin/usage-logs")
	fmt.Println("  GET  /v1/admin/token-buckets")
	fmt.Println("  POST /v1/admin/token-buckets")
	fmt.Println("  POST /v1/admin/quota/check")
	fmt.Printf("Example:\n  curl http://%s:%d/v1/chat/completions -H 'Authorization: Bearer <key>' -H 'Content-Type: application/json' -d '{\"model\":\"gpt-4o-mini\",\"messages\":[{\"role\":\"user\",\"content\":\"hello\"}]}'\n\n", host, port)
}
