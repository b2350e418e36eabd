package anthropic

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"paig-gateway/internal/config"
	"paig-gateway/internal/models"
	"paig-gateway/internal/provider"
)

// DefaultVersion is sent as anthropic-version when the config leaves it blank.
const DefaultVersion = "2023-06-01"

// Provider implements provider.Adapter for the Anthropic messages API.
type Provider struct {
	apiKey   string
	version  string
	headers  map[string]string
	client   *http.Client
	messages string
	now      func() time.Time
}

// New constructs an Anthropic adapter.
func New(cfg config.ProviderConfig, client *http.Client) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}
	version := cfg.Version
	if version == "" {
		version = DefaultVersion
	}

	return &Provider{
		apiKey:   cfg.APIKey,
		version:  version,
		headers:  cfg.Headers,
		client:   client,
		messages: baseURL + "/v1/messages",
		now:      time.Now,
	}, nil
}

func (p *Provider) Kind() models.ProviderKind {
	return models.ProviderAnthropic
}

// Send reshapes the conversation for the messages endpoint and posts it.
// Streaming calls return the raw event stream.
func (p *Provider) Send(ctx context.Context, req provider.Request) (*provider.Response, error) {
	payload, err := buildPayload(req)
	if err != nil {
		return nil, err
	}

	httpReq, err := provider.NewJSONRequest(ctx, p.messages, payload)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("x-api-key", p.apiKey)
	httpReq.Header.Set("anthropic-version", p.version)
	if req.Stream {
		httpReq.Header.Set("Accept", "text/event-stream")
	} else {
		httpReq.Header.Set("Accept", provider.ContentTypeJSON)
	}
	for k, v := range p.headers {
		httpReq.Header.Set(k, v)
	}

	httpResp, err := provider.Do(p.client, p.Kind(), httpReq)
	if err != nil {
		return nil, err
	}

	if req.Stream {
		return &provider.Response{Stream: httpResp.Body}, nil
	}
	defer httpResp.Body.Close()

	var providerResp messageResponse
	if err := provider.DecodeJSON(httpResp.Body, &providerResp); err != nil {
		return nil, err
	}
	return &provider.Response{Completion: providerResp.toCompletion(p.now())}, nil
}

type messageResponse struct {
	ID         string         `json:"id"`
	Role       string         `json:"role"`
	Content    []contentBlock `json:"content"`
	StopReason string         `json:"stop_reason"`
}

type contentBlock struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// Text blocks are concatenated; other block types are dropped.
func (r messageResponse) toCompletion(now time.Time) *models.Completion {
	var text strings.Builder
	for _, block := range r.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}
	return &models.Completion{
		ID:           r.ID,
		Content:      text.String(),
		FinishReason: finishReason(r.StopReason),
		Created:      now.UTC(),
	}
}

func finishReason(stop string) string {
	switch stop {
	case "max_tokens":
		return "length"
	case "tool_use":
		return "tool_calls"
	default:
		return models.FinishReasonStop
	}
}
