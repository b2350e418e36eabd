package openai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"paig-gateway/internal/config"
	"paig-gateway/internal/models"
	"paig-gateway/internal/provider"
)

// Temperature is fixed for every upstream call.
const Temperature = 0.7

// Provider implements provider.Adapter for OpenAI-compatible APIs.
type Provider struct {
	apiKey  string
	headers map[string]string
	client  *http.Client
	chatURL string
	now     func() time.Time
}

// New creates a new OpenAI adapter.
func New(cfg config.ProviderConfig, client *http.Client) (*Provider, error) {
	if client == nil {
		return nil, errors.New("http client must not be nil")
	}

	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		return nil, errors.New("base url must not be empty")
	}

	return &Provider{
		apiKey:  cfg.APIKey,
		headers: cfg.Headers,
		client:  client,
		chatURL: baseURL + "/chat/completions",
		now:     time.Now,
	}, nil
}

func (p *Provider) Kind() models.ProviderKind {
	return models.ProviderOpenAI
}

// Send forwards messages verbatim. Streaming calls return the raw SSE body.
func (p *Provider) Send(ctx context.Context, req provider.Request) (*provider.Response, error) {
	payload := chatPayload{
		Model:       req.Model.ModelID,
		Messages:    req.Messages,
		MaxTokens:   req.Model.EffectiveMaxTokens(),
		Temperature: Temperature,
		Stream:      req.Stream,
	}

	httpReq, err := provider.NewJSONRequest(ctx, p.chatURL, payload)
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Authorization", "Bearer "+p.apiKey)
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

	var providerResp chatResponse
	if err := provider.DecodeJSON(httpResp.Body, &providerResp); err != nil {
		return nil, err
	}
	completion, err := providerResp.toCompletion(p.now)
	if err != nil {
		return nil, err
	}
	return &provider.Response{Completion: completion}, nil
}

type chatPayload struct {
	Model       string           `json:"model"`
	Messages    []models.Message `json:"messages"`
	MaxTokens   int              `json:"max_tokens"`
	Temperature float64          `json:"temperature"`
	Stream      bool             `json:"stream"`
}

type chatResponse struct {
	ID      string       `json:"id"`
	Created int64        `json:"created"`
	Choices []chatChoice `json:"choices"`
}

type chatChoice struct {
	Index        int            `json:"index"`
	Message      responseAnswer `json:"message"`
	FinishReason string         `json:"finish_reason"`
}

type responseAnswer struct {
	Role    string  `json:"role"`
	Content *string `json:"content"`
}

func (r chatResponse) toCompletion(now func() time.Time) (*models.Completion, error) {
	if len(r.Choices) == 0 {
		return nil, fmt.Errorf("%w: openai response did not include choices", provider.ErrMalformedResponse)
	}

	choice := r.Choices[0]
	created := now()
	if r.Created > 0 {
		created = time.Unix(r.Created, 0)
	}
	content := ""
	if choice.Message.Content != nil {
		content = *choice.Message.Content
	}
	return &models.Completion{
		ID:           r.ID,
		Content:      content,
		FinishReason: choice.FinishReason,
		Created:      created.UTC(),
	}, nil
}
