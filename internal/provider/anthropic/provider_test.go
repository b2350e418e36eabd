package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paig-gateway/internal/config"
	"paig-gateway/internal/models"
	"paig-gateway/internal/provider"
)

var sonnet = models.AiModelDescriptor{ModelID: "claude-3-5-sonnet-20240620", Provider: models.ProviderAnthropic}

func TestBuildPayload_DropsLeadingMessage(t *testing.T) {
	req := provider.Request{
		Model: sonnet,
		Messages: []models.Message{
			models.SystemMessage{Content: models.TextContent("be terse")},
			models.UserMessage{Content: models.TextContent("hi")},
			models.AssistantMessage{Content: models.TextContent("hello")},
			models.ToolMessage{Content: models.TextContent("42"), ToolCallID: "call_1"},
		},
	}

	payload, err := buildPayload(req)
	require.NoError(t, err)
	assert.Equal(t, "be terse", payload.System)
	assert.Equal(t, models.DefaultMaxOutputTokens, payload.MaxTokens)
	require.Len(t, payload.Messages, 3)
	assert.Equal(t, "user", payload.Messages[0].Role)
	assert.JSONEq(t, `"hi"`, string(payload.Messages[0].Content))
	assert.Equal(t, "assistant", payload.Messages[1].Role)
	assert.Equal(t, "user", payload.Messages[2].Role)
}

func TestBuildPayload_LeadingUserMessageDropped(t *testing.T) {
	req := provider.Request{
		Model: sonnet,
		Messages: []models.Message{
			models.UserMessage{Content: models.TextContent("first")},
			models.UserMessage{Content: models.TextContent("second")},
		},
	}

	payload, err := buildPayload(req)
	require.NoError(t, err)
	assert.Empty(t, payload.System)
	require.Len(t, payload.Messages, 1)
	assert.JSONEq(t, `"second"`, string(payload.Messages[0].Content))
}

func TestBuildPayload_RequiresFollowingMessage(t *testing.T) {
	_, err := buildPayload(provider.Request{
		Model:    sonnet,
		Messages: []models.Message{models.SystemMessage{Content: models.TextContent("only")}},
	})
	assert.ErrorIs(t, err, provider.ErrInvalidRequest)
}

func TestBuildPayload_RewritesDataURLImages(t *testing.T) {
	req := provider.Request{
		Model: sonnet,
		Messages: []models.Message{
			models.SystemMessage{Content: models.TextContent("sys")},
			models.UserMessage{Content: models.PartsContent(
				models.TextPart{Text: "what is this"},
				models.ImagePart{URL: "data:image/jpeg;base64,/9j/4AAQ"},
				models.ImagePart{URL: "https://example.com/cat.png"},
			)},
		},
	}

	payload, err := buildPayload(req)
	require.NoError(t, err)
	require.Len(t, payload.Messages, 1)
	assert.JSONEq(t, `[
		{"type":"text","text":"what is this"},
		{"type":"image","source":{"type":"base64","media_type":"image/jpeg","data":"/9j/4AAQ"}},
		{"type":"image","source":{"type":"url","url":"https://example.com/cat.png"}}
	]`, string(payload.Messages[0].Content))
}

func TestImageSourceFor_Malformed(t *testing.T) {
	_, err := imageSourceFor("data:image/png;base64")
	assert.ErrorIs(t, err, provider.ErrInvalidRequest)

	_, err = imageSourceFor("data:;base64,AAAA")
	assert.ErrorIs(t, err, provider.ErrInvalidRequest)
}

func newTestProvider(t *testing.T, handler http.HandlerFunc) *Provider {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)

	p, err := New(config.ProviderConfig{APIKey: "ak-test", BaseURL: srv.URL}, srv.Client())
	require.NoError(t, err)
	return p
}

func TestSend_StreamReturnsBody(t *testing.T) {
	var gotHeaders http.Header
	var gotBody map[string]any
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		gotHeaders = r.Header.Clone()
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "text/event-stream")
		_, _ = io.WriteString(w, "event: message_stop\ndata: {}\n\n")
	})

	resp, err := p.Send(context.Background(), provider.Request{
		Model: sonnet,
		Messages: []models.Message{
			models.SystemMessage{Content: models.TextContent("sys")},
			models.UserMessage{Content: models.TextContent("hi")},
		},
		Stream: true,
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Stream)
	defer resp.Stream.Close()

	raw, err := io.ReadAll(resp.Stream)
	require.NoError(t, err)
	assert.Contains(t, string(raw), "message_stop")

	assert.Equal(t, "ak-test", gotHeaders.Get("x-api-key"))
	assert.Equal(t, DefaultVersion, gotHeaders.Get("anthropic-version"))
	assert.Equal(t, "application/json", gotHeaders.Get("Content-Type"))
	assert.Equal(t, true, gotBody["stream"])
	assert.EqualValues(t, 2048, gotBody["max_tokens"])
}

func TestSend_WholeResponse(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(w, `{"id":"msg_1","role":"assistant","content":[{"type":"text","text":"Hello"},{"type":"text","text":" there"}],"stop_reason":"end_turn"}`)
	})

	resp, err := p.Send(context.Background(), provider.Request{
		Model: sonnet,
		Messages: []models.Message{
			models.SystemMessage{Content: models.TextContent("sys")},
			models.UserMessage{Content: models.TextContent("hi")},
		},
	})
	require.NoError(t, err)
	require.NotNil(t, resp.Completion)
	assert.Equal(t, "Hello there", resp.Completion.Content)
	assert.Equal(t, "stop", resp.Completion.FinishReason)
}

func TestSend_UpstreamStatusPassesThrough(t *testing.T) {
	p := newTestProvider(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(529)
		_, _ = io.WriteString(w, `{"type":"error","error":{"type":"overloaded_error","message":"Overloaded"}}`)
	})

	_, err := p.Send(context.Background(), provider.Request{
		Model: sonnet,
		Messages: []models.Message{
			models.SystemMessage{Content: models.TextContent("sys")},
			models.UserMessage{Content: models.TextContent("hi")},
		},
		Stream: true,
	})
	var statusErr *provider.StatusError
	require.True(t, errors.As(err, &statusErr))
	assert.Equal(t, 529, statusErr.StatusCode)
	assert.Equal(t, models.ProviderAnthropic, statusErr.Provider)
	assert.Contains(t, statusErr.Body, "Overloaded")
}
