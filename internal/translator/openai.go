package translator

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"paig-gateway/internal/models"
)

const (
	// SystemFingerprint is stamped on every chunk and whole response.
	SystemFingerprint = "fp_f33667828e"

	objectCompletion = "chat.completion"
	objectChunk      = "chat.completion.chunk"
)

// NewCompletionID returns a fresh "chatcmpl-" identifier.
func NewCompletionID() string {
	return "chatcmpl-" + uuid.NewString()
}

// ChatCompletionRequest models the inbound chat/completions payload. Only the
// fields the gateway acts on are decoded.
type ChatCompletionRequest struct {
	Model    string
	Messages []models.Message
	Stream   bool
}

// UnmarshalJSON decodes the message list into its closed variants. Missing
// fields are left empty for ChatRequest.Validate to report.
func (r *ChatCompletionRequest) UnmarshalJSON(data []byte) error {
	type alias struct {
		Model    string          `json:"model"`
		Messages json.RawMessage `json:"messages"`
		Stream   bool            `json:"stream"`
	}

	var raw alias
	if err := json.Unmarshal(data, &raw); err != nil {
		return fmt.Errorf("decode chat request: %w", err)
	}

	msgs, err := models.DecodeMessages(raw.Messages)
	if err != nil {
		return err
	}

	r.Model = strings.TrimSpace(raw.Model)
	r.Messages = msgs
	r.Stream = raw.Stream
	return nil
}

// ToChatRequest attaches the verified identity to the decoded body.
func (r ChatCompletionRequest) ToChatRequest(identity string, access models.AccessClass) models.ChatRequest {
	return models.ChatRequest{
		ModelID:           r.Model,
		Messages:          r.Messages,
		Stream:            r.Stream,
		RequesterIdentity: identity,
		Access:            access,
	}
}

// ChatCompletionResponse is the whole-response body.
type ChatCompletionResponse struct {
	ID                string       `json:"id"`
	Object            string       `json:"object"`
	Created           int64        `json:"created"`
	Model             string       `json:"model"`
	Choices           []ChatChoice `json:"choices"`
	Usage             OpenAIUsage  `json:"usage"`
	SystemFingerprint string       `json:"system_fingerprint"`
}

// ChatChoice represents a single choice in the response payload.
type ChatChoice struct {
	Index        int             `json:"index"`
	Message      ResponseMessage `json:"message"`
	FinishReason string          `json:"finish_reason"`
	Logprobs     any             `json:"logprobs"`
}

// ResponseMessage is the assistant turn inside a whole response.
type ResponseMessage struct {
	Role    string  `json:"role"`
	Content string  `json:"content"`
	Refusal *string `json:"refusal"`
}

// OpenAIUsage mirrors the token usage block in OpenAI responses.
type OpenAIUsage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// FromCompletion builds the whole-response body. The usage block reports the
// gateway's own counts so it matches the usage log.
func FromCompletion(id, modelID string, c *models.Completion, usage models.Usage) ChatCompletionResponse {
	finish := c.FinishReason
	if finish == "" {
		finish = models.FinishReasonStop
	}
	created := c.Created
	if created.IsZero() {
		created = time.Now()
	}

	return ChatCompletionResponse{
		ID:      id,
		Object:  objectCompletion,
		Created: created.Unix(),
		Model:   modelID,
		Choices: []ChatChoice{{
			Index:        0,
			Message:      ResponseMessage{Role: string(models.RoleAssistant), Content: c.Content},
			FinishReason: finish,
		}},
		Usage: OpenAIUsage{
			PromptTokens:     usage.PromptTokens,
			CompletionTokens: usage.CompletionTokens,
			TotalTokens:      usage.TotalTokens(),
		},
		SystemFingerprint: SystemFingerprint,
	}
}

// ChunkJSON is the wire form of a canonical chunk. Fields the gateway never
// populates are still emitted as null.
type ChunkJSON struct {
	ID                string        `json:"id"`
	Object            string        `json:"object"`
	Choices           []ChunkChoice `json:"choices"`
	Created           int64         `json:"created"`
	Model             string        `json:"model"`
	SystemFingerprint string        `json:"system_fingerprint"`
	ServiceTier       *string       `json:"service_tier"`
	Usage             *OpenAIUsage  `json:"usage"`
}

// ChunkChoice is the single choice carried by every chunk.
type ChunkChoice struct {
	Index        int        `json:"index"`
	Delta        ChunkDelta `json:"delta"`
	FinishReason *string    `json:"finish_reason"`
	Logprobs     any        `json:"logprobs"`
}

// ChunkDelta is the incremental message fragment.
type ChunkDelta struct {
	Content      *string `json:"content"`
	Role         *string `json:"role"`
	ToolCalls    any     `json:"tool_calls"`
	FunctionCall any     `json:"function_call"`
	Refusal      *string `json:"refusal"`
}

// FromChunk converts a canonical chunk to its wire form.
func FromChunk(c models.Chunk) ChunkJSON {
	fingerprint := c.Fingerprint
	if fingerprint == "" {
		fingerprint = SystemFingerprint
	}
	delta := ChunkDelta{
		Content: c.DeltaContent,
		Role:    c.DeltaRole,
		Refusal: c.DeltaRefusal,
	}
	if len(c.DeltaToolCalls) > 0 {
		delta.ToolCalls = c.DeltaToolCalls
	}
	if len(c.DeltaFunctionCall) > 0 {
		delta.FunctionCall = c.DeltaFunctionCall
	}
	return ChunkJSON{
		ID:     c.ID,
		Object: objectChunk,
		Choices: []ChunkChoice{{
			Index:        0,
			Delta:        delta,
			FinishReason: c.FinishReason,
		}},
		Created:           c.Created.Unix(),
		Model:             c.Model,
		SystemFingerprint: fingerprint,
	}
}
