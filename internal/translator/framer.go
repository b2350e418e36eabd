package translator

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"paig-gateway/internal/models"
)

// ErrMalformedEvent marks a single upstream event that could not be parsed.
// The stream skips it and continues.
var ErrMalformedEvent = errors.New("malformed upstream event")

// TokenCounter counts tokens in emitted text.
type TokenCounter interface {
	Count(text string) int
}

// State is threaded through successive Step calls for one stream.
type State struct {
	// Event is the most recent "event:" name seen.
	Event string
	// Text accumulates the current content block.
	Text string
	// OutputTokens is the running count over all emitted deltas.
	OutputTokens int
	// Done is set once the upstream signals the end of the stream.
	Done bool

	// OutputTokens before the current block started.
	blockBase int
}

// Framer turns one upstream line into at most one canonical chunk. The
// returned chunk carries only the delta fields; the Stream stamps the rest.
type Framer interface {
	Step(state State, line string) (State, *models.Chunk, error)
}

var framers = map[models.ProviderKind]func(TokenCounter) Framer{
	models.ProviderOpenAI:    func(c TokenCounter) Framer { return OpenAIFramer{Counter: c} },
	models.ProviderAnthropic: func(c TokenCounter) Framer { return AnthropicFramer{Counter: c} },
}

// FramerFor returns the framer for a provider's stream format.
func FramerFor(kind models.ProviderKind, counter TokenCounter) (Framer, error) {
	build, ok := framers[kind]
	if !ok {
		return nil, fmt.Errorf("no stream framer for provider %s", kind)
	}
	return build(counter), nil
}

func fieldValue(line, field string) (string, bool) {
	rest, ok := strings.CutPrefix(line, field+":")
	if !ok {
		return "", false
	}
	return strings.TrimSpace(rest), true
}

// OpenAIFramer passes OpenAI-style "data:" chunks through one to one.
type OpenAIFramer struct {
	Counter TokenCounter
}

type openAIStreamChunk struct {
	Choices []struct {
		Delta struct {
			Content      *string         `json:"content"`
			Role         *string         `json:"role"`
			ToolCalls    json.RawMessage `json:"tool_calls"`
			FunctionCall json.RawMessage `json:"function_call"`
			Refusal      *string         `json:"refusal"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
}

func (f OpenAIFramer) Step(state State, line string) (State, *models.Chunk, error) {
	data, ok := fieldValue(strings.TrimSpace(line), "data")
	if !ok || data == "" {
		return state, nil, nil
	}
	if data == "[DONE]" {
		state.Done = true
		return state, nil, nil
	}

	var payload openAIStreamChunk
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return state, nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}
	if len(payload.Choices) == 0 {
		return state, nil, nil
	}

	choice := payload.Choices[0]
	if choice.Delta.Content != nil {
		state.OutputTokens += f.Counter.Count(*choice.Delta.Content)
	}
	return state, &models.Chunk{
		DeltaContent:      choice.Delta.Content,
		DeltaRole:         choice.Delta.Role,
		DeltaToolCalls:    nonNull(choice.Delta.ToolCalls),
		DeltaFunctionCall: nonNull(choice.Delta.FunctionCall),
		DeltaRefusal:      choice.Delta.Refusal,
		FinishReason:      choice.FinishReason,
	}, nil
}

func nonNull(raw json.RawMessage) json.RawMessage {
	if len(raw) == 0 || string(raw) == "null" {
		return nil
	}
	return raw
}

// AnthropicFramer re-frames Anthropic "event:"/"data:" pairs. Deltas are
// emitted incrementally; a block stop emits the block's full text with
// finish_reason "stop". Other event kinds are ignored.
type AnthropicFramer struct {
	Counter TokenCounter
}

type anthropicEvent struct {
	Type  string `json:"type"`
	Delta struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"delta"`
}

func (f AnthropicFramer) Step(state State, line string) (State, *models.Chunk, error) {
	line = strings.TrimSpace(line)
	if line == "" {
		return state, nil, nil
	}

	if event, ok := fieldValue(line, "event"); ok {
		state.Event = event
		return state, nil, nil
	}

	data, ok := fieldValue(line, "data")
	if !ok {
		return state, nil, nil
	}

	var payload anthropicEvent
	if err := json.Unmarshal([]byte(data), &payload); err != nil {
		return state, nil, fmt.Errorf("%w: %v", ErrMalformedEvent, err)
	}

	kind := state.Event
	if kind == "" {
		kind = payload.Type
	}
	if payload.Type != "" && payload.Type != kind {
		return state, nil, nil
	}

	switch kind {
	case "content_block_delta":
		if payload.Delta.Type != "" && payload.Delta.Type != "text_delta" {
			return state, nil, nil
		}
		text := payload.Delta.Text
		state.Text += text
		state.OutputTokens += f.Counter.Count(text)
		return state, &models.Chunk{DeltaContent: &text}, nil

	case "content_block_stop":
		full := state.Text
		stop := models.FinishReasonStop
		// Per-delta counts can differ from the count of the joined text at
		// token boundaries; the block total is recounted as a whole.
		state.OutputTokens = state.blockBase + f.Counter.Count(full)
		state.blockBase = state.OutputTokens
		state.Text = ""
		return state, &models.Chunk{DeltaContent: &full, FinishReason: &stop}, nil

	case "message_stop":
		state.Done = true
	}
	return state, nil, nil
}
