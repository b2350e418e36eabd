package translator

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"paig-gateway/internal/models"
	"paig-gateway/internal/tokenizer"
)

func newCounter(t *testing.T) *tokenizer.Counter {
	t.Helper()
	c, err := tokenizer.New()
	require.NoError(t, err)
	return c
}

func deltaLines(text string) []string {
	return []string{
		"event: content_block_delta",
		`data: {"type":"content_block_delta","index":0,"delta":{"type":"text_delta","text":` + quote(text) + `}}`,
		"",
	}
}

func quote(s string) string {
	r := strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\n", `\n`)
	return `"` + r.Replace(s) + `"`
}

func stopLines() []string {
	return []string{
		"event: content_block_stop",
		`data: {"type":"content_block_stop","index":0}`,
		"",
	}
}

func runFramer(t *testing.T, f Framer, lines []string) (State, []models.Chunk) {
	t.Helper()
	var (
		state  State
		chunks []models.Chunk
	)
	for _, line := range lines {
		next, chunk, err := f.Step(state, line)
		require.NoError(t, err)
		state = next
		if chunk != nil {
			chunks = append(chunks, *chunk)
		}
	}
	return state, chunks
}

func TestAnthropicFramer_HelloWorld(t *testing.T) {
	counter := newCounter(t)
	f := AnthropicFramer{Counter: counter}

	var lines []string
	lines = append(lines, "event: message_start", `data: {"type":"message_start","message":{"id":"msg_1"}}`, "")
	lines = append(lines, "event: content_block_start", `data: {"type":"content_block_start","index":0,"content_block":{"type":"text","text":""}}`, "")
	lines = append(lines, deltaLines("Hello")...)
	lines = append(lines, deltaLines(" world")...)
	lines = append(lines, stopLines()...)

	state, chunks := runFramer(t, f, lines)
	require.Len(t, chunks, 3)

	assert.Equal(t, "Hello", *chunks[0].DeltaContent)
	assert.Nil(t, chunks[0].FinishReason)

	assert.Equal(t, " world", *chunks[1].DeltaContent)
	assert.Nil(t, chunks[1].FinishReason)

	assert.Equal(t, "Hello world", *chunks[2].DeltaContent)
	require.NotNil(t, chunks[2].FinishReason)
	assert.Equal(t, "stop", *chunks[2].FinishReason)

	assert.Equal(t, counter.Count("Hello world"), state.OutputTokens)
	assert.Empty(t, state.Text)
	assert.False(t, state.Done)
}

func TestAnthropicFramer_RoundTrip(t *testing.T) {
	counter := newCounter(t)
	f := AnthropicFramer{Counter: counter}

	cases := [][]string{
		{"a"},
		{"The qu", "ick br", "own fox"},
		{"multi\nline", " text ", "with \"quotes\""},
		{"naïve ", "café ", "日本語"},
	}

	for _, deltas := range cases {
		var lines []string
		for _, d := range deltas {
			lines = append(lines, deltaLines(d)...)
		}
		lines = append(lines, stopLines()...)

		state, chunks := runFramer(t, f, lines)
		require.Len(t, chunks, len(deltas)+1)

		joined := strings.Join(deltas, "")
		last := chunks[len(chunks)-1]
		assert.Equal(t, joined, *last.DeltaContent)
		assert.Equal(t, counter.Count(joined), state.OutputTokens)
	}
}

func TestAnthropicFramer_ResetsBetweenBlocks(t *testing.T) {
	counter := newCounter(t)
	f := AnthropicFramer{Counter: counter}

	var lines []string
	lines = append(lines, deltaLines("first")...)
	lines = append(lines, stopLines()...)
	lines = append(lines, deltaLines("second")...)
	lines = append(lines, stopLines()...)
	lines = append(lines, "event: message_stop", `data: {"type":"message_stop"}`)

	state, chunks := runFramer(t, f, lines)
	require.Len(t, chunks, 4)
	assert.Equal(t, "first", *chunks[1].DeltaContent)
	assert.Equal(t, "second", *chunks[3].DeltaContent)
	assert.Equal(t, counter.Count("first")+counter.Count("second"), state.OutputTokens)
	assert.True(t, state.Done)
}

func TestAnthropicFramer_MalformedJSON(t *testing.T) {
	f := AnthropicFramer{Counter: newCounter(t)}

	state := State{Event: "content_block_delta", Text: "kept"}
	next, chunk, err := f.Step(state, "data: {not json")
	assert.ErrorIs(t, err, ErrMalformedEvent)
	assert.Nil(t, chunk)
	assert.Equal(t, state, next)
}

func TestAnthropicFramer_IgnoresOtherEvents(t *testing.T) {
	f := AnthropicFramer{Counter: newCounter(t)}

	lines := []string{
		"event: ping",
		`data: {"type":"ping"}`,
		"event: message_delta",
		`data: {"type":"message_delta","delta":{"stop_reason":"end_turn"}}`,
		"event: content_block_delta",
		`data: {"type":"content_block_delta","delta":{"type":"input_json_delta","partial_json":"{"}}`,
		": comment",
	}
	state, chunks := runFramer(t, f, lines)
	assert.Empty(t, chunks)
	assert.Zero(t, state.OutputTokens)
}

func TestOpenAIFramer(t *testing.T) {
	counter := newCounter(t)
	f := OpenAIFramer{Counter: counter}

	lines := []string{
		`data: {"id":"x","object":"chat.completion.chunk","choices":[{"index":0,"delta":{"role":"assistant","content":""},"finish_reason":null}]}`,
		"",
		`data: {"id":"x","choices":[{"index":0,"delta":{"content":"Hello"},"finish_reason":null}]}`,
		`data: {"id":"x","choices":[{"index":0,"delta":{"content":" world"},"finish_reason":null}]}`,
		`data: {"id":"x","choices":[{"index":0,"delta":{},"finish_reason":"stop"}]}`,
		`data: {"id":"x","choices":[],"usage":{"prompt_tokens":1}}`,
		"data: [DONE]",
	}

	state, chunks := runFramer(t, f, lines)
	require.Len(t, chunks, 4)
	require.NotNil(t, chunks[0].DeltaRole)
	assert.Equal(t, "assistant", *chunks[0].DeltaRole)
	assert.Equal(t, "Hello", *chunks[1].DeltaContent)
	assert.Nil(t, chunks[3].DeltaContent)
	assert.Equal(t, "stop", *chunks[3].FinishReason)
	assert.Equal(t, counter.Count("Hello")+counter.Count(" world"), state.OutputTokens)
	assert.True(t, state.Done)
}

func TestOpenAIFramer_ToolCallDeltas(t *testing.T) {
	f := OpenAIFramer{Counter: newCounter(t)}

	lines := []string{
		`data: {"choices":[{"index":0,"delta":{"role":"assistant","content":null,"tool_calls":[{"index":0,"id":"call_1","type":"function","function":{"name":"lookup","arguments":""}}]},"finish_reason":null}]}`,
		`data: {"choices":[{"index":0,"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"q\":1}"}}]},"finish_reason":null}]}`,
		`data: {"choices":[{"index":0,"delta":{"tool_calls":null,"refusal":"no"},"finish_reason":"tool_calls"}]}`,
	}

	state, chunks := runFramer(t, f, lines)
	require.Len(t, chunks, 3)
	assert.JSONEq(t, `[{"index":0,"id":"call_1","type":"function","function":{"name":"lookup","arguments":""}}]`, string(chunks[0].DeltaToolCalls))
	assert.Nil(t, chunks[0].DeltaContent)
	assert.JSONEq(t, `[{"index":0,"function":{"arguments":"{\"q\":1}"}}]`, string(chunks[1].DeltaToolCalls))
	assert.Nil(t, chunks[2].DeltaToolCalls)
	require.NotNil(t, chunks[2].DeltaRefusal)
	assert.Equal(t, "no", *chunks[2].DeltaRefusal)
	assert.Zero(t, state.OutputTokens)
}

func TestOpenAIFramer_Malformed(t *testing.T) {
	f := OpenAIFramer{Counter: newCounter(t)}
	_, chunk, err := f.Step(State{}, "data: {broken")
	assert.ErrorIs(t, err, ErrMalformedEvent)
	assert.Nil(t, chunk)
}

func TestFramerFor(t *testing.T) {
	counter := newCounter(t)

	f, err := FramerFor(models.ProviderAnthropic, counter)
	require.NoError(t, err)
	assert.IsType(t, AnthropicFramer{}, f)

	f, err = FramerFor(models.ProviderOpenAI, counter)
	require.NoError(t, err)
	assert.IsType(t, OpenAIFramer{}, f)

	_, err = FramerFor(models.ProviderGoogle, counter)
	assert.Error(t, err)
}
