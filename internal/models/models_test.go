package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeMessage_Variants(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		role Role
		text string
	}{
		{"system", `{"role":"system","content":"be brief"}`, RoleSystem, "be brief"},
		{"user string", `{"role":"user","content":"hi","name":"alice"}`, RoleUser, "hi"},
		{"user parts", `{"role":"user","content":[{"type":"text","text":"look"},{"type":"image_url","image_url":{"url":"data:image/png;base64,AAAA"}},{"type":"text","text":"here"}]}`, RoleUser, "look here"},
		{"assistant tool calls only", `{"role":"assistant","content":null,"tool_calls":[{"id":"c1","type":"function"}]}`, RoleAssistant, ""},
		{"tool", `{"role":"tool","content":"42","tool_call_id":"c1"}`, RoleTool, "42"},
		{"function", `{"role":"function","content":"{}","name":"lookup"}`, RoleFunction, "{}"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeMessage([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.role, msg.Role())
			assert.Equal(t, tt.text, msg.Body().Text())
		})
	}
}

func TestDecodeMessage_Invalid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		err  error
	}{
		{"unknown role", `{"role":"wizard","content":"x"}`, ErrInvalidMessage},
		{"missing role", `{"content":"x"}`, ErrInvalidMessage},
		{"empty user content", `{"role":"user","content":"  "}`, ErrInvalidMessage},
		{"blank text parts only", `{"role":"user","content":[{"type":"text","text":""},{"type":"text","text":"  "}]}`, ErrInvalidMessage},
		{"empty part list", `{"role":"system","content":[]}`, ErrInvalidMessage},
		{"assistant without content or calls", `{"role":"assistant"}`, ErrInvalidMessage},
		{"tool without call id", `{"role":"tool","content":"x"}`, ErrInvalidMessage},
		{"function without name", `{"role":"function","content":"x"}`, ErrInvalidMessage},
		{"content of wrong type", `{"role":"user","content":42}`, ErrInvalidContent},
		{"image without url", `{"role":"user","content":[{"type":"image_url","image_url":{"url":""}}]}`, ErrInvalidContent},
		{"text part without text", `{"role":"user","content":[{"type":"text"}]}`, ErrInvalidContent},
		{"not an object", `"hello"`, ErrInvalidMessage},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := DecodeMessage([]byte(tt.raw))
			assert.ErrorIs(t, err, tt.err)
		})
	}
}

func TestDecodeMessages(t *testing.T) {
	msgs, err := DecodeMessages([]byte(`[{"role":"system","content":"s"},{"role":"user","content":"u"}]`))
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.IsType(t, SystemMessage{}, msgs[0])
	assert.IsType(t, UserMessage{}, msgs[1])

	msgs, err = DecodeMessages([]byte(`null`))
	require.NoError(t, err)
	assert.Nil(t, msgs)

	_, err = DecodeMessages([]byte(`{"role":"user"}`))
	assert.ErrorIs(t, err, ErrInvalidMessage)

	_, err = DecodeMessages([]byte(`[{"role":"user","content":"ok"},{"role":"nobody","content":"x"}]`))
	assert.ErrorContains(t, err, "messages[1]")
}

func TestMessage_MarshalPreservesUnknownParts(t *testing.T) {
	raw := `{"role":"user","content":[{"type":"text","text":"hi"},{"type":"input_audio","input_audio":{"data":"AAA","format":"wav"}}]}`
	msg, err := DecodeMessage([]byte(raw))
	require.NoError(t, err)

	out, err := json.Marshal(msg)
	require.NoError(t, err)
	assert.JSONEq(t, raw, string(out))
}

func TestAssistantMessage_MarshalOmitsEmpty(t *testing.T) {
	out, err := json.Marshal(AssistantMessage{Content: TextContent("done")})
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"assistant","content":"done"}`, string(out))
}

func TestChatRequest_Validate(t *testing.T) {
	valid := ChatRequest{
		ModelID:           "gpt-4o-mini",
		Messages:          []Message{UserMessage{Content: TextContent("hi")}},
		RequesterIdentity: "alice",
		Access:            AccessAPI,
	}
	require.NoError(t, valid.Validate())

	noModel := valid
	noModel.ModelID = " "
	assert.ErrorIs(t, noModel.Validate(), ErrMissingModel)

	noMessages := valid
	noMessages.Messages = nil
	assert.ErrorIs(t, noMessages.Validate(), ErrMissingMessages)

	noIdentity := valid
	noIdentity.RequesterIdentity = ""
	assert.ErrorIs(t, noIdentity.Validate(), ErrMissingIdentity)

	nilMessage := valid
	nilMessage.Messages = []Message{nil}
	assert.ErrorIs(t, nilMessage.Validate(), ErrInvalidMessage)

	blankParts := valid
	blankParts.Messages = []Message{UserMessage{Content: PartsContent(TextPart{Text: ""})}}
	assert.ErrorIs(t, blankParts.Validate(), ErrInvalidMessage)

	imageOnly := valid
	imageOnly.Messages = []Message{UserMessage{Content: PartsContent(ImagePart{URL: "https://x/y.png"})}}
	assert.NoError(t, imageOnly.Validate())
}

func TestContent_Empty(t *testing.T) {
	assert.True(t, TextContent(" ").Empty())
	assert.True(t, PartsContent().Empty())
	assert.True(t, PartsContent(TextPart{Text: ""}, TextPart{Text: "\n"}).Empty())
	assert.False(t, PartsContent(TextPart{Text: ""}, TextPart{Text: "x"}).Empty())
	assert.False(t, PartsContent(ImagePart{URL: "https://x/y.png"}).Empty())
	assert.False(t, PartsContent(RawPart{Type: "input_audio"}).Empty())
}

func TestChatRequest_Text(t *testing.T) {
	req := ChatRequest{Messages: []Message{
		SystemMessage{Content: TextContent("rules")},
		UserMessage{Content: PartsContent(TextPart{Text: "a"}, ImagePart{URL: "https://x/y.png"}, TextPart{Text: "b"})},
	}}
	assert.Equal(t, "rules a b", req.Text())
}

func TestAiModelDescriptor_EffectiveMaxTokens(t *testing.T) {
	assert.Equal(t, DefaultMaxOutputTokens, AiModelDescriptor{}.EffectiveMaxTokens())

	zero := 0
	assert.Equal(t, DefaultMaxOutputTokens, AiModelDescriptor{MaxOutputTokens: &zero}.EffectiveMaxTokens())

	n := 4096
	assert.Equal(t, 4096, AiModelDescriptor{MaxOutputTokens: &n}.EffectiveMaxTokens())
}

func TestParseAccessClass(t *testing.T) {
	for in, want := range map[string]AccessClass{
		"ui":         AccessUI,
		"UI-Access":  AccessUI,
		" api ":      AccessAPI,
		"api-access": AccessAPI,
	} {
		got, err := ParseAccessClass(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseAccessClass("desktop")
	assert.Error(t, err)
}

func TestTokenBucket(t *testing.T) {
	b := TokenBucket{
		Owner:             "alice",
		ModelIDs:          []string{"gpt-4o-mini"},
		Window:            time.Hour,
		MaxTokensInWindow: 0,
		Access:            AccessUI,
	}
	require.NoError(t, b.Validate())
	assert.True(t, b.Applies("gpt-4o-mini"))
	assert.False(t, b.Applies("claude-3-5-sonnet-20240620"))

	bad := b
	bad.Window = 0
	assert.Error(t, bad.Validate())

	bad = b
	bad.ModelIDs = nil
	assert.Error(t, bad.Validate())

	bad = b
	bad.Access = "desktop"
	assert.Error(t, bad.Validate())
}

func TestProviderKind_Known(t *testing.T) {
	assert.True(t, ProviderOpenAI.Known())
	assert.True(t, ProviderGoogle.Known())
	assert.False(t, ProviderKind("Cohere").Known())
}
