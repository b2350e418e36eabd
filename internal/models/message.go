package models

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidMessage is wrapped by every message validation failure.
	ErrInvalidMessage = errors.New("invalid message")
	// ErrInvalidContent is wrapped when content cannot be decoded.
	ErrInvalidContent = errors.New("invalid message content")
)

// Role identifies the author of a message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
	RoleFunction  Role = "function"
)

// Message is the closed set of chat message variants. Only the types in this
// package implement it.
type Message interface {
	Role() Role
	// Body returns the message content, which may be empty for assistant
	// messages that only carry tool calls.
	Body() Content
	Validate() error
	json.Marshaler
	sealed()
}

// SystemMessage sets behaviour for the conversation.
type SystemMessage struct {
	Content Content
	Name    string
}

// UserMessage is a turn authored by the end user.
type UserMessage struct {
	Content Content
	Name    string
}

// AssistantMessage is a prior model turn replayed as history.
type AssistantMessage struct {
	Content      Content
	Name         string
	Refusal      *string
	ToolCalls    json.RawMessage
	FunctionCall json.RawMessage
}

// ToolMessage carries the result of a tool call.
type ToolMessage struct {
	Content    Content
	ToolCallID string
}

// FunctionMessage carries the result of a legacy function call.
type FunctionMessage struct {
	Content Content
	Name    string
}

func (SystemMessage) Role() Role    { return RoleSystem }
func (UserMessage) Role() Role      { return RoleUser }
func (AssistantMessage) Role() Role { return RoleAssistant }
func (ToolMessage) Role() Role      { return RoleTool }
func (FunctionMessage) Role() Role  { return RoleFunction }

func (m SystemMessage) Body() Content    { return m.Content }
func (m UserMessage) Body() Content      { return m.Content }
func (m AssistantMessage) Body() Content { return m.Content }
func (m ToolMessage) Body() Content      { return m.Content }
func (m FunctionMessage) Body() Content  { return m.Content }

func (SystemMessage) sealed()    {}
func (UserMessage) sealed()      {}
func (AssistantMessage) sealed() {}
func (ToolMessage) sealed()      {}
func (FunctionMessage) sealed()  {}

func (m SystemMessage) Validate() error {
	return requireContent(m.Role(), m.Content)
}

func (m UserMessage) Validate() error {
	return requireContent(m.Role(), m.Content)
}

func (m AssistantMessage) Validate() error {
	if m.hasCalls() {
		return m.Content.validateParts()
	}
	return requireContent(m.Role(), m.Content)
}

func (m AssistantMessage) hasCalls() bool {
	return !isNullJSON(m.ToolCalls) || !isNullJSON(m.FunctionCall)
}

func (m ToolMessage) Validate() error {
	if strings.TrimSpace(m.ToolCallID) == "" {
		return fmt.Errorf("%w: tool message requires tool_call_id", ErrInvalidMessage)
	}
	return requireContent(m.Role(), m.Content)
}

func (m FunctionMessage) Validate() error {
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("%w: function message requires name", ErrInvalidMessage)
	}
	return requireContent(m.Role(), m.Content)
}

func requireContent(role Role, c Content) error {
	if c.Empty() {
		return fmt.Errorf("%w: %s message content must not be empty", ErrInvalidMessage, role)
	}
	return c.validateParts()
}

type messageEnvelope struct {
	Role         Role            `json:"role"`
	Content      json.RawMessage `json:"content,omitempty"`
	Name         string          `json:"name,omitempty"`
	ToolCallID   string          `json:"tool_call_id,omitempty"`
	Refusal      *string         `json:"refusal,omitempty"`
	ToolCalls    json.RawMessage `json:"tool_calls,omitempty"`
	FunctionCall json.RawMessage `json:"function_call,omitempty"`
}

func (m SystemMessage) MarshalJSON() ([]byte, error) {
	return marshalEnvelope(m.Role(), m.Content, func(e *messageEnvelope) { e.Name = m.Name })
}

func (m UserMessage) MarshalJSON() ([]byte, error) {
	return marshalEnvelope(m.Role(), m.Content, func(e *messageEnvelope) { e.Name = m.Name })
}

func (m AssistantMessage) MarshalJSON() ([]byte, error) {
	return marshalEnvelope(m.Role(), m.Content, func(e *messageEnvelope) {
		e.Name = m.Name
		e.Refusal = m.Refusal
		if !isNullJSON(m.ToolCalls) {
			e.ToolCalls = m.ToolCalls
		}
		if !isNullJSON(m.FunctionCall) {
			e.FunctionCall = m.FunctionCall
		}
	})
}

func (m ToolMessage) MarshalJSON() ([]byte, error) {
	return marshalEnvelope(m.Role(), m.Content, func(e *messageEnvelope) { e.ToolCallID = m.ToolCallID })
}

func (m FunctionMessage) MarshalJSON() ([]byte, error) {
	return marshalEnvelope(m.Role(), m.Content, func(e *messageEnvelope) { e.Name = m.Name })
}

func marshalEnvelope(role Role, content Content, fill func(*messageEnvelope)) ([]byte, error) {
	env := messageEnvelope{Role: role}
	raw, err := content.MarshalJSON()
	if err != nil {
		return nil, err
	}
	env.Content = raw
	fill(&env)
	return json.Marshal(env)
}

// DecodeMessage parses one wire message into its variant and validates it.
func DecodeMessage(data []byte) (Message, error) {
	var env messageEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidMessage, err)
	}

	var content Content
	if !isNullJSON(env.Content) {
		if err := content.UnmarshalJSON(env.Content); err != nil {
			return nil, err
		}
	}

	var msg Message
	switch Role(strings.TrimSpace(string(env.Role))) {
	case RoleSystem:
		msg = SystemMessage{Content: content, Name: env.Name}
	case RoleUser:
		msg = UserMessage{Content: content, Name: env.Name}
	case RoleAssistant:
		msg = AssistantMessage{
			Content:      content,
			Name:         env.Name,
			Refusal:      env.Refusal,
			ToolCalls:    env.ToolCalls,
			FunctionCall: env.FunctionCall,
		}
	case RoleTool:
		msg = ToolMessage{Content: content, ToolCallID: env.ToolCallID}
	case RoleFunction:
		msg = FunctionMessage{Content: content, Name: env.Name}
	case "":
		return nil, fmt.Errorf("%w: role is required", ErrInvalidMessage)
	default:
		return nil, fmt.Errorf("%w: unsupported role %q", ErrInvalidMessage, env.Role)
	}

	if err := msg.Validate(); err != nil {
		return nil, err
	}
	return msg, nil
}

// DecodeMessages parses a JSON array of wire messages.
func DecodeMessages(data []byte) ([]Message, error) {
	if isNullJSON(data) {
		return nil, nil
	}
	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return nil, fmt.Errorf("%w: messages must be an array: %v", ErrInvalidMessage, err)
	}
	out := make([]Message, 0, len(raws))
	for i, raw := range raws {
		msg, err := DecodeMessage(raw)
		if err != nil {
			return nil, fmt.Errorf("messages[%d]: %w", i, err)
		}
		out = append(out, msg)
	}
	return out, nil
}

func isNullJSON(raw []byte) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}
