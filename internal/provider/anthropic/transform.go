package anthropic

import (
	"encoding/json"
	"fmt"
	"strings"

	"paig-gateway/internal/models"
	"paig-gateway/internal/provider"
)

type messagePayload struct {
	Model     string    `json:"model"`
	Messages  []message `json:"messages"`
	System    string    `json:"system,omitempty"`
	MaxTokens int       `json:"max_tokens"`
	Stream    bool      `json:"stream"`
}

type message struct {
	Role    string          `json:"role"`
	Content json.RawMessage `json:"content"`
}

type textBlock struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type imageBlock struct {
	Type   string      `json:"type"`
	Source imageSource `json:"source"`
}

type imageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type,omitempty"`
	Data      string `json:"data,omitempty"`
	URL       string `json:"url,omitempty"`
}

// buildPayload converts a request into the messages API shape. The leading
// message is dropped; when it is a system message its text becomes the
// system prompt. Later system messages are appended to the system prompt and
// tool or function results are replayed as user turns.
func buildPayload(req provider.Request) (messagePayload, error) {
	if len(req.Messages) == 0 {
		return messagePayload{}, fmt.Errorf("%w: no messages", provider.ErrInvalidRequest)
	}

	var systemParts []string
	if lead := req.Messages[0]; lead.Role() == models.RoleSystem {
		if text := strings.TrimSpace(lead.Body().Text()); text != "" {
			systemParts = append(systemParts, text)
		}
	}

	rest := req.Messages[1:]
	messages := make([]message, 0, len(rest))
	for i, msg := range rest {
		if msg.Role() == models.RoleSystem {
			if text := strings.TrimSpace(msg.Body().Text()); text != "" {
				systemParts = append(systemParts, text)
			}
			continue
		}

		content, err := convertContent(msg.Body())
		if err != nil {
			return messagePayload{}, fmt.Errorf("messages[%d]: %w", i+1, err)
		}
		messages = append(messages, message{Role: roleFor(msg.Role()), Content: content})
	}

	if len(messages) == 0 {
		return messagePayload{}, fmt.Errorf("%w: at least one message must follow the leading message", provider.ErrInvalidRequest)
	}

	return messagePayload{
		Model:     req.Model.ModelID,
		Messages:  messages,
		System:    strings.Join(systemParts, "\n\n"),
		MaxTokens: req.Model.EffectiveMaxTokens(),
		Stream:    req.Stream,
	}, nil
}

func roleFor(role models.Role) string {
	if role == models.RoleAssistant {
		return string(models.RoleAssistant)
	}
	return string(models.RoleUser)
}

func convertContent(c models.Content) (json.RawMessage, error) {
	if !c.Structured() {
		return json.Marshal(c.Text())
	}

	blocks := make([]any, 0, len(c.Parts()))
	for _, part := range c.Parts() {
		switch p := part.(type) {
		case models.TextPart:
			blocks = append(blocks, textBlock{Type: "text", Text: p.Text})
		case models.ImagePart:
			src, err := imageSourceFor(p.URL)
			if err != nil {
				return nil, err
			}
			blocks = append(blocks, imageBlock{Type: "image", Source: src})
		case models.RawPart:
			blocks = append(blocks, p.Raw)
		}
	}
	return json.Marshal(blocks)
}

// imageSourceFor rewrites "data:<media type>;base64,<payload>" into a base64
// source. Any other URL is passed through as a url source.
func imageSourceFor(url string) (imageSource, error) {
	if !strings.HasPrefix(url, "data:") {
		return imageSource{Type: "url", URL: url}, nil
	}

	header, data, ok := strings.Cut(url, ",")
	if !ok || data == "" {
		return imageSource{}, fmt.Errorf("%w: data url has no payload", provider.ErrInvalidRequest)
	}
	mediaType, _, _ := strings.Cut(strings.TrimPrefix(header, "data:"), ";")
	if mediaType == "" {
		return imageSource{}, fmt.Errorf("%w: data url has no media type", provider.ErrInvalidRequest)
	}

	return imageSource{Type: "base64", MediaType: mediaType, Data: data}, nil
}
