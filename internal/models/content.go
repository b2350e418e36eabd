package models

import (
	"encoding/json"
	"fmt"
	"strings"
)

// ContentPart is one element of structured message content.
type ContentPart interface {
	PartType() string
}

// TextPart is a run of text inside structured content.
type TextPart struct {
	Text string
}

// ImagePart references an image, usually as a data URL.
type ImagePart struct {
	URL    string
	Detail string
}

// RawPart preserves a part type this gateway does not interpret.
type RawPart struct {
	Type string
	Raw  json.RawMessage
}

func (TextPart) PartType() string  { return "text" }
func (ImagePart) PartType() string { return "image_url" }
func (p RawPart) PartType() string { return p.Type }

// Content is either a plain string or an ordered list of parts.
type Content struct {
	text       string
	parts      []ContentPart
	structured bool
}

// TextContent builds plain string content.
func TextContent(s string) Content {
	return Content{text: s}
}

// PartsContent builds structured content.
func PartsContent(parts ...ContentPart) Content {
	return Content{parts: parts, structured: true}
}

// Structured reports whether the content was sent as a part list.
func (c Content) Structured() bool { return c.structured }

// Parts returns the part list of structured content.
func (c Content) Parts() []ContentPart { return c.parts }

// Empty reports whether the content carries nothing. Structured content is
// empty unless it holds non-blank text or a non-text part.
func (c Content) Empty() bool {
	if !c.structured {
		return strings.TrimSpace(c.text) == ""
	}
	for _, part := range c.parts {
		tp, ok := part.(TextPart)
		if !ok || strings.TrimSpace(tp.Text) != "" {
			return false
		}
	}
	return true
}

// Text returns the textual portion. Non-text parts contribute nothing.
func (c Content) Text() string {
	if !c.structured {
		return c.text
	}
	texts := make([]string, 0, len(c.parts))
	for _, part := range c.parts {
		if tp, ok := part.(TextPart); ok {
			texts = append(texts, tp.Text)
		}
	}
	return strings.Join(texts, " ")
}

func (c Content) validateParts() error {
	for i, part := range c.parts {
		switch p := part.(type) {
		case ImagePart:
			if strings.TrimSpace(p.URL) == "" {
				return fmt.Errorf("%w: content[%d] image_url.url is required", ErrInvalidContent, i)
			}
		case RawPart:
			if p.Type == "" {
				return fmt.Errorf("%w: content[%d] type is required", ErrInvalidContent, i)
			}
		}
	}
	return nil
}

type wirePart struct {
	Type     string        `json:"type"`
	Text     *string       `json:"text,omitempty"`
	ImageURL *wireImageURL `json:"image_url,omitempty"`
}

type wireImageURL struct {
	URL    string `json:"url"`
	Detail string `json:"detail,omitempty"`
}

// MarshalJSON emits a string, a part array, or null for empty unstructured content.
func (c Content) MarshalJSON() ([]byte, error) {
	if !c.structured {
		if c.text == "" {
			return []byte("null"), nil
		}
		return json.Marshal(c.text)
	}

	out := make([]json.RawMessage, 0, len(c.parts))
	for _, part := range c.parts {
		var (
			raw []byte
			err error
		)
		switch p := part.(type) {
		case TextPart:
			text := p.Text
			raw, err = json.Marshal(wirePart{Type: p.PartType(), Text: &text})
		case ImagePart:
			raw, err = json.Marshal(wirePart{Type: p.PartType(), ImageURL: &wireImageURL{URL: p.URL, Detail: p.Detail}})
		case RawPart:
			raw = p.Raw
		default:
			err = fmt.Errorf("unknown content part %T", part)
		}
		if err != nil {
			return nil, err
		}
		out = append(out, raw)
	}
	return json.Marshal(out)
}

// UnmarshalJSON accepts a string or an array of typed parts.
func (c *Content) UnmarshalJSON(data []byte) error {
	if isNullJSON(data) {
		*c = Content{}
		return nil
	}

	var text string
	if err := json.Unmarshal(data, &text); err == nil {
		*c = TextContent(text)
		return nil
	}

	var raws []json.RawMessage
	if err := json.Unmarshal(data, &raws); err != nil {
		return fmt.Errorf("%w: expected string or array of parts", ErrInvalidContent)
	}

	parts := make([]ContentPart, 0, len(raws))
	for i, raw := range raws {
		var wp wirePart
		if err := json.Unmarshal(raw, &wp); err != nil {
			return fmt.Errorf("%w: content[%d]: %v", ErrInvalidContent, i, err)
		}
		switch wp.Type {
		case "text":
			if wp.Text == nil {
				return fmt.Errorf("%w: content[%d] text part missing text", ErrInvalidContent, i)
			}
			parts = append(parts, TextPart{Text: *wp.Text})
		case "image_url":
			if wp.ImageURL == nil {
				return fmt.Errorf("%w: content[%d] image part missing image_url", ErrInvalidContent, i)
			}
			parts = append(parts, ImagePart{URL: wp.ImageURL.URL, Detail: wp.ImageURL.Detail})
		default:
			parts = append(parts, RawPart{Type: wp.Type, Raw: append(json.RawMessage(nil), raw...)})
		}
	}
	*c = PartsContent(parts...)
	return nil
}
