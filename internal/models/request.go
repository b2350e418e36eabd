package models

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrMissingModel    = errors.New("model is required")
	ErrMissingMessages = errors.New("at least one message is required")
	ErrMissingIdentity = errors.New("requester identity is required")
)

// ChatRequest is a validated inbound chat completion. RequesterIdentity and
// Access come from verified credentials, never from the request body.
type ChatRequest struct {
	ModelID           string
	Messages          []Message
	Stream            bool
	RequesterIdentity string
	Access            AccessClass
}

// Validate enforces the fields every dispatch needs.
func (r ChatRequest) Validate() error {
	if strings.TrimSpace(r.ModelID) == "" {
		return ErrMissingModel
	}
	if len(r.Messages) == 0 {
		return ErrMissingMessages
	}
	if strings.TrimSpace(r.RequesterIdentity) == "" {
		return ErrMissingIdentity
	}
	for i, msg := range r.Messages {
		if msg == nil {
			return fmt.Errorf("messages[%d]: %w: null message", i, ErrInvalidMessage)
		}
		if err := msg.Validate(); err != nil {
			return fmt.Errorf("messages[%d]: %w", i, err)
		}
	}
	return nil
}

// Text concatenates the textual content of every message, space separated.
func (r ChatRequest) Text() string {
	texts := make([]string, 0, len(r.Messages))
	for _, msg := range r.Messages {
		texts = append(texts, msg.Body().Text())
	}
	return strings.Join(texts, " ")
}
