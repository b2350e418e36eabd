package provider

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"

	"paig-gateway/internal/models"
)

var (
	// ErrUnsupportedProvider indicates no adapter is registered for a provider kind.
	ErrUnsupportedProvider = errors.New("unsupported provider")
	// ErrInvalidRequest indicates the conversation cannot be expressed in the
	// provider's request shape.
	ErrInvalidRequest = errors.New("request not representable for provider")
	// ErrMalformedResponse indicates a 2xx reply the adapter could not interpret.
	ErrMalformedResponse = errors.New("malformed provider response")
)

// Request is everything an adapter needs to issue one upstream call.
type Request struct {
	Model    models.AiModelDescriptor
	Messages []models.Message
	Stream   bool
}

// Response holds exactly one of Stream or Completion. Stream carries the raw
// provider event stream and must be closed by the consumer.
type Response struct {
	Stream     io.ReadCloser
	Completion *models.Completion
}

// Adapter issues upstream calls for one provider wire protocol.
type Adapter interface {
	Kind() models.ProviderKind
	Send(ctx context.Context, req Request) (*Response, error)
}

// StatusError is returned when the upstream answers with a non-2xx status.
type StatusError struct {
	Provider   models.ProviderKind
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	body := strings.TrimSpace(e.Body)
	if body == "" {
		return fmt.Sprintf("%s upstream returned status %d", e.Provider, e.StatusCode)
	}
	return fmt.Sprintf("%s upstream returned status %d: %s", e.Provider, e.StatusCode, body)
}

// Table maps provider kinds to adapters.
type Table struct {
	mu       sync.RWMutex
	adapters map[models.ProviderKind]Adapter
}

// NewTable constructs a table holding the given adapters.
func NewTable(adapters ...Adapter) (*Table, error) {
	t := &Table{adapters: make(map[models.ProviderKind]Adapter, len(adapters))}
	for _, a := range adapters {
		if err := t.Register(a); err != nil {
			return nil, err
		}
	}
	return t, nil
}

// Register adds an adapter. Each kind may be registered once.
func (t *Table) Register(a Adapter) error {
	if a == nil {
		return errors.New("adapter must not be nil")
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	if _, exists := t.adapters[a.Kind()]; exists {
		return fmt.Errorf("adapter for %q already registered", a.Kind())
	}
	t.adapters[a.Kind()] = a
	return nil
}

// Lookup returns the adapter for kind.
func (t *Table) Lookup(kind models.ProviderKind) (Adapter, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	a, ok := t.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedProvider, kind)
	}
	return a, nil
}
