package factory

import (
	"fmt"
	"net"
	"net/http"
	"time"

	"paig-gateway/internal/config"
	"paig-gateway/internal/provider"
	anthropicProvider "paig-gateway/internal/provider/anthropic"
	openaiProvider "paig-gateway/internal/provider/openai"
)

const (
	defaultDialTimeout     = 10 * time.Second
	defaultKeepAlive       = 30 * time.Second
	defaultIdleConnTimeout = 90 * time.Second
	// Bounds the wait for upstream headers; streamed bodies may run longer.
	defaultHeaderTimeout = 120 * time.Second
)

// BuildTable constructs one adapter per supported provider from configuration.
func BuildTable(cfg config.ProvidersConfig) (*provider.Table, error) {
	openAI, err := openaiProvider.New(cfg.OpenAI, newHTTPClient())
	if err != nil {
		return nil, fmt.Errorf("initialise openai provider: %w", err)
	}

	anthropic, err := anthropicProvider.New(cfg.Anthropic, newHTTPClient())
	if err != nil {
		return nil, fmt.Errorf("initialise anthropic provider: %w", err)
	}

	return provider.NewTable(openAI, anthropic)
}

// The client has no overall timeout so long streams are not cut off;
// cancellation comes from the request context.
func newHTTPClient() *http.Client {
	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		DialContext:           (&net.Dialer{Timeout: defaultDialTimeout, KeepAlive: defaultKeepAlive}).DialContext,
		ForceAttemptHTTP2:     true,
		MaxIdleConns:          50,
		IdleConnTimeout:       defaultIdleConnTimeout,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: defaultHeaderTimeout,
		ExpectContinueTimeout: 1 * time.Second,
	}

	return &http.Client{Transport: transport}
}
