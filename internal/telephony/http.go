package telephony

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/acme/callcenter-router/internal/config"
)

// HTTPProvider talks to the telephony platform's REST API.
type HTTPProvider struct {
	baseURL    string
	projectKey string
	token      string
	client     *http.Client
}

// NewHTTPProvider constructs a REST provider from platform config.
func NewHTTPProvider(cfg config.PlatformConfig) *HTTPProvider {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &HTTPProvider{
		baseURL:    fmt.Sprintf("https://%s/api/v1", cfg.Space),
		projectKey: cfg.ProjectKey,
		token:      cfg.Token,
		client:     &http.Client{Timeout: timeout},
	}
}

// EndCall hangs up a live call.
func (p *HTTPProvider) EndCall(ctx context.Context, callRef string) error {
	path := fmt.Sprintf("/calls/%s", callRef)
	return p.do(ctx, http.MethodDelete, path, nil)
}

// TransferCall redirects a live call to another address.
func (p *HTTPProvider) TransferCall(ctx context.Context, callRef, target string) error {
	path := fmt.Sprintf("/calls/%s/transfer", callRef)
	return p.do(ctx, http.MethodPost, path, map[string]any{"to": target})
}

// KickParticipant removes one participant from a conference.
func (p *HTTPProvider) KickParticipant(ctx context.Context, conferenceName, callRef string) error {
	path := fmt.Sprintf("/conferences/%s/participants/%s", conferenceName, callRef)
	return p.do(ctx, http.MethodDelete, path, nil)
}

func (p *HTTPProvider) do(ctx context.Context, method, path string, payload any) error {
	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("telephony: marshal request: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, body)
	if err != nil {
		return fmt.Errorf("telephony: build request: %w", err)
	}
	req.SetBasicAuth(p.projectKey, p.token)
	if payload != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("telephony: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode >= 300 {
		return fmt.Errorf("telephony: %s %s: unexpected status %d", method, path, resp.StatusCode)
	}
	return nil
}
