package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/woedy/god-bless-super-sub006/internal/domain/model"
)

// HTTPProviderOptions configures an HTTPProvider.
type HTTPProviderOptions struct {
	// LookupURL is the endpoint queried per number.
	LookupURL string

	// Timeout bounds a single lookup request.
	Timeout time.Duration

	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// HTTPProvider classifies numbers through an external lookup service. A
// lookup failure is an error on that number only; the validate engine counts
// it as a failed item and keeps going.
type HTTPProvider struct {
	lookupURL string
	client    *http.Client
}

// lookupResponse is the wire shape returned by the lookup service.
type lookupResponse struct {
	Valid    bool   `json:"valid"`
	Carrier  string `json:"carrier"`
	LineType string `json:"line_type"`
	Country  string `json:"country"`
}

// NewHTTPProvider constructs an HTTPProvider.
func NewHTTPProvider(opts HTTPProviderOptions) (*HTTPProvider, error) {
	if opts.LookupURL == "" {
		return nil, fmt.Errorf("lookup url is required")
	}

	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return &HTTPProvider{lookupURL: opts.LookupURL, client: client}, nil
}

// Name returns the provider identifier.
func (p *HTTPProvider) Name() string {
	return "http"
}

// Classify queries the lookup service for one number.
func (p *HTTPProvider) Classify(ctx context.Context, number string) (Classification, error) {
	digits := model.NormalizeNumber(number)
	if digits == "" {
		return Classification{}, fmt.Errorf("number %q has no digits", number)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		p.lookupURL+"?number="+url.QueryEscape(digits), nil)
	if err != nil {
		return Classification{}, fmt.Errorf("build lookup request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return Classification{}, fmt.Errorf("query lookup service: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return Classification{}, fmt.Errorf("lookup service returned status %d", resp.StatusCode)
	}

	var body lookupResponse
	if decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&body); decodeErr != nil {
		return Classification{}, fmt.Errorf("decode lookup response: %w", decodeErr)
	}

	if !body.Valid {
		return Classification{Validation: model.ValidationInvalid}, nil
	}
	return Classification{
		Validation: model.ValidationValid,
		Carrier:    body.Carrier,
		LineType:   body.LineType,
		Country:    body.Country,
	}, nil
}
