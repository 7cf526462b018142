package engine

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// Sender delivers one rendered message to one recipient over a named channel,
// optionally through an egress proxy. The delivered flag reports whether the
// relay confirmed handset delivery; false with a nil error means the relay
// merely accepted the message.
type Sender interface {
	Send(ctx context.Context, channel, proxy, recipient, message string) (delivered bool, err error)
}

// HTTPSenderOptions configures an HTTPSender.
type HTTPSenderOptions struct {
	// RelayURL is the endpoint messages are posted to.
	RelayURL string

	// Timeout bounds a single relay request.
	Timeout time.Duration

	// Client overrides the HTTP client, mainly for tests.
	Client *http.Client
}

// HTTPSender posts messages to an external relay as JSON.
type HTTPSender struct {
	relayURL string
	client   *http.Client
}

// relayPayload is the wire shape posted to the relay.
type relayPayload struct {
	Channel   string `json:"channel"`
	Proxy     string `json:"proxy,omitempty"`
	Recipient string `json:"recipient"`
	Message   string `json:"message"`
}

// relayResponse is the optional response body from the relay. Relays that
// confirm handset delivery synchronously set delivered; an empty or
// unparseable body means accepted only.
type relayResponse struct {
	Delivered bool `json:"delivered"`
}

// NewHTTPSender constructs an HTTPSender.
func NewHTTPSender(opts HTTPSenderOptions) (*HTTPSender, error) {
	if opts.RelayURL == "" {
		return nil, fmt.Errorf("relay url is required")
	}

	client := opts.Client
	if client == nil {
		timeout := opts.Timeout
		if timeout <= 0 {
			timeout = 10 * time.Second
		}
		client = &http.Client{Timeout: timeout}
	}

	return &HTTPSender{relayURL: opts.RelayURL, client: client}, nil
}

// Send posts one message. Any non-2xx response is a send failure.
func (s *HTTPSender) Send(ctx context.Context, channel, proxy, recipient, message string) (bool, error) {
	body, err := json.Marshal(relayPayload{
		Channel:   channel,
		Proxy:     proxy,
		Recipient: recipient,
		Message:   message,
	})
	if err != nil {
		return false, fmt.Errorf("marshal relay payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.relayURL, bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("build relay request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return false, fmt.Errorf("post to relay: %w", err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return false, fmt.Errorf("relay returned status %d", resp.StatusCode)
	}

	var confirmed relayResponse
	if decodeErr := json.NewDecoder(io.LimitReader(resp.Body, 4096)).Decode(&confirmed); decodeErr != nil {
		return false, nil
	}
	return confirmed.Delivered, nil
}

// LogSender records sends without delivering anything. Used when no relay is
// configured, so campaigns can be exercised end to end in development.
type LogSender struct {
	logger *slog.Logger
}

// NewLogSender constructs a LogSender.
func NewLogSender(logger *slog.Logger) *LogSender {
	if logger != nil {
		logger = logger.With("component", "log_sender")
	}
	return &LogSender{logger: logger}
}

// Send logs the message and reports an accepted, unconfirmed send.
func (s *LogSender) Send(_ context.Context, channel, proxy, recipient, message string) (bool, error) {
	if s.logger != nil {
		s.logger.Info("message delivered to log sink",
			"channel", channel, "proxy", proxy, "recipient", recipient, "length", len(message))
	}
	return false, nil
}
