package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rollupim/supportchat/internal/reliability"
)

var (
	// ErrNotConfigured means the webhook URL or operator address is missing
	// or rejected. Distinct from transient delivery failure by design.
	ErrNotConfigured = errors.New("escalation channel not configured")
	// ErrDeliveryFailed means the dispatch was attempted and did not go
	// through. The notifier never retries; retry policy belongs to callers.
	ErrDeliveryFailed = errors.New("escalation delivery failed")
)

// Request carries the three slots collected for a human handoff.
type Request struct {
	Name     string `json:"name"`
	Phone    string `json:"phone"`
	Question string `json:"question"`
}

// Notifier forwards handoff requests to the operator's messaging channel
// through a webhook automation hook.
type Notifier struct {
	webhookURL string
	recipient  string
	client     *http.Client
}

func NewNotifier(webhookURL, recipient string) *Notifier {
	return &Notifier{
		webhookURL: strings.TrimSpace(webhookURL),
		recipient:  strings.TrimSpace(recipient),
		client:     &http.Client{Timeout: 15 * time.Second},
	}
}

// Recipient returns the configured operator address for response bodies.
func (n *Notifier) Recipient() string {
	return n.recipient
}

// NotifyAdmin composes the fixed handshake payload and dispatches it once.
func (n *Notifier) NotifyAdmin(ctx context.Context, req Request) error {
	if n.webhookURL == "" || n.recipient == "" {
		return ErrNotConfigured
	}

	customer, err := json.Marshal(map[string]string{
		"name":  req.Name,
		"phone": req.Phone,
	})
	if err != nil {
		return fmt.Errorf("encode customer: %w", err)
	}

	form := url.Values{}
	form.Set("version", "1.0")
	form.Set("event", "human_handshake")
	form.Set("source", "bot")
	form.Set("timestamp", time.Now().UTC().Format(time.RFC3339))
	form.Set("recipient", n.recipient)
	form.Set("customer", string(customer))
	form.Set("notes", req.Question)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, n.webhookURL, strings.NewReader(form.Encode()))
	if err != nil {
		return fmt.Errorf("build webhook request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := n.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrDeliveryFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		if reliability.IsCredentialHTTPStatus(resp.StatusCode) {
			return fmt.Errorf("%w: status %d", ErrNotConfigured, resp.StatusCode)
		}
		return fmt.Errorf("%w: status %d: %s", ErrDeliveryFailed, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return nil
}
