package orders

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

	"github.com/rollupim/supportchat/internal/config"
	"github.com/rollupim/supportchat/internal/reliability"
)

var (
	// ErrNotFound means the query succeeded but matched no record.
	ErrNotFound = errors.New("order not found")
	// ErrUnavailable means the backing store could not be queried right now.
	ErrUnavailable = errors.New("order store unavailable")
	// ErrNotConfigured means credentials or addresses are missing or rejected.
	ErrNotConfigured = errors.New("order store not configured")
)

// Identifier carries at most the fields the caller could extract; any one
// of them is enough for a lookup.
type Identifier struct {
	OrderID string `json:"orderId,omitempty"`
	Email   string `json:"email,omitempty"`
	Phone   string `json:"phone,omitempty"`
}

func (id Identifier) Empty() bool {
	return id.OrderID == "" && id.Email == "" && id.Phone == ""
}

// Order is the normalized status summary for a single record.
type Order struct {
	OrderID         string `json:"orderId"`
	Status          string `json:"status"`
	LastUpdate      string `json:"lastUpdate,omitempty"`
	InvoiceURL      string `json:"invoiceUrl,omitempty"`
	DeliveryCertURL string `json:"deliveryCertUrl,omitempty"`
}

// Gateway queries the Airtable order table. It never mutates records.
type Gateway struct {
	apiKey  string
	baseURL string
	baseID  string
	table   string
	fields  config.AirtableFields
	client  *http.Client
}

func NewGateway(cfg config.Config) *Gateway {
	return &Gateway{
		apiKey:  cfg.AirtableAPIKey,
		baseURL: strings.TrimRight(cfg.AirtableBaseURL, "/"),
		baseID:  cfg.AirtableBaseID,
		table:   cfg.AirtableTable,
		fields:  cfg.AirtableFields,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

// Find returns the first matching record. The store returns its best match
// first; no further tie-break is applied (kept from the original behavior).
func (g *Gateway) Find(ctx context.Context, id Identifier) (*Order, error) {
	if id.Empty() {
		return nil, ErrNotFound
	}
	if g.apiKey == "" || g.baseID == "" {
		return nil, ErrNotConfigured
	}

	formula := g.buildFormula(id)
	endpoint := fmt.Sprintf("%s/%s/%s?maxRecords=5&filterByFormula=%s",
		g.baseURL,
		url.PathEscape(g.baseID),
		url.PathEscape(g.table),
		url.QueryEscape(formula),
	)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build order query: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+g.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("%w: read response: %v", ErrUnavailable, err)
	}
	if resp.StatusCode != http.StatusOK {
		if reliability.IsCredentialHTTPStatus(resp.StatusCode) {
			return nil, fmt.Errorf("%w: status %d", ErrNotConfigured, resp.StatusCode)
		}
		return nil, fmt.Errorf("%w: status %d: %s", ErrUnavailable, resp.StatusCode, truncate(body, 200))
	}

	var payload struct {
		Records []struct {
			ID     string                     `json:"id"`
			Fields map[string]json.RawMessage `json:"fields"`
		} `json:"records"`
	}
	if err := json.Unmarshal(body, &payload); err != nil {
		return nil, fmt.Errorf("%w: parse response: %v", ErrUnavailable, err)
	}
	if len(payload.Records) == 0 {
		return nil, ErrNotFound
	}

	rec := payload.Records[0]
	order := &Order{
		OrderID:         fieldString(rec.Fields, g.fields.OrderID),
		Status:          fieldString(rec.Fields, g.fields.Status),
		LastUpdate:      fieldString(rec.Fields, g.fields.LastUpdate),
		InvoiceURL:      fieldString(rec.Fields, g.fields.InvoiceURL),
		DeliveryCertURL: fieldString(rec.Fields, g.fields.DeliveryURL),
	}
	if order.OrderID == "" {
		order.OrderID = rec.ID
	}
	if order.Status == "" {
		order.Status = "Unknown"
	}
	return order, nil
}

// buildFormula ORs one clause per provided identifier. Email comparison is
// case-insensitive; phone comparison ignores whitespace in the stored value.
func (g *Gateway) buildFormula(id Identifier) string {
	var clauses []string
	if id.OrderID != "" {
		clauses = append(clauses, fmt.Sprintf(`{%s} = "%s"`, g.fields.OrderID, escapeQuotes(id.OrderID)))
	}
	if id.Email != "" {
		clauses = append(clauses, fmt.Sprintf(`LOWER({%s}) = LOWER("%s")`, g.fields.Email, escapeQuotes(id.Email)))
	}
	if id.Phone != "" {
		normalized := strings.Join(strings.Fields(id.Phone), "")
		clauses = append(clauses, fmt.Sprintf(`SUBSTITUTE({%s}, " ", "") = "%s"`, g.fields.Phone, escapeQuotes(normalized)))
	}
	return strings.Join(clauses, " OR ")
}

func escapeQuotes(v string) string {
	return strings.ReplaceAll(v, `"`, `\"`)
}

func fieldString(fields map[string]json.RawMessage, name string) string {
	raw, ok := fields[name]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	// Non-string cells (numbers, formula results) come back as-is.
	return strings.Trim(string(raw), `"`)
}

func truncate(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
