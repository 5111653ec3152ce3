package commerce

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

	"support-mail-ai-go/internal/config"
	"support-mail-ai-go/internal/vault"
)

// ErrOrderNotFound is the tolerated "no match" result of a lookup.
var ErrOrderNotFound = errors.New("commerce: order not found")

// LineItem is one purchased item of an order.
type LineItem struct {
	Title    string `json:"title"`
	SKU      string `json:"sku"`
	Quantity int    `json:"quantity"`
}

// OrderSummary is the slice of an order the responder needs. Amounts are
// cents to avoid float money.
type OrderSummary struct {
	OrderID           string     `json:"order_id"`
	OrderNumber       string     `json:"order_number"`
	Status            string     `json:"status"`
	FulfillmentStatus string     `json:"fulfillment_status"`
	TrackingNumber    string     `json:"tracking_number"`
	TrackingURL       string     `json:"tracking_url"`
	TotalCents        int64      `json:"total_cents"`
	Currency          string     `json:"currency"`
	CustomerEmail     string     `json:"customer_email"`
	LineItems         []LineItem `json:"line_items"`
	CreatedAt         time.Time  `json:"created_at"`
}

// ItemsSummary renders the line items as one short human-readable line.
func (o *OrderSummary) ItemsSummary() string {
	parts := make([]string, 0, len(o.LineItems))
	for _, item := range o.LineItems {
		parts = append(parts, fmt.Sprintf("%dx %s", item.Quantity, item.Title))
	}
	return strings.Join(parts, ", ")
}

// Lookup resolves an order summary for a customer email, optionally
// narrowed by an order number hint. Implementations return
// ErrOrderNotFound when nothing matches; any other error is a lookup
// failure.
type Lookup interface {
	FindOrder(ctx context.Context, creds *vault.CommerceCredentials, customerEmail, orderNumberHint string) (*OrderSummary, error)
}

// ShopifyLookup implements Lookup against the Shopify admin orders API.
type ShopifyLookup struct {
	apiVersion string
	httpc      *http.Client
}

// NewShopifyLookup creates a lookup client with the configured API
// version and timeout.
func NewShopifyLookup(cfg config.CommerceConfig) *ShopifyLookup {
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	return &ShopifyLookup{
		apiVersion: cfg.APIVersion,
		httpc:      &http.Client{Timeout: timeout},
	}
}

type shopifyOrder struct {
	ID                int64     `json:"id"`
	Name              string    `json:"name"`
	FinancialStatus   string    `json:"financial_status"`
	FulfillmentStatus string    `json:"fulfillment_status"`
	TotalPrice        string    `json:"total_price"`
	Currency          string    `json:"currency"`
	Email             string    `json:"email"`
	CreatedAt         time.Time `json:"created_at"`
	LineItems         []struct {
		Title    string `json:"title"`
		SKU      string `json:"sku"`
		Quantity int    `json:"quantity"`
	} `json:"line_items"`
	Fulfillments []struct {
		TrackingNumber string `json:"tracking_number"`
		TrackingURL    string `json:"tracking_url"`
	} `json:"fulfillments"`
}

// FindOrder looks up the most recent order for the customer email. When
// an order number hint is given it must match; otherwise the newest
// order wins.
func (l *ShopifyLookup) FindOrder(ctx context.Context, creds *vault.CommerceCredentials, customerEmail, orderNumberHint string) (*OrderSummary, error) {
	query := url.Values{}
	query.Set("status", "any")
	query.Set("email", strings.ToLower(strings.TrimSpace(customerEmail)))
	if orderNumberHint != "" {
		// Shopify order names carry a "#" prefix.
		query.Set("name", "#"+strings.TrimPrefix(orderNumberHint, "#"))
	}

	endpoint := fmt.Sprintf("https://%s/admin/api/%s/orders.json?%s", creds.StoreDomain, l.apiVersion, query.Encode())

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create orders request: %w", err)
	}
	req.Header.Set("X-Shopify-Access-Token", creds.AccessToken)
	req.Header.Set("Accept", "application/json")

	resp, err := l.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("orders request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("failed to read orders response: %w", err)
	}

	switch {
	case resp.StatusCode == http.StatusNotFound:
		return nil, ErrOrderNotFound
	case resp.StatusCode != http.StatusOK:
		return nil, fmt.Errorf("orders request returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(body)))
	}

	var parsed struct {
		Orders []shopifyOrder `json:"orders"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, fmt.Errorf("failed to unmarshal orders response: %w", err)
	}
	if len(parsed.Orders) == 0 {
		return nil, ErrOrderNotFound
	}

	// Orders come newest first; the first entry is the relevant one.
	return toSummary(&parsed.Orders[0]), nil
}

func toSummary(o *shopifyOrder) *OrderSummary {
	summary := &OrderSummary{
		OrderID:           fmt.Sprintf("%d", o.ID),
		OrderNumber:       strings.TrimPrefix(o.Name, "#"),
		Status:            o.FinancialStatus,
		FulfillmentStatus: o.FulfillmentStatus,
		TotalCents:        parseCents(o.TotalPrice),
		Currency:          o.Currency,
		CustomerEmail:     o.Email,
		CreatedAt:         o.CreatedAt,
	}
	for _, item := range o.LineItems {
		summary.LineItems = append(summary.LineItems, LineItem{Title: item.Title, SKU: item.SKU, Quantity: item.Quantity})
	}
	if len(o.Fulfillments) > 0 {
		summary.TrackingNumber = o.Fulfillments[0].TrackingNumber
		summary.TrackingURL = o.Fulfillments[0].TrackingURL
	}
	return summary
}

// parseCents converts a decimal money string ("123.45") to cents
// without floating point.
func parseCents(price string) int64 {
	whole, frac, _ := strings.Cut(strings.TrimSpace(price), ".")
	var cents int64
	for _, r := range whole {
		if r < '0' || r > '9' {
			return 0
		}
		cents = cents*10 + int64(r-'0')
	}
	cents *= 100
	frac = (frac + "00")[:2]
	for i, r := range frac {
		if r < '0' || r > '9' {
			return cents
		}
		if i == 0 {
			cents += int64(r-'0') * 10
		} else {
			cents += int64(r - '0')
		}
	}
	return cents
}
