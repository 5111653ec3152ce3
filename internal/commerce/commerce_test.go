package commerce

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-mail-ai-go/internal/config"
	"support-mail-ai-go/internal/vault"
)

func TestParseCents(t *testing.T) {
	assert.Equal(t, int64(12345), parseCents("123.45"))
	assert.Equal(t, int64(12300), parseCents("123"))
	assert.Equal(t, int64(12350), parseCents("123.5"))
	assert.Equal(t, int64(99), parseCents("0.99"))
	assert.Equal(t, int64(0), parseCents(""))
	assert.Equal(t, int64(0), parseCents("abc"))
}

func TestItemsSummary(t *testing.T) {
	o := &OrderSummary{LineItems: []LineItem{
		{Title: "Tênis", Quantity: 1},
		{Title: "Meia", Quantity: 3},
	}}
	assert.Equal(t, "1x Tênis, 3x Meia", o.ItemsSummary())

	assert.Equal(t, "", (&OrderSummary{}).ItemsSummary())
}

// shopifyStub serves a canned orders.json response and records the
// request for assertions. The lookup's http client is pointed at it by
// rewriting the store domain.
func shopifyStub(t *testing.T, status int, payload interface{}) (*ShopifyLookup, *vault.CommerceCredentials, *http.Request) {
	t.Helper()

	var captured http.Request
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		captured = *r
		w.WriteHeader(status)
		if payload != nil {
			_ = json.NewEncoder(w).Encode(payload)
		}
	}))
	t.Cleanup(server.Close)

	lookup := NewShopifyLookup(config.CommerceConfig{})
	lookup.httpc = server.Client()
	lookup.httpc.Transport = rewriteHost(server.URL)

	creds := &vault.CommerceCredentials{StoreDomain: "minhaloja.myshopify.com", AccessToken: "shpat_test"}
	return lookup, creds, &captured
}

type rewriteHost string

func (h rewriteHost) RoundTrip(req *http.Request) (*http.Response, error) {
	target := strings.TrimPrefix(string(h), "http://")
	req.URL.Scheme = "http"
	req.URL.Host = target
	return http.DefaultTransport.RoundTrip(req)
}

func TestFindOrderParsesNewestOrder(t *testing.T) {
	payload := map[string]interface{}{
		"orders": []map[string]interface{}{
			{
				"id":                 987654,
				"name":               "#1234",
				"email":              "cliente@gmail.com",
				"financial_status":   "paid",
				"fulfillment_status": "fulfilled",
				"total_price":        "149.90",
				"currency":           "BRL",
				"line_items":         []map[string]interface{}{{"title": "Tênis", "quantity": 1}},
				"fulfillments": []map[string]interface{}{
					{"tracking_number": "LB123456789BR", "tracking_url": "https://track.example/LB123456789BR"},
				},
			},
		},
	}
	lookup, creds, captured := shopifyStub(t, http.StatusOK, payload)

	summary, err := lookup.FindOrder(context.Background(), creds, "Cliente@Gmail.com", "1234")
	require.NoError(t, err)

	assert.Equal(t, "987654", summary.OrderID)
	assert.Equal(t, "1234", summary.OrderNumber)
	assert.Equal(t, "paid", summary.Status)
	assert.Equal(t, "fulfilled", summary.FulfillmentStatus)
	assert.Equal(t, int64(14990), summary.TotalCents)
	assert.Equal(t, "LB123456789BR", summary.TrackingNumber)
	assert.Equal(t, "1x Tênis", summary.ItemsSummary())

	assert.Equal(t, "shpat_test", captured.Header.Get("X-Shopify-Access-Token"))
	assert.Equal(t, "cliente@gmail.com", captured.URL.Query().Get("email"))
	assert.Equal(t, "#1234", captured.URL.Query().Get("name"))
}

func TestFindOrderNotFound(t *testing.T) {
	lookup, creds, _ := shopifyStub(t, http.StatusOK, map[string]interface{}{"orders": []interface{}{}})

	_, err := lookup.FindOrder(context.Background(), creds, "cliente@gmail.com", "")
	assert.ErrorIs(t, err, ErrOrderNotFound)
}

func TestFindOrderServerError(t *testing.T) {
	lookup, creds, _ := shopifyStub(t, http.StatusInternalServerError, nil)

	_, err := lookup.FindOrder(context.Background(), creds, "cliente@gmail.com", "")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrOrderNotFound)
	assert.Contains(t, err.Error(), "status 500")
}
