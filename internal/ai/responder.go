package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ShopPolicy is the shop's reply policy applied verbatim to generated
// replies.
type ShopPolicy struct {
	ShopName             string
	Tone                 string
	DeliveryInfo         string
	WarrantyInfo         string
	RetentionCouponTerms string
}

// OrderContext is what the responder knows about the customer's order.
// A minimal context (number only) is used when the commerce lookup
// failed but the number is known.
type OrderContext struct {
	OrderNumber    string
	Status         string
	TrackingNumber string
	TrackingURL    string
	ItemsSummary   string
}

// ReplyRequest carries everything the responder needs for one reply.
type ReplyRequest struct {
	Policy                ShopPolicy
	Subject               string
	Body                  string
	Category              string
	History               []HistoryMessage
	Order                 *OrderContext
	Language              string
	RetentionContactCount int
	Frustrated            bool
	ImageCount            int
}

// Reply is a generated customer reply. ForwardToHuman set means the
// model itself judged the case beyond automation; the worker escalates
// even after a reply was drafted.
type Reply struct {
	Text           string
	ForwardToHuman bool
	Usage          Usage
}

// Responder produces reply text, data requests and human-fallback
// notices using the language model. Stateless.
type Responder struct {
	client *Client
}

// NewResponder creates a responder on top of the shared client.
func NewResponder(client *Client) *Responder {
	return &Responder{client: client}
}

const responderSystemPrompt = `You write replies for an e-commerce customer support mailbox.
Answer in the customer's language, follow the shop policy exactly, and never invent order details.
Never ask the customer for a tracking number; only an order number may be requested.
Respond with a single JSON object, no prose:
"text": the full reply body
"forward_to_human": true only if the case cannot be resolved by this reply`

// GenerateReply drafts a reply for the classified email.
func (r *Responder) GenerateReply(ctx context.Context, req ReplyRequest) (*Reply, error) {
	var prompt strings.Builder

	fmt.Fprintf(&prompt, "Shop: %s\nTone: %s\nCategory: %s\nLanguage: %s\n",
		req.Policy.ShopName, req.Policy.Tone, req.Category, req.Language)
	if req.Policy.DeliveryInfo != "" {
		fmt.Fprintf(&prompt, "Delivery policy: %s\n", req.Policy.DeliveryInfo)
	}
	if req.Policy.WarrantyInfo != "" {
		fmt.Fprintf(&prompt, "Warranty policy: %s\n", req.Policy.WarrantyInfo)
	}
	if req.Frustrated && req.Policy.RetentionCouponTerms != "" {
		fmt.Fprintf(&prompt, "The customer is frustrated (contact %d). Retention coupon terms: %s\n",
			req.RetentionContactCount, req.Policy.RetentionCouponTerms)
	}

	if req.Order != nil {
		fmt.Fprintf(&prompt, "\nOrder %s", req.Order.OrderNumber)
		if req.Order.Status != "" {
			fmt.Fprintf(&prompt, " — status: %s", req.Order.Status)
		}
		if req.Order.TrackingNumber != "" {
			fmt.Fprintf(&prompt, ", tracking: %s", req.Order.TrackingNumber)
		}
		if req.Order.TrackingURL != "" {
			fmt.Fprintf(&prompt, " (%s)", req.Order.TrackingURL)
		}
		if req.Order.ItemsSummary != "" {
			fmt.Fprintf(&prompt, ", items: %s", req.Order.ItemsSummary)
		}
		prompt.WriteString("\n")
	} else {
		prompt.WriteString("\nNo order details are available; do not invent any.\n")
	}

	if req.ImageCount > 0 {
		fmt.Fprintf(&prompt, "The customer attached %d image(s).\n", req.ImageCount)
	}

	if len(req.History) > 0 {
		prompt.WriteString("\nConversation so far:\n")
		for _, h := range req.History {
			fmt.Fprintf(&prompt, "[%s] %s\n", h.Direction, truncate(h.Body, 500))
		}
	}

	fmt.Fprintf(&prompt, "\nSubject: %s\n\n%s", req.Subject, truncate(req.Body, 4000))

	return r.generate(ctx, responderSystemPrompt, prompt.String())
}

const dataRequestSystemPrompt = `You write a short, polite customer support reply asking the customer
for their order number so their request can be handled. Ask only for the
order number, nothing else, in the customer's language.
Respond with a single JSON object: {"text": "...", "forward_to_human": false}`

// GenerateDataRequest drafts the "please send your order number" reply.
// Attempt is how many times the customer has already been asked.
func (r *Responder) GenerateDataRequest(ctx context.Context, policy ShopPolicy, subject, body, language string, attempt int) (*Reply, error) {
	prompt := fmt.Sprintf("Shop: %s\nTone: %s\nLanguage: %s\nPrevious requests for the order number: %d\n\nSubject: %s\n\n%s",
		policy.ShopName, policy.Tone, language, attempt, subject, truncate(body, 2000))
	return r.generate(ctx, dataRequestSystemPrompt, prompt)
}

const humanFallbackSystemPrompt = `You write a short customer support reply, in the customer's language,
telling the customer their request was forwarded to the shop's human
support team who will follow up shortly.
Respond with a single JSON object: {"text": "...", "forward_to_human": true}`

// GenerateHumanFallback drafts the notice sent to the customer when the
// conversation is handed to a human.
func (r *Responder) GenerateHumanFallback(ctx context.Context, policy ShopPolicy, subject, language string) (*Reply, error) {
	prompt := fmt.Sprintf("Shop: %s\nTone: %s\nLanguage: %s\n\nSubject: %s",
		policy.ShopName, policy.Tone, language, subject)
	return r.generate(ctx, humanFallbackSystemPrompt, prompt)
}

func (r *Responder) generate(ctx context.Context, system, user string) (*Reply, error) {
	content, usage, err := r.client.Chat(ctx, system, user, 1000)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Text           string `json:"text"`
		ForwardToHuman bool   `json:"forward_to_human"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse reply %q: %w", truncate(content, 200), err)
	}
	if strings.TrimSpace(parsed.Text) == "" {
		return nil, fmt.Errorf("model returned an empty reply")
	}

	return &Reply{Text: parsed.Text, ForwardToHuman: parsed.ForwardToHuman, Usage: usage}, nil
}
