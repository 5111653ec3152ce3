package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"support-mail-ai-go/internal/model"
)

// HistoryMessage is one prior message of the conversation passed to the
// model for context.
type HistoryMessage struct {
	Direction string
	Body      string
}

// Classification is the classifier's verdict for one inbound email.
type Classification struct {
	Category    string
	Confidence  float64
	Language    string
	OrderIDHint string
	Summary     string
	Usage       Usage
}

// Classifier assigns a support category, confidence and language to an
// inbound email using the language model. Stateless.
type Classifier struct {
	client *Client
}

// NewClassifier creates a classifier on top of the shared client.
func NewClassifier(client *Client) *Classifier {
	return &Classifier{client: client}
}

const classifierSystemPrompt = `You classify customer support emails for e-commerce shops.
Respond with a single JSON object, no prose, with these keys:
"category": one of "spam", "duvidas_gerais", "rastreio", "troca_devolucao_reembolso", "edicao_pedido", "suporte_humano"
"confidence": number between 0 and 1
"language": ISO 639-1 code of the customer's language
"order_id_hint": order number mentioned in the email, or ""
"summary": one-sentence summary of the request`

// Classify returns the category, confidence and language for the given
// subject/body, with recent conversation history as context.
func (c *Classifier) Classify(ctx context.Context, subject, body string, history []HistoryMessage) (*Classification, error) {
	var prompt strings.Builder
	if len(history) > 0 {
		prompt.WriteString("Conversation so far:\n")
		for _, h := range history {
			prompt.WriteString(fmt.Sprintf("[%s] %s\n", h.Direction, truncate(h.Body, 500)))
		}
		prompt.WriteString("\n")
	}
	prompt.WriteString("Subject: " + subject + "\n\n")
	prompt.WriteString(truncate(body, 4000))

	content, usage, err := c.client.Chat(ctx, classifierSystemPrompt, prompt.String(), 300)
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Category    string  `json:"category"`
		Confidence  float64 `json:"confidence"`
		Language    string  `json:"language"`
		OrderIDHint string  `json:"order_id_hint"`
		Summary     string  `json:"summary"`
	}
	if err := json.Unmarshal([]byte(stripCodeFence(content)), &parsed); err != nil {
		return nil, fmt.Errorf("failed to parse classification %q: %w", truncate(content, 200), err)
	}

	result := &Classification{
		Category:    normalizeCategory(parsed.Category),
		Confidence:  clamp01(parsed.Confidence),
		Language:    strings.ToLower(strings.TrimSpace(parsed.Language)),
		OrderIDHint: strings.TrimSpace(parsed.OrderIDHint),
		Summary:     parsed.Summary,
		Usage:       usage,
	}
	return result, nil
}

// normalizeCategory maps anything outside the known set to the general
// category with the lowest processing requirements.
func normalizeCategory(category string) string {
	switch strings.ToLower(strings.TrimSpace(category)) {
	case model.CategorySpam:
		return model.CategorySpam
	case model.CategoryTracking:
		return model.CategoryTracking
	case model.CategoryReturnRefund:
		return model.CategoryReturnRefund
	case model.CategoryOrderEdit:
		return model.CategoryOrderEdit
	case model.CategoryHumanSupport:
		return model.CategoryHumanSupport
	default:
		return model.CategoryGeneral
	}
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}

// truncate shortens s to at most n bytes, backing up to a rune boundary
// so a multi-byte character is never split.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "…"
}
