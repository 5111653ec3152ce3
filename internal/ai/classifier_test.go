package ai

import (
	"context"
	"net/http"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-mail-ai-go/internal/model"
)

func TestClassifyParsesVerdict(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		verdict := `{"category":"rastreio","confidence":0.92,"language":"pt","order_id_hint":"1234","summary":"asks about delivery"}`
		w.Write([]byte(chatJSON(verdict, 100, 20)))
	})
	classifier := NewClassifier(client)

	cls, err := classifier.Classify(context.Background(), "Cadê meu pedido", "pedido 1234 não chegou", nil)
	require.NoError(t, err)
	assert.Equal(t, model.CategoryTracking, cls.Category)
	assert.Equal(t, 0.92, cls.Confidence)
	assert.Equal(t, "pt", cls.Language)
	assert.Equal(t, "1234", cls.OrderIDHint)
	assert.Equal(t, Usage{TokensIn: 100, TokensOut: 20}, cls.Usage)
}

func TestClassifyStripsCodeFence(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		verdict := "```json\n{\"category\":\"spam\",\"confidence\":1.0,\"language\":\"en\"}\n```"
		w.Write([]byte(chatJSON(verdict, 1, 1)))
	})
	classifier := NewClassifier(client)

	cls, err := classifier.Classify(context.Background(), "win big", "prize inside", nil)
	require.NoError(t, err)
	assert.Equal(t, model.CategorySpam, cls.Category)
}

func TestClassifyNormalizesUnknownCategory(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		verdict := `{"category":"something_else","confidence":7.5,"language":"PT"}`
		w.Write([]byte(chatJSON(verdict, 1, 1)))
	})
	classifier := NewClassifier(client)

	cls, err := classifier.Classify(context.Background(), "s", "b", nil)
	require.NoError(t, err)
	assert.Equal(t, model.CategoryGeneral, cls.Category)
	assert.Equal(t, 1.0, cls.Confidence)
	assert.Equal(t, "pt", cls.Language)
}

func TestTruncateKeepsRuneBoundaries(t *testing.T) {
	assert.Equal(t, "curto", truncate("curto", 10))

	// The cut lands inside the two-byte "ç"; it backs up instead of
	// emitting a broken sequence.
	got := truncate("atenção por favor", 5)
	assert.Equal(t, "aten…", got)
	assert.True(t, utf8.ValidString(got))

	long := strings.Repeat("não chegou ", 50)
	got = truncate(long, 100)
	assert.True(t, utf8.ValidString(got))
	assert.LessOrEqual(t, len(got), 100+len("…"))
}

func TestClassifyMalformedJSON(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatJSON("the category is probably rastreio", 1, 1)))
	})
	classifier := NewClassifier(client)

	_, err := classifier.Classify(context.Background(), "s", "b", nil)
	assert.Error(t, err)
}
