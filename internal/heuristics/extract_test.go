package heuristics

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExtractOrderNumber(t *testing.T) {
	assert.Equal(t, "1234", ExtractOrderNumber("Sobre o pedido #1234", ""))
	assert.Equal(t, "98765", ExtractOrderNumber("", "meu pedido nº 98765 não chegou"))
	assert.Equal(t, "4321", ExtractOrderNumber("", "Order: 4321 still processing?"))
	assert.Equal(t, "555123", ExtractOrderNumber("", "sobre a compra 555123"))

	// Subject wins over body.
	assert.Equal(t, "111", ExtractOrderNumber("pedido 111", "na verdade o pedido 222"))

	// Tracking codes must not match.
	assert.Equal(t, "", ExtractOrderNumber("", "código de rastreio LB123456789BR"))
	assert.Equal(t, "", ExtractOrderNumber("Dúvida", "quando abre a loja?"))

	// Too short or too long.
	assert.Equal(t, "", ExtractOrderNumber("#12", ""))
	assert.Equal(t, "", ExtractOrderNumber("#12345678901", ""))
}

func TestExtractAlternateEmails(t *testing.T) {
	body := "Comprei com a conta maria@shop.com mas escrevo de outra. Também tentei maria.silva@gmail.com"
	alternates := ExtractAlternateEmails(body, "Maria@Other.com")
	assert.Equal(t, []string{"maria@shop.com", "maria.silva@gmail.com"}, alternates)

	// The sender itself is never an alternate.
	alternates = ExtractAlternateEmails("escreva para joao@x.com", "joao@x.com")
	assert.Empty(t, alternates)
}

func TestNormalizeSubject(t *testing.T) {
	assert.Equal(t, "pedido 1234", NormalizeSubject("Re: RE: Pedido  1234"))
	assert.Equal(t, "pedido 1234", NormalizeSubject("ENC: Fwd: pedido 1234"))
	assert.Equal(t, "pedido 1234", NormalizeSubject("  pedido 1234  "))
	assert.Equal(t, "", NormalizeSubject("Re:"))
}

func TestDetectLanguage(t *testing.T) {
	assert.Equal(t, "pt", DetectLanguage("Olá, comprei um produto e não recebi meu pedido ainda"))
	assert.Equal(t, "en", DetectLanguage("Hello, when will my order arrive? Please send the tracking"))
	assert.Equal(t, "es", DetectLanguage("Hola, compré un producto y todavía no recibí el envío"))

	// No signal defaults to Portuguese.
	assert.Equal(t, "pt", DetectLanguage("???"))
}

func TestHTMLToText(t *testing.T) {
	html := `<html><head><style>p { color: red; }</style></head><body><p>Ol&aacute;</p><div>meu pedido <b>#1234</b> n&atilde;o chegou</div><br><p>Obrigado &amp; abra&ccedil;os</p></body></html>`
	text := HTMLToText(html)

	assert.Contains(t, text, "meu pedido #1234")
	assert.Contains(t, text, "&")
	assert.NotContains(t, text, "<")
	assert.NotContains(t, text, "color: red")

	assert.Equal(t, "", HTMLToText(""))
	assert.Equal(t, "plain already", HTMLToText("plain already"))
}
