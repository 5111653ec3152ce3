package heuristics

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsSystemNotification(t *testing.T) {
	assert.True(t, IsSystemNotification("MAILER-DAEMON@googlemail.com", "Delivery Status Notification (Failure)", "message could not be delivered"))
	assert.True(t, IsSystemNotification("postmaster@example.com", "anything", "body"))
	assert.True(t, IsSystemNotification("someone@example.com", "Mail delivery failed: returning message", "body"))
	assert.False(t, IsSystemNotification("customer@gmail.com", "Onde está meu pedido?", "comprei semana passada"))
}

func TestIsAutoResponder(t *testing.T) {
	assert.True(t, IsAutoResponder("Automatic Reply: your message", "I will respond when I return"))
	assert.True(t, IsAutoResponder("Resposta automática", "qualquer corpo"))
	assert.True(t, IsAutoResponder("RE: pedido", "Estou de férias e responderei assim que retornar"))
	assert.False(t, IsAutoResponder("pedido 1234", "quando chega meu pedido?"))
}

func TestIsAcknowledgment(t *testing.T) {
	assert.True(t, IsAcknowledgment("Obrigado!"))
	assert.True(t, IsAcknowledgment("ok"))
	assert.True(t, IsAcknowledgment("Perfeito, chegou tudo certo"))
	assert.True(t, IsAcknowledgment("Thanks a lot"))

	// A thank-you followed by a new question is longer than the cap and
	// must still be processed.
	longBody := "Obrigado pela resposta! Aproveitando, " + strings.Repeat("tenho mais uma dúvida sobre o prazo de entrega do outro pedido. ", 3)
	assert.Greater(t, len(longBody), ackMaxLen)
	assert.False(t, IsAcknowledgment(longBody))

	assert.False(t, IsAcknowledgment("quando chega meu pedido?"))
}

func TestLooksLikeSpam(t *testing.T) {
	rule, spam := LooksLikeSpam("promo@blast.biz", "Great deal", "Click here to unsubscribe from this special offer just for you")
	assert.True(t, spam)
	assert.Equal(t, "marketing_blast", rule)

	rule, spam = LooksLikeSpam("seo@agency.io", "proposal", "We can improve your Google ranking with our backlinks package")
	assert.True(t, spam)
	assert.Equal(t, "seo_cold_outreach", rule)

	_, spam = LooksLikeSpam("customer@gmail.com", "Pedido 1234", "quero trocar o produto que comprei")
	assert.False(t, spam)
}

func TestIsForwardingEcho(t *testing.T) {
	assert.True(t, IsForwardingEcho("qualquer", "---------- Forwarded message ----------\nFrom: x"))
	assert.True(t, IsForwardingEcho("Enc: [Atendido] Pedido 99", "corpo"))
	assert.False(t, IsForwardingEcho("Re: pedido", "segue em anexo"))
}

func TestIsFrustrated(t *testing.T) {
	assert.True(t, IsFrustrated("Se não resolverem vou acionar o Procon"))
	assert.True(t, IsFrustrated("This is a scam, worst experience ever"))
	assert.False(t, IsFrustrated("Só queria saber do prazo de entrega"))
}

func TestFirstMatchNormalizes(t *testing.T) {
	rules := []Rule{{
		Name:  "needle",
		Match: func(in Input) bool { return in.Body == "hello world" },
	}}

	name, ok := FirstMatch(rules, Input{Body: "  HELLO\n\tWorld  "})
	assert.True(t, ok)
	assert.Equal(t, "needle", name)
}
