package ai

import (
	"context"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGenerateReplyParsesResult(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatJSON(`{"text":"Seu pedido 1234 está a caminho.","forward_to_human":false}`, 50, 30)))
	})
	responder := NewResponder(client)

	reply, err := responder.GenerateReply(context.Background(), ReplyRequest{
		Policy:   ShopPolicy{ShopName: "Loja X", Tone: "amigável"},
		Subject:  "Cadê meu pedido",
		Body:     "pedido 1234 não chegou",
		Category: "rastreio",
		Order:    &OrderContext{OrderNumber: "1234", Status: "paid/fulfilled", TrackingNumber: "LB1"},
		Language: "pt",
	})
	require.NoError(t, err)
	assert.Equal(t, "Seu pedido 1234 está a caminho.", reply.Text)
	assert.False(t, reply.ForwardToHuman)
	assert.Equal(t, Usage{TokensIn: 50, TokensOut: 30}, reply.Usage)
}

func TestGenerateReplyForwardToHuman(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatJSON(`{"text":"Encaminhei seu caso para nossa equipe.","forward_to_human":true}`, 1, 1)))
	})
	responder := NewResponder(client)

	reply, err := responder.GenerateReply(context.Background(), ReplyRequest{Language: "pt"})
	require.NoError(t, err)
	assert.True(t, reply.ForwardToHuman)
}

func TestGenerateReplyRejectsEmptyText(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatJSON(`{"text":"  ","forward_to_human":false}`, 1, 1)))
	})
	responder := NewResponder(client)

	_, err := responder.GenerateReply(context.Background(), ReplyRequest{})
	assert.Error(t, err)
}

func TestGenerateDataRequest(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(chatJSON(`{"text":"Pode me informar o número do seu pedido?","forward_to_human":false}`, 1, 1)))
	})
	responder := NewResponder(client)

	reply, err := responder.GenerateDataRequest(context.Background(), ShopPolicy{ShopName: "Loja X"}, "troca", "quero trocar", "pt", 1)
	require.NoError(t, err)
	assert.Contains(t, reply.Text, "número do seu pedido")
}
