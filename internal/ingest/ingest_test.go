package ingest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"support-mail-ai-go/internal/mailbox"
	"support-mail-ai-go/internal/metrics"
	"support-mail-ai-go/internal/model"
	"support-mail-ai-go/internal/queue"
	"support-mail-ai-go/internal/vault"
)

var testMetrics = metrics.NewMetrics()

type fakeStore struct {
	mu       sync.Mutex
	shops    []model.Shop
	existing map[string]bool
	created  []*model.Message
	syncs    map[uint]string
	nextID   uint
}

func newFakeStore(shops ...model.Shop) *fakeStore {
	return &fakeStore{
		shops:    shops,
		existing: make(map[string]bool),
		syncs:    make(map[uint]string),
		nextID:   100,
	}
}

func (s *fakeStore) ActiveShops(ctx context.Context) ([]model.Shop, error) {
	return s.shops, nil
}

func (s *fakeStore) RecordShopSync(ctx context.Context, shopID uint, syncErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.syncs[shopID] = syncErr
	return nil
}

func (s *fakeStore) MessageExists(ctx context.Context, providerMessageID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.existing[providerMessageID], nil
}

func (s *fakeStore) CreateMessage(ctx context.Context, msg *model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	msg.ID = s.nextID
	s.created = append(s.created, msg)
	s.existing[msg.MessageID] = true
	return nil
}

func (s *fakeStore) ResolveConversation(ctx context.Context, shopID uint, customerEmail, customerName, subject, inReplyTo string) (*model.Conversation, bool, error) {
	return &model.Conversation{ID: 7, ShopID: shopID, CustomerEmail: customerEmail}, true, nil
}

type fakeEnqueuer struct {
	mu       sync.Mutex
	enqueued []uint
	err      error
}

func (q *fakeEnqueuer) Enqueue(ctx context.Context, jobType string, shopID, messageID uint, payload string, priority, maxAttempts int) (uint, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.err != nil {
		return 0, q.err
	}
	q.enqueued = append(q.enqueued, messageID)
	return uint(len(q.enqueued)), nil
}

// fakeCreds treats the ciphertext as the plaintext address, so each
// shop routes to its own mailbox in the fake gateway.
type fakeCreds struct{}

func (fakeCreds) DecryptMailbox(ciphertext []byte) (*vault.MailboxCredentials, error) {
	return &vault.MailboxCredentials{Address: string(ciphertext)}, nil
}

type fakeGateway struct {
	mu       sync.Mutex
	byShop   map[string][]mailbox.InboundEmail
	fetchErr map[string]error
	fetched  []string
}

func (g *fakeGateway) FetchUnseen(ctx context.Context, creds *vault.MailboxCredentials, maxCount int, since time.Time) ([]mailbox.InboundEmail, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.fetched = append(g.fetched, creds.Address)
	if err := g.fetchErr[creds.Address]; err != nil {
		return nil, err
	}
	return g.byShop[creds.Address], nil
}

func (g *fakeGateway) Send(ctx context.Context, creds *vault.MailboxCredentials, email mailbox.OutboundEmail) (mailbox.SendResult, error) {
	return mailbox.SendResult{}, errors.New("not implemented")
}

func testShop(id uint, address string) model.Shop {
	return model.Shop{
		ID:                 id,
		UserID:             1,
		Name:               fmt.Sprintf("Loja %d", id),
		MailboxAddress:     address,
		MailCredentialsEnc: []byte(address),
		Active:             true,
	}
}

func inbound(messageID, from, subject, body string) mailbox.InboundEmail {
	return mailbox.InboundEmail{
		MessageID:  messageID,
		From:       from,
		Subject:    subject,
		TextBody:   body,
		ReceivedAt: time.Now(),
	}
}

func newIngestWorker(store *fakeStore, q *fakeEnqueuer, gw *fakeGateway) *Worker {
	return NewWorker(store, q, fakeCreds{}, func(creds *vault.MailboxCredentials) mailbox.Gateway { return gw }, nil, testMetrics, Config{})
}

func TestRunIngestsNewMail(t *testing.T) {
	store := newFakeStore(testShop(1, "loja@minhaloja.com"))
	q := &fakeEnqueuer{}
	gw := &fakeGateway{byShop: map[string][]mailbox.InboundEmail{
		"loja@minhaloja.com": {
			inbound("<a@gmail.com>", "cliente@gmail.com", "Dúvida", "Olá"),
			inbound("<b@gmail.com>", "outro@gmail.com", "Pedido 99", "Cadê?"),
		},
	}}

	newIngestWorker(store, q, gw).Run(context.Background())

	require.Len(t, store.created, 2)
	msg := store.created[0]
	assert.Equal(t, model.DirectionInbound, msg.Direction)
	assert.Equal(t, model.MessagePending, msg.Status)
	assert.Equal(t, "cliente@gmail.com", msg.FromEmail)
	assert.Equal(t, uint(7), msg.ConversationID)
	require.NotNil(t, msg.ReceivedAt)

	assert.Equal(t, []uint{store.created[0].ID, store.created[1].ID}, q.enqueued)
	assert.Equal(t, "", store.syncs[1])
}

func TestRunSkipsDuplicates(t *testing.T) {
	store := newFakeStore(testShop(1, "loja@minhaloja.com"))
	store.existing["<a@gmail.com>"] = true
	q := &fakeEnqueuer{}
	gw := &fakeGateway{byShop: map[string][]mailbox.InboundEmail{
		"loja@minhaloja.com": {inbound("<a@gmail.com>", "cliente@gmail.com", "Dúvida", "Olá")},
	}}

	newIngestWorker(store, q, gw).Run(context.Background())

	assert.Empty(t, store.created)
	assert.Empty(t, q.enqueued)
}

func TestRunSkipsOwnOutgoingMail(t *testing.T) {
	store := newFakeStore(testShop(1, "loja@minhaloja.com"))
	q := &fakeEnqueuer{}
	gw := &fakeGateway{byShop: map[string][]mailbox.InboundEmail{
		"loja@minhaloja.com": {
			inbound("<a@minhaloja.com>", "Loja@MinhaLoja.com", "Re: Dúvida", "Nossa resposta"),
			inbound("<b@gmail.com>", "cliente@gmail.com", "Dúvida", "Olá"),
		},
	}}

	newIngestWorker(store, q, gw).Run(context.Background())

	require.Len(t, store.created, 1)
	assert.Equal(t, "<b@gmail.com>", store.created[0].MessageID)
}

func TestRunSkipsMailWithoutProviderID(t *testing.T) {
	store := newFakeStore(testShop(1, "loja@minhaloja.com"))
	q := &fakeEnqueuer{}
	gw := &fakeGateway{byShop: map[string][]mailbox.InboundEmail{
		"loja@minhaloja.com": {inbound("", "cliente@gmail.com", "Dúvida", "Olá")},
	}}

	newIngestWorker(store, q, gw).Run(context.Background())

	assert.Empty(t, store.created)
}

func TestRunIsolatesShopFailures(t *testing.T) {
	store := newFakeStore(testShop(1, "quebrada@loja.com"), testShop(2, "saudavel@loja.com"))
	q := &fakeEnqueuer{}
	gw := &fakeGateway{
		fetchErr: map[string]error{"quebrada@loja.com": errors.New("imap: connection refused")},
		byShop: map[string][]mailbox.InboundEmail{
			"saudavel@loja.com": {inbound("<c@gmail.com>", "cliente@gmail.com", "Oi", "corpo")},
		},
	}

	newIngestWorker(store, q, gw).Run(context.Background())

	// The healthy shop still ingested, and each shop recorded its own
	// sync result.
	require.Len(t, store.created, 1)
	assert.Equal(t, uint(2), store.created[0].ShopID)
	assert.Equal(t, "imap: connection refused", store.syncs[1])
	assert.Equal(t, "", store.syncs[2])
}

func TestRunToleratesDuplicateJob(t *testing.T) {
	store := newFakeStore(testShop(1, "loja@minhaloja.com"))
	q := &fakeEnqueuer{err: queue.ErrDuplicateJob}
	gw := &fakeGateway{byShop: map[string][]mailbox.InboundEmail{
		"loja@minhaloja.com": {inbound("<a@gmail.com>", "cliente@gmail.com", "Dúvida", "Olá")},
	}}

	newIngestWorker(store, q, gw).Run(context.Background())

	// The message is durable even though the job already existed.
	require.Len(t, store.created, 1)
	assert.Empty(t, q.enqueued)
}

func TestPickBodyFallsBackToHTML(t *testing.T) {
	email := mailbox.InboundEmail{HTMLBody: "<p>Olá, <b>tudo bem</b>?</p>"}
	assert.Equal(t, "Olá, tudo bem?", pickBody(&email))

	email = mailbox.InboundEmail{TextBody: "texto puro", HTMLBody: "<p>ignorado</p>"}
	assert.Equal(t, "texto puro", pickBody(&email))
}

func TestSinceForUsesIntegrationStart(t *testing.T) {
	w := newIngestWorker(newFakeStore(), &fakeEnqueuer{}, &fakeGateway{})

	shop := testShop(1, "loja@minhaloja.com")
	assert.WithinDuration(t, time.Now().Add(-defaultFetchWindow), w.sinceFor(&shop), time.Minute)

	recent := time.Now().Add(-24 * time.Hour)
	shop.IntegrationStartAt = &recent
	assert.Equal(t, recent, w.sinceFor(&shop))

	// An integration start older than the window does not widen it.
	old := time.Now().Add(-30 * 24 * time.Hour)
	shop.IntegrationStartAt = &old
	assert.WithinDuration(t, time.Now().Add(-defaultFetchWindow), w.sinceFor(&shop), time.Minute)
}
