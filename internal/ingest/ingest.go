// Package ingest polls active shops' mailboxes, persists new inbound
// mail as pending messages, and enqueues processing jobs. One tenant's
// mailbox outage never blocks the others.
package ingest

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"support-mail-ai-go/internal/heuristics"
	"support-mail-ai-go/internal/imagecache"
	"support-mail-ai-go/internal/mailbox"
	"support-mail-ai-go/internal/metrics"
	"support-mail-ai-go/internal/model"
	"support-mail-ai-go/internal/queue"
	"support-mail-ai-go/internal/vault"
)

// defaultFetchWindow bounds how far back the first sync of a shop looks
// when no integration start date is configured.
const defaultFetchWindow = 7 * 24 * time.Hour

// Store is the slice of the message store the ingestion worker needs.
type Store interface {
	ActiveShops(ctx context.Context) ([]model.Shop, error)
	RecordShopSync(ctx context.Context, shopID uint, syncErr string) error
	MessageExists(ctx context.Context, providerMessageID string) (bool, error)
	CreateMessage(ctx context.Context, msg *model.Message) error
	ResolveConversation(ctx context.Context, shopID uint, customerEmail, customerName, subject, inReplyTo string) (*model.Conversation, bool, error)
}

// Enqueuer is the slice of the job queue the ingestion worker needs.
type Enqueuer interface {
	Enqueue(ctx context.Context, jobType string, shopID, messageID uint, payload string, priority, maxAttempts int) (uint, error)
}

// CredentialSource decrypts per-shop mailbox credentials.
type CredentialSource interface {
	DecryptMailbox(ciphertext []byte) (*vault.MailboxCredentials, error)
}

// GatewayFactory returns the gateway for a shop's mailbox connection.
type GatewayFactory func(creds *vault.MailboxCredentials) mailbox.Gateway

// Config tunes one ingestion run.
type Config struct {
	ShopConcurrency int
	FetchBatchSize  int
	MaxAttempts     int
	WallClockBudget time.Duration
}

// Worker is the ingestion worker.
type Worker struct {
	store   Store
	queue   Enqueuer
	creds   CredentialSource
	gateway GatewayFactory
	images  *imagecache.Cache
	metrics *metrics.Metrics
	cfg     Config
}

// NewWorker creates an ingestion worker. images may be nil.
func NewWorker(store Store, q Enqueuer, creds CredentialSource, gateway GatewayFactory, images *imagecache.Cache, m *metrics.Metrics, cfg Config) *Worker {
	if cfg.ShopConcurrency <= 0 {
		cfg.ShopConcurrency = 5
	}
	if cfg.FetchBatchSize <= 0 {
		cfg.FetchBatchSize = 50
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.WallClockBudget <= 0 {
		cfg.WallClockBudget = 4 * time.Minute
	}
	return &Worker{store: store, queue: q, creds: creds, gateway: gateway, images: images, metrics: m, cfg: cfg}
}

// Run executes one ingestion cycle: every active shop is polled, up to
// ShopConcurrency in parallel. Once the wall-clock budget is spent no
// new shop is started; shops already in flight finish.
func (w *Worker) Run(ctx context.Context) {
	w.metrics.IngestCycles.Inc()
	started := time.Now()
	deadline := started.Add(w.cfg.WallClockBudget)

	shops, err := w.store.ActiveShops(ctx)
	if err != nil {
		logrus.Errorf("Ingestion: failed to list active shops: %v", err)
		return
	}

	logrus.Infof("Ingestion cycle starting for %d shops", len(shops))

	sem := make(chan struct{}, w.cfg.ShopConcurrency)
	var wg sync.WaitGroup

	for i := range shops {
		if time.Now().After(deadline) {
			logrus.Warnf("Ingestion: wall-clock budget exceeded, %d shops deferred to next cycle", len(shops)-i)
			break
		}
		select {
		case <-ctx.Done():
			logrus.Warn("Ingestion: context cancelled, stopping")
			wg.Wait()
			return
		case sem <- struct{}{}:
		}

		shop := shops[i]
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer func() { <-sem }()
			w.syncShop(ctx, &shop)
		}()
	}

	wg.Wait()
	logrus.Infof("Ingestion cycle completed in %v", time.Since(started))
}

// syncShop pulls one shop's unseen mail and persists it. Failures are
// recorded on the shop row and never propagate to other shops.
func (w *Worker) syncShop(ctx context.Context, shop *model.Shop) {
	log := logrus.WithField("shop_id", shop.ID)

	creds, err := w.creds.DecryptMailbox(shop.MailCredentialsEnc)
	if err != nil {
		log.Errorf("Failed to decrypt mailbox credentials: %v", err)
		w.metrics.ShopSyncFailures.Inc()
		w.recordSync(ctx, shop.ID, "credential decryption failed: "+err.Error())
		return
	}

	emails, err := w.gateway(creds).FetchUnseen(ctx, creds, w.cfg.FetchBatchSize, w.sinceFor(shop))
	if err != nil {
		log.Errorf("Failed to fetch mailbox: %v", err)
		w.metrics.ShopSyncFailures.Inc()
		w.recordSync(ctx, shop.ID, err.Error())
		return
	}

	ingested := 0
	for i := range emails {
		// Within a shop persistence is sequential; ordering follows the
		// mailbox fetch (oldest unseen first).
		if w.ingestEmail(ctx, shop, creds, &emails[i]) {
			ingested++
		}
	}

	if ingested > 0 {
		log.Infof("Ingested %d of %d fetched emails", ingested, len(emails))
	}
	w.recordSync(ctx, shop.ID, "")
}

// ingestEmail persists one inbound email and enqueues its job. Reports
// whether a new message was created.
func (w *Worker) ingestEmail(ctx context.Context, shop *model.Shop, creds *vault.MailboxCredentials, email *mailbox.InboundEmail) bool {
	log := logrus.WithFields(logrus.Fields{"shop_id": shop.ID, "provider_message_id": email.MessageID})

	if email.MessageID == "" {
		log.Warn("Skipping email without provider message id")
		return false
	}

	// The shop's own outgoing mail must not loop back in.
	sender := strings.ToLower(strings.TrimSpace(email.From))
	if sender == strings.ToLower(shop.MailboxAddress) || sender == strings.ToLower(creds.Address) {
		return false
	}

	exists, err := w.store.MessageExists(ctx, email.MessageID)
	if err != nil {
		log.Errorf("Failed dedup check: %v", err)
		return false
	}
	if exists {
		w.metrics.EmailsDeduped.Inc()
		return false
	}

	conv, created, err := w.store.ResolveConversation(ctx, shop.ID, email.From, email.FromName, email.Subject, email.InReplyTo)
	if err != nil {
		log.Errorf("Failed to resolve conversation: %v", err)
		return false
	}
	if created {
		log.Debugf("Created conversation %d", conv.ID)
	}

	receivedAt := email.ReceivedAt
	msg := model.Message{
		ConversationID: conv.ID,
		ShopID:         shop.ID,
		Direction:      model.DirectionInbound,
		Status:         model.MessagePending,
		MessageID:      email.MessageID,
		InReplyTo:      email.InReplyTo,
		References:     email.References,
		FromEmail:      strings.ToLower(strings.TrimSpace(email.From)),
		ToEmail:        email.To,
		Subject:        email.Subject,
		TextBody:       pickBody(email),
		HTMLBody:       email.HTMLBody,
		ReceivedAt:     &receivedAt,
	}
	if err := w.store.CreateMessage(ctx, &msg); err != nil {
		log.Errorf("Failed to persist message: %v", err)
		return false
	}

	if w.images != nil && len(email.Attachments) > 0 {
		images := make([]imagecache.Image, 0, len(email.Attachments))
		for _, att := range email.Attachments {
			images = append(images, imagecache.Image{Filename: att.Filename, MIMEType: att.MIMEType, Data: att.Data})
		}
		w.images.Put(email.MessageID, images)
	}

	if _, err := w.queue.Enqueue(ctx, model.JobTypeProcessMessage, shop.ID, msg.ID, "", 0, w.cfg.MaxAttempts); err != nil {
		if err == queue.ErrDuplicateJob {
			return true
		}
		// The janitor's orphan sweep re-enqueues the message later.
		log.Errorf("Failed to enqueue job: %v", err)
		return true
	}

	w.metrics.EmailsIngested.Inc()
	return true
}

// sinceFor picks the fetch window start: the shop's integration start
// date when configured, otherwise a 7-day default.
func (w *Worker) sinceFor(shop *model.Shop) time.Time {
	fallback := time.Now().Add(-defaultFetchWindow)
	if shop.IntegrationStartAt != nil && shop.IntegrationStartAt.After(fallback) {
		return *shop.IntegrationStartAt
	}
	return fallback
}

func (w *Worker) recordSync(ctx context.Context, shopID uint, syncErr string) {
	if err := w.store.RecordShopSync(ctx, shopID, syncErr); err != nil {
		logrus.Errorf("Failed to record sync result for shop %d: %v", shopID, err)
	}
}

// pickBody prefers the plain text part, falling back to stripped HTML.
func pickBody(email *mailbox.InboundEmail) string {
	if strings.TrimSpace(email.TextBody) != "" {
		return email.TextBody
	}
	return heuristics.HTMLToText(email.HTMLBody)
}
