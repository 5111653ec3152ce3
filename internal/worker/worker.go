// Package worker drives queued messages through the processing state
// machine: claim, filter, admit, classify, resolve the order, reply or
// escalate. Every state change is a narrow conditional update, so a
// crashed worker leaves nothing worse than a retryable job behind.
package worker

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"support-mail-ai-go/internal/ai"
	"support-mail-ai-go/internal/commerce"
	"support-mail-ai-go/internal/convlock"
	"support-mail-ai-go/internal/heuristics"
	"support-mail-ai-go/internal/imagecache"
	"support-mail-ai-go/internal/mailbox"
	"support-mail-ai-go/internal/metrics"
	"support-mail-ai-go/internal/model"
	"support-mail-ai-go/internal/vault"
)

const (
	// loopBreakerMax outbound messages within loopBreakerWindow on one
	// conversation trips the bot-loop breaker.
	loopBreakerWindow = 2 * time.Hour
	loopBreakerMax    = 5

	// maxDataRequests bounds how often a customer is asked for an order
	// number before the thread goes to a human.
	maxDataRequests = 3

	historyLimit = 10

	// lockSkipDelay is how long a job claimed against a held conversation
	// lock waits before the next claim attempt.
	lockSkipDelay = 30 * time.Second

	// rateLimitDelay is the requeue delay after the AI provider returned
	// 429 for a batch.
	rateLimitDelay = time.Minute
)

// Store is the slice of the message store the queue worker needs.
type Store interface {
	GetShop(ctx context.Context, id uint) (*model.Shop, error)
	GetUser(ctx context.Context, id uint) (*model.User, error)
	GetMessage(ctx context.Context, id uint) (*model.Message, error)
	TransitionMessage(ctx context.Context, id uint, from, to string) (bool, error)
	UpdateMessage(ctx context.Context, id uint, updates map[string]interface{}) error
	CreateMessage(ctx context.Context, msg *model.Message) error
	OutboundReplyFor(ctx context.Context, inboundID uint) (*model.Message, error)
	CountRecentOutbound(ctx context.Context, conversationID uint, since time.Time) (int, error)
	GetConversation(ctx context.Context, id uint) (*model.Conversation, error)
	UpdateConversation(ctx context.Context, id uint, updates map[string]interface{}) error
	IncrementDataRequestCount(ctx context.Context, id uint) (int, error)
	IncrementRetentionContact(ctx context.Context, id uint) error
	GetConversationHistory(ctx context.Context, conversationID uint, limit int) ([]model.Message, error)
	LogEvent(ctx context.Context, messageID, jobID uint, fromState, toState, detail string)
}

// Queue is the slice of the job queue the worker needs.
type Queue interface {
	Dequeue(ctx context.Context, batchSize int, jobTypes []string) ([]model.Job, error)
	Complete(ctx context.Context, jobID uint, result string, processingTimeMs int64) error
	Fail(ctx context.Context, jobID uint, errorMessage, errorType string, isRetryable bool) (string, error)
	Release(ctx context.Context, jobID uint, delay time.Duration) error
}

// Admission gates paid processing on the user's quota.
type Admission interface {
	TryReserveCredit(ctx context.Context, userID uint) (bool, error)
}

// Locks is the per-conversation exclusion lock.
type Locks interface {
	Acquire(ctx context.Context, conversationID uint, owner string, ttl time.Duration) error
	Release(ctx context.Context, conversationID uint, owner string) error
}

// Classifier assigns a category to an inbound email.
type Classifier interface {
	Classify(ctx context.Context, subject, body string, history []ai.HistoryMessage) (*ai.Classification, error)
}

// Responder drafts customer replies.
type Responder interface {
	GenerateReply(ctx context.Context, req ai.ReplyRequest) (*ai.Reply, error)
	GenerateDataRequest(ctx context.Context, policy ai.ShopPolicy, subject, body, language string, attempt int) (*ai.Reply, error)
	GenerateHumanFallback(ctx context.Context, policy ai.ShopPolicy, subject, language string) (*ai.Reply, error)
}

// OrderLookup resolves customer orders in the shop's commerce backend.
type OrderLookup interface {
	FindOrder(ctx context.Context, creds *vault.CommerceCredentials, customerEmail, orderNumberHint string) (*commerce.OrderSummary, error)
}

// CredentialSource decrypts per-shop credential blobs.
type CredentialSource interface {
	DecryptMailbox(ciphertext []byte) (*vault.MailboxCredentials, error)
	DecryptCommerce(ciphertext []byte) (*vault.CommerceCredentials, error)
}

// Notifier sends operational notices to shop owners.
type Notifier interface {
	NotifyCreditsExhausted(ctx context.Context, user *model.User, shop *model.Shop, creds *vault.MailboxCredentials, gateway mailbox.Gateway) error
}

// GatewayFactory returns the gateway for a shop's mailbox connection.
type GatewayFactory func(creds *vault.MailboxCredentials) mailbox.Gateway

// Config tunes one worker run.
type Config struct {
	JobBatchSize    int
	WallClockBudget time.Duration
	InterJobDelay   time.Duration
	LockTTL         time.Duration
}

// Worker processes queued messages.
type Worker struct {
	store      Store
	queue      Queue
	admission  Admission
	locks      Locks
	classifier Classifier
	responder  Responder
	orders     OrderLookup
	creds      CredentialSource
	notifier   Notifier
	gateway    GatewayFactory
	images     *imagecache.Cache
	metrics    *metrics.Metrics
	cfg        Config
	owner      string
}

// NewWorker creates a queue worker. images and notifier may be nil.
func NewWorker(store Store, q Queue, admission Admission, locks Locks, classifier Classifier, responder Responder, orders OrderLookup, creds CredentialSource, notifier Notifier, gateway GatewayFactory, images *imagecache.Cache, m *metrics.Metrics, cfg Config) *Worker {
	if cfg.JobBatchSize <= 0 {
		cfg.JobBatchSize = 10
	}
	if cfg.WallClockBudget <= 0 {
		cfg.WallClockBudget = 4 * time.Minute
	}
	if cfg.InterJobDelay < 0 {
		cfg.InterJobDelay = 0
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = convlock.DefaultTTL
	}

	hostname, _ := os.Hostname()
	if hostname == "" {
		hostname = "worker"
	}

	return &Worker{
		store:      store,
		queue:      q,
		admission:  admission,
		locks:      locks,
		classifier: classifier,
		responder:  responder,
		orders:     orders,
		creds:      creds,
		notifier:   notifier,
		gateway:    gateway,
		images:     images,
		metrics:    m,
		cfg:        cfg,
		owner:      fmt.Sprintf("%s-%s", hostname, uuid.NewString()[:8]),
	}
}

type outcome int

const (
	outcomeOK outcome = iota
	outcomeSkipped
	outcomeRateLimited
)

// jobEnv is everything loaded once per job.
type jobEnv struct {
	job  *model.Job
	msg  *model.Message
	conv *model.Conversation
	shop *model.Shop
	user *model.User
}

// Run executes one worker cycle: claim a batch, process it sequentially
// with a small delay between jobs. The batch stops early when the wall-
// clock budget runs out or the AI provider rate-limits; unprocessed jobs
// go back to pending without burning an attempt.
func (w *Worker) Run(ctx context.Context) {
	started := time.Now()
	deadline := started.Add(w.cfg.WallClockBudget)

	jobs, err := w.queue.Dequeue(ctx, w.cfg.JobBatchSize, []string{model.JobTypeProcessMessage})
	if err != nil {
		logrus.Errorf("Queue worker: failed to dequeue jobs: %v", err)
		return
	}
	if len(jobs) == 0 {
		return
	}

	logrus.Infof("Queue worker claimed %d jobs", len(jobs))

	for i := range jobs {
		if ctx.Err() != nil || time.Now().After(deadline) {
			w.releaseRemaining(jobs[i:], "cycle budget exhausted")
			return
		}

		if w.processJob(ctx, &jobs[i]) == outcomeRateLimited {
			w.releaseRemaining(jobs[i+1:], "provider rate limited")
			return
		}

		if i < len(jobs)-1 && w.cfg.InterJobDelay > 0 {
			time.Sleep(w.cfg.InterJobDelay)
		}
	}

	logrus.Infof("Queue worker cycle completed in %v", time.Since(started))
}

// releaseRemaining puts still-claimed jobs back to pending without
// counting an attempt. Uses a fresh context: the cycle's context may
// already be cancelled and these jobs must not stay stuck in processing.
func (w *Worker) releaseRemaining(jobs []model.Job, reason string) {
	if len(jobs) == 0 {
		return
	}
	logrus.Warnf("Queue worker: releasing %d unprocessed jobs (%s)", len(jobs), reason)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	for i := range jobs {
		if err := w.queue.Release(ctx, jobs[i].ID, lockSkipDelay); err != nil {
			logrus.Errorf("Failed to release job %d: %v", jobs[i].ID, err)
		}
	}
}

func (w *Worker) processJob(ctx context.Context, job *model.Job) outcome {
	start := time.Now()
	log := logrus.WithFields(logrus.Fields{"job_id": job.ID, "message_id": job.MessageID})

	msg, err := w.store.GetMessage(ctx, job.MessageID)
	if err != nil {
		return w.failJob(ctx, job, nil, err)
	}

	if msg.Terminal() {
		w.complete(ctx, job, start, "message already terminal")
		return outcomeOK
	}

	// One job per conversation at a time, across processes.
	if err := w.locks.Acquire(ctx, msg.ConversationID, w.owner, w.cfg.LockTTL); err != nil {
		if errors.Is(err, convlock.ErrLockHeld) {
			w.metrics.JobsSkippedLocked.Inc()
			if rerr := w.queue.Release(ctx, job.ID, lockSkipDelay); rerr != nil {
				log.Errorf("Failed to release lock-skipped job: %v", rerr)
			}
			return outcomeSkipped
		}
		return w.failJob(ctx, job, msg, err)
	}
	defer func() {
		if err := w.locks.Release(context.Background(), msg.ConversationID, w.owner); err != nil {
			log.Errorf("Failed to release conversation lock: %v", err)
		}
	}()

	ok, err := w.store.TransitionMessage(ctx, msg.ID, model.MessagePending, model.MessageProcessing)
	if err != nil {
		return w.failJob(ctx, job, msg, err)
	}
	if !ok {
		fresh, ferr := w.store.GetMessage(ctx, msg.ID)
		if ferr == nil && fresh.Terminal() {
			w.complete(ctx, job, start, "message already terminal")
			return outcomeOK
		}
		// Someone else holds the message in a non-claimable state; let
		// the janitor sort it out.
		if rerr := w.queue.Release(ctx, job.ID, lockSkipDelay); rerr != nil {
			log.Errorf("Failed to release job for unclaimable message: %v", rerr)
		}
		return outcomeSkipped
	}
	w.store.LogEvent(ctx, msg.ID, job.ID, model.MessagePending, model.MessageProcessing, "claimed")

	// Resend guard: a retried job whose reply already went out must not
	// send a second one.
	prior, err := w.store.OutboundReplyFor(ctx, msg.ID)
	if err != nil {
		return w.failJob(ctx, job, msg, err)
	}
	if prior != nil {
		now := time.Now()
		if err := w.store.UpdateMessage(ctx, msg.ID, map[string]interface{}{
			"status":       model.MessageReplied,
			"processed_at": now,
			"replied_at":   now,
		}); err != nil {
			return w.failJob(ctx, job, msg, err)
		}
		w.store.LogEvent(ctx, msg.ID, job.ID, model.MessageProcessing, model.MessageReplied, "reply already sent")
		w.complete(ctx, job, start, "reply already sent")
		return outcomeOK
	}

	conv, err := w.store.GetConversation(ctx, msg.ConversationID)
	if err != nil {
		return w.failJob(ctx, job, msg, err)
	}
	shop, err := w.store.GetShop(ctx, msg.ShopID)
	if err != nil {
		return w.failJob(ctx, job, msg, err)
	}
	user, err := w.store.GetUser(ctx, shop.UserID)
	if err != nil {
		return w.failJob(ctx, job, msg, err)
	}
	env := &jobEnv{job: job, msg: msg, conv: conv, shop: shop, user: user}

	body := strings.TrimSpace(msg.TextBody)

	// Zero-cost preconditions, in order. None of these spend a credit.
	switch {
	case body == "":
		return w.drop(ctx, env, start, "empty_body")
	case !strings.Contains(msg.FromEmail, "@"):
		return w.drop(ctx, env, start, "invalid_sender")
	case heuristics.IsSystemNotification(msg.FromEmail, msg.Subject, body):
		return w.drop(ctx, env, start, "system_notification")
	case heuristics.IsForwardingEcho(msg.Subject, body):
		return w.drop(ctx, env, start, "forward_echo")
	}

	recent, err := w.store.CountRecentOutbound(ctx, conv.ID, time.Now().Add(-loopBreakerWindow))
	if err != nil {
		return w.failJob(ctx, job, msg, err)
	}
	if recent >= loopBreakerMax {
		log.Warnf("Reply loop suspected on conversation %d (%d outbound in %v)", conv.ID, recent, loopBreakerWindow)
		return w.drop(ctx, env, start, "reply_loop")
	}

	if rule, spam := heuristics.LooksLikeSpam(msg.FromEmail, msg.Subject, body); spam {
		w.metrics.SpamDropped.Inc()
		if err := w.store.UpdateConversation(ctx, conv.ID, map[string]interface{}{"status": model.ConversationClosed}); err != nil {
			log.Errorf("Failed to close spam conversation: %v", err)
		}
		return w.drop(ctx, env, start, "spam:"+rule)
	}

	if heuristics.IsAutoResponder(msg.Subject, body) {
		return w.handleWithoutReply(ctx, env, start, "auto_responder")
	}
	if heuristics.IsAcknowledgment(body) {
		return w.handleWithoutReply(ctx, env, start, "acknowledgment")
	}

	admitted, err := w.admission.TryReserveCredit(ctx, user.ID)
	if err != nil {
		return w.failJob(ctx, job, msg, err)
	}
	if !admitted {
		w.metrics.CreditRejections.Inc()
		if err := w.store.UpdateMessage(ctx, msg.ID, map[string]interface{}{
			"status":       model.MessagePendingCredits,
			"processed_at": time.Now(),
		}); err != nil {
			return w.failJob(ctx, job, msg, err)
		}
		w.store.LogEvent(ctx, msg.ID, job.ID, model.MessageProcessing, model.MessagePendingCredits, "quota exhausted")
		w.notifyCredits(ctx, env)
		w.complete(ctx, job, start, "held for credits")
		return outcomeOK
	}

	history, err := w.history(ctx, env)
	if err != nil {
		return w.failJob(ctx, job, msg, err)
	}

	cls, err := w.classifier.Classify(ctx, msg.Subject, body, history)
	if err != nil {
		return w.aiFailure(ctx, env, err)
	}
	w.recordUsage(ctx, msg.ID, cls.Usage)

	lang := cls.Language
	if lang == "" {
		lang = heuristics.DetectLanguage(body)
	}

	if err := w.store.UpdateMessage(ctx, msg.ID, map[string]interface{}{
		"category":   cls.Category,
		"confidence": cls.Confidence,
	}); err != nil {
		return w.failJob(ctx, job, msg, err)
	}
	if err := w.store.UpdateConversation(ctx, conv.ID, map[string]interface{}{
		"category": cls.Category,
		"language": lang,
	}); err != nil {
		log.Errorf("Failed to record conversation category: %v", err)
	}

	// Classifier spam backstop for what the pattern pass missed.
	if cls.Category == model.CategorySpam {
		w.metrics.SpamDropped.Inc()
		if err := w.store.UpdateConversation(ctx, conv.ID, map[string]interface{}{"status": model.ConversationClosed}); err != nil {
			log.Errorf("Failed to close spam conversation: %v", err)
		}
		return w.drop(ctx, env, start, "spam:classifier")
	}

	if cls.Category == model.CategoryHumanSupport {
		return w.escalate(ctx, env, start, lang, "category "+model.CategoryHumanSupport, "", ai.Usage{})
	}

	frustrated := heuristics.IsFrustrated(body)
	retentionCount := conv.RetentionContactCount
	if frustrated {
		if err := w.store.IncrementRetentionContact(ctx, conv.ID); err != nil {
			log.Errorf("Failed to increment retention contact count: %v", err)
		} else {
			retentionCount++
		}
	}

	var order *ai.OrderContext
	if model.CategoryRequiresOrder(cls.Category) || cls.OrderIDHint != "" {
		order = w.resolveOrder(ctx, env, cls.OrderIDHint, body)
	}

	if model.CategoryRequiresOrder(cls.Category) && order == nil {
		if conv.DataRequestCount >= maxDataRequests {
			return w.escalate(ctx, env, start, lang, "order number missing after repeated requests", "", ai.Usage{})
		}
		return w.requestOrderNumber(ctx, env, start, lang, body)
	}

	imageCount := 0
	if w.images != nil {
		imageCount = len(w.images.Get(msg.MessageID))
	}

	reply, err := w.responder.GenerateReply(ctx, ai.ReplyRequest{
		Policy:                w.policy(shop),
		Subject:               msg.Subject,
		Body:                  body,
		Category:              cls.Category,
		History:               history,
		Order:                 order,
		Language:              lang,
		RetentionContactCount: retentionCount,
		Frustrated:            frustrated,
		ImageCount:            imageCount,
	})
	if err != nil {
		return w.aiFailure(ctx, env, err)
	}
	w.recordUsage(ctx, msg.ID, reply.Usage)

	if reply.ForwardToHuman {
		return w.escalate(ctx, env, start, lang, "responder requested human", reply.Text, reply.Usage)
	}

	if err := w.sendAndRecord(ctx, env, reply.Text, reply.Usage); err != nil {
		return w.failJob(ctx, job, msg, err)
	}
	return w.finalizeReplied(ctx, env, start, "replied:"+cls.Category)
}

// drop marks the message terminally failed for a reason that is not an
// error (spam, bounces, loops). The job itself completes.
func (w *Worker) drop(ctx context.Context, env *jobEnv, start time.Time, reason string) outcome {
	if err := w.store.UpdateMessage(ctx, env.msg.ID, map[string]interface{}{
		"status":       model.MessageFailed,
		"fail_reason":  reason,
		"processed_at": time.Now(),
	}); err != nil {
		return w.failJob(ctx, env.job, env.msg, err)
	}
	w.store.LogEvent(ctx, env.msg.ID, env.job.ID, model.MessageProcessing, model.MessageFailed, reason)
	w.complete(ctx, env.job, start, "dropped:"+reason)
	return outcomeOK
}

// handleWithoutReply closes the loop on messages that need no response
// (acknowledgments, auto-responders). No credit is spent.
func (w *Worker) handleWithoutReply(ctx context.Context, env *jobEnv, start time.Time, reason string) outcome {
	if err := w.store.UpdateMessage(ctx, env.msg.ID, map[string]interface{}{
		"status":       model.MessageReplied,
		"processed_at": time.Now(),
	}); err != nil {
		return w.failJob(ctx, env.job, env.msg, err)
	}
	w.store.LogEvent(ctx, env.msg.ID, env.job.ID, model.MessageProcessing, model.MessageReplied, reason)
	w.complete(ctx, env.job, start, "handled:"+reason)
	return outcomeOK
}

// requestOrderNumber asks the customer for their order number. The
// counter increments only after the request actually went out.
func (w *Worker) requestOrderNumber(ctx context.Context, env *jobEnv, start time.Time, lang, body string) outcome {
	reply, err := w.responder.GenerateDataRequest(ctx, w.policy(env.shop), env.msg.Subject, body, lang, env.conv.DataRequestCount)
	if err != nil {
		return w.aiFailure(ctx, env, err)
	}
	w.recordUsage(ctx, env.msg.ID, reply.Usage)

	if err := w.sendAndRecord(ctx, env, reply.Text, reply.Usage); err != nil {
		return w.failJob(ctx, env.job, env.msg, err)
	}
	if _, err := w.store.IncrementDataRequestCount(ctx, env.conv.ID); err != nil {
		logrus.Errorf("Failed to increment data request count for conversation %d: %v", env.conv.ID, err)
	}
	return w.finalizeReplied(ctx, env, start, "data_request")
}

// escalate hands the conversation to a human: the original email is
// forwarded to the shop's support address and the customer gets a short
// notice. customerText, when given, is used as the notice; otherwise one
// is generated best-effort.
func (w *Worker) escalate(ctx context.Context, env *jobEnv, start time.Time, lang, reason, customerText string, usage ai.Usage) outcome {
	creds, err := w.creds.DecryptMailbox(env.shop.MailCredentialsEnc)
	if err != nil {
		return w.failJob(ctx, env.job, env.msg, err)
	}

	if env.shop.SupportEmail != "" {
		_, err := w.gateway(creds).Send(ctx, creds, mailbox.OutboundEmail{
			To:       env.shop.SupportEmail,
			Subject:  "[Atendimento humano] " + env.msg.Subject,
			TextBody: forwardBody(env.msg),
			FromName: env.shop.Name,
		})
		if err != nil {
			return w.failJob(ctx, env.job, env.msg, err)
		}
	}

	if customerText == "" {
		if reply, err := w.responder.GenerateHumanFallback(ctx, w.policy(env.shop), env.msg.Subject, lang); err != nil {
			logrus.Warnf("Human fallback notice failed for message %d: %v", env.msg.ID, err)
		} else {
			customerText = reply.Text
			usage = reply.Usage
			w.recordUsage(ctx, env.msg.ID, reply.Usage)
		}
	}
	if customerText != "" {
		if err := w.sendAndRecord(ctx, env, customerText, usage); err != nil {
			logrus.Errorf("Customer escalation notice failed for message %d: %v", env.msg.ID, err)
		}
	}

	if err := w.store.UpdateMessage(ctx, env.msg.ID, map[string]interface{}{
		"status":       model.MessagePendingHuman,
		"processed_at": time.Now(),
	}); err != nil {
		return w.failJob(ctx, env.job, env.msg, err)
	}
	if err := w.store.UpdateConversation(ctx, env.conv.ID, map[string]interface{}{"status": model.ConversationPendingHuman}); err != nil {
		logrus.Errorf("Failed to mark conversation %d pending human: %v", env.conv.ID, err)
	}
	w.store.LogEvent(ctx, env.msg.ID, env.job.ID, model.MessageProcessing, model.MessagePendingHuman, reason)
	w.metrics.Escalations.Inc()
	w.complete(ctx, env.job, start, "escalated:"+reason)
	return outcomeOK
}

// sendAndRecord sends the reply through the shop's mailbox and persists
// the outbound record. The record lands before the inbound message turns
// terminal, so a retry after a crash finds it via the resend guard.
func (w *Worker) sendAndRecord(ctx context.Context, env *jobEnv, text string, usage ai.Usage) error {
	creds, err := w.creds.DecryptMailbox(env.shop.MailCredentialsEnc)
	if err != nil {
		return err
	}

	refs := strings.TrimSpace(env.msg.References + " " + env.msg.MessageID)
	subject := replySubject(env.msg.Subject)

	res, err := w.gateway(creds).Send(ctx, creds, mailbox.OutboundEmail{
		To:         env.msg.FromEmail,
		Subject:    subject,
		TextBody:   text,
		InReplyTo:  env.msg.MessageID,
		References: refs,
		FromName:   env.shop.Name,
	})
	if err != nil {
		return err
	}

	inboundID := env.msg.ID
	out := &model.Message{
		ConversationID:   env.conv.ID,
		ShopID:           env.shop.ID,
		Direction:        model.DirectionOutbound,
		Status:           model.MessageReplied,
		MessageID:        res.MessageID,
		InReplyTo:        env.msg.MessageID,
		References:       refs,
		InReplyToMessage: &inboundID,
		FromEmail:        strings.ToLower(creds.Address),
		ToEmail:          env.msg.FromEmail,
		Subject:          subject,
		TextBody:         text,
		TokensIn:         usage.TokensIn,
		TokensOut:        usage.TokensOut,
	}
	return w.store.CreateMessage(ctx, out)
}

// finalizeReplied moves the inbound message and its conversation to
// replied after the outbound record is durable.
func (w *Worker) finalizeReplied(ctx context.Context, env *jobEnv, start time.Time, action string) outcome {
	now := time.Now()
	if err := w.store.UpdateMessage(ctx, env.msg.ID, map[string]interface{}{
		"status":       model.MessageReplied,
		"processed_at": now,
		"replied_at":   now,
	}); err != nil {
		// The reply is out; a retry hits the resend guard instead of
		// sending again.
		return w.failJob(ctx, env.job, env.msg, err)
	}
	if err := w.store.UpdateConversation(ctx, env.conv.ID, map[string]interface{}{"status": model.ConversationReplied}); err != nil {
		logrus.Errorf("Failed to mark conversation %d replied: %v", env.conv.ID, err)
	}
	w.store.LogEvent(ctx, env.msg.ID, env.job.ID, model.MessageProcessing, model.MessageReplied, action)
	w.metrics.RepliesSent.Inc()
	w.complete(ctx, env.job, start, action)
	return outcomeOK
}

// resolveOrder finds the customer's order. Returns nil when no order can
// be attributed; a known order number with a failed lookup yields a
// minimal context so the reply can at least reference it.
func (w *Worker) resolveOrder(ctx context.Context, env *jobEnv, hint, body string) *ai.OrderContext {
	number := hint
	if number == "" {
		number = heuristics.ExtractOrderNumber(env.msg.Subject, body)
	}

	minimal := func() *ai.OrderContext {
		if number == "" {
			return nil
		}
		return &ai.OrderContext{OrderNumber: number}
	}

	if len(env.shop.CommerceCredentialsEnc) == 0 {
		return minimal()
	}
	creds, err := w.creds.DecryptCommerce(env.shop.CommerceCredentialsEnc)
	if err != nil {
		logrus.Errorf("Failed to decrypt commerce credentials for shop %d: %v", env.shop.ID, err)
		return minimal()
	}

	// Customers often order with one address and write from another; try
	// addresses mentioned in the body after the sender.
	candidates := append([]string{env.msg.FromEmail}, heuristics.ExtractAlternateEmails(body, env.msg.FromEmail)...)
	if len(candidates) > 4 {
		candidates = candidates[:4]
	}

	for _, email := range candidates {
		summary, err := w.orders.FindOrder(ctx, creds, email, number)
		if err == nil {
			if uerr := w.store.UpdateConversation(ctx, env.conv.ID, map[string]interface{}{"shopify_order_id": summary.OrderID}); uerr != nil {
				logrus.Errorf("Failed to cache order on conversation %d: %v", env.conv.ID, uerr)
			}
			status := summary.Status
			if summary.FulfillmentStatus != "" {
				status += "/" + summary.FulfillmentStatus
			}
			return &ai.OrderContext{
				OrderNumber:    summary.OrderNumber,
				Status:         status,
				TrackingNumber: summary.TrackingNumber,
				TrackingURL:    summary.TrackingURL,
				ItemsSummary:   summary.ItemsSummary(),
			}
		}
		if !errors.Is(err, commerce.ErrOrderNotFound) {
			logrus.Errorf("Order lookup failed for shop %d: %v", env.shop.ID, err)
			break
		}
	}

	return minimal()
}

// aiFailure handles an error from an AI call. A rate limit stops the
// whole batch without burning the job's attempt; everything else goes
// through the normal failure path.
func (w *Worker) aiFailure(ctx context.Context, env *jobEnv, err error) outcome {
	if errors.Is(err, ai.ErrRateLimited) {
		logrus.Warnf("AI provider rate limited, stopping batch: %v", err)
		if _, terr := w.store.TransitionMessage(ctx, env.msg.ID, model.MessageProcessing, model.MessagePending); terr != nil {
			logrus.Errorf("Failed to unwind message %d after rate limit: %v", env.msg.ID, terr)
		}
		if rerr := w.queue.Release(ctx, env.job.ID, rateLimitDelay); rerr != nil {
			logrus.Errorf("Failed to release rate-limited job %d: %v", env.job.ID, rerr)
		}
		return outcomeRateLimited
	}
	return w.failJob(ctx, env.job, env.msg, err)
}

// failJob records a failed attempt. Retryable failures go back to
// pending with backoff; exhausted or permanent ones dead-letter. The
// message follows: back to pending for a retry, terminally failed only
// on a permanent error (transient dead letters stay pending for the
// janitor's revival pass).
func (w *Worker) failJob(ctx context.Context, job *model.Job, msg *model.Message, procErr error) outcome {
	errType, retryable := ClassifyError(procErr)
	log := logrus.WithFields(logrus.Fields{"job_id": job.ID, "error_type": errType})
	log.Errorf("Job failed: %v", procErr)

	if msg != nil {
		if _, err := w.store.TransitionMessage(ctx, msg.ID, model.MessageProcessing, model.MessagePending); err != nil {
			log.Errorf("Failed to unwind message %d: %v", msg.ID, err)
		}
	}

	newStatus, err := w.queue.Fail(ctx, job.ID, procErr.Error(), errType, retryable)
	if err != nil {
		log.Errorf("Failed to record job failure: %v", err)
		return outcomeOK
	}
	w.metrics.JobsFailed.Inc()

	if newStatus == model.JobDeadLetter {
		w.metrics.JobsDeadLettered.Inc()
		if msg != nil {
			if !retryable {
				if uerr := w.store.UpdateMessage(ctx, msg.ID, map[string]interface{}{
					"status":       model.MessageFailed,
					"fail_reason":  procErr.Error(),
					"processed_at": time.Now(),
				}); uerr != nil {
					log.Errorf("Failed to mark message %d failed: %v", msg.ID, uerr)
				}
			}
			w.store.LogEvent(ctx, msg.ID, job.ID, model.MessageProcessing, model.JobDeadLetter, procErr.Error())
		}
	}
	return outcomeOK
}

func (w *Worker) notifyCredits(ctx context.Context, env *jobEnv) {
	if w.notifier == nil {
		return
	}
	creds, err := w.creds.DecryptMailbox(env.shop.MailCredentialsEnc)
	if err != nil {
		logrus.Errorf("Failed to decrypt mailbox credentials for credits notice: %v", err)
		return
	}
	if err := w.notifier.NotifyCreditsExhausted(ctx, env.user, env.shop, creds, w.gateway(creds)); err != nil {
		logrus.Errorf("Failed to send credits notice for user %d: %v", env.user.ID, err)
	}
}

func (w *Worker) recordUsage(ctx context.Context, msgID uint, usage ai.Usage) {
	if usage.TokensIn == 0 && usage.TokensOut == 0 {
		return
	}
	if err := w.store.UpdateMessage(ctx, msgID, map[string]interface{}{
		"tokens_in":  gorm.Expr("tokens_in + ?", usage.TokensIn),
		"tokens_out": gorm.Expr("tokens_out + ?", usage.TokensOut),
	}); err != nil {
		logrus.Errorf("Failed to record token usage for message %d: %v", msgID, err)
	}
}

func (w *Worker) history(ctx context.Context, env *jobEnv) ([]ai.HistoryMessage, error) {
	msgs, err := w.store.GetConversationHistory(ctx, env.conv.ID, historyLimit)
	if err != nil {
		return nil, err
	}
	out := make([]ai.HistoryMessage, 0, len(msgs))
	for i := range msgs {
		m := &msgs[i]
		if m.ID == env.msg.ID || strings.TrimSpace(m.TextBody) == "" {
			continue
		}
		out = append(out, ai.HistoryMessage{Direction: m.Direction, Body: m.TextBody})
	}
	return out, nil
}

func (w *Worker) policy(shop *model.Shop) ai.ShopPolicy {
	return ai.ShopPolicy{
		ShopName:             shop.Name,
		Tone:                 shop.ReplyTone,
		DeliveryInfo:         shop.DeliveryInfo,
		WarrantyInfo:         shop.WarrantyInfo,
		RetentionCouponTerms: shop.RetentionCouponTerms,
	}
}

func (w *Worker) complete(ctx context.Context, job *model.Job, start time.Time, result string) {
	elapsed := time.Since(start)
	if err := w.queue.Complete(ctx, job.ID, result, elapsed.Milliseconds()); err != nil {
		logrus.Errorf("Failed to complete job %d: %v", job.ID, err)
		return
	}
	w.metrics.JobsProcessed.Inc()
	w.metrics.ProcessingTime.Observe(elapsed.Seconds())
}

func replySubject(subject string) string {
	if strings.HasPrefix(strings.ToLower(strings.TrimSpace(subject)), "re:") {
		return subject
	}
	return "Re: " + subject
}

func forwardBody(msg *model.Message) string {
	return fmt.Sprintf("De: %s\nAssunto: %s\n\n%s", msg.FromEmail, msg.Subject, msg.TextBody)
}
