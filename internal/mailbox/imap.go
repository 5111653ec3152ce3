package mailbox

import (
	"context"
	"fmt"
	"io"
	"mime"
	"sort"
	"strings"
	"time"

	"github.com/emersion/go-imap"
	"github.com/emersion/go-imap/client"
	"github.com/emersion/go-message"
	"github.com/sirupsen/logrus"

	"support-mail-ai-go/internal/vault"
)

// IMAPGateway fetches mail over IMAP and sends replies over SMTP. Each
// call opens its own connection.
type IMAPGateway struct {
	sender *smtpSender
}

// NewIMAPGateway creates a new IMAP/SMTP gateway.
func NewIMAPGateway() *IMAPGateway {
	return &IMAPGateway{sender: &smtpSender{}}
}

// FetchUnseen fetches up to maxCount unseen messages received since the
// given time, oldest first, and marks them seen.
func (g *IMAPGateway) FetchUnseen(ctx context.Context, creds *vault.MailboxCredentials, maxCount int, since time.Time) ([]InboundEmail, error) {
	c, err := client.DialTLS(fmt.Sprintf("%s:%d", creds.IMAPHost, creds.IMAPPort), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to IMAP server: %w", err)
	}
	defer c.Logout()

	if err := c.Login(creds.Username, creds.Password); err != nil {
		return nil, authErr("failed to login to IMAP server", err)
	}

	if _, err := c.Select("INBOX", false); err != nil {
		return nil, fmt.Errorf("failed to select INBOX: %w", err)
	}

	criteria := imap.NewSearchCriteria()
	criteria.WithoutFlags = []string{imap.SeenFlag}
	criteria.Since = since

	uids, err := c.Search(criteria)
	if err != nil {
		return nil, fmt.Errorf("failed to search messages: %w", err)
	}

	if len(uids) == 0 {
		return []InboundEmail{}, nil
	}

	// Oldest unseen first, bounded by maxCount.
	sort.Slice(uids, func(i, j int) bool { return uids[i] < uids[j] })
	if maxCount > 0 && len(uids) > maxCount {
		uids = uids[:maxCount]
	}

	seqset := new(imap.SeqSet)
	seqset.AddNum(uids...)

	section := &imap.BodySectionName{}
	items := []imap.FetchItem{imap.FetchEnvelope, imap.FetchUid, section.FetchItem()}

	messages := make(chan *imap.Message, len(uids))
	done := make(chan error, 1)

	go func() {
		done <- c.Fetch(seqset, items, messages)
	}()

	var emails []InboundEmail

	for msg := range messages {
		email, err := parseIMAPMessage(msg, section)
		if err != nil {
			logrus.Warnf("Failed to parse IMAP message: %v", err)
			continue
		}
		emails = append(emails, email)
	}

	if err := <-done; err != nil {
		return nil, fmt.Errorf("failed to fetch messages: %w", err)
	}

	// Mark the fetched messages seen so the next poll skips them. Dedup
	// on provider message id still protects against a failure here.
	flagItem := imap.FormatFlagsOp(imap.AddFlags, true)
	if err := c.Store(seqset, flagItem, []interface{}{imap.SeenFlag}, nil); err != nil {
		logrus.Warnf("Failed to mark messages seen: %v", err)
	}

	return emails, nil
}

// Send sends the email over SMTP using the shop's credentials.
func (g *IMAPGateway) Send(ctx context.Context, creds *vault.MailboxCredentials, email OutboundEmail) (SendResult, error) {
	return g.sender.Send(ctx, creds, email)
}

func parseIMAPMessage(msg *imap.Message, section *imap.BodySectionName) (InboundEmail, error) {
	email := InboundEmail{ReceivedAt: time.Now()}

	if msg.Envelope != nil {
		email.Subject = msg.Envelope.Subject
		email.MessageID = msg.Envelope.MessageId
		email.InReplyTo = msg.Envelope.InReplyTo
		if !msg.Envelope.Date.IsZero() {
			email.ReceivedAt = msg.Envelope.Date
		}
		if len(msg.Envelope.From) > 0 {
			email.From = msg.Envelope.From[0].Address()
			email.FromName = msg.Envelope.From[0].PersonalName
		}
		if len(msg.Envelope.To) > 0 {
			email.To = msg.Envelope.To[0].Address()
		}
	}

	r := msg.GetBody(section)
	if r == nil {
		return email, fmt.Errorf("failed to get message body")
	}

	entity, err := message.Read(r)
	if err != nil && !message.IsUnknownCharset(err) {
		return email, fmt.Errorf("failed to read message: %w", err)
	}

	if email.MessageID == "" {
		email.MessageID = entity.Header.Get("Message-Id")
	}
	if email.InReplyTo == "" {
		email.InReplyTo = entity.Header.Get("In-Reply-To")
	}
	email.References = entity.Header.Get("References")

	if err := parseEntityBody(entity, &email); err != nil {
		return email, err
	}

	return email, nil
}

func parseEntityBody(entity *message.Entity, email *InboundEmail) error {
	mr := entity.MultipartReader()
	if mr == nil {
		content, err := io.ReadAll(entity.Body)
		if err != nil {
			return fmt.Errorf("failed to read message body: %w", err)
		}
		assignBodyPart(entity.Header.Get("Content-Type"), content, email)
		return nil
	}

	for {
		p, err := mr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read part: %w", err)
		}

		contentType := p.Header.Get("Content-Type")
		disposition := p.Header.Get("Content-Disposition")

		if strings.Contains(disposition, "attachment") || strings.HasPrefix(contentType, "image/") {
			collectImageAttachment(p, contentType, disposition, email)
			continue
		}

		// Nested multipart (e.g. multipart/alternative inside mixed).
		if strings.HasPrefix(contentType, "multipart/") {
			if err := parseEntityBody(p, email); err != nil {
				return err
			}
			continue
		}

		content, err := io.ReadAll(p.Body)
		if err != nil {
			return fmt.Errorf("failed to read part body: %w", err)
		}
		assignBodyPart(contentType, content, email)
	}

	return nil
}

func assignBodyPart(contentType string, content []byte, email *InboundEmail) {
	if strings.Contains(contentType, "text/plain") && email.TextBody == "" {
		email.TextBody = string(content)
	} else if strings.Contains(contentType, "text/html") && email.HTMLBody == "" {
		email.HTMLBody = string(content)
	}
}

func collectImageAttachment(p *message.Entity, contentType, disposition string, email *InboundEmail) {
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil || !strings.HasPrefix(mediaType, "image/") {
		return
	}

	filename := "attachment"
	if _, params, err := mime.ParseMediaType(disposition); err == nil && params["filename"] != "" {
		filename = params["filename"]
	}

	data, err := io.ReadAll(p.Body)
	if err != nil {
		logrus.Warnf("Failed to read attachment %s: %v", filename, err)
		return
	}

	email.Attachments = append(email.Attachments, Attachment{
		Filename: filename,
		MIMEType: mediaType,
		Data:     data,
	})
}
