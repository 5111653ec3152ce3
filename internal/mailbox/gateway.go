package mailbox

import (
	"context"
	"errors"
	"fmt"
	"time"

	"support-mail-ai-go/internal/vault"
)

// ErrAuth marks credential failures (bad password, revoked token). Auth
// errors are permanent: retrying cannot help until the shop owner fixes
// the credentials.
var ErrAuth = errors.New("mailbox: authentication failed")

// IsAuthError reports whether err is a credential failure rather than a
// transient network problem.
func IsAuthError(err error) bool {
	return errors.Is(err, ErrAuth)
}

// Attachment is one decoded attachment of an inbound email. Only image
// attachments are retained; they feed the responder's vision input and
// are never required for correctness.
type Attachment struct {
	Filename string
	MIMEType string
	Data     []byte
}

// InboundEmail is one email fetched from a shop's mailbox.
type InboundEmail struct {
	MessageID   string
	From        string
	FromName    string
	To          string
	Subject     string
	TextBody    string
	HTMLBody    string
	InReplyTo   string
	References  string
	ReceivedAt  time.Time
	Attachments []Attachment
}

// OutboundEmail is a reply to be sent through a shop's mailbox. When
// InReplyTo/References are set the message threads under the customer's
// original email.
type OutboundEmail struct {
	To         string
	Subject    string
	TextBody   string
	HTMLBody   string
	InReplyTo  string
	References string
	FromName   string
}

// SendResult carries the provider-assigned message id of a sent email.
type SendResult struct {
	MessageID string
}

// Gateway fetches unseen mail from and sends replies through one shop's
// mailbox. Implementations are stateless per call: every call dials,
// authenticates, and disconnects, so a wedged connection never outlives
// one invocation.
type Gateway interface {
	FetchUnseen(ctx context.Context, creds *vault.MailboxCredentials, maxCount int, since time.Time) ([]InboundEmail, error)
	Send(ctx context.Context, creds *vault.MailboxCredentials, email OutboundEmail) (SendResult, error)
}

// ForCredentials returns the gateway matching the shop's mailbox
// connection type: Gmail API when an OAuth refresh token is present,
// IMAP/SMTP otherwise.
func ForCredentials(creds *vault.MailboxCredentials) Gateway {
	if creds.UsesGmailAPI() {
		return NewGmailGateway()
	}
	return NewIMAPGateway()
}

func authErr(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrAuth, err)
}
