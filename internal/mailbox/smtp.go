package mailbox

import (
	"context"
	"fmt"
	"mime"
	"strings"
	"time"

	"github.com/emersion/go-sasl"
	"github.com/emersion/go-smtp"
	"github.com/google/uuid"

	"support-mail-ai-go/internal/vault"
)

// smtpSender submits replies through the shop's SMTP server with PLAIN
// auth over STARTTLS. One connection per send.
type smtpSender struct{}

// Send builds an RFC 5322 message and submits it. The generated
// Message-ID is returned so the outbound record can be stored with the
// id before delivery is confirmed.
func (s *smtpSender) Send(ctx context.Context, creds *vault.MailboxCredentials, email OutboundEmail) (SendResult, error) {
	messageID := newMessageID(creds.Address)
	raw := buildRawMessage(creds, email, messageID, time.Now())

	addr := fmt.Sprintf("%s:%d", creds.SMTPHost, creds.SMTPPort)
	auth := sasl.NewPlainClient("", creds.Username, creds.Password)

	err := smtp.SendMail(addr, auth, creds.Address, []string{email.To}, strings.NewReader(raw))
	if err != nil {
		if isSMTPAuthError(err) {
			return SendResult{}, authErr("failed to send via SMTP", err)
		}
		return SendResult{}, fmt.Errorf("failed to send via SMTP: %w", err)
	}

	return SendResult{MessageID: messageID}, nil
}

// newMessageID generates an RFC 5322 message id under the sender's
// domain.
func newMessageID(fromAddress string) string {
	domain := "localhost"
	if at := strings.LastIndex(fromAddress, "@"); at >= 0 && at < len(fromAddress)-1 {
		domain = fromAddress[at+1:]
	}
	return fmt.Sprintf("<%s@%s>", uuid.NewString(), domain)
}

// buildRawMessage assembles the reply with proper threading headers.
// When both text and HTML bodies are present the message is
// multipart/alternative.
func buildRawMessage(creds *vault.MailboxCredentials, email OutboundEmail, messageID string, now time.Time) string {
	var b strings.Builder

	fromName := email.FromName
	if fromName == "" {
		fromName = creds.FromName
	}

	if fromName != "" {
		b.WriteString(fmt.Sprintf("From: %s <%s>\r\n", mime.QEncoding.Encode("utf-8", fromName), creds.Address))
	} else {
		b.WriteString(fmt.Sprintf("From: %s\r\n", creds.Address))
	}
	b.WriteString(fmt.Sprintf("To: %s\r\n", email.To))
	b.WriteString(fmt.Sprintf("Subject: %s\r\n", mime.QEncoding.Encode("utf-8", email.Subject)))
	b.WriteString(fmt.Sprintf("Date: %s\r\n", now.Format(time.RFC1123Z)))
	b.WriteString(fmt.Sprintf("Message-ID: %s\r\n", messageID))

	if email.InReplyTo != "" {
		b.WriteString(fmt.Sprintf("In-Reply-To: %s\r\n", email.InReplyTo))
	}
	if email.References != "" {
		b.WriteString(fmt.Sprintf("References: %s\r\n", email.References))
	}

	b.WriteString("MIME-Version: 1.0\r\n")

	if email.HTMLBody != "" {
		boundary := fmt.Sprintf("reply-%d", now.UnixNano())
		b.WriteString(fmt.Sprintf("Content-Type: multipart/alternative; boundary=\"%s\"\r\n\r\n", boundary))

		b.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
		b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
		b.WriteString(email.TextBody)
		b.WriteString("\r\n")

		b.WriteString(fmt.Sprintf("--%s\r\n", boundary))
		b.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
		b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
		b.WriteString(email.HTMLBody)
		b.WriteString("\r\n")

		b.WriteString(fmt.Sprintf("--%s--\r\n", boundary))
	} else {
		b.WriteString("Content-Type: text/plain; charset=UTF-8\r\n")
		b.WriteString("Content-Transfer-Encoding: 8bit\r\n\r\n")
		b.WriteString(email.TextBody)
		b.WriteString("\r\n")
	}

	return b.String()
}

func isSMTPAuthError(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "authentication") ||
		strings.Contains(msg, "auth failed") ||
		strings.Contains(msg, "535") ||
		strings.Contains(msg, "invalid credentials")
}
