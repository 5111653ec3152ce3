package mailbox

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	gmail "google.golang.org/api/gmail/v1"
	"google.golang.org/api/googleapi"
	"google.golang.org/api/option"

	"support-mail-ai-go/internal/vault"
)

// GmailGateway fetches and sends through the Gmail API for shops
// connected via OAuth. The service is rebuilt per call from the shop's
// refresh token; tokens are never cached across shops.
type GmailGateway struct{}

// NewGmailGateway creates a new Gmail API gateway.
func NewGmailGateway() *GmailGateway {
	return &GmailGateway{}
}

func (g *GmailGateway) service(ctx context.Context, creds *vault.MailboxCredentials) (*gmail.Service, error) {
	oauth2Config := &oauth2.Config{
		ClientID:     creds.OAuthClientID,
		ClientSecret: creds.OAuthClientSecret,
		Scopes:       []string{gmail.GmailModifyScope},
		Endpoint:     google.Endpoint,
	}

	token := &oauth2.Token{RefreshToken: creds.OAuthRefreshToken}
	tokenSource := oauth2Config.TokenSource(ctx, token)

	service, err := gmail.NewService(ctx, option.WithTokenSource(tokenSource))
	if err != nil {
		return nil, fmt.Errorf("failed to create Gmail service: %w", err)
	}
	return service, nil
}

// FetchUnseen fetches up to maxCount unread messages received since the
// given time and marks them read.
func (g *GmailGateway) FetchUnseen(ctx context.Context, creds *vault.MailboxCredentials, maxCount int, since time.Time) ([]InboundEmail, error) {
	service, err := g.service(ctx, creds)
	if err != nil {
		return nil, err
	}

	query := fmt.Sprintf("is:unread after:%d", since.Unix())
	call := service.Users.Messages.List("me").Q(query)
	if maxCount > 0 {
		call = call.MaxResults(int64(maxCount))
	}

	response, err := call.Do()
	if err != nil {
		return nil, wrapGmailError("failed to list messages", err)
	}

	var emails []InboundEmail

	for _, msg := range response.Messages {
		full, err := service.Users.Messages.Get("me", msg.Id).Format("full").Do()
		if err != nil {
			logrus.Warnf("Failed to get message %s: %v", msg.Id, err)
			continue
		}

		email, err := parseGmailMessage(service, full)
		if err != nil {
			logrus.Warnf("Failed to parse message %s: %v", msg.Id, err)
			continue
		}

		emails = append(emails, email)

		modify := &gmail.ModifyMessageRequest{RemoveLabelIds: []string{"UNREAD"}}
		if _, err := service.Users.Messages.Modify("me", msg.Id, modify).Do(); err != nil {
			logrus.Warnf("Failed to mark message %s read: %v", msg.Id, err)
		}
	}

	return emails, nil
}

// Send submits a reply via the Gmail API. The returned message id is the
// RFC 5322 Message-ID header set on the outgoing message.
func (g *GmailGateway) Send(ctx context.Context, creds *vault.MailboxCredentials, email OutboundEmail) (SendResult, error) {
	service, err := g.service(ctx, creds)
	if err != nil {
		return SendResult{}, err
	}

	messageID := newMessageID(creds.Address)
	raw := buildRawMessage(creds, email, messageID, time.Now())

	message := &gmail.Message{Raw: base64.URLEncoding.EncodeToString([]byte(raw))}

	if _, err := service.Users.Messages.Send("me", message).Do(); err != nil {
		return SendResult{}, wrapGmailError("failed to send message", err)
	}

	return SendResult{MessageID: messageID}, nil
}

func parseGmailMessage(service *gmail.Service, msg *gmail.Message) (InboundEmail, error) {
	email := InboundEmail{ReceivedAt: time.Unix(0, msg.InternalDate*int64(time.Millisecond))}

	for _, header := range msg.Payload.Headers {
		switch strings.ToLower(header.Name) {
		case "message-id":
			email.MessageID = header.Value
		case "in-reply-to":
			email.InReplyTo = header.Value
		case "references":
			email.References = header.Value
		case "subject":
			email.Subject = header.Value
		case "from":
			email.From, email.FromName = splitAddress(header.Value)
		case "to":
			email.To, _ = splitAddress(header.Value)
		}
	}

	if email.MessageID == "" {
		// Some senders omit the header; fall back to the provider id.
		email.MessageID = fmt.Sprintf("<gmail-%s>", msg.Id)
	}

	if err := parseGmailBody(service, msg.Id, msg.Payload, &email); err != nil {
		return email, err
	}

	return email, nil
}

func parseGmailBody(service *gmail.Service, msgID string, part *gmail.MessagePart, email *InboundEmail) error {
	if part.Body != nil && part.Body.Data != "" {
		data, err := base64.URLEncoding.DecodeString(part.Body.Data)
		if err != nil {
			return fmt.Errorf("failed to decode body data: %w", err)
		}

		switch part.MimeType {
		case "text/plain":
			if email.TextBody == "" {
				email.TextBody = string(data)
			}
		case "text/html":
			if email.HTMLBody == "" {
				email.HTMLBody = string(data)
			}
		}
	}

	if strings.HasPrefix(part.MimeType, "image/") && part.Body != nil && part.Body.AttachmentId != "" {
		att, err := service.Users.Messages.Attachments.Get("me", msgID, part.Body.AttachmentId).Do()
		if err != nil {
			logrus.Warnf("Failed to fetch attachment for message %s: %v", msgID, err)
		} else if data, err := base64.URLEncoding.DecodeString(att.Data); err == nil {
			email.Attachments = append(email.Attachments, Attachment{
				Filename: part.Filename,
				MIMEType: part.MimeType,
				Data:     data,
			})
		}
	}

	for _, subPart := range part.Parts {
		if err := parseGmailBody(service, msgID, subPart, email); err != nil {
			return err
		}
	}

	return nil
}

// splitAddress splits "Name <addr@host>" into address and display name.
func splitAddress(raw string) (addr, name string) {
	raw = strings.TrimSpace(raw)
	start := strings.LastIndex(raw, "<")
	end := strings.LastIndex(raw, ">")
	if start >= 0 && end > start {
		return strings.TrimSpace(raw[start+1 : end]), strings.Trim(strings.TrimSpace(raw[:start]), `"`)
	}
	return raw, ""
}

func wrapGmailError(op string, err error) error {
	var apiErr *googleapi.Error
	if errors.As(err, &apiErr) && (apiErr.Code == 401 || apiErr.Code == 403) {
		return authErr(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}
