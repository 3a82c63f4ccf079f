package mail

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/google/uuid"
	"gopkg.in/gomail.v2"
)

// SMTPTransport delivers through an SMTP relay. Each message gets a generated
// Message-ID, which doubles as the provider message id.
type SMTPTransport struct {
	dialer *gomail.Dialer
}

func NewSMTPTransport(host string, port int, username, password string) *SMTPTransport {
	return &SMTPTransport{dialer: gomail.NewDialer(host, port, username, password)}
}

func (t *SMTPTransport) Send(ctx context.Context, msg Message) (SendResult, error) {
	if err := msg.validate(); err != nil {
		return SendResult{}, err
	}
	if err := ctx.Err(); err != nil {
		return SendResult{}, err
	}

	m, id := buildSMTPMessage(msg)
	if err := t.dialer.DialAndSend(m); err != nil {
		return SendResult{}, fmt.Errorf("smtp send: %w", err)
	}
	return SendResult{ProviderMessageID: id}, nil
}

func buildSMTPMessage(msg Message) (*gomail.Message, string) {
	domain := "localhost"
	if at := strings.LastIndex(msg.FromEmail, "@"); at >= 0 {
		domain = msg.FromEmail[at+1:]
	}
	id := uuid.NewString() + "@" + domain

	m := gomail.NewMessage()
	m.SetAddressHeader("From", msg.FromEmail, msg.FromName)
	m.SetHeader("To", msg.To)
	if msg.ReplyTo != "" {
		m.SetHeader("Reply-To", msg.ReplyTo)
	}
	m.SetHeader("Subject", msg.Subject)
	m.SetHeader("Message-ID", "<"+id+">")

	keys := make([]string, 0, len(msg.Tags))
	for k := range msg.Tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		m.SetHeader(tagHeader(k), msg.Tags[k])
	}
	m.SetBody("text/html", msg.HTML)
	return m, id
}

// tagHeader maps broadcast_id to X-Mailcast-Broadcast-Id.
func tagHeader(key string) string {
	parts := strings.FieldsFunc(key, func(r rune) bool { return r == '_' || r == '-' })
	for i, p := range parts {
		parts[i] = strings.ToUpper(p[:1]) + strings.ToLower(p[1:])
	}
	return "X-Mailcast-" + strings.Join(parts, "-")
}
