// Package mail holds the outbound transports a send worker can deliver through.
package mail

import (
	"context"
	"errors"
	"net/mail"
)

// Message is one rendered email for one recipient.
type Message struct {
	FromName  string
	FromEmail string
	To        string
	ReplyTo   string
	Subject   string
	HTML      string
	// Tags are attached as provider tags or X-Mailcast-* headers.
	Tags map[string]string
}

// SendResult carries the provider's id for the accepted message, if it exposes one.
type SendResult struct {
	ProviderMessageID string
}

type Transport interface {
	Send(ctx context.Context, msg Message) (SendResult, error)
}

var ErrNoRecipient = errors.New("message has no recipient address")

// From renders the From header value.
func (m Message) From() string {
	if m.FromName == "" {
		return m.FromEmail
	}
	return (&mail.Address{Name: m.FromName, Address: m.FromEmail}).String()
}

func (m Message) validate() error {
	if m.To == "" {
		return ErrNoRecipient
	}
	if m.FromEmail == "" {
		return errors.New("message has no sender address")
	}
	return nil
}
