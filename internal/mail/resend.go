package mail

import (
	"context"
	"fmt"
	"regexp"
	"sort"

	"github.com/resend/resend-go/v2"
)

// Resend tag names and values accept ASCII letters, digits, underscores and dashes only.
var resendTagSanitizer = regexp.MustCompile(`[^A-Za-z0-9_-]`)

type ResendTransport struct {
	client *resend.Client
}

func NewResendTransport(apiKey string) *ResendTransport {
	return &ResendTransport{client: resend.NewClient(apiKey)}
}

// NewResendTransportWithClient is used when the caller configures the client (base URL, http client).
func NewResendTransportWithClient(client *resend.Client) *ResendTransport {
	return &ResendTransport{client: client}
}

func (t *ResendTransport) Send(ctx context.Context, msg Message) (SendResult, error) {
	if err := msg.validate(); err != nil {
		return SendResult{}, err
	}

	req := &resend.SendEmailRequest{
		From:    msg.From(),
		To:      []string{msg.To},
		Subject: msg.Subject,
		Html:    msg.HTML,
		ReplyTo: msg.ReplyTo,
		Tags:    resendTags(msg.Tags),
	}
	sent, err := t.client.Emails.SendWithContext(ctx, req)
	if err != nil {
		return SendResult{}, fmt.Errorf("resend send: %w", err)
	}
	return SendResult{ProviderMessageID: sent.Id}, nil
}

func resendTags(tags map[string]string) []resend.Tag {
	if len(tags) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]resend.Tag, 0, len(keys))
	for _, k := range keys {
		out = append(out, resend.Tag{
			Name:  resendTagSanitizer.ReplaceAllString(k, "_"),
			Value: resendTagSanitizer.ReplaceAllString(tags[k], "_"),
		})
	}
	return out
}
