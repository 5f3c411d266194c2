package events

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/rs/zerolog"
)

// WebhookForwarder drains a bus and POSTs each event to a collaborator
// endpoint. Delivery failures are logged and dropped; events are a side
// channel, not part of any transaction.
type WebhookForwarder struct {
	client *resty.Client
	url    string
	log    zerolog.Logger
}

func NewWebhookForwarder(url string, log zerolog.Logger) *WebhookForwarder {
	client := resty.New().
		SetTimeout(5 * time.Second).
		SetRetryCount(2).
		SetRetryWaitTime(200 * time.Millisecond)
	return &WebhookForwarder{client: client, url: url, log: log}
}

// Run consumes events until ctx is cancelled or the channel closes.
func (f *WebhookForwarder) Run(ctx context.Context, ch <-chan Event) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-ch:
			if !ok {
				return
			}
			f.deliver(ctx, evt)
		}
	}
}

func (f *WebhookForwarder) deliver(ctx context.Context, evt Event) {
	resp, err := f.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(evt).
		Post(f.url)
	if err != nil {
		f.log.Warn().Err(err).
			Str("event", string(evt.Name)).
			Str("session_id", evt.SessionID).
			Msg("event delivery failed")
		return
	}
	if resp.IsError() {
		f.log.Warn().
			Int("status", resp.StatusCode()).
			Str("event", string(evt.Name)).
			Str("session_id", evt.SessionID).
			Msg("event delivery rejected")
	}
}
