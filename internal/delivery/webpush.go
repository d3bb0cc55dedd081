package delivery

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	webpush "github.com/SherClockHolmes/webpush-go"
	"github.com/sraws/backend/internal/models"
)

// VAPID holds the application server identity used to sign web push requests.
type VAPID struct {
	PublicKey  string
	PrivateKey string
	Subject    string
}

// WebPushChannel sends one encrypted push per browser subscription.
type WebPushChannel struct {
	vapid  VAPID
	ttl    int
	client webpush.HTTPClient
}

func NewWebPushChannel(vapid VAPID, client webpush.HTTPClient) *WebPushChannel {
	if client == nil {
		client = http.DefaultClient
	}
	return &WebPushChannel{vapid: vapid, ttl: 24 * 60 * 60, client: client}
}

func (c *WebPushChannel) Name() models.Channel { return models.ChannelWebPush }

type webPushMessage struct {
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

func (c *WebPushChannel) Deliver(ctx context.Context, to Recipient, p Payload) Result {
	if c.vapid.PrivateKey == "" || len(to.Subscriptions) == 0 {
		return skipped(models.ChannelWebPush)
	}

	body, err := json.Marshal(webPushMessage{Title: p.Title, Body: p.Body, Data: p.Data})
	if err != nil {
		return Result{Channel: models.ChannelWebPush, Targets: len(to.Subscriptions), Failed: len(to.Subscriptions), Error: err.Error()}
	}

	res := Result{Channel: models.ChannelWebPush, Targets: len(to.Subscriptions)}
	for _, sub := range to.Subscriptions {
		err := c.send(ctx, body, sub)
		switch {
		case err == nil:
			res.Succeeded++
		case errors.Is(err, errGone):
			res.Failed++
			res.Stale = append(res.Stale, sub.Endpoint)
		default:
			res.Failed++
			if res.Error == "" {
				res.Error = err.Error()
			}
		}
	}
	return res
}

var errGone = errors.New("subscription expired")

func (c *WebPushChannel) send(ctx context.Context, body []byte, sub models.WebPushSubscription) error {
	resp, err := webpush.SendNotificationWithContext(ctx, body, &webpush.Subscription{
		Endpoint: sub.Endpoint,
		Keys: webpush.Keys{
			Auth:   sub.Keys.Auth,
			P256dh: sub.Keys.P256dh,
		},
	}, &webpush.Options{
		HTTPClient:      c.client,
		Subscriber:      c.vapid.Subject,
		VAPIDPublicKey:  c.vapid.PublicKey,
		VAPIDPrivateKey: c.vapid.PrivateKey,
		TTL:             c.ttl,
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	switch {
	case resp.StatusCode == http.StatusNotFound || resp.StatusCode == http.StatusGone:
		return errGone
	case resp.StatusCode >= 300:
		return fmt.Errorf("push service answered %d", resp.StatusCode)
	}
	return nil
}
