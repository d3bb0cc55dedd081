package delivery

import (
	"context"

	"firebase.google.com/go/v4/messaging"
	"github.com/sraws/backend/internal/models"
)

// FCM multicast accepts at most this many tokens per request.
const fcmMaxTokens = 500

// MulticastSender is the subset of *messaging.Client used here.
type MulticastSender interface {
	SendEachForMulticast(ctx context.Context, message *messaging.MulticastMessage) (*messaging.BatchResponse, error)
}

// FCMChannel sends through Firebase Cloud Messaging to every registered device token.
type FCMChannel struct {
	client MulticastSender
}

func NewFCMChannel(client MulticastSender) *FCMChannel {
	return &FCMChannel{client: client}
}

func (c *FCMChannel) Name() models.Channel { return models.ChannelFCM }

func (c *FCMChannel) Deliver(ctx context.Context, to Recipient, p Payload) Result {
	if c.client == nil || len(to.Devices) == 0 {
		return skipped(models.ChannelFCM)
	}

	tokens := make([]string, 0, len(to.Devices))
	for _, d := range to.Devices {
		tokens = append(tokens, d.Token)
	}
	res := Result{Channel: models.ChannelFCM, Targets: len(tokens)}

	for start := 0; start < len(tokens); start += fcmMaxTokens {
		end := start + fcmMaxTokens
		if end > len(tokens) {
			end = len(tokens)
		}
		chunk := tokens[start:end]

		br, err := c.client.SendEachForMulticast(ctx, &messaging.MulticastMessage{
			Tokens: chunk,
			Notification: &messaging.Notification{
				Title: p.Title,
				Body:  p.Body,
			},
			Data: p.Data,
		})
		if err != nil {
			res.Failed += len(chunk)
			res.Error = err.Error()
			continue
		}

		res.Succeeded += br.SuccessCount
		res.Failed += br.FailureCount
		for i, r := range br.Responses {
			if r.Success || i >= len(chunk) {
				continue
			}
			if messaging.IsUnregistered(r.Error) {
				res.Stale = append(res.Stale, chunk[i])
			} else if res.Error == "" && r.Error != nil {
				res.Error = r.Error.Error()
			}
		}
	}
	return res
}
