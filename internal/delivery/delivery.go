// Package delivery pushes a stored notification to a user's devices, browsers and live sockets.
package delivery

import (
	"context"

	"github.com/sraws/backend/internal/models"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Recipient is the user being notified together with the endpoints registered for them.
type Recipient struct {
	UserID        primitive.ObjectID
	Devices       []models.Device
	Subscriptions []models.WebPushSubscription
}

// Payload is the channel-independent content of one push.
type Payload struct {
	NotificationID string
	Type           models.NotificationType
	Title          string
	Body           string
	Data           map[string]string
	// Notification is emitted over the socket as a copy.
	Notification *models.Notification
}

// Result is the outcome of one channel. A channel reports failures here instead of returning them.
type Result struct {
	Channel   models.Channel `json:"channel"`
	Targets   int            `json:"targets"`
	Succeeded int            `json:"successCount"`
	Failed    int            `json:"failureCount"`
	Skipped   bool           `json:"skipped"`
	Error     string         `json:"error,omitempty"`
	// Stale lists device tokens or endpoints the provider no longer accepts.
	Stale []string `json:"-"`
}

// Channel delivers a payload over one transport.
type Channel interface {
	Name() models.Channel
	Deliver(ctx context.Context, to Recipient, p Payload) Result
}

func skipped(ch models.Channel) Result {
	return Result{Channel: ch, Skipped: true}
}
