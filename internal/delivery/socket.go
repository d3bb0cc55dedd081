package delivery

import (
	"context"

	"github.com/sraws/backend/internal/models"
	"github.com/sraws/backend/internal/websocket"
)

// Emitter is implemented by *websocket.Hub.
type Emitter interface {
	Emit(userID, event string, payload interface{}) int
}

// SocketChannel emits newNotification to the recipient's live connections. Offline users are skipped.
type SocketChannel struct {
	hub Emitter
}

func NewSocketChannel(hub Emitter) *SocketChannel {
	return &SocketChannel{hub: hub}
}

func (c *SocketChannel) Name() models.Channel { return models.ChannelSocket }

func (c *SocketChannel) Deliver(_ context.Context, to Recipient, p Payload) Result {
	if c.hub == nil {
		return skipped(models.ChannelSocket)
	}
	// The hub encodes the payload on another goroutine, so it gets a copy the caller can keep mutating.
	var payload interface{} = p
	if p.Notification != nil {
		payload = *p.Notification
	}
	n := c.hub.Emit(to.UserID.Hex(), websocket.EventNewNotification, payload)
	if n == 0 {
		return skipped(models.ChannelSocket)
	}
	return Result{Channel: models.ChannelSocket, Targets: n, Succeeded: n}
}
