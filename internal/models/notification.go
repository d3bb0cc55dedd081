package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NotificationType is the kind of event a notification reports.
type NotificationType string

const (
	NotificationLike    NotificationType = "like"
	NotificationComment NotificationType = "comment"
	NotificationMessage NotificationType = "message"
	NotificationReply   NotificationType = "reply"
)

func (t NotificationType) Valid() bool {
	switch t {
	case NotificationLike, NotificationComment, NotificationMessage, NotificationReply:
		return true
	}
	return false
}

// Notification is one user-facing event stored in the notifications collection.
// Post, Comment and Message are stored as explicit nulls when absent so the dedup index
// treats "no post" as a value.
type Notification struct {
	ID        primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	Type      NotificationType    `json:"type" bson:"type"`
	Sender    primitive.ObjectID  `json:"sender" bson:"sender"`
	Recipient primitive.ObjectID  `json:"recipient" bson:"recipient"`
	Post      *primitive.ObjectID `json:"post" bson:"post"`
	Comment   *primitive.ObjectID `json:"comment" bson:"comment"`
	Message   *primitive.ObjectID `json:"message" bson:"message"`
	Read      bool                `json:"read" bson:"read"`
	Title     string              `json:"title" bson:"title"`
	Body      string              `json:"body" bson:"body"`
	Data      map[string]string   `json:"data,omitempty" bson:"data,omitempty"`
	Sent      bool                `json:"sent" bson:"sent"`
	CreatedAt time.Time           `json:"createdAt" bson:"createdAt"`
}

// PopulatedNotification is a Notification with its references resolved.
// A reference whose target was deleted decodes as nil.
type PopulatedNotification struct {
	ID        primitive.ObjectID `json:"id" bson:"_id"`
	Type      NotificationType   `json:"type" bson:"type"`
	Sender    *UserSummary       `json:"sender" bson:"sender"`
	Recipient primitive.ObjectID `json:"recipient" bson:"recipient"`
	Post      *Post              `json:"post" bson:"post"`
	Comment   *Comment           `json:"comment" bson:"comment"`
	Message   *Message           `json:"message" bson:"message"`
	Read      bool               `json:"read" bson:"read"`
	Title     string             `json:"title" bson:"title"`
	Body      string             `json:"body" bson:"body"`
	Data      map[string]string  `json:"data,omitempty" bson:"data,omitempty"`
	Sent      bool               `json:"sent" bson:"sent"`
	CreatedAt time.Time          `json:"createdAt" bson:"createdAt"`
}

// NotificationDraft describes a notification to create. It is embedded in outbox effects,
// so it carries bson tags as well.
type NotificationDraft struct {
	Type      NotificationType    `json:"type" bson:"type"`
	Sender    primitive.ObjectID  `json:"senderId" bson:"sender"`
	Recipient primitive.ObjectID  `json:"recipientId" bson:"recipient"`
	Post      *primitive.ObjectID `json:"postId,omitempty" bson:"post,omitempty"`
	Comment   *primitive.ObjectID `json:"commentId,omitempty" bson:"comment,omitempty"`
	Message   *primitive.ObjectID `json:"messageId,omitempty" bson:"message,omitempty"`
	Title     string              `json:"title,omitempty" bson:"title,omitempty"`
	Body      string              `json:"body,omitempty" bson:"body,omitempty"`
	Data      map[string]string   `json:"data,omitempty" bson:"data,omitempty"`
	// Deliver forces a fan-out even when the notification already existed.
	Deliver bool `json:"deliver" bson:"deliver"`
}

// RegisterDeviceRequest is the body of POST /api/notifications/register-device.
type RegisterDeviceRequest struct {
	UserID     string `json:"userId" validate:"required"`
	Token      string `json:"token" validate:"required"`
	DeviceType string `json:"deviceType" validate:"required,oneof=web mobile"`
	Platform   string `json:"platform"`
}

// SubscribeRequest is the body of POST /api/notifications/subscribe.
type SubscribeRequest struct {
	UserID       string              `json:"userId" validate:"required"`
	Subscription WebPushSubscription `json:"subscription"`
}

// SendNotificationRequest is the body of the internal POST /api/notifications/send.
type SendNotificationRequest struct {
	Type        string            `json:"type" validate:"required,oneof=like comment message reply"`
	SenderID    string            `json:"senderId" validate:"required"`
	RecipientID string            `json:"recipientId" validate:"required"`
	PostID      string            `json:"postId,omitempty"`
	CommentID   string            `json:"commentId,omitempty"`
	MessageID   string            `json:"messageId,omitempty"`
	Title       string            `json:"title"`
	Body        string            `json:"body"`
	Data        map[string]string `json:"data,omitempty"`
}
