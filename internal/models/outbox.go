package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

type EffectStatus string

const (
	EffectPending    EffectStatus = "pending"
	EffectProcessing EffectStatus = "processing"
	EffectDone       EffectStatus = "done"
	EffectFailed     EffectStatus = "failed"
)

// Effect is an outbox record: the auxiliary work (points, notification, delivery) owed by a
// primary write. It is inserted together with that write and processed asynchronously.
type Effect struct {
	ID            primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	Kind          string              `json:"kind" bson:"kind"`
	Actor         primitive.ObjectID  `json:"actor" bson:"actor"`
	PointsUser    *primitive.ObjectID `json:"pointsUser,omitempty" bson:"pointsUser,omitempty"`
	PointsDelta   int                 `json:"pointsDelta" bson:"pointsDelta"`
	PointsApplied bool                `json:"pointsApplied" bson:"pointsApplied"`
	Notification  *NotificationDraft  `json:"notification,omitempty" bson:"notification,omitempty"`
	Status        EffectStatus        `json:"status" bson:"status"`
	Attempts      int                 `json:"attempts" bson:"attempts"`
	NextAttemptAt time.Time           `json:"nextAttemptAt" bson:"nextAttemptAt"`
	LeaseUntil    *time.Time          `json:"leaseUntil,omitempty" bson:"leaseUntil,omitempty"`
	LastError     string              `json:"lastError,omitempty" bson:"lastError,omitempty"`
	CreatedAt     time.Time           `json:"createdAt" bson:"createdAt"`
	UpdatedAt     time.Time           `json:"updatedAt" bson:"updatedAt"`
}

// Effect kinds, named after the action that produced them.
const (
	EffectPostCreated    = "post_created"
	EffectPostDeleted    = "post_deleted"
	EffectPostLiked      = "post_liked"
	EffectPostUnliked    = "post_unliked"
	EffectCommentCreated = "comment_created"
	EffectCommentDeleted = "comment_deleted"
	EffectMessageSent    = "message_sent"
)
