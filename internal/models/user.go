package models

import (
	"time"

	"github.com/golang-jwt/jwt/v4"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	DeviceTypeWeb    = "web"
	DeviceTypeMobile = "mobile"
)

type User struct {
	ID                   primitive.ObjectID    `json:"id" bson:"_id,omitempty"`
	Username             string                `json:"username" bson:"username"`
	Email                string                `json:"email" bson:"email"`
	Password             string                `json:"-" bson:"password"` // bcrypt hash
	FirebaseUID          string                `json:"-" bson:"firebaseUid,omitempty"`
	SocialPoints         int                   `json:"socialPoints" bson:"socialPoints"`
	Devices              []Device              `json:"-" bson:"devices"`
	WebPushSubscriptions []WebPushSubscription `json:"-" bson:"webPushSubscriptions"`
	EmailDigest          bool                  `json:"emailDigest" bson:"emailDigest"`
	CreatedAt            time.Time             `json:"createdAt" bson:"createdAt"`
}

// UserSummary is the public projection used when populating references.
type UserSummary struct {
	ID       primitive.ObjectID `json:"id" bson:"_id"`
	Username string             `json:"username" bson:"username"`
}

// Device is a registered FCM endpoint. Registration is idempotent by Token.
type Device struct {
	Token        string    `json:"token" bson:"token"`
	Type         string    `json:"type" bson:"type"`
	Platform     string    `json:"platform" bson:"platform"`
	RegisteredAt time.Time `json:"registeredAt" bson:"registeredAt"`
}

// WebPushSubscription mirrors the browser PushSubscription JSON.
type WebPushSubscription struct {
	Endpoint       string      `json:"endpoint" bson:"endpoint" validate:"required,url"`
	ExpirationTime *int64      `json:"expirationTime,omitempty" bson:"expirationTime,omitempty"`
	Keys           WebPushKeys `json:"keys" bson:"keys"`
}

type WebPushKeys struct {
	P256dh string `json:"p256dh" bson:"p256dh" validate:"required"`
	Auth   string `json:"auth" bson:"auth" validate:"required"`
}

type SignupRequest struct {
	Username string `json:"username" validate:"required,min=3,max=30"`
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required,min=8"`
}

type SigninRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
}

// JwtCustomClaims are custom claims extending standard jwt.RegisteredClaims
type JwtCustomClaims struct {
	UserID string `json:"user_id"`
	Email  string `json:"email"`
	jwt.RegisteredClaims
}
