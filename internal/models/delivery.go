package models

import "time"

// Channel names a delivery path of the fan-out.
type Channel string

const (
	ChannelFCM     Channel = "fcm"
	ChannelWebPush Channel = "webpush"
	ChannelSocket  Channel = "socket"
)

// DeliveryAttempt records the outcome of one channel for one fan-out (PostgreSQL)
type DeliveryAttempt struct {
	ID             string    `json:"id" gorm:"type:uuid;primaryKey"`
	NotificationID string    `json:"notificationId" gorm:"size:24;index"`
	RecipientID    string    `json:"recipientId" gorm:"size:24;index"`
	Channel        Channel   `json:"channel" gorm:"size:16;index"`
	Targets        int       `json:"targets"`
	Succeeded      int       `json:"succeeded"`
	Failed         int       `json:"failed"`
	Skipped        bool      `json:"skipped"`
	Error          string    `json:"error,omitempty"`
	CreatedAt      time.Time `json:"createdAt" gorm:"index"`
}

// DigestRun records one tick of the digest scheduler (PostgreSQL)
type DigestRun struct {
	ID           uint      `json:"id" gorm:"primaryKey"`
	StartedAt    time.Time `json:"startedAt" gorm:"index"`
	FinishedAt   time.Time `json:"finishedAt"`
	UsersScanned int       `json:"usersScanned"`
	EmailsSent   int       `json:"emailsSent"`
	Failures     int       `json:"failures"`
}
