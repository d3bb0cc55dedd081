package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sraws/backend/internal/delivery"
	"github.com/sraws/backend/internal/models"
	"github.com/sraws/backend/internal/repositories"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Dispatcher fans a stored notification out to the recipient's channels.
type Dispatcher interface {
	Dispatch(ctx context.Context, n *models.Notification) (*delivery.Report, error)
}

// NotificationService owns the notification store and the device registry.
type NotificationService struct {
	notifications repositories.NotificationRepository
	users         repositories.UserRepository
	dispatcher    Dispatcher
	log           *zap.Logger
}

func NewNotificationService(
	notifications repositories.NotificationRepository,
	users repositories.UserRepository,
	dispatcher Dispatcher,
	log *zap.Logger,
) *NotificationService {
	return &NotificationService{
		notifications: notifications,
		users:         users,
		dispatcher:    dispatcher,
		log:           log,
	}
}

func (s *NotificationService) defaultText(ctx context.Context, d models.NotificationDraft) (string, string) {
	actor := "Someone"
	if sender, err := s.users.GetUserByID(ctx, d.Sender); err == nil && sender.Username != "" {
		actor = sender.Username
	}
	switch d.Type {
	case models.NotificationLike:
		return "New like", actor + " liked your post"
	case models.NotificationComment:
		return "New comment", actor + " commented on your post"
	case models.NotificationReply:
		return "New reply", actor + " replied to your comment"
	case models.NotificationMessage:
		return "New message", actor + " sent you a message"
	}
	return "Notification", ""
}

// CreateNotification stores a notification for d. It returns created=false without writing when
// sender and recipient are the same user, and returns the existing document when one with the
// same key is already stored.
func (s *NotificationService) CreateNotification(ctx context.Context, d models.NotificationDraft) (*models.Notification, bool, error) {
	if !d.Type.Valid() {
		return nil, false, invalid("unknown notification type %q", d.Type)
	}
	if d.Sender.IsZero() || d.Recipient.IsZero() {
		return nil, false, invalid("sender and recipient are required")
	}
	if d.Sender == d.Recipient {
		return nil, false, nil
	}

	title, body := d.Title, d.Body
	if title == "" || body == "" {
		defTitle, defBody := s.defaultText(ctx, d)
		if title == "" {
			title = defTitle
		}
		if body == "" {
			body = defBody
		}
	}

	n := &models.Notification{
		Type:      d.Type,
		Sender:    d.Sender,
		Recipient: d.Recipient,
		Post:      d.Post,
		Comment:   d.Comment,
		Message:   d.Message,
		Title:     title,
		Body:      body,
		Data:      d.Data,
		CreatedAt: time.Now(),
	}
	err := s.notifications.Create(ctx, n)
	if errors.Is(err, repositories.ErrDuplicate) {
		existing, findErr := s.notifications.FindByKey(ctx, n)
		if findErr != nil {
			return nil, false, fmt.Errorf("load existing notification: %w", findErr)
		}
		return existing, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("create notification: %w", err)
	}
	return n, true, nil
}

// Deliver runs the fan-out for n.
func (s *NotificationService) Deliver(ctx context.Context, n *models.Notification) (*delivery.Report, error) {
	return s.dispatcher.Dispatch(ctx, n)
}

// SendNotification creates (or finds) the notification described by req and always runs the fan-out.
// A request addressed to its own sender is a no-op and returns a nil notification.
func (s *NotificationService) SendNotification(ctx context.Context, req models.SendNotificationRequest) (*models.Notification, *delivery.Report, error) {
	sender, err := repositories.ParseID(req.SenderID)
	if err != nil {
		return nil, nil, invalid("senderId is not a valid id")
	}
	recipient, err := repositories.ParseID(req.RecipientID)
	if err != nil {
		return nil, nil, invalid("recipientId is not a valid id")
	}
	post, err := parseRef("postId", req.PostID)
	if err != nil {
		return nil, nil, err
	}
	comment, err := parseRef("commentId", req.CommentID)
	if err != nil {
		return nil, nil, err
	}
	message, err := parseRef("messageId", req.MessageID)
	if err != nil {
		return nil, nil, err
	}
	if !models.NotificationType(req.Type).Valid() {
		return nil, nil, invalid("unknown notification type %q", req.Type)
	}
	if sender == recipient {
		return nil, nil, nil
	}
	if _, err := s.users.GetUserByID(ctx, recipient); err != nil {
		return nil, nil, fmt.Errorf("recipient: %w", err)
	}

	n, _, err := s.CreateNotification(ctx, models.NotificationDraft{
		Type:      models.NotificationType(req.Type),
		Sender:    sender,
		Recipient: recipient,
		Post:      post,
		Comment:   comment,
		Message:   message,
		Title:     req.Title,
		Body:      req.Body,
		Data:      req.Data,
	})
	if err != nil {
		return nil, nil, err
	}

	report, err := s.dispatcher.Dispatch(ctx, n)
	if err != nil {
		return nil, nil, fmt.Errorf("dispatch: %w", err)
	}
	return n, report, nil
}

func (s *NotificationService) GetNotifications(ctx context.Context, userID primitive.ObjectID) ([]models.PopulatedNotification, error) {
	return s.notifications.FindByRecipient(ctx, userID)
}

func (s *NotificationService) UnreadCount(ctx context.Context, userID primitive.ObjectID) (int64, error) {
	return s.notifications.UnreadCount(ctx, userID)
}

// MarkAsRead marks one of caller's notifications as read.
func (s *NotificationService) MarkAsRead(ctx context.Context, notificationID, caller primitive.ObjectID) error {
	if err := s.notifications.MarkAsRead(ctx, notificationID, caller); err != nil {
		return fmt.Errorf("notification: %w", err)
	}
	return nil
}

func (s *NotificationService) MarkAllAsRead(ctx context.Context, userID primitive.ObjectID) (int64, error) {
	return s.notifications.MarkAllAsRead(ctx, userID)
}

// RegisterDevice adds an FCM token to the user's devices. Registering a known token is a no-op.
func (s *NotificationService) RegisterDevice(ctx context.Context, userID primitive.ObjectID, req models.RegisterDeviceRequest) (bool, error) {
	added, err := s.users.AddDevice(ctx, userID, models.Device{
		Token:        req.Token,
		Type:         req.DeviceType,
		Platform:     req.Platform,
		RegisteredAt: time.Now(),
	})
	if err != nil {
		return false, fmt.Errorf("register device: %w", err)
	}
	if added {
		s.log.Info("device registered", zap.String("userId", userID.Hex()), zap.String("deviceType", req.DeviceType))
	}
	return added, nil
}

// Subscribe stores a browser push subscription. A known endpoint is a no-op.
func (s *NotificationService) Subscribe(ctx context.Context, userID primitive.ObjectID, sub models.WebPushSubscription) (bool, error) {
	added, err := s.users.AddWebPushSubscription(ctx, userID, sub)
	if err != nil {
		return false, fmt.Errorf("subscribe: %w", err)
	}
	return added, nil
}

func (s *NotificationService) PruneDevices(ctx context.Context, userID primitive.ObjectID, tokens []string) error {
	return s.users.RemoveDevices(ctx, userID, tokens)
}

func (s *NotificationService) PruneSubscriptions(ctx context.Context, userID primitive.ObjectID, endpoints []string) error {
	return s.users.RemoveWebPushSubscriptions(ctx, userID, endpoints)
}
