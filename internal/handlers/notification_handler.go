package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sraws/backend/internal/delivery"
	"github.com/sraws/backend/internal/middleware"
	"github.com/sraws/backend/internal/models"
	"github.com/sraws/backend/internal/repositories"
	"github.com/sraws/backend/internal/services"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NotificationHandler handles notification-related HTTP requests
type NotificationHandler struct {
	notifications *services.NotificationService
	ledger        repositories.DeliveryRepository
}

// NewNotificationHandler creates a new NotificationHandler
func NewNotificationHandler(notifications *services.NotificationService, ledger repositories.DeliveryRepository) *NotificationHandler {
	return &NotificationHandler{notifications: notifications, ledger: ledger}
}

// RegisterNotificationRoutes registers the user-facing notification routes.
func (h *NotificationHandler) RegisterNotificationRoutes(g *echo.Group) {
	g.POST("/notifications/register-device", h.RegisterDevice)
	g.POST("/notifications/subscribe", h.Subscribe)
	g.PUT("/notifications/mark-all-read/:userId", h.MarkAllAsRead)
	g.PUT("/notifications/:notificationId/read", h.MarkAsRead)
	g.GET("/notifications/:userId/unread-count", h.GetUnreadCount)
	g.GET("/notifications/:userId", h.GetNotifications)
}

// RegisterInternalRoutes registers the service-to-service routes.
func (h *NotificationHandler) RegisterInternalRoutes(g *echo.Group) {
	g.POST("/notifications/send", h.Send)
	g.GET("/notifications/:notificationId/deliveries", h.Deliveries)
}

// ownerOf parses the path user id and requires it to be the caller.
func ownerOf(c echo.Context, raw string) (primitive.ObjectID, error) {
	userID, err := repositories.ParseID(raw)
	if err != nil {
		return primitive.NilObjectID, err
	}
	if userID != middleware.CurrentUser(c) {
		return primitive.NilObjectID, services.ErrForbidden
	}
	return userID, nil
}

// GetNotifications returns the user's notifications, newest first, with references populated.
func (h *NotificationHandler) GetNotifications(c echo.Context) error {
	userID, err := ownerOf(c, c.Param("userId"))
	if err != nil {
		return err
	}
	notifications, err := h.notifications.GetNotifications(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, notifications)
}

func (h *NotificationHandler) GetUnreadCount(c echo.Context) error {
	userID, err := ownerOf(c, c.Param("userId"))
	if err != nil {
		return err
	}
	count, err := h.notifications.UnreadCount(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"count": count})
}

func (h *NotificationHandler) MarkAsRead(c echo.Context) error {
	notificationID, err := paramID(c, "notificationId")
	if err != nil {
		return err
	}
	if err := h.notifications.MarkAsRead(c.Request().Context(), notificationID, middleware.CurrentUser(c)); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true})
}

func (h *NotificationHandler) MarkAllAsRead(c echo.Context) error {
	userID, err := ownerOf(c, c.Param("userId"))
	if err != nil {
		return err
	}
	modified, err := h.notifications.MarkAllAsRead(c.Request().Context(), userID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"success": true, "modified": modified})
}

// RegisterDevice stores an FCM token. Re-registering a known token answers 200 instead of 201.
func (h *NotificationHandler) RegisterDevice(c echo.Context) error {
	var req models.RegisterDeviceRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	userID, err := ownerOf(c, req.UserID)
	if err != nil {
		return err
	}
	added, err := h.notifications.RegisterDevice(c.Request().Context(), userID, req)
	if err != nil {
		return err
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	return c.JSON(status, echo.Map{"registered": added})
}

func (h *NotificationHandler) Subscribe(c echo.Context) error {
	var req models.SubscribeRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	userID, err := ownerOf(c, req.UserID)
	if err != nil {
		return err
	}
	added, err := h.notifications.Subscribe(c.Request().Context(), userID, req.Subscription)
	if err != nil {
		return err
	}
	status := http.StatusOK
	if added {
		status = http.StatusCreated
	}
	return c.JSON(status, echo.Map{"subscribed": added})
}

// Send creates a notification on behalf of another service and fans it out immediately.
func (h *NotificationHandler) Send(c echo.Context) error {
	var req models.SendNotificationRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	n, report, err := h.notifications.SendNotification(c.Request().Context(), req)
	if err != nil {
		return err
	}
	if n == nil {
		return c.JSON(http.StatusOK, echo.Map{
			"notification": nil,
			"successCount": 0,
			"failureCount": 0,
			"delivery":     []delivery.Result{},
		})
	}
	fcm := report.Result(models.ChannelFCM)
	return c.JSON(http.StatusOK, echo.Map{
		"notification": n,
		"successCount": fcm.Succeeded,
		"failureCount": fcm.Failed,
		"delivery":     report.Results,
	})
}

// Deliveries lists the recorded channel attempts of one notification, oldest first.
func (h *NotificationHandler) Deliveries(c echo.Context) error {
	notificationID, err := paramID(c, "notificationId")
	if err != nil {
		return err
	}
	attempts, err := h.ledger.ListAttempts(c.Request().Context(), notificationID.Hex())
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, attempts)
}
