package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sraws/backend/internal/middleware"
	"github.com/sraws/backend/internal/models"
	"github.com/sraws/backend/internal/services"
)

type MessageHandler struct {
	actions *services.ActionService
}

func NewMessageHandler(actions *services.ActionService) *MessageHandler {
	return &MessageHandler{actions: actions}
}

func (h *MessageHandler) RegisterMessageRoutes(g *echo.Group) {
	g.POST("/messages", h.SendMessage)
	g.GET("/messages/:userId", h.GetConversation)
}

func (h *MessageHandler) SendMessage(c echo.Context) error {
	var req models.SendMessageRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	msg, err := h.actions.SendMessage(c.Request().Context(), middleware.CurrentUser(c), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, msg)
}

// GetConversation returns the messages exchanged between the caller and :userId, oldest first.
func (h *MessageHandler) GetConversation(c echo.Context) error {
	other, err := paramID(c, "userId")
	if err != nil {
		return err
	}
	messages, err := h.actions.Conversation(c.Request().Context(), middleware.CurrentUser(c), other)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, messages)
}
