package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sraws/backend/internal/middleware"
	"github.com/sraws/backend/internal/services"
)

// LikeHandler handles like toggles on posts
type LikeHandler struct {
	actions *services.ActionService
}

func NewLikeHandler(actions *services.ActionService) *LikeHandler {
	return &LikeHandler{actions: actions}
}

func (h *LikeHandler) RegisterLikeRoutes(g *echo.Group) {
	g.PUT("/posts/:id/like", h.ToggleLike)
}

// ToggleLike likes the post, or unlikes it when the caller already liked it.
func (h *LikeHandler) ToggleLike(c echo.Context) error {
	postID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	result, err := h.actions.ToggleLike(c.Request().Context(), middleware.CurrentUser(c), postID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, result)
}
