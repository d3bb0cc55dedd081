package handlers

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sraws/backend/internal/middleware"
	"github.com/sraws/backend/internal/models"
	"github.com/sraws/backend/internal/services"
)

// CommentHandler handles HTTP requests related to comments
type CommentHandler struct {
	actions *services.ActionService
}

// NewCommentHandler creates a new CommentHandler
func NewCommentHandler(actions *services.ActionService) *CommentHandler {
	return &CommentHandler{actions: actions}
}

// RegisterCommentRoutes registers comment-related routes
func (h *CommentHandler) RegisterCommentRoutes(g *echo.Group) {
	g.GET("/posts/:id/comments", h.GetComments)
	g.POST("/posts/:id/comments", h.CreateComment)
	g.DELETE("/comments/:id", h.DeleteComment)
}

// GetComments returns the post's comments as a tree of replies.
func (h *CommentHandler) GetComments(c echo.Context) error {
	postID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	tree, err := h.actions.GetComments(c.Request().Context(), postID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, tree)
}

// CreateComment comments on a post, or replies when parentCommentId is set.
func (h *CommentHandler) CreateComment(c echo.Context) error {
	postID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	var req models.CreateCommentRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	comment, err := h.actions.CreateComment(c.Request().Context(), middleware.CurrentUser(c), postID, req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, comment)
}

// DeleteComment deletes the caller's comment and its replies.
func (h *CommentHandler) DeleteComment(c echo.Context) error {
	commentID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := h.actions.DeleteComment(c.Request().Context(), middleware.CurrentUser(c), commentID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Comment deleted"})
}
