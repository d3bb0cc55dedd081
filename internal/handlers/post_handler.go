package handlers

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/sraws/backend/internal/middleware"
	"github.com/sraws/backend/internal/models"
	"github.com/sraws/backend/internal/services"
)

const (
	defaultPageSize = 10
	maxPageSize     = 50
)

// PostHandler handles HTTP requests related to posts
type PostHandler struct {
	actions *services.ActionService
}

// NewPostHandler creates a new PostHandler
func NewPostHandler(actions *services.ActionService) *PostHandler {
	return &PostHandler{actions: actions}
}

// RegisterPostRoutes registers post-related routes
func (h *PostHandler) RegisterPostRoutes(g *echo.Group) {
	g.POST("/posts", h.CreatePost)
	g.GET("/posts", h.GetPosts)
	g.GET("/posts/:id", h.GetPost)
	g.DELETE("/posts/:id", h.DeletePost)
}

// CreatePost creates a new post
func (h *PostHandler) CreatePost(c echo.Context) error {
	var req models.CreatePostRequest
	if err := bindValid(c, &req); err != nil {
		return err
	}
	post, err := h.actions.CreatePost(c.Request().Context(), middleware.CurrentUser(c), req)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusCreated, post)
}

// GetPost retrieves a post by ID
func (h *PostHandler) GetPost(c echo.Context) error {
	postID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	post, err := h.actions.GetPost(c.Request().Context(), postID)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, post)
}

// GetPosts lists posts, newest first, paged with ?skip= and ?limit=.
func (h *PostHandler) GetPosts(c echo.Context) error {
	skip, _ := strconv.ParseInt(c.QueryParam("skip"), 10, 64)
	limit, _ := strconv.ParseInt(c.QueryParam("limit"), 10, 64)
	if skip < 0 {
		skip = 0
	}
	if limit <= 0 || limit > maxPageSize {
		limit = defaultPageSize
	}
	posts, err := h.actions.ListPosts(c.Request().Context(), skip, limit)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, posts)
}

// DeletePost deletes a post owned by the caller along with its comments
func (h *PostHandler) DeletePost(c echo.Context) error {
	postID, err := paramID(c, "id")
	if err != nil {
		return err
	}
	if err := h.actions.DeletePost(c.Request().Context(), middleware.CurrentUser(c), postID); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, echo.Map{"message": "Post deleted"})
}
