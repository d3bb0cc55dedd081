package handlers

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
)

// Presence reports how many users have a live socket.
type Presence interface {
	OnlineUsers() int
}

// HealthCheck reports liveness together with the number of online users.
func HealthCheck(presence Presence) echo.HandlerFunc {
	return func(c echo.Context) error {
		return c.JSON(http.StatusOK, echo.Map{
			"status":  "healthy",
			"service": "sraws-backend",
			"online":  presence.OnlineUsers(),
			"time":    time.Now().UTC(),
		})
	}
}
