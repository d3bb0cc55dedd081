package websocket

import (
	"net/http"
	"strings"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// TokenResolver maps an access token to the id of the user it was issued to.
type TokenResolver interface {
	ResolveToken(r *http.Request, token string) (string, error)
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// ServeWS authenticates the ?token= query (or a Bearer header) and upgrades the connection.
func ServeWS(hub *Hub, auth TokenResolver) echo.HandlerFunc {
	return func(c echo.Context) error {
		token := c.QueryParam("token")
		if token == "" {
			token = strings.TrimPrefix(c.Request().Header.Get(echo.HeaderAuthorization), "Bearer ")
		}
		if token == "" {
			return echo.NewHTTPError(http.StatusUnauthorized, "authorization token required")
		}

		userID, err := auth.ResolveToken(c.Request(), token)
		if err != nil {
			return echo.NewHTTPError(http.StatusUnauthorized, "invalid token")
		}

		conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
		if err != nil {
			hub.log.Warn("websocket upgrade failed", zap.Error(err))
			return nil
		}

		client := NewClient(hub, conn, userID)
		if !hub.Register(client) {
			conn.Close()
			return nil
		}
		go client.Start()
		return nil
	}
}
