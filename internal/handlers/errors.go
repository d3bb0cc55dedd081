package handlers

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/sraws/backend/internal/repositories"
	"github.com/sraws/backend/internal/services"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// ErrorHandler renders every error as {"error": message}. Service sentinels pick the status;
// anything unrecognised is logged and answered with a generic 500.
func ErrorHandler(log *zap.Logger) echo.HTTPErrorHandler {
	return func(err error, c echo.Context) {
		if c.Response().Committed {
			return
		}

		status, message := http.StatusInternalServerError, "Internal server error"
		var he *echo.HTTPError
		switch {
		case errors.As(err, &he):
			status = he.Code
			if m, ok := he.Message.(string); ok {
				message = m
			} else {
				message = http.StatusText(status)
			}
		case errors.Is(err, services.ErrValidation), errors.Is(err, repositories.ErrInvalidID):
			status, message = http.StatusBadRequest, err.Error()
		case errors.Is(err, services.ErrForbidden):
			status, message = http.StatusForbidden, "Forbidden"
		case errors.Is(err, services.ErrNotFound):
			status, message = http.StatusNotFound, err.Error()
		case errors.Is(err, services.ErrCooldown):
			status, message = http.StatusTooManyRequests, err.Error()
		case errors.Is(err, repositories.ErrDuplicate):
			status, message = http.StatusConflict, "Already exists"
		}

		if status >= http.StatusInternalServerError {
			log.Error("request failed",
				zap.String("method", c.Request().Method),
				zap.String("path", c.Path()),
				zap.Error(err),
			)
		}

		if c.Request().Method == http.MethodHead {
			err = c.NoContent(status)
		} else {
			err = c.JSON(status, echo.Map{"error": message})
		}
		if err != nil {
			log.Warn("write error response", zap.Error(err))
		}
	}
}

func paramID(c echo.Context, name string) (primitive.ObjectID, error) {
	return repositories.ParseID(c.Param(name))
}

// bindValid binds the request body into req and runs the echo validator over it.
func bindValid(c echo.Context, req interface{}) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid request payload")
	}
	return c.Validate(req)
}
