package handlers

import (
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/labstack/echo/v4"
	"github.com/sraws/backend/internal/repositories"
	"github.com/sraws/backend/internal/services"
	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestErrorHandler(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"validation", fmt.Errorf("%w: title too short", services.ErrValidation), http.StatusBadRequest, "validation failed: title too short"},
		{"invalid id", fmt.Errorf("%w: %q", repositories.ErrInvalidID, "x"), http.StatusBadRequest, `invalid id: "x"`},
		{"forbidden", services.ErrForbidden, http.StatusForbidden, "Forbidden"},
		{"not found", fmt.Errorf("post: %w", services.ErrNotFound), http.StatusNotFound, "post: not found"},
		{"cooldown", services.ErrCooldown, http.StatusTooManyRequests, "too many requests, slow down"},
		{"duplicate", fmt.Errorf("%w: E11000", repositories.ErrDuplicate), http.StatusConflict, "Already exists"},
		{"echo error", echo.NewHTTPError(http.StatusUnauthorized, "Invalid token"), http.StatusUnauthorized, "Invalid token"},
		{"database", errors.New("connection reset by peer"), http.StatusInternalServerError, "Internal server error"},
	}

	handle := ErrorHandler(zap.NewNop())
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := echo.New()
			rec := httptest.NewRecorder()
			c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)

			handle(tt.err, c)

			assert.Equal(t, tt.status, rec.Code)
			assert.JSONEq(t, fmt.Sprintf(`{"error":%q}`, tt.message), rec.Body.String())
		})
	}
}

func TestErrorHandler_SkipsCommittedResponse(t *testing.T) {
	e := echo.New()
	rec := httptest.NewRecorder()
	c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
	_ = c.String(http.StatusOK, "done")

	ErrorHandler(zap.NewNop())(services.ErrForbidden, c)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "done", rec.Body.String())
}
