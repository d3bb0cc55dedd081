package middleware

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"firebase.google.com/go/v4/auth"
	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/sraws/backend/internal/models"
	"github.com/sraws/backend/internal/repositories/repotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type stubVerifier struct {
	tokens map[string]string
}

func (v stubVerifier) VerifyIDToken(_ context.Context, idToken string) (*auth.Token, error) {
	uid, ok := v.tokens[idToken]
	if !ok {
		return nil, errors.New("ID token has invalid signature")
	}
	return &auth.Token{UID: uid}, nil
}

func protected(a *Authenticator) *echo.Echo {
	e := echo.New()
	e.GET("/me", func(c echo.Context) error {
		return c.String(http.StatusOK, CurrentUser(c).Hex())
	}, a.RequireUser())
	return e
}

func get(e *echo.Echo, header, value string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/me", nil)
	if header != "" {
		req.Header.Set(header, value)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestRequireUser_AcceptsIssuedToken(t *testing.T) {
	store := repotest.NewStore()
	alice := store.AddUser("alice", "alice@example.com")
	a := NewAuthenticator("secret", &repotest.UserRepository{S: store}, nil, zap.NewNop())
	token, err := a.IssueToken(alice)
	require.NoError(t, err)
	e := protected(a)

	rec := get(e, "x-access-token", token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, alice.ID.Hex(), rec.Body.String())

	rec = get(e, echo.HeaderAuthorization, "Bearer "+token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, alice.ID.Hex(), rec.Body.String())
}

func TestRequireUser_Rejects(t *testing.T) {
	store := repotest.NewStore()
	alice := store.AddUser("alice", "alice@example.com")
	a := NewAuthenticator("secret", &repotest.UserRepository{S: store}, nil, zap.NewNop())
	e := protected(a)

	other := NewAuthenticator("other-secret", &repotest.UserRepository{S: store}, nil, zap.NewNop())
	forged, err := other.IssueToken(alice)
	require.NoError(t, err)

	expired, err := jwt.NewWithClaims(jwt.SigningMethodHS256, &models.JwtCustomClaims{
		UserID: alice.ID.Hex(),
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(-time.Minute)),
		},
	}).SignedString([]byte("secret"))
	require.NoError(t, err)

	tests := []struct {
		name, header, value string
	}{
		{"missing", "", ""},
		{"wrong scheme", echo.HeaderAuthorization, "Basic abc"},
		{"garbage", "x-access-token", "not-a-jwt"},
		{"wrong secret", "x-access-token", forged},
		{"expired", "x-access-token", expired},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, get(e, tt.header, tt.value).Code)
		})
	}
}

func TestRequireUser_FirebaseIDToken(t *testing.T) {
	store := repotest.NewStore()
	users := &repotest.UserRepository{S: store}
	linked := &models.User{Username: "bob", Email: "bob@example.com", FirebaseUID: "fb-bob"}
	require.NoError(t, users.CreateUser(context.Background(), linked))

	verifier := stubVerifier{tokens: map[string]string{"id-bob": "fb-bob", "id-stranger": "fb-unknown"}}
	e := protected(NewAuthenticator("secret", users, verifier, zap.NewNop()))

	rec := get(e, echo.HeaderAuthorization, "Bearer id-bob")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, linked.ID.Hex(), rec.Body.String())

	assert.Equal(t, http.StatusUnauthorized, get(e, echo.HeaderAuthorization, "Bearer id-stranger").Code)
	assert.Equal(t, http.StatusUnauthorized, get(e, echo.HeaderAuthorization, "Bearer id-forged").Code)
}

func TestInternalKey(t *testing.T) {
	handler := func(c echo.Context) error { return c.NoContent(http.StatusNoContent) }

	e := echo.New()
	e.POST("/send", handler, InternalKey("k3y"))
	disabled := echo.New()
	disabled.POST("/send", handler, InternalKey(""))

	call := func(e *echo.Echo, key string) int {
		req := httptest.NewRequest(http.MethodPost, "/send", nil)
		if key != "" {
			req.Header.Set("X-Internal-Key", key)
		}
		rec := httptest.NewRecorder()
		e.ServeHTTP(rec, req)
		return rec.Code
	}

	assert.Equal(t, http.StatusNoContent, call(e, "k3y"))
	assert.Equal(t, http.StatusUnauthorized, call(e, "wrong"))
	assert.Equal(t, http.StatusUnauthorized, call(e, ""))
	assert.Equal(t, http.StatusUnauthorized, call(disabled, ""))
}
