package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/sraws/backend/internal/models"
	"github.com/sraws/backend/internal/repositories"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

const (
	userIDKey = "userID"
	tokenTTL  = 72 * time.Hour
)

var errInvalidToken = errors.New("invalid token")

// Authenticator accepts locally issued HS256 tokens and, when a verifier is configured,
// Firebase ID tokens of users linked by firebaseUid.
type Authenticator struct {
	secret   []byte
	users    repositories.UserRepository
	firebase IDTokenVerifier
	log      *zap.Logger
}

// NewAuthenticator builds the authenticator. firebase may be nil.
func NewAuthenticator(secret string, users repositories.UserRepository, firebase IDTokenVerifier, log *zap.Logger) *Authenticator {
	return &Authenticator{secret: []byte(secret), users: users, firebase: firebase, log: log}
}

// IssueToken signs a token for user.
func (a *Authenticator) IssueToken(user *models.User) (string, error) {
	now := time.Now()
	claims := &models.JwtCustomClaims{
		UserID: user.ID.Hex(),
		Email:  user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(now.Add(tokenTTL)),
			IssuedAt:  jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
}

func (a *Authenticator) parseJWT(tokenString string) (primitive.ObjectID, error) {
	claims := &models.JwtCustomClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return a.secret, nil
	})
	if err != nil || !token.Valid {
		return primitive.NilObjectID, errInvalidToken
	}
	return primitive.ObjectIDFromHex(claims.UserID)
}

// Resolve returns the id of the user the token was issued to.
func (a *Authenticator) Resolve(ctx context.Context, token string) (primitive.ObjectID, error) {
	id, err := a.parseJWT(token)
	if err == nil {
		return id, nil
	}
	if a.firebase == nil {
		return primitive.NilObjectID, errInvalidToken
	}
	return a.resolveFirebase(ctx, token)
}

// ResolveToken lets the websocket endpoint authenticate with the same tokens.
func (a *Authenticator) ResolveToken(r *http.Request, token string) (string, error) {
	id, err := a.Resolve(r.Context(), token)
	if err != nil {
		return "", err
	}
	return id.Hex(), nil
}

func tokenFromRequest(c echo.Context) string {
	if t := c.Request().Header.Get("x-access-token"); t != "" {
		return t
	}
	parts := strings.SplitN(c.Request().Header.Get(echo.HeaderAuthorization), " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}

// RequireUser rejects requests without a valid token and stores the caller's id in the context.
func (a *Authenticator) RequireUser() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			token := tokenFromRequest(c)
			if token == "" {
				return echo.NewHTTPError(http.StatusUnauthorized, "Missing access token")
			}
			id, err := a.Resolve(c.Request().Context(), token)
			if err != nil {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid token")
			}
			c.Set(userIDKey, id)
			return next(c)
		}
	}
}

// CurrentUser returns the id stored by RequireUser, or the zero id on unauthenticated routes.
func CurrentUser(c echo.Context) primitive.ObjectID {
	id, _ := c.Get(userIDKey).(primitive.ObjectID)
	return id
}

// InternalKey guards service-to-service routes with a shared X-Internal-Key header.
// An empty key disables the routes entirely.
func InternalKey(key string) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if key == "" || c.Request().Header.Get("X-Internal-Key") != key {
				return echo.NewHTTPError(http.StatusUnauthorized, "Invalid internal key")
			}
			return next(c)
		}
	}
}
