package middleware

import (
	"context"
	"errors"

	"firebase.google.com/go/v4/auth"
	"github.com/sraws/backend/internal/repositories"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// IDTokenVerifier is implemented by *auth.Client.
type IDTokenVerifier interface {
	VerifyIDToken(ctx context.Context, idToken string) (*auth.Token, error)
}

func (a *Authenticator) resolveFirebase(ctx context.Context, idToken string) (primitive.ObjectID, error) {
	token, err := a.firebase.VerifyIDToken(ctx, idToken)
	if err != nil {
		return primitive.NilObjectID, errInvalidToken
	}
	user, err := a.users.GetUserByFirebaseUID(ctx, token.UID)
	if err != nil {
		if !errors.Is(err, repositories.ErrNotFound) {
			a.log.Error("firebase user lookup failed", zap.String("uid", token.UID), zap.Error(err))
		}
		return primitive.NilObjectID, errInvalidToken
	}
	return user.ID, nil
}
