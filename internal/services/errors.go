package services

import (
	"errors"
	"fmt"

	"github.com/sraws/backend/internal/repositories"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// ErrNotFound aliases the repository sentinel so wrapped store errors match it directly.
	ErrNotFound   = repositories.ErrNotFound
	ErrForbidden  = errors.New("forbidden")
	ErrValidation = errors.New("validation failed")
	ErrCooldown   = errors.New("too many requests, slow down")
)

func invalid(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// parseRef parses an optional id; an empty string yields nil.
func parseRef(field, id string) (*primitive.ObjectID, error) {
	if id == "" {
		return nil, nil
	}
	oid, err := repositories.ParseID(id)
	if err != nil {
		return nil, invalid("%s is not a valid id", field)
	}
	return &oid, nil
}
