package repositories

import (
	"context"
	"errors"
	"fmt"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
)

var (
	// ErrNotFound is returned when the addressed document does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when an insert violates a unique index.
	ErrDuplicate = errors.New("duplicate")
	// ErrInvalidID is returned for ids that are not 24-character hex ObjectIDs.
	ErrInvalidID = errors.New("invalid id")
)

// Collection names.
const (
	UsersCollection         = "users"
	PostsCollection         = "posts"
	CommentsCollection      = "comments"
	MessagesCollection      = "messages"
	NotificationsCollection = "notifications"
	OutboxCollection        = "outbox"
)

// TxRunner runs fn so that every write made with the ctx it receives commits atomically.
type TxRunner interface {
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
}

// MongoTxRunner runs fn inside a MongoDB multi-document transaction when enabled.
// Transactions need a replica set; with enabled=false fn runs directly and its writes are sequential.
type MongoTxRunner struct {
	client  *mongo.Client
	enabled bool
}

func NewMongoTxRunner(client *mongo.Client, enabled bool) *MongoTxRunner {
	return &MongoTxRunner{client: client, enabled: enabled}
}

func (r *MongoTxRunner) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if !r.enabled {
		return fn(ctx)
	}
	session, err := r.client.StartSession()
	if err != nil {
		return fmt.Errorf("start session: %w", err)
	}
	defer session.EndSession(ctx)

	_, err = session.WithTransaction(ctx, func(sc mongo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})
	return err
}

// ParseID converts a hex string into an ObjectID.
func ParseID(id string) (primitive.ObjectID, error) {
	objID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return primitive.NilObjectID, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	return objID, nil
}

func translateInsertError(err error) error {
	if mongo.IsDuplicateKeyError(err) {
		return fmt.Errorf("%w: %v", ErrDuplicate, err)
	}
	return err
}
