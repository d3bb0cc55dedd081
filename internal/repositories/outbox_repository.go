package repositories

import (
	"context"
	"errors"
	"time"

	"github.com/sraws/backend/internal/models"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// OutboxRepository stores effects owed by primary writes.
type OutboxRepository interface {
	EnsureIndexes(ctx context.Context) error
	Insert(ctx context.Context, effect *models.Effect) error
	// ClaimDue leases one due effect until now+lease. It returns ErrNotFound when nothing is due.
	ClaimDue(ctx context.Context, now time.Time, lease time.Duration) (*models.Effect, error)
	Get(ctx context.Context, id primitive.ObjectID) (*models.Effect, error)
	// ClaimPoints sets pointsApplied and reports whether this call was the one that set it.
	ClaimPoints(ctx context.Context, id primitive.ObjectID) (bool, error)
	ReleasePoints(ctx context.Context, id primitive.ObjectID) error
	MarkDone(ctx context.Context, id primitive.ObjectID) error
	MarkRetry(ctx context.Context, id primitive.ObjectID, attempts int, next time.Time, lastErr string, failed bool) error
}

// MongoOutboxRepository implements OutboxRepository for MongoDB
type MongoOutboxRepository struct {
	collection *mongo.Collection
}

func NewMongoOutboxRepository(db *mongo.Database) *MongoOutboxRepository {
	return &MongoOutboxRepository{collection: db.Collection(OutboxCollection)}
}

func (r *MongoOutboxRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys: bson.D{{Key: "status", Value: 1}, {Key: "nextAttemptAt", Value: 1}},
	})
	return err
}

func (r *MongoOutboxRepository) Insert(ctx context.Context, effect *models.Effect) error {
	now := time.Now()
	effect.ID = primitive.NewObjectID()
	effect.Status = models.EffectPending
	effect.CreatedAt = now
	effect.UpdatedAt = now
	if effect.NextAttemptAt.IsZero() {
		effect.NextAttemptAt = now
	}
	_, err := r.collection.InsertOne(ctx, effect)
	return err
}

func dueFilter(now time.Time) bson.M {
	return bson.M{"$or": bson.A{
		bson.M{"status": models.EffectPending, "nextAttemptAt": bson.M{"$lte": now}},
		bson.M{"status": models.EffectProcessing, "leaseUntil": bson.M{"$lt": now}},
	}}
}

func (r *MongoOutboxRepository) ClaimDue(ctx context.Context, now time.Time, lease time.Duration) (*models.Effect, error) {
	update := bson.M{"$set": bson.M{
		"status":     models.EffectProcessing,
		"leaseUntil": now.Add(lease),
		"updatedAt":  now,
	}}
	opts := options.FindOneAndUpdate().
		SetReturnDocument(options.After).
		SetSort(bson.D{{Key: "nextAttemptAt", Value: 1}})

	var effect models.Effect
	err := r.collection.FindOneAndUpdate(ctx, dueFilter(now), update, opts).Decode(&effect)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &effect, nil
}

func (r *MongoOutboxRepository) Get(ctx context.Context, id primitive.ObjectID) (*models.Effect, error) {
	var effect models.Effect
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&effect)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &effect, nil
}

func (r *MongoOutboxRepository) ClaimPoints(ctx context.Context, id primitive.ObjectID) (bool, error) {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "pointsApplied": bson.M{"$ne": true}},
		bson.M{"$set": bson.M{"pointsApplied": true, "updatedAt": time.Now()}},
	)
	if err != nil {
		return false, err
	}
	return res.ModifiedCount == 1, nil
}

func (r *MongoOutboxRepository) ReleasePoints(ctx context.Context, id primitive.ObjectID) error {
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"pointsApplied": false, "updatedAt": time.Now()}})
	return err
}

func (r *MongoOutboxRepository) MarkDone(ctx context.Context, id primitive.ObjectID) error {
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set":   bson.M{"status": models.EffectDone, "updatedAt": time.Now()},
		"$unset": bson.M{"leaseUntil": ""},
	})
	return err
}

// MarkRetry records a failed attempt. The effect goes back to pending at next, or to failed
// when failed is set.
func (r *MongoOutboxRepository) MarkRetry(ctx context.Context, id primitive.ObjectID, attempts int, next time.Time, lastErr string, failed bool) error {
	status := models.EffectPending
	if failed {
		status = models.EffectFailed
	}
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{
		"$set": bson.M{
			"status":        status,
			"attempts":      attempts,
			"nextAttemptAt": next,
			"lastError":     lastErr,
			"updatedAt":     time.Now(),
		},
		"$unset": bson.M{"leaseUntil": ""},
	})
	return err
}
