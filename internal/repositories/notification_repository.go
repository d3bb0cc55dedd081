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

// NotificationRepository defines the interface for notification operations
type NotificationRepository interface {
	EnsureIndexes(ctx context.Context) error
	// Create inserts n. It returns ErrDuplicate when a notification with the same dedup key exists.
	Create(ctx context.Context, n *models.Notification) error
	FindByKey(ctx context.Context, n *models.Notification) (*models.Notification, error)
	FindByRecipient(ctx context.Context, recipient primitive.ObjectID) ([]models.PopulatedNotification, error)
	FindUnreadSince(ctx context.Context, recipient primitive.ObjectID, since time.Time) ([]models.Notification, error)
	UnreadCount(ctx context.Context, recipient primitive.ObjectID) (int64, error)
	MarkAsRead(ctx context.Context, id, recipient primitive.ObjectID) error
	MarkAllAsRead(ctx context.Context, recipient primitive.ObjectID) (int64, error)
	MarkSent(ctx context.Context, id primitive.ObjectID) error
}

// MongoNotificationRepository implements NotificationRepository for MongoDB
type MongoNotificationRepository struct {
	collection *mongo.Collection
}

func NewMongoNotificationRepository(db *mongo.Database) *MongoNotificationRepository {
	return &MongoNotificationRepository{collection: db.Collection(NotificationsCollection)}
}

// EnsureIndexes creates the dedup index and the recipient listing index.
func (r *MongoNotificationRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{
			Keys: bson.D{
				{Key: "type", Value: 1},
				{Key: "sender", Value: 1},
				{Key: "recipient", Value: 1},
				{Key: "post", Value: 1},
				{Key: "comment", Value: 1},
				{Key: "message", Value: 1},
			},
			Options: options.Index().SetUnique(true).SetName("uniq_dedup_key"),
		},
		{
			Keys: bson.D{{Key: "recipient", Value: 1}, {Key: "read", Value: 1}, {Key: "createdAt", Value: -1}},
		},
	})
	return err
}

func (r *MongoNotificationRepository) Create(ctx context.Context, n *models.Notification) error {
	if n.ID.IsZero() {
		n.ID = primitive.NewObjectID()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	_, err := r.collection.InsertOne(ctx, n)
	return translateInsertError(err)
}

func dedupFilter(n *models.Notification) bson.M {
	return bson.M{
		"type":      n.Type,
		"sender":    n.Sender,
		"recipient": n.Recipient,
		"post":      n.Post,
		"comment":   n.Comment,
		"message":   n.Message,
	}
}

// FindByKey returns the stored notification sharing n's dedup key.
func (r *MongoNotificationRepository) FindByKey(ctx context.Context, n *models.Notification) (*models.Notification, error) {
	var existing models.Notification
	err := r.collection.FindOne(ctx, dedupFilter(n)).Decode(&existing)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &existing, nil
}

// lookupOne joins a single referenced document into field, leaving it absent when the target is gone.
func lookupOne(from, field string) []bson.D {
	return []bson.D{
		{{Key: "$lookup", Value: bson.M{
			"from":         from,
			"localField":   field,
			"foreignField": "_id",
			"as":           field,
		}}},
		{{Key: "$unwind", Value: bson.M{
			"path":                       "$" + field,
			"preserveNullAndEmptyArrays": true,
		}}},
	}
}

// FindByRecipient returns the recipient's notifications, newest first, with sender, post, comment
// and message populated.
func (r *MongoNotificationRepository) FindByRecipient(ctx context.Context, recipient primitive.ObjectID) ([]models.PopulatedNotification, error) {
	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"recipient": recipient}}},
		{{Key: "$sort", Value: bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}}},
	}
	pipeline = append(pipeline, lookupOne(UsersCollection, "sender")...)
	pipeline = append(pipeline, lookupOne(PostsCollection, "post")...)
	pipeline = append(pipeline, lookupOne(CommentsCollection, "comment")...)
	pipeline = append(pipeline, lookupOne(MessagesCollection, "message")...)
	pipeline = append(pipeline, bson.D{{Key: "$project", Value: bson.M{
		"sender.password":             0,
		"sender.email":                0,
		"sender.devices":              0,
		"sender.webPushSubscriptions": 0,
	}}})

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	notifications := []models.PopulatedNotification{}
	if err = cursor.All(ctx, &notifications); err != nil {
		return nil, err
	}
	return notifications, nil
}

// FindUnreadSince returns unread notifications created at or after since, newest first.
func (r *MongoNotificationRepository) FindUnreadSince(ctx context.Context, recipient primitive.ObjectID, since time.Time) ([]models.Notification, error) {
	filter := bson.M{
		"recipient": recipient,
		"read":      false,
		"createdAt": bson.M{"$gte": since},
	}
	findOptions := options.Find().SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := r.collection.Find(ctx, filter, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	var notifications []models.Notification
	if err = cursor.All(ctx, &notifications); err != nil {
		return nil, err
	}
	return notifications, nil
}

func (r *MongoNotificationRepository) UnreadCount(ctx context.Context, recipient primitive.ObjectID) (int64, error) {
	return r.collection.CountDocuments(ctx, bson.M{"recipient": recipient, "read": false})
}

// MarkAsRead flips read on one notification owned by recipient.
func (r *MongoNotificationRepository) MarkAsRead(ctx context.Context, id, recipient primitive.ObjectID) error {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": id, "recipient": recipient},
		bson.M{"$set": bson.M{"read": true}},
	)
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoNotificationRepository) MarkAllAsRead(ctx context.Context, recipient primitive.ObjectID) (int64, error) {
	res, err := r.collection.UpdateMany(ctx,
		bson.M{"recipient": recipient, "read": false},
		bson.M{"$set": bson.M{"read": true}},
	)
	if err != nil {
		return 0, err
	}
	return res.ModifiedCount, nil
}

func (r *MongoNotificationRepository) MarkSent(ctx context.Context, id primitive.ObjectID) error {
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": id}, bson.M{"$set": bson.M{"sent": true}})
	return err
}
