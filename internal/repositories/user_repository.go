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

// UserRepository defines the interface for user data operations
type UserRepository interface {
	EnsureIndexes(ctx context.Context) error
	CreateUser(ctx context.Context, user *models.User) error
	GetUserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error)
	GetUserByEmail(ctx context.Context, email string) (*models.User, error)
	GetUserByFirebaseUID(ctx context.Context, firebaseUID string) (*models.User, error)
	// AddDevice appends device unless a device with the same token is registered.
	// It reports whether the device was added.
	AddDevice(ctx context.Context, userID primitive.ObjectID, device models.Device) (bool, error)
	// AddWebPushSubscription appends sub unless its endpoint is already stored.
	AddWebPushSubscription(ctx context.Context, userID primitive.ObjectID, sub models.WebPushSubscription) (bool, error)
	RemoveDevices(ctx context.Context, userID primitive.ObjectID, tokens []string) error
	RemoveWebPushSubscriptions(ctx context.Context, userID primitive.ObjectID, endpoints []string) error
	IncrementPoints(ctx context.Context, userID primitive.ObjectID, delta int) error
	// ForEachDigestRecipient calls fn for every user with an email that has not opted out of digests.
	ForEachDigestRecipient(ctx context.Context, fn func(*models.User) error) error
}

// MongoUserRepository implements UserRepository for MongoDB
type MongoUserRepository struct {
	collection *mongo.Collection
}

func NewMongoUserRepository(db *mongo.Database) *MongoUserRepository {
	return &MongoUserRepository{collection: db.Collection(UsersCollection)}
}

func (r *MongoUserRepository) EnsureIndexes(ctx context.Context) error {
	_, err := r.collection.Indexes().CreateMany(ctx, []mongo.IndexModel{
		{Keys: bson.D{{Key: "email", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "username", Value: 1}}, Options: options.Index().SetUnique(true)},
		{Keys: bson.D{{Key: "firebaseUid", Value: 1}}, Options: options.Index().SetUnique(true).SetSparse(true)},
	})
	return err
}

func (r *MongoUserRepository) CreateUser(ctx context.Context, user *models.User) error {
	user.ID = primitive.NewObjectID()
	user.CreatedAt = time.Now()
	if user.Devices == nil {
		user.Devices = []models.Device{}
	}
	if user.WebPushSubscriptions == nil {
		user.WebPushSubscriptions = []models.WebPushSubscription{}
	}
	_, err := r.collection.InsertOne(ctx, user)
	return translateInsertError(err)
}

func (r *MongoUserRepository) findOne(ctx context.Context, filter bson.M) (*models.User, error) {
	var user models.User
	err := r.collection.FindOne(ctx, filter).Decode(&user)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *MongoUserRepository) GetUserByID(ctx context.Context, id primitive.ObjectID) (*models.User, error) {
	return r.findOne(ctx, bson.M{"_id": id})
}

func (r *MongoUserRepository) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"email": email})
}

func (r *MongoUserRepository) GetUserByFirebaseUID(ctx context.Context, firebaseUID string) (*models.User, error) {
	return r.findOne(ctx, bson.M{"firebaseUid": firebaseUID})
}

// pushUnless pushes value into arrayField when no element has key == keyValue.
// A miss is disambiguated into "already present" or ErrNotFound for the user.
func (r *MongoUserRepository) pushUnless(ctx context.Context, userID primitive.ObjectID, arrayField, key, keyValue string, value interface{}) (bool, error) {
	res, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": userID, arrayField + "." + key: bson.M{"$ne": keyValue}},
		bson.M{"$push": bson.M{arrayField: value}},
	)
	if err != nil {
		return false, err
	}
	if res.MatchedCount > 0 {
		return true, nil
	}
	count, err := r.collection.CountDocuments(ctx, bson.M{"_id": userID})
	if err != nil {
		return false, err
	}
	if count == 0 {
		return false, ErrNotFound
	}
	return false, nil
}

func (r *MongoUserRepository) AddDevice(ctx context.Context, userID primitive.ObjectID, device models.Device) (bool, error) {
	return r.pushUnless(ctx, userID, "devices", "token", device.Token, device)
}

func (r *MongoUserRepository) AddWebPushSubscription(ctx context.Context, userID primitive.ObjectID, sub models.WebPushSubscription) (bool, error) {
	return r.pushUnless(ctx, userID, "webPushSubscriptions", "endpoint", sub.Endpoint, sub)
}

func (r *MongoUserRepository) RemoveDevices(ctx context.Context, userID primitive.ObjectID, tokens []string) error {
	if len(tokens) == 0 {
		return nil
	}
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$pull": bson.M{"devices": bson.M{"token": bson.M{"$in": tokens}}}},
	)
	return err
}

func (r *MongoUserRepository) RemoveWebPushSubscriptions(ctx context.Context, userID primitive.ObjectID, endpoints []string) error {
	if len(endpoints) == 0 {
		return nil
	}
	_, err := r.collection.UpdateOne(ctx,
		bson.M{"_id": userID},
		bson.M{"$pull": bson.M{"webPushSubscriptions": bson.M{"endpoint": bson.M{"$in": endpoints}}}},
	)
	return err
}

func (r *MongoUserRepository) IncrementPoints(ctx context.Context, userID primitive.ObjectID, delta int) error {
	res, err := r.collection.UpdateOne(ctx, bson.M{"_id": userID}, bson.M{"$inc": bson.M{"socialPoints": delta}})
	if err != nil {
		return err
	}
	if res.MatchedCount == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *MongoUserRepository) ForEachDigestRecipient(ctx context.Context, fn func(*models.User) error) error {
	filter := bson.M{
		"email":       bson.M{"$nin": bson.A{"", nil}},
		"emailDigest": bson.M{"$ne": false},
	}
	findOptions := options.Find().SetProjection(bson.M{"password": 0, "devices": 0, "webPushSubscriptions": 0})
	cursor, err := r.collection.Find(ctx, filter, findOptions)
	if err != nil {
		return err
	}
	defer cursor.Close(ctx)

	for cursor.Next(ctx) {
		var user models.User
		if err := cursor.Decode(&user); err != nil {
			return err
		}
		if err := fn(&user); err != nil {
			return err
		}
	}
	return cursor.Err()
}
