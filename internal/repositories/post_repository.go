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

// PostRepository defines the interface for post data operations
type PostRepository interface {
	CreatePost(ctx context.Context, post *models.Post) error
	GetPostByID(ctx context.Context, id primitive.ObjectID) (*models.Post, error)
	GetAllPosts(ctx context.Context, skip, limit int64) ([]models.Post, error)
	DeletePost(ctx context.Context, id primitive.ObjectID) error
	// ToggleLike adds userID to the post's likes, or removes it when already present.
	ToggleLike(ctx context.Context, postID, userID primitive.ObjectID) (*models.LikeResult, error)
	IncrementCommentsCount(ctx context.Context, postID primitive.ObjectID, delta int) error
}

// MongoPostRepository implements PostRepository for MongoDB
type MongoPostRepository struct {
	collection *mongo.Collection
}

// NewMongoPostRepository creates a new MongoPostRepository
func NewMongoPostRepository(db *mongo.Database) *MongoPostRepository {
	return &MongoPostRepository{collection: db.Collection(PostsCollection)}
}

// CreatePost creates a new post in MongoDB
func (r *MongoPostRepository) CreatePost(ctx context.Context, post *models.Post) error {
	post.ID = primitive.NewObjectID()
	post.CreatedAt = time.Now()
	if post.Likes == nil {
		post.Likes = []primitive.ObjectID{}
	}
	_, err := r.collection.InsertOne(ctx, post)
	return err
}

// GetPostByID retrieves a post by ID from MongoDB
func (r *MongoPostRepository) GetPostByID(ctx context.Context, id primitive.ObjectID) (*models.Post, error) {
	var post models.Post
	err := r.collection.FindOne(ctx, bson.M{"_id": id}).Decode(&post)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &post, nil
}

// GetAllPosts retrieves posts, newest first
func (r *MongoPostRepository) GetAllPosts(ctx context.Context, skip, limit int64) ([]models.Post, error) {
	posts := []models.Post{}
	findOptions := options.Find().SetSkip(skip).SetLimit(limit).SetSort(bson.D{{Key: "createdAt", Value: -1}})
	cursor, err := r.collection.Find(ctx, bson.D{}, findOptions)
	if err != nil {
		return nil, err
	}
	defer cursor.Close(ctx)

	if err = cursor.All(ctx, &posts); err != nil {
		return nil, err
	}
	return posts, nil
}

// DeletePost deletes a post by ID from MongoDB
func (r *MongoPostRepository) DeletePost(ctx context.Context, id primitive.ObjectID) error {
	res, err := r.collection.DeleteOne(ctx, bson.M{"_id": id})
	if err != nil {
		return err
	}
	if res.DeletedCount == 0 {
		return ErrNotFound
	}
	return nil
}

// ToggleLike flips the like with two conditional updates so the likes array and likesCount never
// disagree. A concurrent toggle by the same user makes both conditions miss; the flip is retried once.
func (r *MongoPostRepository) ToggleLike(ctx context.Context, postID, userID primitive.ObjectID) (*models.LikeResult, error) {
	after := options.FindOneAndUpdate().SetReturnDocument(options.After).SetProjection(bson.M{"likesCount": 1})

	for attempt := 0; attempt < 2; attempt++ {
		var post models.Post
		err := r.collection.FindOneAndUpdate(ctx,
			bson.M{"_id": postID, "likes": bson.M{"$ne": userID}},
			bson.M{"$push": bson.M{"likes": userID}, "$inc": bson.M{"likesCount": 1}},
			after,
		).Decode(&post)
		if err == nil {
			return &models.LikeResult{PostID: postID, Liked: true, LikesCount: post.LikesCount}, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, err
		}

		err = r.collection.FindOneAndUpdate(ctx,
			bson.M{"_id": postID, "likes": userID},
			bson.M{"$pull": bson.M{"likes": userID}, "$inc": bson.M{"likesCount": -1}},
			after,
		).Decode(&post)
		if err == nil {
			return &models.LikeResult{PostID: postID, Liked: false, LikesCount: post.LikesCount}, nil
		}
		if !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, err
		}
	}

	if _, err := r.GetPostByID(ctx, postID); err != nil {
		return nil, err
	}
	return nil, errors.New("like toggle lost a concurrent update, retry")
}

// IncrementCommentsCount adjusts the comments count of a post
func (r *MongoPostRepository) IncrementCommentsCount(ctx context.Context, postID primitive.ObjectID, delta int) error {
	_, err := r.collection.UpdateOne(ctx, bson.M{"_id": postID}, bson.M{"$inc": bson.M{"commentsCount": delta}})
	return err
}
