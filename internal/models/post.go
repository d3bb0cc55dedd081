package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Social point deltas applied to the actor of an action.
const (
	PointsPost    = 5
	PointsLike    = 2
	PointsComment = 3
)

// Post represents a scam report stored in MongoDB
type Post struct {
	ID            primitive.ObjectID   `json:"id" bson:"_id,omitempty"`
	Author        primitive.ObjectID   `json:"author" bson:"author"`
	Title         string               `json:"title" bson:"title"`
	Content       string               `json:"content" bson:"content"`
	Likes         []primitive.ObjectID `json:"likes" bson:"likes"`
	LikesCount    int                  `json:"likesCount" bson:"likesCount"`
	CommentsCount int                  `json:"commentsCount" bson:"commentsCount"`
	CreatedAt     time.Time            `json:"createdAt" bson:"createdAt"`
}

// CreatePostRequest defines the request body for creating a new post
type CreatePostRequest struct {
	Title   string `json:"title" validate:"required,min=3,max=200"`
	Content string `json:"content" validate:"required,min=1,max=10000"`
}

// LikeResult reports the state of a post after a like toggle.
type LikeResult struct {
	PostID     primitive.ObjectID `json:"postId"`
	Liked      bool               `json:"liked"`
	LikesCount int                `json:"likesCount"`
}
