package models

import (
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// Comment represents a comment on a post. Replies point at their parent comment.
type Comment struct {
	ID            primitive.ObjectID  `json:"id" bson:"_id,omitempty"`
	Post          primitive.ObjectID  `json:"post" bson:"post"`
	Author        primitive.ObjectID  `json:"author" bson:"author"`
	ParentComment *primitive.ObjectID `json:"parentComment,omitempty" bson:"parentComment,omitempty"`
	Content       string              `json:"content" bson:"content"`
	CreatedAt     time.Time           `json:"createdAt" bson:"createdAt"`
}

// CommentNode is a comment with its replies nested below it.
type CommentNode struct {
	Comment
	Replies []*CommentNode `json:"replies"`
}

// CreateCommentRequest defines the request body for creating a new comment
type CreateCommentRequest struct {
	Content         string `json:"content" validate:"required,min=1,max=2000"`
	ParentCommentID string `json:"parentCommentId,omitempty"`
}
