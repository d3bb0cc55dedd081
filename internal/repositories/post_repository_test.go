package repositories

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo/integration/mtest"
)

func findAndModifyResponse(value interface{}) bson.D {
	return bson.D{{Key: "ok", Value: 1}, {Key: "value", Value: value}}
}

func TestPostRepository_ToggleLike(t *testing.T) {
	mt := mtest.New(t, mtest.NewOptions().ClientType(mtest.Mock))
	postID := primitive.NewObjectID()
	userID := primitive.NewObjectID()

	mt.Run("first toggle likes", func(mt *mtest.T) {
		repo := NewMongoPostRepository(mt.DB)
		mt.AddMockResponses(findAndModifyResponse(bson.D{{Key: "_id", Value: postID}, {Key: "likesCount", Value: 1}}))

		res, err := repo.ToggleLike(context.Background(), postID, userID)
		require.NoError(t, err)
		assert.True(t, res.Liked)
		assert.Equal(t, 1, res.LikesCount)
	})

	mt.Run("second toggle unlikes", func(mt *mtest.T) {
		repo := NewMongoPostRepository(mt.DB)
		mt.AddMockResponses(
			findAndModifyResponse(nil),
			findAndModifyResponse(bson.D{{Key: "_id", Value: postID}, {Key: "likesCount", Value: 0}}),
		)

		res, err := repo.ToggleLike(context.Background(), postID, userID)
		require.NoError(t, err)
		assert.False(t, res.Liked)
		assert.Equal(t, 0, res.LikesCount)
	})

	mt.Run("missing post", func(mt *mtest.T) {
		repo := NewMongoPostRepository(mt.DB)
		mt.AddMockResponses(
			findAndModifyResponse(nil),
			findAndModifyResponse(nil),
			findAndModifyResponse(nil),
			findAndModifyResponse(nil),
			mtest.CreateCursorResponse(0, "sraws.posts", mtest.FirstBatch),
		)

		_, err := repo.ToggleLike(context.Background(), postID, userID)
		assert.ErrorIs(t, err, ErrNotFound)
	})
}
