package services

import (
	"context"
	"fmt"
	"time"

	"github.com/sraws/backend/internal/models"
	"github.com/sraws/backend/internal/repositories"
	"github.com/sraws/backend/internal/websocket"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

// Cooldown throttles repeated actions by the same user.
type Cooldown interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (bool, error)
}

// Emitter pushes a socket event to a user's live connections.
type Emitter interface {
	Emit(userID, event string, payload interface{}) int
}

// Waker is told that new outbox effects were committed.
type Waker interface {
	Wake()
}

// ActionConfig holds the per-user cooldowns of write actions.
type ActionConfig struct {
	PostCooldown    time.Duration
	CommentCooldown time.Duration
}

// ActionRepos groups the stores the action service writes to.
type ActionRepos struct {
	Tx       repositories.TxRunner
	Users    repositories.UserRepository
	Posts    repositories.PostRepository
	Comments repositories.CommentRepository
	Messages repositories.MessageRepository
	Outbox   repositories.OutboxRepository
}

// ActionService performs user actions. Each primary write is committed together with an outbox
// effect carrying the points change and the notification it owes.
type ActionService struct {
	repos    ActionRepos
	cooldown Cooldown
	sockets  Emitter
	waker    Waker
	cfg      ActionConfig
	log      *zap.Logger
}

func NewActionService(repos ActionRepos, cooldown Cooldown, sockets Emitter, waker Waker, cfg ActionConfig, log *zap.Logger) *ActionService {
	return &ActionService{
		repos:    repos,
		cooldown: cooldown,
		sockets:  sockets,
		waker:    waker,
		cfg:      cfg,
		log:      log,
	}
}

func (s *ActionService) throttle(ctx context.Context, action string, actor primitive.ObjectID, ttl time.Duration) error {
	if s.cooldown == nil {
		return nil
	}
	ok, err := s.cooldown.Acquire(ctx, action+":"+actor.Hex(), ttl)
	if err != nil {
		// a Redis outage must not block posting
		s.log.Warn("cooldown check failed", zap.String("action", action), zap.Error(err))
		return nil
	}
	if !ok {
		return ErrCooldown
	}
	return nil
}

// commit runs write and enqueues effect in the same transaction.
func (s *ActionService) commit(ctx context.Context, write func(ctx context.Context) (*models.Effect, error)) error {
	err := s.repos.Tx.WithTransaction(ctx, func(ctx context.Context) error {
		effect, err := write(ctx)
		if err != nil {
			return err
		}
		if effect == nil {
			return nil
		}
		if err := s.repos.Outbox.Insert(ctx, effect); err != nil {
			return fmt.Errorf("enqueue effect: %w", err)
		}
		return nil
	})
	if err == nil && s.waker != nil {
		s.waker.Wake()
	}
	return err
}

func pointsEffect(kind string, actor primitive.ObjectID, delta int) *models.Effect {
	return &models.Effect{Kind: kind, Actor: actor, PointsUser: &actor, PointsDelta: delta}
}

func (s *ActionService) CreatePost(ctx context.Context, actor primitive.ObjectID, req models.CreatePostRequest) (*models.Post, error) {
	if err := s.throttle(ctx, "post", actor, s.cfg.PostCooldown); err != nil {
		return nil, err
	}

	post := &models.Post{Author: actor, Title: req.Title, Content: req.Content}
	err := s.commit(ctx, func(ctx context.Context) (*models.Effect, error) {
		if err := s.repos.Posts.CreatePost(ctx, post); err != nil {
			return nil, fmt.Errorf("create post: %w", err)
		}
		return pointsEffect(models.EffectPostCreated, actor, models.PointsPost), nil
	})
	if err != nil {
		return nil, err
	}
	return post, nil
}

func (s *ActionService) GetPost(ctx context.Context, postID primitive.ObjectID) (*models.Post, error) {
	post, err := s.repos.Posts.GetPostByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}
	return post, nil
}

func (s *ActionService) ListPosts(ctx context.Context, skip, limit int64) ([]models.Post, error) {
	return s.repos.Posts.GetAllPosts(ctx, skip, limit)
}

// DeletePost removes an author's post and its comments. Notifications referring to it are kept.
func (s *ActionService) DeletePost(ctx context.Context, actor, postID primitive.ObjectID) error {
	post, err := s.repos.Posts.GetPostByID(ctx, postID)
	if err != nil {
		return fmt.Errorf("post: %w", err)
	}
	if post.Author != actor {
		return fmt.Errorf("delete post: %w", ErrForbidden)
	}

	return s.commit(ctx, func(ctx context.Context) (*models.Effect, error) {
		if err := s.repos.Posts.DeletePost(ctx, postID); err != nil {
			return nil, fmt.Errorf("delete post: %w", err)
		}
		if _, err := s.repos.Comments.DeleteCommentsByPostID(ctx, postID); err != nil {
			return nil, fmt.Errorf("delete post comments: %w", err)
		}
		return pointsEffect(models.EffectPostDeleted, actor, -models.PointsPost), nil
	})
}

// ToggleLike likes the post, or unlikes it when actor already liked it. Only a like notifies the author.
func (s *ActionService) ToggleLike(ctx context.Context, actor, postID primitive.ObjectID) (*models.LikeResult, error) {
	post, err := s.repos.Posts.GetPostByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}

	var result *models.LikeResult
	err = s.commit(ctx, func(ctx context.Context) (*models.Effect, error) {
		res, err := s.repos.Posts.ToggleLike(ctx, postID, actor)
		if err != nil {
			return nil, fmt.Errorf("toggle like: %w", err)
		}
		result = res
		if !res.Liked {
			return pointsEffect(models.EffectPostUnliked, actor, -models.PointsLike), nil
		}
		effect := pointsEffect(models.EffectPostLiked, actor, models.PointsLike)
		effect.Notification = &models.NotificationDraft{
			Type:      models.NotificationLike,
			Sender:    actor,
			Recipient: post.Author,
			Post:      &postID,
		}
		return effect, nil
	})
	if err != nil {
		return nil, err
	}
	return result, nil
}

// CreateComment adds a comment, or a reply when req.ParentCommentID is set. The parent must
// belong to the same post.
func (s *ActionService) CreateComment(ctx context.Context, actor, postID primitive.ObjectID, req models.CreateCommentRequest) (*models.Comment, error) {
	parentID, err := parseRef("parentCommentId", req.ParentCommentID)
	if err != nil {
		return nil, err
	}
	if err := s.throttle(ctx, "comment", actor, s.cfg.CommentCooldown); err != nil {
		return nil, err
	}

	post, err := s.repos.Posts.GetPostByID(ctx, postID)
	if err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}

	draft := &models.NotificationDraft{Type: models.NotificationComment, Sender: actor, Recipient: post.Author, Post: &postID}
	if parentID != nil {
		parent, err := s.repos.Comments.GetCommentByID(ctx, *parentID)
		if err != nil {
			return nil, fmt.Errorf("parent comment: %w", err)
		}
		if parent.Post != postID {
			return nil, invalid("parent comment belongs to another post")
		}
		draft.Type = models.NotificationReply
		draft.Recipient = parent.Author
	}

	comment := &models.Comment{Post: postID, Author: actor, ParentComment: parentID, Content: req.Content}
	err = s.commit(ctx, func(ctx context.Context) (*models.Effect, error) {
		if err := s.repos.Comments.CreateComment(ctx, comment); err != nil {
			return nil, fmt.Errorf("create comment: %w", err)
		}
		if err := s.repos.Posts.IncrementCommentsCount(ctx, postID, 1); err != nil {
			return nil, fmt.Errorf("count comment: %w", err)
		}
		draft.Comment = &comment.ID
		effect := pointsEffect(models.EffectCommentCreated, actor, models.PointsComment)
		effect.Notification = draft
		return effect, nil
	})
	if err != nil {
		return nil, err
	}
	return comment, nil
}

// DeleteComment removes an author's comment together with its replies.
func (s *ActionService) DeleteComment(ctx context.Context, actor, commentID primitive.ObjectID) error {
	comment, err := s.repos.Comments.GetCommentByID(ctx, commentID)
	if err != nil {
		return fmt.Errorf("comment: %w", err)
	}
	if comment.Author != actor {
		return fmt.Errorf("delete comment: %w", ErrForbidden)
	}

	return s.commit(ctx, func(ctx context.Context) (*models.Effect, error) {
		removed, err := s.repos.Comments.DeleteCommentTree(ctx, commentID)
		if err != nil {
			return nil, fmt.Errorf("delete comment: %w", err)
		}
		if removed > 0 {
			if err := s.repos.Posts.IncrementCommentsCount(ctx, comment.Post, -int(removed)); err != nil {
				return nil, fmt.Errorf("count comment: %w", err)
			}
		}
		return pointsEffect(models.EffectCommentDeleted, actor, -models.PointsComment), nil
	})
}

// GetComments returns the post's comments as a tree, oldest first at every level.
func (s *ActionService) GetComments(ctx context.Context, postID primitive.ObjectID) ([]*models.CommentNode, error) {
	if _, err := s.repos.Posts.GetPostByID(ctx, postID); err != nil {
		return nil, fmt.Errorf("post: %w", err)
	}
	comments, err := s.repos.Comments.GetCommentsByPostID(ctx, postID)
	if err != nil {
		return nil, err
	}
	return buildCommentTree(comments), nil
}

func buildCommentTree(comments []models.Comment) []*models.CommentNode {
	nodes := make(map[primitive.ObjectID]*models.CommentNode, len(comments))
	for _, c := range comments {
		nodes[c.ID] = &models.CommentNode{Comment: c, Replies: []*models.CommentNode{}}
	}
	roots := []*models.CommentNode{}
	for _, c := range comments {
		node := nodes[c.ID]
		if c.ParentComment != nil {
			if parent, ok := nodes[*c.ParentComment]; ok {
				parent.Replies = append(parent.Replies, node)
				continue
			}
		}
		roots = append(roots, node)
	}
	return roots
}

// SendMessage stores a direct message, pushes it to the recipient's open sockets and owes a
// message notification that is always delivered.
func (s *ActionService) SendMessage(ctx context.Context, actor primitive.ObjectID, req models.SendMessageRequest) (*models.Message, error) {
	recipient, err := repositories.ParseID(req.RecipientID)
	if err != nil {
		return nil, invalid("recipientId is not a valid id")
	}
	if recipient == actor {
		return nil, invalid("cannot message yourself")
	}
	if _, err := s.repos.Users.GetUserByID(ctx, recipient); err != nil {
		return nil, fmt.Errorf("recipient: %w", err)
	}

	msg := &models.Message{Sender: actor, Recipient: recipient, Content: req.Content}
	err = s.commit(ctx, func(ctx context.Context) (*models.Effect, error) {
		if err := s.repos.Messages.CreateMessage(ctx, msg); err != nil {
			return nil, fmt.Errorf("create message: %w", err)
		}
		return &models.Effect{
			Kind:  models.EffectMessageSent,
			Actor: actor,
			Notification: &models.NotificationDraft{
				Type:      models.NotificationMessage,
				Sender:    actor,
				Recipient: recipient,
				Message:   &msg.ID,
				Deliver:   true,
			},
		}, nil
	})
	if err != nil {
		return nil, err
	}

	if s.sockets != nil {
		s.sockets.Emit(recipient.Hex(), websocket.EventReceiveMessage, *msg)
	}
	return msg, nil
}

// Conversation returns the messages between a and b, oldest first.
func (s *ActionService) Conversation(ctx context.Context, a, b primitive.ObjectID) ([]models.Message, error) {
	return s.repos.Messages.GetConversation(ctx, a, b, 200)
}
