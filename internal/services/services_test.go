package services

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sraws/backend/internal/delivery"
	"github.com/sraws/backend/internal/models"
	"github.com/sraws/backend/internal/repositories/repotest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.uber.org/zap"
)

type recordingDispatcher struct {
	mu    sync.Mutex
	calls []*models.Notification
}

func (d *recordingDispatcher) Dispatch(_ context.Context, n *models.Notification) (*delivery.Report, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.calls = append(d.calls, n)
	return &delivery.Report{NotificationID: n.ID.Hex()}, nil
}

type denyingCooldown struct{ seen map[string]bool }

func (c *denyingCooldown) Acquire(_ context.Context, key string, _ time.Duration) (bool, error) {
	if c.seen[key] {
		return false, nil
	}
	c.seen[key] = true
	return true, nil
}

type captureEmitter struct {
	events   []string
	users    []string
	payloads []interface{}
}

func (e *captureEmitter) Emit(userID, event string, payload interface{}) int {
	e.users = append(e.users, userID)
	e.events = append(e.events, event)
	e.payloads = append(e.payloads, payload)
	return 1
}

type countingWaker struct{ n int }

func (w *countingWaker) Wake() { w.n++ }

func newNotificationService(store *repotest.Store) (*NotificationService, *recordingDispatcher) {
	d := &recordingDispatcher{}
	return NewNotificationService(&repotest.NotificationRepository{S: store}, &repotest.UserRepository{S: store}, d, zap.NewNop()), d
}

func newActionService(store *repotest.Store) (*ActionService, *captureEmitter, *countingWaker) {
	emitter := &captureEmitter{}
	waker := &countingWaker{}
	svc := NewActionService(ActionRepos{
		Tx:       repotest.TxRunner{},
		Users:    &repotest.UserRepository{S: store},
		Posts:    &repotest.PostRepository{S: store},
		Comments: &repotest.CommentRepository{S: store},
		Messages: &repotest.MessageRepository{S: store},
		Outbox:   &repotest.OutboxRepository{S: store},
	}, &denyingCooldown{seen: map[string]bool{}}, emitter, waker, ActionConfig{PostCooldown: time.Minute, CommentCooldown: time.Minute}, zap.NewNop())
	return svc, emitter, waker
}

func effects(store *repotest.Store) []models.Effect {
	var out []models.Effect
	for id := range store.Effects {
		e, _ := store.Effect(id)
		out = append(out, e)
	}
	return out
}

func TestCreateNotification_DedupsByKey(t *testing.T) {
	store := repotest.NewStore()
	alice := store.AddUser("alice", "alice@example.com")
	bob := store.AddUser("bob", "bob@example.com")
	svc, _ := newNotificationService(store)
	post := primitive.NewObjectID()
	draft := models.NotificationDraft{Type: models.NotificationLike, Sender: bob.ID, Recipient: alice.ID, Post: &post}

	first, created, err := svc.CreateNotification(context.Background(), draft)
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, "New like", first.Title)
	assert.Equal(t, "bob liked your post", first.Body)
	assert.False(t, first.Read)

	second, created, err := svc.CreateNotification(context.Background(), draft)
	require.NoError(t, err)
	assert.False(t, created)
	assert.Equal(t, first.ID, second.ID)

	assert.Len(t, store.NotificationsFor(alice.ID), 1)
}

func TestCreateNotification_ConcurrentCallsLeaveOne(t *testing.T) {
	store := repotest.NewStore()
	alice := store.AddUser("alice", "alice@example.com")
	bob := store.AddUser("bob", "bob@example.com")
	svc, _ := newNotificationService(store)
	post := primitive.NewObjectID()

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.CreateNotification(context.Background(), models.NotificationDraft{
				Type: models.NotificationLike, Sender: bob.ID, Recipient: alice.ID, Post: &post,
			})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Len(t, store.NotificationsFor(alice.ID), 1)
}

func TestCreateNotification_SelfIsSkipped(t *testing.T) {
	store := repotest.NewStore()
	alice := store.AddUser("alice", "alice@example.com")
	svc, _ := newNotificationService(store)

	n, created, err := svc.CreateNotification(context.Background(), models.NotificationDraft{
		Type: models.NotificationLike, Sender: alice.ID, Recipient: alice.ID,
	})
	require.NoError(t, err)
	assert.Nil(t, n)
	assert.False(t, created)
	assert.Empty(t, store.NotificationsFor(alice.ID))
}

func TestCreateNotification_RejectsUnknownType(t *testing.T) {
	store := repotest.NewStore()
	svc, _ := newNotificationService(store)

	_, _, err := svc.CreateNotification(context.Background(), models.NotificationDraft{
		Type: "poke", Sender: primitive.NewObjectID(), Recipient: primitive.NewObjectID(),
	})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestMarkAllAsRead_OnlyTouchesRecipient(t *testing.T) {
	store := repotest.NewStore()
	alice := store.AddUser("alice", "alice@example.com")
	bob := store.AddUser("bob", "bob@example.com")
	carol := store.AddUser("carol", "carol@example.com")
	svc, _ := newNotificationService(store)
	ctx := context.Background()

	for _, d := range []models.NotificationDraft{
		{Type: models.NotificationLike, Sender: bob.ID, Recipient: alice.ID},
		{Type: models.NotificationComment, Sender: bob.ID, Recipient: alice.ID},
		{Type: models.NotificationLike, Sender: alice.ID, Recipient: carol.ID},
	} {
		_, _, err := svc.CreateNotification(ctx, d)
		require.NoError(t, err)
	}

	n, err := svc.MarkAllAsRead(ctx, alice.ID)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	for _, notif := range store.NotificationsFor(alice.ID) {
		assert.True(t, notif.Read)
	}
	for _, notif := range store.NotificationsFor(carol.ID) {
		assert.False(t, notif.Read)
	}
}

func TestMarkAsRead_ScopedToCaller(t *testing.T) {
	store := repotest.NewStore()
	alice := store.AddUser("alice", "alice@example.com")
	bob := store.AddUser("bob", "bob@example.com")
	svc, _ := newNotificationService(store)
	ctx := context.Background()

	n, _, err := svc.CreateNotification(ctx, models.NotificationDraft{Type: models.NotificationLike, Sender: bob.ID, Recipient: alice.ID})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.MarkAsRead(ctx, n.ID, bob.ID), ErrNotFound)
	require.NoError(t, svc.MarkAsRead(ctx, n.ID, alice.ID))

	count, err := svc.UnreadCount(ctx, alice.ID)
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestRegisterDevice_Idempotent(t *testing.T) {
	store := repotest.NewStore()
	alice := store.AddUser("alice", "alice@example.com")
	svc, _ := newNotificationService(store)
	ctx := context.Background()
	req := models.RegisterDeviceRequest{UserID: alice.ID.Hex(), Token: "fcm-token", DeviceType: models.DeviceTypeWeb}

	added, err := svc.RegisterDevice(ctx, alice.ID, req)
	require.NoError(t, err)
	assert.True(t, added)

	added, err = svc.RegisterDevice(ctx, alice.ID, req)
	require.NoError(t, err)
	assert.False(t, added)

	assert.Len(t, store.Users[alice.ID].Devices, 1)
}

func TestRegisterDevice_UnknownUser(t *testing.T) {
	store := repotest.NewStore()
	svc, _ := newNotificationService(store)

	_, err := svc.RegisterDevice(context.Background(), primitive.NewObjectID(), models.RegisterDeviceRequest{Token: "t", DeviceType: "web"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSubscribe_DedupsByEndpoint(t *testing.T) {
	store := repotest.NewStore()
	alice := store.AddUser("alice", "alice@example.com")
	svc, _ := newNotificationService(store)
	sub := models.WebPushSubscription{Endpoint: "https://push.example/abc", Keys: models.WebPushKeys{P256dh: "k", Auth: "a"}}

	for i := 0; i < 2; i++ {
		_, err := svc.Subscribe(context.Background(), alice.ID, sub)
		require.NoError(t, err)
	}
	assert.Len(t, store.Users[alice.ID].WebPushSubscriptions, 1)
}

func TestSendNotification_AlwaysDispatches(t *testing.T) {
	store := repotest.NewStore()
	alice := store.AddUser("alice", "alice@example.com")
	bob := store.AddUser("bob", "bob@example.com")
	svc, dispatcher := newNotificationService(store)
	req := models.SendNotificationRequest{Type: "message", SenderID: bob.ID.Hex(), RecipientID: alice.ID.Hex(), Title: "Hi", Body: "there"}

	for i := 0; i < 2; i++ {
		n, report, err := svc.SendNotification(context.Background(), req)
		require.NoError(t, err)
		assert.NotNil(t, report)
		assert.Equal(t, "Hi", n.Title)
	}
	assert.Len(t, dispatcher.calls, 2)
	assert.Len(t, store.NotificationsFor(alice.ID), 1)
}

func TestSendNotification_SelfIsNoop(t *testing.T) {
	store := repotest.NewStore()
	alice := store.AddUser("alice", "alice@example.com")
	svc, dispatcher := newNotificationService(store)

	n, report, err := svc.SendNotification(context.Background(), models.SendNotificationRequest{Type: "like", SenderID: alice.ID.Hex(), RecipientID: alice.ID.Hex()})
	require.NoError(t, err)
	assert.Nil(t, n)
	assert.Nil(t, report)
	assert.Empty(t, dispatcher.calls)
	assert.Empty(t, store.NotificationsFor(alice.ID))
}

func TestSendNotification_Validation(t *testing.T) {
	store := repotest.NewStore()
	alice := store.AddUser("alice", "alice@example.com")
	svc, _ := newNotificationService(store)

	_, _, err := svc.SendNotification(context.Background(), models.SendNotificationRequest{Type: "like", SenderID: "x", RecipientID: alice.ID.Hex()})
	assert.ErrorIs(t, err, ErrValidation)

	_, _, err = svc.SendNotification(context.Background(), models.SendNotificationRequest{Type: "poke", SenderID: alice.ID.Hex(), RecipientID: alice.ID.Hex()})
	assert.ErrorIs(t, err, ErrValidation)

	_, _, err = svc.SendNotification(context.Background(), models.SendNotificationRequest{Type: "like", SenderID: alice.ID.Hex(), RecipientID: primitive.NewObjectID().Hex()})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreatePost_EnqueuesPointsAndHonoursCooldown(t *testing.T) {
	store := repotest.NewStore()
	alice := store.AddUser("alice", "alice@example.com")
	svc, _, waker := newActionService(store)
	ctx := context.Background()

	post, err := svc.CreatePost(ctx, alice.ID, models.CreatePostRequest{Title: "Fake bank SMS", Content: "..."})
	require.NoError(t, err)
	assert.Equal(t, alice.ID, post.Author)
	assert.Equal(t, 1, waker.n)

	effs := effects(store)
	require.Len(t, effs, 1)
	assert.Equal(t, models.EffectPostCreated, effs[0].Kind)
	assert.Equal(t, models.PointsPost, effs[0].PointsDelta)
	assert.Nil(t, effs[0].Notification)

	_, err = svc.CreatePost(ctx, alice.ID, models.CreatePostRequest{Title: "again", Content: "..."})
	assert.ErrorIs(t, err, ErrCooldown)
}

func TestToggleLike_LikeThenUnlike(t *testing.T) {
	store := repotest.NewStore()
	alice := store.AddUser("alice", "alice@example.com")
	bob := store.AddUser("bob", "bob@example.com")
	svc, _, _ := newActionService(store)
	ctx := context.Background()

	post, err := svc.CreatePost(ctx, alice.ID, models.CreatePostRequest{Title: "title", Content: "c"})
	require.NoError(t, err)

	res, err := svc.ToggleLike(ctx, bob.ID, post.ID)
	require.NoError(t, err)
	assert.True(t, res.Liked)
	assert.Equal(t, 1, res.LikesCount)

	res, err = svc.ToggleLike(ctx, bob.ID, post.ID)
	require.NoError(t, err)
	assert.False(t, res.Liked)
	assert.Equal(t, 0, res.LikesCount)

	var liked, unliked *models.Effect
	for _, e := range effects(store) {
		e := e
		switch e.Kind {
		case models.EffectPostLiked:
			liked = &e
		case models.EffectPostUnliked:
			unliked = &e
		}
	}
	require.NotNil(t, liked)
	require.NotNil(t, liked.Notification)
	assert.Equal(t, models.NotificationLike, liked.Notification.Type)
	assert.Equal(t, alice.ID, liked.Notification.Recipient)
	assert.Equal(t, models.PointsLike, liked.PointsDelta)
	require.NotNil(t, unliked)
	assert.Nil(t, unliked.Notification)
	assert.Equal(t, -models.PointsLike, unliked.PointsDelta)
}

func TestToggleLike_MissingPost(t *testing.T) {
	store := repotest.NewStore()
	bob := store.AddUser("bob", "bob@example.com")
	svc, _, _ := newActionService(store)

	_, err := svc.ToggleLike(context.Background(), bob.ID, primitive.NewObjectID())
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Empty(t, store.Effects)
}

func TestCreateComment_ReplyNotifiesParentAuthor(t *testing.T) {
	store := repotest.NewStore()
	alice := store.AddUser("alice", "alice@example.com")
	bob := store.AddUser("bob", "bob@example.com")
	carol := store.AddUser("carol", "carol@example.com")
	svc, _, _ := newActionService(store)
	ctx := context.Background()

	post, err := svc.CreatePost(ctx, alice.ID, models.CreatePostRequest{Title: "title", Content: "c"})
	require.NoError(t, err)
	top, err := svc.CreateComment(ctx, bob.ID, post.ID, models.CreateCommentRequest{Content: "first"})
	require.NoError(t, err)
	reply, err := svc.CreateComment(ctx, carol.ID, post.ID, models.CreateCommentRequest{Content: "re", ParentCommentID: top.ID.Hex()})
	require.NoError(t, err)

	var drafts []*models.NotificationDraft
	for _, e := range effects(store) {
		if e.Kind == models.EffectCommentCreated {
			drafts = append(drafts, e.Notification)
		}
	}
	require.Len(t, drafts, 2)
	for _, d := range drafts {
		switch *d.Comment {
		case top.ID:
			assert.Equal(t, models.NotificationComment, d.Type)
			assert.Equal(t, alice.ID, d.Recipient)
		case reply.ID:
			assert.Equal(t, models.NotificationReply, d.Type)
			assert.Equal(t, bob.ID, d.Recipient)
		default:
			t.Fatalf("unexpected comment in draft")
		}
	}
	assert.Equal(t, 2, store.Posts[post.ID].CommentsCount)

	tree, err := svc.GetComments(ctx, post.ID)
	require.NoError(t, err)
	require.Len(t, tree, 1)
	require.Len(t, tree[0].Replies, 1)
	assert.Equal(t, reply.ID, tree[0].Replies[0].ID)
}

func TestCreateComment_ParentFromOtherPost(t *testing.T) {
	store := repotest.NewStore()
	alice := store.AddUser("alice", "alice@example.com")
	bob := store.AddUser("bob", "bob@example.com")
	svc, _, _ := newActionService(store)
	ctx := context.Background()
	svc.cfg.PostCooldown = 0
	svc.cfg.CommentCooldown = 0
	svc.cooldown = nil

	p1, err := svc.CreatePost(ctx, alice.ID, models.CreatePostRequest{Title: "one", Content: "c"})
	require.NoError(t, err)
	p2, err := svc.CreatePost(ctx, alice.ID, models.CreatePostRequest{Title: "two", Content: "c"})
	require.NoError(t, err)
	c1, err := svc.CreateComment(ctx, bob.ID, p1.ID, models.CreateCommentRequest{Content: "x"})
	require.NoError(t, err)

	_, err = svc.CreateComment(ctx, bob.ID, p2.ID, models.CreateCommentRequest{Content: "y", ParentCommentID: c1.ID.Hex()})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDeleteComment_RemovesRepliesAndChecksAuthor(t *testing.T) {
	store := repotest.NewStore()
	alice := store.AddUser("alice", "alice@example.com")
	bob := store.AddUser("bob", "bob@example.com")
	svc, _, _ := newActionService(store)
	svc.cooldown = nil
	ctx := context.Background()

	post, err := svc.CreatePost(ctx, alice.ID, models.CreatePostRequest{Title: "title", Content: "c"})
	require.NoError(t, err)
	top, err := svc.CreateComment(ctx, bob.ID, post.ID, models.CreateCommentRequest{Content: "top"})
	require.NoError(t, err)
	_, err = svc.CreateComment(ctx, alice.ID, post.ID, models.CreateCommentRequest{Content: "reply", ParentCommentID: top.ID.Hex()})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.DeleteComment(ctx, alice.ID, top.ID), ErrForbidden)
	require.NoError(t, svc.DeleteComment(ctx, bob.ID, top.ID))

	assert.Empty(t, store.Comments)
	assert.Equal(t, 0, store.Posts[post.ID].CommentsCount)
}

func TestDeletePost_AuthorOnly(t *testing.T) {
	store := repotest.NewStore()
	alice := store.AddUser("alice", "alice@example.com")
	bob := store.AddUser("bob", "bob@example.com")
	svc, _, _ := newActionService(store)
	ctx := context.Background()

	post, err := svc.CreatePost(ctx, alice.ID, models.CreatePostRequest{Title: "title", Content: "c"})
	require.NoError(t, err)

	assert.ErrorIs(t, svc.DeletePost(ctx, bob.ID, post.ID), ErrForbidden)
	require.NoError(t, svc.DeletePost(ctx, alice.ID, post.ID))
	_, err = svc.GetPost(ctx, post.ID)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestSendMessage_EmitsAndOwesDeliveredNotification(t *testing.T) {
	store := repotest.NewStore()
	alice := store.AddUser("alice", "alice@example.com")
	bob := store.AddUser("bob", "bob@example.com")
	svc, emitter, _ := newActionService(store)
	ctx := context.Background()

	msg, err := svc.SendMessage(ctx, bob.ID, models.SendMessageRequest{RecipientID: alice.ID.Hex(), Content: "hello"})
	require.NoError(t, err)

	assert.Equal(t, []string{"receive-message"}, emitter.events)
	assert.Equal(t, []string{alice.ID.Hex()}, emitter.users)
	require.Len(t, emitter.payloads, 1)
	emitted, ok := emitter.payloads[0].(models.Message)
	require.True(t, ok, "message is emitted by value")
	assert.Equal(t, msg.ID, emitted.ID)

	effs := effects(store)
	require.Len(t, effs, 1)
	require.NotNil(t, effs[0].Notification)
	assert.True(t, effs[0].Notification.Deliver)
	assert.Equal(t, msg.ID, *effs[0].Notification.Message)
	assert.Nil(t, effs[0].PointsUser)

	conv, err := svc.Conversation(ctx, alice.ID, bob.ID)
	require.NoError(t, err)
	assert.Len(t, conv, 1)

	_, err = svc.SendMessage(ctx, bob.ID, models.SendMessageRequest{RecipientID: bob.ID.Hex(), Content: "me"})
	assert.ErrorIs(t, err, ErrValidation)
}
